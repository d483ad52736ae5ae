// Package arbiter drives the server-side per-session state machine:
// START -> HELD -> OWNING -> AWAIT_RELEASE -> DONE. One Session is bound
// to exactly one arbiter for its lifetime.
package arbiter

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/shardlock/internal/shardstore"
	"github.com/adred-codev/shardlock/internal/shardwire"
	"github.com/adred-codev/shardlock/internal/telemetry"
)

// DataLossPolicy governs what happens when a holder session disappears
// while AWAIT_RELEASE: whether the successor sees a fatal DataLoss
// status, or a synthesized all-unlocked ShardData.
type DataLossPolicy int

const (
	// PolicyFatal surfaces a DataLoss status to the waiting successor.
	// This is the specification's default behavior.
	PolicyFatal DataLossPolicy = iota
	// PolicyDegrade synthesizes a fresh all-false ShardData instead,
	// trading the data-preservation invariant for availability.
	PolicyDegrade
)

// Notifier receives best-effort ownership-change events. It has no
// bearing on protocol correctness; a nil Notifier is valid and silently
// skips publishing.
type Notifier interface {
	Publish(shardID, reason string)
}

// Options configures an arbiter run.
type Options struct {
	DataLossPolicy DataLossPolicy
	// SimulatedLatency, if non-zero, is applied before sending Acquired
	// and before sending Release, to exercise clients under realistic
	// round-trip delay. Zero disables it.
	SimulatedLatency time.Duration
	// Notify, if set, is told about every acquire, steal and data-loss
	// event after the fact.
	Notify Notifier
}

func notify(n Notifier, shardID, reason string) {
	if n != nil {
		n.Publish(shardID, reason)
	}
}

// Run drives one session to completion: reads the first Acquire frame,
// performs the registry swap, negotiates with any predecessor, hands the
// shard to the client, and — if later swapped out — asks the client to
// release it and forwards the data to the successor. Returns when the
// session reaches DONE or a protocol/transport error ends it early.
func Run(ctx context.Context, sess *shardwire.Session, reg *shardstore.Registry, opts Options, log zerolog.Logger) {
	req, err := sess.ReadRequest()
	if err != nil {
		log.Debug().Err(err).Msg("arbiter: session ended before first frame")
		return
	}
	if req.Acquire == nil {
		writeStatus(sess, shardwire.CodeFailedPrecondition, "first frame must be Acquire", log)
		return
	}

	shardID := req.Acquire.ShardID
	if !reg.Exists(shardID) {
		writeStatus(sess, shardwire.CodeNotFound, "unknown shard: "+shardID, log)
		return
	}

	holder := shardstore.NewHolderHandle()
	result, err := reg.Begin(shardID, holder)
	if err != nil {
		writeStatus(sess, shardwire.CodeNotFound, err.Error(), log)
		return
	}

	acquireStart := time.Now()
	var data shardwire.ShardData
	if result.WasUnlocked {
		data = result.Data
		notify(opts.Notify, shardID, "acquired")
	} else {
		telemetry.ShardSteals.WithLabelValues(shardID).Inc()
		data, err = awaitPredecessor(result.PrevHolder, shardID, reg, opts, log)
		if err != nil {
			se, _ := shardwire.AsStatusError(err)
			writeStatus(sess, se.Code, se.Message, log)
			return
		}
		notify(opts.Notify, shardID, "stolen")
	}
	telemetry.AcquireLatency.Observe(time.Since(acquireStart).Seconds())

	delay(opts.SimulatedLatency)
	if err := sess.WriteResponse(shardwire.LockResponse{Acquired: &shardwire.AcquiredMsg{Data: data}}); err != nil {
		log.Debug().Err(err).Str("shard_id", shardID).Msg("arbiter: failed to send Acquired, abandoning")
		holder.Abandon()
		return
	}

	// OWNING: block until either a successor swaps us out, or the
	// session itself sends a frame or disconnects with no successor
	// ever arriving (the latter case we must still notice so we can
	// reclaim the shard as Unlocked instead of leaking it Locked forever).
	// This read is the only one in flight: AWAIT_RELEASE below takes its
	// result instead of starting a second read.
	var owningReq shardwire.LockRequest
	done := make(chan error, 1)
	go func() {
		var err error
		owningReq, err = sess.ReadRequest()
		done <- err
	}()

	universe, _ := reg.KeyUniverse(shardID)
	select {
	case <-holder.Requested():
		// A successor has swapped holder out of the registry slot;
		// proceed to AWAIT_RELEASE below.
	case err := <-done:
		// A frame or disconnect arrived before any steal was seen. A
		// Released frame (the client's release_all) returns its data to
		// the registry; a disconnect or any other frame reclaims the data
		// handed out in Acquired. If a successor swapped in meanwhile,
		// Reclaim is a no-op and the successor is answered through holder.
		if released := owningReq.Released; err == nil && released != nil && sameKeySet(released.Data, universe) {
			data = released.Data
			holder.Respond(data)
		} else {
			if err != nil {
				log.Debug().Err(err).Str("shard_id", shardID).Msg("arbiter: session ended while OWNING, reclaiming shard")
			} else {
				writeStatus(sess, shardwire.CodeFailedPrecondition, "unexpected frame while owning", log)
			}
			holder.Abandon()
		}
		reg.Reclaim(shardID, holder, data)
		return
	}

	delay(opts.SimulatedLatency)
	if err := sess.WriteResponse(shardwire.LockResponse{Release: &shardwire.ReleaseMsg{ShardID: shardID}}); err != nil {
		log.Debug().Err(err).Str("shard_id", shardID).Msg("arbiter: failed to send Release, abandoning to successor")
		holder.Abandon()
		return
	}

	err = <-done
	req = owningReq
	if err != nil {
		log.Debug().Err(err).Str("shard_id", shardID).Msg("arbiter: session ended in AWAIT_RELEASE, data lost")
		holder.Abandon()
		return
	}
	if req.Released == nil {
		writeStatus(sess, shardwire.CodeFailedPrecondition, "expected Released frame", log)
		holder.Abandon()
		return
	}

	if !sameKeySet(req.Released.Data, universe) {
		writeStatus(sess, shardwire.CodeFailedPrecondition, "released data does not match shard's key set", log)
		holder.Abandon()
		return
	}

	holder.Respond(req.Released.Data)
	// DONE: the specification has nothing further for this session to
	// send; close once the stream ends on its own.
	if _, err := sess.ReadRequest(); err != nil {
		log.Debug().Err(err).Str("shard_id", shardID).Msg("arbiter: session closed")
	} else {
		writeStatus(sess, shardwire.CodeFailedPrecondition, "unexpected frame after Released", log)
	}
}

// awaitPredecessor signals the previous holder and waits for it to
// deliver the shard's data, applying the configured DataLossPolicy if
// the predecessor disappears without responding.
func awaitPredecessor(prev *shardstore.HolderHandle, shardID string, reg *shardstore.Registry, opts Options, log zerolog.Logger) (shardwire.ShardData, error) {
	prev.Request()
	data, ok := <-prev.Response()
	if ok {
		return data, nil
	}

	log.Warn().Str("shard_id", shardID).Msg("arbiter: predecessor abandoned shard data")
	telemetry.DataLossEvents.Inc()
	notify(opts.Notify, shardID, "data_loss")
	switch opts.DataLossPolicy {
	case PolicyDegrade:
		universe, _ := reg.KeyUniverse(shardID)
		return shardwire.ShardData{Locks: zeroedCopy(universe)}, nil
	default:
		return shardwire.ShardData{}, shardwire.NewStatusError(shardwire.CodeDataLoss, "predecessor session ended before releasing "+shardID)
	}
}

func zeroedCopy(universe map[string]bool) map[string]bool {
	out := make(map[string]bool, len(universe))
	for k := range universe {
		out[k] = false
	}
	return out
}

func sameKeySet(data shardwire.ShardData, universe map[string]bool) bool {
	if len(data.Locks) != len(universe) {
		return false
	}
	for k := range data.Locks {
		if _, ok := universe[k]; !ok {
			return false
		}
	}
	return true
}

func delay(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

func writeStatus(sess *shardwire.Session, code shardwire.Code, msg string, log zerolog.Logger) {
	if err := sess.WriteStatus(code, msg); err != nil {
		log.Debug().Err(err).Msg("arbiter: failed to write status frame")
	}
	sess.Close()
}
