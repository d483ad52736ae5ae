// Package notify publishes ownership-change events to NATS for external
// observability. This is strictly a side channel: the specification's
// Non-goals rule out client-to-client communication and any
// cross-server coordination, so nothing here participates in the
// shard-ownership protocol itself — a publish that is dropped or
// delayed has no effect on correctness.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// OwnershipChanged describes one shard hand-off, published best-effort
// after the fact.
type OwnershipChanged struct {
	ShardID   string    `json:"shard_id"`
	Reason    string    `json:"reason"` // "acquired", "stolen", "data_loss"
	Timestamp time.Time `json:"timestamp"`
}

const subject = "shardlock.ownership_changed"

// Publisher sends OwnershipChanged events to NATS asynchronously. A
// Publisher constructed with an empty URL is a no-op: Publish returns
// immediately without attempting a connection.
type Publisher struct {
	conn   *nats.Conn
	pool   *workerPool
	cancel context.CancelFunc
	log    zerolog.Logger
}

// NewPublisher connects to url (no-op Publisher if url is empty) and
// starts a small bounded worker pool for dispatch.
func NewPublisher(url string, log zerolog.Logger) (*Publisher, error) {
	p := &Publisher{log: log}
	if url == "" {
		return p, nil
	}

	conn, err := nats.Connect(url, nats.Name("shardlock-server"))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.conn = conn
	p.cancel = cancel
	p.pool = newWorkerPool(4, 256, log)
	p.pool.start(ctx)
	return p, nil
}

// Publish enqueues an ownership-change event for asynchronous delivery.
// Never blocks the caller; a full queue or disconnected NATS silently
// drops the event (see workerPool.Dropped for observability).
func (p *Publisher) Publish(shardID, reason string) {
	if p.conn == nil {
		return
	}
	evt := OwnershipChanged{ShardID: shardID, Reason: reason, Timestamp: time.Now()}
	p.pool.submit(func() {
		payload, err := json.Marshal(evt)
		if err != nil {
			p.log.Error().Err(err).Msg("notify: failed to marshal ownership event")
			return
		}
		if err := p.conn.Publish(subject, payload); err != nil {
			p.log.Debug().Err(err).Str("shard_id", shardID).Msg("notify: publish failed")
		}
	})
}

// Close stops the worker pool, waiting for publishes already running to
// finish (events still queued are discarded), and closes the NATS
// connection.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	p.cancel()
	p.pool.stop()
	p.conn.Close()
}
