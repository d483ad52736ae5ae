// Package shardstore implements the server-side Shard Registry: a
// concurrent mapping from shard id to Shard, where Shard is either
// Unlocked(data) or Locked(holder). Membership is fixed at boot from the
// Resource's key enumeration; only per-slot state (unlocked/locked)
// changes thereafter.
package shardstore

import (
	"fmt"
	"sync"

	"github.com/adred-codev/shardlock/internal/shardwire"
)

// HolderHandle is the one-shot hand-off pair a Session Arbiter owns while
// its session is the current holder of a shard. request is closed by the
// successor to notify the holder a steal is in progress; response
// carries the ShardData back to that successor once the holder's client
// has released it.
type HolderHandle struct {
	request  chan struct{}
	response chan shardwire.ShardData

	closeOnce sync.Once
}

// NewHolderHandle creates an unconsumed handle.
func NewHolderHandle() *HolderHandle {
	return &HolderHandle{
		request:  make(chan struct{}),
		response: make(chan shardwire.ShardData, 1),
	}
}

// Requested is the channel the holder's arbiter selects on while OWNING;
// it fires (is closed) exactly once, by the successor that won the swap.
func (h *HolderHandle) Requested() <-chan struct{} {
	return h.request
}

// Request notifies the holder that a successor is waiting. Safe to call
// at most effectively once per handle — the registry only ever hands a
// given handle's ownership to a single successor, so no synchronization
// beyond sync.Once is required.
func (h *HolderHandle) Request() {
	h.closeOnce.Do(func() { close(h.request) })
}

// Respond delivers the ShardData to the waiting successor. Must be
// called at most once.
func (h *HolderHandle) Respond(data shardwire.ShardData) {
	h.response <- data
}

// Response is the channel a successor awaits for the predecessor's data.
// If the predecessor's session terminates without calling Respond, Abandon
// closes the channel, so a receive reports ok == false.
func (h *HolderHandle) Response() <-chan shardwire.ShardData {
	return h.response
}

// Abandon closes the response channel without a value, signalling that
// the holder's session ended before it could deliver the shard's data
// (disconnect while OWNING or AWAIT_RELEASE). Safe to call even if
// Respond already ran — a value Respond delivered and the successor has
// not yet received is left in place — and safe to call more than once.
func (h *HolderHandle) Abandon() {
	h.closeOnce.Do(func() {}) // no-op: request may or may not have fired
	select {
	case data, ok := <-h.response:
		// Respond already happened (rare race where abandon runs just
		// after a late, successful Respond): put the value back for the
		// successor. ok is false if an earlier Abandon closed the channel.
		if ok {
			h.response <- data
		}
	default:
		close(h.response)
	}
}

type state int

const (
	stateUnlocked state = iota
	stateLocked
)

// shard is the tagged registry value: Unlocked(data) or Locked(holder).
type shard struct {
	mu    sync.Mutex
	state state
	data  shardwire.ShardData
	holder *HolderHandle
	keys   map[string]bool // the fixed key universe for this shard
}

// BeginResult describes what Begin observed in the slot before
// installing the caller as the new holder.
type BeginResult struct {
	// WasUnlocked is true when the slot held data directly (no prior
	// session to steal from).
	WasUnlocked bool
	// Data is populated when WasUnlocked is true.
	Data shardwire.ShardData
	// PrevHolder is populated when WasUnlocked is false: the caller must
	// signal it and await its response (or abandonment).
	PrevHolder *HolderHandle
}

// Registry is the concurrent shard_id -> Shard mapping. Membership is
// fixed after New; only the per-slot tagged state changes.
type Registry struct {
	shards map[string]*shard
}

// New builds the registry from a Resource's key enumeration: every key
// starts unlocked (false) and shard membership is exactly the set of
// shard ids that appear.
func New(keys []KeyAssignment) *Registry {
	r := &Registry{shards: make(map[string]*shard)}
	for _, ka := range keys {
		s, ok := r.shards[ka.ShardID]
		if !ok {
			s = &shard{
				state: stateUnlocked,
				data:  shardwire.ShardData{Locks: make(map[string]bool)},
				keys:  make(map[string]bool),
			}
			r.shards[ka.ShardID] = s
		}
		s.data.Locks[ka.Key] = false
		s.keys[ka.Key] = true
	}
	return r
}

// KeyAssignment is one (shard_id, key) pair from Resource.Keys().
type KeyAssignment struct {
	ShardID string
	Key     string
}

// Exists reports whether shardID is part of the registry's fixed
// membership.
func (r *Registry) Exists(shardID string) bool {
	_, ok := r.shards[shardID]
	return ok
}

// KeyUniverse returns the fixed key set for a shard, used to validate a
// Released frame's key set and to synthesize a default ShardData when
// degrading after data loss.
func (r *Registry) KeyUniverse(shardID string) (map[string]bool, bool) {
	s, ok := r.shards[shardID]
	if !ok {
		return nil, false
	}
	return s.keys, true
}

// Begin performs the atomic swap at the heart of the protocol: it reads
// whatever is currently in shardID's slot and installs holder as the new
// Locked value, as a single indivisible critical section guarded by the
// shard's own mutex. Returns an error only if shardID is not part of the
// registry's fixed membership.
func (r *Registry) Begin(shardID string, holder *HolderHandle) (BeginResult, error) {
	s, ok := r.shards[shardID]
	if !ok {
		return BeginResult{}, fmt.Errorf("shardstore: unknown shard %q", shardID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateUnlocked:
		data := s.data
		s.state = stateLocked
		s.holder = holder
		return BeginResult{WasUnlocked: true, Data: data}, nil
	default: // stateLocked
		prev := s.holder
		s.holder = holder
		return BeginResult{WasUnlocked: false, PrevHolder: prev}, nil
	}
}

// Reclaim installs data back into shardID's slot as Unlocked, provided
// holder is still the current holder; if a successor's Begin has already
// replaced holder, Reclaim does nothing. Used when a session leaves
// OWNING without having seen a steal (a disconnect, a stray frame, or a
// Released sent by the client's release_all).
func (r *Registry) Reclaim(shardID string, holder *HolderHandle, data shardwire.ShardData) {
	s, ok := r.shards[shardID]
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.holder != holder {
		// Already stolen by a successor; nothing to reclaim, the
		// successor's Begin already moved the slot on.
		return
	}
	s.state = stateUnlocked
	s.holder = nil
	s.data = data
}

// ShardIDs returns every shard id known to the registry, for metrics and
// health reporting.
func (r *Registry) ShardIDs() []string {
	ids := make([]string, 0, len(r.shards))
	for id := range r.shards {
		ids = append(ids, id)
	}
	return ids
}
