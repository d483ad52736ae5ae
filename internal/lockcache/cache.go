// Package lockcache implements the client side of the protocol: a local
// cache of shard ownership, a background Watcher per cached shard that
// relinquishes ownership on demand, and the Lock/Unlock/ReleaseAll API
// composed over both.
package lockcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/adred-codev/shardlock/internal/shardwire"
	"github.com/adred-codev/shardlock/internal/telemetry"
)

// ShardIDFunc derives a shard id from a key; supplied by the Resource
// implementation the client is driving against.
type ShardIDFunc func(key string) string

// entry is one cached shard: a data slot, shared between the owning
// Client and its Watcher, and the session used to relinquish it.
type entry struct {
	mu   sync.Mutex
	data *shardwire.ShardData // nil once stolen
	sess *shardwire.Session
}

// Client is the owner-local shard cache plus driver API. The map itself
// is single-owner by the specification's design, but the Watcher
// goroutines need to remove entries concurrently with driver calls, so
// the map is guarded by mapMu — a deliberate refinement over a literal
// single-owner reading.
type Client struct {
	addr    string
	shardID ShardIDFunc
	log     zerolog.Logger

	mapMu   sync.Mutex
	entries map[string]*entry
}

// New creates a cache that dials addr, a websocket URL such as
// ws://127.0.0.1:7070/lock, to open new sessions.
func New(addr string, shardID ShardIDFunc, log zerolog.Logger) *Client {
	return &Client{
		addr:    addr,
		shardID: shardID,
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Lock sets key's bit to held, acquiring the owning shard first if it
// isn't already cached.
func (c *Client) Lock(ctx context.Context, key string) error {
	_, err := c.setLocked(ctx, key, true)
	return err
}

// Unlock clears key's bit, asserting that it was previously held — a
// false->false transition indicates a programming error in the caller.
func (c *Client) Unlock(ctx context.Context, key string) error {
	changed, err := c.setLocked(ctx, key, false)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("lockcache: unlock of %q: key was not held", key)
	}
	return nil
}

func (c *Client) setLocked(ctx context.Context, key string, value bool) (changed bool, err error) {
	sid := c.shardID(key)

	for {
		c.mapMu.Lock()
		e, ok := c.entries[sid]
		c.mapMu.Unlock()

		if ok {
			e.mu.Lock()
			if e.data != nil {
				old := e.data.Locks[key]
				e.data.Locks[key] = value
				e.mu.Unlock()
				return old != value, nil
			}
			e.mu.Unlock()
			// Stolen: Watcher already removed (or is removing) the
			// entry; drop our stale reference and fall through to
			// acquire fresh.
			c.mapMu.Lock()
			if c.entries[sid] == e {
				delete(c.entries, sid)
			}
			c.mapMu.Unlock()
			continue
		}

		if err := c.acquire(ctx, sid); err != nil {
			return false, err
		}
		// loop back around: the entry is now populated.
	}
}

// acquire opens a fresh session, performs the Acquire/Acquired
// handshake, installs the cache entry and spawns its Watcher.
func (c *Client) acquire(ctx context.Context, sid string) error {
	conn, _, _, err := ws.Dial(ctx, c.addr)
	if err != nil {
		return fmt.Errorf("lockcache: dial: %w", err)
	}
	sess := shardwire.NewClientSession(conn)

	if err := sess.WriteRequest(shardwire.LockRequest{Acquire: &shardwire.AcquireMsg{ShardID: sid}}); err != nil {
		sess.Close()
		return fmt.Errorf("lockcache: send Acquire: %w", err)
	}

	resp, err := sess.ReadResponse()
	if err != nil {
		sess.Close()
		return fmt.Errorf("lockcache: await Acquired: %w", err)
	}
	if resp.Acquired == nil {
		sess.Close()
		return fmt.Errorf("lockcache: expected Acquired, got something else")
	}

	data := resp.Acquired.Data
	e := &entry{data: &data, sess: sess}

	c.mapMu.Lock()
	c.entries[sid] = e
	c.mapMu.Unlock()

	go c.watch(sid, e)
	return nil
}

// ReleaseAll drains every cached entry, sending Released for each one
// still populated and letting the session end. Idempotent on entries a
// Watcher already emptied.
func (c *Client) ReleaseAll() {
	c.mapMu.Lock()
	drained := c.entries
	c.entries = make(map[string]*entry)
	c.mapMu.Unlock()

	for sid, e := range drained {
		e.mu.Lock()
		data := e.data
		e.data = nil
		sess := e.sess
		e.mu.Unlock()

		if data == nil {
			continue
		}
		if err := sess.WriteRequest(shardwire.LockRequest{Released: &shardwire.ReleasedMsg{Data: *data}}); err != nil {
			c.log.Debug().Err(err).Str("shard_id", sid).Msg("lockcache: release_all: failed to send Released")
		}
		sess.Close()
	}
}

// watch is the Release Watcher: it waits for a server-initiated Release
// for one cached entry and relinquishes the shard when it arrives.
func (c *Client) watch(sid string, e *entry) {
	defer telemetry.RecoverPanic(c.log, "lockcache.watch", map[string]any{"shard_id": sid})

	resp, err := e.sess.ReadResponse()
	if err != nil {
		c.log.Debug().Err(err).Str("shard_id", sid).Msg("lockcache: watcher: session ended")
		return
	}
	if resp.Release == nil {
		c.log.Warn().Str("shard_id", sid).Msg("lockcache: watcher: unexpected frame, closing session")
		e.sess.Close()
		return
	}

	e.mu.Lock()
	data := e.data
	e.data = nil
	e.mu.Unlock()

	if data == nil {
		// release_all raced and won; nothing left to hand back.
		return
	}

	c.mapMu.Lock()
	if c.entries[sid] == e {
		delete(c.entries, sid)
	}
	c.mapMu.Unlock()

	if err := e.sess.WriteRequest(shardwire.LockRequest{Released: &shardwire.ReleasedMsg{Data: *data}}); err != nil {
		c.log.Debug().Err(err).Str("shard_id", sid).Msg("lockcache: watcher: failed to send Released")
		e.sess.Close()
		return
	}

	if _, err := e.sess.ReadResponse(); err != nil {
		if err != shardwire.ErrClosed {
			c.log.Warn().Err(err).Str("shard_id", sid).Msg("lockcache: watcher: protocol violation after Released")
		}
	} else {
		c.log.Warn().Str("shard_id", sid).Msg("lockcache: watcher: protocol violation after Released")
	}
	e.sess.Close()
}
