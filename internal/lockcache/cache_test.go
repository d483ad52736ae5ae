package lockcache

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/shardlock/internal/arbiter"
	"github.com/adred-codev/shardlock/internal/guard"
	"github.com/adred-codev/shardlock/internal/shardstore"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := shardstore.New([]shardstore.KeyAssignment{
		{ShardID: "0", Key: "0/0"},
		{ShardID: "0", Key: "0/1"},
		{ShardID: "1", Key: "1/0"},
	})
	srv := arbiter.NewServer(reg, guard.DefaultConfig(), arbiter.Options{}, zerolog.Nop())
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts
}

func wsAddr(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func staticShardID(sid string) ShardIDFunc {
	return func(string) string { return sid }
}

func TestLockThenUnlockLocalFastPath(t *testing.T) {
	ts := newTestServer(t)
	c := New(wsAddr(ts), staticShardID("0"), zerolog.Nop())

	ctx := context.Background()
	if err := c.Lock(ctx, "0/0"); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	// Second key in the same shard should be a local fast path: no new
	// dial, same cached entry.
	if err := c.Lock(ctx, "0/1"); err != nil {
		t.Fatalf("Lock (fast path): %v", err)
	}

	if err := c.Unlock(ctx, "0/0"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := c.Unlock(ctx, "0/1"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	c.ReleaseAll()
}

func TestDoubleUnlockIsAProgrammingError(t *testing.T) {
	ts := newTestServer(t)
	c := New(wsAddr(ts), staticShardID("0"), zerolog.Nop())

	ctx := context.Background()
	if err := c.Lock(ctx, "0/0"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := c.Unlock(ctx, "0/0"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := c.Unlock(ctx, "0/0"); err == nil {
		t.Fatalf("expected error unlocking an already-unlocked key")
	}

	c.ReleaseAll()
}

func TestReleaseAllIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	c := New(wsAddr(ts), staticShardID("1"), zerolog.Nop())

	ctx := context.Background()
	if err := c.Lock(ctx, "1/0"); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	c.ReleaseAll()
	c.ReleaseAll() // must not panic or block on an already-drained map
}

// hasEntry reports whether c's cache currently holds sid, safely racing
// against the Watcher goroutine.
func hasEntry(c *Client, sid string) bool {
	c.mapMu.Lock()
	defer c.mapMu.Unlock()
	_, ok := c.entries[sid]
	return ok
}

func TestStealEvictsPredecessorsWatcherEntry(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	first := New(wsAddr(ts), staticShardID("0"), zerolog.Nop())
	if err := first.Lock(ctx, "0/0"); err != nil {
		t.Fatalf("first.Lock: %v", err)
	}
	if !hasEntry(first, "0") {
		t.Fatalf("expected first to cache shard 0 after Lock")
	}

	second := New(wsAddr(ts), staticShardID("0"), zerolog.Nop())
	if err := second.Lock(ctx, "0/1"); err != nil {
		t.Fatalf("second.Lock: %v", err)
	}
	if !hasEntry(second, "0") {
		t.Fatalf("expected second to cache shard 0 after stealing it")
	}
	second.mapMu.Lock()
	e := second.entries["0"]
	second.mapMu.Unlock()
	e.mu.Lock()
	held := e.data.Locks["0/1"]
	e.mu.Unlock()
	if !held {
		t.Fatalf("expected second's stolen entry to carry the newly-locked key")
	}

	// The steal is driven by first's background Watcher reading the
	// server's Release frame; give it a moment to evict its now-stale
	// entry rather than asserting immediately after second.Lock returns.
	deadline := time.After(2 * time.Second)
	for hasEntry(first, "0") {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for first's Watcher to evict the stolen shard")
		case <-time.After(10 * time.Millisecond):
		}
	}

	second.ReleaseAll()
}
