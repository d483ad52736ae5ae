package shardstore

import (
	"testing"

	"github.com/adred-codev/shardlock/internal/shardwire"
)

func newTestRegistry() *Registry {
	return New([]KeyAssignment{
		{ShardID: "0", Key: "0/0"},
		{ShardID: "0", Key: "0/1"},
		{ShardID: "1", Key: "1/0"},
	})
}

func TestBeginFirstHolderSeesUnlocked(t *testing.T) {
	reg := newTestRegistry()
	holder := NewHolderHandle()

	result, err := reg.Begin("0", holder)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !result.WasUnlocked {
		t.Fatalf("expected first Begin to observe Unlocked")
	}
	if len(result.Data.Locks) != 2 {
		t.Fatalf("expected 2 keys in shard 0, got %d", len(result.Data.Locks))
	}
}

func TestBeginUnknownShard(t *testing.T) {
	reg := newTestRegistry()
	if _, err := reg.Begin("nope", NewHolderHandle()); err == nil {
		t.Fatalf("expected error for unknown shard")
	}
}

func TestBeginSecondHolderStealsFromFirst(t *testing.T) {
	reg := newTestRegistry()
	first := NewHolderHandle()
	second := NewHolderHandle()

	result1, err := reg.Begin("0", first)
	if err != nil || !result1.WasUnlocked {
		t.Fatalf("expected first Begin to see Unlocked, got %+v err=%v", result1, err)
	}

	result2, err := reg.Begin("0", second)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if result2.WasUnlocked {
		t.Fatalf("expected second Begin to observe Locked(first)")
	}
	if result2.PrevHolder != first {
		t.Fatalf("expected second Begin's PrevHolder to be the first handle")
	}

	select {
	case <-first.Requested():
		t.Fatalf("expected first.Requested() to not yet be fired until second signals it")
	default:
	}
}

func TestStealChainDeliversDataToSuccessor(t *testing.T) {
	reg := newTestRegistry()
	first := NewHolderHandle()
	second := NewHolderHandle()

	result1, _ := reg.Begin("0", first)
	data := result1.Data
	data.Locks["0/0"] = true // simulate holder locking a key

	result2, _ := reg.Begin("0", second)
	prev := result2.PrevHolder

	prev.Request()
	<-prev.Requested() // idempotent: already closed, must not block or panic
	prev.Respond(data)

	delivered := <-prev.Response()
	if !delivered.Locks["0/0"] {
		t.Fatalf("expected delivered data to carry the held key")
	}
}

func TestAbandonWithoutRespondUnblocksSuccessor(t *testing.T) {
	prev := NewHolderHandle()
	prev.Request()
	prev.Abandon()

	data, ok := <-prev.Response()
	if ok {
		t.Fatalf("expected closed channel, got data=%+v", data)
	}
}

func TestReclaimOnlySucceedsForCurrentHolder(t *testing.T) {
	reg := newTestRegistry()
	first := NewHolderHandle()
	reg.Begin("0", first)

	// A stale handle (never installed) must not be able to reclaim.
	stale := NewHolderHandle()
	reg.Reclaim("0", stale, shardwire.ShardData{Locks: map[string]bool{"0/0": false, "0/1": false}})

	// First is still the holder; a second Begin should still report
	// Locked(first), proving the stale Reclaim was a no-op.
	second := NewHolderHandle()
	result, _ := reg.Begin("0", second)
	if result.WasUnlocked {
		t.Fatalf("stale Reclaim incorrectly unlocked the shard")
	}
	if result.PrevHolder != first {
		t.Fatalf("expected first to still be the holder after a stale Reclaim")
	}
}

func TestKeyUniverseFixedAtBoot(t *testing.T) {
	reg := newTestRegistry()
	universe, ok := reg.KeyUniverse("0")
	if !ok {
		t.Fatalf("expected shard 0 to exist")
	}
	if len(universe) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(universe))
	}
	if _, ok := reg.KeyUniverse("nope"); ok {
		t.Fatalf("expected unknown shard to report !ok")
	}
}
