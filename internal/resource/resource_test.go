package resource

import (
	"context"
	"testing"
	"time"
)

func TestFileSystemKeysCoverAllShards(t *testing.T) {
	fs, err := NewFileSystem(t.TempDir(), 4, 8)
	if err != nil {
		t.Fatalf("NewFileSystem: %v", err)
	}

	keys := fs.Keys()
	if len(keys) != 4*8 {
		t.Fatalf("expected 32 keys, got %d", len(keys))
	}

	shards := make(map[string]int)
	for _, ka := range keys {
		shards[ka.ShardID]++
	}
	if len(shards) != 4 {
		t.Fatalf("expected 4 distinct shards, got %d", len(shards))
	}
	for id, count := range shards {
		if count != 8 {
			t.Fatalf("shard %s has %d keys, want 8", id, count)
		}
	}
}

func TestFileSystemShardID(t *testing.T) {
	fs, err := NewFileSystem(t.TempDir(), 4, 8)
	if err != nil {
		t.Fatalf("NewFileSystem: %v", err)
	}
	if got := fs.ShardID("2/5"); got != "2" {
		t.Fatalf("ShardID(2/5) = %q, want 2", got)
	}
}

func TestFileSystemPerturbKeyStaysInRange(t *testing.T) {
	fs, err := NewFileSystem(t.TempDir(), 4, 8)
	if err != nil {
		t.Fatalf("NewFileSystem: %v", err)
	}

	key := "0/0"
	for i := 0; i < 200; i++ {
		key = fs.PerturbKey(key)
		shardID, itemID, ok := parseKey(key)
		if !ok {
			t.Fatalf("perturbed key %q failed to parse", key)
		}
		if shardID < 0 || shardID >= 4 {
			t.Fatalf("perturbed shard id out of range: %d", shardID)
		}
		if itemID < 0 || itemID >= 8 {
			t.Fatalf("perturbed item id out of range: %d", itemID)
		}
	}
}

func TestFileSystemAccessRespectsContextCancellation(t *testing.T) {
	fs, err := NewFileSystem(t.TempDir(), 1, 1)
	if err != nil {
		t.Fatalf("NewFileSystem: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := fs.Access(ctx, "0/0", time.Second); err == nil {
		t.Fatalf("expected cancellation error")
	}
}
