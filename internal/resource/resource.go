// Package resource implements the pluggable external collaborator the
// client drives in its lock/access/unlock loop: something addressable by
// key, partitioned into shards, that can be "perturbed" to the next key
// a realistic client would ask for. The specification treats Resource as
// an external collaborator out of scope for the lock protocol itself;
// this package supplies a concrete, runnable implementation so the
// client binary has something to do.
package resource

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Resource is anything partitioned into shards of individually
// addressable keys.
type Resource interface {
	// Keys enumerates every key this resource owns, paired with the
	// shard id it belongs to. Called once at startup to populate the
	// registry's fixed membership.
	Keys() []KeyAssignment

	// ShardID extracts the shard id a key belongs to.
	ShardID(key string) string

	// PerturbKey returns a plausible "next" key a client would move to
	// after finishing with key, to spread load across shards.
	PerturbKey(key string) string

	// Access simulates doing work against key for dur, returning an
	// error if the underlying resource is unavailable.
	Access(ctx context.Context, key string, dur time.Duration) error
}

// KeyAssignment pairs a key with its owning shard id.
type KeyAssignment struct {
	ShardID string
	Key     string
}

const (
	defaultShardCount = 32
	defaultItemCount  = 256
	poissonLambda     = 4.0
)

// FileSystem is a Resource backed by a directory tree: one
// subdirectory per shard, one empty file per item. Access opens and
// briefly holds the file; it does not take an OS-level advisory lock,
// since the distributed lock under test is the exclusion mechanism
// being exercised, not flock.
type FileSystem struct {
	base       string
	shardCount int
	itemCount  int
	rng        *rand.Rand
}

// NewFileSystem creates (or reuses) base and lays out shardCount
// directories of itemCount files each. Pass 0 for either count to use
// the defaults (32 shards x 256 items).
func NewFileSystem(base string, shardCount, itemCount int) (*FileSystem, error) {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	if itemCount <= 0 {
		itemCount = defaultItemCount
	}

	fs := &FileSystem{
		base:       base,
		shardCount: shardCount,
		itemCount:  itemCount,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	for shardID := 0; shardID < shardCount; shardID++ {
		dir := filepath.Join(base, strconv.Itoa(shardID))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("resource: create shard dir %s: %w", dir, err)
		}
		for itemID := 0; itemID < itemCount; itemID++ {
			path := filepath.Join(dir, strconv.Itoa(itemID))
			f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("resource: create item file %s: %w", path, err)
			}
			f.Close()
		}
	}

	return fs, nil
}

// Keys enumerates every (shard, item) file as a key assignment.
func (f *FileSystem) Keys() []KeyAssignment {
	out := make([]KeyAssignment, 0, f.shardCount*f.itemCount)
	for shardID := 0; shardID < f.shardCount; shardID++ {
		shardIDStr := strconv.Itoa(shardID)
		for itemID := 0; itemID < f.itemCount; itemID++ {
			out = append(out, KeyAssignment{
				ShardID: shardIDStr,
				Key:     formatKey(shardID, itemID),
			})
		}
	}
	return out
}

// ShardID returns the shard component of a "shardID/itemID" key.
func (f *FileSystem) ShardID(key string) string {
	shardID, _, _ := parseKey(key)
	return strconv.Itoa(shardID)
}

// PerturbKey nudges the item id by a Poisson(4)-distributed offset
// (sign chosen uniformly), with a 10% chance of also perturbing the
// shard id by an offset from the same distribution (which may leave it
// unchanged). Mirrors the
// random-walk-with-occasional-shard-jump access pattern a real client
// driving load across the keyspace would exhibit.
func (f *FileSystem) PerturbKey(key string) string {
	shardID, itemID, ok := parseKey(key)
	if !ok {
		return key
	}

	itemID = f.perturb(itemID, f.itemCount)
	if f.rng.Float64() < 0.1 {
		shardID = f.perturb(shardID, f.shardCount)
	}

	return formatKey(shardID, itemID)
}

func (f *FileSystem) perturb(value, max int) int {
	offset := poissonSample(f.rng, poissonLambda)
	if f.rng.Intn(2) == 0 {
		offset = -offset
	}
	return ((value+offset)%max + max) % max
}

// Access opens the key's backing file and holds it for dur, returning
// any filesystem error encountered (a deleted directory, permission
// denial). Respects ctx cancellation during the hold.
func (f *FileSystem) Access(ctx context.Context, key string, dur time.Duration) error {
	path := filepath.Join(f.base, key)
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("resource: open %s: %w", path, err)
	}
	defer file.Close()

	select {
	case <-time.After(dur):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func formatKey(shardID, itemID int) string {
	return fmt.Sprintf("%d/%d", shardID, itemID)
}

func parseKey(key string) (shardID, itemID int, ok bool) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	s, err1 := strconv.Atoi(parts[0])
	i, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return s, i, true
}

// poissonSample draws from a Poisson(lambda) distribution using Knuth's
// algorithm. math/rand is used directly rather than a third-party
// statistics package: none of the retrieval pack's dependencies expose
// one, and the sampler is small enough to keep inline and test exactly.
func poissonSample(rng *rand.Rand, lambda float64) int {
	l := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		k++
		p *= rng.Float64()
		if p <= l {
			return k - 1
		}
	}
}
