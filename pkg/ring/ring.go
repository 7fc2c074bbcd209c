// Package ring implements the stable-hash partitioning that lets a fleet of
// sync/migrator processes divide change-feed rows and containers between
// themselves without coordination, per spec §5 "Concurrency & Resource
// Model": each process owns the partitions whose hash falls in its shard of
// the ring, and that ownership is stable across restarts as long as the
// fleet size doesn't change.
package ring

import (
	"hash/fnv"
)

// Ring assigns string keys to one of N shards by stable hash.
type Ring struct {
	shards int
}

// New builds a Ring of the given shard count. shards must be >= 1.
func New(shards int) *Ring {
	if shards < 1 {
		shards = 1
	}
	return &Ring{shards: shards}
}

// Shards reports the ring's shard count.
func (r *Ring) Shards() int { return r.shards }

// ShardFor returns the shard index, in [0, Shards()), that owns key.
func (r *Ring) ShardFor(key string) int {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int(h.Sum64() % uint64(r.shards))
}

// Owns reports whether shard index owns key. This is the primitive the
// sync engine and migrator call per change-feed row / per container to
// decide whether this process should act on it (spec §5).
func (r *Ring) Owns(shard int, key string) bool {
	return r.ShardFor(key) == shard
}
