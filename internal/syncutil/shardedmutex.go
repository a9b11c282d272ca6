// Package syncutil holds the per-aggregate locking used by the order and
// dispute services. Orders and their disputes share a lock key (the order
// ID), so a resolve and a buyer confirmation can never interleave.
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 128

// ShardedMutex maps string keys onto a fixed pool of mutexes. Memory stays
// bounded no matter how many order IDs pass through; two IDs that hash to
// the same shard occasionally serialize against each other, which is
// harmless for short critical sections.
//
// The zero value is ready to use.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function.
//
//	unlock := locks.Lock(orderID)
//	defer unlock()
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
