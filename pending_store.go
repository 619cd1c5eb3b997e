package main

import "sync"

// PendingCall bridges the start of an open-family call to its outcome under
// the split capture strategy. Entries are keyed by the composite thread id
// and exclusively owned by the store between insertion and removal.
type PendingCall struct {
	ID       uint64
	Comm     [CommLen]byte
	Filename []byte
	Flags    int32
	Mode     uint32
}

const pendingStoreShards = 16

// PendingStore is a bounded concurrent map of in-flight calls. Capture points
// on unrelated threads insert and remove in parallel; two operations on the
// same key never race because each key belongs to exactly one logical call.
// There is no eviction: when a shard is full, Insert fails and the start is
// dropped, surfacing later as a silent correlation miss.
type PendingStore struct {
	shards [pendingStoreShards]pendingShard
}

type pendingShard struct {
	mu  sync.Mutex
	cap int
	m   map[uint64]PendingCall
}

// NewPendingStore creates a store holding at most capacity in-flight calls.
func NewPendingStore(capacity int) *PendingStore {
	s := &PendingStore{}
	per := capacity / pendingStoreShards
	if per < 1 {
		per = 1
	}
	for i := range s.shards {
		s.shards[i] = pendingShard{cap: per, m: make(map[uint64]PendingCall, per)}
	}
	return s
}

func (s *PendingStore) shard(id uint64) *pendingShard {
	// Low bits are the thread id, the part that actually varies.
	return &s.shards[id%pendingStoreShards]
}

// Insert records a call start. It reports false when the shard is at
// capacity, in which case the entry is discarded.
func (s *PendingStore) Insert(id uint64, pc PendingCall) bool {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if len(sh.m) >= sh.cap {
		return false
	}
	sh.m[id] = pc
	return true
}

// TakeAndRemove claims the pending call for id, if any. A miss is not an
// error: the start may have been filtered, dropped at capacity, or the
// process may have gone away between observation points.
func (s *PendingStore) TakeAndRemove(id uint64) (PendingCall, bool) {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	pc, ok := sh.m[id]
	if ok {
		delete(sh.m, id)
	}
	return pc, ok
}

// Len returns the number of in-flight entries, counting orphans.
func (s *PendingStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}
