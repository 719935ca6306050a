// Package store implements the keyspace and expiration engine: the typed
// entry table, the back-pointer expiry heap, and the keyspace facade that
// keeps the two consistent under every mutation.
package store

import (
	"container/heap"
	"time"
)

// Option configures a Keyspace at construction time, the same
// functional-options pattern used to configure the reactor.
type Option func(*Keyspace)

// WithClock overrides the monotonic microsecond clock the keyspace uses to
// compute and check deadlines. Tests use this to control expiry without
// sleeping.
func WithClock(now func() int64) Option {
	return func(ks *Keyspace) { ks.now = now }
}

// clockBase anchors NowMicros; time.Since reads Go's monotonic clock.
var clockBase = time.Now()

// NowMicros returns the current monotonic time in microseconds, the unit
// deadlines are expressed in.
func NowMicros() int64 {
	return time.Since(clockBase).Microseconds()
}

// Keyspace is the facade coordinating the entry table and the expiry heap
// under one mutation discipline. It is not safe for concurrent use; the
// reactor's dispatcher goroutine is its sole owner.
type Keyspace struct {
	entries map[string]*Entry
	heap    expHeap
	now     func() int64
}

// New returns an empty Keyspace.
func New(opts ...Option) *Keyspace {
	ks := &Keyspace{
		entries: make(map[string]*Entry),
		now:     NowMicros,
	}
	for _, opt := range opts {
		opt(ks)
	}
	return ks
}

// Find returns the entry for key, or (nil, false) if absent. It does not
// check or apply expiry; a key's TTL is only enforced by SweepExpired, so
// a key past its deadline but not yet swept is still found here.
func (ks *Keyspace) Find(key string) (*Entry, bool) {
	e, ok := ks.entries[key]
	return e, ok
}

// Create inserts a new entry for key or replaces an existing one,
// returning the live entry. A replaced entry's heap slot, if any, is
// removed from the heap first so stale TTLs never survive a SET/ZADD onto
// an existing key.
func (ks *Keyspace) Create(key string, value Value) *Entry {
	if old, ok := ks.entries[key]; ok {
		ks.removeFromHeap(old)
	}

	e := &Entry{Key: key, Value: value, HeapSlot: -1}
	ks.entries[key] = e
	return e
}

// Delete removes key from the keyspace, including its heap slot if any. It
// reports whether the key was present.
func (ks *Keyspace) Delete(key string) bool {
	e, ok := ks.entries[key]
	if !ok {
		return false
	}
	ks.removeFromHeap(e)
	delete(ks.entries, key)
	return true
}

// ClearAll empties the table and the heap, implementing FLUSHALL.
func (ks *Keyspace) ClearAll() {
	ks.entries = make(map[string]*Entry)
	ks.heap = ks.heap[:0]
}

// Size reports the number of live keys.
func (ks *Keyspace) Size() int {
	return len(ks.entries)
}

// Keys returns every key currently in the keyspace, in unspecified order.
func (ks *Keyspace) Keys() []string {
	keys := make([]string, 0, len(ks.entries))
	for k := range ks.entries {
		keys = append(keys, k)
	}
	return keys
}

// SetTTL implements PEXPIRE's policy: a non-positive ttlMs deletes the
// entry outright; otherwise the entry's deadline is (re)computed from the
// keyspace's clock and the heap slot is inserted or updated in place.
func (ks *Keyspace) SetTTL(e *Entry, ttlMs int64) {
	if ttlMs <= 0 {
		ks.Delete(e.Key)
		return
	}

	e.Deadline = ks.now() + ttlMs*1000
	if e.HeapSlot < 0 {
		heap.Push(&ks.heap, e)
	} else {
		heap.Fix(&ks.heap, e.HeapSlot)
	}
}

// GetTTL returns the remaining TTL in milliseconds, or -1 if e has no
// TTL. The "-2 key missing" case is the caller's responsibility, since
// GetTTL only ever sees a live entry.
func (ks *Keyspace) GetTTL(e *Entry) int64 {
	if e.HeapSlot < 0 {
		return -1
	}
	remaining := (e.Deadline - ks.now()) / 1000
	if remaining <= 0 {
		return -1
	}
	return remaining
}

// SweepExpired deletes every entry whose deadline is at or before now,
// popping them off the heap root first, and reports how many were
// removed.
func (ks *Keyspace) SweepExpired(now int64) int {
	count := 0
	for len(ks.heap) > 0 && ks.heap[0].Deadline <= now {
		e := heap.Pop(&ks.heap).(*Entry)
		delete(ks.entries, e.Key)
		count++
	}
	return count
}

// NextDeadline returns the soonest expiry deadline in the heap and
// whether one exists.
func (ks *Keyspace) NextDeadline() (int64, bool) {
	if len(ks.heap) == 0 {
		return 0, false
	}
	return ks.heap[0].Deadline, true
}

func (ks *Keyspace) removeFromHeap(e *Entry) {
	if e.HeapSlot < 0 {
		return
	}
	heap.Remove(&ks.heap, e.HeapSlot)
}
