package store

import "github.com/epokhe/keyserv/internal/zset"

// ValueTag identifies which union member Value currently holds.
type ValueTag int

const (
	TagString ValueTag = iota
	TagZSet
)

func (t ValueTag) String() string {
	switch t {
	case TagString:
		return "string"
	case TagZSet:
		return "zset"
	default:
		return "unknown"
	}
}

// Value is the entry's tagged union: exactly one of Str or ZSet is
// meaningful, selected by Tag.
type Value struct {
	Tag  ValueTag
	Str  string
	ZSet *zset.ZSet
}

// Entry is a keyspace record: a key, its typed value, and the bookkeeping
// the expiry heap needs to keep its back-pointer in sync with the heap's
// backing array. HeapSlot is -1 when the entry has no TTL; otherwise it is
// the entry's current index in the heap.
type Entry struct {
	Key      string
	Value    Value
	Deadline int64 // absolute monotonic microseconds; meaningful iff HeapSlot >= 0
	HeapSlot int
}
