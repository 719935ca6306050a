// Package zset implements the sorted-set structure backing the ZADD/
// ZREM/ZSCORE/ZCARD commands: a member→score hash index paired with a
// (score, member)-ordered index so that membership, score lookup, and
// future range queries are all available without rebuilding either index
// from the other.
package zset

import "github.com/tidwall/btree"

// Node holds one member's score. Its identity is stable across score
// updates: UpdateScore mutates the same *Node rather than replacing it, so
// any caller holding a Node from Lookup keeps seeing the live score.
type Node struct {
	Member string
	Score  float64
}

// AddResult reports whether Add inserted a new member or only updated the
// score of one that already existed.
type AddResult int

const (
	Added AddResult = iota
	Updated
)

// ZSet is a sorted set of (member, score) pairs. The zero value is not
// usable; construct with New.
type ZSet struct {
	members map[string]*Node
	order   *btree.BTreeG[*Node]
}

func less(a, b *Node) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Member < b.Member
}

// New returns an empty ZSet.
func New() *ZSet {
	return &ZSet{
		members: make(map[string]*Node),
		order:   btree.NewBTreeG(less),
	}
}

// Add inserts member with score if absent, or updates the score of an
// existing member. The node's identity is preserved across updates.
func (z *ZSet) Add(member string, score float64) AddResult {
	if n, ok := z.members[member]; ok {
		z.reorder(n, score)
		return Updated
	}

	n := &Node{Member: member, Score: score}
	z.members[member] = n
	z.order.Set(n)
	return Added
}

// Remove deletes member if present and reports whether it was.
func (z *ZSet) Remove(member string) bool {
	n, ok := z.members[member]
	if !ok {
		return false
	}
	delete(z.members, member)
	z.order.Delete(n)
	return true
}

// Lookup returns the node for member, or (nil, false) if absent.
func (z *ZSet) Lookup(member string) (*Node, bool) {
	n, ok := z.members[member]
	return n, ok
}

// UpdateScore changes n's score in place, re-keying the order index. n
// must be a node currently owned by z (as returned by Lookup or Add).
func (z *ZSet) UpdateScore(n *Node, newScore float64) {
	z.reorder(n, newScore)
}

// reorder removes n from the order index under its current score before
// mutating it, then reinserts at the new score — the order index must
// never hold two entries for the same member.
func (z *ZSet) reorder(n *Node, newScore float64) {
	z.order.Delete(n)
	n.Score = newScore
	z.order.Set(n)
}

// Query is reserved for future ordered range scans (ZRANGE-style
// commands). The minimal contract the command dispatcher relies on today
// is membership: it returns the node iff member is present, regardless of
// the score/offset hints.
func (z *ZSet) Query(score float64, member string, offset int64) (*Node, bool) {
	return z.Lookup(member)
}

// Len reports the number of members.
func (z *ZSet) Len() int {
	return len(z.members)
}
