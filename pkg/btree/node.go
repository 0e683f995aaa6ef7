package btree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cuemby/ipfscached/pkg/cacheerrors"
	"github.com/cuemby/ipfscached/pkg/hash"
)

// NodeID identifies an entry slot within a Node: either a real Key, or
// the sentinel "+∞" entry that is greater than every key in the same
// node and holds the rightmost child. Every Node carries at most one
// +∞ entry.
type NodeID struct {
	Key string
	Inf bool
}

// Infinity returns the +∞ sentinel NodeID.
func Infinity() NodeID { return NodeID{Inf: true} }

// Less reports whether n sorts strictly before o, with +∞ sorting
// after every real key.
func (n NodeID) Less(o NodeID) bool {
	if n.Inf {
		return false
	}
	if o.Inf {
		return true
	}
	return n.Key < o.Key
}

// Equal reports whether n and o identify the same slot.
func (n NodeID) Equal(o NodeID) bool {
	if n.Inf || o.Inf {
		return n.Inf == o.Inf
	}
	return n.Key == o.Key
}

// String returns the wire-form key: the empty string for +∞, the raw
// key otherwise.
func (n NodeID) String() string {
	if n.Inf {
		return ""
	}
	return n.Key
}

// Entry is the payload of a single NodeID slot. HasValue distinguishes
// a real key-bound entry (HasValue true) from the +∞ sentinel, which
// carries only a child. Child is the hash of the serialized subtree;
// ChildNode is its lazily materialized in-memory form. An entry is
// "dirty" when ChildNode is materialized but Child is empty — store
// must re-serialize it before the parent can be hashed.
type Entry struct {
	Value     string
	HasValue  bool
	Child     hash.Hash
	ChildNode *Node
}

type entryItem struct {
	id    NodeID
	entry *Entry
}

// Node is an ordered mapping from NodeID to Entry. Entries are kept
// sorted by NodeID at all times, with the +∞ entry (if present) last.
type Node struct {
	entries []entryItem
}

// size returns the count of real (non-+∞) entries, the quantity
// MAX_NODE_SIZE bounds.
func (n *Node) size() int {
	if len(n.entries) == 0 {
		return 0
	}
	if n.entries[len(n.entries)-1].id.Inf {
		return len(n.entries) - 1
	}
	return len(n.entries)
}

// isLeaf reports whether no entry of n carries a child — materialized
// or not.
func (n *Node) isLeaf() bool {
	for _, it := range n.entries {
		if it.entry.Child != "" || it.entry.ChildNode != nil {
			return false
		}
	}
	return true
}

// ensureInfEntry appends a +∞ entry if one isn't already present and
// returns it.
func (n *Node) ensureInfEntry() *Entry {
	if len(n.entries) > 0 && n.entries[len(n.entries)-1].id.Inf {
		return n.entries[len(n.entries)-1].entry
	}
	e := &Entry{}
	n.entries = append(n.entries, entryItem{id: Infinity(), entry: e})
	return e
}

// insertEntryAt inserts id/entry at position idx, shifting later
// entries right.
func (n *Node) insertEntryAt(idx int, id NodeID, entry *Entry) {
	n.entries = append(n.entries, entryItem{})
	copy(n.entries[idx+1:], n.entries[idx:len(n.entries)-1])
	n.entries[idx] = entryItem{id: id, entry: entry}
}

// lowerBound returns the index of the first entry whose id is >= key,
// mutating n to append a +∞ placeholder if no entry (including an
// existing +∞) already satisfies that. Used only on the structural
// write path, where a placeholder to descend into is required; reads
// use searchLowerBound instead.
func (n *Node) lowerBound(key string) int {
	target := NodeID{Key: key}
	for i := range n.entries {
		if !n.entries[i].id.Less(target) {
			return i
		}
	}
	n.ensureInfEntry()
	return len(n.entries) - 1
}

// searchLowerBound is the non-mutating read-path equivalent of
// lowerBound: it reports the first entry with id >= key without
// inserting a placeholder when none exists.
func (n *Node) searchLowerBound(key string) (int, bool) {
	target := NodeID{Key: key}
	for i := range n.entries {
		if !n.entries[i].id.Less(target) {
			return i, true
		}
	}
	return 0, false
}

// setLeafEntry inserts or overwrites the (key, value) pair directly;
// leaves never route through lowerBound since they hold no children.
func (n *Node) setLeafEntry(key, value string) {
	target := NodeID{Key: key}
	for i := range n.entries {
		if n.entries[i].id.Equal(target) {
			n.entries[i].entry.Value = value
			n.entries[i].entry.HasValue = true
			return
		}
		if target.Less(n.entries[i].id) {
			n.insertEntryAt(i, target, &Entry{Value: value, HasValue: true})
			return
		}
	}
	n.entries = append(n.entries, entryItem{id: target, entry: &Entry{Value: value, HasValue: true}})
}

// split partitions an over-sized node into left subtree, median, and
// right subtree, returning a new two-entry node: its first entry is
// the median key with Child set to the left half (whose own +∞ entry
// points at the median's former child), and its +∞ entry holds the
// right half. Returns nil if n isn't over maxSize.
func (n *Node) split(maxSize int) *Node {
	if n.size() <= maxSize {
		return nil
	}

	hasInf := len(n.entries) > 0 && n.entries[len(n.entries)-1].id.Inf
	real := n.entries
	var infItem entryItem
	if hasInf {
		real = n.entries[:len(n.entries)-1]
		infItem = n.entries[len(n.entries)-1]
	}

	median := len(real) / 2
	medianItem := real[median]

	left := &Node{}
	left.entries = append(left.entries, real[:median]...)

	right := &Node{}
	if median+1 < len(real) {
		right.entries = append(right.entries, real[median+1:]...)
	}
	if hasInf {
		right.entries = append(right.entries, infItem)
	}

	leftInf := left.ensureInfEntry()
	leftInf.Child = medianItem.entry.Child
	leftInf.ChildNode = medianItem.entry.ChildNode

	newMedian := &Entry{
		Value:     medianItem.entry.Value,
		HasValue:  medianItem.entry.HasValue,
		ChildNode: left,
	}

	newNode := &Node{}
	newNode.entries = append(newNode.entries, entryItem{id: medianItem.id, entry: newMedian})
	newInf := newNode.ensureInfEntry()
	newInf.ChildNode = right

	return newNode
}

// serializedEntry mirrors the on-disk/in-object-store shape of an
// entry: {"value": "...", "child": "..."}, either field omittable.
type serializedEntry struct {
	Value *string `json:"value,omitempty"`
	Child *string `json:"child,omitempty"`
}

// serialize encodes n as a canonical JSON object with keys sorted and
// "" (the +∞ entry) sorting last. Built by hand rather than via
// json.Marshal on a map, because Go maps marshal with keys in
// byte-order (putting "" first), which would produce a different hash
// for an identical tree than this ordering requires.
func (n *Node) serialize() ([]byte, error) {
	ids := make([]NodeID, len(n.entries))
	byID := make(map[NodeID]*Entry, len(n.entries))
	for i, it := range n.entries {
		ids[i] = it.id
		byID[it.id] = it.entry
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range ids {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(id.String())
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')

		e := byID[id]
		se := serializedEntry{}
		if !id.Inf {
			v := e.Value
			se.Value = &v
		}
		if e.Child != "" {
			c := e.Child.String()
			se.Child = &c
		}
		entryJSON, err := json.Marshal(se)
		if err != nil {
			return nil, err
		}
		buf.Write(entryJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// deserializeNode decodes the canonical JSON object back into a Node.
func deserializeNode(data []byte) (*Node, error) {
	var raw map[string]serializedEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("btree: %w: %v", cacheerrors.ErrParsingJSON, err)
	}

	n := &Node{}
	for k, se := range raw {
		id := NodeID{Key: k}
		if k == "" {
			id = Infinity()
		}
		e := &Entry{}
		if se.Value != nil {
			e.Value = *se.Value
			e.HasValue = true
		}
		if se.Child != nil {
			h, err := hash.Parse(*se.Child)
			if err != nil {
				return nil, fmt.Errorf("btree: %w: child %q", cacheerrors.ErrMissingLink, *se.Child)
			}
			e.Child = h
		}
		n.entries = append(n.entries, entryItem{id: id, entry: e})
	}
	sort.Slice(n.entries, func(i, j int) bool { return n.entries[i].id.Less(n.entries[j].id) })
	return n, nil
}
