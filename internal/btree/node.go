// Package btree implements an ordered string-keyed map: a disk-backed
// B+tree of branching factor t, built over package pager's raw page
// I/O.
//
// This file holds the in-memory node representation, its fixed-slot
// (de)serialization, and the in-node key search. btree.go drives
// search/insert/delete using these primitives, balance.go holds the
// split/borrow/merge rebalancing, and iterator.go walks the leaf chain
// for range scans. Keys live in fixed-width slots rather
// than a variable cell table, since locators here are page ids (u64)
// addressed at a fixed slot offset.
package btree

import (
	"encoding/binary"
	"fmt"

	"seacooler/internal/pager"
	"seacooler/internal/xerr"
)

// Kind distinguishes leaf from internal nodes.
type Kind uint8

const (
	KindLeaf     Kind = 1
	KindInternal Kind = 2
)

const (
	// MaxKey bounds a key's encoded length.
	MaxKey = 50

	headerSize = 1 + 8 + 8 // kind u8, parent u64, key_count u64

	// keySlotSize is the fixed width of one key slot: a 1-byte length
	// prefix followed by MaxKey-1 bytes of key data. A slot must also
	// record how many of its bytes are live, so the length prefix is
	// folded into the slot itself rather than widening it past MaxKey.
	keySlotSize  = MaxKey
	maxKeyBytes  = keySlotSize - 1
	locatorSize  = 8
)

// MaxKeysPerNode is the derived per-node key capacity, sized for the
// worst case (an internal node's trailing extra locator).
const MaxKeysPerNode = (pager.PageSize - headerSize - locatorSize) / (MaxKey + locatorSize)

// DefaultT is the branching factor a builder gets unless it picks its
// own: min keys per non-root node = t-1, max = 2t-1.
const DefaultT = (MaxKeysPerNode - 1) / 2

// Node is the in-memory form of one page of the node file. For a leaf,
// Locators[i] is the value-blob page id for Keys[i]. For an internal
// node, Locators[i] is the subtree holding keys <= Keys[i], with one
// trailing locator for the right-most subtree (len(Locators) ==
// len(Keys)+1).
type Node struct {
	ID       uint64
	Kind     Kind
	Parent   uint64
	Keys     [][]byte
	Locators []uint64
	// NextLeaf chains leaves left-to-right for sequential range scans;
	// zero means "no next leaf". Stored in the u64 slot right after
	// the node's own locator table (len(Keys) locators for a leaf,
	// len(Keys)+1 for an internal node).
	NextLeaf uint64
}

func (n *Node) IsLeaf() bool { return n.Kind == KindLeaf }

func (n *Node) isUnderflowing(t int) bool { return len(n.Keys) < t-1 }

// locatorSlots returns how many locator entries this node's Kind needs
// for the given key count.
func locatorSlots(kind Kind, nkeys int) int {
	if kind == KindLeaf {
		return nkeys
	}
	return nkeys + 1
}

// Serialize encodes the node into exactly pager.PageSize bytes.
func (n *Node) Serialize() ([]byte, error) {
	if len(n.Keys) > MaxKeysPerNode {
		return nil, xerr.New(xerr.Capacity, "btree.node.serialize", fmt.Errorf("%d keys exceeds capacity %d", len(n.Keys), MaxKeysPerNode))
	}
	buf := make([]byte, pager.PageSize)
	buf[0] = byte(n.Kind)
	binary.BigEndian.PutUint64(buf[1:9], n.Parent)
	binary.BigEndian.PutUint64(buf[9:17], uint64(len(n.Keys)))

	off := headerSize
	for _, k := range n.Keys {
		if len(k) > maxKeyBytes {
			return nil, xerr.New(xerr.Capacity, "btree.node.serialize", fmt.Errorf("key of %d bytes exceeds %d", len(k), maxKeyBytes))
		}
		buf[off] = byte(len(k))
		copy(buf[off+1:off+1+len(k)], k)
		off += keySlotSize
	}

	nLocs := locatorSlots(n.Kind, len(n.Keys))
	for i := 0; i < nLocs; i++ {
		binary.BigEndian.PutUint64(buf[off:off+8], n.Locators[i])
		off += 8
	}
	binary.BigEndian.PutUint64(buf[off:off+8], n.NextLeaf)
	return buf, nil
}

// Deserialize decodes a page back into a Node.
func Deserialize(id uint64, data []byte) (*Node, error) {
	if len(data) != pager.PageSize {
		return nil, xerr.New(xerr.Corruption, "btree.node.deserialize", fmt.Errorf("page is %d bytes, want %d", len(data), pager.PageSize))
	}
	kind := Kind(data[0])
	if kind != KindLeaf && kind != KindInternal {
		return nil, xerr.New(xerr.Corruption, "btree.node.deserialize", fmt.Errorf("unknown node kind byte %d", data[0]))
	}
	parent := binary.BigEndian.Uint64(data[1:9])
	nkeys := int(binary.BigEndian.Uint64(data[9:17]))
	if nkeys > MaxKeysPerNode {
		return nil, xerr.New(xerr.Corruption, "btree.node.deserialize", fmt.Errorf("key count %d exceeds capacity", nkeys))
	}

	n := &Node{ID: id, Kind: kind, Parent: parent}
	off := headerSize
	n.Keys = make([][]byte, nkeys)
	for i := 0; i < nkeys; i++ {
		klen := int(data[off])
		if klen > maxKeyBytes {
			return nil, xerr.New(xerr.Corruption, "btree.node.deserialize", fmt.Errorf("key slot %d length %d exceeds %d", i, klen, maxKeyBytes))
		}
		key := make([]byte, klen)
		copy(key, data[off+1:off+1+klen])
		n.Keys[i] = key
		off += keySlotSize
	}

	nLocs := locatorSlots(kind, nkeys)
	n.Locators = make([]uint64, nLocs)
	for i := 0; i < nLocs; i++ {
		n.Locators[i] = binary.BigEndian.Uint64(data[off : off+8])
		off += 8
	}
	n.NextLeaf = binary.BigEndian.Uint64(data[off : off+8])
	return n, nil
}

// search returns the index of the first key >= target (classic
// lower-bound descent), and whether it is an exact match.
func (n *Node) search(target []byte) (idx int, exact bool) {
	lo, hi := 0, len(n.Keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytesLess(n.Keys[mid], target) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(n.Keys) && bytesEqual(n.Keys[lo], target) {
		return lo, true
	}
	return lo, false
}

func bytesLess(a, b []byte) bool {
	return compareBytes(a, b) < 0
}

func bytesEqual(a, b []byte) bool {
	return compareBytes(a, b) == 0
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
