package btree

// Iterator walks the leaf chain left-to-right for a sequential range
// scan; this is the only scan shape offered. Usage mirrors
// bufio.Scanner:
//
//	it, err := tree.Range(lo, hi)
//	for it.Next() {
//	    k, v := it.Key(), it.Value()
//	}
//	if it.Err() != nil { ... }
type Iterator struct {
	tr    *Tree
	hi    []byte
	hasHi bool

	leaf *Node
	pos  int

	started bool
	done    bool
	err     error
}

// Range returns an Iterator starting at the first key >= lo (lo == ""
// means "from the beginning"). hi, if non-empty, is an exclusive upper
// bound.
func (tr *Tree) Range(lo, hi string) (*Iterator, error) {
	it := &Iterator{tr: tr}
	if hi != "" {
		it.hi = []byte(hi)
		it.hasHi = true
	}

	leaf, err := tr.descendToLeaf([]byte(lo))
	if err != nil {
		return nil, err
	}
	if leaf == nil {
		it.done = true
		return it, nil
	}
	idx, _ := leaf.search([]byte(lo))
	it.leaf = leaf
	it.pos = idx
	return it, nil
}

// Next advances to the next in-range entry and reports whether one
// was found. Call Key/Value only after a true return.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if it.started {
		it.pos++
	}
	it.started = true

	for it.leaf != nil && it.pos >= len(it.leaf.Keys) {
		if it.leaf.NextLeaf == 0 {
			it.leaf = nil
			break
		}
		next, err := it.tr.loadNode(it.leaf.NextLeaf)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		it.leaf = next
		it.pos = 0
	}
	if it.leaf == nil {
		it.done = true
		return false
	}
	if it.hasHi && !bytesLess(it.leaf.Keys[it.pos], it.hi) {
		it.done = true
		return false
	}
	return true
}

// Key returns the current key.
func (it *Iterator) Key() string { return string(it.leaf.Keys[it.pos]) }

// Value reads the current value blob.
func (it *Iterator) Value() ([]byte, error) {
	return it.tr.pager.ReadValue(it.leaf.Locators[it.pos])
}

// Err returns any error encountered while walking the leaf chain.
func (it *Iterator) Err() error { return it.err }
