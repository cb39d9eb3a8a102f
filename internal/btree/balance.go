package btree

// This file maintains the node-count invariant: every non-root node
// keeps [t-1, 2t-1] keys. rebalanceAfterInsert splits a node that grew
// past 2t-1; rebalanceAfterDelete borrows or merges a node that shrank
// below t-1, walking upward via each node's stored Parent pointer
// rather than a descent-time path stack.

// rebalanceAfterInsert splits n (and recursively its ancestors) while
// any of them hold more than 2*t-1 keys.
func (tr *Tree) rebalanceAfterInsert(n *Node) error {
	for len(n.Keys) > 2*tr.t-1 {
		parentID := n.Parent
		mid, rightID, err := tr.split(n)
		if err != nil {
			return err
		}

		if parentID == 0 {
			rootID, err := tr.pager.NewNode()
			if err != nil {
				return err
			}
			root := &Node{
				ID:       rootID,
				Kind:     KindInternal,
				Keys:     [][]byte{mid},
				Locators: []uint64{n.ID, rightID},
			}
			n.Parent = rootID
			if err := tr.storeNode(n); err != nil {
				return err
			}
			right, err := tr.loadNode(rightID)
			if err != nil {
				return err
			}
			right.Parent = rootID
			if err := tr.storeNode(right); err != nil {
				return err
			}
			if err := tr.storeNode(root); err != nil {
				return err
			}
			return tr.pager.SetRootPageID(rootID)
		}

		parent, err := tr.loadNode(parentID)
		if err != nil {
			return err
		}
		tr.insertIntoInternal(parent, mid, rightID)
		if err := tr.storeNode(parent); err != nil {
			return err
		}
		n = parent
	}
	return nil
}

// split divides n in half around its median key, writing the right
// half as a new node and n (shrunk) back in place. It returns the
// separator key to push into the parent and the new right node's id.
func (tr *Tree) split(n *Node) (median []byte, rightID uint64, err error) {
	t := tr.t
	rightID, err = tr.pager.NewNode()
	if err != nil {
		return nil, 0, err
	}

	if n.IsLeaf() {
		// left keeps [0,t), right gets [t,2t).
		rightKeys := append([][]byte(nil), n.Keys[t:]...)
		rightLocs := append([]uint64(nil), n.Locators[t:]...)
		median = n.Keys[t-1]

		right := &Node{ID: rightID, Kind: KindLeaf, Parent: n.Parent, Keys: rightKeys, Locators: rightLocs, NextLeaf: n.NextLeaf}
		n.Keys = n.Keys[:t]
		n.Locators = n.Locators[:t]
		n.NextLeaf = rightID

		if err := tr.storeNode(right); err != nil {
			return nil, 0, err
		}
		if err := tr.storeNode(n); err != nil {
			return nil, 0, err
		}
		return median, rightID, nil
	}

	// internal: the median key is popped out entirely, living on in
	// the parent as the new separator.
	median = n.Keys[t]
	rightKeys := append([][]byte(nil), n.Keys[t+1:]...)
	rightLocs := append([]uint64(nil), n.Locators[t+1:]...)

	right := &Node{ID: rightID, Kind: KindInternal, Parent: n.Parent, Keys: rightKeys, Locators: rightLocs}
	if err := tr.reparentChildren(right); err != nil {
		return nil, 0, err
	}
	if err := tr.storeNode(right); err != nil {
		return nil, 0, err
	}

	n.Keys = n.Keys[:t]
	n.Locators = n.Locators[:t+1]
	if err := tr.storeNode(n); err != nil {
		return nil, 0, err
	}
	return median, rightID, nil
}

func (tr *Tree) reparentChildren(n *Node) error {
	for _, childID := range n.Locators {
		child, err := tr.loadNode(childID)
		if err != nil {
			return err
		}
		child.Parent = n.ID
		if err := tr.storeNode(child); err != nil {
			return err
		}
	}
	return nil
}

// insertIntoInternal inserts key/rightChild as a new separator+locator
// pair into an internal node that just absorbed a child split.
func (tr *Tree) insertIntoInternal(n *Node, key []byte, rightChildID uint64) {
	idx, _ := n.search(key)
	n.Keys = append(n.Keys, nil)
	copy(n.Keys[idx+1:], n.Keys[idx:])
	n.Keys[idx] = key

	locIdx := idx + 1
	n.Locators = append(n.Locators, 0)
	copy(n.Locators[locIdx+1:], n.Locators[locIdx:])
	n.Locators[locIdx] = rightChildID
}

// rebalanceAfterDelete restores the [t-1, 2t-1] invariant for n and,
// if a merge propagates, its ancestors.
func (tr *Tree) rebalanceAfterDelete(n *Node) error {
	for n.Parent != 0 && n.isUnderflowing(tr.t) {
		parent, err := tr.loadNode(n.Parent)
		if err != nil {
			return err
		}
		idx := locatorIndex(parent, n.ID)

		var leftID, rightID uint64
		if idx > 0 {
			leftID = parent.Locators[idx-1]
		}
		if idx < len(parent.Locators)-1 {
			rightID = parent.Locators[idx+1]
		}

		if leftID != 0 {
			left, err := tr.loadNode(leftID)
			if err != nil {
				return err
			}
			if len(left.Keys) >= tr.t {
				if err := tr.borrowFromLeft(parent, idx, left, n); err != nil {
					return err
				}
				return nil
			}
		}
		if rightID != 0 {
			right, err := tr.loadNode(rightID)
			if err != nil {
				return err
			}
			if len(right.Keys) >= tr.t {
				if err := tr.borrowFromRight(parent, idx, n, right); err != nil {
					return err
				}
				return nil
			}
		}

		// Neither sibling can lend a key: merge with one of them.
		if leftID != 0 {
			left, err := tr.loadNode(leftID)
			if err != nil {
				return err
			}
			if err := tr.mergeNodes(parent, idx-1, left, n); err != nil {
				return err
			}
		} else {
			right, err := tr.loadNode(rightID)
			if err != nil {
				return err
			}
			if err := tr.mergeNodes(parent, idx, n, right); err != nil {
				return err
			}
		}

		if parent.Parent == 0 && len(parent.Keys) == 0 {
			// Root collapses onto its one remaining child.
			childID := parent.Locators[0]
			child, err := tr.loadNode(childID)
			if err != nil {
				return err
			}
			child.Parent = 0
			if err := tr.storeNode(child); err != nil {
				return err
			}
			tr.pager.FreeNode(parent.ID)
			return tr.pager.SetRootPageID(childID)
		}
		if err := tr.storeNode(parent); err != nil {
			return err
		}
		n = parent
	}
	return nil
}

func locatorIndex(parent *Node, childID uint64) int {
	for i, id := range parent.Locators {
		if id == childID {
			return i
		}
	}
	return -1
}

// borrowFromLeft rotates left's last key/locator through the parent
// separator into n's front.
func (tr *Tree) borrowFromLeft(parent *Node, idx int, left, n *Node) error {
	sepIdx := idx - 1
	lastKeyIdx := len(left.Keys) - 1

	if n.IsLeaf() {
		n.Keys = append([][]byte{left.Keys[lastKeyIdx]}, n.Keys...)
		n.Locators = append([]uint64{left.Locators[lastKeyIdx]}, n.Locators...)
		// The separator must be left's max key, not the key just moved
		// out of it (that key now lives in n): left's new max, after
		// the truncation below, is at lastKeyIdx-1.
		parent.Keys[sepIdx] = left.Keys[lastKeyIdx-1]
	} else {
		n.Keys = append([][]byte{parent.Keys[sepIdx]}, n.Keys...)
		movedLoc := left.Locators[len(left.Locators)-1]
		n.Locators = append([]uint64{movedLoc}, n.Locators...)
		parent.Keys[sepIdx] = left.Keys[lastKeyIdx]

		child, err := tr.loadNode(movedLoc)
		if err != nil {
			return err
		}
		child.Parent = n.ID
		if err := tr.storeNode(child); err != nil {
			return err
		}
		left.Locators = left.Locators[:len(left.Locators)-1]
	}
	left.Keys = left.Keys[:lastKeyIdx]

	if err := tr.storeNode(left); err != nil {
		return err
	}
	if err := tr.storeNode(n); err != nil {
		return err
	}
	return tr.storeNode(parent)
}

// borrowFromRight is borrowFromLeft's mirror image.
func (tr *Tree) borrowFromRight(parent *Node, idx int, n, right *Node) error {
	sepIdx := idx

	if n.IsLeaf() {
		borrowed := right.Keys[0]
		n.Keys = append(n.Keys, borrowed)
		n.Locators = append(n.Locators, right.Locators[0])
		right.Keys = right.Keys[1:]
		right.Locators = right.Locators[1:]
		// The separator must be the key that was just moved into n
		// (its new max), not right's new first key.
		parent.Keys[sepIdx] = borrowed
	} else {
		n.Keys = append(n.Keys, parent.Keys[sepIdx])
		movedLoc := right.Locators[0]
		n.Locators = append(n.Locators, movedLoc)
		parent.Keys[sepIdx] = right.Keys[0]
		right.Keys = right.Keys[1:]
		right.Locators = right.Locators[1:]

		child, err := tr.loadNode(movedLoc)
		if err != nil {
			return err
		}
		child.Parent = n.ID
		if err := tr.storeNode(child); err != nil {
			return err
		}
	}

	if err := tr.storeNode(n); err != nil {
		return err
	}
	if err := tr.storeNode(right); err != nil {
		return err
	}
	return tr.storeNode(parent)
}

// mergeNodes absorbs right into left, pulling down parent's separator
// key at sepIdx, and frees right's page.
func (tr *Tree) mergeNodes(parent *Node, sepIdx int, left, right *Node) error {
	if left.IsLeaf() {
		left.Keys = append(left.Keys, right.Keys...)
		left.Locators = append(left.Locators, right.Locators...)
		left.NextLeaf = right.NextLeaf
	} else {
		left.Keys = append(left.Keys, parent.Keys[sepIdx])
		left.Keys = append(left.Keys, right.Keys...)
		left.Locators = append(left.Locators, right.Locators...)
		if err := tr.reparentChildren(left); err != nil {
			return err
		}
	}

	parent.Keys = append(parent.Keys[:sepIdx], parent.Keys[sepIdx+1:]...)
	rightLocPos := sepIdx + 1
	parent.Locators = append(parent.Locators[:rightLocPos], parent.Locators[rightLocPos+1:]...)

	tr.pager.FreeNode(right.ID)
	return tr.storeNode(left)
}
