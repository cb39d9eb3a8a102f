package btree

import (
	"fmt"

	"seacooler/internal/pager"
	"seacooler/internal/xerr"
)

// Tree is a disk-backed ordered string-keyed map. It is not internally
// synchronized: the KVStore facade holds a lock around each public
// call.
type Tree struct {
	pager *pager.Pager
	t     int
}

// Open wires a Tree to an already-open Pager, using the default
// branching factor.
func Open(p *pager.Pager) *Tree {
	return &Tree{pager: p, t: DefaultT}
}

// OpenWithT is Open with an explicit branching factor, for callers
// (tests, small embedded deployments) that want a smaller or larger t
// than the page-derived default.
func OpenWithT(p *pager.Pager, t int) *Tree {
	if t < 2 {
		t = 2
	}
	return &Tree{pager: p, t: t}
}

func (tr *Tree) loadNode(id uint64) (*Node, error) {
	data, err := tr.pager.ReadPage(pager.FileNodes, id)
	if err != nil {
		return nil, err
	}
	return Deserialize(id, data)
}

func (tr *Tree) storeNode(n *Node) error {
	data, err := n.Serialize()
	if err != nil {
		return err
	}
	return tr.pager.WritePage(pager.FileNodes, n.ID, data)
}

func (tr *Tree) root() (*Node, error) {
	id := tr.pager.RootPageID()
	if id == 0 {
		return nil, nil
	}
	return tr.loadNode(id)
}

func validateKey(key string) error {
	if len(key) == 0 {
		return xerr.New(xerr.Capacity, "btree.key", fmt.Errorf("key must not be empty"))
	}
	if len(key) > maxKeyBytes {
		return xerr.New(xerr.Capacity, "btree.key", fmt.Errorf("key of %d bytes exceeds %d", len(key), maxKeyBytes))
	}
	return nil
}

// descendToLeaf walks from root to the leaf that would contain key.
func (tr *Tree) descendToLeaf(key []byte) (*Node, error) {
	n, err := tr.root()
	if err != nil || n == nil {
		return n, err
	}
	for !n.IsLeaf() {
		idx, _ := n.search(key)
		childID := n.Locators[idx]
		n, err = tr.loadNode(childID)
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Search returns the value for key, or ok=false if absent.
func (tr *Tree) Search(key string) (value []byte, ok bool, err error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	leaf, err := tr.descendToLeaf([]byte(key))
	if err != nil {
		return nil, false, err
	}
	if leaf == nil {
		return nil, false, nil
	}
	idx, exact := leaf.search([]byte(key))
	if !exact {
		return nil, false, nil
	}
	val, err := tr.pager.ReadValue(leaf.Locators[idx])
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// ErrKeyExists is returned by Insert when the key is already present.
var ErrKeyExists = fmt.Errorf("key already exists")

// ErrNotFound is returned by Update/Delete when the key is absent.
var ErrNotFound = fmt.Errorf("key not found")

// Insert adds a new key; fails with ErrKeyExists if key is already present.
func (tr *Tree) Insert(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	kb := []byte(key)

	root, err := tr.root()
	if err != nil {
		return err
	}
	if root == nil {
		valID, err := tr.pager.NewValue(value)
		if err != nil {
			return err
		}
		nodeID, err := tr.pager.NewNode()
		if err != nil {
			return err
		}
		leaf := &Node{ID: nodeID, Kind: KindLeaf, Keys: [][]byte{kb}, Locators: []uint64{valID}}
		if err := tr.storeNode(leaf); err != nil {
			return err
		}
		return tr.pager.SetRootPageID(nodeID)
	}

	leaf, err := tr.descendToLeaf(kb)
	if err != nil {
		return err
	}
	if idx, exact := leaf.search(kb); exact {
		_ = idx
		return xerr.WithKey(xerr.Logic, "btree.insert", key, ErrKeyExists)
	}

	valID, err := tr.pager.NewValue(value)
	if err != nil {
		return err
	}
	tr.insertIntoLeaf(leaf, kb, valID)
	if err := tr.storeNode(leaf); err != nil {
		return err
	}
	return tr.rebalanceAfterInsert(leaf)
}

func (tr *Tree) insertIntoLeaf(leaf *Node, key []byte, valID uint64) {
	idx, _ := leaf.search(key)
	leaf.Keys = append(leaf.Keys, nil)
	copy(leaf.Keys[idx+1:], leaf.Keys[idx:])
	leaf.Keys[idx] = key

	leaf.Locators = append(leaf.Locators, 0)
	copy(leaf.Locators[idx+1:], leaf.Locators[idx:])
	leaf.Locators[idx] = valID
}

// Update replaces the value for an existing key, returning the old value.
func (tr *Tree) Update(key string, value []byte) (old []byte, err error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	kb := []byte(key)
	leaf, err := tr.descendToLeaf(kb)
	if err != nil {
		return nil, err
	}
	if leaf == nil {
		return nil, xerr.WithKey(xerr.Logic, "btree.update", key, ErrNotFound)
	}
	idx, exact := leaf.search(kb)
	if !exact {
		return nil, xerr.WithKey(xerr.Logic, "btree.update", key, ErrNotFound)
	}

	oldVal, err := tr.pager.ReadValue(leaf.Locators[idx])
	if err != nil {
		return nil, err
	}
	if err := tr.pager.DeleteValue(leaf.Locators[idx]); err != nil {
		return nil, err
	}
	newID, err := tr.pager.NewValue(value)
	if err != nil {
		return nil, err
	}
	leaf.Locators[idx] = newID
	if err := tr.storeNode(leaf); err != nil {
		return nil, err
	}
	return oldVal, nil
}

// Delete removes key, freeing its value blob.
func (tr *Tree) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	kb := []byte(key)
	leaf, err := tr.descendToLeaf(kb)
	if err != nil {
		return err
	}
	if leaf == nil {
		return xerr.WithKey(xerr.Logic, "btree.delete", key, ErrNotFound)
	}
	idx, exact := leaf.search(kb)
	if !exact {
		return xerr.WithKey(xerr.Logic, "btree.delete", key, ErrNotFound)
	}

	if err := tr.pager.DeleteValue(leaf.Locators[idx]); err != nil {
		return err
	}
	leaf.Keys = append(leaf.Keys[:idx], leaf.Keys[idx+1:]...)
	leaf.Locators = append(leaf.Locators[:idx], leaf.Locators[idx+1:]...)

	if leaf.Parent == 0 {
		// root leaf: the underflow floor doesn't apply to it, an empty
		// root just means an empty tree.
		if len(leaf.Keys) == 0 {
			tr.pager.FreeNode(leaf.ID)
			return tr.pager.SetRootPageID(0)
		}
		return tr.storeNode(leaf)
	}
	if err := tr.storeNode(leaf); err != nil {
		return err
	}
	return tr.rebalanceAfterDelete(leaf)
}
