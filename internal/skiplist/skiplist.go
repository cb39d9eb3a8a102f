// Package skiplist implements a secondary index: a disk-backed skip
// list mapping an indexed field value to the set of primary keys that
// carry it.
//
// Node ids are byte offsets into an ever-growing main file; there is
// no id reuse, so a superseded node becomes a tombstone pointing at
// its replacement rather than being overwritten in place. Pointers are
// u64 fixed-width fields, big-endian, with nullID as the "absent"
// sentinel.
package skiplist

import (
	"encoding/binary"
	"math/rand/v2"
	"os"
	"sync"

	"seacooler/internal/xerr"
)

type kind uint8

const (
	kindLinker   kind = 0
	kindData     kind = 1
	kindDeleted  kind = 2
)

const nullID = ^uint64(0)

const (
	offType     = 0
	offNext     = offType + 1
	offPrev     = offNext + 8
	offTop      = offPrev + 8
	offDown     = offTop + 8
	offKeyLen   = offDown + 8
	offValueLen = offKeyLen + 8
	headerSize  = offValueLen + 8
)

// node is the in-memory form of one on-disk skip list node.
type node struct {
	id    uint64
	kind  kind
	key   string
	top   uint64
	down  uint64
	prev  uint64
	next  uint64
	value []uint64 // primary key ids, data nodes only
}

// fileHandler owns N.skiplist.dat (nodes, append-only) and
// N.skiplist.config (row head offsets).
type fileHandler struct {
	mu       sync.Mutex
	main     *os.File
	mainLen  int64
	config   *os.File
}

func openFileHandler(dataPath, configPath string) (*fileHandler, error) {
	main, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, xerr.New(xerr.IO, "skiplist.open", err)
	}
	cfg, err := os.OpenFile(configPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, xerr.New(xerr.IO, "skiplist.open", err)
	}
	fi, err := main.Stat()
	if err != nil {
		return nil, xerr.New(xerr.IO, "skiplist.open", err)
	}
	return &fileHandler{main: main, config: cfg, mainLen: fi.Size()}, nil
}

func putPointer(buf []byte, off int, v uint64) {
	binary.BigEndian.PutUint64(buf[off:off+8], v)
}

func getPointer(buf []byte, off int) uint64 {
	return binary.BigEndian.Uint64(buf[off : off+8])
}

func (fh *fileHandler) header(n *node) []byte {
	buf := make([]byte, headerSize)
	buf[offType] = byte(n.kind)
	putPointer(buf, offNext, n.next)
	putPointer(buf, offPrev, n.prev)
	putPointer(buf, offTop, n.top)
	putPointer(buf, offDown, n.down)
	putPointer(buf, offKeyLen, uint64(len(n.key)))
	putPointer(buf, offValueLen, uint64(len(n.value)*8))
	return buf
}

// newNode appends a fresh node (header + key + value) to the end of
// the main file and returns it with its assigned id.
func (fh *fileHandler) newNode(key string, value []uint64, isData bool) (*node, error) {
	k := kindLinker
	if isData {
		k = kindData
	}
	n := &node{kind: k, key: key, top: nullID, down: nullID, prev: nullID, next: nullID, value: value}

	fh.mu.Lock()
	defer fh.mu.Unlock()

	id := fh.mainLen
	payload := make([]byte, 0, headerSize+len(key)+len(value)*8)
	payload = append(payload, fh.header(n)...)
	payload = append(payload, key...)
	for _, v := range value {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		payload = append(payload, b[:]...)
	}

	if _, err := fh.main.WriteAt(payload, id); err != nil {
		return nil, xerr.New(xerr.IO, "skiplist.new_node", err)
	}
	fh.mainLen += int64(len(payload))
	n.id = uint64(id)
	return n, nil
}

// updateNodeHeader rewrites a node's fixed header in place. It never
// touches key/value bytes, which are immutable once written.
func (fh *fileHandler) updateNodeHeader(n *node) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if _, err := fh.main.WriteAt(fh.header(n), int64(n.id)); err != nil {
		return xerr.New(xerr.IO, "skiplist.update_header", err)
	}
	return nil
}

// readNode loads a node, transparently following tombstone chains to
// the live replacement; a tombstone lets a node be superseded safely
// without rewriting the file in place.
func (fh *fileHandler) readNode(id uint64) (*node, error) {
	fh.mu.Lock()
	header := make([]byte, headerSize)
	_, err := fh.main.ReadAt(header, int64(id))
	fh.mu.Unlock()
	if err != nil {
		return nil, xerr.New(xerr.IO, "skiplist.read_node", err)
	}

	k := kind(header[offType])
	next := getPointer(header, offNext)

	if k == kindDeleted {
		if next != nullID {
			return fh.readNode(next)
		}
		return &node{id: nullID, kind: kindDeleted, top: nullID, down: nullID, prev: nullID, next: nullID}, nil
	}

	keyLen := getPointer(header, offKeyLen)
	keyBuf := make([]byte, keyLen)
	fh.mu.Lock()
	_, err = fh.main.ReadAt(keyBuf, int64(id)+int64(headerSize))
	fh.mu.Unlock()
	if err != nil {
		return nil, xerr.New(xerr.IO, "skiplist.read_node", err)
	}

	n := &node{
		id:   id,
		kind: k,
		key:  string(keyBuf),
		top:  getPointer(header, offTop),
		down: getPointer(header, offDown),
		prev: getPointer(header, offPrev),
		next: next,
	}

	if k == kindData {
		valLen := getPointer(header, offValueLen)
		valBuf := make([]byte, valLen)
		fh.mu.Lock()
		_, err = fh.main.ReadAt(valBuf, int64(id)+int64(headerSize)+int64(keyLen))
		fh.mu.Unlock()
		if err != nil {
			return nil, xerr.New(xerr.IO, "skiplist.read_node", err)
		}
		n.value = make([]uint64, valLen/8)
		for i := range n.value {
			n.value[i] = binary.BigEndian.Uint64(valBuf[i*8 : i*8+8])
		}
	}
	return n, nil
}

func (fh *fileHandler) deleteNode(n *node, newLocation uint64) error {
	n.kind = kindDeleted
	n.next = newLocation
	return fh.updateNodeHeader(n)
}

// updateNodeValue supersedes a data node with a new one carrying
// newValue, relinking the lattice to the new node and tombstoning the
// old one, instead of rewriting the old node's now-wrong-length value.
func (fh *fileHandler) updateNodeValue(n *node, newValue []uint64) (*node, error) {
	fresh, err := fh.newNode(n.key, newValue, true)
	if err != nil {
		return nil, err
	}
	fresh.next, fresh.prev, fresh.top, fresh.down = n.next, n.prev, n.top, n.down
	if err := fh.updateNodeHeader(fresh); err != nil {
		return nil, err
	}
	if err := fh.deleteNode(n, fresh.id); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (fh *fileHandler) readConfig() ([]uint64, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	var countBuf [8]byte
	if _, err := fh.config.ReadAt(countBuf[:], 0); err != nil {
		return nil, nil // empty/new config file
	}
	count := binary.BigEndian.Uint64(countBuf[:])
	if count == 0 {
		return nil, nil
	}
	rowBuf := make([]byte, count*8)
	if _, err := fh.config.ReadAt(rowBuf, 8); err != nil {
		return nil, xerr.New(xerr.IO, "skiplist.read_config", err)
	}
	rows := make([]uint64, count)
	for i := range rows {
		rows[i] = binary.BigEndian.Uint64(rowBuf[i*8 : i*8+8])
	}
	return rows, nil
}

func (fh *fileHandler) writeConfig(rows []uint64) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	buf := make([]byte, 8+len(rows)*8)
	binary.BigEndian.PutUint64(buf[0:8], uint64(len(rows)))
	for i, r := range rows {
		binary.BigEndian.PutUint64(buf[8+i*8:8+i*8+8], r)
	}
	if _, err := fh.config.WriteAt(buf, 0); err != nil {
		return xerr.New(xerr.IO, "skiplist.write_config", err)
	}
	return nil
}

func (fh *fileHandler) close() error {
	if err := fh.main.Sync(); err != nil {
		return xerr.New(xerr.IO, "skiplist.close", err)
	}
	if err := fh.config.Sync(); err != nil {
		return xerr.New(xerr.IO, "skiplist.close", err)
	}
	if err := fh.main.Close(); err != nil {
		return xerr.New(xerr.IO, "skiplist.close", err)
	}
	return fh.config.Close()
}

// SkipList is a secondary, disk-backed index: field value -> ordered
// set of primary key ids carrying it.
type SkipList struct {
	mu   sync.Mutex
	fh   *fileHandler
	rows []uint64 // row head node ids, bottom row first, top row last (index len-1)
}

// Open opens (or creates) a skip list backed by dataPath/configPath.
func Open(dataPath, configPath string) (*SkipList, error) {
	fh, err := openFileHandler(dataPath, configPath)
	if err != nil {
		return nil, err
	}
	rows, err := fh.readConfig()
	if err != nil {
		return nil, err
	}
	return &SkipList{fh: fh, rows: rows}, nil
}

func (sl *SkipList) Close() error { return sl.fh.close() }

func coinFlip() bool { return rand.IntN(2) == 1 }

func (sl *SkipList) addNewRow(firstRowNode uint64) (uint64, error) {
	rowStart, err := sl.fh.newNode("", nil, false)
	if err != nil {
		return 0, err
	}
	rowStart.next = firstRowNode
	if len(sl.rows) > 0 {
		rowStart.down = sl.rows[len(sl.rows)-1]
	}
	if err := sl.fh.updateNodeHeader(rowStart); err != nil {
		return 0, err
	}
	sl.rows = append(sl.rows, rowStart.id)
	return rowStart.id, sl.fh.writeConfig(sl.rows)
}

// Insert appends value to the primary-key set for key, creating the
// entry if it did not exist: insert(k,[v1]) then insert(k,[v2])
// yields search(k) = [v1, v2].
func (sl *SkipList) Insert(key string, value []uint64) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if len(sl.rows) == 0 {
		n, err := sl.fh.newNode(key, value, true)
		if err != nil {
			return err
		}
		firstRow, err := sl.addNewRow(n.id)
		if err != nil {
			return err
		}
		n.prev = firstRow
		if err := sl.fh.updateNodeHeader(n); err != nil {
			return err
		}

		for coinFlip() {
			up, err := sl.fh.newNode(n.key, nil, false)
			if err != nil {
				return err
			}
			n.top = up.id
			up.down = n.id
			prevRow, err := sl.addNewRow(up.id)
			if err != nil {
				return err
			}
			up.prev = prevRow
			if err := sl.fh.updateNodeHeader(up); err != nil {
				return err
			}
			if err := sl.fh.updateNodeHeader(n); err != nil {
				return err
			}
			n = up
		}
		return nil
	}

	headID := sl.rows[len(sl.rows)-1]
	cur, err := sl.fh.readNode(headID)
	if err != nil {
		return err
	}
	var history []uint64

	for cur.down != nullID {
		for cur.next != nullID {
			nxt, err := sl.fh.readNode(cur.next)
			if err != nil {
				return err
			}
			if nxt.key > key {
				break
			}
			cur = nxt
		}
		history = append(history, cur.id)
		cur, err = sl.fh.readNode(cur.down)
		if err != nil {
			return err
		}
	}
	for cur.next != nullID {
		nxt, err := sl.fh.readNode(cur.next)
		if err != nil {
			return err
		}
		if nxt.key > key {
			break
		}
		cur = nxt
	}

	if cur.key == key {
		merged, err := sl.fh.updateNodeValue(cur, append(append([]uint64(nil), cur.value...), value...))
		if err != nil {
			return err
		}
		_ = merged
		return nil
	}

	newNode, err := sl.fh.newNode(key, value, true)
	if err != nil {
		return err
	}
	newNode.next = cur.next
	newNode.prev = cur.id
	cur.next = newNode.id

	if newNode.next != nullID {
		nxt, err := sl.fh.readNode(newNode.next)
		if err != nil {
			return err
		}
		nxt.prev = newNode.id
		if err := sl.fh.updateNodeHeader(nxt); err != nil {
			return err
		}
	}
	if err := sl.fh.updateNodeHeader(cur); err != nil {
		return err
	}
	if err := sl.fh.updateNodeHeader(newNode); err != nil {
		return err
	}

	former := newNode
	for coinFlip() {
		if len(history) > 0 {
			nodeID := history[len(history)-1]
			history = history[:len(history)-1]

			below, err := sl.fh.readNode(nodeID)
			if err != nil {
				return err
			}
			up, err := sl.fh.newNode(key, nil, false)
			if err != nil {
				return err
			}
			up.down = former.id
			former.top = up.id
			up.next = below.next
			below.next = up.id
			up.prev = nodeID

			if up.next != nullID {
				nxt, err := sl.fh.readNode(up.next)
				if err != nil {
					return err
				}
				nxt.prev = up.id
				if err := sl.fh.updateNodeHeader(nxt); err != nil {
					return err
				}
			}
			if err := sl.fh.updateNodeHeader(below); err != nil {
				return err
			}
			if err := sl.fh.updateNodeHeader(up); err != nil {
				return err
			}
			if err := sl.fh.updateNodeHeader(former); err != nil {
				return err
			}
			former = up
		} else {
			up, err := sl.fh.newNode(key, nil, false)
			if err != nil {
				return err
			}
			up.down = former.id
			former.top = up.id
			prevRow, err := sl.addNewRow(up.id)
			if err != nil {
				return err
			}
			up.prev = prevRow
			if err := sl.fh.updateNodeHeader(up); err != nil {
				return err
			}
			if err := sl.fh.updateNodeHeader(former); err != nil {
				return err
			}
			former = up
		}
	}
	return nil
}

func (sl *SkipList) descendTo(key string) (*node, error) {
	headID := sl.rows[len(sl.rows)-1]
	cur, err := sl.fh.readNode(headID)
	if err != nil {
		return nil, err
	}
	for cur.down != nullID {
		for cur.next != nullID {
			nxt, err := sl.fh.readNode(cur.next)
			if err != nil {
				return nil, err
			}
			if nxt.key > key {
				break
			}
			cur = nxt
		}
		cur, err = sl.fh.readNode(cur.down)
		if err != nil {
			return nil, err
		}
	}
	for cur.next != nullID {
		nxt, err := sl.fh.readNode(cur.next)
		if err != nil {
			return nil, err
		}
		if nxt.key > key {
			break
		}
		cur = nxt
	}
	return cur, nil
}

// Search returns the primary-key set for key, or nil if absent.
func (sl *SkipList) Search(key string) ([]uint64, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if len(sl.rows) == 0 {
		return nil, nil
	}
	cur, err := sl.descendTo(key)
	if err != nil {
		return nil, err
	}
	if cur.key == key {
		return cur.value, nil
	}
	return nil, nil
}

func (sl *SkipList) unlink(n *node) error {
	if n.prev != nullID {
		p, err := sl.fh.readNode(n.prev)
		if err != nil {
			return err
		}
		p.next = n.next
		if err := sl.fh.updateNodeHeader(p); err != nil {
			return err
		}
	}
	if n.next != nullID {
		nx, err := sl.fh.readNode(n.next)
		if err != nil {
			return err
		}
		nx.prev = n.prev
		if err := sl.fh.updateNodeHeader(nx); err != nil {
			return err
		}
	}
	return sl.fh.deleteNode(n, nullID)
}

// Delete removes every tower level of key's entry.
func (sl *SkipList) Delete(key string) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if len(sl.rows) == 0 {
		return nil
	}
	cur, err := sl.descendTo(key)
	if err != nil {
		return err
	}
	if cur.key != key {
		return nil
	}
	if err := sl.unlink(cur); err != nil {
		return err
	}
	for cur.top != nullID {
		cur, err = sl.fh.readNode(cur.top)
		if err != nil {
			return err
		}
		if err := sl.unlink(cur); err != nil {
			return err
		}
	}
	return nil
}
