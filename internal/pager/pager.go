// Package pager translates (file, page_id) to bytes over the two
// backing files of one KV instance, with a bounded windowed page cache
// and free-page reuse. It never retries I/O failures silently; every
// error reaching a caller is a *xerr.Error.
package pager

import (
	"encoding/binary"
	"fmt"
	"sync"

	"seacooler/internal/xerr"
)

// FileKind selects which of the two backing files an operation targets.
type FileKind int

const (
	FileNodes FileKind = iota
	FileValues
)

// defaultWindowPages bounds how many pages of a file sit in memory at
// once, favoring locality over footprint for an embedded store.
const defaultWindowPages = 64

// Page 0 of each file is reserved for the Pager's own bookkeeping: the
// pages-used count (both files) and the root pointer (node file only),
// stored at big-endian fixed offsets and read/written through the
// ordinary windowed cache like any other page. Free lists are not
// stored there; they live in memory only.
const (
	metaPageID = 0

	metaNodesUsedOff = 0  // u64: node pages allocated (excludes reserved page 0)
	metaRootIDOff    = 8  // u64: BTree root page id, 0 = empty tree
	metaValuesUsedOff = 0 // u64: value pages allocated (value file's own page 0)
)

// Pager exclusively owns the node file, the value file, and their
// caches. The BTree and KVStore only ever borrow it for the duration
// of a single call.
type Pager struct {
	mu sync.Mutex

	nodes  *windowCache
	values *windowCache

	nodesUsed  uint64
	valuesUsed uint64
	rootID     uint64

	nodeFreeList  []uint64         // stack of reusable node page ids
	valueFreeList map[int][]uint64 // run length (pages) -> reusable starts
}

// Open opens (or creates) the node and value files at nodesPath/valuesPath.
func Open(nodesPath, valuesPath string) (*Pager, error) {
	nf, err := openFile(nodesPath)
	if err != nil {
		return nil, xerr.New(xerr.IO, "pager.open.nodes", err)
	}
	vf, err := openFile(valuesPath)
	if err != nil {
		return nil, xerr.New(xerr.IO, "pager.open.values", err)
	}

	nc, err := newWindowCache(nf, defaultWindowPages)
	if err != nil {
		return nil, err
	}
	vc, err := newWindowCache(vf, defaultWindowPages)
	if err != nil {
		return nil, err
	}

	p := &Pager{
		nodes:         nc,
		values:        vc,
		valueFreeList: make(map[int][]uint64),
	}

	metaNodes := make([]byte, PageSize)
	if err := p.nodes.read(metaPageID, metaNodes); err != nil {
		return nil, err
	}
	p.nodesUsed = binary.BigEndian.Uint64(metaNodes[metaNodesUsedOff:])
	p.rootID = binary.BigEndian.Uint64(metaNodes[metaRootIDOff:])

	metaValues := make([]byte, PageSize)
	if err := p.values.read(metaPageID, metaValues); err != nil {
		return nil, err
	}
	p.valuesUsed = binary.BigEndian.Uint64(metaValues[metaValuesUsedOff:])

	return p, nil
}

func (p *Pager) cacheFor(kind FileKind) *windowCache {
	if kind == FileNodes {
		return p.nodes
	}
	return p.values
}

// ReadPage reads exactly one PageSize-byte page. Page 0 of either file
// is Pager-reserved metadata; callers outside this package never
// address it directly because node/value ids start at 1.
func (p *Pager) ReadPage(kind FileKind, id uint64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, PageSize)
	if err := p.cacheFor(kind).read(id, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WritePage writes exactly one PageSize-byte page.
func (p *Pager) WritePage(kind FileKind, id uint64, data []byte) error {
	if len(data) != PageSize {
		return xerr.New(xerr.Capacity, "pager.write_page", fmt.Errorf("page must be %d bytes, got %d", PageSize, len(data)))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cacheFor(kind).write(id, data)
}

func (p *Pager) writeNodesMetaLocked() error {
	buf := make([]byte, PageSize)
	binary.BigEndian.PutUint64(buf[metaNodesUsedOff:], p.nodesUsed)
	binary.BigEndian.PutUint64(buf[metaRootIDOff:], p.rootID)
	return p.nodes.write(metaPageID, buf)
}

func (p *Pager) writeValuesMetaLocked() error {
	buf := make([]byte, PageSize)
	binary.BigEndian.PutUint64(buf[metaValuesUsedOff:], p.valuesUsed)
	return p.values.write(metaPageID, buf)
}

// AllocatePage returns a page id (never 0). For the node file it
// reuses a freed node page if one is available; for the value file it
// always appends a fresh page (value-run reuse happens in NewValue).
func (p *Pager) AllocatePage(kind FileKind) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if kind == FileNodes && len(p.nodeFreeList) > 0 {
		id := p.nodeFreeList[len(p.nodeFreeList)-1]
		p.nodeFreeList = p.nodeFreeList[:len(p.nodeFreeList)-1]
		return id, nil
	}

	if kind == FileNodes {
		p.nodesUsed++
		id := p.nodesUsed
		if err := p.writeNodesMetaLocked(); err != nil {
			return 0, err
		}
		return id, nil
	}

	p.valuesUsed++
	id := p.valuesUsed
	if err := p.writeValuesMetaLocked(); err != nil {
		return 0, err
	}
	return id, nil
}

// NewNode allocates and zeroes a fresh node page.
func (p *Pager) NewNode() (uint64, error) {
	id, err := p.AllocatePage(FileNodes)
	if err != nil {
		return 0, err
	}
	if err := p.WritePage(FileNodes, id, make([]byte, PageSize)); err != nil {
		return 0, err
	}
	return id, nil
}

// FreeNode returns a node page to the free list for reuse.
func (p *Pager) FreeNode(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodeFreeList = append(p.nodeFreeList, id)
}

// RootPageID returns the BTree's current root page id, 0 if the tree
// is empty and has never had a root allocated.
func (p *Pager) RootPageID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rootID
}

// SetRootPageID persists a new root page id.
func (p *Pager) SetRootPageID(id uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rootID = id
	return p.writeNodesMetaLocked()
}

const valueLenPrefix = 8 // u64 length prefix

func valuePageCount(dataLen int) int {
	total := valueLenPrefix + dataLen
	return (total + PageSize - 1) / PageSize
}

// NewValue stores a self-describing blob (length prefix + ciphertext)
// across ceil((len(data)+8)/PageSize) contiguous pages, reusing a free
// run of the same length when one exists.
func (p *Pager) NewValue(data []byte) (uint64, error) {
	n := valuePageCount(len(data))

	p.mu.Lock()
	startID, reused := p.popFreeRunLocked(n)
	if !reused {
		startID = p.valuesUsed + 1
		p.valuesUsed += uint64(n)
		if err := p.writeValuesMetaLocked(); err != nil {
			p.mu.Unlock()
			return 0, err
		}
	}
	p.mu.Unlock()

	payload := make([]byte, n*PageSize)
	binary.BigEndian.PutUint64(payload[:valueLenPrefix], uint64(len(data)))
	copy(payload[valueLenPrefix:], data)

	for i := 0; i < n; i++ {
		off := i * PageSize
		if err := p.WritePage(FileValues, startID+uint64(i), payload[off:off+PageSize]); err != nil {
			return 0, err
		}
	}
	return startID, nil
}

func (p *Pager) popFreeRunLocked(n int) (uint64, bool) {
	runs := p.valueFreeList[n]
	if len(runs) == 0 {
		return 0, false
	}
	id := runs[len(runs)-1]
	p.valueFreeList[n] = runs[:len(runs)-1]
	return id, true
}

// ReadValue reads back a blob written by NewValue.
func (p *Pager) ReadValue(id uint64) ([]byte, error) {
	first, err := p.ReadPage(FileValues, id)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint64(first[:valueLenPrefix])
	n := valuePageCount(int(length))

	buf := make([]byte, n*PageSize)
	copy(buf, first)
	for i := 1; i < n; i++ {
		pg, err := p.ReadPage(FileValues, id+uint64(i))
		if err != nil {
			return nil, err
		}
		copy(buf[i*PageSize:], pg)
	}
	if valueLenPrefix+int(length) > len(buf) {
		return nil, xerr.New(xerr.Corruption, "pager.read_value", fmt.Errorf("length prefix %d exceeds allocated run", length))
	}
	return buf[valueLenPrefix : valueLenPrefix+int(length)], nil
}

// DeleteValue returns a blob's pages to the run-length-keyed free list.
func (p *Pager) DeleteValue(id uint64) error {
	first, err := p.ReadPage(FileValues, id)
	if err != nil {
		return err
	}
	length := binary.BigEndian.Uint64(first[:valueLenPrefix])
	n := valuePageCount(int(length))

	p.mu.Lock()
	p.valueFreeList[n] = append(p.valueFreeList[n], id)
	p.mu.Unlock()
	return nil
}

// Flush writes back any dirty cache window to disk and fsyncs both files.
func (p *Pager) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.nodes.flush(); err != nil {
		return err
	}
	if err := p.nodes.file.Sync(); err != nil {
		return xerr.New(xerr.IO, "pager.flush.nodes", err)
	}
	if err := p.values.flush(); err != nil {
		return err
	}
	if err := p.values.file.Sync(); err != nil {
		return xerr.New(xerr.IO, "pager.flush.values", err)
	}
	return nil
}

// Reload discards both window caches and in-memory free lists and
// re-reads each file's metadata page from disk. Used after the
// backing files have been replaced out from under the Pager (e.g. by
// Restorer restoring a snapshot), since the cached window and free
// lists built from the old file contents can no longer be trusted.
func (p *Pager) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.nodes.reload(); err != nil {
		return err
	}
	if err := p.values.reload(); err != nil {
		return err
	}

	metaNodes := make([]byte, PageSize)
	if err := p.nodes.read(metaPageID, metaNodes); err != nil {
		return err
	}
	p.nodesUsed = binary.BigEndian.Uint64(metaNodes[metaNodesUsedOff:])
	p.rootID = binary.BigEndian.Uint64(metaNodes[metaRootIDOff:])

	metaValues := make([]byte, PageSize)
	if err := p.values.read(metaPageID, metaValues); err != nil {
		return err
	}
	p.valuesUsed = binary.BigEndian.Uint64(metaValues[metaValuesUsedOff:])

	p.nodeFreeList = nil
	p.valueFreeList = make(map[int][]uint64)
	return nil
}

func (p *Pager) Close() error {
	if err := p.Flush(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.nodes.file.Close(); err != nil {
		return xerr.New(xerr.IO, "pager.close.nodes", err)
	}
	if err := p.values.file.Close(); err != nil {
		return xerr.New(xerr.IO, "pager.close.values", err)
	}
	return nil
}
