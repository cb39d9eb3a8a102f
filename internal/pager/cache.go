package pager

import (
	"fmt"

	"seacooler/internal/xerr"
)

// PageSize is the fixed unit of I/O and allocation.
const PageSize = 4096

// windowCache is a fixed-capacity window over contiguous page ranges of
// a single file. On a hit the page is served from memory; on a miss the
// window is flushed (if dirty) and repositioned so the requested page
// falls inside it, extending the file with zero pages first if needed.
//
// The buffer is a plain byte slice guarded by the Pager's own mutex:
// the Pager serializes all cache access, so the cache itself needs no
// lock of its own.
type windowCache struct {
	file       ioFile
	windowSize int // pages held in memory at once
	buf        []byte
	start      uint64 // first page id covered by buf
	filePages  uint64 // current file length in pages
	dirty      bool
}

func newWindowCache(f ioFile, windowPages int) (*windowCache, error) {
	sz, err := f.Size()
	if err != nil {
		return nil, xerr.New(xerr.IO, "pager.cache.size", err)
	}
	if sz%PageSize != 0 {
		return nil, xerr.New(xerr.Corruption, "pager.cache.size", fmt.Errorf("file size %d not a multiple of page size", sz))
	}
	filePages := uint64(sz) / PageSize

	c := &windowCache{file: f, windowSize: windowPages, filePages: filePages}
	if err := c.loadWindow(0); err != nil {
		return nil, err
	}
	return c, nil
}

// loadWindow flushes the current window (if dirty) and fills buf with
// the window starting at `start`, extending the file with zero pages
// when the window reaches past current EOF.
func (c *windowCache) loadWindow(start uint64) error {
	if err := c.flush(); err != nil {
		return err
	}

	end := start + uint64(c.windowSize)
	if end > c.filePages {
		if err := c.extend(end); err != nil {
			return err
		}
	}

	buf := make([]byte, c.windowSize*PageSize)
	if err := c.file.ReadAt(buf, int64(start)*PageSize); err != nil {
		return xerr.New(xerr.IO, "pager.cache.read", err)
	}
	c.buf = buf
	c.start = start
	c.dirty = false
	return nil
}

// extend grows the backing file with zero pages up to `pages` pages.
func (c *windowCache) extend(pages uint64) error {
	if pages <= c.filePages {
		return nil
	}
	if err := c.file.Truncate(int64(pages) * PageSize); err != nil {
		return xerr.New(xerr.IO, "pager.cache.extend", err)
	}
	c.filePages = pages
	return nil
}

func (c *windowCache) inWindow(id uint64) bool {
	return id >= c.start && id < c.start+uint64(c.windowSize)
}

func (c *windowCache) read(id uint64, dst []byte) error {
	if !c.inWindow(id) {
		if err := c.loadWindow(windowStartFor(id, c.windowSize)); err != nil {
			return err
		}
	}
	off := (id - c.start) * PageSize
	copy(dst, c.buf[off:off+PageSize])
	return nil
}

func (c *windowCache) write(id uint64, src []byte) error {
	if !c.inWindow(id) {
		if err := c.loadWindow(windowStartFor(id, c.windowSize)); err != nil {
			return err
		}
	}
	off := (id - c.start) * PageSize
	copy(c.buf[off:off+PageSize], src)
	c.dirty = true
	return nil
}

// reload re-derives filePages from the backing file's actual size and
// reloads the window at page 0, discarding any in-memory state. Used
// when the file has been overwritten out from under the cache (e.g.
// a snapshot restore) and the cached window can no longer be trusted.
func (c *windowCache) reload() error {
	sz, err := c.file.Size()
	if err != nil {
		return xerr.New(xerr.IO, "pager.cache.size", err)
	}
	if sz%PageSize != 0 {
		return xerr.New(xerr.Corruption, "pager.cache.size", fmt.Errorf("file size %d not a multiple of page size", sz))
	}
	c.dirty = false
	c.filePages = uint64(sz) / PageSize
	return c.loadWindow(0)
}

func (c *windowCache) flush() error {
	if !c.dirty {
		return nil
	}
	if err := c.file.WriteAt(c.buf, int64(c.start)*PageSize); err != nil {
		return xerr.New(xerr.IO, "pager.cache.flush", err)
	}
	c.dirty = false
	return nil
}

// windowStartFor positions a fresh window so id falls inside it, with
// the window start aligned down to a multiple of windowSize for
// spatially-local sequential access.
func windowStartFor(id uint64, windowSize int) uint64 {
	w := uint64(windowSize)
	return (id / w) * w
}

// ioFile is the minimal file surface the cache needs; backed by
// pwrite/pread (x/sys/unix) on unix and os.File on windows — see
// file_unix.go / file_windows.go.
type ioFile interface {
	Size() (int64, error)
	Truncate(size int64) error
	ReadAt(buf []byte, off int64) error
	WriteAt(buf []byte, off int64) error
	Sync() error
	Close() error
}
