//go:build linux || darwin || freebsd || openbsd || netbsd || solaris

package pager

import (
	"os"

	"golang.org/x/sys/unix"
)

// osFile backs windowCache with pwrite/pread so concurrent KVStore
// callers never fight over the file's shared read/write offset.
type osFile struct {
	f *os.File
}

func openFile(path string) (ioFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &osFile{f: f}, nil
}

func (o *osFile) Size() (int64, error) {
	fi, err := o.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (o *osFile) Truncate(size int64) error {
	return unix.Ftruncate(int(o.f.Fd()), size)
}

func (o *osFile) ReadAt(buf []byte, off int64) error {
	for len(buf) > 0 {
		n, err := unix.Pread(int(o.f.Fd()), buf, off)
		if err != nil {
			return err
		}
		if n == 0 {
			// short read past EOF: treat remaining bytes as zero.
			for i := range buf {
				buf[i] = 0
			}
			return nil
		}
		buf = buf[n:]
		off += int64(n)
	}
	return nil
}

func (o *osFile) WriteAt(buf []byte, off int64) error {
	for len(buf) > 0 {
		n, err := unix.Pwrite(int(o.f.Fd()), buf, off)
		if err != nil {
			return err
		}
		buf = buf[n:]
		off += int64(n)
	}
	return nil
}

func (o *osFile) Sync() error  { return o.f.Sync() }
func (o *osFile) Close() error { return o.f.Close() }
