// Package filter implements an approximate membership filter: a
// fixed-size bit array sized from a target capacity and false-positive
// rate, persisted as one byte per bit so a corrupt file is trivially
// detectable.
//
// It derives two independent digests with github.com/cespare/xxhash/v2
// and combines them by Kirsch-Mitzenmacher double hashing, h1 + i*h2
// mod m, rather than hashing the element once and reusing the same
// digest across all k rounds — hashing once would not give k
// independent hash functions and would defeat the false-positive-rate
// math the filter relies on.
package filter

import (
	"bufio"
	"fmt"
	"math"
	"os"

	"github.com/cespare/xxhash/v2"

	"seacooler/internal/xerr"
)

const (
	defaultN       = 4 * 1024 * 1024
	defaultEpsilon = 0.02
)

// Filter is an in-memory bit array mirrored to a packed on-disk file.
type Filter struct {
	bits []byte // one byte per bit: 0x00 or 0x01
	m    uint64
	k    uint64
	path string
}

// Size derives the (m, k) pair from a target capacity n and
// false-positive rate epsilon: m = -n*ln(epsilon)/(ln 2)^2,
// k = (m/n)*ln 2.
func Size(n uint64, epsilon float64) (m, k uint64) {
	nf := float64(n)
	ln2 := math.Ln2
	mf := -nf * math.Log(epsilon) / (ln2 * ln2)
	kf := (mf / nf) * ln2
	m = uint64(math.Ceil(mf))
	if m == 0 {
		m = 1
	}
	k = uint64(math.Round(kf))
	if k == 0 {
		k = 1
	}
	return m, k
}

// New builds an empty filter for the default capacity/FPR.
func New() *Filter {
	return NewSized(defaultN, defaultEpsilon)
}

// NewSized builds an empty filter for an explicit capacity/FPR, for
// tests that want a far smaller bit array than the production default.
func NewSized(n uint64, epsilon float64) *Filter {
	m, k := Size(n, epsilon)
	return &Filter{bits: make([]byte, m), m: m, k: k}
}

// Open loads a filter previously persisted at path, or creates a fresh
// one sized for (n, epsilon) if the file does not yet exist.
func Open(path string, n uint64, epsilon float64) (*Filter, error) {
	m, k := Size(n, epsilon)
	f := &Filter{path: path, m: m, k: k}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		f.bits = make([]byte, m)
		return f, nil
	}
	if err != nil {
		return nil, xerr.New(xerr.IO, "filter.open", err)
	}
	if uint64(len(data)) != m {
		return nil, xerr.New(xerr.Corruption, "filter.open", fmt.Errorf("bit file is %d bytes, want %d", len(data), m))
	}
	for _, b := range data {
		if b != 0x00 && b != 0x01 {
			return nil, xerr.New(xerr.Corruption, "filter.open", fmt.Errorf("illegal byte %#x in bit file", b))
		}
	}
	f.bits = data
	return f, nil
}

func (f *Filter) positions(s string) []uint64 {
	h1 := xxhash.Sum64String(s)
	h2 := xxhash.Sum64String(s + "\x00filter-salt")
	if h2 == 0 {
		h2 = 1 // an h2 of 0 would degenerate double hashing to a single fixed position
	}
	idx := make([]uint64, f.k)
	for i := uint64(0); i < f.k; i++ {
		idx[i] = (h1 + i*h2) % f.m
	}
	return idx
}

// Add sets s's k bit positions and persists the filter, rewriting it
// to disk on every mutation commit.
func (f *Filter) Add(s string) error {
	for _, idx := range f.positions(s) {
		f.bits[idx] = 0x01
	}
	return f.persist()
}

// Contains reports whether s might be present. False positives are
// possible; false negatives are not, as long as Add was called for
// every inserted key.
func (f *Filter) Contains(s string) bool {
	for _, idx := range f.positions(s) {
		if f.bits[idx] == 0 {
			return false
		}
	}
	return true
}

func (f *Filter) persist() error {
	if f.path == "" {
		return nil
	}
	tmp := f.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return xerr.New(xerr.IO, "filter.persist", err)
	}
	w := bufio.NewWriter(file)
	if _, err := w.Write(f.bits); err != nil {
		file.Close()
		return xerr.New(xerr.IO, "filter.persist", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return xerr.New(xerr.IO, "filter.persist", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return xerr.New(xerr.IO, "filter.persist", err)
	}
	if err := file.Close(); err != nil {
		return xerr.New(xerr.IO, "filter.persist", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return xerr.New(xerr.IO, "filter.persist", err)
	}
	return nil
}
