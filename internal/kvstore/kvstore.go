// Package kvstore implements the KVStore facade: the single entry
// point composing the pager, B+tree, approximate filter, operation
// log + restorer, secondary skip-list index, worker pool and
// Overwatch callback registry into one encrypted, crash-consistent
// store.
//
// The per-call protocol (validate, encrypt, log, apply, mark
// complete, notify) and the fixed op_log -> tree -> filter -> overwatch
// lock order give the store its durability and ordering guarantees:
// wherever one of these locks is taken while another is held, they
// nest in that order, so no two calls can deadlock against each other.
// (Select takes the filter lock and then the tree lock one after the
// other, never both at once.)
package kvstore

import (
	"fmt"
	"path/filepath"
	"sync"

	"seacooler/internal/btree"
	"seacooler/internal/cryptutil"
	"seacooler/internal/filter"
	"seacooler/internal/oplog"
	"seacooler/internal/overwatch"
	"seacooler/internal/pager"
	"seacooler/internal/skiplist"
	"seacooler/internal/workerpool"
	"seacooler/internal/xerr"
)

// Config controls how a store's files are laid out and sized.
type Config struct {
	Dir           string
	Key           []byte // AES key, normalized by cryptutil
	FilterN       uint64
	FilterEpsilon float64
	Workers       int
}

func (c Config) withDefaults() Config {
	if c.FilterN == 0 {
		c.FilterN = 4 * 1024 * 1024
	}
	if c.FilterEpsilon == 0 {
		c.FilterEpsilon = 0.02
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	return c
}

// Store is the encrypted, crash-consistent KV facade.
type Store struct {
	cfg Config

	pager *pager.Pager

	treeMu sync.Mutex
	tree   *btree.Tree

	filterMu sync.Mutex
	filt     *filter.Filter

	log      *oplog.OpLog
	restorer *oplog.Restorer

	index *skiplist.SkipList
	watch *overwatch.Registry
	pool  *workerpool.Pool
}

// Open brings up a store rooted at cfg.Dir, replaying any incomplete
// operations from the log before returning.
func Open(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	p, err := pager.Open(filepath.Join(cfg.Dir, "store.nodes"), filepath.Join(cfg.Dir, "store.values"))
	if err != nil {
		return nil, err
	}
	tr := btree.Open(p)

	f, err := filter.Open(filepath.Join(cfg.Dir, "store.filter"), cfg.FilterN, cfg.FilterEpsilon)
	if err != nil {
		return nil, err
	}

	idx, err := skiplist.Open(filepath.Join(cfg.Dir, "store.skiplist.dat"), filepath.Join(cfg.Dir, "store.skiplist.config"))
	if err != nil {
		return nil, err
	}

	l, err := oplog.Open(filepath.Join(cfg.Dir, "store.oplog"))
	if err != nil {
		return nil, err
	}

	r, err := oplog.OpenRestorer(
		filepath.Join(cfg.Dir, "store.nodes"),
		filepath.Join(cfg.Dir, "store.values"),
		filepath.Join(cfg.Dir, "store.backup"),
		filepath.Join(cfg.Dir, "fail log.flog"),
		l,
		p,
	)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:      cfg,
		pager:    p,
		tree:     tr,
		filt:     f,
		log:      l,
		restorer: r,
		index:    idx,
		watch:    overwatch.New(),
		pool:     workerpool.New(cfg.Workers),
	}

	if err := s.restorer.Recover(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Close stops the worker pool (draining queued work), persists a final
// snapshot if due, and flushes + closes every backing file.
func (s *Store) Close() error {
	s.pool.Stop()
	if err := s.restorer.MaybeSnapshot(); err != nil {
		return err
	}
	if err := s.index.Close(); err != nil {
		return err
	}
	if err := s.log.Close(); err != nil {
		return err
	}
	return s.pager.Close()
}

// Subscribe registers Overwatch callbacks for key.
func (s *Store) Subscribe(key string, onUpdate, onDelete overwatch.Callback) {
	if onUpdate != nil {
		s.watch.OnUpdate(key, onUpdate)
	}
	if onDelete != nil {
		s.watch.OnDelete(key, onDelete)
	}
}

// Insert stores a new key, failing if it already exists.
func (s *Store) Insert(key string, value []byte) error {
	return s.mutate(oplog.KindInsert, key, value)
}

// Update replaces an existing key's value, failing if it is absent.
func (s *Store) Update(key string, value []byte) error {
	return s.mutate(oplog.KindUpdate, key, value)
}

// Delete removes an existing key, failing if it is absent.
func (s *Store) Delete(key string) error {
	return s.mutate(oplog.KindDelete, key, nil)
}

// Select returns the value stored under key. The approximate filter
// lets an absent key short-circuit before ever touching the tree.
func (s *Store) Select(key string) ([]byte, bool, error) {
	if _, err := s.log.Log(oplog.KindSelect, key, nil); err != nil {
		return nil, false, err
	}

	s.filterMu.Lock()
	maybePresent := s.filt.Contains(key)
	s.filterMu.Unlock()
	if !maybePresent {
		return nil, false, nil
	}

	s.treeMu.Lock()
	ciphertext, ok, err := s.tree.Search(key)
	s.treeMu.Unlock()
	if err != nil || !ok {
		return nil, ok, err
	}

	plaintext, err := cryptutil.Decrypt(s.cfg.Key, ciphertext)
	if err != nil {
		return nil, false, err
	}
	return plaintext, true, nil
}

// InsertAsync, UpdateAsync and DeleteAsync submit the same mutation to
// the worker pool and return a future for its error.
func (s *Store) InsertAsync(key string, value []byte) *workerpool.Future[error] {
	return workerpool.Compute(s.pool, func() error { return s.Insert(key, value) })
}

func (s *Store) UpdateAsync(key string, value []byte) *workerpool.Future[error] {
	return workerpool.Compute(s.pool, func() error { return s.Update(key, value) })
}

func (s *Store) DeleteAsync(key string) *workerpool.Future[error] {
	return workerpool.Compute(s.pool, func() error { return s.Delete(key) })
}

// mutate runs the common insert/update/delete protocol: log -> apply
// to tree+filter -> mark complete -> notify Overwatch. Lock order is
// fixed at
// op_log -> tree -> filter -> overwatch, op_log's own mutex is
// internal to *oplog.OpLog and overwatch's is internal to
// *overwatch.Registry, so this function only needs to acquire treeMu
// then filterMu itself, in that order, to hold the line.
func (s *Store) mutate(kind oplog.Kind, key string, value []byte) error {
	var encrypted []byte
	if kind == oplog.KindInsert || kind == oplog.KindUpdate {
		ct, err := cryptutil.Encrypt(s.cfg.Key, value)
		if err != nil {
			return err
		}
		encrypted = ct
	}

	handle, err := s.log.Log(kind, key, encrypted)
	if err != nil {
		return err
	}

	if err := s.applyLocked(kind, key, encrypted); err != nil {
		return err
	}

	// The tree write above only lands in the Pager's in-memory window
	// cache; it must be durable before the record is marked complete,
	// or a crash here would leave completed=1 with the tree write
	// recoverable from neither the pager nor (now-skipped) replay.
	if err := s.pager.Flush(); err != nil {
		return err
	}

	if err := s.log.MarkComplete(handle); err != nil {
		return err
	}

	if err := s.restorer.MaybeSnapshot(); err != nil {
		return err
	}

	switch kind {
	case oplog.KindInsert, oplog.KindUpdate:
		s.watch.NotifyUpdate(key, value)
	case oplog.KindDelete:
		s.watch.NotifyDelete(key)
	}
	return nil
}

// applyLocked performs the actual tree/filter mutation for kind, under
// the tree -> filter lock order. It is also the oplog.Applier entry
// point used during crash recovery, where value already holds the
// ciphertext read back from the log.
func (s *Store) applyLocked(kind oplog.Kind, key string, value []byte) error {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	switch kind {
	case oplog.KindInsert:
		if err := s.tree.Insert(key, value); err != nil {
			return err
		}
		s.filterMu.Lock()
		err := s.filt.Add(key)
		s.filterMu.Unlock()
		if err != nil {
			return err
		}
		return nil

	case oplog.KindUpdate:
		if _, err := s.tree.Update(key, value); err != nil {
			return err
		}
		return nil

	case oplog.KindDelete:
		if err := s.tree.Delete(key); err != nil {
			return err
		}
		return nil

	case oplog.KindSelect:
		return nil

	default:
		return xerr.New(xerr.Logic, "kvstore.apply", fmt.Errorf("unknown op kind %v", kind))
	}
}

// Apply implements oplog.Applier for Restorer.Recover: it replays a
// logged mutation against the tree/filter without re-appending a new
// log record (the record being replayed already IS the log record).
func (s *Store) Apply(kind oplog.Kind, key string, value []byte) error {
	return s.applyLocked(kind, key, value)
}

// IndexField records that key carries the given field value, so future
// lookups by that value can find key via the secondary skip-list index.
func (s *Store) IndexField(fieldValue string, keyID uint64) error {
	return s.index.Insert(fieldValue, []uint64{keyID})
}

// LookupField returns the key ids indexed under fieldValue.
func (s *Store) LookupField(fieldValue string) ([]uint64, error) {
	return s.index.Search(fieldValue)
}

// UnindexField removes fieldValue's secondary-index entry entirely.
func (s *Store) UnindexField(fieldValue string) error {
	return s.index.Delete(fieldValue)
}
