package oplog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"seacooler/internal/pager"
	"seacooler/internal/xerr"
)

// RecommendedDiff is the default snapshot staleness threshold.
const RecommendedDiff = 30

// MaxTry is how many recovery attempts a single record gets before
// quarantine.
const MaxTry = 5

// Applier is the tree-side half of recovery: Restorer decodes log
// records, Applier re-executes them against the live tree/filter.
// KVStore implements this; oplog stays unaware of btree/filter types
// to avoid an import cycle (KVStore already depends on oplog).
type Applier interface {
	Apply(kind Kind, key string, value []byte) error
}

// Restorer maintains a sibling snapshot directory and rolls the log
// forward on startup.
type Restorer struct {
	mu sync.Mutex

	nodesPath  string
	valuesPath string
	backupDir  string
	failLog    string
	log        *OpLog
	pager      *pager.Pager

	durableID     uint64
	durableOffset int64
}

const configDurableIDOff = 0
const configDurableOffsetOff = 8
const configSize = 16

// OpenRestorer loads (or initializes) a Restorer for the given live
// files, reading backupDir/N.restorer.config if present. p is the
// Pager that owns nodesPath/valuesPath; the Restorer flushes it before
// copying a snapshot and reloads it after restoring one, since a
// snapshot/restore operates on the files directly, underneath the
// Pager's own window cache.
func OpenRestorer(nodesPath, valuesPath, backupDir, failLogPath string, log *OpLog, p *pager.Pager) (*Restorer, error) {
	r := &Restorer{
		nodesPath:  nodesPath,
		valuesPath: valuesPath,
		backupDir:  backupDir,
		failLog:    failLogPath,
		log:        log,
		pager:      p,
	}

	cfgPath := filepath.Join(backupDir, "N.restorer.config")
	data, err := os.ReadFile(cfgPath)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, xerr.New(xerr.IO, "restorer.open", err)
	}
	if len(data) != configSize {
		return nil, xerr.New(xerr.Corruption, "restorer.open", fmt.Errorf("restorer config is %d bytes, want %d", len(data), configSize))
	}
	r.durableID = binary.BigEndian.Uint64(data[configDurableIDOff:])
	r.durableOffset = int64(binary.BigEndian.Uint64(data[configDurableOffsetOff:]))
	return r, nil
}

// Recover performs the startup recovery protocol: restore the
// snapshot, replay incomplete records, retry up to MaxTry, and
// quarantine anything that still hasn't succeeded.
func (r *Restorer) Recover(applier Applier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.restoreSnapshotLocked(); err != nil {
		return err
	}

	records, err := r.log.IncompleteFrom(r.durableOffset)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if rec.TryCount >= MaxTry {
			if err := r.quarantine(rec); err != nil {
				return err
			}
			continue
		}

		newTry, err := r.log.BumpTry(&rec.Handle)
		if err != nil {
			return err
		}

		applyErr := applier.Apply(rec.Kind, rec.Key, rec.Value)
		if applyErr == nil {
			if err := r.log.MarkComplete(&rec.Handle); err != nil {
				return err
			}
			continue
		}
		if newTry >= MaxTry {
			if err := r.quarantine(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Restorer) restoreSnapshotLocked() error {
	if _, err := os.Stat(r.backupDir); os.IsNotExist(err) {
		return nil
	}
	if err := copyFile(filepath.Join(r.backupDir, filepath.Base(r.nodesPath)), r.nodesPath); err != nil {
		return err
	}
	if err := copyFile(filepath.Join(r.backupDir, filepath.Base(r.valuesPath)), r.valuesPath); err != nil {
		return err
	}
	// The Pager may already hold an open window over the files just
	// overwritten (it is opened before Recover runs); without a
	// reload its stale cache would win on the next write and clobber
	// the restored snapshot.
	return r.pager.Reload()
}

// quarantine appends a human-readable description to fail log.flog and
// forces the record's completed byte to 1 so it is skipped on future
// boots.
func (r *Restorer) quarantine(rec *Record) error {
	f, err := os.OpenFile(r.failLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return xerr.New(xerr.IO, "restorer.quarantine", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "op_id=%d kind=%s key=%q try_count=%d offset=%d\n", rec.OpID, rec.Kind, rec.Key, rec.TryCount, rec.Offset)
	if err := w.Flush(); err != nil {
		return xerr.New(xerr.IO, "restorer.quarantine", err)
	}
	return r.log.ForceComplete(&rec.Handle)
}

// MaybeSnapshot copies the live node/value files into backupDir and
// advances the durable id/offset once the live op-id has drifted
// RecommendedDiff past the last snapshot.
func (r *Restorer) MaybeSnapshot() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := r.log.LastAssignedOpID()
	if live < r.durableID+RecommendedDiff {
		return nil
	}

	// The tree write for ops up to `live` may still sit only in the
	// Pager's window cache; flush it to the live files before copying
	// them, or the snapshot would capture stale bytes while the
	// durable offset advances past ops recoverable from neither the
	// snapshot nor the log.
	if err := r.pager.Flush(); err != nil {
		return err
	}

	if err := os.MkdirAll(r.backupDir, 0o755); err != nil {
		return xerr.New(xerr.IO, "restorer.snapshot", err)
	}
	if err := copyFile(r.nodesPath, filepath.Join(r.backupDir, filepath.Base(r.nodesPath))); err != nil {
		return err
	}
	if err := copyFile(r.valuesPath, filepath.Join(r.backupDir, filepath.Base(r.valuesPath))); err != nil {
		return err
	}

	r.durableID = live
	r.durableOffset = r.log.End()

	var cfg [configSize]byte
	binary.BigEndian.PutUint64(cfg[configDurableIDOff:], r.durableID)
	binary.BigEndian.PutUint64(cfg[configDurableOffsetOff:], uint64(r.durableOffset))
	cfgPath := filepath.Join(r.backupDir, "N.restorer.config")
	if err := os.WriteFile(cfgPath, cfg[:], 0o644); err != nil {
		return xerr.New(xerr.IO, "restorer.snapshot", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return xerr.New(xerr.IO, "restorer.copy_file", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return xerr.New(xerr.IO, "restorer.copy_file", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return xerr.New(xerr.IO, "restorer.copy_file", err)
	}
	return out.Sync()
}
