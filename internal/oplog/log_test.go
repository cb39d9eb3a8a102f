package oplog

import (
	"path/filepath"
	"testing"
)

func TestLogAndScan(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "N.oplogger"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	h1, err := l.Log(KindInsert, "alpha", []byte("one"))
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	h2, err := l.Log(KindDelete, "beta", nil)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if h1.OpID != 0 || h2.OpID != 1 {
		t.Fatalf("op ids = %d, %d, want 0, 1", h1.OpID, h2.OpID)
	}

	if err := l.MarkComplete(h1); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}

	incomplete, err := l.IncompleteFrom(0)
	if err != nil {
		t.Fatalf("IncompleteFrom: %v", err)
	}
	if len(incomplete) != 1 || incomplete[0].OpID != 1 {
		t.Fatalf("IncompleteFrom = %v, want just op 1", incomplete)
	}

	last, err := l.LastCompletedAfter(0)
	if err != nil {
		t.Fatalf("LastCompletedAfter: %v", err)
	}
	if last == nil || last.OpID != 0 {
		t.Fatalf("LastCompletedAfter = %v, want op 0", last)
	}
}

func TestBumpTry(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "N.oplogger"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	h, err := l.Log(KindUpdate, "k", []byte("v"))
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	for want := uint64(1); want <= 3; want++ {
		got, err := l.BumpTry(h)
		if err != nil {
			t.Fatalf("BumpTry: %v", err)
		}
		if got != want {
			t.Fatalf("BumpTry = %d, want %d", got, want)
		}
	}
}

func TestReopenRecoversNextOpID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "N.oplogger")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := l.Log(KindSelect, "k", nil); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	h, err := l2.Log(KindSelect, "k", nil)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if h.OpID != 5 {
		t.Fatalf("OpID after reopen = %d, want 5", h.OpID)
	}
}
