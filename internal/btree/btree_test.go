package btree

import (
	"fmt"
	"path/filepath"
	"testing"

	"seacooler/internal/pager"
)

func openTestTree(t *testing.T, treeT int) *Tree {
	t.Helper()
	dir := t.TempDir()
	p, err := pager.Open(filepath.Join(dir, "nodes.db"), filepath.Join(dir, "values.db"))
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	if treeT == 0 {
		return Open(p)
	}
	return OpenWithT(p, treeT)
}

func TestInsertSearchRoundTrip(t *testing.T) {
	tr := openTestTree(t, 0)

	if err := tr.Insert("alpha", []byte("one")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tr.Insert("beta", []byte("two")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	v, ok, err := tr.Search("alpha")
	if err != nil || !ok || string(v) != "one" {
		t.Fatalf("Search(alpha) = %q, %v, %v", v, ok, err)
	}

	_, ok, err = tr.Search("missing")
	if err != nil || ok {
		t.Fatalf("Search(missing) should miss, got ok=%v err=%v", ok, err)
	}
}

func TestInsertDuplicateFails(t *testing.T) {
	tr := openTestTree(t, 0)
	if err := tr.Insert("k", []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tr.Insert("k", []byte("v2")); err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}
}

func TestUpdateAndDelete(t *testing.T) {
	tr := openTestTree(t, 0)
	if err := tr.Insert("k", []byte("v1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	old, err := tr.Update("k", []byte("v2"))
	if err != nil || string(old) != "v1" {
		t.Fatalf("Update = %q, %v", old, err)
	}
	v, ok, err := tr.Search("k")
	if err != nil || !ok || string(v) != "v2" {
		t.Fatalf("Search after update = %q, %v, %v", v, ok, err)
	}

	if err := tr.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err = tr.Search("k")
	if err != nil || ok {
		t.Fatalf("Search after delete should miss, got ok=%v", ok)
	}

	if err := tr.Delete("k"); err == nil {
		t.Fatalf("expected delete of missing key to fail")
	}
}

// TestSplitAtSmallT exercises node splitting with a tiny branching
// factor so a handful of inserts force several splits and a root
// promotion, mirroring the original project's t=2 smoke tests.
func TestSplitAtSmallT(t *testing.T) {
	tr := openTestTree(t, 2)

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	for _, k := range keys {
		if err := tr.Insert(k, []byte("v-"+k)); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}
	for _, k := range keys {
		v, ok, err := tr.Search(k)
		if err != nil || !ok || string(v) != "v-"+k {
			t.Fatalf("Search(%s) = %q, %v, %v", k, v, ok, err)
		}
	}
}

func TestDeleteAlternateKeysAtSmallT(t *testing.T) {
	tr := openTestTree(t, 2)

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, k := range keys {
		if err := tr.Insert(k, []byte(k)); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}
	for _, k := range []string{"a", "c", "e", "g"} {
		if err := tr.Delete(k); err != nil {
			t.Fatalf("Delete(%s): %v", k, err)
		}
	}
	for _, k := range []string{"b", "d", "f", "h"} {
		v, ok, err := tr.Search(k)
		if err != nil || !ok || string(v) != k {
			t.Fatalf("Search(%s) after deletes = %q, %v, %v", k, v, ok, err)
		}
	}
	for _, k := range []string{"a", "c", "e", "g"} {
		_, ok, err := tr.Search(k)
		if err != nil || ok {
			t.Fatalf("Search(%s) should miss after delete, got ok=%v", k, ok)
		}
	}
}

func TestRangeScanOrdered(t *testing.T) {
	tr := openTestTree(t, 2)
	keys := []string{"c", "a", "e", "b", "d", "g", "f"}
	for _, k := range keys {
		if err := tr.Insert(k, []byte(k)); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}

	it, err := tr.Range("b", "f")
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	var got []string
	for it.Next() {
		got = append(got, it.Key())
	}
	if it.Err() != nil {
		t.Fatalf("iterator error: %v", it.Err())
	}
	want := []string{"b", "c", "d", "e"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("Range(b,f) = %v, want %v", got, want)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.db")
	valuesPath := filepath.Join(dir, "values.db")

	p, err := pager.Open(nodesPath, valuesPath)
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	tr := Open(p)
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("key-%03d", i)
		if err := tr.Insert(k, []byte(k)); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2, err := pager.Open(nodesPath, valuesPath)
	if err != nil {
		t.Fatalf("reopen pager.Open: %v", err)
	}
	defer p2.Close()
	tr2 := Open(p2)
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("key-%03d", i)
		v, ok, err := tr2.Search(k)
		if err != nil || !ok || string(v) != k {
			t.Fatalf("Search(%s) after reopen = %q, %v, %v", k, v, ok, err)
		}
	}
}
