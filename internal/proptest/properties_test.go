// Package proptest runs cross-package property-style checks against
// the composed core packages, using testify's require for terser
// assertions than repeated `if err != nil { t.Fatal(...) }`.
package proptest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"seacooler/internal/btree"
	"seacooler/internal/cryptutil"
	"seacooler/internal/filter"
	"seacooler/internal/pager"
	"seacooler/internal/skiplist"
)

func openTree(t *testing.T) *btree.Tree {
	t.Helper()
	dir := t.TempDir()
	p, err := pager.Open(filepath.Join(dir, "n.mbpt"), filepath.Join(dir, "v.mbpt"))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return btree.OpenWithT(p, 2)
}

// TestSequenceOfMutationsTracksExactSet checks that after any sequence
// of insert/update/delete over unique keys, search returns exactly the
// last-written value (or nothing, if deleted).
func TestSequenceOfMutationsTracksExactSet(t *testing.T) {
	tr := openTree(t)
	want := map[string][]byte{}

	ops := []struct {
		kind  string
		key   string
		value string
	}{
		{"insert", "a", "1"},
		{"insert", "b", "2"},
		{"insert", "c", "3"},
		{"update", "a", "1b"},
		{"delete", "b", ""},
		{"insert", "d", "4"},
		{"update", "c", "3b"},
	}

	for _, op := range ops {
		switch op.kind {
		case "insert":
			require.NoError(t, tr.Insert(op.key, []byte(op.value)))
			want[op.key] = []byte(op.value)
		case "update":
			_, err := tr.Update(op.key, []byte(op.value))
			require.NoError(t, err)
			want[op.key] = []byte(op.value)
		case "delete":
			require.NoError(t, tr.Delete(op.key))
			delete(want, op.key)
		}

		for k, v := range want {
			got, ok, err := tr.Search(k)
			require.NoError(t, err)
			require.True(t, ok, "key %q should be present after %v", k, op)
			require.Equal(t, v, got)
		}
	}

	_, ok, err := tr.Search("b")
	require.NoError(t, err)
	require.False(t, ok, "deleted key should not be found")
}

// TestFilterHasNoFalseNegatives checks that every key added to the
// filter reports Contains=true.
func TestFilterHasNoFalseNegatives(t *testing.T) {
	f := filter.NewSized(256, 0.02)
	keys := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		k := string(rune('a'+i%26)) + string(rune('A'+(i/26)%26))
		keys = append(keys, k)
		require.NoError(t, f.Add(k))
	}
	for _, k := range keys {
		require.True(t, f.Contains(k), "no false negatives: %q must be reported present", k)
	}
}

// TestEncryptionRoundTrip checks encrypt-then-decrypt recovers the
// original plaintext, followed by its space padding, over a spread of
// value sizes.
func TestEncryptionRoundTrip(t *testing.T) {
	key := []byte("some sixteen byt")
	for _, size := range []int{0, 1, 15, 16, 17, 1024, 65536} {
		v := make([]byte, size)
		for i := range v {
			v[i] = byte(i % 256)
		}
		ct, err := cryptutil.Encrypt(key, v)
		require.NoError(t, err)
		pt, err := cryptutil.Decrypt(key, ct)
		require.NoError(t, err)
		require.Equal(t, v, pt[:len(v)])
	}
}

// TestAESFixedVector checks encryption against a known fixed
// key/plaintext pair.
func TestAESFixedVector(t *testing.T) {
	key := []byte{0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6, 0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c}
	plaintext := []byte("yellowbanana1234")

	ct, err := cryptutil.Encrypt(key, plaintext)
	require.NoError(t, err)
	pt, err := cryptutil.Decrypt(key, ct)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)
}

// TestSkipListPreservesMultisetAppendOrder checks that insert(k,[v1])
// then insert(k,[v2]) yields search(k) = [v1, v2].
func TestSkipListPreservesMultisetAppendOrder(t *testing.T) {
	dir := t.TempDir()
	sl, err := skiplist.Open(filepath.Join(dir, "i.skiplist.dat"), filepath.Join(dir, "i.skiplist.config"))
	require.NoError(t, err)
	t.Cleanup(func() { sl.Close() })

	require.NoError(t, sl.Insert("k", []uint64{1}))
	require.NoError(t, sl.Insert("k", []uint64{2}))

	got, err := sl.Search("k")
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, got)
}
