package cryptutil

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	plaintext := []byte("hello, seacooler")

	ct, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := Decrypt(key, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(pt[:len(plaintext)], plaintext) {
		t.Fatalf("round trip = %q, want %q", pt[:len(plaintext)], plaintext)
	}
}

func TestFixedVector(t *testing.T) {
	key, err := hex.DecodeString("2b7e151628aed2a6abf7158809cf4f3c")
	if err != nil {
		t.Fatalf("hex.DecodeString: %v", err)
	}
	plaintext := []byte("yellowbanana1234")

	ct, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := Decrypt(key, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("decrypt(encrypt(p,k),k) = %q, want %q", pt, plaintext)
	}
}

func TestShortAndLongKeysNormalize(t *testing.T) {
	plaintext := padSpaces([]byte("exactly16bytes!!"))

	shortKey := []byte("short")
	ct1, err := Encrypt(shortKey, plaintext)
	if err != nil {
		t.Fatalf("Encrypt short key: %v", err)
	}
	pt1, err := Decrypt(shortKey, ct1)
	if err != nil || !bytes.Equal(pt1, plaintext) {
		t.Fatalf("short-key round trip failed: %v", err)
	}

	longKey := []byte("this key is way longer than sixteen bytes")
	ct2, err := Encrypt(longKey, plaintext)
	if err != nil {
		t.Fatalf("Encrypt long key: %v", err)
	}
	pt2, err := Decrypt(longKey, ct2)
	if err != nil || !bytes.Equal(pt2, plaintext) {
		t.Fatalf("long-key round trip failed: %v", err)
	}
}

func TestRejectsMisalignedCiphertext(t *testing.T) {
	if _, err := Decrypt([]byte("k"), []byte("not sixteen")); err == nil {
		t.Fatalf("expected Decrypt to reject a non-block-aligned ciphertext")
	}
}
