// Package cryptutil implements the KVStore's value encryption: AES-128
// as a pure function over whole 16-byte blocks, with space-padded
// plaintext and no IV or authentication. This is the one core
// component built directly on the standard library rather than a
// third-party crypto package: crypto/aes is the block cipher primitive
// itself, and no dependency in reach offers a drop-in
// ECB-with-space-padding mode, since that construction is
// intentionally non-standard and unauthenticated, so a general-purpose
// AEAD library would not fit the contract anyway.
package cryptutil

import (
	"crypto/aes"
	"fmt"

	"seacooler/internal/xerr"
)

const blockSize = 16

// normalizeKey null-pads a short key on the right or truncates a long
// one to exactly 16 bytes.
func normalizeKey(key []byte) []byte {
	out := make([]byte, blockSize)
	copy(out, key)
	return out
}

// padSpaces pads plaintext to a 16-byte multiple with ASCII spaces.
func padSpaces(plaintext []byte) []byte {
	rem := len(plaintext) % blockSize
	if rem == 0 {
		return plaintext
	}
	padded := make([]byte, len(plaintext)+(blockSize-rem))
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = ' '
	}
	return padded
}

// Encrypt space-pads plaintext and encrypts it block-by-block in ECB
// mode under key (normalized to 16 bytes).
func Encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return nil, xerr.New(xerr.Logic, "cryptutil.encrypt", err)
	}
	padded := padSpaces(plaintext)
	out := make([]byte, len(padded))
	for off := 0; off < len(padded); off += blockSize {
		block.Encrypt(out[off:off+blockSize], padded[off:off+blockSize])
	}
	return out, nil
}

// Decrypt is Encrypt's inverse. Callers that need the original,
// unpadded length must track it themselves (the pager's value-blob
// length prefix records the padded ciphertext length, not this one);
// Decrypt only undoes the block cipher, trailing space padding is left
// intact.
func Decrypt(key, ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%blockSize != 0 {
		return nil, xerr.New(xerr.Capacity, "cryptutil.decrypt", fmt.Errorf("ciphertext length %d is not a multiple of %d", len(ciphertext), blockSize))
	}
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return nil, xerr.New(xerr.Logic, "cryptutil.decrypt", err)
	}
	out := make([]byte, len(ciphertext))
	for off := 0; off < len(ciphertext); off += blockSize {
		block.Decrypt(out[off:off+blockSize], ciphertext[off:off+blockSize])
	}
	return out, nil
}
