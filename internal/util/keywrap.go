package util

import (
	"crypto/aes"
	"encoding/binary"
	"errors"
	"fmt"
)

// AES-256 Key Wrap (RFC 3394 / NIST SP 800-38F). Wrapping a 32-byte key
// yields 40 bytes: the key plus a 64-bit integrity check value. Unwrap
// recomputes the check value and fails without revealing which round
// diverged, so a wrong KEK is indistinguishable from corrupted ciphertext.

const (
	// KEKSize is the key-encryption-key size in bytes.
	KEKSize = 32
	// DEKSize is the data-encryption-key size in bytes.
	DEKSize = 32
	// WrappedKeySize is DEKSize plus the 8-byte integrity block.
	WrappedKeySize = 40
)

// ErrUnwrapFailed is returned when the integrity check fails during unwrap.
// It deliberately carries no detail about the failure mode.
var ErrUnwrapFailed = errors.New("key unwrap integrity check failed")

// kwIV is the initial value from RFC 3394 §2.2.3.1.
var kwIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// WrapKey wraps a 32-byte key under a 32-byte KEK.
func WrapKey(kek, key []byte) ([]byte, error) {
	if len(kek) != KEKSize {
		return nil, fmt.Errorf("invalid KEK size: got %d, want %d", len(kek), KEKSize)
	}
	if len(key) != DEKSize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), DEKSize)
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	n := len(key) / 8
	r := make([][8]byte, n)
	for i := range r {
		copy(r[i][:], key[i*8:])
	}

	var a [8]byte
	copy(a[:], kwIV[:])

	var buf [16]byte
	for j := 0; j < 6; j++ {
		for i := 0; i < n; i++ {
			copy(buf[:8], a[:])
			copy(buf[8:], r[i][:])
			block.Encrypt(buf[:], buf[:])
			t := uint64(n*j + i + 1)
			binary.BigEndian.PutUint64(a[:], binary.BigEndian.Uint64(buf[:8])^t)
			copy(r[i][:], buf[8:])
		}
	}

	out := make([]byte, 0, WrappedKeySize)
	out = append(out, a[:]...)
	for i := 0; i < n; i++ {
		out = append(out, r[i][:]...)
	}
	return out, nil
}

// UnwrapKey unwraps a 40-byte wrapped key under a 32-byte KEK. A wrong KEK
// or tampered ciphertext yields ErrUnwrapFailed.
func UnwrapKey(kek, wrapped []byte) ([]byte, error) {
	if len(kek) != KEKSize {
		return nil, fmt.Errorf("invalid KEK size: got %d, want %d", len(kek), KEKSize)
	}
	if len(wrapped) != WrappedKeySize {
		return nil, fmt.Errorf("invalid wrapped key size: got %d, want %d", len(wrapped), WrappedKeySize)
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	n := (len(wrapped) / 8) - 1
	var a [8]byte
	copy(a[:], wrapped[:8])
	r := make([][8]byte, n)
	for i := range r {
		copy(r[i][:], wrapped[(i+1)*8:])
	}

	var buf [16]byte
	for j := 5; j >= 0; j-- {
		for i := n - 1; i >= 0; i-- {
			t := uint64(n*j + i + 1)
			binary.BigEndian.PutUint64(buf[:8], binary.BigEndian.Uint64(a[:])^t)
			copy(buf[8:], r[i][:])
			block.Decrypt(buf[:], buf[:])
			copy(a[:], buf[:8])
			copy(r[i][:], buf[8:])
		}
	}

	if !ConstantTimeEqual(a[:], kwIV[:]) {
		return nil, ErrUnwrapFailed
	}

	key := make([]byte, 0, DEKSize)
	for i := 0; i < n; i++ {
		key = append(key, r[i][:]...)
		WipeBytes(r[i][:])
	}
	return key, nil
}
