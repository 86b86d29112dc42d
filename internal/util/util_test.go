package util

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func TestKeyWrapRoundTrip(t *testing.T) {
	kek, _ := RandomBytes(KEKSize)
	dek, _ := NewDEK()

	wrapped, err := WrapKey(kek, dek)
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}
	if len(wrapped) != WrappedKeySize {
		t.Fatalf("wrapped size = %d, want %d", len(wrapped), WrappedKeySize)
	}

	unwrapped, err := UnwrapKey(kek, wrapped)
	if err != nil {
		t.Fatalf("UnwrapKey failed: %v", err)
	}
	if !bytes.Equal(dek, unwrapped) {
		t.Error("unwrapped key does not match original")
	}
}

func TestKeyWrapRFC3394Vector(t *testing.T) {
	// RFC 3394 §4.6: 256-bit key data with a 256-bit KEK.
	kek, _ := hex.DecodeString("000102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D1E1F")
	key, _ := hex.DecodeString("00112233445566778899AABBCCDDEEFF000102030405060708090A0B0C0D0E0F")
	want, _ := hex.DecodeString("28C9F404C4B810F4CBCCB35CFB87F8263F5786E2D80ED326CBC7F0E71A99F43BFB988B9B7A02DD21")

	wrapped, err := WrapKey(kek, key)
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}
	if !bytes.Equal(wrapped, want) {
		t.Errorf("wrapped = %x, want %x", wrapped, want)
	}

	unwrapped, err := UnwrapKey(kek, wrapped)
	if err != nil {
		t.Fatalf("UnwrapKey failed: %v", err)
	}
	if !bytes.Equal(unwrapped, key) {
		t.Errorf("unwrapped = %x, want %x", unwrapped, key)
	}
}

func TestKeyWrapWrongKEK(t *testing.T) {
	kek, _ := RandomBytes(KEKSize)
	other, _ := RandomBytes(KEKSize)
	dek, _ := NewDEK()

	wrapped, err := WrapKey(kek, dek)
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}

	_, err = UnwrapKey(other, wrapped)
	if !errors.Is(err, ErrUnwrapFailed) {
		t.Errorf("expected ErrUnwrapFailed, got %v", err)
	}
}

func TestKeyWrapTampered(t *testing.T) {
	kek, _ := RandomBytes(KEKSize)
	dek, _ := NewDEK()

	wrapped, _ := WrapKey(kek, dek)
	wrapped[WrappedKeySize-1] ^= 0x01
	if _, err := UnwrapKey(kek, wrapped); !errors.Is(err, ErrUnwrapFailed) {
		t.Errorf("expected ErrUnwrapFailed, got %v", err)
	}
}

func TestKeyWrapRejectsBadSizes(t *testing.T) {
	if _, err := WrapKey(make([]byte, 16), make([]byte, 32)); err == nil {
		t.Error("expected error for short KEK")
	}
	if _, err := WrapKey(make([]byte, 32), make([]byte, 24)); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := UnwrapKey(make([]byte, 32), make([]byte, 39)); err == nil {
		t.Error("expected error for short wrapped key")
	}
}

func TestAESWithAAD(t *testing.T) {
	key, _ := RandomBytes(AESKeySize)
	plainText := []byte("123456")
	aad := []byte("slot:token-pin")

	cipherText, err := EncryptAESWithAAD(plainText, key, aad)
	if err != nil {
		t.Fatalf("EncryptAESWithAAD failed: %v", err)
	}

	decrypted, err := DecryptAESWithAAD(cipherText, key, aad)
	if err != nil {
		t.Fatalf("DecryptAESWithAAD failed: %v", err)
	}
	if !bytes.Equal(plainText, decrypted) {
		t.Errorf("expected %s, got %s", plainText, decrypted)
	}

	if _, err := DecryptAESWithAAD(cipherText, key, []byte("wrong")); err == nil {
		t.Error("expected error with wrong AAD, got nil")
	}
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	WipeBytes(b)
	if !bytes.Equal(b, []byte{0, 0, 0, 0}) {
		t.Errorf("WipeBytes left %v", b)
	}
}

func TestXorInPlace(t *testing.T) {
	a := []byte{0xFF, 0x00, 0xAA}
	b := []byte{0x0F, 0xF0, 0xAA}
	if err := XorInPlace(a, b); err != nil {
		t.Fatalf("XorInPlace failed: %v", err)
	}
	if !bytes.Equal(a, []byte{0xF0, 0xF0, 0x00}) {
		t.Errorf("XorInPlace result %v", a)
	}
	if err := XorInPlace(a, []byte{1}); err == nil {
		t.Error("expected length mismatch error")
	}
}

func TestNormalize(t *testing.T) {
	// Precomposed U+00E9 and e + combining U+0301 must normalize identically.
	if Normalize("caf\u00e9") != Normalize("cafe\u0301") {
		t.Error("NFKD normalization mismatch")
	}
}

func TestLockUnlockBytes(t *testing.T) {
	b, _ := RandomBytes(64)
	LockBytes(b) // must not panic or fail hard
	UnlockBytes(b)
}
