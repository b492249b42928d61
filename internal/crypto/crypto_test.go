package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncryptorRoundTrip(t *testing.T) {
	key, err := GenerateRandom(KeySize)
	if err != nil {
		t.Fatal(err)
	}
	enc := NewEncryptor(key)

	plain := []byte("vault state")
	cipher, err := enc.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	got, err := enc.Decrypt(cipher)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestDecryptTamper(t *testing.T) {
	key, _ := GenerateRandom(KeySize)
	enc := NewEncryptor(key)
	cipher, _ := enc.Encrypt([]byte("data"))

	cipher[len(cipher)-1] ^= 0xff
	if _, err := enc.Decrypt(cipher); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}

	if _, err := enc.Decrypt([]byte("short")); !errors.Is(err, ErrInvalidCiphertext) {
		t.Fatalf("expected ErrInvalidCiphertext, got %v", err)
	}
}

func TestSealOpen(t *testing.T) {
	blob, err := Seal([]byte("passphrase"), []byte("identity seed"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	got, err := Open([]byte("passphrase"), blob)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if string(got) != "identity seed" {
		t.Fatalf("round trip mismatch: %q", got)
	}

	if _, err := Open([]byte("wrong"), blob); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("wrong passphrase: expected ErrAuthFailed, got %v", err)
	}
	if _, err := Open([]byte("passphrase"), blob[:10]); !errors.Is(err, ErrInvalidCiphertext) {
		t.Fatalf("truncated blob: expected ErrInvalidCiphertext, got %v", err)
	}
}

func TestClearBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	ClearBytes(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not cleared", i)
		}
	}
}
