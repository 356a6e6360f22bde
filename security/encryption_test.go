package security

import (
	"bytes"
	"testing"
)

func TestEncryptor_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	ciphertext, err := enc.Encrypt("eyJhbGciOi.id-token")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if ciphertext == "eyJhbGciOi.id-token" {
		t.Fatal("Encrypt() returned plaintext")
	}

	plaintext, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plaintext != "eyJhbGciOi.id-token" {
		t.Errorf("Decrypt() = %q", plaintext)
	}
}

func TestEncryptor_Disabled(t *testing.T) {
	enc, err := NewEncryptor(nil)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	if enc.IsEnabled() {
		t.Error("encryptor with empty key should be disabled")
	}
	got, _ := enc.Encrypt("value")
	if got != "value" {
		t.Errorf("disabled Encrypt() = %q, want passthrough", got)
	}
}

func TestNewEncryptor_InvalidKey(t *testing.T) {
	if _, err := NewEncryptor(bytes.Repeat([]byte{1}, 16)); err == nil {
		t.Error("NewEncryptor() should reject a 16 byte key")
	}
}

func TestEncryptor_DecryptTampered(t *testing.T) {
	key, _ := GenerateKey()
	enc, _ := NewEncryptor(key)
	if _, err := enc.Decrypt("bm90LXZhbGlk"); err == nil {
		t.Error("Decrypt() should fail on garbage input")
	}
}
