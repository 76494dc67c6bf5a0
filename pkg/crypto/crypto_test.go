package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	if !VerifyPassword(hash, "secret") {
		t.Fatal("expected password verification to succeed")
	}
	if VerifyPassword(hash, "incorrect") {
		t.Fatal("expected password verification to fail")
	}
	if VerifyPassword("", "secret") {
		t.Fatal("expected empty hash to never verify")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	key := bytes.Repeat([]byte{0x1}, 32)
	plaintext := []byte("sensitive data")

	encoded, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("encrypt error: %v", err)
	}
	if strings.Contains(encoded, "sensitive") {
		t.Fatal("expected ciphertext to hide plaintext")
	}

	decrypted, err := Decrypt(encoded, key)
	if err != nil {
		t.Fatalf("decrypt error: %v", err)
	}
	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("expected decrypted plaintext to match original, got %s", decrypted)
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	encoded, err := Encrypt([]byte("payload"), bytes.Repeat([]byte{0x1}, 32))
	if err != nil {
		t.Fatalf("encrypt error: %v", err)
	}

	if _, err := Decrypt(encoded, bytes.Repeat([]byte{0x2}, 32)); err == nil {
		t.Fatal("expected decrypt with another key to fail")
	}
}

func TestDecryptShortPayload(t *testing.T) {
	_, err := Decrypt("AAAA", bytes.Repeat([]byte{0x1}, 32))
	if !errors.Is(err, ErrCiphertextTooShort) {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if len(token) == 0 {
		t.Fatal("expected token to be non-empty")
	}
}

func TestRandomString(t *testing.T) {
	const alphabet = "abc123"
	value, err := RandomString(12, alphabet)
	if err != nil {
		t.Fatalf("random string error: %v", err)
	}
	if len(value) != 12 {
		t.Fatalf("expected 12 characters, got %d", len(value))
	}
	for _, r := range value {
		if !strings.ContainsRune(alphabet, r) {
			t.Fatalf("unexpected rune %q", r)
		}
	}

	if _, err := RandomString(0, alphabet); err == nil {
		t.Fatal("expected zero length to fail")
	}
}
