package session

import "testing"

func TestEncryptorRoundTrip(t *testing.T) {
	enc, err := NewEncryptor("correct horse battery staple")
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	plaintext := []byte(`{"name":"example"}`)
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !looksEncrypted(ciphertext) {
		t.Error("expected encrypted output to carry the magic prefix")
	}

	decrypted, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Errorf("round trip mismatch: got %q, want %q", decrypted, plaintext)
	}
}

func TestEncryptorWrongKeyFails(t *testing.T) {
	enc1, _ := NewEncryptor("key-one")
	enc2, _ := NewEncryptor("key-two")

	ciphertext, _ := enc1.Encrypt([]byte("secret"))
	if _, err := enc2.Decrypt(ciphertext); err == nil {
		t.Error("expected decrypt with the wrong key to fail")
	}
}

func TestNewEncryptorRejectsEmptyKey(t *testing.T) {
	if _, err := NewEncryptor(""); err == nil {
		t.Error("expected error for empty passphrase")
	}
}

func TestLooksEncryptedFalseForPlainJSON(t *testing.T) {
	if looksEncrypted([]byte(`{"name":"a"}`)) {
		t.Error("expected plain JSON to not look encrypted")
	}
}
