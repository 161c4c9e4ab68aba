package statsdb

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Encrypted backup layout:
//   magic  "WGSB\x01" (5 bytes)
//   salt   32 bytes, Argon2id
//   nonce  12 bytes, AES-256-GCM
//   sealed snapshot (ciphertext + 16-byte tag)

var encryptedMagic = []byte("WGSB\x01")

const (
	saltSize  = 32
	nonceSize = 12
)

func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 3, 64*1024, 4, 32)
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("statsdb: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("statsdb: gcm: %w", err)
	}
	return gcm, nil
}

// EncryptBackup seals the snapshot read from r with password and writes it to w.
func EncryptBackup(w io.Writer, r io.Reader, password string) error {
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("statsdb: read snapshot: %w", err)
	}

	header := make([]byte, len(encryptedMagic)+saltSize+nonceSize)
	copy(header, encryptedMagic)
	salt := header[len(encryptedMagic) : len(encryptedMagic)+saltSize]
	nonce := header[len(encryptedMagic)+saltSize:]
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("statsdb: generate salt: %w", err)
	}
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("statsdb: generate nonce: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return err
	}
	if _, err := w.Write(gcm.Seal(header, nonce, plaintext, nil)); err != nil {
		return fmt.Errorf("statsdb: write backup: %w", err)
	}
	return nil
}

// DecryptBackup opens an encrypted backup and writes the snapshot to w.
func DecryptBackup(w io.Writer, data []byte, password string) error {
	if !IsEncryptedBackup(data) {
		return fmt.Errorf("statsdb: not an encrypted backup")
	}
	header := len(encryptedMagic) + saltSize + nonceSize
	if len(data) < header {
		return fmt.Errorf("statsdb: encrypted backup too short")
	}
	salt := data[len(encryptedMagic) : len(encryptedMagic)+saltSize]
	nonce := data[len(encryptedMagic)+saltSize : header]

	gcm, err := newGCM(password, salt)
	if err != nil {
		return err
	}
	plaintext, err := gcm.Open(nil, nonce, data[header:], nil)
	if err != nil {
		return fmt.Errorf("statsdb: decryption failed (wrong password?): %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("statsdb: write snapshot: %w", err)
	}
	return nil
}

// IsEncryptedBackup reports whether data starts with the backup magic.
func IsEncryptedBackup(data []byte) bool {
	return bytes.HasPrefix(data, encryptedMagic)
}
