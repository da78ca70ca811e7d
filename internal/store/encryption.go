package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"dmrelay/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

// encryptor provides optional at-rest encryption for queued message fields.
// Peer identifiers use a deterministic nonce so equality lookups still work
// against ciphertext; content uses a random nonce.
type encryptor struct {
	gcm cipher.AEAD
	key []byte
}

func newEncryptor() (*encryptor, error) {
	if os.Getenv("DMRELAY_ENABLE_ENCRYPTION") != "true" {
		return &encryptor{}, nil
	}

	secret := os.Getenv("DMRELAY_SECRET_KEY")
	if len(secret) < 16 {
		return nil, fmt.Errorf("DMRELAY_SECRET_KEY must be at least 16 characters when encryption is enabled")
	}

	key := pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), constants.PBKDF2Iterations, constants.KeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm, key: key}, nil
}

func (e *encryptor) enabled() bool {
	return e.gcm != nil
}

func (e *encryptor) encrypt(plaintext string) (string, error) {
	if plaintext == "" || !e.enabled() {
		return plaintext, nil
	}

	nonce := make([]byte, constants.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// encryptForLookup derives the nonce from the plaintext so the same input
// always produces the same ciphertext. Required for WHERE-clause equality;
// only used for peer/user identifiers, never message content.
func (e *encryptor) encryptForLookup(plaintext string) (string, error) {
	if plaintext == "" || !e.enabled() {
		return plaintext, nil
	}

	sum := sha256.Sum256(append(e.key, []byte(plaintext)...))
	nonce := sum[:constants.NonceSize]

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil) // #nosec G407 - Deterministic nonce required for searchable encryption
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

func (e *encryptor) decrypt(encoded string) (string, error) {
	if encoded == "" || !e.enabled() {
		return encoded, nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(data) < constants.NonceSize {
		return "", fmt.Errorf("ciphertext shorter than nonce")
	}

	nonce, ciphertext := data[:constants.NonceSize], data[constants.NonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
