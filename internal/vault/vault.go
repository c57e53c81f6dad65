// Package vault encrypts the exchange account password at rest so it does
// not have to live in the config file or the environment in clear text.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 1
)

// ErrWrongKey is returned when the file cannot be opened with the given key.
var ErrWrongKey = errors.New("vault: decryption failed (wrong key?)")

// sealedSecret is the on-disk format of an encrypted secret.
type sealedSecret struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// PasswordSource is where ResolvePassword looks for the account password.
type PasswordSource struct {
	// Plain is used as-is when set.
	Plain string
	// EncryptedPath is a file produced by Encrypt.
	EncryptedPath string
	// Key opens EncryptedPath.
	Key string
}

// Encrypt seals secret with key using PBKDF2-HMAC-SHA256 key derivation and
// AES-256-GCM. It returns the JSON blob to write to disk.
func Encrypt(secret, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("vault: key must not be empty")
	}
	if secret == "" {
		return nil, errors.New("vault: secret must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("vault: generating salt: %w", err)
	}

	gcm, err := newGCM(key, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: generating nonce: %w", err)
	}

	out := sealedSecret{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(secret), nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// Decrypt opens a blob produced by Encrypt.
func Decrypt(blob []byte, key string) (string, error) {
	if key == "" {
		return "", errors.New("vault: key must not be empty")
	}

	var stored sealedSecret
	if err := json.Unmarshal(blob, &stored); err != nil {
		return "", fmt.Errorf("vault: parsing sealed secret: %w", err)
	}
	if stored.Version != currentVersion {
		return "", fmt.Errorf("vault: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("vault: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("vault: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("vault: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(key, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("vault: nonce has %d bytes, want %d", len(nonce), gcm.NonceSize())
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrWrongKey, err)
	}
	return string(plaintext), nil
}

// EncryptToFile seals secret and writes it to path with owner-only
// permissions.
func EncryptToFile(path, secret, key string) error {
	blob, err := Encrypt(secret, key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("vault: writing %s: %w", path, err)
	}
	return nil
}

// ResolvePassword returns the account password.
//
// Resolution order:
//  1. Plain, if set.
//  2. EncryptedPath decrypted with Key.
//  3. Otherwise an error.
func ResolvePassword(src PasswordSource) (string, error) {
	if src.Plain != "" {
		return src.Plain, nil
	}
	if src.EncryptedPath != "" {
		data, err := os.ReadFile(src.EncryptedPath)
		if err != nil {
			return "", fmt.Errorf("vault: reading %s: %w", src.EncryptedPath, err)
		}
		return Decrypt(data, src.Key)
	}
	return "", errors.New("vault: no password source configured (set password or encrypted_password_path)")
}

func newGCM(key string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(key), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}
	return gcm, nil
}
