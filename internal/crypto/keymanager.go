// Package crypto seals the exchange API token at rest with a password.
package crypto

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
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the OWASP-recommended minimum for HMAC-SHA256.
	DefaultIterations = 480_000
	saltLen           = 16
	aesKeyLen         = 32
	currentVersion    = 1
)

// ErrNoToken is returned when no token source is configured.
var ErrNoToken = errors.New("crypto: no api token configured")

// sealedToken is the on-disk format of an encrypted token.
type sealedToken struct {
	Version    int    `json:"version"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// TokenSource says where to find the exchange token.
type TokenSource struct {
	// Raw is returned as-is when non-empty.
	Raw string
	// Path is a file written by SealToken, opened with Password.
	Path     string
	Password string
}

// SealToken encrypts token with a key derived from password using
// PBKDF2-HMAC-SHA256 and AES-256-GCM. iterations <= 0 uses DefaultIterations.
func SealToken(token, password string, iterations int) ([]byte, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("crypto: token must not be empty")
	}
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt, iterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	return json.MarshalIndent(sealedToken{
		Version:    currentVersion,
		Iterations: iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(token), nil)),
	}, "", "  ")
}

// OpenToken decrypts a blob produced by SealToken.
func OpenToken(sealed []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var st sealedToken
	if err := json.Unmarshal(sealed, &st); err != nil {
		return "", fmt.Errorf("crypto: parsing sealed token: %w", err)
	}
	if st.Version != currentVersion {
		return "", fmt.Errorf("crypto: unsupported version %d", st.Version)
	}
	if st.Iterations <= 0 {
		st.Iterations = DefaultIterations
	}

	var salt, nonce, ciphertext []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", st.Salt, &salt},
		{"nonce", st.Nonce, &nonce},
		{"ciphertext", st.Ciphertext, &ciphertext},
	} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto: decoding %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := newGCM(password, salt, st.Iterations)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce is %d bytes, want %d", len(nonce), gcm.NonceSize())
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return string(plaintext), nil
}

// LoadToken resolves the exchange token: Raw first, then the sealed file.
func LoadToken(src TokenSource) (string, error) {
	if t := strings.TrimSpace(src.Raw); t != "" {
		return t, nil
	}
	if src.Path == "" {
		return "", ErrNoToken
	}
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return "", fmt.Errorf("crypto: reading token file: %w", err)
	}
	return OpenToken(data, src.Password)
}

func newGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
