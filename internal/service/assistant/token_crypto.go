package assistant

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	credentialKeyEnv = "MEMOCHAT_APIKEY_KEY"
	sealedPrefix     = "v1:"
)

var errInvalidCiphertext = errors.New("invalid credential ciphertext")

// credentialCipher seals provider credentials at rest. Each sealed value is
// bound to its user and provider, so a row copied to another owner fails to open.
type credentialCipher struct {
	aead cipher.AEAD
}

func newCredentialCipher() (*credentialCipher, error) {
	raw := strings.TrimSpace(os.Getenv(credentialKeyEnv))
	if raw == "" {
		return nil, fmt.Errorf("%s not set", credentialKeyEnv)
	}
	key, err := parseCipherKey(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", credentialKeyEnv, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &credentialCipher{aead: aead}, nil
}

// parseCipherKey accepts 32 raw bytes or their base64 form.
func parseCipherKey(raw string) ([]byte, error) {
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d, want 32", len(key))
	}
	return key, nil
}

func credentialScope(userID int64, provider string) []byte {
	return []byte(strconv.FormatInt(userID, 10) + "/" + provider)
}

func (c *credentialCipher) seal(userID int64, provider, plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := c.aead.Seal(nonce, nonce, []byte(plain), credentialScope(userID, provider))
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// open reverses seal. Values without the version prefix predate encryption
// and are returned unchanged.
func (c *credentialCipher) open(userID int64, provider, stored string) (string, error) {
	encoded, ok := strings.CutPrefix(stored, sealedPrefix)
	if !ok {
		return stored, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", errInvalidCiphertext
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return "", errInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], credentialScope(userID, provider))
	if err != nil {
		return "", errInvalidCiphertext
	}
	return string(plain), nil
}
