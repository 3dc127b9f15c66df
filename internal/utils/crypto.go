package utils

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes for DeriveKey
const (
	PurposeCookieHash  = "eventure cookie hash"
	PurposeCookieBlock = "eventure cookie block"
)

// DeriveKey expands secret into a length-byte key bound to purpose using
// HKDF-SHA256, so one configured secret can back several independent keys.
func DeriveKey(secret []byte, purpose string, length int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret is required")
	}
	if length <= 0 || length > 255*sha256.Size {
		return nil, fmt.Errorf("invalid key length %d", length)
	}

	key := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// CookieKeys returns the signing key and the AES-256 encryption key for a
// cookie store
func CookieKeys(secret string) (hashKey, blockKey []byte, err error) {
	hashKey, err = DeriveKey([]byte(secret), PurposeCookieHash, 64)
	if err != nil {
		return nil, nil, err
	}
	blockKey, err = DeriveKey([]byte(secret), PurposeCookieBlock, 32)
	if err != nil {
		return nil, nil, err
	}
	return hashKey, blockKey, nil
}
