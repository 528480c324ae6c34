// Package crypto provides password digests and random credential material.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// SaltSize is the byte length of a password salt.
const SaltSize = 16

var ErrEmptyPassword = errors.New("crypto: empty password")

// GenerateSalt returns a random salt for HashPassword.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return salt, nil
}

// GenerateToken generates a random token string (32 bytes, hex-like).
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("crypto: generate token: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}

// HashPassword hashes a password using Argon2id.
func HashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
}

// NewPasswordDigest salts and hashes a password in one step.
func NewPasswordDigest(password string) (hash, salt []byte, err error) {
	if password == "" {
		return nil, nil, ErrEmptyPassword
	}
	salt, err = GenerateSalt()
	if err != nil {
		return nil, nil, err
	}
	return HashPassword(password, salt), salt, nil
}

// VerifyPassword reports whether password matches a stored digest.
func VerifyPassword(password string, hash, salt []byte) bool {
	if len(hash) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(HashPassword(password, salt), hash) == 1
}
