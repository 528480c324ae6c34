package crypto

import (
	"errors"
	"testing"
)

func TestPasswordDigest(t *testing.T) {
	hash, salt, err := NewPasswordDigest("hunter2")
	if err != nil {
		t.Fatalf("NewPasswordDigest: unexpected error: %v", err)
	}
	if len(salt) != SaltSize {
		t.Fatalf("NewPasswordDigest: salt length want=%d got=%d", SaltSize, len(salt))
	}
	if !VerifyPassword("hunter2", hash, salt) {
		t.Fatalf("VerifyPassword: expected match")
	}
	if VerifyPassword("hunter3", hash, salt) {
		t.Fatalf("VerifyPassword: expected mismatch for different password")
	}
	if VerifyPassword("hunter2", nil, salt) {
		t.Fatalf("VerifyPassword: expected mismatch for missing digest")
	}
}

func TestNewPasswordDigestEmpty(t *testing.T) {
	if _, _, err := NewPasswordDigest(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("NewPasswordDigest: want ErrEmptyPassword, got %v", err)
	}
}

func TestGenerateTokenUnique(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	b, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("GenerateToken: want 64 hex chars, got %d", len(a))
	}
	if a == b {
		t.Fatalf("GenerateToken: two calls returned the same token")
	}
}
