package auth

import (
	"fmt"

	"github.com/xtrntr/powermarket/internal/apperr"
	"golang.org/x/crypto/bcrypt"
)

// AdminKeyHeader carries the administrative key on submission window and match requests
const AdminKeyHeader = "X-Admin-Key"

// AdminGuard checks administrative keys against a bcrypt hash
type AdminGuard struct {
	hash []byte
}

// NewAdminGuard returns nil when keyHash is empty, which leaves admin routes open
func NewAdminGuard(keyHash string) (*AdminGuard, error) {
	if keyHash == "" {
		return nil, nil
	}
	if _, err := bcrypt.Cost([]byte(keyHash)); err != nil {
		return nil, fmt.Errorf("admin key hash is not a bcrypt hash: %w", err)
	}
	return &AdminGuard{hash: []byte(keyHash)}, nil
}

// Verify compares key with the configured hash
func (g *AdminGuard) Verify(key string) error {
	if key == "" {
		return apperr.Unauthorized("admin key required")
	}
	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(key)); err != nil {
		return apperr.Forbidden("invalid admin key")
	}
	return nil
}

// HashAdminKey produces the value to configure as ADMIN_KEY_HASH
func HashAdminKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("admin key cannot be empty")
	}
	if len(key) > 72 {
		return "", fmt.Errorf("admin key too long (max 72 characters)")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
