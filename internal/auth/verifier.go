package auth

import (
	"context"
	"errors"
)

// Verification errors.
var (
	ErrEmptyToken   = errors.New("token is required")
	ErrEmptyUserID  = errors.New("user_id is required")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token has been revoked")
)

// TokenVerifier checks a client-supplied credential during the
// authenticate handshake.
type TokenVerifier interface {
	Verify(ctx context.Context, token, userID string) error
}

// PermissiveVerifier accepts any non-empty token. Development only; select
// it explicitly with auth.mode "permissive".
type PermissiveVerifier struct{}

// Verify accepts every request that carries both fields.
func (PermissiveVerifier) Verify(_ context.Context, token, userID string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if userID == "" {
		return ErrEmptyUserID
	}
	return nil
}
