package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteVerifier verifies tokens against a local credential store. Tokens
// are stored as SHA-256 hashes; the plaintext never touches disk.
type SQLiteVerifier struct {
	db *sql.DB
}

// OpenSQLiteVerifier opens (and if needed bootstraps) the credential store
// at path.
func OpenSQLiteVerifier(path string) (*SQLiteVerifier, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	// Single table, created idempotently; no migration framework needed.
	const schema = `CREATE TABLE IF NOT EXISTS api_tokens (
		token_hash TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		revoked    INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to bootstrap credential store: %w", err)
	}

	return &SQLiteVerifier{db: db}, nil
}

// Verify checks that the token exists, belongs to userID, and is not revoked.
func (v *SQLiteVerifier) Verify(ctx context.Context, token, userID string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if userID == "" {
		return ErrEmptyUserID
	}

	var owner string
	var revoked int
	row := v.db.QueryRowContext(ctx,
		`SELECT user_id, revoked FROM api_tokens WHERE token_hash = ?`, hashToken(token))
	switch err := row.Scan(&owner, &revoked); {
	case err == sql.ErrNoRows:
		return ErrInvalidToken
	case err != nil:
		return fmt.Errorf("credential lookup failed: %w", err)
	}

	if revoked != 0 {
		return ErrTokenRevoked
	}
	if owner != userID {
		return ErrInvalidToken
	}
	return nil
}

// IssueToken stores a credential for userID. Re-issuing the same token
// rebinds it and clears any revocation.
func (v *SQLiteVerifier) IssueToken(ctx context.Context, token, userID string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if userID == "" {
		return ErrEmptyUserID
	}
	_, err := v.db.ExecContext(ctx,
		`INSERT INTO api_tokens (token_hash, user_id, revoked) VALUES (?, ?, 0)
		 ON CONFLICT(token_hash) DO UPDATE SET user_id = excluded.user_id, revoked = 0`,
		hashToken(token), userID)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	return nil
}

// RevokeToken marks a credential revoked. Revoking an unknown token is a no-op.
func (v *SQLiteVerifier) RevokeToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	_, err := v.db.ExecContext(ctx,
		`UPDATE api_tokens SET revoked = 1 WHERE token_hash = ?`, hashToken(token))
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (v *SQLiteVerifier) Close() error {
	return v.db.Close()
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
