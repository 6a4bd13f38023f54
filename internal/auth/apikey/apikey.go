// Package apikey provides SHA-256-based API key validation against PostgreSQL.
// Raw keys are generated with crypto/rand, hashed before storage, and
// validated by comparing the hash of the presented key with the stored hash.
// Every key carries the staff roles it may act as.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/casfos/registry/pkg/postgres"
)

var (
	ErrInvalidKey = errors.New("invalid api key")
	ErrExpiredKey = errors.New("api key expired")
)

// Schema creates the api_keys table.
const Schema = `CREATE TABLE IF NOT EXISTS api_keys (
    id          BIGSERIAL PRIMARY KEY,
    key_hash    TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL,
    roles       TEXT[] NOT NULL DEFAULT '{}',
    rate_limit  INTEGER NOT NULL DEFAULT 100,
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at  TIMESTAMPTZ
)`

// KeyInfo holds metadata about a validated API key.
type KeyInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Roles     []Role     `json:"roles"`
	RateLimit int        `json:"rate_limit"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Has reports whether the key holds any of roles.
func (k *KeyInfo) Has(roles ...Role) bool {
	if k == nil {
		return false
	}
	for _, have := range k.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Validator validates API keys against the api_keys table in PostgreSQL.
type Validator struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewValidator creates a new API key validator backed by PostgreSQL.
func NewValidator(db *postgres.Client) *Validator {
	return &Validator{
		db:     db,
		logger: slog.Default().With("component", "apikey-validator"),
	}
}

// EnsureSchema creates the api_keys table if it does not exist.
func (v *Validator) EnsureSchema(ctx context.Context) error {
	return v.db.EnsureSchema(ctx, "api_keys", Schema)
}

const keyColumns = `id, name, roles, rate_limit, is_active, created_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (KeyInfo, error) {
	var (
		k         KeyInfo
		roles     []string
		expiresAt sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.Name, pq.Array(&roles), &k.RateLimit, &k.IsActive, &k.CreatedAt, &expiresAt); err != nil {
		return KeyInfo{}, err
	}
	if expiresAt.Valid {
		k.ExpiresAt = &expiresAt.Time
	}
	k.Roles = rolesFrom(roles)
	return k, nil
}

// Validate resolves a raw key to its metadata. Unknown and revoked keys
// return ErrInvalidKey; keys past their expiry return ErrExpiredKey.
func (v *Validator) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	info, err := scanKey(v.db.DB.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE key_hash = $1 AND is_active`,
		HashKey(rawKey),
	))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrInvalidKey
	case err != nil:
		return nil, fmt.Errorf("looking up api key: %w", err)
	case info.ExpiresAt != nil && !info.ExpiresAt.After(time.Now()):
		return nil, ErrExpiredKey
	}
	return &info, nil
}

// CreateKey generates a new API key, stores its hash, and returns the raw key.
// The raw key is returned only once and cannot be retrieved again.
func (v *Validator) CreateKey(ctx context.Context, name string, roles []Role, rateLimit int, expiresAt *time.Time) (string, error) {
	if len(roles) == 0 {
		return "", fmt.Errorf("creating api key: at least one role is required")
	}
	rawKey, err := generateRawKey()
	if err != nil {
		return "", err
	}

	var expiry sql.NullTime
	if expiresAt != nil {
		expiry = sql.NullTime{Time: *expiresAt, Valid: true}
	}

	_, err = v.db.DB.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, name, roles, rate_limit, expires_at) VALUES ($1, $2, $3, $4, $5)`,
		HashKey(rawKey), name, pq.Array(roleStrings(roles)), rateLimit, expiry,
	)
	if err != nil {
		return "", fmt.Errorf("creating api key: %w", err)
	}

	v.logger.Info("api key created", "name", name, "roles", roles, "rate_limit", rateLimit)
	return rawKey, nil
}

// RevokeKey deactivates an API key so it can no longer be used.
func (v *Validator) RevokeKey(ctx context.Context, rawKey string) error {
	result, err := v.db.DB.ExecContext(ctx,
		`UPDATE api_keys SET is_active = false WHERE key_hash = $1`,
		HashKey(rawKey),
	)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrInvalidKey
	}

	v.logger.Info("api key revoked")
	return nil
}

// ListKeys returns active keys, newest first. Hashes are never returned.
func (v *Validator) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	rows, err := v.db.DB.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE is_active ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var keys []KeyInfo
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// HashKey returns the SHA-256 hex digest of a raw API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// keyPrefix marks registry keys so they are recognisable in logs and
// secret scanners.
const keyPrefix = "cas_"

func generateRawKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(b), nil
}
