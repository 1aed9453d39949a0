package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hedgeengine/internal/models"
)

// ErrCredentialsNotFound means no row exists yet in broker_credentials.
var ErrCredentialsNotFound = errors.New("broker credentials not found")

// CredentialsRepository is the data access layer for the singleton
// broker_credentials row.
type CredentialsRepository struct {
	db *sql.DB
}

// NewCredentialsRepository creates a new credentials repository.
func NewCredentialsRepository(db *sql.DB) *CredentialsRepository {
	return &CredentialsRepository{db: db}
}

// Get returns the singleton credentials row.
func (r *CredentialsRepository) Get() (*models.BrokerCredentials, error) {
	const query = `
		SELECT id, access_token_cipher, access_token_nonce, access_issued_at,
		       refresh_token_cipher, refresh_token_nonce, refresh_issued_at, updated_at
		FROM broker_credentials WHERE id = 1`

	var c models.BrokerCredentials
	err := r.db.QueryRow(query).Scan(&c.ID, &c.AccessTokenCipher, &c.AccessTokenNonce, &c.AccessIssuedAt,
		&c.RefreshTokenCipher, &c.RefreshTokenNonce, &c.RefreshIssuedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get broker credentials: %w", err)
	}
	return &c, nil
}

// Upsert writes the singleton row atomically, creating it on first
// write and overwriting both token pairs thereafter.
func (r *CredentialsRepository) Upsert(c *models.BrokerCredentials) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`
		INSERT INTO broker_credentials (id, access_token_cipher, access_token_nonce, access_issued_at,
		                                 refresh_token_cipher, refresh_token_nonce, refresh_issued_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token_cipher = excluded.access_token_cipher,
			access_token_nonce = excluded.access_token_nonce,
			access_issued_at = excluded.access_issued_at,
			refresh_token_cipher = excluded.refresh_token_cipher,
			refresh_token_nonce = excluded.refresh_token_nonce,
			refresh_issued_at = excluded.refresh_issued_at,
			updated_at = excluded.updated_at`,
		c.AccessTokenCipher, c.AccessTokenNonce, c.AccessIssuedAt,
		c.RefreshTokenCipher, c.RefreshTokenNonce, c.RefreshIssuedAt, now)
	if err != nil {
		return fmt.Errorf("upsert broker credentials: %w", err)
	}
	return nil
}

// UpdateAccessToken rewrites only the access-token half, used after a
// successful refresh that keeps the same refresh token.
func (r *CredentialsRepository) UpdateAccessToken(cipher, nonce []byte, issuedAt time.Time) error {
	res, err := r.db.Exec(`
		UPDATE broker_credentials
		SET access_token_cipher = ?, access_token_nonce = ?, access_issued_at = ?, updated_at = ?
		WHERE id = 1`, cipher, nonce, issuedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update access token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCredentialsNotFound
	}
	return nil
}
