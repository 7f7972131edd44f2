package postgres

import (
	"context"
	"database/sql"
	"errors"

	"watt-rewards/internal/providers"
)

// CredentialStore persists per-user provider token pairs.
type CredentialStore struct {
	db *sql.DB
}

// NewCredentialStore constructs a store.
func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Get returns the stored credentials for a (user, provider) pair.
func (s *CredentialStore) Get(ctx context.Context, userID, provider string) (providers.Credentials, error) {
	if s == nil || s.db == nil {
		return providers.Credentials{}, errors.New("credential store: nil db")
	}
	var creds providers.Credentials
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
SELECT access_token, refresh_token, expires_at
FROM provider_credentials
WHERE user_id = $1 AND provider = $2
LIMIT 1`, userID, provider).Scan(&creds.AccessToken, &creds.RefreshToken, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return providers.Credentials{}, providers.ErrCredentialsNotFound
		}
		return providers.Credentials{}, err
	}
	if expiresAt.Valid {
		creds.ExpiresAt = expiresAt.Time.UTC()
	}
	return creds, nil
}

// Save upserts the credentials for a (user, provider) pair.
func (s *CredentialStore) Save(ctx context.Context, userID, provider string, creds providers.Credentials) error {
	if s == nil || s.db == nil {
		return errors.New("credential store: nil db")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO provider_credentials (user_id, provider, access_token, refresh_token, expires_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (user_id, provider) DO UPDATE SET
	access_token = EXCLUDED.access_token,
	refresh_token = EXCLUDED.refresh_token,
	expires_at = EXCLUDED.expires_at,
	updated_at = NOW()`,
		userID, provider, creds.AccessToken, creds.RefreshToken, nullableTime(creds))
	return err
}

func nullableTime(creds providers.Credentials) any {
	if creds.ExpiresAt.IsZero() {
		return nil
	}
	return creds.ExpiresAt
}
