package store

import (
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// TokenStore persists per-account OAuth tokens. Refresh tokens are written
// back whenever the oauth2 transport rotates them.
type TokenStore struct {
	db *sql.DB
}

func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) Token(accountID int64) (*oauth2.Token, error) {
	var tok oauth2.Token
	var expiry sql.NullTime
	err := s.db.QueryRow(
		`SELECT access_token, refresh_token, token_type, expiry FROM oauth_tokens WHERE account_id = ?`,
		accountID).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get oauth token: %w", err)
	}
	if expiry.Valid {
		tok.Expiry = expiry.Time
	}
	return &tok, nil
}

func (s *TokenStore) Save(accountID int64, tok *oauth2.Token) error {
	var expiry any
	if !tok.Expiry.IsZero() {
		expiry = tok.Expiry.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		INSERT INTO oauth_tokens (account_id, access_token, refresh_token, token_type, expiry)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token != '' THEN excluded.refresh_token ELSE oauth_tokens.refresh_token END,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			updated_at = CURRENT_TIMESTAMP`,
		accountID, tok.AccessToken, tok.RefreshToken, tok.TokenType, expiry)
	if err != nil {
		return fmt.Errorf("save oauth token: %w", err)
	}
	return nil
}
