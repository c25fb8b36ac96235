package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
)

// TokenStore is the persistence surface the OAuth source needs.
type TokenStore interface {
	Token(accountID int64) (*oauth2.Token, error)
	Save(accountID int64, tok *oauth2.Token) error
}

// OAuthSource builds authenticated Google clients from stored per-account
// OAuth tokens. Refreshed tokens are persisted so restarts do not force
// re-authorization. Wrap it in a ClientCache; construction is not cheap.
type OAuthSource struct {
	cfg    *oauth2.Config
	tokens TokenStore
	logger *slog.Logger
}

func NewOAuthSource(cfg *oauth2.Config, tokens TokenStore, logger *slog.Logger) *OAuthSource {
	return &OAuthSource{cfg: cfg, tokens: tokens, logger: logger}
}

func (s *OAuthSource) ClientFor(ctx context.Context, accountID int64) (CalendarAPI, error) {
	tok, err := s.tokens.Token(accountID)
	if err != nil {
		return nil, fmt.Errorf("load oauth token: %w", err)
	}
	if tok == nil {
		return nil, &Error{Kind: KindAuthExpired, Err: errors.New("account has no stored token")}
	}

	ts := &savingTokenSource{
		accountID: accountID,
		last:      tok,
		inner:     s.cfg.TokenSource(ctx, tok),
		store:     s.tokens,
		logger:    s.logger,
	}
	return NewGoogleClient(ctx, oauth2.NewClient(ctx, ts))
}

// savingTokenSource writes rotated tokens back to the store as the oauth2
// transport refreshes them.
type savingTokenSource struct {
	accountID int64
	last      *oauth2.Token
	inner     oauth2.TokenSource
	store     TokenStore
	logger    *slog.Logger
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.inner.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last.AccessToken {
		if saveErr := s.store.Save(s.accountID, tok); saveErr != nil {
			s.logger.Error("persist refreshed token", "account_id", s.accountID, "error", saveErr)
		}
		s.last = tok
	}
	return tok, nil
}
