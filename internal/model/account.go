package model

import "time"

type Account struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	// ReconnectRequired is set when the provider reports the account's
	// authorization expired; syncing stays off until the user re-authorizes.
	ReconnectRequired bool      `json:"reconnect_required"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
