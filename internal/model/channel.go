package model

import "time"

// WebhookChannel is the push-notification channel registered with the provider
// for one (account, calendar) pair. At most one non-expired channel exists per
// pair; renewal replaces the row atomically.
type WebhookChannel struct {
	ID         string  `json:"id"`          // our channel identifier (uuid)
	AccountID  int64   `json:"account_id"`
	CalendarID string  `json:"calendar_id"`
	ResourceID string  `json:"resource_id"` // provider-assigned
	Token      string  `json:"-"`           // secret verification token
	SyncCursor *string `json:"sync_cursor"` // nil until the bootstrap query runs
	Expiration time.Time `json:"expiration"`
	// Degraded marks a channel whose account needs re-authorization; the
	// renewal sweep skips it and deliveries are acknowledged without syncing.
	Degraded  bool      `json:"degraded"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExpiresWithin reports whether the channel expires before now+d.
func (c *WebhookChannel) ExpiresWithin(now time.Time, d time.Duration) bool {
	return c.Expiration.Before(now.Add(d))
}
