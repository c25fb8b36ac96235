package sync

import (
	"context"
	"crypto/subtle"
	"fmt"
)

// Delivery is one decoded webhook notification. The transport layer extracts
// it from provider headers; the dispatcher neither reads requests nor writes
// responses.
type Delivery struct {
	ChannelID     string
	ResourceID    string
	Token         string
	ResourceState string
}

// HandleDelivery validates a webhook delivery and, when it announces real
// changes, runs a sync pass for the matching channel. Validation failures
// return typed errors so the transport can map them to status codes without
// inspecting messages.
func (e *Engine) HandleDelivery(ctx context.Context, d Delivery) (int, error) {
	if d.ChannelID == "" || d.ResourceID == "" {
		return 0, ErrInvalidDelivery
	}

	ch, err := e.channels.GetByDelivery(d.ChannelID, d.ResourceID)
	if err != nil {
		return 0, fmt.Errorf("look up channel: %w", err)
	}
	if ch == nil {
		return 0, ErrChannelNotFound
	}
	if subtle.ConstantTimeCompare([]byte(d.Token), []byte(ch.Token)) != 1 {
		return 0, ErrInvalidToken
	}

	logger := e.logger.With("channel_id", ch.ID, "account_id", ch.AccountID)

	// The provider sends a "sync" state when the channel opens; it announces
	// liveness, not changes.
	if d.ResourceState == "sync" {
		logger.Debug("channel handshake acknowledged")
		return 0, nil
	}
	if ch.Degraded {
		// Acknowledge so the provider stops retrying; syncing resumes once
		// the account re-authorizes.
		logger.Debug("delivery for degraded channel dropped")
		return 0, nil
	}

	return e.Sync(ctx, ch)
}
