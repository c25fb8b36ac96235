package sync

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fennwick/calbridge/internal/model"
	"github.com/fennwick/calbridge/internal/provider"
)

// Register opens a webhook channel for an (account, calendar) pair and
// bootstraps its sync cursor. Any existing channel for the pair is replaced:
// the provider-side registration succeeds first, then the local row, and the
// previous remote channel is stopped best-effort.
func (e *Engine) Register(ctx context.Context, accountID int64, calendarID string) (*model.WebhookChannel, error) {
	client, err := e.clients.ClientFor(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get provider client: %w", err)
	}

	token, err := newChannelToken()
	if err != nil {
		return nil, err
	}
	ch := &model.WebhookChannel{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		CalendarID: calendarID,
		Token:      token,
	}

	prev, err := e.channels.GetByAccountCalendar(accountID, calendarID)
	if err != nil {
		return nil, fmt.Errorf("look up existing channel: %w", err)
	}

	if err := e.watch(ctx, client, ch); err != nil {
		return nil, err
	}

	cursor, err := e.bootstrapCursor(ctx, client, calendarID)
	if err != nil {
		// The remote channel is live but we cannot start from a cursor; the
		// first delivery will trigger a full resync instead.
		e.logger.Warn("bootstrap cursor failed, deferring to full resync",
			"channel_id", ch.ID, "error", err)
	} else {
		ch.SyncCursor = &cursor
	}

	if err := e.channels.Upsert(ch); err != nil {
		// The provider will keep delivering to a channel we have no record
		// of. Stop it so the registration leaves nothing dangling.
		e.logger.Error("persist channel failed, stopping remote channel",
			"channel_id", ch.ID, "error", err)
		if stopErr := client.StopChannel(ctx, ch.ID, ch.ResourceID); stopErr != nil {
			e.logger.Error("stop orphaned channel", "channel_id", ch.ID, "error", stopErr)
		}
		return nil, fmt.Errorf("persist channel: %w", err)
	}

	if prev != nil && prev.ID != ch.ID {
		e.stopRemote(ctx, client, prev)
	}

	e.logger.Info("channel registered",
		"channel_id", ch.ID, "account_id", accountID,
		"calendar_id", calendarID, "expiration", ch.Expiration)
	return ch, nil
}

// Renew replaces an expiring channel with a fresh one, carrying the sync
// cursor forward so no resync is needed.
func (e *Engine) Renew(ctx context.Context, old *model.WebhookChannel) (*model.WebhookChannel, error) {
	client, err := e.clients.ClientFor(ctx, old.AccountID)
	if err != nil {
		return nil, fmt.Errorf("get provider client: %w", err)
	}

	token, err := newChannelToken()
	if err != nil {
		return nil, err
	}
	ch := &model.WebhookChannel{
		ID:         uuid.NewString(),
		AccountID:  old.AccountID,
		CalendarID: old.CalendarID,
		Token:      token,
		SyncCursor: old.SyncCursor,
	}

	if err := e.watch(ctx, client, ch); err != nil {
		return nil, err
	}
	if err := e.channels.Upsert(ch); err != nil {
		if stopErr := client.StopChannel(ctx, ch.ID, ch.ResourceID); stopErr != nil {
			e.logger.Error("stop orphaned channel", "channel_id", ch.ID, "error", stopErr)
		}
		return nil, fmt.Errorf("persist renewed channel: %w", err)
	}

	e.stopRemote(ctx, client, old)
	e.logger.Info("channel renewed",
		"old_channel_id", old.ID, "channel_id", ch.ID, "expiration", ch.Expiration)
	return ch, nil
}

// Unregister stops a channel remotely and removes the local record. A failed
// remote stop is logged but does not block local cleanup: the provider expires
// the channel on its own.
func (e *Engine) Unregister(ctx context.Context, ch *model.WebhookChannel) error {
	client, err := e.clients.ClientFor(ctx, ch.AccountID)
	if err != nil {
		e.logger.Warn("get provider client for unregister", "channel_id", ch.ID, "error", err)
	} else {
		e.stopRemote(ctx, client, ch)
	}

	if err := e.channels.Delete(ch.ID); err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	e.logger.Info("channel unregistered", "channel_id", ch.ID)
	return nil
}

// RenewExpiring renews every non-degraded channel that expires within the
// horizon. Failures are per-channel; one bad account does not stall the sweep.
func (e *Engine) RenewExpiring(ctx context.Context, horizon time.Duration) {
	channels, err := e.channels.ListExpiring(e.now().Add(horizon))
	if err != nil {
		e.logger.Error("list expiring channels", "error", err)
		return
	}
	for _, ch := range channels {
		if _, err := e.Renew(ctx, ch); err != nil {
			e.logger.Error("renew channel", "channel_id", ch.ID, "error", err)
			if provider.KindOf(err) == provider.KindAuthExpired {
				e.degrade(ch, e.logger.With("channel_id", ch.ID))
			}
		}
	}
}

// watch registers the channel with the provider and records the granted
// resource id and expiration. The provider may grant less TTL than requested;
// the granted value wins.
func (e *Engine) watch(ctx context.Context, client provider.CalendarAPI, ch *model.WebhookChannel) error {
	req := provider.WatchRequest{
		ChannelID:   ch.ID,
		Token:       ch.Token,
		CallbackURL: e.cfg.CallbackURL,
		TTL:         e.cfg.ChannelTTL,
	}
	var result *provider.WatchResult
	err := e.cfg.Retry.Do(ctx, e.logger, "watch", provider.IsRetryable, func(ctx context.Context) error {
		r, err := client.Watch(ctx, ch.CalendarID, req)
		if err == nil {
			result = r
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("register channel: %w", err)
	}
	ch.ResourceID = result.ResourceID
	ch.Expiration = result.Expiration
	if ch.Expiration.IsZero() {
		ch.Expiration = e.now().Add(e.cfg.ChannelTTL)
	}
	return nil
}

func (e *Engine) stopRemote(ctx context.Context, client provider.CalendarAPI, ch *model.WebhookChannel) {
	if err := client.StopChannel(ctx, ch.ID, ch.ResourceID); err != nil {
		e.logger.Warn("stop channel", "channel_id", ch.ID, "error", err)
	}
}

func newChannelToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate channel token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
