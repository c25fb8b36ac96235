package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fennwick/calbridge/internal/model"
	"github.com/fennwick/calbridge/internal/provider"
)

func TestRegisterOpensChannelWithBootstrapCursor(t *testing.T) {
	h := newHarness(Config{CallbackURL: "https://example.com/webhooks/calendar"})
	h.client.watchResult = &provider.WatchResult{
		ResourceID: "res-new",
		Expiration: h.now.Add(7 * 24 * time.Hour),
	}
	h.client.responses = []pageResp{
		{page: &provider.ChangesPage{NextCursor: "boot-1"}},
	}

	ch, err := h.engine.Register(context.Background(), 1, "primary")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if ch.ID == "" || ch.Token == "" {
		t.Error("channel id or token not generated")
	}
	if ch.ResourceID != "res-new" {
		t.Errorf("resource id = %q, want res-new", ch.ResourceID)
	}
	if ch.SyncCursor == nil || *ch.SyncCursor != "boot-1" {
		t.Errorf("cursor = %v, want boot-1", ch.SyncCursor)
	}
	if len(h.client.watched) != 1 {
		t.Fatalf("watch calls = %d, want 1", len(h.client.watched))
	}
	req := h.client.watched[0]
	if req.CallbackURL != "https://example.com/webhooks/calendar" || req.Token != ch.Token {
		t.Errorf("watch request = %+v", req)
	}
	if len(h.channels.upserts) != 1 {
		t.Errorf("channel upserts = %d, want 1", len(h.channels.upserts))
	}
}

func TestRegisterReplacesExistingChannel(t *testing.T) {
	h := newHarness(Config{})
	old := h.addChannel("cur-1")
	h.client.responses = []pageResp{
		{page: &provider.ChangesPage{NextCursor: "boot-2"}},
	}

	ch, err := h.engine.Register(context.Background(), old.AccountID, old.CalendarID)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if ch.ID == old.ID {
		t.Error("new channel reused old id")
	}
	if len(h.client.stopped) != 1 || h.client.stopped[0] != [2]string{old.ID, old.ResourceID} {
		t.Errorf("stopped = %v, want old channel stopped", h.client.stopped)
	}
}

func TestRegisterPersistFailureStopsRemoteChannel(t *testing.T) {
	h := newHarness(Config{})
	h.channels.upsertErr = errors.New("disk full")
	h.client.responses = []pageResp{
		{page: &provider.ChangesPage{NextCursor: "boot-1"}},
	}

	_, err := h.engine.Register(context.Background(), 1, "primary")
	if err == nil {
		t.Fatal("Register: want error")
	}
	// A registration the store could not record must not keep receiving
	// deliveries.
	if len(h.client.stopped) != 1 {
		t.Errorf("stopped = %v, want the orphaned channel stopped", h.client.stopped)
	}
}

func TestRegisterBootstrapFailureDefersToFullResync(t *testing.T) {
	h := newHarness(Config{})
	h.client.responses = []pageResp{
		{err: &provider.Error{Kind: provider.KindOther, Code: 400, Err: errors.New("bad request")}},
	}

	ch, err := h.engine.Register(context.Background(), 1, "primary")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if ch.SyncCursor != nil {
		t.Errorf("cursor = %v, want nil so the first delivery resyncs", ch.SyncCursor)
	}
	if len(h.channels.upserts) != 1 {
		t.Errorf("channel upserts = %d, want 1", len(h.channels.upserts))
	}
}

func TestRenewCarriesCursorAndStopsOldChannel(t *testing.T) {
	h := newHarness(Config{})
	old := h.addChannel("cur-42")

	ch, err := h.engine.Renew(context.Background(), old)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if ch.ID == old.ID {
		t.Error("renewed channel reused old id")
	}
	if ch.SyncCursor == nil || *ch.SyncCursor != "cur-42" {
		t.Errorf("cursor = %v, want carried cur-42", ch.SyncCursor)
	}
	if len(h.client.stopped) != 1 || h.client.stopped[0][0] != old.ID {
		t.Errorf("stopped = %v, want old channel", h.client.stopped)
	}
	// No bootstrap query: the cursor survives renewal.
	if len(h.client.queries) != 0 {
		t.Errorf("renew issued %d feed queries, want 0", len(h.client.queries))
	}
}

func TestRenewGrantedExpirationWins(t *testing.T) {
	h := newHarness(Config{ChannelTTL: 7 * 24 * time.Hour})
	old := h.addChannel("cur-1")
	granted := h.now.Add(36 * time.Hour)
	h.client.watchResult = &provider.WatchResult{ResourceID: "res-2", Expiration: granted}

	ch, err := h.engine.Renew(context.Background(), old)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if !ch.Expiration.Equal(granted) {
		t.Errorf("expiration = %v, want the provider-granted %v", ch.Expiration, granted)
	}
}

func TestUnregisterDeletesLocallyEvenIfRemoteStopFails(t *testing.T) {
	h := newHarness(Config{})
	ch := h.addChannel("cur-1")
	h.client.stopErr = errors.New("network down")

	if err := h.engine.Unregister(context.Background(), ch); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if len(h.channels.deleted) != 1 || h.channels.deleted[0] != ch.ID {
		t.Errorf("deleted = %v, want [%s]", h.channels.deleted, ch.ID)
	}
}

func TestRenewExpiringDegradesOnAuthFailure(t *testing.T) {
	h := newHarness(Config{})
	ch := h.addChannel("cur-1")
	h.channels.expiring = []*model.WebhookChannel{ch}
	h.client.watchErr = authExpiredErr()

	h.engine.RenewExpiring(context.Background(), 24*time.Hour)

	if len(h.channels.degraded) != 1 || h.channels.degraded[0] != ch.ID {
		t.Errorf("degraded = %v, want [%s]", h.channels.degraded, ch.ID)
	}
	if len(h.accounts.reconnect) != 1 {
		t.Errorf("reconnect = %v, want the channel's account", h.accounts.reconnect)
	}
}
