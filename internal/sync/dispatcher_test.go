package sync

import (
	"context"
	"errors"
	"testing"
)

func TestHandleDeliveryValidation(t *testing.T) {
	tests := []struct {
		name     string
		delivery Delivery
		wantErr  error
	}{
		{
			name:     "missing channel id",
			delivery: Delivery{ResourceID: "res-1", Token: "secret-token"},
			wantErr:  ErrInvalidDelivery,
		},
		{
			name:     "missing resource id",
			delivery: Delivery{ChannelID: "chan-1", Token: "secret-token"},
			wantErr:  ErrInvalidDelivery,
		},
		{
			name:     "unknown channel",
			delivery: Delivery{ChannelID: "chan-unknown", ResourceID: "res-1", Token: "secret-token"},
			wantErr:  ErrChannelNotFound,
		},
		{
			name:     "resource id mismatch",
			delivery: Delivery{ChannelID: "chan-1", ResourceID: "res-other", Token: "secret-token"},
			wantErr:  ErrChannelNotFound,
		},
		{
			name:     "wrong token",
			delivery: Delivery{ChannelID: "chan-1", ResourceID: "res-1", Token: "forged"},
			wantErr:  ErrInvalidToken,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(Config{})
			h.addChannel("cur-1")

			_, err := h.engine.HandleDelivery(context.Background(), tt.delivery)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if len(h.client.queries) != 0 {
				t.Errorf("rejected delivery reached the provider: %d queries", len(h.client.queries))
			}
		})
	}
}

func TestHandleDeliveryHandshakeAcknowledgedWithoutSync(t *testing.T) {
	h := newHarness(Config{})
	h.addChannel("cur-1")

	applied, err := h.engine.HandleDelivery(context.Background(), Delivery{
		ChannelID: "chan-1", ResourceID: "res-1", Token: "secret-token", ResourceState: "sync",
	})
	if err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}
	if applied != 0 || len(h.client.queries) != 0 {
		t.Errorf("handshake triggered a sync: applied=%d queries=%d", applied, len(h.client.queries))
	}
}

func TestHandleDeliveryDegradedChannelAcknowledged(t *testing.T) {
	h := newHarness(Config{})
	ch := h.addChannel("cur-1")
	ch.Degraded = true

	applied, err := h.engine.HandleDelivery(context.Background(), Delivery{
		ChannelID: "chan-1", ResourceID: "res-1", Token: "secret-token", ResourceState: "exists",
	})
	if err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}
	if applied != 0 || len(h.client.queries) != 0 {
		t.Errorf("degraded channel was synced: applied=%d queries=%d", applied, len(h.client.queries))
	}
}

func TestHandleDeliveryRunsSync(t *testing.T) {
	h := newHarness(Config{})
	h.addChannel("cur-1")

	_, err := h.engine.HandleDelivery(context.Background(), Delivery{
		ChannelID: "chan-1", ResourceID: "res-1", Token: "secret-token", ResourceState: "exists",
	})
	if err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}
	if len(h.client.queries) == 0 {
		t.Error("valid delivery did not reach the provider")
	}
	if len(h.runs.runs) != 1 {
		t.Errorf("runs = %d, want 1", len(h.runs.runs))
	}
}
