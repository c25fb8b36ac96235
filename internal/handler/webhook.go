package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/fennwick/calbridge/internal/sync"
)

// WebhookHandler terminates provider push notifications. All delivery
// identity travels in headers; the body is empty and ignored.
type WebhookHandler struct {
	engine *sync.Engine
	logger *slog.Logger
}

func NewWebhookHandler(engine *sync.Engine, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{engine: engine, logger: logger}
}

// Notify handles POST /webhooks/calendar
func (h *WebhookHandler) Notify(w http.ResponseWriter, r *http.Request) {
	d := sync.Delivery{
		ChannelID:     r.Header.Get("X-Goog-Channel-ID"),
		ResourceID:    r.Header.Get("X-Goog-Resource-ID"),
		Token:         r.Header.Get("X-Goog-Channel-Token"),
		ResourceState: r.Header.Get("X-Goog-Resource-State"),
	}

	applied, err := h.engine.HandleDelivery(r.Context(), d)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, sync.ErrInvalidDelivery):
		writeError(w, http.StatusBadRequest, "missing delivery headers")
	case errors.Is(err, sync.ErrChannelNotFound):
		// 404 tells the provider to stop delivering to a channel we no
		// longer track.
		writeError(w, http.StatusNotFound, "unknown channel")
	case errors.Is(err, sync.ErrInvalidToken):
		writeError(w, http.StatusForbidden, "token mismatch")
	default:
		// Non-2xx makes the provider redeliver; the cursor did not advance
		// past the failed work.
		h.logger.Error("webhook sync failed",
			"channel_id", d.ChannelID, "applied", applied, "error", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
	}
}
