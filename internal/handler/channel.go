package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fennwick/calbridge/internal/store"
	"github.com/fennwick/calbridge/internal/sync"
)

type ChannelHandler struct {
	engine   *sync.Engine
	channels *store.ChannelStore
	runs     *store.SyncRunStore
	logger   *slog.Logger
}

func NewChannelHandler(engine *sync.Engine, channels *store.ChannelStore, runs *store.SyncRunStore, logger *slog.Logger) *ChannelHandler {
	return &ChannelHandler{engine: engine, channels: channels, runs: runs, logger: logger}
}

type registerRequest struct {
	CalendarID string `json:"calendar_id"`
}

// Register handles POST /api/accounts/{id}/channels
func (h *ChannelHandler) Register(w http.ResponseWriter, r *http.Request) {
	accountID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.CalendarID == "" {
		writeError(w, http.StatusBadRequest, "calendar_id is required")
		return
	}

	ch, err := h.engine.Register(r.Context(), accountID, req.CalendarID)
	if err != nil {
		h.logger.Error("register channel", "account_id", accountID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to register channel")
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

// Get handles GET /api/channels/{channel_id}
func (h *ChannelHandler) Get(w http.ResponseWriter, r *http.Request) {
	ch, err := h.channels.GetByID(r.PathValue("channel_id"))
	if err != nil {
		h.logger.Error("get channel", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load channel")
		return
	}
	if ch == nil {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// Unregister handles DELETE /api/channels/{channel_id}
func (h *ChannelHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	ch, err := h.channels.GetByID(r.PathValue("channel_id"))
	if err != nil {
		h.logger.Error("get channel", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load channel")
		return
	}
	if ch == nil {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}

	if err := h.engine.Unregister(r.Context(), ch); err != nil {
		h.logger.Error("unregister channel", "channel_id", ch.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to unregister channel")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TriggerSync handles POST /api/channels/{channel_id}/sync
//
// Manual sync for operators; equivalent to a webhook delivery arriving.
func (h *ChannelHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	ch, err := h.channels.GetByID(r.PathValue("channel_id"))
	if err != nil {
		h.logger.Error("get channel", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load channel")
		return
	}
	if ch == nil {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}

	applied, err := h.engine.Sync(r.Context(), ch)
	if err != nil {
		h.logger.Error("manual sync", "channel_id", ch.ID, "applied", applied, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"applied": applied, "error": "sync failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
}

// ListRuns handles GET /api/channels/{channel_id}/runs
func (h *ChannelHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.ListByChannel(r.PathValue("channel_id"), 50)
	if err != nil {
		h.logger.Error("list sync runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
