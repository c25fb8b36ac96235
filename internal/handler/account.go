package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fennwick/calbridge/internal/store"
)

type AccountHandler struct {
	accounts *store.AccountStore
	logger   *slog.Logger
}

func NewAccountHandler(accounts *store.AccountStore, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

type createAccountRequest struct {
	Email string `json:"email"`
}

// Create handles POST /api/accounts
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	account, err := h.accounts.Create(req.Email)
	if err != nil {
		h.logger.Error("create account", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// Get handles GET /api/accounts/{id}
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	account, err := h.accounts.GetByID(id)
	if err != nil {
		h.logger.Error("get account", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// Reconnected handles POST /api/accounts/{id}/reconnected
//
// Called after the account re-authorizes with the provider; clears the
// reconnect flag so degraded channels can be re-registered.
func (h *AccountHandler) Reconnected(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	if err := h.accounts.SetReconnectRequired(id, false); err != nil {
		h.logger.Error("clear reconnect flag", "account_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update account")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
