package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fennwick/calbridge/internal/model"
	"github.com/fennwick/calbridge/internal/store"
	"github.com/fennwick/calbridge/internal/sync"
)

// EntityHandler manages tasks and work blocks and their outbound projection
// onto the external calendar.
type EntityHandler struct {
	engine *sync.Engine
	tasks  *store.TaskStore
	blocks *store.WorkBlockStore
	logger *slog.Logger
}

func NewEntityHandler(engine *sync.Engine, tasks *store.TaskStore, blocks *store.WorkBlockStore, logger *slog.Logger) *EntityHandler {
	return &EntityHandler{engine: engine, tasks: tasks, blocks: blocks, logger: logger}
}

type createTaskRequest struct {
	AccountID       int64      `json:"account_id"`
	Title           string     `json:"title"`
	Notes           string     `json:"notes"`
	DueAt           *time.Time `json:"due_at"`
	DurationMinutes int        `json:"duration_minutes"`
	RecurrenceRule  string     `json:"recurrence_rule"`
}

// CreateTask handles POST /api/tasks
func (h *EntityHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.AccountID == 0 || req.Title == "" {
		writeError(w, http.StatusBadRequest, "account_id and title are required")
		return
	}

	task, err := h.tasks.Create(&model.Task{
		AccountID:       req.AccountID,
		Title:           req.Title,
		Notes:           req.Notes,
		DueAt:           req.DueAt,
		DurationMinutes: req.DurationMinutes,
		RecurrenceRule:  req.RecurrenceRule,
	})
	if err != nil {
		h.logger.Error("create task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

type createWorkBlockRequest struct {
	AccountID      int64     `json:"account_id"`
	Title          string    `json:"title"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	RecurrenceRule string    `json:"recurrence_rule"`
}

// CreateWorkBlock handles POST /api/work-blocks
func (h *EntityHandler) CreateWorkBlock(w http.ResponseWriter, r *http.Request) {
	var req createWorkBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.AccountID == 0 || req.Title == "" || req.StartTime.IsZero() || req.EndTime.IsZero() {
		writeError(w, http.StatusBadRequest, "account_id, title, start_time, and end_time are required")
		return
	}
	if !req.EndTime.After(req.StartTime) {
		writeError(w, http.StatusBadRequest, "end_time must be after start_time")
		return
	}

	block, err := h.blocks.Create(&model.WorkBlock{
		AccountID:      req.AccountID,
		Title:          req.Title,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		RecurrenceRule: req.RecurrenceRule,
	})
	if err != nil {
		h.logger.Error("create work block", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create work block")
		return
	}
	writeJSON(w, http.StatusCreated, block)
}

type pushRequest struct {
	CalendarID string `json:"calendar_id"`
}

// PushTask handles POST /api/tasks/{id}/push
func (h *EntityHandler) PushTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CalendarID == "" {
		writeError(w, http.StatusBadRequest, "calendar_id is required")
		return
	}

	task, err := h.tasks.GetByID(id)
	if err != nil {
		h.logger.Error("get task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	link, err := h.engine.PushTask(r.Context(), req.CalendarID, task)
	if err != nil {
		h.logger.Error("push task", "task_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "failed to write to calendar")
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// PushWorkBlock handles POST /api/work-blocks/{id}/push
func (h *EntityHandler) PushWorkBlock(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid work block id")
		return
	}
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CalendarID == "" {
		writeError(w, http.StatusBadRequest, "calendar_id is required")
		return
	}

	block, err := h.blocks.GetByID(id)
	if err != nil {
		h.logger.Error("get work block", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load work block")
		return
	}
	if block == nil {
		writeError(w, http.StatusNotFound, "work block not found")
		return
	}

	link, err := h.engine.PushWorkBlock(r.Context(), req.CalendarID, block)
	if err != nil {
		h.logger.Error("push work block", "work_block_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "failed to write to calendar")
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// RetractTask handles DELETE /api/tasks/{id}/push
func (h *EntityHandler) RetractTask(w http.ResponseWriter, r *http.Request) {
	h.retract(w, r, model.KindTask)
}

// RetractWorkBlock handles DELETE /api/work-blocks/{id}/push
func (h *EntityHandler) RetractWorkBlock(w http.ResponseWriter, r *http.Request) {
	h.retract(w, r, model.KindWorkBlock)
}

func (h *EntityHandler) retract(w http.ResponseWriter, r *http.Request, kind model.EntityKind) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	accountID, err := strconv.ParseInt(r.URL.Query().Get("account_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "account_id query parameter is required")
		return
	}

	if err := h.engine.RetractEntity(r.Context(), accountID, kind, id); err != nil {
		h.logger.Error("retract entity", "kind", kind, "id", id, "error", err)
		writeError(w, http.StatusBadGateway, "failed to remove from calendar")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
