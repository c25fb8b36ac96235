// Package notify is the side-effect sink for schedule changes. Delivery is
// fire-and-forget: failures are logged, never surfaced to the sync engine.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/fennwick/calbridge/internal/model"
)

// ChangeKind names what happened to an entity's schedule.
type ChangeKind string

const (
	ChangeRescheduled ChangeKind = "rescheduled"
	ChangeUpdated     ChangeKind = "updated"
	ChangeCancelled   ChangeKind = "cancelled"
)

// ScheduleChange describes one notification.
type ScheduleChange struct {
	AccountID  int64
	EntityKind model.EntityKind
	EntityID   int64
	Kind       ChangeKind
	NewStart   *time.Time
	NewEnd     *time.Time
}

// Notifier delivers schedule-change notifications.
type Notifier interface {
	ScheduleChanged(ctx context.Context, change ScheduleChange)
}

// LogNotifier records changes to the log only. Used in tests and when push is
// not configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) ScheduleChanged(ctx context.Context, change ScheduleChange) {
	n.Logger.Info("schedule changed",
		"account_id", change.AccountID,
		"entity_kind", change.EntityKind,
		"entity_id", change.EntityID,
		"change", change.Kind)
}
