package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/fennwick/calbridge/internal/model"
	"github.com/fennwick/calbridge/internal/provider"
)

// PushTask writes a task to the external calendar and records the link with
// app origin, so the change echoed back through the webhook is suppressed.
func (e *Engine) PushTask(ctx context.Context, calendarID string, t *model.Task) (*model.EventLink, error) {
	if t.DueAt == nil {
		return nil, fmt.Errorf("task %d has no due time", t.ID)
	}
	end := *t.DueAt
	if t.DurationMinutes > 0 {
		end = t.DueAt.Add(time.Duration(t.DurationMinutes) * time.Minute)
	}
	w := provider.EventWrite{
		Summary:        t.Title,
		Description:    t.Notes,
		Start:          *t.DueAt,
		End:            end,
		RecurrenceRule: t.RecurrenceRule,
	}
	return e.pushEntity(ctx, t.AccountID, calendarID, model.KindTask, t.ID, w)
}

// PushWorkBlock writes a work block to the external calendar.
func (e *Engine) PushWorkBlock(ctx context.Context, calendarID string, b *model.WorkBlock) (*model.EventLink, error) {
	w := provider.EventWrite{
		Summary:        b.Title,
		Start:          b.StartTime,
		End:            b.EndTime,
		RecurrenceRule: b.RecurrenceRule,
	}
	return e.pushEntity(ctx, b.AccountID, calendarID, model.KindWorkBlock, b.ID, w)
}

// RetractEntity deletes the external event backing an entity and soft-deletes
// the link. A missing remote event is treated as already retracted.
func (e *Engine) RetractEntity(ctx context.Context, accountID int64, kind model.EntityKind, entityID int64) error {
	link, err := e.links.GetByEntity(accountID, kind, entityID)
	if err != nil {
		return fmt.Errorf("look up link: %w", err)
	}
	if link == nil {
		return nil
	}

	client, err := e.clients.ClientFor(ctx, accountID)
	if err != nil {
		return fmt.Errorf("get provider client: %w", err)
	}
	err = e.cfg.Retry.Do(ctx, e.logger, "delete event", provider.IsRetryable, func(ctx context.Context) error {
		return client.DeleteEvent(ctx, link.CalendarID, link.EventID)
	})
	if err != nil && provider.KindOf(err) != provider.KindNotFound {
		return fmt.Errorf("delete event: %w", err)
	}

	if _, err := e.links.BulkSoftDelete([]int64{link.ID}, e.now()); err != nil {
		return fmt.Errorf("soft delete link: %w", err)
	}
	return nil
}

func (e *Engine) pushEntity(ctx context.Context, accountID int64, calendarID string, kind model.EntityKind, entityID int64, w provider.EventWrite) (*model.EventLink, error) {
	client, err := e.clients.ClientFor(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get provider client: %w", err)
	}

	link, err := e.links.GetByEntity(accountID, kind, entityID)
	if err != nil {
		return nil, fmt.Errorf("look up link: %w", err)
	}
	if link != nil {
		// Update in place; keeps the external event id stable.
		w.EventID = link.EventID
	}

	var eventID string
	err = e.cfg.Retry.Do(ctx, e.logger, "upsert event", provider.IsRetryable, func(ctx context.Context) error {
		id, err := client.UpsertEvent(ctx, calendarID, w)
		if err == nil {
			eventID = id
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("write event: %w", err)
	}

	now := e.now()
	if link == nil {
		link = &model.EventLink{
			AccountID:  accountID,
			CalendarID: calendarID,
			EventID:    eventID,
			EntityKind: kind,
			EntityID:   entityID,
			Role:       model.RoleStandalone,
		}
		if w.RecurrenceRule != "" {
			link.Role = model.RoleMaster
		}
	}
	link.Status = model.SyncStatusSynced
	// App origin plus a fresh timestamp arms loop suppression for the webhook
	// echo of this write.
	link.Origin = model.OriginApp
	link.LastSyncedAt = &now

	if _, err := e.links.BulkUpsert([]*model.EventLink{link}); err != nil {
		return link, fmt.Errorf("persist link: %w", err)
	}
	return link, nil
}
