package sync

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/fennwick/calbridge/internal/model"
	"github.com/fennwick/calbridge/internal/notify"
	"github.com/fennwick/calbridge/internal/provider"
	"github.com/fennwick/calbridge/internal/recur"
)

// reconcile maps a batch of raw external change records onto internal links
// and entities, computing inserts, updates and deletions while suppressing
// echoes of the engine's own writes, then applies them as grouped writes.
func (e *Engine) reconcile(ctx context.Context, ch *model.WebhookChannel, records []provider.ChangeRecord, run *model.SyncRun) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	logger := e.logger.With("channel_id", ch.ID, "account_id", ch.AccountID)

	// One lookup for the whole batch: the records' own ids plus any series
	// masters they reference.
	idSet := make(map[string]bool, len(records))
	var ids []string
	add := func(id string) {
		if id != "" && !idSet[id] {
			idSet[id] = true
			ids = append(ids, id)
		}
	}
	for _, rec := range records {
		add(rec.EventID)
		add(rec.MasterEventID)
	}
	links, err := e.links.BulkGet(ch.AccountID, ids)
	if err != nil {
		return 0, err
	}

	batch := newBatchUpdateSet()
	now := e.now()
	for _, rec := range records {
		e.classify(rec, links, ch, now, batch, logger)
	}

	applied, applyErr := batch.apply(e, now, logger)

	// Side-effect notifications are fire-and-forget: they are not part of
	// the reconciler's success criteria.
	for _, change := range batch.notifications {
		e.notifier.ScheduleChanged(ctx, change)
	}
	return applied, applyErr
}

func (e *Engine) classify(rec provider.ChangeRecord, links map[string]*model.EventLink, ch *model.WebhookChannel, now time.Time, batch *batchUpdateSet, logger *slog.Logger) {
	link := links[rec.EventID]

	// Loop suppression: a change whose link the app wrote moments ago is our
	// own write echoed back through the webhook. Processing it would oscillate.
	if link != nil && link.Origin == model.OriginApp && link.LastSyncedAt != nil &&
		now.Sub(*link.LastSyncedAt) <= e.cfg.SuppressionWindow {
		logger.Debug("suppressed echoed change", "event_id", rec.EventID,
			"age", now.Sub(*link.LastSyncedAt))
		return
	}

	switch {
	case link == nil && rec.Cancelled:
		// Never linked; nothing to delete.
		return

	case rec.Cancelled:
		if link.Status == model.SyncStatusDeleted {
			// Already observed this cancellation; at-least-once delivery.
			return
		}
		batch.deleteLink(link.ID)
		if link.Role == model.RoleMaster {
			// Cancelling a series also cancels its future modified
			// occurrences.
			exceptions, err := e.links.FutureExceptions(link.ID, now)
			if err != nil {
				logger.Error("list future exceptions", "event_id", rec.EventID, "error", err)
			}
			for _, ex := range exceptions {
				batch.deleteLink(ex.ID)
			}
		}
		if link.Linked() {
			batch.notify(notify.ScheduleChange{
				AccountID:  ch.AccountID,
				EntityKind: link.EntityKind,
				EntityID:   link.EntityID,
				Kind:       notify.ChangeCancelled,
			})
		}
		return

	case rec.MasterEventID != "":
		e.classifyException(rec, links, ch, now, batch)
		return

	case link == nil:
		e.classifyNew(rec, ch, now, batch)
		return

	default:
		e.classifyUpdate(rec, link, ch, now, batch, logger)
	}
}

// classifyException records a modified occurrence of a recurring series as a
// link distinct from the master's.
func (e *Engine) classifyException(rec provider.ChangeRecord, links map[string]*model.EventLink, ch *model.WebhookChannel, now time.Time, batch *batchUpdateSet) {
	link := links[rec.EventID]
	master := links[rec.MasterEventID]

	if link != nil && unchangedSince(rec, link) {
		return
	}

	ex := link
	if ex == nil {
		ex = &model.EventLink{
			AccountID:  ch.AccountID,
			CalendarID: ch.CalendarID,
			EventID:    rec.EventID,
		}
	}
	ex.Role = model.RoleException
	ex.Status = model.SyncStatusSynced
	ex.Origin = model.OriginExternal
	ex.LastSyncedAt = &now
	if !rec.OriginalStart.IsZero() {
		t := rec.OriginalStart
		ex.OccurrenceDate = &t
	}
	if master != nil {
		ex.MasterLinkID = &master.ID
		ex.EntityKind = master.EntityKind
		ex.EntityID = master.EntityID
	}
	batch.upsertLink(ex)

	if master != nil && master.Linked() {
		batch.notify(notify.ScheduleChange{
			AccountID:  ch.AccountID,
			EntityKind: master.EntityKind,
			EntityID:   master.EntityID,
			Kind:       notify.ChangeRescheduled,
			NewStart:   timePtr(rec.Start),
			NewEnd:     timePtr(rec.End),
		})
	}
}

// classifyNew pulls a previously unseen external event into an internal
// entity: all-day events become tasks, timed events become work blocks.
func (e *Engine) classifyNew(rec provider.ChangeRecord, ch *model.WebhookChannel, now time.Time, batch *batchUpdateSet) {
	link := &model.EventLink{
		AccountID:    ch.AccountID,
		CalendarID:   ch.CalendarID,
		EventID:      rec.EventID,
		Status:       model.SyncStatusSynced,
		Origin:       model.OriginExternal,
		Role:         model.RoleStandalone,
		LastSyncedAt: &now,
	}
	if rec.RecurrenceRule != "" {
		link.Role = model.RoleMaster
	}

	if rec.AllDay {
		task := &model.Task{
			AccountID:      ch.AccountID,
			Title:          rec.Summary,
			Notes:          rec.Description,
			DueAt:          timePtr(rec.Start),
			RecurrenceRule: canonicalRule(rec.RecurrenceRule, rec.Start),
		}
		link.EntityKind = model.KindTask
		batch.insertTask(task, link)
		return
	}

	block := &model.WorkBlock{
		AccountID:      ch.AccountID,
		Title:          rec.Summary,
		StartTime:      rec.Start,
		EndTime:        rec.End,
		RecurrenceRule: canonicalRule(rec.RecurrenceRule, rec.Start),
	}
	link.EntityKind = model.KindWorkBlock
	batch.insertWorkBlock(block, link)
}

// classifyUpdate handles time/content changes and recurrence-rule changes on
// an already-linked event.
func (e *Engine) classifyUpdate(rec provider.ChangeRecord, link *model.EventLink, ch *model.WebhookChannel, now time.Time, batch *batchUpdateSet, logger *slog.Logger) {
	if unchangedSince(rec, link) {
		return
	}

	link.Status = model.SyncStatusSynced
	link.Origin = model.OriginExternal
	link.LastSyncedAt = &now
	if link.DeletedAt != nil {
		// The event came back after a cancellation.
		link.DeletedAt = nil
	}
	if rec.RecurrenceRule != "" {
		link.Role = model.RoleMaster
	}
	batch.upsertLink(link)

	if !link.Linked() {
		return
	}

	switch link.EntityKind {
	case model.KindTask:
		task, err := e.tasks.GetByID(link.EntityID)
		if err != nil || task == nil {
			logger.Error("load task for update", "entity_id", link.EntityID, "error", err)
			return
		}
		task.Title = rec.Summary
		task.Notes = rec.Description
		task.DueAt = timePtr(rec.Start)
		if !rec.Start.IsZero() && !rec.End.IsZero() {
			task.DurationMinutes = int(rec.End.Sub(rec.Start) / time.Minute)
		}
		if rec.RecurrenceRule != "" {
			task.RecurrenceRule = canonicalRule(rec.RecurrenceRule, rec.Start)
		}
		batch.updateTask(task)

	case model.KindWorkBlock:
		block, err := e.workBlocks.GetByID(link.EntityID)
		if err != nil || block == nil {
			logger.Error("load work block for update", "entity_id", link.EntityID, "error", err)
			return
		}
		block.Title = rec.Summary
		block.StartTime = rec.Start
		block.EndTime = rec.End
		if rec.RecurrenceRule != "" {
			block.RecurrenceRule = canonicalRule(rec.RecurrenceRule, rec.Start)
		}
		batch.updateWorkBlock(block)
	}

	batch.notify(notify.ScheduleChange{
		AccountID:  ch.AccountID,
		EntityKind: link.EntityKind,
		EntityID:   link.EntityID,
		Kind:       notify.ChangeRescheduled,
		NewStart:   timePtr(rec.Start),
		NewEnd:     timePtr(rec.End),
	})
}

// unchangedSince reports whether the record carries nothing newer than what
// the link already absorbed, which makes re-delivery a no-op.
func unchangedSince(rec provider.ChangeRecord, link *model.EventLink) bool {
	return link.Status == model.SyncStatusSynced &&
		link.LastSyncedAt != nil &&
		!rec.Updated.IsZero() &&
		!rec.Updated.After(*link.LastSyncedAt)
}

// canonicalRule decodes an external rule and re-encodes it so the stored form
// is normalized; opaque rules pass through.
func canonicalRule(rule string, start time.Time) string {
	if rule == "" {
		return ""
	}
	pattern, end, err := recur.Decode(rule)
	if err != nil {
		return rule
	}
	encoded, err := recur.Encode(pattern, end, start)
	if err != nil {
		return rule
	}
	return encoded
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// batchUpdateSet is the transient grouping of writes produced by one
// reconciliation pass. Groups apply independently: a failure in one is
// logged and does not block the others.
type batchUpdateSet struct {
	taskUpserts  []*model.Task
	blockUpserts []*model.WorkBlock
	linkUpserts  []*model.EventLink
	linkDeletes  []int64

	// wires connect freshly inserted entities to the links that reference
	// them, resolved after the entity group assigns ids.
	taskWires  map[*model.Task]*model.EventLink
	blockWires map[*model.WorkBlock]*model.EventLink

	notifications []notify.ScheduleChange
}

func newBatchUpdateSet() *batchUpdateSet {
	return &batchUpdateSet{
		taskWires:  make(map[*model.Task]*model.EventLink),
		blockWires: make(map[*model.WorkBlock]*model.EventLink),
	}
}

func (b *batchUpdateSet) insertTask(t *model.Task, link *model.EventLink) {
	b.taskUpserts = append(b.taskUpserts, t)
	b.taskWires[t] = link
	b.linkUpserts = append(b.linkUpserts, link)
}

func (b *batchUpdateSet) insertWorkBlock(w *model.WorkBlock, link *model.EventLink) {
	b.blockUpserts = append(b.blockUpserts, w)
	b.blockWires[w] = link
	b.linkUpserts = append(b.linkUpserts, link)
}

func (b *batchUpdateSet) updateTask(t *model.Task)           { b.taskUpserts = append(b.taskUpserts, t) }
func (b *batchUpdateSet) updateWorkBlock(w *model.WorkBlock) { b.blockUpserts = append(b.blockUpserts, w) }
func (b *batchUpdateSet) upsertLink(l *model.EventLink)      { b.linkUpserts = append(b.linkUpserts, l) }
func (b *batchUpdateSet) deleteLink(id int64)                { b.linkDeletes = append(b.linkDeletes, id) }

func (b *batchUpdateSet) notify(c notify.ScheduleChange) {
	b.notifications = append(b.notifications, c)
}

// apply runs the grouped writes. The returned count is the number of rows
// that succeeded across all groups; the error aggregates group failures.
func (b *batchUpdateSet) apply(e *Engine, now time.Time, logger *slog.Logger) (int, error) {
	applied := 0
	var errs error

	if len(b.taskUpserts) > 0 {
		n, err := e.tasks.BulkUpsert(b.taskUpserts)
		applied += n
		if err != nil {
			logger.Error("task batch partially failed", "applied", n, "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	if len(b.blockUpserts) > 0 {
		n, err := e.workBlocks.BulkUpsert(b.blockUpserts)
		applied += n
		if err != nil {
			logger.Error("work block batch partially failed", "applied", n, "error", err)
			errs = multierr.Append(errs, err)
		}
	}

	// Wire freshly assigned entity ids into their links before the link
	// group runs.
	for task, link := range b.taskWires {
		link.EntityID = task.ID
	}
	for block, link := range b.blockWires {
		link.EntityID = block.ID
	}

	if len(b.linkUpserts) > 0 {
		n, err := e.links.BulkUpsert(b.linkUpserts)
		applied += n
		if err != nil {
			logger.Error("link batch partially failed", "applied", n, "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	if len(b.linkDeletes) > 0 {
		n, err := e.links.BulkSoftDelete(b.linkDeletes, now)
		applied += n
		if err != nil {
			logger.Error("link delete batch partially failed", "applied", n, "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	return applied, errs
}
