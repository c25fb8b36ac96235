package sync

import (
	"context"
	"testing"
	"time"

	"github.com/fennwick/calbridge/internal/model"
	"github.com/fennwick/calbridge/internal/notify"
	"github.com/fennwick/calbridge/internal/provider"
)

func TestReconcileNewTimedEventCreatesWorkBlock(t *testing.T) {
	h := newHarness(Config{})
	ch := h.addChannel("cur-1")
	start := h.now.Add(time.Hour)

	applied, err := h.engine.reconcile(context.Background(), ch, []provider.ChangeRecord{
		{EventID: "evt-1", Summary: "deep work", Start: start, End: start.Add(2 * time.Hour), Updated: h.now},
	}, &model.SyncRun{})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}

	link := h.links.byEventID["evt-1"]
	if link == nil {
		t.Fatal("link not created")
	}
	if link.EntityKind != model.KindWorkBlock || link.Origin != model.OriginExternal {
		t.Errorf("link = %+v, want external work-block link", link)
	}
	block := h.blocks.byID[link.EntityID]
	if block == nil || block.Title != "deep work" || !block.StartTime.Equal(start) {
		t.Errorf("block = %+v, want titled block at %v", block, start)
	}
}

func TestReconcileNewAllDayEventCreatesTask(t *testing.T) {
	h := newHarness(Config{})
	ch := h.addChannel("cur-1")
	day := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)

	_, err := h.engine.reconcile(context.Background(), ch, []provider.ChangeRecord{
		{EventID: "evt-1", Summary: "file taxes", AllDay: true, Start: day, End: day.AddDate(0, 0, 1), Updated: h.now},
	}, &model.SyncRun{})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	link := h.links.byEventID["evt-1"]
	if link == nil || link.EntityKind != model.KindTask {
		t.Fatalf("link = %+v, want task link", link)
	}
	task := h.tasks.byID[link.EntityID]
	if task == nil || task.Title != "file taxes" || task.DueAt == nil || !task.DueAt.Equal(day) {
		t.Errorf("task = %+v, want due %v", task, day)
	}
}

func TestReconcileSuppressesRecentAppWrites(t *testing.T) {
	h := newHarness(Config{SuppressionWindow: 5 * time.Minute})
	ch := h.addChannel("cur-1")

	wrote := h.now.Add(-2 * time.Minute)
	h.links = newFakeLinks(&model.EventLink{
		ID: 1, AccountID: 1, CalendarID: "primary", EventID: "evt-1",
		EntityKind: model.KindWorkBlock, EntityID: 700,
		Status: model.SyncStatusSynced, Origin: model.OriginApp,
		Role: model.RoleStandalone, LastSyncedAt: &wrote,
	})
	h.engine.links = h.links
	h.blocks.byID[700] = &model.WorkBlock{ID: 700, AccountID: 1, Title: "old title"}

	// The echo of our own write arrives within the window: nothing changes.
	applied, err := h.engine.reconcile(context.Background(), ch, []provider.ChangeRecord{
		{EventID: "evt-1", Summary: "echoed title", Start: h.now, End: h.now.Add(time.Hour), Updated: h.now},
	}, &model.SyncRun{})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d, want 0", applied)
	}
	if h.blocks.byID[700].Title != "old title" {
		t.Errorf("block title = %q, echoed write was not suppressed", h.blocks.byID[700].Title)
	}

	// The same change past the window is a genuine external edit.
	h.now = h.now.Add(10 * time.Minute)
	applied, err = h.engine.reconcile(context.Background(), ch, []provider.ChangeRecord{
		{EventID: "evt-1", Summary: "real edit", Start: h.now, End: h.now.Add(time.Hour), Updated: h.now},
	}, &model.SyncRun{})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if applied == 0 {
		t.Fatal("change past suppression window was dropped")
	}
	if h.blocks.byID[700].Title != "real edit" {
		t.Errorf("block title = %q, want %q", h.blocks.byID[700].Title, "real edit")
	}
}

func TestReconcileCancellationSoftDeletesAndIsIdempotent(t *testing.T) {
	h := newHarness(Config{})
	ch := h.addChannel("cur-1")

	synced := h.now.Add(-time.Hour)
	h.links = newFakeLinks(&model.EventLink{
		ID: 1, AccountID: 1, CalendarID: "primary", EventID: "evt-1",
		EntityKind: model.KindWorkBlock, EntityID: 700,
		Status: model.SyncStatusSynced, Origin: model.OriginExternal,
		Role: model.RoleStandalone, LastSyncedAt: &synced,
	})
	h.engine.links = h.links

	cancel := []provider.ChangeRecord{{EventID: "evt-1", Cancelled: true, Updated: h.now}}
	applied, err := h.engine.reconcile(context.Background(), ch, cancel, &model.SyncRun{})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
	if h.links.byEventID["evt-1"].Status != model.SyncStatusDeleted {
		t.Error("link not soft-deleted")
	}
	if len(h.notifier.changes) != 1 || h.notifier.changes[0].Kind != notify.ChangeCancelled {
		t.Errorf("notifications = %+v, want one cancellation", h.notifier.changes)
	}

	// Redelivery of the same cancellation is a no-op.
	applied, err = h.engine.reconcile(context.Background(), ch, cancel, &model.SyncRun{})
	if err != nil {
		t.Fatalf("reconcile redelivery: %v", err)
	}
	if applied != 0 {
		t.Errorf("redelivered cancellation applied = %d, want 0", applied)
	}
	if len(h.notifier.changes) != 1 {
		t.Errorf("redelivery produced extra notifications: %+v", h.notifier.changes)
	}
}

func TestReconcileCancelledUnlinkedEventSkipped(t *testing.T) {
	h := newHarness(Config{})
	ch := h.addChannel("cur-1")

	applied, err := h.engine.reconcile(context.Background(), ch, []provider.ChangeRecord{
		{EventID: "evt-unknown", Cancelled: true, Updated: h.now},
	}, &model.SyncRun{})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d, want 0", applied)
	}
}

func TestReconcileMasterCancellationCascadesFutureExceptions(t *testing.T) {
	h := newHarness(Config{})
	ch := h.addChannel("cur-1")

	synced := h.now.Add(-time.Hour)
	masterID := int64(1)
	future := h.now.Add(48 * time.Hour)
	past := h.now.Add(-48 * time.Hour)
	h.links = newFakeLinks(
		&model.EventLink{
			ID: masterID, AccountID: 1, EventID: "series-1",
			EntityKind: model.KindWorkBlock, EntityID: 700,
			Status: model.SyncStatusSynced, Origin: model.OriginExternal,
			Role: model.RoleMaster, LastSyncedAt: &synced,
		},
		&model.EventLink{
			ID: 2, AccountID: 1, EventID: "series-1_20260312",
			EntityKind: model.KindWorkBlock, EntityID: 700,
			Status: model.SyncStatusSynced, Origin: model.OriginExternal,
			Role: model.RoleException, MasterLinkID: &masterID,
			OccurrenceDate: &future, LastSyncedAt: &synced,
		},
		&model.EventLink{
			ID: 3, AccountID: 1, EventID: "series-1_20260305",
			EntityKind: model.KindWorkBlock, EntityID: 700,
			Status: model.SyncStatusSynced, Origin: model.OriginExternal,
			Role: model.RoleException, MasterLinkID: &masterID,
			OccurrenceDate: &past, LastSyncedAt: &synced,
		},
	)
	h.engine.links = h.links

	_, err := h.engine.reconcile(context.Background(), ch, []provider.ChangeRecord{
		{EventID: "series-1", Cancelled: true, Updated: h.now},
	}, &model.SyncRun{})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	deleted := map[int64]bool{}
	for _, id := range h.links.softDel {
		deleted[id] = true
	}
	if !deleted[1] || !deleted[2] {
		t.Errorf("soft-deleted = %v, want master and future exception", h.links.softDel)
	}
	if deleted[3] {
		t.Error("past exception was cascaded; only future ones should be")
	}
}

func TestReconcileExceptionLinksToMaster(t *testing.T) {
	h := newHarness(Config{})
	ch := h.addChannel("cur-1")

	synced := h.now.Add(-time.Hour)
	masterID := int64(1)
	h.links = newFakeLinks(&model.EventLink{
		ID: masterID, AccountID: 1, EventID: "series-1",
		EntityKind: model.KindWorkBlock, EntityID: 700,
		Status: model.SyncStatusSynced, Origin: model.OriginExternal,
		Role: model.RoleMaster, LastSyncedAt: &synced,
	})
	h.engine.links = h.links

	original := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	moved := original.Add(3 * time.Hour)
	_, err := h.engine.reconcile(context.Background(), ch, []provider.ChangeRecord{
		{
			EventID: "series-1_20260312", MasterEventID: "series-1",
			Summary: "standup (moved)", Start: moved, End: moved.Add(30 * time.Minute),
			OriginalStart: original, Updated: h.now,
		},
	}, &model.SyncRun{})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	ex := h.links.byEventID["series-1_20260312"]
	if ex == nil {
		t.Fatal("exception link not created")
	}
	if ex.Role != model.RoleException || ex.MasterLinkID == nil || *ex.MasterLinkID != masterID {
		t.Errorf("exception link = %+v, want role exception under master %d", ex, masterID)
	}
	if ex.OccurrenceDate == nil || !ex.OccurrenceDate.Equal(original) {
		t.Errorf("occurrence date = %v, want %v", ex.OccurrenceDate, original)
	}
	if ex.EntityID != 700 || ex.EntityKind != model.KindWorkBlock {
		t.Errorf("exception entity = %s/%d, want master's entity", ex.EntityKind, ex.EntityID)
	}
	if len(h.notifier.changes) != 1 || h.notifier.changes[0].Kind != notify.ChangeRescheduled {
		t.Errorf("notifications = %+v, want one reschedule", h.notifier.changes)
	}
}

func TestReconcileStaleUpdateSkipped(t *testing.T) {
	h := newHarness(Config{})
	ch := h.addChannel("cur-1")

	synced := h.now.Add(-time.Minute)
	h.links = newFakeLinks(&model.EventLink{
		ID: 1, AccountID: 1, EventID: "evt-1",
		EntityKind: model.KindWorkBlock, EntityID: 700,
		Status: model.SyncStatusSynced, Origin: model.OriginExternal,
		Role: model.RoleStandalone, LastSyncedAt: &synced,
	})
	h.engine.links = h.links
	h.blocks.byID[700] = &model.WorkBlock{ID: 700, AccountID: 1, Title: "current"}

	// Record's update timestamp predates what the link already absorbed.
	applied, err := h.engine.reconcile(context.Background(), ch, []provider.ChangeRecord{
		{EventID: "evt-1", Summary: "stale", Start: h.now, End: h.now.Add(time.Hour), Updated: synced.Add(-time.Hour)},
	}, &model.SyncRun{})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d, want 0", applied)
	}
	if h.blocks.byID[700].Title != "current" {
		t.Errorf("stale record overwrote entity: %q", h.blocks.byID[700].Title)
	}
}

func TestReconcileRecurringEventStoresNormalizedRule(t *testing.T) {
	h := newHarness(Config{})
	ch := h.addChannel("cur-1")
	start := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC) // Monday

	_, err := h.engine.reconcile(context.Background(), ch, []provider.ChangeRecord{
		{
			EventID: "series-1", Summary: "weekly sync",
			Start: start, End: start.Add(time.Hour),
			RecurrenceRule: "RRULE:FREQ=WEEKLY;BYDAY=MO", Updated: h.now,
		},
	}, &model.SyncRun{})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	link := h.links.byEventID["series-1"]
	if link == nil || link.Role != model.RoleMaster {
		t.Fatalf("link = %+v, want master link", link)
	}
	block := h.blocks.byID[link.EntityID]
	if block == nil || block.RecurrenceRule == "" {
		t.Fatalf("block = %+v, want stored recurrence rule", block)
	}
}
