package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fennwick/calbridge/internal/backoff"
	"github.com/fennwick/calbridge/internal/model"
	"github.com/fennwick/calbridge/internal/notify"
	"github.com/fennwick/calbridge/internal/provider"
)

// In-memory fakes for the engine's repo interfaces. Store behavior against
// real sqlite is covered in the store package; these keep engine tests about
// engine logic.

type fakeChannels struct {
	byID          map[string]*model.WebhookChannel
	cursorUpdates map[string][]string
	cleared       []string
	degraded      []string
	deleted       []string
	upserts       []*model.WebhookChannel
	upsertErr     error
	expiring      []*model.WebhookChannel
}

func newFakeChannels(chs ...*model.WebhookChannel) *fakeChannels {
	f := &fakeChannels{
		byID:          make(map[string]*model.WebhookChannel),
		cursorUpdates: make(map[string][]string),
	}
	for _, ch := range chs {
		f.byID[ch.ID] = ch
	}
	return f
}

func (f *fakeChannels) GetByAccountCalendar(accountID int64, calendarID string) (*model.WebhookChannel, error) {
	for _, ch := range f.byID {
		if ch.AccountID == accountID && ch.CalendarID == calendarID {
			return ch, nil
		}
	}
	return nil, nil
}

func (f *fakeChannels) GetByDelivery(channelID, resourceID string) (*model.WebhookChannel, error) {
	ch := f.byID[channelID]
	if ch == nil || ch.ResourceID != resourceID {
		return nil, nil
	}
	return ch, nil
}

func (f *fakeChannels) Upsert(c *model.WebhookChannel) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, c)
	f.byID[c.ID] = c
	return nil
}

func (f *fakeChannels) UpdateCursor(channelID, cursor string) error {
	f.cursorUpdates[channelID] = append(f.cursorUpdates[channelID], cursor)
	return nil
}

func (f *fakeChannels) ClearCursor(channelID string) error {
	f.cleared = append(f.cleared, channelID)
	return nil
}

func (f *fakeChannels) SetDegraded(channelID string, degraded bool) error {
	f.degraded = append(f.degraded, channelID)
	if ch := f.byID[channelID]; ch != nil {
		ch.Degraded = degraded
	}
	return nil
}

func (f *fakeChannels) Delete(channelID string) error {
	f.deleted = append(f.deleted, channelID)
	delete(f.byID, channelID)
	return nil
}

func (f *fakeChannels) ListExpiring(before time.Time) ([]*model.WebhookChannel, error) {
	return f.expiring, nil
}

type fakeLinks struct {
	byEventID map[string]*model.EventLink
	nextID    int64
	upserted  []*model.EventLink
	softDel   []int64
}

func newFakeLinks(links ...*model.EventLink) *fakeLinks {
	f := &fakeLinks{byEventID: make(map[string]*model.EventLink), nextID: 100}
	for _, l := range links {
		f.byEventID[l.EventID] = l
	}
	return f
}

func (f *fakeLinks) BulkGet(accountID int64, eventIDs []string) (map[string]*model.EventLink, error) {
	out := make(map[string]*model.EventLink)
	for _, id := range eventIDs {
		if l, ok := f.byEventID[id]; ok && l.AccountID == accountID {
			out[id] = l
		}
	}
	return out, nil
}

func (f *fakeLinks) GetByEntity(accountID int64, kind model.EntityKind, entityID int64) (*model.EventLink, error) {
	for _, l := range f.byEventID {
		if l.AccountID == accountID && l.EntityKind == kind && l.EntityID == entityID && l.DeletedAt == nil {
			return l, nil
		}
	}
	return nil, nil
}

func (f *fakeLinks) BulkUpsert(links []*model.EventLink) (int, error) {
	for _, l := range links {
		if l.ID == 0 {
			f.nextID++
			l.ID = f.nextID
		}
		f.byEventID[l.EventID] = l
		f.upserted = append(f.upserted, l)
	}
	return len(links), nil
}

func (f *fakeLinks) BulkSoftDelete(ids []int64, at time.Time) (int, error) {
	for _, id := range ids {
		f.softDel = append(f.softDel, id)
		for _, l := range f.byEventID {
			if l.ID == id {
				l.Status = model.SyncStatusDeleted
				t := at
				l.DeletedAt = &t
			}
		}
	}
	return len(ids), nil
}

func (f *fakeLinks) FutureExceptions(masterLinkID int64, after time.Time) ([]*model.EventLink, error) {
	var out []*model.EventLink
	for _, l := range f.byEventID {
		if l.MasterLinkID != nil && *l.MasterLinkID == masterLinkID &&
			l.Role == model.RoleException && l.DeletedAt == nil &&
			l.OccurrenceDate != nil && l.OccurrenceDate.After(after) {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeTasks struct {
	byID   map[int64]*model.Task
	nextID int64
}

func newFakeTasks(tasks ...*model.Task) *fakeTasks {
	f := &fakeTasks{byID: make(map[int64]*model.Task), nextID: 500}
	for _, t := range tasks {
		f.byID[t.ID] = t
	}
	return f
}

func (f *fakeTasks) GetByID(id int64) (*model.Task, error) { return f.byID[id], nil }

func (f *fakeTasks) BulkUpsert(tasks []*model.Task) (int, error) {
	for _, t := range tasks {
		if t.ID == 0 {
			f.nextID++
			t.ID = f.nextID
		}
		f.byID[t.ID] = t
	}
	return len(tasks), nil
}

type fakeBlocks struct {
	byID   map[int64]*model.WorkBlock
	nextID int64
}

func newFakeBlocks(blocks ...*model.WorkBlock) *fakeBlocks {
	f := &fakeBlocks{byID: make(map[int64]*model.WorkBlock), nextID: 700}
	for _, b := range blocks {
		f.byID[b.ID] = b
	}
	return f
}

func (f *fakeBlocks) GetByID(id int64) (*model.WorkBlock, error) { return f.byID[id], nil }

func (f *fakeBlocks) BulkUpsert(blocks []*model.WorkBlock) (int, error) {
	for _, b := range blocks {
		if b.ID == 0 {
			f.nextID++
			b.ID = f.nextID
		}
		f.byID[b.ID] = b
	}
	return len(blocks), nil
}

type fakeAccounts struct {
	byID      map[int64]*model.Account
	reconnect []int64
}

func newFakeAccounts(accounts ...*model.Account) *fakeAccounts {
	f := &fakeAccounts{byID: make(map[int64]*model.Account)}
	for _, a := range accounts {
		f.byID[a.ID] = a
	}
	return f
}

func (f *fakeAccounts) GetByID(id int64) (*model.Account, error) { return f.byID[id], nil }

func (f *fakeAccounts) SetReconnectRequired(id int64, required bool) error {
	f.reconnect = append(f.reconnect, id)
	if a := f.byID[id]; a != nil {
		a.ReconnectRequired = required
	}
	return nil
}

type fakeRuns struct {
	runs []*model.SyncRun
}

func (f *fakeRuns) Record(run *model.SyncRun) error {
	f.runs = append(f.runs, run)
	return nil
}

// pageResp scripts one Changes call.
type pageResp struct {
	page *provider.ChangesPage
	err  error
}

type fakeClient struct {
	responses []pageResp
	queries   []provider.ChangesQuery

	watchResult *provider.WatchResult
	watchErr    error
	watched     []provider.WatchRequest

	stopped [][2]string
	stopErr error

	upsertID  string
	upsertErr error
	writes    []provider.EventWrite

	deleted   []string
	deleteErr error
}

func (f *fakeClient) Changes(ctx context.Context, calendarID string, q provider.ChangesQuery) (*provider.ChangesPage, error) {
	f.queries = append(f.queries, q)
	if len(f.responses) == 0 {
		return &provider.ChangesPage{NextCursor: "cursor-exhausted"}, nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r.page, r.err
}

func (f *fakeClient) Watch(ctx context.Context, calendarID string, req provider.WatchRequest) (*provider.WatchResult, error) {
	f.watched = append(f.watched, req)
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	if f.watchResult != nil {
		return f.watchResult, nil
	}
	return &provider.WatchResult{ResourceID: "res-" + req.ChannelID}, nil
}

func (f *fakeClient) StopChannel(ctx context.Context, channelID, resourceID string) error {
	f.stopped = append(f.stopped, [2]string{channelID, resourceID})
	return f.stopErr
}

func (f *fakeClient) UpsertEvent(ctx context.Context, calendarID string, w provider.EventWrite) (string, error) {
	f.writes = append(f.writes, w)
	if f.upsertErr != nil {
		return "", f.upsertErr
	}
	if w.EventID != "" {
		return w.EventID, nil
	}
	if f.upsertID != "" {
		return f.upsertID, nil
	}
	return "evt-new", nil
}

func (f *fakeClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	f.deleted = append(f.deleted, eventID)
	return f.deleteErr
}

type fakeSource struct {
	client      *fakeClient
	err         error
	invalidated []int64
}

func (f *fakeSource) ClientFor(ctx context.Context, accountID int64) (provider.CalendarAPI, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

func (f *fakeSource) Invalidate(accountID int64) {
	f.invalidated = append(f.invalidated, accountID)
}

type recordingNotifier struct {
	changes []notify.ScheduleChange
}

func (n *recordingNotifier) ScheduleChanged(ctx context.Context, change notify.ScheduleChange) {
	n.changes = append(n.changes, change)
}

// harness bundles the fakes behind one constructed engine.
type harness struct {
	channels *fakeChannels
	links    *fakeLinks
	tasks    *fakeTasks
	blocks   *fakeBlocks
	accounts *fakeAccounts
	runs     *fakeRuns
	client   *fakeClient
	source   *fakeSource
	notifier *recordingNotifier
	now      time.Time
	engine   *Engine
}

func newHarness(cfg Config) *harness {
	h := &harness{
		channels: newFakeChannels(),
		links:    newFakeLinks(),
		tasks:    newFakeTasks(),
		blocks:   newFakeBlocks(),
		accounts: newFakeAccounts(&model.Account{ID: 1, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}),
		runs:     &fakeRuns{},
		client:   &fakeClient{},
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	h.source = &fakeSource{client: h.client}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = backoff.Policy{Initial: time.Millisecond, Max: time.Millisecond, MaxAttempts: 2}
	}
	h.engine = New(Deps{
		Channels:   h.channels,
		Links:      h.links,
		Tasks:      h.tasks,
		WorkBlocks: h.blocks,
		Accounts:   h.accounts,
		Runs:       h.runs,
		Clients:    h.source,
		Notifier:   h.notifier,
		Logger:     slog.New(slog.DiscardHandler),
		Clock:      func() time.Time { return h.now },
	}, cfg)
	return h
}

func (h *harness) addChannel(cursor string) *model.WebhookChannel {
	ch := &model.WebhookChannel{
		ID:         "chan-1",
		AccountID:  1,
		CalendarID: "primary",
		ResourceID: "res-1",
		Token:      "secret-token",
		Expiration: h.now.Add(72 * time.Hour),
	}
	if cursor != "" {
		ch.SyncCursor = &cursor
	}
	h.channels.byID[ch.ID] = ch
	return ch
}

func cursorExpiredErr() error {
	return &provider.Error{Kind: provider.KindCursorExpired, Code: 410, Err: errors.New("gone")}
}

func authExpiredErr() error {
	return &provider.Error{Kind: provider.KindAuthExpired, Code: 401, Err: errors.New("unauthorized")}
}
