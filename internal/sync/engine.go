// Package sync is the calendar synchronization engine: channel registration,
// webhook dispatch, incremental cursor sync with full-resync fallback, and
// batched reconciliation of external changes against internal records.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fennwick/calbridge/internal/backoff"
	"github.com/fennwick/calbridge/internal/model"
	"github.com/fennwick/calbridge/internal/notify"
	"github.com/fennwick/calbridge/internal/provider"
)

// ChannelRepo, LinkRepo, TaskRepo, WorkBlockRepo, AccountRepo and RunRepo are
// the persistence surface the engine consumes. The sqlite stores satisfy
// them; tests substitute their own.
type ChannelRepo interface {
	GetByAccountCalendar(accountID int64, calendarID string) (*model.WebhookChannel, error)
	GetByDelivery(channelID, resourceID string) (*model.WebhookChannel, error)
	Upsert(c *model.WebhookChannel) error
	UpdateCursor(channelID, cursor string) error
	ClearCursor(channelID string) error
	SetDegraded(channelID string, degraded bool) error
	Delete(channelID string) error
	ListExpiring(before time.Time) ([]*model.WebhookChannel, error)
}

type LinkRepo interface {
	BulkGet(accountID int64, eventIDs []string) (map[string]*model.EventLink, error)
	GetByEntity(accountID int64, kind model.EntityKind, entityID int64) (*model.EventLink, error)
	BulkUpsert(links []*model.EventLink) (int, error)
	BulkSoftDelete(ids []int64, at time.Time) (int, error)
	FutureExceptions(masterLinkID int64, after time.Time) ([]*model.EventLink, error)
}

type TaskRepo interface {
	GetByID(id int64) (*model.Task, error)
	BulkUpsert(tasks []*model.Task) (int, error)
}

type WorkBlockRepo interface {
	GetByID(id int64) (*model.WorkBlock, error)
	BulkUpsert(blocks []*model.WorkBlock) (int, error)
}

type AccountRepo interface {
	GetByID(id int64) (*model.Account, error)
	SetReconnectRequired(id int64, required bool) error
}

type RunRepo interface {
	Record(run *model.SyncRun) error
}

// Config carries the engine's tunables.
type Config struct {
	CallbackURL string
	ChannelTTL  time.Duration
	// SuppressionWindow bounds loop suppression: an external change whose
	// link was last written by the app within this window is treated as our
	// own echo and skipped. Tunable; see DESIGN.md.
	SuppressionWindow time.Duration
	MaxPages          int
	SyncBudget        time.Duration
	// ResyncLookback clamps how far back a full resync reaches when the
	// account is older than this.
	ResyncLookback time.Duration
	Retry          backoff.Policy
}

// DefaultConfig returns the design defaults.
func DefaultConfig() Config {
	return Config{
		ChannelTTL:        7 * 24 * time.Hour,
		SuppressionWindow: 5 * time.Minute,
		MaxPages:          50,
		SyncBudget:        2 * time.Minute,
		ResyncLookback:    400 * 24 * time.Hour,
		Retry:             backoff.DefaultPolicy(),
	}
}

// Deps are the engine's injected collaborators.
type Deps struct {
	Channels   ChannelRepo
	Links      LinkRepo
	Tasks      TaskRepo
	WorkBlocks WorkBlockRepo
	Accounts   AccountRepo
	Runs       RunRepo
	Clients    provider.ClientSource
	Notifier   notify.Notifier
	Logger     *slog.Logger
	// Clock defaults to time.Now; tests override it.
	Clock func() time.Time
}

// Engine is constructed once per process and passed explicitly; it holds no
// global state.
type Engine struct {
	channels   ChannelRepo
	links      LinkRepo
	tasks      TaskRepo
	workBlocks WorkBlockRepo
	accounts   AccountRepo
	runs       RunRepo
	clients    provider.ClientSource
	notifier   notify.Notifier
	logger     *slog.Logger
	now        func() time.Time
	locks      *keyedLocks
	cfg        Config
}

func New(deps Deps, cfg Config) *Engine {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	def := DefaultConfig()
	if cfg.ChannelTTL <= 0 {
		cfg.ChannelTTL = def.ChannelTTL
	}
	if cfg.SuppressionWindow <= 0 {
		cfg.SuppressionWindow = def.SuppressionWindow
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.SyncBudget <= 0 {
		cfg.SyncBudget = def.SyncBudget
	}
	if cfg.ResyncLookback <= 0 {
		cfg.ResyncLookback = def.ResyncLookback
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = def.Retry
	}
	return &Engine{
		channels:   deps.Channels,
		links:      deps.Links,
		tasks:      deps.Tasks,
		workBlocks: deps.WorkBlocks,
		accounts:   deps.Accounts,
		runs:       deps.Runs,
		clients:    deps.Clients,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		now:        deps.Clock,
		locks:      newKeyedLocks(),
		cfg:        cfg,
	}
}

// Sync pulls and reconciles pending changes for one channel. Invocations for
// the same channel serialize; other channels run concurrently. Returns the
// number of internal records touched, which can be non-zero even on error
// (partial success).
func (e *Engine) Sync(ctx context.Context, ch *model.WebhookChannel) (int, error) {
	if ch.Degraded {
		return 0, ErrChannelDegraded
	}

	unlock := e.locks.lock(ch.ID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.SyncBudget)
	defer cancel()

	logger := e.logger.With("channel_id", ch.ID, "account_id", ch.AccountID)
	run := &model.SyncRun{ChannelID: ch.ID, StartedAt: e.now()}

	processed, err := e.sync(ctx, ch, logger, run)

	run.Applied = processed
	run.FinishedAt = e.now()
	if err != nil {
		run.Error = err.Error()
	}
	if recErr := e.runs.Record(run); recErr != nil {
		logger.Warn("record sync run", "error", recErr)
	}
	return processed, err
}

func (e *Engine) sync(ctx context.Context, ch *model.WebhookChannel, logger *slog.Logger, run *model.SyncRun) (int, error) {
	client, err := e.clients.ClientFor(ctx, ch.AccountID)
	if err != nil {
		return 0, fmt.Errorf("get provider client: %w", err)
	}

	var processed int
	if ch.SyncCursor != nil && *ch.SyncCursor != "" {
		run.Strategy = model.StrategyCursor
		processed, err = e.cursorSync(ctx, client, ch, logger, run)
	} else {
		// No cursor yet (fresh channel, or cleared after a resync loop).
		run.Strategy = model.StrategyFullResync
		processed, err = e.fullResync(ctx, client, ch, logger, run)
	}

	if err != nil && provider.KindOf(err) == provider.KindAuthExpired {
		e.degrade(ch, logger)
	}
	return processed, err
}

// cursorSync pages the change feed from the stored cursor. On cursor expiry
// it falls back to exactly one full resync; a second expiry in the same
// invocation is fatal and clears the cursor.
func (e *Engine) cursorSync(ctx context.Context, client provider.CalendarAPI, ch *model.WebhookChannel, logger *slog.Logger, run *model.SyncRun) (int, error) {
	records, newCursor, pageErr := e.pullIncremental(ctx, client, ch, run)
	if provider.KindOf(pageErr) == provider.KindCursorExpired {
		logger.Info("sync cursor expired, falling back to full resync")
		run.Strategy = model.StrategyFullResync
		processed, err := e.fullResync(ctx, client, ch, logger, run)
		if provider.KindOf(err) == provider.KindCursorExpired {
			// Do not loop: clear the cursor so the next invocation starts
			// clean, and surface the failure.
			if clearErr := e.channels.ClearCursor(ch.ID); clearErr != nil {
				logger.Error("clear cursor", "error", clearErr)
			}
			ch.SyncCursor = nil
			return processed, ErrResyncLoop
		}
		return processed, err
	}
	if pageErr != nil && len(records) == 0 {
		return 0, pageErr
	}

	applied, recErr := e.reconcile(ctx, ch, records, run)
	if recErr != nil {
		// Leave the cursor untouched: the failed records will be
		// re-delivered on the next invocation instead of being dropped.
		return applied, recErr
	}
	if pageErr != nil {
		// Pagination was cut short (budget or page cap). The accumulated
		// prefix is reconciled, but the cursor must not advance past it.
		return applied, pageErr
	}

	if newCursor != "" && (ch.SyncCursor == nil || newCursor != *ch.SyncCursor) {
		// Cursor advancement is the final step: a crash before this point
		// re-delivers the same changes, which reconciliation tolerates.
		if err := e.channels.UpdateCursor(ch.ID, newCursor); err != nil {
			return applied, fmt.Errorf("persist cursor: %w", err)
		}
		ch.SyncCursor = &newCursor
	}
	return applied, nil
}

func (e *Engine) pullIncremental(ctx context.Context, client provider.CalendarAPI, ch *model.WebhookChannel, run *model.SyncRun) ([]provider.ChangeRecord, string, error) {
	var records []provider.ChangeRecord
	var newCursor, pageToken string

	for page := 0; ; page++ {
		if page >= e.cfg.MaxPages {
			return records, "", ErrTooManyPages
		}
		q := provider.ChangesQuery{Cursor: *ch.SyncCursor, PageToken: pageToken}
		result, err := e.fetchPage(ctx, client, ch.CalendarID, q)
		if err != nil {
			return records, "", err
		}
		run.Pages++
		records = append(records, result.Records...)
		run.Records = len(records)
		if result.NextPageToken == "" {
			newCursor = result.NextCursor
			break
		}
		pageToken = result.NextPageToken
	}
	return records, newCursor, nil
}

// fullResync re-derives state from a bounded historical window and obtains a
// fresh cursor. Deliberately more expensive than cursor sync; not the common
// case.
func (e *Engine) fullResync(ctx context.Context, client provider.CalendarAPI, ch *model.WebhookChannel, logger *slog.Logger, run *model.SyncRun) (int, error) {
	lower := e.resyncLowerBound(ch, logger)

	var records []provider.ChangeRecord
	var pageToken string
	for page := 0; ; page++ {
		if page >= e.cfg.MaxPages {
			// The window still has unfetched pages. Reconcile the prefix, but
			// do not take a fresh cursor: those records predate it and would
			// never be delivered again. The next invocation resumes the
			// resync from scratch.
			applied, recErr := e.reconcile(ctx, ch, records, run)
			if recErr != nil {
				return applied, recErr
			}
			return applied, ErrTooManyPages
		}
		q := provider.ChangesQuery{UpdatedMin: lower, PageToken: pageToken}
		result, err := e.fetchPage(ctx, client, ch.CalendarID, q)
		if err != nil {
			return 0, err
		}
		run.Pages++
		records = append(records, result.Records...)
		run.Records = len(records)
		if result.NextPageToken == "" {
			break
		}
		pageToken = result.NextPageToken
	}

	// A separate minimal query obtains the fresh cursor.
	freshCursor, err := e.bootstrapCursor(ctx, client, ch.CalendarID)
	if err != nil {
		return 0, err
	}

	applied, recErr := e.reconcile(ctx, ch, records, run)
	if recErr != nil {
		return applied, recErr
	}

	if err := e.channels.UpdateCursor(ch.ID, freshCursor); err != nil {
		return applied, fmt.Errorf("persist fresh cursor: %w", err)
	}
	ch.SyncCursor = &freshCursor
	return applied, nil
}

func (e *Engine) resyncLowerBound(ch *model.WebhookChannel, logger *slog.Logger) time.Time {
	now := e.now()
	lower := now.Add(-e.cfg.ResyncLookback)
	account, err := e.accounts.GetByID(ch.AccountID)
	if err != nil {
		logger.Warn("load account for resync bound", "error", err)
	} else if account != nil && account.CreatedAt.After(lower) {
		lower = account.CreatedAt
	}
	return lower
}

// bootstrapCursor issues a minimal feed query whose only purpose is to obtain
// a starting cursor; its results are discarded.
func (e *Engine) bootstrapCursor(ctx context.Context, client provider.CalendarAPI, calendarID string) (string, error) {
	var pageToken string
	for page := 0; page < e.cfg.MaxPages; page++ {
		q := provider.ChangesQuery{UpdatedMin: e.now(), PageToken: pageToken, MaxResults: 250}
		result, err := e.fetchPage(ctx, client, calendarID, q)
		if err != nil {
			return "", err
		}
		if result.NextPageToken == "" {
			if result.NextCursor == "" {
				return "", fmt.Errorf("provider returned no cursor on final page")
			}
			return result.NextCursor, nil
		}
		pageToken = result.NextPageToken
	}
	return "", ErrTooManyPages
}

func (e *Engine) fetchPage(ctx context.Context, client provider.CalendarAPI, calendarID string, q provider.ChangesQuery) (*provider.ChangesPage, error) {
	var page *provider.ChangesPage
	err := e.cfg.Retry.Do(ctx, e.logger, "changes", provider.IsRetryable, func(ctx context.Context) error {
		p, err := client.Changes(ctx, calendarID, q)
		if err == nil {
			page = p
		}
		return err
	})
	return page, err
}

// degrade marks the channel and account as needing re-authorization and drops
// any cached client so the stale credentials are not reused.
func (e *Engine) degrade(ch *model.WebhookChannel, logger *slog.Logger) {
	logger.Warn("provider authorization expired, marking channel degraded")
	if err := e.channels.SetDegraded(ch.ID, true); err != nil {
		logger.Error("set channel degraded", "error", err)
	}
	if err := e.accounts.SetReconnectRequired(ch.AccountID, true); err != nil {
		logger.Error("set reconnect required", "error", err)
	}
	if inv, ok := e.clients.(interface{ Invalidate(int64) }); ok {
		inv.Invalidate(ch.AccountID)
	}
}
