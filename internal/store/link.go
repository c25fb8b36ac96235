package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/fennwick/calbridge/internal/model"
)

type LinkStore struct {
	db *sql.DB
}

func NewLinkStore(db *sql.DB) *LinkStore {
	return &LinkStore{db: db}
}

const linkCols = `id, account_id, calendar_id, event_id, entity_kind, entity_id, status, origin, role,
	master_link_id, occurrence_date, last_synced_at, deleted_at, created_at, updated_at`

func scanLink(scanner interface{ Scan(...any) error }) (*model.EventLink, error) {
	var l model.EventLink
	var master sql.NullInt64
	var occurrence, lastSynced, deleted sql.NullTime
	err := scanner.Scan(&l.ID, &l.AccountID, &l.CalendarID, &l.EventID, &l.EntityKind, &l.EntityID,
		&l.Status, &l.Origin, &l.Role, &master, &occurrence, &lastSynced, &deleted,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if master.Valid {
		l.MasterLinkID = &master.Int64
	}
	if occurrence.Valid {
		l.OccurrenceDate = &occurrence.Time
	}
	if lastSynced.Valid {
		l.LastSyncedAt = &lastSynced.Time
	}
	if deleted.Valid {
		l.DeletedAt = &deleted.Time
	}
	return &l, nil
}

// BulkGet fetches the links for all given external event ids in one query,
// keyed by event id. Soft-deleted links are included so cancellations stay
// idempotent.
func (s *LinkStore) BulkGet(accountID int64, eventIDs []string) (map[string]*model.EventLink, error) {
	result := make(map[string]*model.EventLink, len(eventIDs))
	if len(eventIDs) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(eventIDs)-1) + "?"
	args := make([]any, 0, len(eventIDs)+1)
	args = append(args, accountID)
	for _, id := range eventIDs {
		args = append(args, id)
	}

	rows, err := s.db.Query(
		`SELECT `+linkCols+` FROM event_links WHERE account_id = ? AND event_id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("bulk get links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		result[l.EventID] = l
	}
	return result, rows.Err()
}

func (s *LinkStore) GetByEventID(accountID int64, eventID string) (*model.EventLink, error) {
	row := s.db.QueryRow(
		`SELECT `+linkCols+` FROM event_links WHERE account_id = ? AND event_id = ?`,
		accountID, eventID)
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	return l, nil
}

// GetByEntity finds the non-deleted link pointing at an internal entity.
func (s *LinkStore) GetByEntity(accountID int64, kind model.EntityKind, entityID int64) (*model.EventLink, error) {
	row := s.db.QueryRow(
		`SELECT `+linkCols+` FROM event_links
		 WHERE account_id = ? AND entity_kind = ? AND entity_id = ? AND deleted_at IS NULL`,
		accountID, kind, entityID)
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get link by entity: %w", err)
	}
	return l, nil
}

// BulkUpsert writes the links as one group. Rows fail independently: the
// returned count is how many succeeded, and the error aggregates per-row
// failures without aborting the rest of the group.
func (s *LinkStore) BulkUpsert(links []*model.EventLink) (int, error) {
	applied := 0
	var errs error
	for _, l := range links {
		if err := s.upsert(l); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("link %s: %w", l.EventID, err))
			continue
		}
		applied++
	}
	return applied, errs
}

func (s *LinkStore) upsert(l *model.EventLink) error {
	result, err := s.db.Exec(`
		INSERT INTO event_links (account_id, calendar_id, event_id, entity_kind, entity_id, status, origin, role,
			master_link_id, occurrence_date, last_synced_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, event_id) DO UPDATE SET
			calendar_id = excluded.calendar_id,
			entity_kind = excluded.entity_kind,
			entity_id = excluded.entity_id,
			status = excluded.status,
			origin = excluded.origin,
			role = excluded.role,
			master_link_id = excluded.master_link_id,
			occurrence_date = excluded.occurrence_date,
			last_synced_at = excluded.last_synced_at,
			deleted_at = excluded.deleted_at,
			updated_at = CURRENT_TIMESTAMP`,
		l.AccountID, l.CalendarID, l.EventID, l.EntityKind, l.EntityID, l.Status, l.Origin, l.Role,
		l.MasterLinkID, l.OccurrenceDate, l.LastSyncedAt, l.DeletedAt)
	if err != nil {
		return err
	}
	if l.ID == 0 {
		if id, err := result.LastInsertId(); err == nil {
			l.ID = id
		}
	}
	return nil
}

// BulkSoftDelete marks links deleted without removing the rows, preserving
// audit history. Same per-row failure semantics as BulkUpsert.
func (s *LinkStore) BulkSoftDelete(ids []int64, at time.Time) (int, error) {
	applied := 0
	var errs error
	for _, id := range ids {
		_, err := s.db.Exec(
			`UPDATE event_links SET status = ?, deleted_at = ?, origin = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			model.SyncStatusDeleted, at, model.OriginExternal, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("link %d: %w", id, err))
			continue
		}
		applied++
	}
	return applied, errs
}

// FutureExceptions lists non-deleted occurrence-exception links of a master
// whose occurrence date falls after the given instant.
func (s *LinkStore) FutureExceptions(masterLinkID int64, after time.Time) ([]*model.EventLink, error) {
	rows, err := s.db.Query(
		`SELECT `+linkCols+` FROM event_links
		 WHERE master_link_id = ? AND role = ? AND deleted_at IS NULL AND occurrence_date > ?`,
		masterLinkID, model.RoleException, after)
	if err != nil {
		return nil, fmt.Errorf("list future exceptions: %w", err)
	}
	defer rows.Close()

	var links []*model.EventLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}
