package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/fennwick/calbridge/internal/model"
)

type ChannelStore struct {
	db *sql.DB
}

func NewChannelStore(db *sql.DB) *ChannelStore {
	return &ChannelStore{db: db}
}

const channelCols = `id, account_id, calendar_id, resource_id, token, sync_cursor, expiration, degraded, created_at, updated_at`

func scanChannel(scanner interface{ Scan(...any) error }) (*model.WebhookChannel, error) {
	var c model.WebhookChannel
	var cursor sql.NullString
	err := scanner.Scan(&c.ID, &c.AccountID, &c.CalendarID, &c.ResourceID, &c.Token,
		&cursor, &c.Expiration, &c.Degraded, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if cursor.Valid {
		c.SyncCursor = &cursor.String
	}
	return &c, nil
}

func (s *ChannelStore) GetByID(channelID string) (*model.WebhookChannel, error) {
	row := s.db.QueryRow(`SELECT `+channelCols+` FROM webhook_channels WHERE id = ?`, channelID)
	c, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return c, nil
}

func (s *ChannelStore) GetByAccountCalendar(accountID int64, calendarID string) (*model.WebhookChannel, error) {
	row := s.db.QueryRow(`SELECT `+channelCols+` FROM webhook_channels WHERE account_id = ? AND calendar_id = ?`,
		accountID, calendarID)
	c, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return c, nil
}

// GetByDelivery looks a channel up by the identity a webhook delivery carries.
func (s *ChannelStore) GetByDelivery(channelID, resourceID string) (*model.WebhookChannel, error) {
	row := s.db.QueryRow(`SELECT `+channelCols+` FROM webhook_channels WHERE id = ? AND resource_id = ?`,
		channelID, resourceID)
	c, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get channel by delivery: %w", err)
	}
	return c, nil
}

// Upsert inserts the channel, replacing any existing row for the same
// (account, calendar) pair so at most one channel exists per pair.
func (s *ChannelStore) Upsert(c *model.WebhookChannel) error {
	_, err := s.db.Exec(`
		INSERT INTO webhook_channels (id, account_id, calendar_id, resource_id, token, sync_cursor, expiration, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, calendar_id) DO UPDATE SET
			id = excluded.id,
			resource_id = excluded.resource_id,
			token = excluded.token,
			sync_cursor = excluded.sync_cursor,
			expiration = excluded.expiration,
			degraded = excluded.degraded,
			updated_at = CURRENT_TIMESTAMP`,
		c.ID, c.AccountID, c.CalendarID, c.ResourceID, c.Token, c.SyncCursor, c.Expiration, c.Degraded)
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}

// UpdateCursor persists a new sync cursor. This is always the final step of a
// successful sync invocation.
func (s *ChannelStore) UpdateCursor(channelID, cursor string) error {
	_, err := s.db.Exec(
		`UPDATE webhook_channels SET sync_cursor = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		cursor, channelID)
	if err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	return nil
}

// ClearCursor drops the stored cursor so the next sync starts clean. Used when
// a fresh cursor also expires immediately after a full resync.
func (s *ChannelStore) ClearCursor(channelID string) error {
	_, err := s.db.Exec(
		`UPDATE webhook_channels SET sync_cursor = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		channelID)
	if err != nil {
		return fmt.Errorf("clear cursor: %w", err)
	}
	return nil
}

func (s *ChannelStore) SetDegraded(channelID string, degraded bool) error {
	_, err := s.db.Exec(
		`UPDATE webhook_channels SET degraded = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		degraded, channelID)
	if err != nil {
		return fmt.Errorf("set degraded: %w", err)
	}
	return nil
}

func (s *ChannelStore) Delete(channelID string) error {
	_, err := s.db.Exec(`DELETE FROM webhook_channels WHERE id = ?`, channelID)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	return nil
}

// ListExpiring returns non-degraded channels expiring before the given
// instant, for the renewal sweep.
func (s *ChannelStore) ListExpiring(before time.Time) ([]*model.WebhookChannel, error) {
	rows, err := s.db.Query(
		`SELECT `+channelCols+` FROM webhook_channels WHERE expiration < ? AND degraded = 0`, before)
	if err != nil {
		return nil, fmt.Errorf("list expiring channels: %w", err)
	}
	defer rows.Close()

	var channels []*model.WebhookChannel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}
