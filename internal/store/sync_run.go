package store

import (
	"database/sql"
	"fmt"

	"github.com/fennwick/calbridge/internal/model"
)

type SyncRunStore struct {
	db *sql.DB
}

func NewSyncRunStore(db *sql.DB) *SyncRunStore {
	return &SyncRunStore{db: db}
}

// Record appends one sync invocation summary.
func (s *SyncRunStore) Record(run *model.SyncRun) error {
	_, err := s.db.Exec(
		`INSERT INTO sync_runs (channel_id, strategy, pages, records, applied, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ChannelID, run.Strategy, run.Pages, run.Records, run.Applied, run.Error,
		run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("record sync run: %w", err)
	}
	return nil
}

// ListByChannel returns the most recent runs for a channel, newest first.
func (s *SyncRunStore) ListByChannel(channelID string, limit int) ([]*model.SyncRun, error) {
	rows, err := s.db.Query(
		`SELECT id, channel_id, strategy, pages, records, applied, error, started_at, finished_at
		 FROM sync_runs WHERE channel_id = ? ORDER BY id DESC LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.SyncRun
	for rows.Next() {
		var r model.SyncRun
		if err := rows.Scan(&r.ID, &r.ChannelID, &r.Strategy, &r.Pages, &r.Records, &r.Applied,
			&r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
