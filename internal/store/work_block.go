package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/multierr"

	"github.com/fennwick/calbridge/internal/model"
)

type WorkBlockStore struct {
	db *sql.DB
}

func NewWorkBlockStore(db *sql.DB) *WorkBlockStore {
	return &WorkBlockStore{db: db}
}

const workBlockCols = `id, account_id, title, start_time, end_time, recurrence_rule, created_at, updated_at`

func scanWorkBlock(scanner interface{ Scan(...any) error }) (*model.WorkBlock, error) {
	var b model.WorkBlock
	err := scanner.Scan(&b.ID, &b.AccountID, &b.Title, &b.StartTime, &b.EndTime,
		&b.RecurrenceRule, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *WorkBlockStore) Create(b *model.WorkBlock) (*model.WorkBlock, error) {
	result, err := s.db.Exec(
		`INSERT INTO work_blocks (account_id, title, start_time, end_time, recurrence_rule)
		 VALUES (?, ?, ?, ?, ?)`,
		b.AccountID, b.Title, b.StartTime, b.EndTime, b.RecurrenceRule)
	if err != nil {
		return nil, fmt.Errorf("insert work block: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *WorkBlockStore) GetByID(id int64) (*model.WorkBlock, error) {
	row := s.db.QueryRow(`SELECT `+workBlockCols+` FROM work_blocks WHERE id = ?`, id)
	b, err := scanWorkBlock(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get work block: %w", err)
	}
	return b, nil
}

// BulkUpsert applies work block writes as one group with per-row failure
// reporting.
func (s *WorkBlockStore) BulkUpsert(blocks []*model.WorkBlock) (int, error) {
	applied := 0
	var errs error
	for _, b := range blocks {
		var err error
		if b.ID == 0 {
			var result sql.Result
			result, err = s.db.Exec(
				`INSERT INTO work_blocks (account_id, title, start_time, end_time, recurrence_rule)
				 VALUES (?, ?, ?, ?, ?)`,
				b.AccountID, b.Title, b.StartTime, b.EndTime, b.RecurrenceRule)
			if err == nil {
				if id, idErr := result.LastInsertId(); idErr == nil {
					b.ID = id
				}
			}
		} else {
			_, err = s.db.Exec(
				`UPDATE work_blocks SET title = ?, start_time = ?, end_time = ?, recurrence_rule = ?,
					updated_at = CURRENT_TIMESTAMP
				 WHERE id = ?`,
				b.Title, b.StartTime, b.EndTime, b.RecurrenceRule, b.ID)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("work block %d: %w", b.ID, err))
			continue
		}
		applied++
	}
	return applied, errs
}
