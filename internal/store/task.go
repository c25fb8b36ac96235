package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/multierr"

	"github.com/fennwick/calbridge/internal/model"
)

type TaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskCols = `id, account_id, title, notes, due_at, duration_minutes, recurrence_rule, completed, created_at, updated_at`

func scanTask(scanner interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	var due sql.NullTime
	err := scanner.Scan(&t.ID, &t.AccountID, &t.Title, &t.Notes, &due, &t.DurationMinutes,
		&t.RecurrenceRule, &t.Completed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if due.Valid {
		t.DueAt = &due.Time
	}
	return &t, nil
}

func (s *TaskStore) Create(t *model.Task) (*model.Task, error) {
	result, err := s.db.Exec(
		`INSERT INTO tasks (account_id, title, notes, due_at, duration_minutes, recurrence_rule, completed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.AccountID, t.Title, t.Notes, t.DueAt, t.DurationMinutes, t.RecurrenceRule, t.Completed)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *TaskStore) GetByID(id int64) (*model.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// BulkUpsert applies task writes as one group with per-row failure reporting.
func (s *TaskStore) BulkUpsert(tasks []*model.Task) (int, error) {
	applied := 0
	var errs error
	for _, t := range tasks {
		var err error
		if t.ID == 0 {
			var result sql.Result
			result, err = s.db.Exec(
				`INSERT INTO tasks (account_id, title, notes, due_at, duration_minutes, recurrence_rule, completed)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				t.AccountID, t.Title, t.Notes, t.DueAt, t.DurationMinutes, t.RecurrenceRule, t.Completed)
			if err == nil {
				if id, idErr := result.LastInsertId(); idErr == nil {
					t.ID = id
				}
			}
		} else {
			_, err = s.db.Exec(
				`UPDATE tasks SET title = ?, notes = ?, due_at = ?, duration_minutes = ?, recurrence_rule = ?,
					completed = ?, updated_at = CURRENT_TIMESTAMP
				 WHERE id = ?`,
				t.Title, t.Notes, t.DueAt, t.DurationMinutes, t.RecurrenceRule, t.Completed, t.ID)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("task %d: %w", t.ID, err))
			continue
		}
		applied++
	}
	return applied, errs
}
