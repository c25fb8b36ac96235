package model

import "time"

type Task struct {
	ID              int64      `json:"id"`
	AccountID       int64      `json:"account_id"`
	Title           string     `json:"title"`
	Notes           string     `json:"notes"`
	DueAt           *time.Time `json:"due_at"`
	DurationMinutes int        `json:"duration_minutes"`
	RecurrenceRule  string     `json:"recurrence_rule"`
	Completed       bool       `json:"completed"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
