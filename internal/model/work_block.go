package model

import "time"

// WorkBlock is a time-bounded block of scheduled focus work.
type WorkBlock struct {
	ID             int64     `json:"id"`
	AccountID      int64     `json:"account_id"`
	Title          string    `json:"title"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	RecurrenceRule string    `json:"recurrence_rule"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
