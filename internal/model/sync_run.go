package model

import "time"

// SyncStrategy names which pull strategy a sync invocation used.
type SyncStrategy string

const (
	StrategyCursor     SyncStrategy = "cursor"
	StrategyFullResync SyncStrategy = "full_resync"
)

// SyncRun is the per-invocation summary row kept for operator diagnosis.
type SyncRun struct {
	ID         int64        `json:"id"`
	ChannelID  string       `json:"channel_id"`
	Strategy   SyncStrategy `json:"strategy"`
	Pages      int          `json:"pages"`
	Records    int          `json:"records"`
	Applied    int          `json:"applied"`
	Error      string       `json:"error"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}
