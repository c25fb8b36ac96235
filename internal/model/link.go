package model

import "time"

// SyncStatus is the lifecycle state of an event link.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusFailed  SyncStatus = "failed"
	SyncStatusDeleted SyncStatus = "deleted"
)

// WriteOrigin records which side produced the last write to a link. Links
// whose last write came from the app are candidates for loop suppression when
// the provider echoes the change back.
type WriteOrigin string

const (
	OriginApp      WriteOrigin = "app"
	OriginExternal WriteOrigin = "external"
)

// RecurrenceRole distinguishes a one-off event, the master of a recurring
// series, and a single modified occurrence of a series.
type RecurrenceRole string

const (
	RoleStandalone RecurrenceRole = "standalone"
	RoleMaster     RecurrenceRole = "master"
	RoleException  RecurrenceRole = "exception"
)

// EntityKind names the internal entity a link points to.
type EntityKind string

const (
	KindTask      EntityKind = "task"
	KindWorkBlock EntityKind = "work_block"
)

// EventLink maps one external event identifier to one internal entity.
// At most one link exists per (account, event id). Links are soft-deleted when
// the external event is cancelled, to preserve audit history.
type EventLink struct {
	ID             int64          `json:"id"`
	AccountID      int64          `json:"account_id"`
	CalendarID     string         `json:"calendar_id"`
	EventID        string         `json:"event_id"`
	EntityKind     EntityKind     `json:"entity_kind"`
	EntityID       int64          `json:"entity_id"`
	Status         SyncStatus     `json:"status"`
	Origin         WriteOrigin    `json:"origin"`
	Role           RecurrenceRole `json:"role"`
	MasterLinkID   *int64         `json:"master_link_id"`
	OccurrenceDate *time.Time     `json:"occurrence_date"`
	LastSyncedAt   *time.Time     `json:"last_synced_at"`
	DeletedAt      *time.Time     `json:"deleted_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Linked reports whether the link points at a concrete internal entity.
func (l *EventLink) Linked() bool {
	return l.EntityID != 0
}
