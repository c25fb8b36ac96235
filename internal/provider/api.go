// Package provider models the external calendar protocol: change feeds with
// opaque cursors, push-notification channels, and event writes.
package provider

import (
	"context"
	"time"
)

// ChangeRecord is one raw change from the provider's feed, normalized from
// the wire representation.
type ChangeRecord struct {
	EventID     string
	Cancelled   bool
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
	// RecurrenceRule holds the event's RRULE line, empty for one-off events.
	RecurrenceRule string
	// MasterEventID is set on modified occurrences of a recurring series and
	// names the series master.
	MasterEventID string
	// OriginalStart is the occurrence date a modified instance overrides.
	OriginalStart time.Time
	Updated       time.Time
}

// ChangesQuery selects a page of the change feed. Exactly one of Cursor or
// UpdatedMin drives the query: Cursor resumes incremental sync, UpdatedMin
// bounds a full reconciliation.
type ChangesQuery struct {
	Cursor     string
	PageToken  string
	UpdatedMin time.Time
	MaxResults int64
}

// ChangesPage is one page of feed results. NextCursor is only present on the
// final page of an incremental pass.
type ChangesPage struct {
	Records       []ChangeRecord
	NextPageToken string
	NextCursor    string
}

// WatchRequest asks the provider to open a push channel.
type WatchRequest struct {
	ChannelID   string
	Token       string
	CallbackURL string
	TTL         time.Duration
}

// WatchResult is the provider's answer: its resource handle and the granted
// expiration (which may be earlier than requested).
type WatchResult struct {
	ResourceID string
	Expiration time.Time
}

// EventWrite is the outbound representation of an internal entity.
type EventWrite struct {
	EventID        string // empty on insert
	Summary        string
	Description    string
	Start          time.Time
	End            time.Time
	RecurrenceRule string
}

// CalendarAPI is the provider surface the sync engine consumes. All errors
// are classified (*Error) so callers can match on Kind.
type CalendarAPI interface {
	Changes(ctx context.Context, calendarID string, q ChangesQuery) (*ChangesPage, error)
	Watch(ctx context.Context, calendarID string, req WatchRequest) (*WatchResult, error)
	StopChannel(ctx context.Context, channelID, resourceID string) error
	UpsertEvent(ctx context.Context, calendarID string, w EventWrite) (string, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// ClientSource hands out an authenticated CalendarAPI for an account. Token
// acquisition and refresh live behind this boundary.
type ClientSource interface {
	ClientFor(ctx context.Context, accountID int64) (CalendarAPI, error)
}
