package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleClient implements CalendarAPI against the Google Calendar v3 API.
type GoogleClient struct {
	svc *calendar.Service
}

// NewGoogleClient builds a client on top of an already-authenticated HTTP
// client (typically an oauth2 transport).
func NewGoogleClient(ctx context.Context, httpClient *http.Client) (*GoogleClient, error) {
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &GoogleClient{svc: svc}, nil
}

func (g *GoogleClient) Changes(ctx context.Context, calendarID string, q ChangesQuery) (*ChangesPage, error) {
	call := g.svc.Events.List(calendarID).
		Context(ctx).
		ShowDeleted(true).
		SingleEvents(false)

	if q.Cursor != "" {
		call = call.SyncToken(q.Cursor)
	} else if !q.UpdatedMin.IsZero() {
		call = call.UpdatedMin(q.UpdatedMin.Format(time.RFC3339))
	}
	if q.PageToken != "" {
		call = call.PageToken(q.PageToken)
	}
	if q.MaxResults > 0 {
		call = call.MaxResults(q.MaxResults)
	}

	events, err := call.Do()
	if err != nil {
		return nil, classify(err)
	}

	page := &ChangesPage{
		NextPageToken: events.NextPageToken,
		NextCursor:    events.NextSyncToken,
	}
	for _, ev := range events.Items {
		page.Records = append(page.Records, fromEvent(ev))
	}
	return page, nil
}

func (g *GoogleClient) Watch(ctx context.Context, calendarID string, req WatchRequest) (*WatchResult, error) {
	ch := &calendar.Channel{
		Id:         req.ChannelID,
		Type:       "web_hook",
		Address:    req.CallbackURL,
		Token:      req.Token,
		Expiration: time.Now().Add(req.TTL).UnixMilli(),
	}
	got, err := g.svc.Events.Watch(calendarID, ch).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}
	return &WatchResult{
		ResourceID: got.ResourceId,
		Expiration: time.UnixMilli(got.Expiration),
	}, nil
}

func (g *GoogleClient) StopChannel(ctx context.Context, channelID, resourceID string) error {
	err := g.svc.Channels.Stop(&calendar.Channel{
		Id:         channelID,
		ResourceId: resourceID,
	}).Context(ctx).Do()
	if err != nil {
		return classify(err)
	}
	return nil
}

func (g *GoogleClient) UpsertEvent(ctx context.Context, calendarID string, w EventWrite) (string, error) {
	ev := &calendar.Event{
		Summary:     w.Summary,
		Description: w.Description,
		Start:       &calendar.EventDateTime{DateTime: w.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: w.End.Format(time.RFC3339)},
	}
	if w.RecurrenceRule != "" {
		ev.Recurrence = []string{w.RecurrenceRule}
	}

	if w.EventID == "" {
		created, err := g.svc.Events.Insert(calendarID, ev).Context(ctx).Do()
		if err != nil {
			return "", classify(err)
		}
		return created.Id, nil
	}

	updated, err := g.svc.Events.Update(calendarID, w.EventID, ev).Context(ctx).Do()
	if err != nil {
		return "", classify(err)
	}
	return updated.Id, nil
}

func (g *GoogleClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := g.svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return classify(err)
	}
	return nil
}

func fromEvent(ev *calendar.Event) ChangeRecord {
	rec := ChangeRecord{
		EventID:       ev.Id,
		Cancelled:     ev.Status == "cancelled",
		Summary:       ev.Summary,
		Description:   ev.Description,
		MasterEventID: ev.RecurringEventId,
	}
	if ev.Start != nil {
		rec.Start, rec.AllDay = parseEventTime(ev.Start)
	}
	if ev.End != nil {
		rec.End, _ = parseEventTime(ev.End)
	}
	if ev.OriginalStartTime != nil {
		rec.OriginalStart, _ = parseEventTime(ev.OriginalStartTime)
	}
	for _, line := range ev.Recurrence {
		if strings.HasPrefix(line, "RRULE:") {
			rec.RecurrenceRule = line
			break
		}
	}
	if ev.Updated != "" {
		if t, err := time.Parse(time.RFC3339, ev.Updated); err == nil {
			rec.Updated = t
		}
	}
	return rec
}

func parseEventTime(edt *calendar.EventDateTime) (time.Time, bool) {
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err == nil {
			return t, false
		}
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
