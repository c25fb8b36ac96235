package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/fennwick/calbridge/internal/model"
)

// Payload is the JSON sent to the push service.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
}

// SubscriptionStore is the slice of the push store the notifier needs.
type SubscriptionStore interface {
	ListByAccount(accountID int64) ([]*model.PushSubscription, error)
	DeleteByEndpoint(endpoint string) error
}

// WebPushNotifier delivers schedule changes as web push notifications to all
// of an account's subscribed clients.
type WebPushNotifier struct {
	publicKey  string
	privateKey string
	subscriber string
	subs       SubscriptionStore
	logger     *slog.Logger
}

func NewWebPushNotifier(publicKey, privateKey, subscriber string, subs SubscriptionStore, logger *slog.Logger) *WebPushNotifier {
	return &WebPushNotifier{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
		subs:       subs,
		logger:     logger,
	}
}

func (n *WebPushNotifier) ScheduleChanged(ctx context.Context, change ScheduleChange) {
	subs, err := n.subs.ListByAccount(change.AccountID)
	if err != nil {
		n.logger.Error("list push subscriptions", "account_id", change.AccountID, "error", err)
		return
	}

	payload := buildPayload(change)
	for _, sub := range subs {
		if err := n.send(sub, payload); err != nil {
			n.logger.Warn("push delivery failed",
				"account_id", change.AccountID,
				"endpoint", sub.Endpoint,
				"error", err)
		}
	}
}

func (n *WebPushNotifier) send(sub *model.PushSubscription, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotification(data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  n.publicKey,
		VAPIDPrivateKey: n.privateKey,
		Subscriber:      n.subscriber,
		TTL:             3600,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		// Subscription is dead; drop it so we stop retrying.
		if err := n.subs.DeleteByEndpoint(sub.Endpoint); err != nil {
			return fmt.Errorf("delete expired subscription: %w", err)
		}
		return nil
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}

func buildPayload(change ScheduleChange) Payload {
	var body string
	switch change.Kind {
	case ChangeCancelled:
		body = "An item on your calendar was cancelled."
	case ChangeRescheduled:
		if change.NewStart != nil {
			body = "An item moved to " + change.NewStart.Format(time.RFC1123)
		} else {
			body = "An item on your calendar was rescheduled."
		}
	default:
		body = "An item on your calendar was updated."
	}
	return Payload{
		Title: "Schedule updated",
		Body:  body,
		Tag:   fmt.Sprintf("%s-%d", change.EntityKind, change.EntityID),
	}
}
