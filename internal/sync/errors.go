package sync

import "errors"

var (
	// ErrChannelNotFound means a delivery named a channel we do not manage.
	ErrChannelNotFound = errors.New("webhook channel not found")

	// ErrInvalidToken means the delivery's verification token did not match
	// the stored secret. Security boundary: rejected before any sync work.
	ErrInvalidToken = errors.New("webhook token mismatch")

	// ErrInvalidDelivery means a delivery was missing required identity
	// headers.
	ErrInvalidDelivery = errors.New("webhook delivery missing required fields")

	// ErrResyncLoop means the provider rejected a cursor that was freshly
	// obtained by a completed full resync in the same invocation. The cursor
	// is cleared; the next invocation starts clean.
	ErrResyncLoop = errors.New("cursor expired immediately after full resync")

	// ErrChannelDegraded means the channel's account must re-authorize
	// before syncing can resume.
	ErrChannelDegraded = errors.New("channel degraded, account must re-authorize")

	// ErrTooManyPages means pagination hit the per-invocation cap before the
	// feed was exhausted. Accumulated records are still reconciled; the
	// cursor is not advanced, so the remainder arrives on redelivery.
	ErrTooManyPages = errors.New("pagination cap reached before feed end")
)
