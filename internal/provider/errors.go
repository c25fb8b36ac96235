package provider

import (
	"errors"
	"fmt"

	"google.golang.org/api/googleapi"
)

// Kind is the structured classification of a provider failure. Callers match
// on Kind instead of inspecting error text.
type Kind int

const (
	KindOther Kind = iota
	KindCursorExpired
	KindRateLimited
	KindQuotaExceeded
	KindAuthExpired
	KindUnavailable
	KindNotFound
)

var kindNames = map[Kind]string{
	KindOther:         "other",
	KindCursorExpired: "cursor_expired",
	KindRateLimited:   "rate_limited",
	KindQuotaExceeded: "quota_exceeded",
	KindAuthExpired:   "auth_expired",
	KindUnavailable:   "unavailable",
	KindNotFound:      "not_found",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Error wraps a provider failure with its classification.
type Error struct {
	Kind Kind
	Code int // HTTP status, 0 when not applicable
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s (code %d): %v", e.Kind, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification, returning KindOther for foreign errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}

// IsRetryable reports whether the error class is worth retrying with backoff:
// rate limits, quota exhaustion, and transient unavailability.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindQuotaExceeded, KindUnavailable:
		return true
	}
	return false
}

// classify maps a raw Google API error onto the taxonomy using structured
// status codes and reasons, never message text.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return &Error{Kind: KindUnavailable, Err: err}
	}

	kind := KindOther
	switch gerr.Code {
	case 410:
		kind = KindCursorExpired
	case 401:
		kind = KindAuthExpired
	case 404:
		kind = KindNotFound
	case 429:
		kind = KindRateLimited
	case 403:
		for _, item := range gerr.Errors {
			switch item.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded":
				kind = KindRateLimited
			case "quotaExceeded", "dailyLimitExceeded":
				kind = KindQuotaExceeded
			}
		}
	default:
		if gerr.Code >= 500 {
			kind = KindUnavailable
		}
	}
	return &Error{Kind: kind, Code: gerr.Code, Err: err}
}
