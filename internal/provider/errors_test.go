package provider

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestClassifyStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"gone is cursor expired", &googleapi.Error{Code: 410}, KindCursorExpired},
		{"unauthorized is auth expired", &googleapi.Error{Code: 401}, KindAuthExpired},
		{"not found", &googleapi.Error{Code: 404}, KindNotFound},
		{"too many requests", &googleapi.Error{Code: 429}, KindRateLimited},
		{"forbidden rate limit", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}, KindRateLimited},
		{"forbidden user rate limit", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, KindRateLimited},
		{"forbidden quota", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}, KindQuotaExceeded},
		{"forbidden daily limit", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "dailyLimitExceeded"}}}, KindQuotaExceeded},
		{"plain forbidden", &googleapi.Error{Code: 403}, KindOther},
		{"server error", &googleapi.Error{Code: 503}, KindUnavailable},
		{"network error", fmt.Errorf("dial tcp: connection refused"), KindUnavailable},
	}

	for _, tt := range tests {
		got := classify(tt.err)
		if KindOf(got) != tt.kind {
			t.Errorf("%s: kind = %s, want %s", tt.name, KindOf(got), tt.kind)
		}
	}
}

func TestClassifyPreservesCause(t *testing.T) {
	cause := &googleapi.Error{Code: 410}
	err := classify(cause)
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != 410 {
		t.Errorf("classified error should unwrap to the original googleapi error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindRateLimited, true},
		{KindQuotaExceeded, true},
		{KindUnavailable, true},
		{KindCursorExpired, false},
		{KindAuthExpired, false},
		{KindNotFound, false},
		{KindOther, false},
	}
	for _, tt := range tests {
		err := &Error{Kind: tt.kind, Err: errors.New("x")}
		if IsRetryable(err) != tt.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", tt.kind, !tt.want, tt.want)
		}
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("foreign errors must not be retryable")
	}
}
