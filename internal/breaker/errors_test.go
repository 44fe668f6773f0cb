package breaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type timeoutNetErr struct{ timeout bool }

func (e timeoutNetErr) Error() string   { return "dial tcp: i/o problem" }
func (e timeoutNetErr) Timeout() bool   { return e.timeout }
func (e timeoutNetErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryUnknown},
		{"context deadline", context.DeadlineExceeded, CategoryTimeout},
		{"net timeout", timeoutNetErr{timeout: true}, CategoryTimeout},
		{"net non-timeout", timeoutNetErr{timeout: false}, CategoryNetwork},
		{"timeout substring", errors.New("request timed out"), CategoryTimeout},
		{"rate limit substring", errors.New("429 too many requests"), CategoryRateLimit},
		{"connection substring", errors.New("connection reset by peer"), CategoryNetwork},
		{"no such host", errors.New("lookup gateway: no such host"), CategoryNetwork},
		{"bad gateway", errors.New("unexpected status 502"), CategoryNetwork},
		{"validation", errors.New("invalid signature encoding"), CategoryValidation},
		{"unknown", errors.New("something odd happened"), CategoryUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(nil) {
		t.Fatalf("nil error is not retryable")
	}
	if Retryable(&UnavailableError{Key: "k", State: StateOpen}) {
		t.Fatalf("breaker rejections are never retryable")
	}
	if Retryable(fmt.Errorf("call failed: %w", &UnavailableError{Key: "k", State: StateOpen})) {
		t.Fatalf("wrapped breaker rejections are never retryable")
	}
	if !Retryable(errors.New("connection refused")) {
		t.Fatalf("network errors are retryable")
	}
	if !Retryable(context.DeadlineExceeded) {
		t.Fatalf("timeouts are retryable")
	}
	if !Retryable(errors.New("rate limit exceeded")) {
		t.Fatalf("rate limit errors are retryable")
	}
	if Retryable(errors.New("invalid amount")) {
		t.Fatalf("validation errors are not retryable")
	}
	if Retryable(errors.New("some unexpected state")) {
		t.Fatalf("unknown errors are not retryable")
	}
}

func TestUnavailableError_MessageAndAs(t *testing.T) {
	err := fmt.Errorf("submit: %w", &UnavailableError{Key: "ledger:rpc", State: StateOpen})
	if !IsUnavailable(err) {
		t.Fatalf("IsUnavailable should see through wrapping")
	}
	var ue *UnavailableError
	if !errors.As(err, &ue) || ue.Key != "ledger:rpc" {
		t.Fatalf("unexpected unwrap: %+v", ue)
	}
	if got := ue.Error(); got != `circuit breaker "ledger:rpc" is open` {
		t.Fatalf("unexpected message: %q", got)
	}
}
