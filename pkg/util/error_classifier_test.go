package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

func TestIsRetryableError(t *testing.T) {
	var syntaxErr *json.SyntaxError
	jsonErr := json.Unmarshal([]byte("{"), &struct{}{})
	if !errors.As(jsonErr, &syntaxErr) {
		t.Fatalf("setup: expected json syntax error, got %T", jsonErr)
	}

	cases := []struct {
		name      string
		err       error
		retryable bool
		errType   string
	}{
		{"nil", nil, false, ""},
		{"permanent", Permanent(errors.New("bad status")), false, "permanent"},
		{"wrapped permanent", fmt.Errorf("handle: %w", Permanent(errors.New("x"))), false, "permanent"},
		{"json", fmt.Errorf("decode: %w", jsonErr), false, "json_decode_error"},
		{"no rows", fmt.Errorf("get: %w", pgx.ErrNoRows), false, "not_found"},
		{"deadline", context.DeadlineExceeded, true, "timeout"},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"conflict", errors.New("subtask version conflict"), true, "version_conflict"},
		{"duplicate", errors.New("ERROR: duplicate key value"), false, "duplicate_key"},
		{"unknown", errors.New("weird"), false, "unknown_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retryable, errType := IsRetryableError(tc.err)
			if retryable != tc.retryable || errType != tc.errType {
				t.Errorf("got (%v, %q), want (%v, %q)", retryable, errType, tc.retryable, tc.errType)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	if ShouldRetry(1, 3, false) {
		t.Error("non-retryable must never retry")
	}
	if !ShouldRetry(3, 3, true) {
		t.Error("retry count at the limit should still retry")
	}
	if ShouldRetry(4, 3, true) {
		t.Error("retry count above the limit must stop")
	}
}

func TestDedupKey(t *testing.T) {
	if got := DedupKey("intervention", "abc", "overdue"); got != "dedup:intervention:abc:overdue" {
		t.Errorf("got %q", got)
	}
}

func TestLocalDeduper(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	d := NewLocalDeduper(time.Hour)
	d.now = func() time.Time { return now }

	if !d.AcquireOnce(ctx, "k") {
		t.Fatal("first acquire should succeed")
	}
	if d.AcquireOnce(ctx, "k") {
		t.Fatal("second acquire within ttl should be deduped")
	}
	d.Release(ctx, "k")
	if !d.AcquireOnce(ctx, "k") {
		t.Fatal("acquire after release should succeed")
	}
	now = now.Add(2 * time.Hour)
	if !d.AcquireOnce(ctx, "k") {
		t.Fatal("acquire after ttl should succeed")
	}
}
