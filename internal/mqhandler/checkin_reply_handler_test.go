package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"pkagent/internal/checkin"
	"pkagent/internal/model"
	"pkagent/internal/service"
	"pkagent/pkg/util"
)

type fakeSubmitter struct {
	calls  []model.ReportedStatus
	reason string
	err    error
}

func (f *fakeSubmitter) SubmitCheckIn(_ context.Context, _ string, status model.ReportedStatus, reason string) (*model.CheckIn, error) {
	f.calls = append(f.calls, status)
	f.reason = reason
	if f.err != nil {
		return nil, f.err
	}
	return &model.CheckIn{Status: status}, nil
}

func handle(t *testing.T, h *CheckInReplyHandler, body string) error {
	t.Helper()
	return h.Handle(context.Background(), json.RawMessage(body))
}

func TestHandle_SubmitsCheckIn(t *testing.T) {
	sub := &fakeSubmitter{}
	h := NewCheckInReplyHandler(sub, nil, zap.NewNop())
	if err := handle(t, h, `{"subtask_id":"s1","status":"Skipped","reason":"sick"}`); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(sub.calls) != 1 || sub.calls[0] != model.ReportSkipped || sub.reason != "sick" {
		t.Errorf("calls: %v reason %q", sub.calls, sub.reason)
	}
}

func TestHandle_PermanentErrors(t *testing.T) {
	for _, body := range []string{
		`{"subtask_id":"s1","status":"maybe"}`,
		`{"status":"completed"}`,
	} {
		err := handle(t, NewCheckInReplyHandler(&fakeSubmitter{}, nil, zap.NewNop()), body)
		if retryable, _ := util.IsRetryableError(err); err == nil || retryable {
			t.Errorf("%s: got %v, want permanent error", body, err)
		}
	}

	for _, svcErr := range []error{service.ErrNotFound, checkin.ErrSubtaskCompleted, service.ErrInvalidInput} {
		h := NewCheckInReplyHandler(&fakeSubmitter{err: svcErr}, nil, zap.NewNop())
		err := handle(t, h, `{"subtask_id":"s1","status":"completed"}`)
		if retryable, kind := util.IsRetryableError(err); retryable || kind != "permanent" {
			t.Errorf("%v: got retryable=%v kind=%s", svcErr, retryable, kind)
		}
	}
}

func TestHandle_VersionConflictIsRetried(t *testing.T) {
	h := NewCheckInReplyHandler(&fakeSubmitter{err: service.ErrVersionConflict}, nil, zap.NewNop())
	err := handle(t, h, `{"subtask_id":"s1","status":"in_progress"}`)
	if retryable, _ := util.IsRetryableError(err); !retryable {
		t.Errorf("got %v, want retryable", err)
	}
}

func TestHandle_BadJSON(t *testing.T) {
	err := handle(t, NewCheckInReplyHandler(&fakeSubmitter{}, nil, zap.NewNop()), `{`)
	if retryable, kind := util.IsRetryableError(err); retryable || kind != "json_decode_error" {
		t.Errorf("got retryable=%v kind=%s", retryable, kind)
	}
}

func TestHandle_DuplicateReplySkipped(t *testing.T) {
	sub := &fakeSubmitter{}
	h := NewCheckInReplyHandler(sub, util.NewLocalDeduper(time.Hour), zap.NewNop())
	body := `{"reply_id":"r-1","subtask_id":"s1","status":"in_progress"}`
	_ = handle(t, h, body)
	_ = handle(t, h, body)
	if len(sub.calls) != 1 {
		t.Errorf("calls: got %d, want 1", len(sub.calls))
	}
}

func TestHandle_FailedReplyCanBeRetried(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("connection reset")}
	h := NewCheckInReplyHandler(sub, util.NewLocalDeduper(time.Hour), zap.NewNop())
	body := `{"reply_id":"r-2","subtask_id":"s1","status":"in_progress"}`
	_ = handle(t, h, body)
	sub.err = nil
	if err := handle(t, h, body); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(sub.calls) != 2 {
		t.Errorf("calls: got %d, want 2", len(sub.calls))
	}
}
