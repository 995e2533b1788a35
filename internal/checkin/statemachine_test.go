package checkin

import (
	"errors"
	"strings"
	"testing"
	"time"

	"pkagent/internal/model"
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newSubtask(deadline time.Duration) *model.Subtask {
	return &model.Subtask{
		ID:                "s1",
		Description:       "Practice chords",
		EstimatedDuration: "1 hour",
		Deadline:          now.Add(deadline),
		Status:            model.StatusPending,
		Checkpoints:       []string{"C major", "G major"},
		MotivationTips:    []string{"Ten minutes counts."},
	}
}

func TestRecord_Completed(t *testing.T) {
	s := newSubtask(48 * time.Hour)
	rec, err := Record(s, Report{Status: model.ReportCompleted}, now)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !s.Completed || s.CompletedAt == nil || !s.CompletedAt.Equal(now) || s.Status != model.StatusCompleted {
		t.Errorf("completion fields: completed=%v completed_at=%v status=%s", s.Completed, s.CompletedAt, s.Status)
	}
	if len(s.CheckIns) != 1 || s.CheckInCount != 1 {
		t.Errorf("history: got %d records, count %d, want 1/1", len(s.CheckIns), s.CheckInCount)
	}
	if !rec.Timestamp.Equal(now) || rec.Status != model.ReportCompleted {
		t.Errorf("record: got %+v", rec)
	}
	if s.LastCheckIn == nil || !s.LastCheckIn.Equal(now) {
		t.Errorf("last_check_in: got %v", s.LastCheckIn)
	}
}

func TestRecord_CountMatchesHistory(t *testing.T) {
	statuses := []model.ReportedStatus{
		model.ReportInProgress, model.ReportSkipped, model.ReportOverdueAcknowledged,
		model.ReportInProgress, model.ReportSkipped,
	}
	s := newSubtask(-24 * time.Hour)
	for i, st := range statuses {
		if _, err := Record(s, Report{Status: st, Reason: "tired"}, now.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
		if s.CheckInCount != len(s.CheckIns) {
			t.Fatalf("after %d: count %d != len %d", i, s.CheckInCount, len(s.CheckIns))
		}
	}
	if len(s.CheckIns) != len(statuses) {
		t.Errorf("len: got %d, want %d", len(s.CheckIns), len(statuses))
	}
}

func TestRecord_TwiceAppendsTwice(t *testing.T) {
	s := newSubtask(48 * time.Hour)
	r := Report{Status: model.ReportInProgress}
	_, _ = Record(s, r, now)
	_, _ = Record(s, r, now)
	if len(s.CheckIns) != 2 || s.CheckInCount != 2 {
		t.Errorf("got %d records, count %d", len(s.CheckIns), s.CheckInCount)
	}
}

func TestRecord_RejectsCompletedSubtask(t *testing.T) {
	s := newSubtask(48 * time.Hour)
	_, _ = Record(s, Report{Status: model.ReportCompleted}, now)
	_, err := Record(s, Report{Status: model.ReportInProgress}, now.Add(time.Hour))
	if !errors.Is(err, ErrSubtaskCompleted) {
		t.Fatalf("got %v, want ErrSubtaskCompleted", err)
	}
	if len(s.CheckIns) != 1 {
		t.Errorf("rejected check-in must not append, got %d records", len(s.CheckIns))
	}
}

func TestRecord_Transitions(t *testing.T) {
	cases := []struct {
		name     string
		deadline time.Duration
		from     model.SubtaskStatus
		report   model.ReportedStatus
		want     model.SubtaskStatus
	}{
		{"pending in progress", 48 * time.Hour, model.StatusPending, model.ReportInProgress, model.StatusInProgress},
		{"delayed resumes", -48 * time.Hour, model.StatusDelayed, model.ReportInProgress, model.StatusInProgress},
		{"skipped upcoming unchanged", 48 * time.Hour, model.StatusPending, model.ReportSkipped, model.StatusPending},
		{"skipped overdue delays", -1 * time.Hour, model.StatusInProgress, model.ReportSkipped, model.StatusDelayed},
		{"overdue acknowledged delays", 48 * time.Hour, model.StatusInProgress, model.ReportOverdueAcknowledged, model.StatusDelayed},
	}
	for _, tc := range cases {
		s := newSubtask(tc.deadline)
		s.Status = tc.from
		if _, err := Record(s, Report{Status: tc.report}, now); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if s.Status != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, s.Status, tc.want)
		}
	}
}

func TestRecord_AvoidanceWithReasonAddsProgressNote(t *testing.T) {
	s := newSubtask(48 * time.Hour)
	_, _ = Record(s, Report{Status: model.ReportSkipped, Reason: "too tired"}, now)
	if len(s.ProgressNotes) != 1 {
		t.Fatalf("notes: got %d, want 1", len(s.ProgressNotes))
	}
	n := s.ProgressNotes[0]
	if n.Kind != model.NoteProcrastination || n.Text != "too tired" || !n.At.Equal(now) {
		t.Errorf("note: got %+v", n)
	}

	// no reason, or not an avoidance status: no note
	_, _ = Record(s, Report{Status: model.ReportSkipped}, now)
	_, _ = Record(s, Report{Status: model.ReportInProgress, Reason: "ignored"}, now)
	if len(s.ProgressNotes) != 1 {
		t.Errorf("notes: got %d, want 1", len(s.ProgressNotes))
	}
}

func TestRecord_TimestampsNeverDecrease(t *testing.T) {
	s := newSubtask(48 * time.Hour)
	_, _ = Record(s, Report{Status: model.ReportInProgress}, now)
	rec, _ := Record(s, Report{Status: model.ReportInProgress}, now.Add(-time.Hour))
	if rec.Timestamp.Before(now) {
		t.Errorf("timestamp went backwards: %v", rec.Timestamp)
	}
}

func TestRecord_MotivationOverride(t *testing.T) {
	s := newSubtask(48 * time.Hour)
	rec, _ := Record(s, Report{Status: model.ReportSkipped, Reason: "busy", Motivation: "You can do it."}, now)
	if rec.Motivation != "You can do it." {
		t.Errorf("motivation: got %q", rec.Motivation)
	}
}

func TestBuildIntervention_Overdue(t *testing.T) {
	s := newSubtask(-50 * time.Hour)
	iv := Preview(*s, now)
	if !strings.Contains(iv.Response, "passed 2 days ago") {
		t.Errorf("response: %q", iv.Response)
	}
	if len(iv.Suggestions) == 0 || !strings.Contains(iv.Suggestions[0], "10 minutes") {
		t.Errorf("suggestions: %v", iv.Suggestions)
	}
}

func TestBuildIntervention_LastDayBeforeDeadline(t *testing.T) {
	iv := Preview(*newSubtask(12*time.Hour), now)
	if !strings.Contains(iv.Response, "due in 12 hours, today") {
		t.Errorf("response: %q", iv.Response)
	}
	if strings.Contains(iv.Response, "passed") {
		t.Errorf("deadline not reached yet, response says it passed: %q", iv.Response)
	}
	if len(iv.Suggestions) == 0 || !strings.Contains(iv.Suggestions[0], "10 minutes") {
		t.Errorf("last-day subtask keeps the urgent suggestions: %v", iv.Suggestions)
	}

	iv = Preview(*newSubtask(0), now)
	if !strings.Contains(iv.Response, "due right now") || strings.Contains(iv.Response, "passed") {
		t.Errorf("at the deadline: %q", iv.Response)
	}
}

func TestBuildIntervention_UpcomingLargeSuggestsSplitting(t *testing.T) {
	s := newSubtask(30 * time.Hour)
	s.EstimatedDuration = "2 days"
	iv := Preview(*s, now)
	if !strings.Contains(iv.Response, "due in 1 day") {
		t.Errorf("response: %q", iv.Response)
	}
	found := false
	for _, sg := range iv.Suggestions {
		if strings.Contains(sg, "split") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a split suggestion, got %v", iv.Suggestions)
	}

	s.EstimatedDuration = "1 hour"
	for _, sg := range Preview(*s, now).Suggestions {
		if strings.Contains(sg, "split") {
			t.Errorf("small step should not suggest splitting: %v", sg)
		}
	}
}

func TestMarkOverdue(t *testing.T) {
	s := newSubtask(-time.Hour)
	if !MarkOverdue(s, now) || s.Status != model.StatusDelayed {
		t.Errorf("overdue pending: got status %s", s.Status)
	}
	if MarkOverdue(s, now) {
		t.Error("already delayed should report no change")
	}

	upcoming := newSubtask(72 * time.Hour)
	if MarkOverdue(upcoming, now) {
		t.Error("upcoming subtask must not be delayed")
	}

	done := newSubtask(-time.Hour)
	ToggleCompletion(done, now)
	if MarkOverdue(done, now) {
		t.Error("completed subtask must not be delayed")
	}
}

func TestToggleCompletion(t *testing.T) {
	s := newSubtask(48 * time.Hour)
	if !ToggleCompletion(s, now) {
		t.Fatal("first toggle should complete")
	}
	if s.CompletedAt == nil || s.Status != model.StatusCompleted {
		t.Errorf("after complete: %+v", s)
	}
	if ToggleCompletion(s, now) {
		t.Fatal("second toggle should un-complete")
	}
	if s.CompletedAt != nil || s.Status != model.StatusPending {
		t.Errorf("after un-complete without check-ins: completed_at=%v status=%s", s.CompletedAt, s.Status)
	}

	_, _ = Record(s, Report{Status: model.ReportInProgress}, now)
	ToggleCompletion(s, now)
	ToggleCompletion(s, now)
	if s.Status != model.StatusInProgress {
		t.Errorf("after un-complete with check-ins: got %s, want in_progress", s.Status)
	}
}

func TestLooksLarge(t *testing.T) {
	cases := map[string]bool{
		"2 hours": false, "3 hours": true, "1 days": true, "1 week": true,
		"45 minutes": false, "1 hour": false, "soon": false, "": false,
	}
	for in, want := range cases {
		if got := looksLarge(in); got != want {
			t.Errorf("looksLarge(%q) = %v, want %v", in, got, want)
		}
	}
}
