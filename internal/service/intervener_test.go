package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	contractmq "pkagent/contracts/mq"
	"pkagent/internal/model"
	"pkagent/internal/repository"
	"pkagent/internal/urgency"
	"pkagent/pkg/outbox"
	"pkagent/pkg/util"
)

type failingUpdateStore struct {
	*repository.MemoryStore
}

func (f failingUpdateStore) UpdateSubtask(context.Context, *model.Subtask, int64, ...*outbox.Event) error {
	return errors.New("db unavailable")
}

type memCounter struct{ counts map[string]int64 }

func (m *memCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memCounter) Reset(_ context.Context, key string) error {
	delete(m.counts, key)
	return nil
}

func activeSubtask(t *testing.T, store Store, id string) model.ActiveSubtask {
	t.Helper()
	list, err := store.ListActiveSubtasks(context.Background())
	if err != nil {
		t.Fatalf("ListActiveSubtasks: %v", err)
	}
	for _, s := range list {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("subtask %s not active", id)
	return model.ActiveSubtask{}
}

func interventionEvents(mem *repository.MemoryStore) []contractmq.InterventionDuePayload {
	var out []contractmq.InterventionDuePayload
	for _, ev := range mem.Events() {
		if ev.RoutingKey != contractmq.RoutingInterventionDue {
			continue
		}
		var p contractmq.InterventionDuePayload
		_ = json.Unmarshal(ev.Payload, &p)
		out = append(out, p)
	}
	return out
}

func TestNotifyIntervener_PersistsReminderTime(t *testing.T) {
	mem := repository.NewMemoryStore()
	svc, res := createGuitar(t, mem)
	clock := now
	svc.WithClock(func() time.Time { return clock })
	n := NewNotifyIntervener(svc, util.NewLocalDeduper(time.Hour), &memCounter{counts: map[string]int64{}}, zap.NewNop())
	ctx := context.Background()

	s := activeSubtask(t, mem, res.Stored[0])
	r := urgency.Evaluate(s.Subtask, clock)
	if r.Level != urgency.Due {
		t.Fatalf("level: got %s, want due", r.Level)
	}
	for i := 0; i < 3; i++ {
		if err := n.Intervene(ctx, s, r); err != nil {
			t.Fatalf("Intervene: %v", err)
		}
	}
	events := interventionEvents(mem)
	if len(events) != 1 {
		t.Fatalf("intervention events: got %d, want 1", len(events))
	}
	p := events[0]
	if p.SubtaskID != s.ID || p.Severity != "due" || p.GoalText != "Learn guitar" || p.Response == "" {
		t.Errorf("payload: %+v", p)
	}
	st, _ := mem.GetSubtask(ctx, s.ID)
	if st.LastInterventionAt == nil || !st.LastInterventionAt.Equal(now) {
		t.Fatalf("last_intervention_at: got %v, want %v", st.LastInterventionAt, now)
	}
	if st.CheckInCount != 0 {
		t.Errorf("notify mode must not record check-ins, got %d", st.CheckInCount)
	}

	// 同一个 result 一小时后再送进来，持久化的提醒时间会挡住它
	clock = now.Add(time.Hour)
	n2 := NewNotifyIntervener(svc, nil, nil, zap.NewNop())
	if err := n2.Intervene(ctx, s, r); err != nil {
		t.Fatalf("Intervene: %v", err)
	}
	if got := len(interventionEvents(mem)); got != 1 {
		t.Errorf("stale due result after 1h: got %d events, want 1", got)
	}

	clock = now.Add(8 * time.Hour)
	s = activeSubtask(t, mem, s.ID)
	r = urgency.Evaluate(s.Subtask, clock)
	if err := n2.Intervene(ctx, s, r); err != nil {
		t.Fatalf("Intervene: %v", err)
	}
	if got := len(interventionEvents(mem)); got != 2 {
		t.Errorf("after near cadence: got %d events, want 2", got)
	}
}

func TestNotifyIntervener_CheckInRestartsCadence(t *testing.T) {
	mem := repository.NewMemoryStore()
	svc, res := createGuitar(t, mem)
	clock := now
	svc.WithClock(func() time.Time { return clock })
	n := NewNotifyIntervener(svc, nil, nil, zap.NewNop())
	ctx := context.Background()

	s := activeSubtask(t, mem, res.Stored[1])
	if _, err := svc.SubmitCheckIn(ctx, s.ID, model.ReportInProgress, ""); err != nil {
		t.Fatalf("SubmitCheckIn: %v", err)
	}
	clock = now.Add(23 * time.Hour)
	if err := n.Intervene(ctx, activeSubtask(t, mem, s.ID), urgency.Result{Level: urgency.Due}); err != nil {
		t.Fatalf("Intervene: %v", err)
	}
	if got := len(interventionEvents(mem)); got != 0 {
		t.Fatalf("23h after a check-in: got %d events, want 0", got)
	}
	clock = now.Add(24 * time.Hour)
	if err := n.Intervene(ctx, activeSubtask(t, mem, s.ID), urgency.Result{Level: urgency.Due}); err != nil {
		t.Fatalf("Intervene: %v", err)
	}
	if got := len(interventionEvents(mem)); got != 1 {
		t.Errorf("24h after a check-in: got %d events, want 1", got)
	}
}

func TestNotifyIntervener_OverdueMarksDelayed(t *testing.T) {
	mem := repository.NewMemoryStore()
	svc, res := createGuitar(t, mem)
	later := now.Add(5 * 24 * time.Hour)
	svc.WithClock(func() time.Time { return later })
	n := NewNotifyIntervener(svc, nil, nil, zap.NewNop())

	s := activeSubtask(t, mem, res.Stored[0])
	r := urgency.Evaluate(s.Subtask, later)
	if r.Level != urgency.Overdue {
		t.Fatalf("level: got %s, want overdue", r.Level)
	}
	if err := n.Intervene(context.Background(), s, r); err != nil {
		t.Fatalf("Intervene: %v", err)
	}
	st, _ := mem.GetSubtask(context.Background(), s.ID)
	if st.Status != model.StatusDelayed {
		t.Errorf("status: got %s, want delayed", st.Status)
	}
	if st.CheckInCount != 0 {
		t.Errorf("notify mode must not record check-ins, got %d", st.CheckInCount)
	}
	if ev := interventionEvents(mem); len(ev) != 1 || ev[0].Severity != "overdue" {
		t.Errorf("events: %+v", ev)
	}
}

func TestNotifyIntervener_FailureReleasesDedupAndCounts(t *testing.T) {
	mem := repository.NewMemoryStore()
	_, res := createGuitar(t, mem)
	store := failingUpdateStore{mem}
	svc := newService(store, nil, nil)
	dedup := util.NewLocalDeduper(time.Hour)
	counter := &memCounter{counts: map[string]int64{}}
	n := NewNotifyIntervener(svc, dedup, counter, zap.NewNop())

	s := activeSubtask(t, mem, res.Stored[0])
	r := urgency.Result{Level: urgency.Due}
	for i := 0; i < 2; i++ {
		if err := n.Intervene(context.Background(), s, r); err == nil {
			t.Fatal("expected write failure")
		}
	}
	if got := counter.counts[util.FailureKey("intervention", s.ID)]; got != 2 {
		t.Errorf("failure count: got %d, want 2", got)
	}
	key := util.DedupKey("intervention", s.ID, "due", "never")
	if !dedup.AcquireOnce(context.Background(), key) {
		t.Error("dedup key should have been released after failure")
	}
	if got := len(interventionEvents(mem)); got != 0 {
		t.Errorf("failed write must not leave an event, got %d", got)
	}
	if st, _ := mem.GetSubtask(context.Background(), s.ID); st.LastInterventionAt != nil {
		t.Errorf("failed write must not record the reminder, got %v", st.LastInterventionAt)
	}
}

func TestActiveIntervener_RecordsCheckIn(t *testing.T) {
	mem := repository.NewMemoryStore()
	svc, res := createGuitar(t, mem)
	a := NewActiveIntervener(svc, zap.NewNop())
	ctx := context.Background()

	s := activeSubtask(t, mem, res.Stored[0])
	if err := a.Intervene(ctx, s, urgency.Result{Level: urgency.Due}); err != nil {
		t.Fatalf("Intervene due: %v", err)
	}
	if err := a.Intervene(ctx, s, urgency.Result{Level: urgency.Overdue}); err != nil {
		t.Fatalf("Intervene overdue: %v", err)
	}
	st, _ := mem.GetSubtask(ctx, s.ID)
	if st.CheckInCount != 2 || len(st.CheckIns) != 2 {
		t.Fatalf("check-ins: count %d len %d", st.CheckInCount, len(st.CheckIns))
	}
	if st.CheckIns[0].Status != model.ReportInProgress || st.CheckIns[1].Status != model.ReportOverdueAcknowledged {
		t.Errorf("statuses: %s, %s", st.CheckIns[0].Status, st.CheckIns[1].Status)
	}
	if st.Status != model.StatusDelayed {
		t.Errorf("status: got %s, want delayed", st.Status)
	}
}
