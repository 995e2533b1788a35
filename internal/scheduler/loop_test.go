package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"pkagent/internal/model"
	"pkagent/internal/urgency"
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	subtasks []model.ActiveSubtask
	err      error
}

func (f *fakeSource) ListActiveSubtasks(context.Context) ([]model.ActiveSubtask, error) {
	return f.subtasks, f.err
}

type recordingIntervener struct {
	mu    sync.Mutex
	calls map[string]urgency.Level
	fail  map[string]error
	panic map[string]bool
}

func newRecorder() *recordingIntervener {
	return &recordingIntervener{calls: map[string]urgency.Level{}, fail: map[string]error{}, panic: map[string]bool{}}
}

func (r *recordingIntervener) Mode() string { return "test" }

func (r *recordingIntervener) Intervene(_ context.Context, s model.ActiveSubtask, res urgency.Result) error {
	if r.panic[s.ID] {
		panic("boom")
	}
	r.mu.Lock()
	r.calls[s.ID] = res.Level
	r.mu.Unlock()
	return r.fail[s.ID]
}

func active(id string, deadline time.Duration, lastCheckIn *time.Duration) model.ActiveSubtask {
	s := model.Subtask{ID: id, GoalID: "g1", Deadline: now.Add(deadline), Status: model.StatusPending}
	if lastCheckIn != nil {
		t := now.Add(-*lastCheckIn)
		s.LastCheckIn = &t
	}
	return model.ActiveSubtask{Subtask: s, GoalText: "Learn guitar"}
}

func hours(h int) *time.Duration { d := time.Duration(h) * time.Hour; return &d }

func newTestLoop(src Source, iv Intervener) *Loop {
	return NewLoop(src, iv, DefaultConfig(), zap.NewNop()).WithClock(func() time.Time { return now })
}

func TestTick_ClassifiesAndIntervenes(t *testing.T) {
	src := &fakeSource{subtasks: []model.ActiveSubtask{
		active("overdue", -72*time.Hour, hours(30)),
		active("due", 10*24*time.Hour, nil),
		active("quiet", 10*24*time.Hour, hours(1)),
	}}
	rec := newRecorder()
	stats := newTestLoop(src, rec).Tick(context.Background())

	if stats.Evaluated != 3 || stats.Overdue != 1 || stats.Due != 1 || stats.Intervened != 2 {
		t.Errorf("stats: got %+v", stats)
	}
	if rec.calls["overdue"] != urgency.Overdue || rec.calls["due"] != urgency.Due {
		t.Errorf("calls: got %v", rec.calls)
	}
	if _, ok := rec.calls["quiet"]; ok {
		t.Error("quiet subtask should not be intervened")
	}
}

func TestTick_IsolatesFailures(t *testing.T) {
	src := &fakeSource{subtasks: []model.ActiveSubtask{
		active("a", -time.Hour, nil),
		active("b", -time.Hour, nil),
		active("c", -time.Hour, nil),
	}}
	rec := newRecorder()
	rec.fail["a"] = errors.New("store down")
	rec.panic["b"] = true

	stats := newTestLoop(src, rec).Tick(context.Background())
	if stats.Failed != 2 || stats.Intervened != 1 {
		t.Errorf("stats: got %+v", stats)
	}
	if _, ok := rec.calls["c"]; !ok {
		t.Error("subtask after failures was not evaluated")
	}
}

func TestTick_ThrottlesRecentOverdueReminder(t *testing.T) {
	reminded := active("reminded", -2*time.Hour, nil)
	at := now.Add(-time.Hour)
	reminded.LastInterventionAt = &at
	src := &fakeSource{subtasks: []model.ActiveSubtask{reminded, active("fresh", -2*time.Hour, nil)}}
	rec := newRecorder()

	stats := newTestLoop(src, rec).Tick(context.Background())
	if stats.Overdue != 1 || stats.Throttled != 1 || stats.Intervened != 1 {
		t.Errorf("stats: got %+v", stats)
	}
	if _, ok := rec.calls["reminded"]; ok {
		t.Error("overdue subtask reminded 1h ago should wait for the last-day cadence")
	}
}

func TestTick_SourceErrorIsLogged(t *testing.T) {
	stats := newTestLoop(&fakeSource{err: errors.New("db gone")}, newRecorder()).Tick(context.Background())
	if stats.Evaluated != 0 {
		t.Errorf("stats: got %+v", stats)
	}
}

func TestTick_Deterministic(t *testing.T) {
	src := &fakeSource{subtasks: []model.ActiveSubtask{active("x", 50*time.Hour, hours(9))}}
	a := newTestLoop(src, newRecorder()).Tick(context.Background())
	b := newTestLoop(src, newRecorder()).Tick(context.Background())
	if a != b {
		t.Errorf("ticks differ: %+v vs %+v", a, b)
	}
}

type countingSource struct{ n atomic.Int32 }

func (c *countingSource) ListActiveSubtasks(context.Context) ([]model.ActiveSubtask, error) {
	c.n.Add(1)
	return nil, nil
}

func TestSupervisor_StartsOnce(t *testing.T) {
	src := &countingSource{}
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	sup := NewSupervisor(NewLoop(src, newRecorder(), cfg, zap.NewNop()))

	var wg sync.WaitGroup
	var started atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sup.Start(context.Background()) {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	sup.Stop()

	if got := started.Load(); got != 1 {
		t.Errorf("Start returned true %d times, want 1", got)
	}
	if got := src.n.Load(); got != 1 {
		t.Errorf("initial ticks: got %d, want 1", got)
	}
	if !sup.Started() {
		t.Error("Started() should be true")
	}
	if sup.Start(context.Background()) {
		t.Error("Start after Stop must not restart the loop")
	}
}

func TestSupervisor_StopWithoutStart(t *testing.T) {
	NewSupervisor(nil).Stop()
}
