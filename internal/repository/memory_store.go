package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pkagent/internal/model"
	"pkagent/pkg/outbox"
)

// MemoryStore is an in-process Store with the same version semantics as
// PostgresStore. Outbox events are kept in memory; nothing dispatches them.
type MemoryStore struct {
	mu       sync.Mutex
	goals    map[string]model.Goal
	subtasks map[string]model.Subtask
	events   []outbox.Event
	nextID   int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		goals:    make(map[string]model.Goal),
		subtasks: make(map[string]model.Subtask),
		now:      time.Now,
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) InsertGoal(_ context.Context, g *model.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.goals[g.ID]; ok {
		return fmt.Errorf("insert goal: duplicate id %s", g.ID)
	}
	stored := *g
	stored.Subtasks = nil
	m.goals[g.ID] = stored
	return nil
}

func (m *MemoryStore) InsertSubtask(_ context.Context, st *model.Subtask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.goals[st.GoalID]; !ok {
		return fmt.Errorf("insert subtask: goal %s: %w", st.GoalID, ErrNotFound)
	}
	if _, ok := m.subtasks[st.ID]; ok {
		return fmt.Errorf("insert subtask: duplicate id %s", st.ID)
	}
	if st.Version == 0 {
		st.Version = 1
	}
	st.UpdatedAt = st.CreatedAt
	m.subtasks[st.ID] = st.Clone()
	return nil
}

func (m *MemoryStore) GetGoal(_ context.Context, id string) (*model.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.goals[id]
	if !ok {
		return nil, fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	g.Subtasks = m.byGoal(id)
	return &g, nil
}

func (m *MemoryStore) GetSubtask(_ context.Context, id string) (*model.Subtask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.subtasks[id]
	if !ok {
		return nil, fmt.Errorf("subtask %s: %w", id, ErrNotFound)
	}
	c := st.Clone()
	return &c, nil
}

func (m *MemoryStore) ListSubtasksByGoal(_ context.Context, goalID string) ([]model.Subtask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byGoal(goalID), nil
}

func (m *MemoryStore) byGoal(goalID string) []model.Subtask {
	out := []model.Subtask{}
	for _, st := range m.subtasks {
		if st.GoalID == goalID {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (m *MemoryStore) ListActiveSubtasks(context.Context) ([]model.ActiveSubtask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.ActiveSubtask{}
	for _, st := range m.subtasks {
		if st.Completed {
			continue
		}
		out = append(out, model.ActiveSubtask{Subtask: st.Clone(), GoalText: m.goals[st.GoalID].Text})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].Deadline.Before(out[j].Deadline)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) UpdateSubtask(_ context.Context, st *model.Subtask, expectedVersion int64, events ...*outbox.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.subtasks[st.ID]
	if !ok {
		return fmt.Errorf("subtask %s: %w", st.ID, ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("subtask %s at version %d: %w", st.ID, expectedVersion, ErrVersionConflict)
	}

	next := st.Clone()
	next.GoalID = cur.GoalID
	next.Position = cur.Position
	next.CreatedAt = cur.CreatedAt
	next.Version = expectedVersion + 1
	next.UpdatedAt = m.now()
	m.subtasks[st.ID] = next

	for _, ev := range events {
		m.appendEvent(ev)
	}
	st.Version = next.Version
	st.UpdatedAt = next.UpdatedAt
	return nil
}

func (m *MemoryStore) UpdateGoalStatus(_ context.Context, id string, status model.GoalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.goals[id]
	if !ok {
		return fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	g.Status = status
	m.goals[id] = g
	return nil
}

func (m *MemoryStore) DeleteGoal(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.goals[id]; !ok {
		return fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	delete(m.goals, id)
	for sid, st := range m.subtasks {
		if st.GoalID == id {
			delete(m.subtasks, sid)
		}
	}
	return nil
}

func (m *MemoryStore) Enqueue(_ context.Context, ev *outbox.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendEvent(ev)
	return nil
}

func (m *MemoryStore) appendEvent(ev *outbox.Event) {
	m.nextID++
	ev.ID = m.nextID
	if ev.Status == "" {
		ev.Status = outbox.StatusPending
	}
	ev.CreatedAt = m.now()
	ev.UpdatedAt = ev.CreatedAt
	m.events = append(m.events, *ev)
}

// Events returns a copy of every event enqueued so far.
func (m *MemoryStore) Events() []outbox.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]outbox.Event(nil), m.events...)
}
