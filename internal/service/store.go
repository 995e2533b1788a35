package service

import (
	"context"
	"errors"

	"pkagent/internal/model"
	"pkagent/internal/repository"
	"pkagent/pkg/outbox"
)

var (
	ErrNotFound        = repository.ErrNotFound
	ErrVersionConflict = repository.ErrVersionConflict
	ErrInvalidInput    = errors.New("invalid input")
	ErrNothingStored   = errors.New("no subtask could be stored")
)

// Store is the persistence contract of the engine. UpdateSubtask is a
// compare-and-swap on Subtask.Version: it fails with ErrVersionConflict when
// the stored version differs from expectedVersion, and on success bumps
// s.Version. Events passed along are written atomically with the update.
type Store interface {
	InsertGoal(ctx context.Context, g *model.Goal) error
	InsertSubtask(ctx context.Context, s *model.Subtask) error
	GetGoal(ctx context.Context, id string) (*model.Goal, error)
	GetSubtask(ctx context.Context, id string) (*model.Subtask, error)
	ListSubtasksByGoal(ctx context.Context, goalID string) ([]model.Subtask, error)
	ListActiveSubtasks(ctx context.Context) ([]model.ActiveSubtask, error)
	UpdateSubtask(ctx context.Context, s *model.Subtask, expectedVersion int64, events ...*outbox.Event) error
	UpdateGoalStatus(ctx context.Context, id string, status model.GoalStatus) error
	// DeleteGoal removes the goal and its subtasks.
	DeleteGoal(ctx context.Context, id string) error
	Enqueue(ctx context.Context, event *outbox.Event) error
	Ping(ctx context.Context) error
}

var (
	_ Store = (*repository.PostgresStore)(nil)
	_ Store = (*repository.MemoryStore)(nil)
)
