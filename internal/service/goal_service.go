package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	contractmq "pkagent/contracts/mq"
	"pkagent/internal/breakdown"
	"pkagent/internal/checkin"
	"pkagent/internal/deadline"
	"pkagent/internal/model"
	"pkagent/pkg/logger"
	"pkagent/pkg/metrics"
	"pkagent/pkg/outbox"
	"pkagent/pkg/trace"
)

const (
	maxGoalLength    = 2000
	maxReasonLength  = 2000
	maxWriteAttempts = 3
)

// GoalService implements the surface actions of the engine on top of a Store.
// Every subtask mutation is a read-modify-write retried on version conflict.
type GoalService struct {
	store      Store
	decomposer Decomposer
	motivator  Motivator
	logger     *zap.Logger
	now        func() time.Time
}

func NewGoalService(store Store, decomposer Decomposer, motivator Motivator, logger *zap.Logger) *GoalService {
	return &GoalService{
		store:      store,
		decomposer: decomposer,
		motivator:  motivator,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock 替换时钟，测试用
func (s *GoalService) WithClock(now func() time.Time) *GoalService {
	s.now = now
	return s
}

type FailedSubtask struct {
	Description string `json:"description"`
	Error       string `json:"error"`
}

type CreateGoalResult struct {
	Goal     *model.Goal     `json:"goal"`
	Stored   []string        `json:"stored"`
	Failed   []FailedSubtask `json:"failed"`
	Fallback bool            `json:"fallback"`
}

// CreateGoal decomposes text into subtasks and stores them one by one. It
// reports which subtasks were stored and fails only if none were.
func (s *GoalService) CreateGoal(ctx context.Context, text string) (*CreateGoalResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: goal text is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > maxGoalLength {
		return nil, fmt.Errorf("%w: goal text longer than %d characters", ErrInvalidInput, maxGoalLength)
	}
	log := logger.WithTrace(ctx, s.logger)

	raw := s.decompose(ctx, log, text)
	now := s.now()
	parsed := breakdown.ParseResult(raw, text, now)
	if parsed.Fallback {
		metrics.IncrementBreakdown("fallback")
	} else {
		metrics.IncrementBreakdown("parsed")
	}

	goal := &model.Goal{
		ID:        uuid.NewString(),
		Text:      text,
		Status:    model.GoalActive,
		CreatedAt: now,
	}
	if err := s.store.InsertGoal(ctx, goal); err != nil {
		return nil, fmt.Errorf("create goal: %w", err)
	}

	res := &CreateGoalResult{Goal: goal, Stored: []string{}, Failed: []FailedSubtask{}, Fallback: parsed.Fallback}
	goal.Subtasks = []model.Subtask{}
	for i := range parsed.Subtasks {
		st := parsed.Subtasks[i]
		st.GoalID = goal.ID
		st.CreatedAt = now
		st.UpdatedAt = now
		if err := s.store.InsertSubtask(ctx, &st); err != nil {
			log.Warn("Failed to store subtask",
				zap.String("goal_id", goal.ID),
				zap.String("description", st.Description),
				zap.Error(err),
			)
			res.Failed = append(res.Failed, FailedSubtask{Description: st.Description, Error: err.Error()})
			continue
		}
		res.Stored = append(res.Stored, st.ID)
		goal.Subtasks = append(goal.Subtasks, st)
	}
	if len(res.Stored) == 0 {
		// 一个子任务都没存下，目标本身也不保留
		if err := s.store.DeleteGoal(ctx, goal.ID); err != nil {
			log.Error("Failed to remove goal without subtasks", zap.String("goal_id", goal.ID), zap.Error(err))
		}
		return res, fmt.Errorf("create goal %s: %w", goal.ID, ErrNothingStored)
	}

	ev, err := outbox.NewEvent("goal", goal.ID, contractmq.RoutingGoalCreated, contractmq.GoalCreatedPayload{
		GoalID:     goal.ID,
		Text:       goal.Text,
		SubtaskIDs: res.Stored,
		Fallback:   parsed.Fallback,
		CreatedAt:  now,
		TraceID:    trace.FromContext(ctx),
	})
	if err == nil {
		err = s.store.Enqueue(ctx, ev)
	}
	if err != nil {
		// 事件丢失不影响目标创建
		log.Warn("Failed to enqueue goal.created", zap.String("goal_id", goal.ID), zap.Error(err))
	}

	log.Info("Goal created",
		zap.String("goal_id", goal.ID),
		zap.Int("stored", len(res.Stored)),
		zap.Int("failed", len(res.Failed)),
		zap.Bool("fallback", parsed.Fallback),
	)
	return res, nil
}

// decompose never fails: any decomposer error yields "" and the parser's fallback.
func (s *GoalService) decompose(ctx context.Context, log *zap.Logger, text string) string {
	if s.decomposer == nil {
		return ""
	}
	raw, err := s.decomposer.Decompose(ctx, text)
	if err != nil {
		log.Warn("Decomposer failed, using fallback subtask", zap.Error(err))
		return ""
	}
	return raw
}

func (s *GoalService) GetGoal(ctx context.Context, id string) (*model.Goal, error) {
	return s.store.GetGoal(ctx, id)
}

func (s *GoalService) ListActive(ctx context.Context) ([]model.ActiveSubtask, error) {
	return s.store.ListActiveSubtasks(ctx)
}

// ToggleCompletion flips the completion of a subtask that must belong to goalID.
func (s *GoalService) ToggleCompletion(ctx context.Context, goalID, subtaskID string) (bool, error) {
	st, err := s.mutate(ctx, "toggle", subtaskID, func(st *model.Subtask) ([]*outbox.Event, error) {
		if st.GoalID != goalID {
			return nil, fmt.Errorf("subtask %s in goal %s: %w", subtaskID, goalID, ErrNotFound)
		}
		now := s.now()
		checkin.ToggleCompletion(st, now)
		ev, err := outbox.NewEvent("subtask", st.ID, contractmq.RoutingSubtaskCompleted, contractmq.SubtaskCompletedPayload{
			SubtaskID: st.ID,
			GoalID:    st.GoalID,
			Completed: st.Completed,
			At:        now,
			TraceID:   trace.FromContext(ctx),
		})
		if err != nil {
			return nil, err
		}
		return []*outbox.Event{ev}, nil
	})
	if err != nil {
		return false, err
	}
	goalStatus := s.refreshGoalStatus(ctx, st.GoalID)
	logger.WithTrace(ctx, s.logger).Info("Subtask completion toggled",
		zap.String("subtask_id", st.ID),
		zap.Bool("completed", st.Completed),
		zap.String("goal_status", string(goalStatus)),
	)
	return st.Completed, nil
}

// SubmitCheckIn records a check-in and returns the stored record.
func (s *GoalService) SubmitCheckIn(ctx context.Context, subtaskID string, status model.ReportedStatus, reason string) (*model.CheckIn, error) {
	if _, err := model.ParseReportedStatus(string(status)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return nil, fmt.Errorf("%w: reason longer than %d characters", ErrInvalidInput, maxReasonLength)
	}
	log := logger.WithTrace(ctx, s.logger)

	report := checkin.Report{Status: status, Reason: reason}
	if status.IsAvoidance() && reason != "" && s.motivator != nil {
		cur, err := s.store.GetSubtask(ctx, subtaskID)
		if err != nil {
			return nil, err
		}
		if cur.Completed {
			return nil, checkin.ErrSubtaskCompleted
		}
		// 模型调用放在重试循环外，失败时保留模板消息
		if msg, err := s.motivator.Motivate(ctx, *cur, reason); err != nil {
			log.Warn("Motivator failed, keeping template message", zap.String("subtask_id", subtaskID), zap.Error(err))
		} else {
			report.Motivation = strings.TrimSpace(msg)
		}
	}

	var rec model.CheckIn
	st, err := s.mutate(ctx, "check_in", subtaskID, func(st *model.Subtask) ([]*outbox.Event, error) {
		var err error
		now := s.now()
		rec, err = checkin.Record(st, report, now)
		if err != nil {
			return nil, err
		}
		ev, err := outbox.NewEvent("subtask", st.ID, contractmq.RoutingSubtaskCheckedIn, contractmq.SubtaskCheckedInPayload{
			SubtaskID:    st.ID,
			GoalID:       st.GoalID,
			Status:       string(rec.Status),
			SubtaskState: string(st.Status),
			CheckInCount: st.CheckInCount,
			Response:     rec.Response,
			Motivation:   rec.Motivation,
			At:           rec.Timestamp,
			TraceID:      trace.FromContext(ctx),
		})
		if err != nil {
			return nil, err
		}
		return []*outbox.Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncrementCheckIn(string(status))
	s.refreshGoalStatus(ctx, st.GoalID)

	log.Info("Check-in recorded",
		zap.String("subtask_id", st.ID),
		zap.String("status", string(status)),
		zap.String("subtask_status", string(st.Status)),
		zap.Int("check_in_count", st.CheckInCount),
	)
	return &rec, nil
}

// UpdateDeadline resolves expr against now and stores it as the new deadline.
// A delayed subtask whose new deadline is in the future becomes active again.
func (s *GoalService) UpdateDeadline(ctx context.Context, subtaskID, expr string) (*model.Subtask, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: deadline is required", ErrInvalidInput)
	}
	st, err := s.mutate(ctx, "update_deadline", subtaskID, func(st *model.Subtask) ([]*outbox.Event, error) {
		if st.Completed {
			return nil, checkin.ErrSubtaskCompleted
		}
		now := s.now()
		st.Deadline = deadline.Resolve(expr, now)
		if st.Status == model.StatusDelayed && st.Deadline.Sub(now) >= deadline.Day {
			if st.CheckInCount > 0 {
				st.Status = model.StatusInProgress
			} else {
				st.Status = model.StatusPending
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.refreshGoalStatus(ctx, st.GoalID)
	return st, nil
}

// MarkOverdue moves a subtask to delayed once its deadline is reached.
func (s *GoalService) MarkOverdue(ctx context.Context, subtaskID string) (bool, error) {
	changed := false
	st, err := s.mutate(ctx, "mark_overdue", subtaskID, func(st *model.Subtask) ([]*outbox.Event, error) {
		changed = checkin.MarkOverdue(st, s.now())
		if !changed {
			return nil, errUnchanged
		}
		return nil, nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.refreshGoalStatus(ctx, st.GoalID)
	}
	return changed, nil
}

// errUnchanged tells mutate to skip the write.
var errUnchanged = errors.New("unchanged")

// mutate loads the subtask, applies fn and writes it back conditioned on the
// version that was read. Conflicts are retried up to maxWriteAttempts times.
func (s *GoalService) mutate(ctx context.Context, op, id string, fn func(*model.Subtask) ([]*outbox.Event, error)) (*model.Subtask, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: malformed subtask id %q", ErrInvalidInput, id)
	}
	for attempt := 1; ; attempt++ {
		st, err := s.store.GetSubtask(ctx, id)
		if err != nil {
			return nil, err
		}
		expected := st.Version
		events, err := fn(st)
		if errors.Is(err, errUnchanged) {
			return st, nil
		}
		if err != nil {
			return nil, err
		}
		err = s.store.UpdateSubtask(ctx, st, expected, events...)
		if err == nil {
			return st, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		metrics.IncrementVersionConflict(op)
		if attempt >= maxWriteAttempts {
			return nil, err
		}
		s.logger.Debug("Version conflict, retrying",
			zap.String("operation", op),
			zap.String("subtask_id", id),
			zap.Int("attempt", attempt),
		)
	}
}

// refreshGoalStatus recomputes the goal status from its persisted subtasks.
// Failures are logged; the subtask write already succeeded.
func (s *GoalService) refreshGoalStatus(ctx context.Context, goalID string) model.GoalStatus {
	subtasks, err := s.store.ListSubtasksByGoal(ctx, goalID)
	if err != nil {
		s.logger.Warn("Failed to load subtasks for goal status", zap.String("goal_id", goalID), zap.Error(err))
		return ""
	}
	status := model.DeriveGoalStatus(subtasks)
	if err := s.store.UpdateGoalStatus(ctx, goalID, status); err != nil {
		s.logger.Warn("Failed to update goal status", zap.String("goal_id", goalID), zap.Error(err))
	}
	return status
}
