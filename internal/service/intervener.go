package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	contractmq "pkagent/contracts/mq"
	"pkagent/internal/checkin"
	"pkagent/internal/model"
	"pkagent/internal/urgency"
	"pkagent/pkg/metrics"
	"pkagent/pkg/outbox"
	"pkagent/pkg/trace"
	"pkagent/pkg/util"
)

const (
	ModeNotify = "notify"
	ModeActive = "active"

	// 连续失败达到该次数后提升日志级别
	failureAlertThreshold = 3
)

// Deduper suppresses repeated reminders. util.Deduper is the Redis-backed one.
type Deduper interface {
	AcquireOnce(ctx context.Context, key string) bool
	Release(ctx context.Context, key string)
}

// FailureCounter counts consecutive intervention failures per subtask.
type FailureCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

var (
	_ Deduper        = (*util.Deduper)(nil)
	_ FailureCounter = (*util.FailureCounter)(nil)
)

// NotifyIntervener queues an intervention_due event for the delivery channel.
// The reminder time is written onto the subtask in the same transaction as
// the event, so the cadence restarts from it and survives a restart. The
// dedup key only guards concurrent ticks racing on the same contact.
type NotifyIntervener struct {
	svc      *GoalService
	dedup    Deduper
	failures FailureCounter
	cadence  urgency.Cadence
	logger   *zap.Logger
}

func NewNotifyIntervener(svc *GoalService, dedup Deduper, failures FailureCounter, logger *zap.Logger) *NotifyIntervener {
	return &NotifyIntervener{
		svc:      svc,
		dedup:    dedup,
		failures: failures,
		cadence:  urgency.DefaultCadence(),
		logger:   logger,
	}
}

// WithCadence 使用与调度器相同的节奏重新校验
func (n *NotifyIntervener) WithCadence(c urgency.Cadence) *NotifyIntervener {
	n.cadence = c
	return n
}

func (n *NotifyIntervener) Mode() string { return ModeNotify }

func (n *NotifyIntervener) Intervene(ctx context.Context, s model.ActiveSubtask, r urgency.Result) error {
	level := string(r.Level)
	key := util.DedupKey("intervention", s.ID, level, contactKey(s.LastContact()))
	if n.dedup != nil && !n.dedup.AcquireOnce(ctx, key) {
		metrics.IncrementIntervention(ModeNotify, level, "deduped")
		return nil
	}

	var (
		sent    bool
		overdue bool
		current urgency.Result
	)
	st, err := n.svc.mutate(ctx, "intervene", s.ID, func(st *model.Subtask) ([]*outbox.Event, error) {
		sent, overdue = false, false
		now := n.svc.now()
		// 以持久化的最新状态为准，另一轮 tick 或用户打卡可能已经发生
		current = n.cadence.Evaluate(*st, now)
		if !current.NeedsIntervention() || n.cadence.Throttled(current) {
			return nil, errUnchanged
		}
		if current.Level == urgency.Overdue {
			overdue = checkin.MarkOverdue(st, now)
		}
		iv := checkin.Preview(*st, now)
		ev, err := outbox.NewEvent("subtask", st.ID, contractmq.RoutingInterventionDue, contractmq.InterventionDuePayload{
			SubtaskID:   st.ID,
			GoalID:      st.GoalID,
			GoalText:    s.GoalText,
			Description: st.Description,
			Severity:    string(current.Level),
			Deadline:    st.Deadline,
			DaysLeft:    current.DaysLeft,
			Response:    iv.Response,
			Suggestions: iv.Suggestions,
			Motivation:  iv.Motivation,
			EvaluatedAt: now,
			TraceID:     trace.FromContext(ctx),
		})
		if err != nil {
			return nil, err
		}
		st.LastInterventionAt = &now
		st.UpdatedAt = now
		sent = true
		return []*outbox.Event{ev}, nil
	})
	if err != nil {
		if n.dedup != nil {
			n.dedup.Release(ctx, key)
		}
		n.recordFailure(ctx, s.ID)
		metrics.IncrementIntervention(ModeNotify, level, "failed")
		return fmt.Errorf("queue intervention: %w", err)
	}
	if !sent {
		if n.dedup != nil {
			n.dedup.Release(ctx, key)
		}
		metrics.IncrementIntervention(ModeNotify, level, "skipped")
		return nil
	}

	n.resetFailures(ctx, s.ID)
	if overdue {
		n.svc.refreshGoalStatus(ctx, st.GoalID)
	}
	metrics.IncrementIntervention(ModeNotify, string(current.Level), "sent")
	n.logger.Info("Intervention queued",
		zap.String("subtask_id", s.ID),
		zap.String("severity", string(current.Level)),
		zap.Int("days_left", current.DaysLeft),
	)
	return nil
}

func (n *NotifyIntervener) recordFailure(ctx context.Context, subtaskID string) {
	if n.failures == nil {
		return
	}
	count, err := n.failures.IncrementAndGet(ctx, util.FailureKey("intervention", subtaskID))
	if err != nil {
		n.logger.Warn("Failed to count intervention failure", zap.String("subtask_id", subtaskID), zap.Error(err))
		return
	}
	if count >= failureAlertThreshold {
		n.logger.Error("Subtask keeps failing intervention",
			zap.String("subtask_id", subtaskID),
			zap.Int64("consecutive_failures", count),
		)
	}
}

func (n *NotifyIntervener) resetFailures(ctx context.Context, subtaskID string) {
	if n.failures == nil {
		return
	}
	if err := n.failures.Reset(ctx, util.FailureKey("intervention", subtaskID)); err != nil {
		n.logger.Debug("Failed to reset failure counter", zap.String("subtask_id", subtaskID), zap.Error(err))
	}
}

func contactKey(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return strconv.FormatInt(t.Unix(), 10)
}

// ActiveIntervener records a check-in on the user's behalf: overdue subtasks
// get overdue_acknowledged, due ones in_progress.
type ActiveIntervener struct {
	svc    *GoalService
	logger *zap.Logger
}

func NewActiveIntervener(svc *GoalService, logger *zap.Logger) *ActiveIntervener {
	return &ActiveIntervener{svc: svc, logger: logger}
}

func (a *ActiveIntervener) Mode() string { return ModeActive }

func (a *ActiveIntervener) Intervene(ctx context.Context, s model.ActiveSubtask, r urgency.Result) error {
	status := model.ReportInProgress
	if r.Level == urgency.Overdue {
		status = model.ReportOverdueAcknowledged
	}
	if _, err := a.svc.SubmitCheckIn(ctx, s.ID, status, ""); err != nil {
		metrics.IncrementIntervention(ModeActive, string(r.Level), "failed")
		return err
	}
	metrics.IncrementIntervention(ModeActive, string(r.Level), "sent")
	return nil
}
