// Package scheduler runs the periodic urgency evaluation over all active
// subtasks and hands due ones to an Intervener.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"pkagent/internal/model"
	"pkagent/internal/urgency"
	"pkagent/pkg/metrics"
	"pkagent/pkg/trace"
)

// Source lists the subtasks to evaluate. Only persisted state is used so a
// restart evaluates exactly the same way.
type Source interface {
	ListActiveSubtasks(ctx context.Context) ([]model.ActiveSubtask, error)
}

// Intervener acts on one due or overdue subtask.
type Intervener interface {
	Mode() string
	Intervene(ctx context.Context, s model.ActiveSubtask, r urgency.Result) error
}

type Config struct {
	Interval time.Duration `yaml:"interval"`
	// Jitter 每轮随机延迟的上限，0 表示不加
	Jitter   time.Duration   `yaml:"jitter"`
	Mode     string          `yaml:"mode"` // notify / active
	Cadence  urgency.Cadence `yaml:"cadence"`
	// DedupTTL is how long a notify-mode reminder is suppressed once sent.
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Minute,
		Mode:     "notify",
		Cadence:  urgency.DefaultCadence(),
		DedupTTL: 4 * time.Hour,
	}
}

// TickStats summarizes one evaluation pass.
type TickStats struct {
	Evaluated  int
	Due        int
	Overdue    int
	Intervened int
	Failed     int
	Throttled  int // overdue but reminded within the last-day cadence
}

type Loop struct {
	source     Source
	intervener Intervener
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

func NewLoop(source Source, intervener Intervener, cfg Config, logger *zap.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Loop{
		source:     source,
		intervener: intervener,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock 替换时钟，测试用
func (l *Loop) WithClock(now func() time.Time) *Loop {
	l.now = now
	return l
}

// Run evaluates immediately, then once per interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("Scheduler loop started",
		zap.Duration("interval", l.cfg.Interval),
		zap.Duration("jitter", l.cfg.Jitter),
		zap.String("mode", l.intervener.Mode()),
	)
	l.Tick(ctx)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Scheduler loop stopped")
			return
		case <-ticker.C:
			if !l.sleepJitter(ctx) {
				l.logger.Info("Scheduler loop stopped")
				return
			}
			l.Tick(ctx)
		}
	}
}

func (l *Loop) sleepJitter(ctx context.Context) bool {
	if l.cfg.Jitter <= 0 {
		return true
	}
	d := time.Duration(rand.Int63n(int64(l.cfg.Jitter)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Tick runs one evaluation pass. A failing or panicking subtask is logged
// and never stops the rest of the pass.
func (l *Loop) Tick(ctx context.Context) TickStats {
	start := time.Now()
	ctx = trace.Ensure(ctx)
	log := l.logger.With(zap.String("trace_id", trace.FromContext(ctx)))
	defer func() { metrics.ObserveSchedulerTick(time.Since(start)) }()

	var stats TickStats
	subtasks, err := l.source.ListActiveSubtasks(ctx)
	if err != nil {
		log.Error("Failed to load active subtasks", zap.Error(err))
		return stats
	}

	now := l.now()
	for _, s := range subtasks {
		if ctx.Err() != nil {
			break
		}
		stats.Evaluated++
		r := l.cfg.Cadence.Evaluate(s.Subtask, now)
		metrics.IncrementUrgencyEvaluation(string(r.Level))
		if !r.NeedsIntervention() {
			continue
		}
		if l.cfg.Cadence.Throttled(r) {
			stats.Throttled++
			continue
		}
		if r.Level == urgency.Overdue {
			stats.Overdue++
		} else {
			stats.Due++
		}

		if err := l.intervene(ctx, s, r); err != nil {
			stats.Failed++
			log.Error("Intervention failed",
				zap.String("subtask_id", s.ID),
				zap.String("goal_id", s.GoalID),
				zap.String("severity", string(r.Level)),
				zap.Error(err),
			)
			continue
		}
		stats.Intervened++
	}

	log.Info("Scheduler tick completed",
		zap.Int("evaluated", stats.Evaluated),
		zap.Int("due", stats.Due),
		zap.Int("overdue", stats.Overdue),
		zap.Int("intervened", stats.Intervened),
		zap.Int("failed", stats.Failed),
		zap.Int("throttled", stats.Throttled),
		zap.Duration("took", time.Since(start)),
	)
	return stats
}

func (l *Loop) intervene(ctx context.Context, s model.ActiveSubtask, r urgency.Result) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("intervention panic: %v", p)
		}
	}()
	return l.intervener.Intervene(ctx, s, r)
}
