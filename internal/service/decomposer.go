package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pkagent/internal/llm"
	"pkagent/internal/model"
	"pkagent/pkg/circuitbreaker"
	"pkagent/pkg/metrics"
)

// Decomposer returns the raw text breakdown of a goal.
type Decomposer interface {
	Decompose(ctx context.Context, goalText string) (string, error)
}

// Motivator writes a personal motivation message for a user avoiding a subtask.
type Motivator interface {
	Motivate(ctx context.Context, s model.Subtask, reason string) (string, error)
}

// Chatter is the part of llm.Client the decomposer and motivator use.
type Chatter interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

var _ Chatter = (*llm.Client)(nil)

const breakdownPrompt = `The user has the following goal: %q.
Break this goal into smaller subtasks with the estimated time to complete each subtask and a deadline for each.
Deadlines must be relative, like "in 2 days" or "in 1 week".
Return only a JSON array, with no text before or after it, in this format:
[
  {
    "task": "subtask description",
    "time_required": "estimated time (e.g. 1 hour)",
    "deadline": "in 2 days",
    "motivation_tips": ["short tip"],
    "checkpoints": ["milestone"]
  }
]`

const motivatePrompt = `I am procrastinating on %q because %q.
Decide whether that reason is strong and valid. If it is not, motivate me.
Talk to me directly, not about me, in at most three sentences.`

func newBreaker() *circuitbreaker.CircuitBreaker {
	return circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		FailureThreshold:    3,
		SuccessThreshold:    1,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 1,
	})
}

// LLMDecomposer 调用大模型拆解目标，带熔断器
type LLMDecomposer struct {
	client Chatter
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
}

func NewLLMDecomposer(client Chatter, logger *zap.Logger) *LLMDecomposer {
	return &LLMDecomposer{client: client, cb: newBreaker(), logger: logger}
}

func (d *LLMDecomposer) Decompose(ctx context.Context, goalText string) (string, error) {
	var out string
	err := d.cb.Execute(func() error {
		start := time.Now()
		var err error
		out, err = d.client.Chat(ctx, "", fmt.Sprintf(breakdownPrompt, goalText))
		metrics.RecordLLMCallLatency("decompose", callStatus(err), time.Since(start))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("decompose: %w", err)
	}
	return out, nil
}

// LLMMotivator 分析拖延原因并直接激励用户，带熔断器
type LLMMotivator struct {
	client Chatter
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
}

func NewLLMMotivator(client Chatter, logger *zap.Logger) *LLMMotivator {
	return &LLMMotivator{client: client, cb: newBreaker(), logger: logger}
}

func (m *LLMMotivator) Motivate(ctx context.Context, s model.Subtask, reason string) (string, error) {
	var out string
	err := m.cb.Execute(func() error {
		start := time.Now()
		var err error
		out, err = m.client.Chat(ctx, "", fmt.Sprintf(motivatePrompt, s.Description, reason))
		metrics.RecordLLMCallLatency("motivate", callStatus(err), time.Since(start))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("motivate: %w", err)
	}
	return llm.StripThinkBlocks(out), nil
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
