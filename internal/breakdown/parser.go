// Package breakdown turns raw decomposer output into validated subtasks.
// Parse is total: whatever the input, it returns at least one subtask.
package breakdown

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"pkagent/internal/deadline"
	"pkagent/internal/llm"
	"pkagent/internal/model"
)

const defaultDeadline = "in 1 day"

var (
	fallbackTips = []string{
		"Start with just 15 minutes; momentum follows action.",
		"Remove one distraction before you begin.",
		"Remember why this goal matters to you.",
	}
	fallbackCheckpoints = []string{
		"Define the first concrete step",
		"Spend one focused session on it",
		"Note what to do next",
	}
)

// Result reports whether the decomposer output was usable.
type Result struct {
	Subtasks []model.Subtask
	Fallback bool
}

// Parse converts raw text into subtasks of goalText, resolving deadlines against ref.
func Parse(raw, goalText string, ref time.Time) []model.Subtask {
	return ParseResult(raw, goalText, ref).Subtasks
}

func ParseResult(raw, goalText string, ref time.Time) Result {
	elems, ok := decode(raw)
	if !ok {
		return Result{Subtasks: []model.Subtask{Fallback(goalText, ref)}, Fallback: true}
	}

	subtasks := make([]model.Subtask, 0, len(elems))
	for _, e := range elems {
		obj, ok := e.(map[string]any)
		if !ok {
			continue
		}
		s, ok := fromObject(obj, ref)
		if !ok {
			continue
		}
		s.Position = len(subtasks)
		subtasks = append(subtasks, s)
	}
	if len(subtasks) == 0 {
		return Result{Subtasks: []model.Subtask{Fallback(goalText, ref)}, Fallback: true}
	}
	return Result{Subtasks: subtasks}
}

// Fallback is the single subtask used when decomposition yields nothing usable.
func Fallback(goalText string, ref time.Time) model.Subtask {
	s := newSubtask()
	s.Description = fmt.Sprintf("Work on %s", strings.TrimSpace(goalText))
	s.EstimatedDuration = "2 hours"
	s.Deadline = ref.Add(deadline.Day)
	s.MotivationTips = append([]string(nil), fallbackTips...)
	s.Checkpoints = append([]string(nil), fallbackCheckpoints...)
	return s
}

// decode finds a JSON array or object in the text. A lone object becomes a
// one-element sequence.
func decode(raw string) ([]any, bool) {
	text := llm.StripFences(raw)
	if text == "" {
		return nil, false
	}
	candidates := []string{text}
	if s, ok := slice(text, '[', ']'); ok {
		candidates = append(candidates, s)
	}
	if s, ok := slice(text, '{', '}'); ok {
		candidates = append(candidates, s)
	}
	for _, c := range candidates {
		var v any
		if err := json.Unmarshal([]byte(c), &v); err != nil {
			continue
		}
		switch t := v.(type) {
		case []any:
			return t, true
		case map[string]any:
			return []any{t}, true
		}
	}
	return nil, false
}

func slice(s string, open, close byte) (string, bool) {
	i := strings.IndexByte(s, open)
	j := strings.LastIndexByte(s, close)
	if i == -1 || j <= i {
		return "", false
	}
	return s[i : j+1], true
}

func fromObject(obj map[string]any, ref time.Time) (model.Subtask, bool) {
	desc := strings.TrimSpace(firstString(obj, "description", "task", "title"))
	if desc == "" {
		return model.Subtask{}, false
	}

	s := newSubtask()
	s.Description = desc
	s.EstimatedDuration = duration(obj)

	dl := strings.TrimSpace(firstString(obj, "deadline"))
	if dl == "" {
		dl = defaultDeadline
	}
	s.Deadline = deadline.Resolve(dl, ref)
	s.MotivationTips = stringList(obj["motivation_tips"])
	s.Checkpoints = stringList(obj["checkpoints"])
	return s, true
}

func newSubtask() model.Subtask {
	return model.Subtask{
		ID:             uuid.NewString(),
		Status:         model.StatusPending,
		MotivationTips: []string{},
		Checkpoints:    []string{},
		CheckIns:       []model.CheckIn{},
		ProgressNotes:  []model.ProgressNote{},
	}
}

// duration prefers an explicit duration string, then derives one from an hour
// count: 24 hours or more reads as "<N/24> days", less as "<N> hours".
func duration(obj map[string]any) string {
	if d := strings.TrimSpace(firstString(obj, "estimated_duration", "time_required", "duration")); d != "" {
		return d
	}
	hours, ok := number(obj["estimated_hours"])
	if !ok || hours <= 0 {
		return "1 hour"
	}
	n := int64(hours)
	if n >= 24 {
		return fmt.Sprintf("%d days", n/24)
	}
	return fmt.Sprintf("%d hours", n)
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func stringList(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}
