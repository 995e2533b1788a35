package model

import "time"

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalDelayed   GoalStatus = "delayed"
)

type Goal struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Status    GoalStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	Subtasks  []Subtask  `json:"subtasks"`
}

// DeriveGoalStatus: all subtasks completed → completed; any delayed → delayed; otherwise active.
func DeriveGoalStatus(subtasks []Subtask) GoalStatus {
	if len(subtasks) == 0 {
		return GoalActive
	}
	allDone := true
	for _, s := range subtasks {
		if s.Status == StatusDelayed {
			return GoalDelayed
		}
		if !s.Completed {
			allDone = false
		}
	}
	if allDone {
		return GoalCompleted
	}
	return GoalActive
}
