package main

import (
	"fmt"
	"time"

	"pkagent/internal/model"
	"pkagent/internal/urgency"
)

// formatActive renders one line per subtask: level, deadline, status, description.
func formatActive(s model.ActiveSubtask, now time.Time) string {
	r := urgency.Evaluate(s.Subtask, now)
	level := "-"
	if r.NeedsIntervention() {
		level = string(r.Level)
	}
	return fmt.Sprintf("%-8s %s  %-11s %s  [%s] (%s)",
		level,
		s.Deadline.Format("2006-01-02 15:04"),
		s.Status,
		s.Description,
		s.GoalText,
		s.ID,
	)
}
