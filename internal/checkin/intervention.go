package checkin

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pkagent/internal/model"
	"pkagent/internal/urgency"
)

// Context is the urgency of a subtask at the moment of a check-in.
type Context struct {
	DaysLeft int
	Overdue  bool
	// OverdueBy is how far past the deadline the subtask is; zero when not overdue.
	OverdueBy time.Duration
	// Remaining is the time left until the deadline; zero once overdue.
	Remaining time.Duration
}

func urgencyContext(s model.Subtask, now time.Time) Context {
	days := urgency.DaysLeft(s.Deadline, now)
	ctx := Context{DaysLeft: days, Overdue: days <= 0}
	if d := s.Deadline.Sub(now); d > 0 {
		ctx.Remaining = d
	} else {
		ctx.OverdueBy = -d
	}
	return ctx
}

// Intervention is the message payload handed to the delivery channel.
type Intervention struct {
	Response    string   `json:"response"`
	Suggestions []string `json:"suggestions"`
	Motivation  string   `json:"motivation"`
}

// Preview builds the message the scheduler sends when a subtask comes due,
// before the user has reported anything.
func Preview(s model.Subtask, now time.Time) Intervention {
	return BuildIntervention(s, Report{}, urgencyContext(s, now))
}

// BuildIntervention composes the message for a report. Overdue subtasks get an
// acknowledgement without judgment, a reminder of why the step matters and one
// immediate small step. Upcoming ones get mild urgency, a concrete action and,
// for large steps, a suggestion to split the work.
func BuildIntervention(s model.Subtask, report Report, ctx Context) Intervention {
	if report.Status == model.ReportCompleted {
		return Intervention{
			Response:    fmt.Sprintf("Nice work, %q is done.", s.Description),
			Suggestions: []string{"Take a short break, then look at the next subtask."},
			Motivation:  "Every finished step makes the goal more real.",
		}
	}

	var b strings.Builder
	b.WriteString(acknowledge(s, report))
	var suggestions []string
	if ctx.Overdue {
		// 最后 24 小时内也按 overdue 处理，但截止时间还没到时不能说“已经过了”
		switch {
		case ctx.OverdueBy > 0:
			fmt.Fprintf(&b, " The deadline for %q passed %s ago. That happens, and it is not too late. ",
				s.Description, humanize(ctx.OverdueBy))
		case ctx.Remaining > 0:
			fmt.Fprintf(&b, " %q is due in %s, today. There is still time if you start now. ",
				s.Description, humanize(ctx.Remaining))
		default:
			fmt.Fprintf(&b, " %q is due right now. There is still time if you start now. ", s.Description)
		}
		b.WriteString("This step still matters: the rest of the goal depends on it.")
		suggestions = append(suggestions, "Right now, spend 10 minutes on the smallest next piece of it.")
		if next := nextCheckpoint(s); next != "" {
			suggestions = append(suggestions, fmt.Sprintf("Aim for this checkpoint first: %s.", next))
		}
		suggestions = append(suggestions, "Pick a new, realistic deadline and commit to it.")
	} else {
		fmt.Fprintf(&b, " %q is due in %s.", s.Description, humanize(ctx.Remaining))
		if ctx.DaysLeft <= 1 {
			b.WriteString(" Today is the day to move it forward.")
		}
		if next := nextCheckpoint(s); next != "" {
			suggestions = append(suggestions, fmt.Sprintf("Work toward the next checkpoint: %s.", next))
		} else {
			suggestions = append(suggestions, "Block out a focused session on your calendar for it today.")
		}
		if looksLarge(s.EstimatedDuration) {
			suggestions = append(suggestions, fmt.Sprintf(
				"At %s this step is big; split it into pieces you can finish in under an hour.", s.EstimatedDuration))
		}
	}

	return Intervention{
		Response:    b.String(),
		Suggestions: suggestions,
		Motivation:  motivation(s, report),
	}
}

func acknowledge(s model.Subtask, report Report) string {
	switch report.Status {
	case model.ReportInProgress:
		return "Good to hear you're on it."
	case model.ReportSkipped:
		if report.Reason != "" {
			return fmt.Sprintf("Thanks for being honest about skipping it (%s).", report.Reason)
		}
		return "Thanks for being honest about skipping it."
	case model.ReportOverdueAcknowledged:
		return "Thanks for owning the missed deadline."
	}
	return fmt.Sprintf("Checking in on %q.", s.Description)
}

func motivation(s model.Subtask, report Report) string {
	if report.Status.IsAvoidance() && report.Reason != "" {
		return fmt.Sprintf("%q is a real obstacle, but it doesn't have to stop you. Small progress today beats a perfect plan tomorrow.", report.Reason)
	}
	if len(s.MotivationTips) > 0 {
		return s.MotivationTips[(s.CheckInCount)%len(s.MotivationTips)]
	}
	return "Small progress today beats a perfect plan tomorrow."
}

// nextCheckpoint guesses the next checkpoint from how many check-ins reported progress.
func nextCheckpoint(s model.Subtask) string {
	if len(s.Checkpoints) == 0 {
		return ""
	}
	done := 0
	for _, c := range s.CheckIns {
		if c.Status == model.ReportInProgress {
			done++
		}
	}
	if done >= len(s.Checkpoints) {
		done = len(s.Checkpoints) - 1
	}
	return s.Checkpoints[done]
}

// looksLarge is true for estimates of three hours or more, or any estimate in days or weeks.
func looksLarge(estimate string) bool {
	fields := strings.Fields(strings.ToLower(estimate))
	if len(fields) < 2 {
		return false
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return false
	}
	unit := fields[1]
	switch {
	case strings.HasPrefix(unit, "day"), strings.HasPrefix(unit, "week"):
		return n > 0
	case strings.HasPrefix(unit, "hour"):
		return n >= 3
	}
	return false
}

func humanize(d time.Duration) string {
	switch {
	case d >= 48*time.Hour:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	case d >= 24*time.Hour:
		return "1 day"
	case d >= 2*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	case d >= time.Hour:
		return "1 hour"
	case d < time.Minute:
		return "less than a minute"
	default:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
}
