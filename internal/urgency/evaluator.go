// Package urgency decides whether a subtask needs an intervention now.
package urgency

import (
	"math"
	"time"

	"pkagent/internal/model"
)

type Level string

const (
	None    Level = "none"
	Due     Level = "due"
	Overdue Level = "overdue"
)

// Cadence holds the check-in thresholds. Intervention frequency rises as the
// deadline approaches.
type Cadence struct {
	// hours between check-ins when at most one day is left
	LastDayHours  float64 `yaml:"last_day_hours"`
	// a subtask is "near" its deadline within NearDays days
	NearDays      int     `yaml:"near_days"`
	NearHours     float64 `yaml:"near_hours"`
	BaselineHours float64 `yaml:"baseline_hours"`
}

func DefaultCadence() Cadence {
	return Cadence{
		LastDayHours:  4,
		NearDays:      3,
		NearHours:     8,
		BaselineHours: 24,
	}
}

// Result carries the classification plus the inputs that produced it.
type Result struct {
	Level             Level
	DaysLeft          int
	HoursSinceCheckIn float64 // since the last check-in or intervention; +Inf when neither happened
}

func (r Result) NeedsIntervention() bool {
	return r.Level == Due || r.Level == Overdue
}

// DaysLeft is the floor of the remaining whole days; negative once the
// deadline has passed.
func DaysLeft(deadline, now time.Time) int {
	return int(math.Floor(deadline.Sub(now).Hours() / 24))
}

func HoursSince(last *time.Time, now time.Time) float64 {
	if last == nil {
		return math.Inf(1)
	}
	return now.Sub(*last).Hours()
}

// Evaluate classifies s at now using only persisted fields. Completed
// subtasks are never due. A reminder counts as contact, so the cadence
// also bounds how often the scheduler intervenes.
func (c Cadence) Evaluate(s model.Subtask, now time.Time) Result {
	days := DaysLeft(s.Deadline, now)
	hours := HoursSince(s.LastContact(), now)
	r := Result{Level: None, DaysLeft: days, HoursSinceCheckIn: hours}

	if s.Completed {
		return r
	}
	switch {
	case days <= 0:
		r.Level = Overdue
	case days <= 1 && hours >= c.LastDayHours:
		r.Level = Due
	case days <= c.NearDays && hours >= c.NearHours:
		r.Level = Due
	case hours >= c.BaselineHours:
		r.Level = Due
	}
	return r
}

// Throttled reports whether an overdue result comes sooner than the last-day
// cadence allows. Overdue subtasks are repeated at most every LastDayHours.
func (c Cadence) Throttled(r Result) bool {
	return r.Level == Overdue && r.HoursSinceCheckIn < c.LastDayHours
}

// Evaluate uses the default cadence.
func Evaluate(s model.Subtask, now time.Time) Result {
	return DefaultCadence().Evaluate(s, now)
}
