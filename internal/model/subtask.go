package model

import "time"

type SubtaskStatus string

const (
	StatusPending    SubtaskStatus = "pending"
	StatusInProgress SubtaskStatus = "in_progress"
	StatusCompleted  SubtaskStatus = "completed"
	StatusDelayed    SubtaskStatus = "delayed"
)

type Subtask struct {
	ID                 string         `json:"id"`
	GoalID             string         `json:"goal_id"`
	Position           int            `json:"position"`
	Description        string         `json:"description"`
	EstimatedDuration  string         `json:"estimated_duration"`
	Deadline           time.Time      `json:"deadline"`
	MotivationTips     []string       `json:"motivation_tips"`
	Checkpoints        []string       `json:"checkpoints"`
	Completed          bool           `json:"completed"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	Status             SubtaskStatus  `json:"status"`
	LastCheckIn        *time.Time     `json:"last_check_in,omitempty"`
	// LastInterventionAt is when the scheduler last reminded the user.
	LastInterventionAt *time.Time     `json:"last_intervention_at,omitempty"`
	CheckInCount       int            `json:"check_in_count"`
	CheckIns           []CheckIn      `json:"check_ins"`
	ProgressNotes      []ProgressNote `json:"progress_notes"`
	Version            int64          `json:"version"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// ActiveSubtask is a not-completed subtask flattened with its parent goal context.
type ActiveSubtask struct {
	Subtask
	GoalText string `json:"goal_text"`
}

type ProgressNoteKind string

const NoteProcrastination ProgressNoteKind = "procrastination"

type ProgressNote struct {
	Kind ProgressNoteKind `json:"kind"`
	Text string           `json:"text"`
	At   time.Time        `json:"at"`
}

// Clone returns a deep copy; slices and pointers are never shared with the original.
func (s Subtask) Clone() Subtask {
	c := s
	c.MotivationTips = append([]string(nil), s.MotivationTips...)
	c.Checkpoints = append([]string(nil), s.Checkpoints...)
	c.ProgressNotes = append([]ProgressNote(nil), s.ProgressNotes...)
	c.CheckIns = make([]CheckIn, len(s.CheckIns))
	for i, ci := range s.CheckIns {
		c.CheckIns[i] = ci.clone()
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.LastCheckIn != nil {
		t := *s.LastCheckIn
		c.LastCheckIn = &t
	}
	if s.LastInterventionAt != nil {
		t := *s.LastInterventionAt
		c.LastInterventionAt = &t
	}
	return c
}

// LastContact is the later of the last check-in and the last intervention,
// nil when neither happened.
func (s Subtask) LastContact() *time.Time {
	switch {
	case s.LastInterventionAt == nil:
		return s.LastCheckIn
	case s.LastCheckIn == nil || s.LastInterventionAt.After(*s.LastCheckIn):
		return s.LastInterventionAt
	default:
		return s.LastCheckIn
	}
}
