package mq

import "time"

// Routing keys on the pkagent.events exchange
const (
	RoutingGoalCreated      = "goal.created"
	RoutingInterventionDue  = "subtask.intervention_due"
	RoutingSubtaskCheckedIn = "subtask.checked_in"
	RoutingSubtaskCompleted = "subtask.completed"
	RoutingCheckInReply     = "checkin.reply"
)

type GoalCreatedPayload struct {
	GoalID     string    `json:"goal_id"`
	Text       string    `json:"text"`
	SubtaskIDs []string  `json:"subtask_ids"`
	Fallback   bool      `json:"fallback"`
	CreatedAt  time.Time `json:"created_at"`
	TraceID    string    `json:"trace_id,omitempty"`
}

// InterventionDuePayload is consumed by the delivery channel.
type InterventionDuePayload struct {
	SubtaskID   string    `json:"subtask_id"`
	GoalID      string    `json:"goal_id"`
	GoalText    string    `json:"goal_text"`
	Description string    `json:"description"`
	Severity    string    `json:"severity"` // due / overdue
	Deadline    time.Time `json:"deadline"`
	DaysLeft    int       `json:"days_left"`
	Response    string    `json:"response"`
	Suggestions []string  `json:"suggestions"`
	Motivation  string    `json:"motivation"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}

type SubtaskCheckedInPayload struct {
	SubtaskID    string    `json:"subtask_id"`
	GoalID       string    `json:"goal_id"`
	Status       string    `json:"status"`
	SubtaskState string    `json:"subtask_state"`
	CheckInCount int       `json:"check_in_count"`
	Response     string    `json:"response"`
	Motivation   string    `json:"motivation"`
	At           time.Time `json:"at"`
	TraceID      string    `json:"trace_id,omitempty"`
}

type SubtaskCompletedPayload struct {
	SubtaskID string    `json:"subtask_id"`
	GoalID    string    `json:"goal_id"`
	Completed bool      `json:"completed"`
	At        time.Time `json:"at"`
	TraceID   string    `json:"trace_id,omitempty"`
}

// CheckInReplyPayload is a user reply forwarded by the delivery channel.
type CheckInReplyPayload struct {
	ReplyID   string `json:"reply_id,omitempty"` // 幂等 key，渠道侧生成
	SubtaskID string `json:"subtask_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}
