package model

import (
	"fmt"
	"strings"
	"time"
)

type ReportedStatus string

const (
	ReportInProgress          ReportedStatus = "in_progress"
	ReportCompleted           ReportedStatus = "completed"
	ReportSkipped             ReportedStatus = "skipped"
	ReportOverdueAcknowledged ReportedStatus = "overdue_acknowledged"
)

// ParseReportedStatus accepts the closed vocabulary, case-insensitively, with "-" or " " as separators.
func ParseReportedStatus(s string) (ReportedStatus, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch r := ReportedStatus(norm); r {
	case ReportInProgress, ReportCompleted, ReportSkipped, ReportOverdueAcknowledged:
		return r, nil
	}
	return "", fmt.Errorf("unknown check-in status %q", s)
}

// IsAvoidance reports whether the status means the user is not working on the subtask.
func (r ReportedStatus) IsAvoidance() bool {
	return r == ReportSkipped || r == ReportOverdueAcknowledged
}

// CheckIn is immutable once appended to a subtask's history.
type CheckIn struct {
	Timestamp   time.Time      `json:"timestamp"`
	Status      ReportedStatus `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	Response    string         `json:"response"`
	Suggestions []string       `json:"suggestions"`
	Motivation  string         `json:"motivation"`
}

func (c CheckIn) clone() CheckIn {
	c.Suggestions = append([]string(nil), c.Suggestions...)
	return c
}
