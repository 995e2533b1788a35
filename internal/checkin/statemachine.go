// Package checkin holds the subtask lifecycle: recording check-ins, the
// scheduler's overdue transition and the user's explicit completion toggle.
//
// 状态: pending → in_progress → completed (终态)
// pending / in_progress 逾期未完成 → delayed；delayed 有新进展 → in_progress
package checkin

import (
	"errors"
	"time"

	"pkagent/internal/model"
	"pkagent/internal/urgency"
)

var ErrSubtaskCompleted = errors.New("subtask already completed")

// Report is what the user (or the scheduler in active mode) says about a subtask.
type Report struct {
	Status model.ReportedStatus
	Reason string
	// Motivation replaces the template motivation message when set.
	Motivation string
}

// Record appends one check-in to s and applies the resulting transition.
// check_in_count always equals len(check_ins) afterwards.
func Record(s *model.Subtask, report Report, now time.Time) (model.CheckIn, error) {
	if s.Completed {
		return model.CheckIn{}, ErrSubtaskCompleted
	}
	// check-in 时间戳不能倒退
	if s.LastCheckIn != nil && now.Before(*s.LastCheckIn) {
		now = *s.LastCheckIn
	}

	ctx := urgencyContext(*s, now)
	iv := BuildIntervention(*s, report, ctx)

	rec := model.CheckIn{
		Timestamp:   now,
		Status:      report.Status,
		Reason:      report.Reason,
		Response:    iv.Response,
		Suggestions: iv.Suggestions,
		Motivation:  iv.Motivation,
	}
	if report.Motivation != "" {
		rec.Motivation = report.Motivation
	}

	s.CheckIns = append(s.CheckIns, rec)
	s.CheckInCount = len(s.CheckIns)
	t := now
	s.LastCheckIn = &t

	switch report.Status {
	case model.ReportCompleted:
		complete(s, now)
	case model.ReportInProgress:
		s.Status = model.StatusInProgress
	case model.ReportSkipped:
		if ctx.Overdue {
			s.Status = model.StatusDelayed
		}
	case model.ReportOverdueAcknowledged:
		s.Status = model.StatusDelayed
	}

	if report.Status.IsAvoidance() && report.Reason != "" {
		s.ProgressNotes = append(s.ProgressNotes, model.ProgressNote{
			Kind: model.NoteProcrastination,
			Text: report.Reason,
			At:   now,
		})
	}
	s.UpdatedAt = now
	return rec, nil
}

// MarkOverdue moves an unfinished subtask to delayed once its deadline is
// reached. It reports whether anything changed.
func MarkOverdue(s *model.Subtask, now time.Time) bool {
	if s.Completed || s.Status == model.StatusDelayed {
		return false
	}
	if urgency.DaysLeft(s.Deadline, now) > 0 {
		return false
	}
	s.Status = model.StatusDelayed
	s.UpdatedAt = now
	return true
}

// ToggleCompletion flips completion as an explicit user override and returns
// the new value. Un-completing restores in_progress, or pending if the
// subtask was never checked in.
func ToggleCompletion(s *model.Subtask, now time.Time) bool {
	if s.Completed {
		s.Completed = false
		s.CompletedAt = nil
		if s.CheckInCount > 0 {
			s.Status = model.StatusInProgress
		} else {
			s.Status = model.StatusPending
		}
	} else {
		complete(s, now)
	}
	s.UpdatedAt = now
	return s.Completed
}

func complete(s *model.Subtask, now time.Time) {
	s.Completed = true
	t := now
	s.CompletedAt = &t
	s.Status = model.StatusCompleted
}
