package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"pkagent/internal/model"
	"pkagent/pkg/otel"
	"pkagent/pkg/outbox"
)

const subtaskColumns = `s.id, s.goal_id, s.position, s.description, s.estimated_duration, s.deadline,
               s.motivation_tips, s.checkpoints, s.completed, s.completed_at, s.status,
               s.last_check_in, s.last_intervention_at, s.check_in_count, s.check_ins, s.progress_notes,
               s.version, s.created_at, s.updated_at`

type subtaskJSON struct {
	tips, checkpoints, checkIns, notes []byte
}

func encodeSubtask(st *model.Subtask) (subtaskJSON, error) {
	var j subtaskJSON
	var err error
	if j.tips, err = jsonList(st.MotivationTips); err != nil {
		return j, err
	}
	if j.checkpoints, err = jsonList(st.Checkpoints); err != nil {
		return j, err
	}
	if j.checkIns, err = jsonList(st.CheckIns); err != nil {
		return j, err
	}
	if j.notes, err = jsonList(st.ProgressNotes); err != nil {
		return j, err
	}
	return j, nil
}

// scanSubtask reads subtaskColumns, plus any extra destinations appended after them.
func scanSubtask(row pgx.Row, extra ...any) (model.Subtask, error) {
	var st model.Subtask
	var j subtaskJSON
	dest := []any{
		&st.ID, &st.GoalID, &st.Position, &st.Description, &st.EstimatedDuration, &st.Deadline,
		&j.tips, &j.checkpoints, &st.Completed, &st.CompletedAt, &st.Status,
		&st.LastCheckIn, &st.LastInterventionAt, &st.CheckInCount, &j.checkIns, &j.notes,
		&st.Version, &st.CreatedAt, &st.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return st, err
	}
	var err error
	if st.MotivationTips, err = decodeList[string](j.tips, "motivation_tips"); err != nil {
		return st, err
	}
	if st.Checkpoints, err = decodeList[string](j.checkpoints, "checkpoints"); err != nil {
		return st, err
	}
	if st.CheckIns, err = decodeList[model.CheckIn](j.checkIns, "check_ins"); err != nil {
		return st, err
	}
	if st.ProgressNotes, err = decodeList[model.ProgressNote](j.notes, "progress_notes"); err != nil {
		return st, err
	}
	return st, nil
}

func (s *PostgresStore) InsertSubtask(ctx context.Context, st *model.Subtask) (err error) {
	ctx, span := otel.StoreSpan(ctx, dbSystem, "insert_subtask")
	defer func() { otel.EndSpan(span, err) }()

	j, err := encodeSubtask(st)
	if err != nil {
		return err
	}
	if st.Version == 0 {
		st.Version = 1
	}
	query := `
        INSERT INTO subtasks (id, goal_id, position, description, estimated_duration, deadline,
                              motivation_tips, checkpoints, completed, completed_at, status,
                              last_check_in, last_intervention_at, check_in_count, check_ins, progress_notes,
                              version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
    `
	_, err = s.db.Exec(ctx, query,
		st.ID, st.GoalID, st.Position, st.Description, st.EstimatedDuration, st.Deadline,
		j.tips, j.checkpoints, st.Completed, st.CompletedAt, st.Status,
		st.LastCheckIn, st.LastInterventionAt, st.CheckInCount, j.checkIns, j.notes,
		st.Version, st.CreatedAt,
	)
	if err != nil {
		s.logger.Error("Failed to insert subtask",
			zap.Error(err),
			zap.String("subtask_id", st.ID),
			zap.String("goal_id", st.GoalID),
		)
		return fmt.Errorf("insert subtask: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubtask(ctx context.Context, id string) (_ *model.Subtask, err error) {
	ctx, span := otel.StoreSpan(ctx, dbSystem, "get_subtask")
	defer func() { otel.EndSpan(span, err) }()

	query := `SELECT ` + subtaskColumns + ` FROM subtasks s WHERE s.id = $1`
	st, err := scanSubtask(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "subtask", id)
	}
	return &st, nil
}

func (s *PostgresStore) ListSubtasksByGoal(ctx context.Context, goalID string) (_ []model.Subtask, err error) {
	ctx, span := otel.StoreSpan(ctx, dbSystem, "list_subtasks_by_goal")
	defer func() { otel.EndSpan(span, err) }()

	query := `SELECT ` + subtaskColumns + ` FROM subtasks s WHERE s.goal_id = $1 ORDER BY s.position ASC`
	rows, err := s.db.Query(ctx, query, goalID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()

	subtasks := []model.Subtask{}
	for rows.Next() {
		st, err := scanSubtask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		subtasks = append(subtasks, st)
	}
	return subtasks, rows.Err()
}

// ListActiveSubtasks returns every not-completed subtask across all goals,
// earliest deadline first.
func (s *PostgresStore) ListActiveSubtasks(ctx context.Context) (_ []model.ActiveSubtask, err error) {
	ctx, span := otel.StoreSpan(ctx, dbSystem, "list_active_subtasks")
	defer func() { otel.EndSpan(span, err) }()

	query := `
        SELECT ` + subtaskColumns + `, g.text
        FROM subtasks s
        JOIN goals g ON g.id = s.goal_id
        WHERE NOT s.completed
        ORDER BY s.deadline ASC, s.position ASC
    `
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active subtasks: %w", err)
	}
	defer rows.Close()

	active := []model.ActiveSubtask{}
	for rows.Next() {
		var goalText string
		st, err := scanSubtask(rows, &goalText)
		if err != nil {
			return nil, fmt.Errorf("scan active subtask: %w", err)
		}
		active = append(active, model.ActiveSubtask{Subtask: st, GoalText: goalText})
	}
	return active, rows.Err()
}

// UpdateSubtask writes st if the stored version still equals expectedVersion
// and bumps the version. Events are inserted into the outbox in the same
// transaction. goal_id and position are never rewritten.
func (s *PostgresStore) UpdateSubtask(ctx context.Context, st *model.Subtask, expectedVersion int64, events ...*outbox.Event) (err error) {
	ctx, span := otel.StoreSpan(ctx, dbSystem, "update_subtask")
	defer func() { otel.EndSpan(span, err) }()

	j, err := encodeSubtask(st)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
        UPDATE subtasks
        SET description = $1, estimated_duration = $2, deadline = $3,
            motivation_tips = $4, checkpoints = $5, completed = $6, completed_at = $7,
            status = $8, last_check_in = $9, last_intervention_at = $10, check_in_count = $11,
            check_ins = $12, progress_notes = $13, version = version + 1, updated_at = NOW()
        WHERE id = $14 AND version = $15
        RETURNING version, updated_at
    `
	var newVersion int64
	var updatedAt time.Time
	err = tx.QueryRow(ctx, query,
		st.Description, st.EstimatedDuration, st.Deadline,
		j.tips, j.checkpoints, st.Completed, st.CompletedAt,
		st.Status, st.LastCheckIn, st.LastInterventionAt, st.CheckInCount,
		j.checkIns, j.notes, st.ID, expectedVersion,
	).Scan(&newVersion, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subtasks WHERE id = $1)`, st.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check subtask: %w", err)
		}
		if !exists {
			return fmt.Errorf("subtask %s: %w", st.ID, ErrNotFound)
		}
		return fmt.Errorf("subtask %s at version %d: %w", st.ID, expectedVersion, ErrVersionConflict)
	}
	if err != nil {
		return fmt.Errorf("update subtask: %w", err)
	}

	for _, ev := range events {
		if err = s.outbox.InsertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	st.Version = newVersion
	st.UpdatedAt = updatedAt
	return nil
}
