package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pkagent/internal/model"
	"pkagent/pkg/otel"
)

func (s *PostgresStore) InsertGoal(ctx context.Context, g *model.Goal) (err error) {
	ctx, span := otel.StoreSpan(ctx, dbSystem, "insert_goal")
	defer func() { otel.EndSpan(span, err) }()

	query := `
        INSERT INTO goals (id, text, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $4)
    `
	if _, err = s.db.Exec(ctx, query, g.ID, g.Text, g.Status, g.CreatedAt); err != nil {
		s.logger.Error("Failed to insert goal", zap.Error(err), zap.String("goal_id", g.ID))
		return fmt.Errorf("insert goal: %w", err)
	}
	s.logger.Debug("Goal inserted", zap.String("goal_id", g.ID))
	return nil
}

// GetGoal returns the goal with its subtasks in position order.
func (s *PostgresStore) GetGoal(ctx context.Context, id string) (_ *model.Goal, err error) {
	ctx, span := otel.StoreSpan(ctx, dbSystem, "get_goal")
	defer func() { otel.EndSpan(span, err) }()

	query := `
        SELECT id, text, status, created_at
        FROM goals
        WHERE id = $1
    `
	var g model.Goal
	if err = s.db.QueryRow(ctx, query, id).Scan(&g.ID, &g.Text, &g.Status, &g.CreatedAt); err != nil {
		return nil, notFound(err, "goal", id)
	}
	g.Subtasks, err = s.ListSubtasksByGoal(ctx, id)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PostgresStore) UpdateGoalStatus(ctx context.Context, id string, status model.GoalStatus) (err error) {
	ctx, span := otel.StoreSpan(ctx, dbSystem, "update_goal_status")
	defer func() { otel.EndSpan(span, err) }()

	query := `
        UPDATE goals
        SET status = $1, updated_at = NOW()
        WHERE id = $2
    `
	tag, err := s.db.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update goal status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteGoal removes the goal; subtasks go with it through ON DELETE CASCADE.
func (s *PostgresStore) DeleteGoal(ctx context.Context, id string) (err error) {
	ctx, span := otel.StoreSpan(ctx, dbSystem, "delete_goal")
	defer func() { otel.EndSpan(span, err) }()

	tag, err := s.db.Exec(ctx, `DELETE FROM goals WHERE id = $1`, id)
	if err != nil {
		s.logger.Error("Failed to delete goal", zap.Error(err), zap.String("goal_id", id))
		return fmt.Errorf("delete goal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	return nil
}
