package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"pkagent/pkg/otel"
	"pkagent/pkg/outbox"
)

const dbSystem = "postgresql"

// PostgresStore keeps goals and subtasks in Postgres. Subtask updates are
// conditioned on the row version, and outbox events passed along with an
// update are written in the same transaction.
type PostgresStore struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewPostgresStore(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, outbox: outboxRepo, logger: logger}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Enqueue writes an event to the outbox outside any business transaction.
func (s *PostgresStore) Enqueue(ctx context.Context, event *outbox.Event) (err error) {
	ctx, span := otel.StoreSpan(ctx, dbSystem, "enqueue_event")
	defer func() { otel.EndSpan(span, err) }()
	return s.outbox.Enqueue(ctx, event)
}

// jsonList 编码列表；nil 编码为 [] 而不是 null
func jsonList[T any](xs []T) ([]byte, error) {
	if xs == nil {
		xs = []T{}
	}
	return json.Marshal(xs)
}

func decodeList[T any](raw []byte, what string) ([]T, error) {
	out := []T{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", what, err)
	}
	return out, nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return err
}
