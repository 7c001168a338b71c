package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists audit events to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// BatchInsert writes a slice of events in a single multi-row INSERT.
// It is a no-op when events is empty.
func (s *Store) BatchInsert(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 9
	args := make([]any, 0, len(events)*cols)
	rows := make([]string, 0, len(events))

	for i, ev := range events {
		base := i * cols
		rows = append(rows, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			ev.ClientID,
			ev.UserID,
			ev.Email,
			ev.Operation,
			ev.Outcome,
			ev.Code,
			ev.IP,
			ev.RequestID,
			ev.Timestamp,
		)
	}

	query := `INSERT INTO auth_events
		(client_id, user_id, email, operation, outcome, code, ip, request_id, occurred_at)
		VALUES ` + strings.Join(rows, ", ")

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting audit events: %w", err)
	}
	return nil
}

// LogSink writes events to the structured log instead of a database. Used
// when the gateway runs without Postgres.
type LogSink struct{}

// BatchInsert emits one log line per event.
func (LogSink) BatchInsert(ctx context.Context, events []Event) error {
	for _, ev := range events {
		slog.Info("audit",
			"operation", ev.Operation,
			"outcome", ev.Outcome,
			"code", ev.Code,
			"client_id", ev.ClientID,
			"user_id", ev.UserID,
			"email", ev.Email,
			"ip", ev.IP,
			"request_id", ev.RequestID,
		)
	}
	return nil
}
