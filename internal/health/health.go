// Package health persists the gateway's first-ever start time per environment, so that /v1/health reports a
// stable startedAt across process restarts instead of the current process's own boot time.
package health

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store reads and writes the single-row, first-writer-wins health record for an environment.
type Store struct {
	db querier
}

// NewStore creates a Postgres-backed health store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// EnsureStarted records (env, nowMS, commitHash) as the health row if none exists yet, then returns the
// row's started_at_ms — which is nowMS on the very first call for this env across all processes, and the
// original value on every subsequent call, including from other instances racing the same insert.
func (s *Store) EnsureStarted(ctx context.Context, env, commitHash string, nowMS int64) (int64, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO gateway_health_state (env, started_at_ms, commit_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (env) DO NOTHING
	`, env, nowMS, commitHash)
	if err != nil {
		return 0, fmt.Errorf("insert health state: %w", err)
	}

	var startedAt int64
	err = s.db.QueryRow(ctx, "SELECT started_at_ms FROM gateway_health_state WHERE env = $1", env).Scan(&startedAt)
	if err != nil {
		return 0, fmt.Errorf("read health state: %w", err)
	}
	return startedAt, nil
}
