package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/querypilot/backend/internal/storage/models"
)

// UpsertRateLimitSession snapshots a rate-limit session so abuse history
// survives a restart. The in-memory table in internal/ratelimit remains the
// source of truth while the process is alive.
func (c *Client) UpsertRateLimitSession(ctx context.Context, s *models.RateLimitSession) error {
	query := `
		INSERT INTO rate_limit_sessions (collection_id, queries_count, blocked_count, started_at, last_used_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection_id) DO UPDATE SET
			queries_count = excluded.queries_count,
			blocked_count = excluded.blocked_count,
			started_at = excluded.started_at,
			last_used_at = excluded.last_used_at
	`

	_, err := c.db.ExecContext(ctx, query,
		s.CollectionID, s.QueriesCount, s.BlockedCount, s.StartedAt.Unix(), s.LastUsedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert rate limit session: %w", err)
	}

	return nil
}

func (c *Client) GetRateLimitSession(ctx context.Context, collectionID int64) (*models.RateLimitSession, error) {
	query := `SELECT collection_id, queries_count, blocked_count, started_at, last_used_at
		FROM rate_limit_sessions WHERE collection_id = ?`

	var s models.RateLimitSession
	var startedAt, lastUsedAt int64

	err := c.db.QueryRowContext(ctx, query, collectionID).
		Scan(&s.CollectionID, &s.QueriesCount, &s.BlockedCount, &startedAt, &lastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limit session: %w", err)
	}

	s.StartedAt = time.Unix(startedAt, 0)
	s.LastUsedAt = time.Unix(lastUsedAt, 0)

	return &s, nil
}
