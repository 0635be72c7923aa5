package sqlite

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/querypilot/backend/internal/storage/models"
	"github.com/querypilot/backend/pkg/logger"
)

func (c *Client) InsertAuditRecord(ctx context.Context, record *models.AuditRecord) error {
	query := `
		INSERT INTO audit_log (query_id, collection_id, user_query_hash, intent, plan_json,
			compiled_sql, params_json, row_count, latency_ms, llm_route, sent_context_chars,
			template_id, template_name, template_match_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := c.db.ExecContext(ctx, query,
		record.QueryID,
		record.CollectionID,
		record.UserQueryHash,
		record.Intent,
		record.PlanJSON,
		record.CompiledSQL,
		record.ParamsJSON,
		record.RowCount,
		record.LatencyMS,
		record.LLMRoute,
		record.SentContextChars,
		record.TemplateID,
		record.TemplateName,
		record.TemplateMatchCount,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	record.ID, _ = res.LastInsertId()

	logger.Debug("Audit record persisted",
		zap.String("query_id", record.QueryID),
		zap.Int64("collection_id", record.CollectionID),
		zap.String("llm_route", record.LLMRoute),
		zap.Int("row_count", record.RowCount),
	)

	return nil
}

func (c *Client) GetAuditStats(ctx context.Context, collectionID int64) (*models.AuditStats, error) {
	stats := &models.AuditStats{
		RouteCounts:  make(map[string]int),
		IntentCounts: make(map[string]int),
	}

	var lastQueryAt int64
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(latency_ms), 0), COALESCE(AVG(row_count), 0), COALESCE(MAX(created_at), 0)
		FROM audit_log WHERE collection_id = ?`, collectionID).
		Scan(&stats.TotalQueries, &stats.AvgLatencyMS, &stats.AvgRowCount, &lastQueryAt)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate audit log: %w", err)
	}
	if lastQueryAt > 0 {
		stats.LastQueryAt = time.Unix(lastQueryAt, 0)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT llm_route, COUNT(*) FROM audit_log WHERE collection_id = ? GROUP BY llm_route`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate routes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var route string
		var count int
		if err := rows.Scan(&route, &count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		stats.RouteCounts[route] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	intentRows, err := c.db.QueryContext(ctx, `
		SELECT intent, COUNT(*) FROM audit_log WHERE collection_id = ? GROUP BY intent`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate intents: %w", err)
	}
	defer intentRows.Close()

	for intentRows.Next() {
		var intent string
		var count int
		if err := intentRows.Scan(&intent, &count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		stats.IntentCounts[intent] = count
	}

	return stats, intentRows.Err()
}
