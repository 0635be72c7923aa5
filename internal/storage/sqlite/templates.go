package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/querypilot/backend/internal/storage/models"
)

func (c *Client) UpsertTemplate(ctx context.Context, tpl *models.QueryTemplate) error {
	keywordsJSON, err := json.Marshal(tpl.IntentKeywords)
	if err != nil {
		return fmt.Errorf("failed to marshal intent keywords: %w", err)
	}
	tablesJSON, err := json.Marshal(tpl.TablesUsed)
	if err != nil {
		return fmt.Errorf("failed to marshal tables: %w", err)
	}

	query := `
		INSERT INTO query_templates (id, name, intent_keywords, example_question, query_pattern,
			pattern_type, tables_used, priority, is_enabled, is_pattern_agnostic)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			intent_keywords = excluded.intent_keywords,
			example_question = excluded.example_question,
			query_pattern = excluded.query_pattern,
			pattern_type = excluded.pattern_type,
			tables_used = excluded.tables_used,
			priority = excluded.priority,
			is_enabled = excluded.is_enabled,
			is_pattern_agnostic = excluded.is_pattern_agnostic
	`

	_, err = c.db.ExecContext(ctx, query,
		tpl.ID,
		tpl.Name,
		string(keywordsJSON),
		tpl.ExampleQuestion,
		tpl.QueryPattern,
		tpl.PatternType,
		string(tablesJSON),
		tpl.Priority,
		boolToInt(tpl.IsEnabled),
		boolToInt(tpl.IsPatternAgnostic),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert template: %w", err)
	}

	return nil
}

// ListEnabledTemplates loads the template library for a matching pass.
// Disabled templates are excluded here, not during scoring.
func (c *Client) ListEnabledTemplates(ctx context.Context) ([]models.QueryTemplate, error) {
	query := `
		SELECT id, name, intent_keywords, example_question, query_pattern,
			pattern_type, tables_used, priority, is_enabled, is_pattern_agnostic
		FROM query_templates
		WHERE is_enabled = 1
		ORDER BY priority DESC, id`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []models.QueryTemplate
	for rows.Next() {
		var tpl models.QueryTemplate
		var keywordsJSON, tablesJSON string
		var enabled, agnostic int

		err := rows.Scan(&tpl.ID, &tpl.Name, &keywordsJSON, &tpl.ExampleQuestion, &tpl.QueryPattern,
			&tpl.PatternType, &tablesJSON, &tpl.Priority, &enabled, &agnostic)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(keywordsJSON), &tpl.IntentKeywords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal intent keywords: %w", err)
		}
		if err := json.Unmarshal([]byte(tablesJSON), &tpl.TablesUsed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tables: %w", err)
		}
		tpl.IsEnabled = enabled != 0
		tpl.IsPatternAgnostic = agnostic != 0

		templates = append(templates, tpl)
	}

	return templates, rows.Err()
}

func (c *Client) GetTemplate(ctx context.Context, id string) (*models.QueryTemplate, error) {
	query := `
		SELECT id, name, intent_keywords, example_question, query_pattern,
			pattern_type, tables_used, priority, is_enabled, is_pattern_agnostic
		FROM query_templates WHERE id = ?`

	var tpl models.QueryTemplate
	var keywordsJSON, tablesJSON string
	var enabled, agnostic int

	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&tpl.ID, &tpl.Name, &keywordsJSON, &tpl.ExampleQuestion, &tpl.QueryPattern,
		&tpl.PatternType, &tablesJSON, &tpl.Priority, &enabled, &agnostic)
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	if err := json.Unmarshal([]byte(keywordsJSON), &tpl.IntentKeywords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal intent keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(tablesJSON), &tpl.TablesUsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tables: %w", err)
	}
	tpl.IsEnabled = enabled != 0
	tpl.IsPatternAgnostic = agnostic != 0

	return &tpl, nil
}

func (c *Client) GetAllowlistProfile(ctx context.Context, collectionID int64) (*models.AllowlistProfile, error) {
	query := `SELECT collection_id, tables_json, default_table, max_limit FROM allowlist_profiles WHERE collection_id = ?`

	var profile models.AllowlistProfile
	var tablesJSON string

	err := c.db.QueryRowContext(ctx, query, collectionID).Scan(
		&profile.CollectionID, &tablesJSON, &profile.DefaultTable, &profile.MaxLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to get allowlist profile: %w", err)
	}

	if err := json.Unmarshal([]byte(tablesJSON), &profile.Tables); err != nil {
		return nil, fmt.Errorf("failed to unmarshal allowlist tables: %w", err)
	}

	return &profile, nil
}

func (c *Client) UpsertAllowlistProfile(ctx context.Context, profile *models.AllowlistProfile) error {
	tablesJSON, err := json.Marshal(profile.Tables)
	if err != nil {
		return fmt.Errorf("failed to marshal allowlist tables: %w", err)
	}

	query := `
		INSERT INTO allowlist_profiles (collection_id, tables_json, default_table, max_limit)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection_id) DO UPDATE SET
			tables_json = excluded.tables_json,
			default_table = excluded.default_table,
			max_limit = excluded.max_limit
	`

	_, err = c.db.ExecContext(ctx, query,
		profile.CollectionID, string(tablesJSON), profile.DefaultTable, profile.MaxLimit)
	if err != nil {
		return fmt.Errorf("failed to upsert allowlist profile: %w", err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
