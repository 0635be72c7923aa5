package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/querypilot/backend/internal/plan"
	"github.com/querypilot/backend/internal/storage/models"
	"github.com/querypilot/backend/pkg/logger"
)

// ChunkHit pairs a chunk with a keyword-relevance score.
type ChunkHit struct {
	Chunk models.Chunk
	Score float64
}

func (c *Client) InsertChunk(ctx context.Context, chunk *models.Chunk) error {
	query := `INSERT INTO chunks (id, collection_id, doc_name, page_number, page_offset, content, embedding_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		chunk.ID,
		chunk.CollectionID,
		chunk.DocName,
		chunk.PageNumber,
		chunk.PageOffset,
		chunk.Content,
		chunk.EmbeddingID,
		chunk.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO chunks_fts (chunk_id, collection_id, content) VALUES (?, ?, ?)`,
		chunk.ID, chunk.CollectionID, chunk.Content,
	)
	if err != nil {
		return fmt.Errorf("failed to index chunk: %w", err)
	}

	return nil
}

func (c *Client) GetChunksByIDs(ctx context.Context, ids []string) ([]models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf(
		`SELECT id, collection_id, doc_name, page_number, page_offset, content, embedding_id, created_at
		 FROM chunks WHERE id IN (%s)`, placeholders)

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var ch models.Chunk
		var createdAt int64
		if err := rows.Scan(&ch.ID, &ch.CollectionID, &ch.DocName, &ch.PageNumber, &ch.PageOffset, &ch.Content, &ch.EmbeddingID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ch.CreatedAt = time.Unix(createdAt, 0)
		chunks = append(chunks, ch)
	}

	return chunks, rows.Err()
}

// KeywordSearch runs a BM25 full-text search over the chunk corpus. Rank
// values from bm25() are lower-is-better; they are mapped to a descending
// (0, 1] score.
func (c *Client) KeywordSearch(ctx context.Context, collectionID int64, query string, topK int) ([]ChunkHit, error) {
	match := buildMatchExpression(query)
	if match == "" {
		return nil, nil
	}

	sqlQuery := `
		SELECT f.chunk_id, bm25(chunks_fts) AS rank
		FROM chunks_fts f
		WHERE chunks_fts MATCH ? AND f.collection_id = ?
		ORDER BY rank
		LIMIT ?`

	rows, err := c.db.QueryContext(ctx, sqlQuery, match, collectionID, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to run keyword search: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, topK)
	ranks := make(map[string]float64, topK)
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, id)
		ranks[id] = rank
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	chunks, err := c.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}

	hits := make([]ChunkHit, 0, len(ids))
	for _, id := range ids {
		ch, ok := byID[id]
		if !ok {
			continue
		}
		rank := ranks[id]
		if rank < 0 {
			rank = -rank
		}
		hits = append(hits, ChunkHit{Chunk: ch, Score: 1.0 / (1.0 + rank)})
	}

	logger.Debug("Keyword search completed",
		zap.Int64("collection_id", collectionID),
		zap.Int("hits", len(hits)),
	)

	return hits, nil
}

// buildMatchExpression sanitizes free text into an FTS5 MATCH expression.
// Tokens are OR-joined for recall; BM25 ranking handles precision.
func buildMatchExpression(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		var b strings.Builder
		for _, r := range f {
			if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		if b.Len() > 1 {
			terms = append(terms, fmt.Sprintf("%q", b.String()))
		}
	}
	return strings.Join(terms, " OR ")
}

func (c *Client) InsertStructuredRow(ctx context.Context, row *models.StructuredRow) error {
	query := `INSERT INTO structured_rows (collection_id, category, source, title, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	res, err := c.db.ExecContext(ctx, query,
		row.CollectionID, row.Category, row.Source, row.Title, row.Content, row.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert structured row: %w", err)
	}

	row.ID, _ = res.LastInsertId()
	return nil
}

// corpusProfile is the fixed allowlist for the internal corpus tables, so
// structured retrieval passes the same validation gate as compiled SQL.
var corpusProfile = &models.AllowlistProfile{
	Tables: map[string][]string{
		"structured_rows": structuredRowColumns,
	},
	MaxLimit: 1000,
}

var structuredRowColumns = []string{"id", "collection_id", "category", "source", "title", "content", "created_at"}

var corpusValidator = plan.NewValidator(1000)

// structuredRowsPlan builds the typed plan for a structured-row lookup.
// Filter values are bound as parameters at render time.
func structuredRowsPlan(mode string, collectionID int64, category, source, keyword string, limit int) *plan.QueryPlan {
	p := &plan.QueryPlan{
		Mode:    mode,
		Table:   "structured_rows",
		Filters: []plan.Filter{{Column: "collection_id", Operator: "=", Value: collectionID}},
	}
	if category != "" {
		p.Filters = append(p.Filters, plan.Filter{Column: "category", Operator: "=", Value: category})
	}
	if source != "" {
		p.Filters = append(p.Filters, plan.Filter{Column: "source", Operator: "=", Value: source})
	}
	if keyword != "" {
		p.Filters = append(p.Filters, plan.Filter{Column: "content", Operator: "LIKE", Value: "%" + keyword + "%"})
	}
	if mode != plan.ModeCount {
		p.Select = structuredRowColumns
		p.OrderBy = &plan.OrderBy{Column: "id"}
		p.Limit = limit
	}
	return p
}

// renderStructuredPlan validates the plan against the corpus allowlist and
// renders it to parameterized SQL. The over-ceiling limit is clamped.
func renderStructuredPlan(p *plan.QueryPlan) (string, []interface{}, error) {
	validation := corpusValidator.ValidatePlan(p, corpusProfile)
	if !validation.IsValid {
		return "", nil, fmt.Errorf("structured query rejected: %s", strings.Join(validation.Errors, "; "))
	}
	if validation.AdjustedLimit > 0 {
		p.Limit = validation.AdjustedLimit
	}
	return p.SQL()
}

// SearchStructuredRows filters by exact category/source match and a LIKE
// match on content for the keyword. The lookup is built as a typed plan and
// passes the allowlist validator before rendering.
func (c *Client) SearchStructuredRows(ctx context.Context, collectionID int64, category, source, keyword string, limit int) ([]models.StructuredRow, error) {
	p := structuredRowsPlan(plan.ModeSelect, collectionID, category, source, keyword, limit)
	query, args, err := renderStructuredPlan(p)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search structured rows: %w", err)
	}
	defer rows.Close()

	var result []models.StructuredRow
	for rows.Next() {
		var r models.StructuredRow
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.CollectionID, &r.Category, &r.Source, &r.Title, &r.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		result = append(result, r)
	}

	return result, rows.Err()
}

func (c *Client) CountStructuredRows(ctx context.Context, collectionID int64, category, source, keyword string) (int, error) {
	p := structuredRowsPlan(plan.ModeCount, collectionID, category, source, keyword, 0)
	query, args, err := renderStructuredPlan(p)
	if err != nil {
		return 0, err
	}

	var count int
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count structured rows: %w", err)
	}
	return count, nil
}

func (c *Client) InsertTabularRow(ctx context.Context, row *models.TabularRow) error {
	columnsJSON, err := json.Marshal(row.Columns)
	if err != nil {
		return fmt.Errorf("failed to marshal columns: %w", err)
	}

	query := `INSERT INTO tabular_rows (collection_id, doc_name, row_index, columns, raw, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	res, err := c.db.ExecContext(ctx, query,
		row.CollectionID, row.DocName, row.RowIndex, string(columnsJSON), row.Raw, row.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert tabular row: %w", err)
	}

	row.ID, _ = res.LastInsertId()
	return nil
}

// ListTabularRows returns the auxiliary tabular rows of a collection.
// Numeric predicates are applied by the caller: columns are stored as JSON
// and predicate evaluation belongs to the retrieval layer.
func (c *Client) ListTabularRows(ctx context.Context, collectionID int64) ([]models.TabularRow, error) {
	query := `SELECT id, collection_id, doc_name, row_index, columns, raw, created_at
		FROM tabular_rows WHERE collection_id = ? ORDER BY id`

	rows, err := c.db.QueryContext(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tabular rows: %w", err)
	}
	defer rows.Close()

	var result []models.TabularRow
	for rows.Next() {
		var r models.TabularRow
		var columnsJSON string
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.CollectionID, &r.DocName, &r.RowIndex, &columnsJSON, &r.Raw, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(columnsJSON), &r.Columns); err != nil {
			return nil, fmt.Errorf("failed to unmarshal columns: %w", err)
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		result = append(result, r)
	}

	return result, rows.Err()
}
