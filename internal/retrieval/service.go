package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/querypilot/backend/internal/analyzer"
	"github.com/querypilot/backend/internal/llm"
	"github.com/querypilot/backend/internal/storage/models"
	"github.com/querypilot/backend/internal/storage/sqlite"
	"github.com/querypilot/backend/internal/vector/milvus"
	"github.com/querypilot/backend/pkg/logger"
	"go.uber.org/zap"
)

// Source types carried on QueryResult.
const (
	SourceChunk           = "chunk"
	SourceStructuredRow   = "structured_row"
	SourceStructuredCount = "structured_count"
	SourceSearchContext   = "search_context"
	SourceTabularRow      = "tabular_row"
)

// QueryResult is one retrieved context item handed to the generator.
// Columns carries the row fields for exact database matches so callers can
// cite them.
type QueryResult struct {
	Content    string                 `json:"content"`
	SourceType string                 `json:"source_type"`
	SourceID   string                 `json:"source_id"`
	Score      float64                `json:"score"`
	PageNumber int                    `json:"page_number,omitempty"`
	PageOffset int                    `json:"page_offset,omitempty"`
	DocName    string                 `json:"doc_name,omitempty"`
	Columns    map[string]interface{} `json:"columns,omitempty"`
}

// CorpusStore is the slice of the sqlite layer retrieval needs.
type CorpusStore interface {
	KeywordSearch(ctx context.Context, collectionID int64, query string, topK int) ([]sqlite.ChunkHit, error)
	GetChunksByIDs(ctx context.Context, ids []string) ([]models.Chunk, error)
	SearchStructuredRows(ctx context.Context, collectionID int64, category, source, keyword string, limit int) ([]models.StructuredRow, error)
	CountStructuredRows(ctx context.Context, collectionID int64, category, source, keyword string) (int, error)
	ListTabularRows(ctx context.Context, collectionID int64) ([]models.TabularRow, error)
}

// VectorSearcher is the dense-similarity leg of text retrieval.
type VectorSearcher interface {
	Search(ctx context.Context, collectionID int64, queryEmbedding []float32, topK int) ([]milvus.SearchHit, error)
}

// Service dispatches retrieval by analyzed query type.
type Service struct {
	store    CorpusStore
	vectors  VectorSearcher
	embedder llm.Embedder
}

func NewService(store CorpusStore, vectors VectorSearcher, embedder llm.Embedder) *Service {
	return &Service{store: store, vectors: vectors, embedder: embedder}
}

// Retrieve runs the retrieval path selected by the analysis. Structured
// queries with no matching rows degrade to text retrieval rather than
// returning nothing.
func (s *Service) Retrieve(ctx context.Context, collectionID int64, query string, analysis analyzer.QueryAnalysis, topK int) ([]QueryResult, error) {
	if topK <= 0 {
		topK = 20
	}

	switch analysis.QueryType {
	case analyzer.Structured:
		return s.retrieveStructured(ctx, collectionID, query, analysis, topK)
	case analyzer.NumericOnly:
		return s.retrieveNumeric(ctx, collectionID, analysis.NumericFilters, topK)
	case analyzer.Hybrid:
		return s.retrieveHybrid(ctx, collectionID, query, analysis, topK)
	default:
		return s.retrieveText(ctx, collectionID, query, topK)
	}
}

func (s *Service) retrieveStructured(ctx context.Context, collectionID int64, query string, analysis analyzer.QueryAnalysis, topK int) ([]QueryResult, error) {
	hints := analysis.Structured
	hasFilters := hints.Category != "" || hints.Source != "" || hints.Keyword != ""

	if hints.WantsCount {
		count, err := s.store.CountStructuredRows(ctx, collectionID, hints.Category, hints.Source, hints.Keyword)
		if err != nil {
			return nil, fmt.Errorf("failed to count structured rows: %w", err)
		}
		results := []QueryResult{{
			Content:    fmt.Sprintf("Exact count of matching records: %d", count),
			SourceType: SourceStructuredCount,
			SourceID:   "count",
			Score:      1.0,
		}}
		if hasFilters {
			results = append([]QueryResult{searchContextResult(hints)}, results...)
		}
		return results, nil
	}

	limit := topK
	if hints.RequestedLimit > 0 {
		limit = hints.RequestedLimit
	}

	rows, err := s.store.SearchStructuredRows(ctx, collectionID, hints.Category, hints.Source, hints.Keyword, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search structured rows: %w", err)
	}

	if len(rows) == 0 {
		logger.Info("Structured retrieval found no rows, falling back to text",
			zap.Int64("collection_id", collectionID),
			zap.String("category", hints.Category),
		)
		return s.retrieveText(ctx, collectionID, query, topK)
	}

	results := make([]QueryResult, 0, len(rows)+1)
	if hasFilters {
		results = append(results, searchContextResult(hints))
	}
	for _, row := range rows {
		results = append(results, QueryResult{
			Content:    formatStructuredRow(row),
			SourceType: SourceStructuredRow,
			SourceID:   fmt.Sprintf("%d", row.ID),
			Score:      1.0,
			DocName:    row.Source,
			Columns: map[string]interface{}{
				"id":       row.ID,
				"category": row.Category,
				"source":   row.Source,
				"title":    row.Title,
				"content":  row.Content,
			},
		})
	}

	return results, nil
}

func (s *Service) retrieveText(ctx context.Context, collectionID int64, query string, topK int) ([]QueryResult, error) {
	seen := make(map[string]bool)
	results := make([]QueryResult, 0, topK*2)

	if s.embedder != nil && s.vectors != nil {
		embedding, err := s.embedder.Embed(ctx, query)
		if err != nil {
			logger.Warn("Query embedding failed, continuing with keyword search only", zap.Error(err))
		} else {
			hits, err := s.vectors.Search(ctx, collectionID, embedding, topK)
			if err != nil {
				logger.Warn("Vector search failed, continuing with keyword search only", zap.Error(err))
			} else {
				vectorResults, err := s.resolveVectorHits(ctx, hits)
				if err != nil {
					return nil, err
				}
				for _, r := range vectorResults {
					seen[r.SourceID] = true
					results = append(results, r)
				}
			}
		}
	}

	keywordHits, err := s.store.KeywordSearch(ctx, collectionID, query, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to run keyword search: %w", err)
	}
	for _, hit := range keywordHits {
		if seen[hit.Chunk.ID] {
			continue
		}
		seen[hit.Chunk.ID] = true
		results = append(results, chunkResult(hit.Chunk, hit.Score))
	}

	return results, nil
}

func (s *Service) retrieveNumeric(ctx context.Context, collectionID int64, filters []analyzer.NumericFilter, topK int) ([]QueryResult, error) {
	rows, err := s.store.ListTabularRows(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tabular rows: %w", err)
	}

	results := make([]QueryResult, 0, topK)
	for _, row := range rows {
		if !matchesNumericFilters(row, filters) {
			continue
		}
		results = append(results, QueryResult{
			Content:    row.Raw,
			SourceType: SourceTabularRow,
			SourceID:   fmt.Sprintf("%d", row.ID),
			Score:      1.0,
			DocName:    row.DocName,
		})
		if len(results) >= topK {
			break
		}
	}

	return results, nil
}

// retrieveHybrid runs the numeric and text legs each at half the requested
// top_k, floored at one slot apiece so neither leg is silently starved.
func (s *Service) retrieveHybrid(ctx context.Context, collectionID int64, query string, analysis analyzer.QueryAnalysis, topK int) ([]QueryResult, error) {
	perLeg := topK / 2
	if perLeg < 1 {
		perLeg = 1
	}

	numeric, err := s.retrieveNumeric(ctx, collectionID, analysis.NumericFilters, perLeg)
	if err != nil {
		return nil, err
	}

	text, err := s.retrieveText(ctx, collectionID, query, perLeg)
	if err != nil {
		return nil, err
	}

	return append(numeric, text...), nil
}

func (s *Service) resolveVectorHits(ctx context.Context, hits []milvus.SearchHit) ([]QueryResult, error) {
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(hits))
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ChunkID)
		scores[h.ChunkID] = float64(h.Score)
	}

	chunks, err := s.store.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vector hits: %w", err)
	}

	byID := make(map[string]models.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}

	results := make([]QueryResult, 0, len(ids))
	for _, id := range ids {
		ch, ok := byID[id]
		if !ok {
			continue
		}
		results = append(results, chunkResult(ch, scores[id]))
	}

	return results, nil
}

func chunkResult(ch models.Chunk, score float64) QueryResult {
	return QueryResult{
		Content:    ch.Content,
		SourceType: SourceChunk,
		SourceID:   ch.ID,
		Score:      score,
		PageNumber: ch.PageNumber,
		PageOffset: ch.PageOffset,
		DocName:    ch.DocName,
	}
}

// searchContextResult tells the downstream generator that the rows following
// it are exact database matches, not approximate retrieval.
func searchContextResult(hints analyzer.StructuredHints) QueryResult {
	var parts []string
	if hints.Category != "" {
		parts = append(parts, fmt.Sprintf("category = %q", hints.Category))
	}
	if hints.Source != "" {
		parts = append(parts, fmt.Sprintf("source = %q", hints.Source))
	}
	if hints.Keyword != "" {
		parts = append(parts, fmt.Sprintf("keyword contains %q", hints.Keyword))
	}

	return QueryResult{
		Content: fmt.Sprintf(
			"The following results are exact database matches for the filters: %s. They are not similarity-ranked.",
			strings.Join(parts, ", "),
		),
		SourceType: SourceSearchContext,
		SourceID:   "search_context",
		Score:      1.0,
	}
}

func formatStructuredRow(row models.StructuredRow) string {
	var b strings.Builder
	if row.Title != "" {
		b.WriteString("Title: " + row.Title + "\n")
	}
	if row.Category != "" {
		b.WriteString("Category: " + row.Category + "\n")
	}
	if row.Source != "" {
		b.WriteString("Source: " + row.Source + "\n")
	}
	b.WriteString(row.Content)
	return b.String()
}

func matchesNumericFilters(row models.TabularRow, filters []analyzer.NumericFilter) bool {
	for _, f := range filters {
		value, ok := row.Columns[f.Column]
		if !ok {
			return false
		}
		switch f.Operator {
		case "=":
			if value != f.Value {
				return false
			}
		case "!=":
			if value == f.Value {
				return false
			}
		case "<":
			if !(value < f.Value) {
				return false
			}
		case "<=":
			if !(value <= f.Value) {
				return false
			}
		case ">":
			if !(value > f.Value) {
				return false
			}
		case ">=":
			if !(value >= f.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}
