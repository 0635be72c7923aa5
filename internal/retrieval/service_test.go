package retrieval

import (
	"context"
	"testing"

	"github.com/querypilot/backend/internal/analyzer"
	"github.com/querypilot/backend/internal/storage/models"
	"github.com/querypilot/backend/internal/storage/sqlite"
	"github.com/querypilot/backend/internal/vector/milvus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	keywordHits    []sqlite.ChunkHit
	chunks         map[string]models.Chunk
	structuredRows []models.StructuredRow
	structuredN    int
	tabularRows    []models.TabularRow
}

func (f *fakeStore) KeywordSearch(_ context.Context, _ int64, _ string, _ int) ([]sqlite.ChunkHit, error) {
	return f.keywordHits, nil
}

func (f *fakeStore) GetChunksByIDs(_ context.Context, ids []string) ([]models.Chunk, error) {
	out := make([]models.Chunk, 0, len(ids))
	for _, id := range ids {
		if ch, ok := f.chunks[id]; ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeStore) SearchStructuredRows(_ context.Context, _ int64, category, _, _ string, _ int) ([]models.StructuredRow, error) {
	out := make([]models.StructuredRow, 0)
	for _, row := range f.structuredRows {
		if category == "" || row.Category == category {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeStore) CountStructuredRows(_ context.Context, _ int64, _, _, _ string) (int, error) {
	return f.structuredN, nil
}

func (f *fakeStore) ListTabularRows(_ context.Context, _ int64) ([]models.TabularRow, error) {
	return f.tabularRows, nil
}

type fakeVectors struct {
	hits []milvus.SearchHit
}

func (f *fakeVectors) Search(_ context.Context, _ int64, _ []float32, _ int) ([]milvus.SearchHit, error) {
	return f.hits, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func TestRetrieveStructuredAddsSearchContextPreamble(t *testing.T) {
	store := &fakeStore{
		structuredRows: []models.StructuredRow{
			{ID: 1, Category: "ai", Title: "Intro", Content: "AI overview"},
		},
	}
	svc := NewService(store, nil, nil)
	analysis := analyzer.Analyze("tampilkan semua data kategori ai")

	require.Equal(t, analyzer.Structured, analysis.QueryType)
	require.Equal(t, "ai", analysis.Structured.Category)

	results, err := svc.Retrieve(context.Background(), 1, "tampilkan semua data kategori ai", analysis, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, SourceSearchContext, results[0].SourceType)
	assert.Equal(t, SourceStructuredRow, results[1].SourceType)
	assert.Equal(t, 1.0, results[1].Score)
}

func TestRetrieveStructuredCount(t *testing.T) {
	store := &fakeStore{structuredN: 42}
	svc := NewService(store, nil, nil)
	analysis := analyzer.Analyze("how many records in category:ai")

	require.True(t, analysis.Structured.WantsCount)

	results, err := svc.Retrieve(context.Background(), 1, "how many records in category:ai", analysis, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, SourceSearchContext, results[0].SourceType)
	assert.Equal(t, SourceStructuredCount, results[1].SourceType)
	assert.Contains(t, results[1].Content, "42")
}

func TestRetrieveStructuredFallsBackToText(t *testing.T) {
	store := &fakeStore{
		keywordHits: []sqlite.ChunkHit{
			{Chunk: models.Chunk{ID: "c1", Content: "fallback chunk"}, Score: 0.8},
		},
	}
	svc := NewService(store, nil, nil)
	analysis := analyzer.Analyze("tampilkan semua data kategori quantum")

	require.Equal(t, analyzer.Structured, analysis.QueryType)

	results, err := svc.Retrieve(context.Background(), 1, "tampilkan semua data kategori quantum", analysis, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, SourceChunk, results[0].SourceType)
}

func TestRetrieveTextDeduplicatesVectorAndKeywordHits(t *testing.T) {
	store := &fakeStore{
		chunks: map[string]models.Chunk{
			"c1": {ID: "c1", Content: "shared chunk"},
			"c2": {ID: "c2", Content: "vector only"},
		},
		keywordHits: []sqlite.ChunkHit{
			{Chunk: models.Chunk{ID: "c1", Content: "shared chunk"}, Score: 0.7},
			{Chunk: models.Chunk{ID: "c3", Content: "keyword only"}, Score: 0.6},
		},
	}
	vectors := &fakeVectors{hits: []milvus.SearchHit{
		{ChunkID: "c1", Score: 0.9},
		{ChunkID: "c2", Score: 0.8},
	}}
	svc := NewService(store, vectors, fakeEmbedder{})

	results, err := svc.Retrieve(context.Background(), 1, "anything", analyzer.QueryAnalysis{QueryType: analyzer.TextOnly}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	ids := make(map[string]int)
	for _, r := range results {
		ids[r.SourceID]++
	}
	assert.Equal(t, 1, ids["c1"], "duplicate chunk must appear once")
	assert.Equal(t, 1, ids["c2"])
	assert.Equal(t, 1, ids["c3"])
}

func TestRetrieveNumericAppliesPredicates(t *testing.T) {
	store := &fakeStore{
		tabularRows: []models.TabularRow{
			{ID: 1, Columns: map[string]float64{"score": 90}, Raw: "row 1"},
			{ID: 2, Columns: map[string]float64{"score": 40}, Raw: "row 2"},
			{ID: 3, Columns: map[string]float64{"other": 99}, Raw: "row 3"},
		},
	}
	svc := NewService(store, nil, nil)
	analysis := analyzer.QueryAnalysis{
		QueryType:      analyzer.NumericOnly,
		NumericFilters: []analyzer.NumericFilter{{Column: "score", Operator: ">", Value: 50}},
	}

	results, err := svc.Retrieve(context.Background(), 1, "score above 50", analysis, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].SourceID)
}

func TestRetrieveHybridGivesEachLegAtLeastOneSlot(t *testing.T) {
	store := &fakeStore{
		tabularRows: []models.TabularRow{
			{ID: 1, Columns: map[string]float64{"score": 90}, Raw: "numeric row"},
		},
		keywordHits: []sqlite.ChunkHit{
			{Chunk: models.Chunk{ID: "c1", Content: "text chunk"}, Score: 0.5},
		},
	}
	svc := NewService(store, nil, nil)
	analysis := analyzer.QueryAnalysis{
		QueryType:      analyzer.Hybrid,
		NumericFilters: []analyzer.NumericFilter{{Column: "score", Operator: ">", Value: 50}},
	}

	results, err := svc.Retrieve(context.Background(), 1, "q", analysis, 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, SourceTabularRow, results[0].SourceType)
	assert.Equal(t, SourceChunk, results[1].SourceType)
}
