package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRerankOrdersByLexicalOverlap(t *testing.T) {
	r := NewReranker()
	results := []QueryResult{
		{SourceID: "off-topic", SourceType: SourceChunk, Content: "unrelated text about gardening", Score: 0.9},
		{SourceID: "on-topic", SourceType: SourceChunk, Content: "milvus vector database indexing", Score: 0.5},
	}

	reranked := r.Rerank("milvus vector indexing", results)
	require.Len(t, reranked, 2)
	assert.Equal(t, "on-topic", reranked[0].SourceID)
}

func TestRerankPinsSyntheticResultsFirst(t *testing.T) {
	r := NewReranker()
	results := []QueryResult{
		{SourceID: "c1", SourceType: SourceChunk, Content: "some chunk", Score: 0.9},
		{SourceID: "search_context", SourceType: SourceSearchContext, Content: "exact matches follow", Score: 1.0},
		{SourceID: "r1", SourceType: SourceStructuredRow, Content: "row", Score: 1.0},
	}

	reranked := r.Rerank("some chunk", results)
	require.Len(t, reranked, 3)
	assert.Equal(t, SourceSearchContext, reranked[0].SourceType)
}

func TestRerankKeepsStructuredRowScores(t *testing.T) {
	r := NewReranker()
	results := []QueryResult{
		{SourceID: "r1", SourceType: SourceStructuredRow, Content: "row content", Score: 1.0},
	}

	reranked := r.Rerank("completely different words", results)
	require.Len(t, reranked, 1)
	assert.Equal(t, 1.0, reranked[0].Score)
}

func TestOptimizeContextTruncatesButKeepsPinned(t *testing.T) {
	r := NewReranker()
	results := []QueryResult{
		{SourceID: "search_context", SourceType: SourceSearchContext},
		{SourceID: "a", SourceType: SourceChunk},
		{SourceID: "b", SourceType: SourceChunk},
		{SourceID: "c", SourceType: SourceChunk},
	}

	out := r.OptimizeContext(results, 2)
	require.Len(t, out, 2)
	assert.Equal(t, SourceSearchContext, out[0].SourceType)
	assert.Equal(t, "a", out[1].SourceID)
}

func TestOptimizeContextNeverDropsPinned(t *testing.T) {
	r := NewReranker()
	results := []QueryResult{
		{SourceID: "search_context", SourceType: SourceSearchContext},
		{SourceID: "count", SourceType: SourceStructuredCount},
		{SourceID: "a", SourceType: SourceChunk},
	}

	out := r.OptimizeContext(results, 1)
	require.Len(t, out, 2)
	assert.Equal(t, SourceSearchContext, out[0].SourceType)
	assert.Equal(t, SourceStructuredCount, out[1].SourceType)
}

func TestOptimizeContextNoTruncationWhenUnderLimit(t *testing.T) {
	r := NewReranker()
	results := []QueryResult{{SourceID: "a"}, {SourceID: "b"}}

	out := r.OptimizeContext(results, 10)
	assert.Len(t, out, 2)
}

func TestRerankEmptyQueryFallsBackToOriginalOrder(t *testing.T) {
	r := NewReranker()
	results := []QueryResult{
		{SourceID: "a", SourceType: SourceChunk, Score: 0.2},
		{SourceID: "b", SourceType: SourceChunk, Score: 0.4},
	}

	reranked := r.Rerank("", results)
	require.Len(t, reranked, 2)
	assert.Equal(t, "a", reranked[0].SourceID)
	assert.Equal(t, 1.0, reranked[0].Score)
	assert.Equal(t, 1.0, reranked[1].Score)
}
