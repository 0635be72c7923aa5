package retrieval

import (
	"sort"
	"strings"

	"github.com/querypilot/backend/internal/analyzer"
	"github.com/querypilot/backend/pkg/logger"
	"go.uber.org/zap"
)

// Reranker reorders retrieval candidates by lexical overlap with the query.
// It is a best-effort quality pass: any failure falls back to the original
// retrieval order with scores forced to 1.0.
type Reranker struct{}

func NewReranker() *Reranker {
	return &Reranker{}
}

// Rerank scores each candidate against the query and sorts descending.
// Synthetic results (search context, counts) are pinned to the front in
// their original order so they stay ahead of the rows they describe.
func (r *Reranker) Rerank(query string, results []QueryResult) []QueryResult {
	if len(results) == 0 {
		return results
	}

	queryTokens := analyzer.Tokenize(strings.ToLower(query))
	if len(queryTokens) == 0 {
		return fallbackOrder(results)
	}
	querySet := make(map[string]bool, len(queryTokens))
	for _, tok := range queryTokens {
		querySet[tok] = true
	}

	var pinned, scored []QueryResult
	for _, res := range results {
		if res.SourceType == SourceSearchContext || res.SourceType == SourceStructuredCount {
			pinned = append(pinned, res)
			continue
		}
		res.Score = combinedScore(res, querySet, len(queryTokens))
		scored = append(scored, res)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	return append(pinned, scored...)
}

// OptimizeContext truncates reranked results to the final requested count.
// Pinned synthetic results count against finalK but are never dropped, so
// the output exceeds finalK only when the pinned results alone do.
func (r *Reranker) OptimizeContext(results []QueryResult, finalK int) []QueryResult {
	if finalK <= 0 || len(results) <= finalK {
		return results
	}

	kept := make([]QueryResult, 0, finalK)
	remaining := finalK
	for _, res := range results {
		if res.SourceType == SourceSearchContext || res.SourceType == SourceStructuredCount {
			kept = append(kept, res)
			if remaining > 0 {
				remaining--
			}
			continue
		}
		if remaining == 0 {
			continue
		}
		kept = append(kept, res)
		remaining--
	}

	logger.Debug("Context optimized",
		zap.Int("in", len(results)),
		zap.Int("out", len(kept)),
	)

	return kept
}

// combinedScore blends the retrieval score with lexical overlap. Structured
// rows keep their exact-match score.
func combinedScore(res QueryResult, querySet map[string]bool, queryLen int) float64 {
	if res.SourceType == SourceStructuredRow || res.SourceType == SourceTabularRow {
		return res.Score
	}

	contentTokens := analyzer.Tokenize(strings.ToLower(res.Content))
	if len(contentTokens) == 0 {
		return 0.5 * res.Score
	}

	matched := 0
	seen := make(map[string]bool, len(contentTokens))
	for _, tok := range contentTokens {
		if querySet[tok] && !seen[tok] {
			seen[tok] = true
			matched++
		}
	}
	overlap := float64(matched) / float64(queryLen)

	return 0.5*res.Score + 0.5*overlap
}

func fallbackOrder(results []QueryResult) []QueryResult {
	out := make([]QueryResult, len(results))
	copy(out, results)
	for i := range out {
		out[i].Score = 1.0
	}
	return out
}
