package enricher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/querypilot/backend/internal/llm"
	"github.com/querypilot/backend/pkg/logger"
)

// EnrichedQuery is the enricher's output. RewrittenQuery equal to
// OriginalQuery with zero Confidence signals passthrough (enrichment skipped
// or failed).
type EnrichedQuery struct {
	OriginalQuery     string   `json:"original_query"`
	RewrittenQuery    string   `json:"rewritten_query"`
	DetectedIntent    string   `json:"detected_intent"`
	DetectedTables    []string `json:"detected_tables"`
	DetectedOperation string   `json:"detected_operation"`
	Confidence        float64  `json:"confidence"`
}

// Enricher rewrites ambiguous queries (implicit joins, aggregates, filters)
// before template matching. It is best-effort: it must never block or fail
// the pipeline, so every failure path returns a passthrough result.
type Enricher struct {
	generator llm.Generator
	timeout   time.Duration
}

func New(generator llm.Generator, timeout time.Duration) *Enricher {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Enricher{generator: generator, timeout: timeout}
}

const enrichSystemPrompt = `You rewrite natural-language database questions to be unambiguous.
Make implicit joins, aggregates and filters explicit. Keep the user's language.
Return ONLY a JSON object:
{"rewritten_query": "...", "detected_intent": "...", "detected_tables": ["..."], "detected_operation": "select|aggregate|join", "confidence": 0.0}`

func (e *Enricher) Enrich(ctx context.Context, query string, schema map[string][]string) EnrichedQuery {
	passthrough := EnrichedQuery{
		OriginalQuery:  query,
		RewrittenQuery: query,
	}

	if e.generator == nil {
		return passthrough
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf("Schema:\n%s\nQuestion: %s", formatSchema(schema), query)

	raw, err := e.generator.Generate(ctx, enrichSystemPrompt, userPrompt)
	if err != nil {
		logger.Warn("Query enrichment failed, passing query through",
			zap.Error(err),
			zap.Duration("timeout", e.timeout),
		)
		return passthrough
	}

	cleaned := CleanJSONOutput(raw)
	if cleaned == "" {
		logger.Warn("Enricher returned no parseable JSON")
		return passthrough
	}

	var enriched EnrichedQuery
	if err := json.Unmarshal([]byte(cleaned), &enriched); err != nil {
		logger.Warn("Failed to parse enricher output", zap.Error(err))
		return passthrough
	}

	enriched.OriginalQuery = query
	if enriched.RewrittenQuery == "" {
		enriched.RewrittenQuery = query
	}
	if enriched.Confidence < 0 {
		enriched.Confidence = 0
	}
	if enriched.Confidence > 1 {
		enriched.Confidence = 1
	}

	logger.Debug("Query enriched",
		zap.String("rewritten", enriched.RewrittenQuery),
		zap.Float64("confidence", enriched.Confidence),
	)

	return enriched
}

func formatSchema(schema map[string][]string) string {
	tables := make([]string, 0, len(schema))
	for table := range schema {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	var b strings.Builder
	for _, table := range tables {
		b.WriteString(fmt.Sprintf("- %s(%s)\n", table, strings.Join(schema[table], ", ")))
	}
	return b.String()
}

// CleanJSONOutput extracts the JSON object from model output that may be
// wrapped in markdown fences or prose.
func CleanJSONOutput(raw string) string {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}
