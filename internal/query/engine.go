package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/querypilot/backend/internal/analyzer"
	"github.com/querypilot/backend/internal/audit"
	"github.com/querypilot/backend/internal/cache"
	"github.com/querypilot/backend/internal/contextwindow"
	"github.com/querypilot/backend/internal/enricher"
	"github.com/querypilot/backend/internal/executor"
	"github.com/querypilot/backend/internal/llm"
	"github.com/querypilot/backend/internal/metrics"
	"github.com/querypilot/backend/internal/plan"
	"github.com/querypilot/backend/internal/ratelimit"
	"github.com/querypilot/backend/internal/retrieval"
	"github.com/querypilot/backend/internal/storage/models"
	"github.com/querypilot/backend/internal/template"
	"github.com/querypilot/backend/pkg/config"
	"github.com/querypilot/backend/pkg/logger"
	"go.uber.org/zap"
)

// TemplateStore serves templates and allowlist profiles to the engine.
type TemplateStore interface {
	ListEnabledTemplates(ctx context.Context) ([]models.QueryTemplate, error)
	GetTemplate(ctx context.Context, id string) (*models.QueryTemplate, error)
	GetAllowlistProfile(ctx context.Context, collectionID int64) (*models.AllowlistProfile, error)
}

// DbQueryRequest is the primary request shape.
type DbQueryRequest struct {
	CollectionID        int64                   `json:"collection_id"`
	Query               string                  `json:"query"`
	Limit               int                     `json:"limit,omitempty"`
	FinalK              int                     `json:"final_k,omitempty"`
	CandidateK          int                     `json:"candidate_k,omitempty"`
	RerankK             int                     `json:"rerank_k,omitempty"`
	ConversationHistory []contextwindow.Message `json:"conversation_history,omitempty"`
}

// DbQueryWithTemplateRequest pins a template by id: matching is bypassed but
// extraction, compilation, and validation still run.
type DbQueryWithTemplateRequest struct {
	CollectionID        int64                   `json:"collection_id"`
	TemplateID          string                  `json:"template_id"`
	Query               string                  `json:"query"`
	Limit               int                     `json:"limit,omitempty"`
	FinalK              int                     `json:"final_k,omitempty"`
	ConversationHistory []contextwindow.Message `json:"conversation_history,omitempty"`
}

type Citation struct {
	TableName string                 `json:"table_name"`
	RowID     string                 `json:"row_id"`
	Columns   map[string]interface{} `json:"columns"`
}

type Telemetry struct {
	QueryID             string   `json:"query_id"`
	RowCount            int      `json:"row_count"`
	LatencyMS           int      `json:"latency_ms"`
	LLMRoute            string   `json:"llm_route"`
	QueryPlan           string   `json:"query_plan,omitempty"`
	ExecutedSQL         string   `json:"executed_sql,omitempty"`
	TemplateID          string   `json:"template_id,omitempty"`
	TemplateName        string   `json:"template_name,omitempty"`
	TemplateMatchCount  int      `json:"template_match_count,omitempty"`
	MatchedTemplates    []string `json:"matched_templates,omitempty"`
	ModifiedWhereClause string   `json:"modified_where_clause,omitempty"`
	EnrichedQuery       string   `json:"enriched_query,omitempty"`
	DetectedIntent      string   `json:"detected_intent,omitempty"`
}

// DbQueryResponse is the pipeline output. Results carries the final
// reranked context items, preamble included, so exact database matches stay
// visible to the caller and not just to the generator.
type DbQueryResponse struct {
	Answer    string                  `json:"answer"`
	Citations []Citation              `json:"citations"`
	Results   []retrieval.QueryResult `json:"results,omitempty"`
	Telemetry Telemetry               `json:"telemetry"`
	Plan      *plan.QueryPlan         `json:"plan,omitempty"`
}

// Routes recorded in telemetry and the audit trail.
const (
	routeTemplateSQL = "template_sql"
	routeRAG         = "rag"
)

// Engine orchestrates the full pipeline: rate limit, analyze, enrich, match,
// compile, validate, execute, retrieve, rerank, synthesize, audit.
type Engine struct {
	cfg         *config.Config
	enricher    *enricher.Enricher
	validator   *plan.Validator
	retriever   *retrieval.Service
	reranker    *retrieval.Reranker
	contexts    *contextwindow.Manager
	limiter     *ratelimit.Limiter
	auditor     *audit.Service
	executor    executor.SelectExecutor
	generator   llm.Generator
	templates   TemplateStore
	resultCache *cache.ResultCache
}

type EngineDeps struct {
	Config      *config.Config
	Enricher    *enricher.Enricher
	Validator   *plan.Validator
	Retriever   *retrieval.Service
	Reranker    *retrieval.Reranker
	Contexts    *contextwindow.Manager
	Limiter     *ratelimit.Limiter
	Auditor     *audit.Service
	Executor    executor.SelectExecutor
	Generator   llm.Generator
	Templates   TemplateStore
	ResultCache *cache.ResultCache
}

func NewEngine(deps EngineDeps) *Engine {
	return &Engine{
		cfg:         deps.Config,
		enricher:    deps.Enricher,
		validator:   deps.Validator,
		retriever:   deps.Retriever,
		reranker:    deps.Reranker,
		contexts:    deps.Contexts,
		limiter:     deps.Limiter,
		auditor:     deps.Auditor,
		executor:    deps.Executor,
		generator:   deps.Generator,
		templates:   deps.Templates,
		resultCache: deps.ResultCache,
	}
}

// ProcessQuery runs the full pipeline for a free-form question.
func (e *Engine) ProcessQuery(ctx context.Context, req DbQueryRequest) (*DbQueryResponse, error) {
	started := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, NewValidationError("query must not be empty")
	}
	if req.CollectionID <= 0 {
		return nil, NewValidationError("collection_id must be positive")
	}

	if err := e.checkRateLimit(ctx, req.CollectionID); err != nil {
		return nil, err
	}

	analysis := analyzer.Analyze(req.Query)

	profile, err := e.templates.GetAllowlistProfile(ctx, req.CollectionID)
	if err != nil {
		logger.Warn("Failed to load allowlist profile", zap.Error(err))
	}

	var schema map[string][]string
	if profile != nil {
		schema = profile.Tables
	}
	enriched := e.enricher.Enrich(ctx, req.Query, schema)
	matchQuery := enriched.RewrittenQuery
	if matchQuery == "" {
		matchQuery = req.Query
	}

	telemetry := Telemetry{
		QueryID:        uuid.NewString(),
		LLMRoute:       routeRAG,
		DetectedIntent: string(analysis.QueryType),
	}
	if enriched.Confidence > 0 {
		telemetry.EnrichedQuery = enriched.RewrittenQuery
		if enriched.DetectedIntent != "" {
			telemetry.DetectedIntent = enriched.DetectedIntent
		}
	}

	var (
		citations   []Citation
		queryPlan   *plan.QueryPlan
		sqlRows     *executor.ResultSet
		boundParams map[string]string
	)

	best, matchCount, matchedNames := e.matchTemplates(ctx, matchQuery, enriched.DetectedTables, profile)
	telemetry.TemplateMatchCount = matchCount
	telemetry.MatchedTemplates = matchedNames
	metrics.TemplateMatches.Observe(float64(matchCount))

	if best != nil && profile != nil {
		result, cerr := e.executeTemplate(ctx, req.CollectionID, matchQuery, best.Template, profile, e.effectiveLimit(req.Limit, profile))
		if cerr != nil {
			e.limiter.RecordBlock(ctx, req.CollectionID)
			metrics.QueryTotal.WithLabelValues(routeTemplateSQL, "error").Inc()
			return nil, cerr
		}
		telemetry.LLMRoute = routeTemplateSQL
		telemetry.TemplateID = best.Template.ID
		telemetry.TemplateName = best.Template.Name
		telemetry.ExecutedSQL = result.executedSQL
		telemetry.ModifiedWhereClause = result.modifiedWhere
		queryPlan = result.plan
		sqlRows = result.rows
		citations = rowsToCitations(result.table, result.rows)
		boundParams = result.params
	}

	results := e.retrieveWithCache(ctx, req.CollectionID, matchQuery, analysis, e.candidateK(req))
	results = e.reranker.Rerank(matchQuery, results)
	results = e.reranker.OptimizeContext(results, e.finalK(req))
	metrics.RetrievalResultsCount.WithLabelValues(string(analysis.QueryType)).Observe(float64(len(results)))
	citations = append(citations, resultsToCitations(results)...)

	answer, sentChars, err := e.synthesize(ctx, req.Query, req.ConversationHistory, results, sqlRows)
	if err != nil {
		e.limiter.RecordBlock(ctx, req.CollectionID)
		metrics.QueryTotal.WithLabelValues(telemetry.LLMRoute, "error").Inc()
		return nil, err
	}

	telemetry.RowCount = rowCount(sqlRows, results)
	telemetry.LatencyMS = int(time.Since(started).Milliseconds())
	if queryPlan != nil {
		telemetry.QueryPlan = queryPlan.JSON()
	}

	e.limiter.RecordQuery(ctx, req.CollectionID)
	e.writeAudit(ctx, req.CollectionID, req.Query, telemetry, sentChars, boundParams)

	metrics.QueryTotal.WithLabelValues(telemetry.LLMRoute, "ok").Inc()
	metrics.QueryDuration.WithLabelValues(telemetry.LLMRoute, string(analysis.QueryType)).Observe(time.Since(started).Seconds())

	return &DbQueryResponse{
		Answer:    answer,
		Citations: citations,
		Results:   results,
		Telemetry: telemetry,
		Plan:      queryPlan,
	}, nil
}

// ProcessWithTemplate executes a user-pinned template. Matching is skipped;
// extraction, compilation, and validation still apply.
func (e *Engine) ProcessWithTemplate(ctx context.Context, req DbQueryWithTemplateRequest) (*DbQueryResponse, error) {
	started := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, NewValidationError("query must not be empty")
	}
	if req.TemplateID == "" {
		return nil, NewValidationError("template_id is required")
	}

	if err := e.checkRateLimit(ctx, req.CollectionID); err != nil {
		return nil, err
	}

	tpl, err := e.templates.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	if tpl == nil || !tpl.IsEnabled {
		return nil, NewValidationError(fmt.Sprintf("template %q not found or disabled", req.TemplateID))
	}

	profile, err := e.templates.GetAllowlistProfile(ctx, req.CollectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load allowlist profile: %w", err)
	}
	if profile == nil {
		return nil, NewValidationError("no allowlist profile configured for collection")
	}

	result, cerr := e.executeTemplate(ctx, req.CollectionID, req.Query, *tpl, profile, e.effectiveLimit(req.Limit, profile))
	if cerr != nil {
		e.limiter.RecordBlock(ctx, req.CollectionID)
		metrics.QueryTotal.WithLabelValues(routeTemplateSQL, "error").Inc()
		return nil, cerr
	}

	answer, sentChars, err := e.synthesize(ctx, req.Query, req.ConversationHistory, nil, result.rows)
	if err != nil {
		e.limiter.RecordBlock(ctx, req.CollectionID)
		return nil, err
	}

	telemetry := Telemetry{
		QueryID:             uuid.NewString(),
		RowCount:            len(result.rows.Rows),
		LatencyMS:           int(time.Since(started).Milliseconds()),
		LLMRoute:            routeTemplateSQL,
		ExecutedSQL:         result.executedSQL,
		TemplateID:          tpl.ID,
		TemplateName:        tpl.Name,
		ModifiedWhereClause: result.modifiedWhere,
	}
	if result.plan != nil {
		telemetry.QueryPlan = result.plan.JSON()
	}

	e.limiter.RecordQuery(ctx, req.CollectionID)
	e.writeAudit(ctx, req.CollectionID, req.Query, telemetry, sentChars, result.params)
	metrics.QueryTotal.WithLabelValues(routeTemplateSQL, "ok").Inc()

	return &DbQueryResponse{
		Answer:    answer,
		Citations: rowsToCitations(result.table, result.rows),
		Telemetry: telemetry,
		Plan:      result.plan,
	}, nil
}

func (e *Engine) checkRateLimit(ctx context.Context, collectionID int64) error {
	result := e.limiter.CheckRateLimit(ctx, collectionID)
	switch result.Status {
	case ratelimit.StatusExceeded:
		metrics.RateLimitRejections.WithLabelValues(string(result.Status)).Inc()
		return &RateLimitedError{RetryAfterSeconds: result.RetryAfterSeconds}
	case ratelimit.StatusCooldownActive:
		metrics.RateLimitRejections.WithLabelValues(string(result.Status)).Inc()
		return &CooldownActiveError{RetryAfterSeconds: result.RetryAfterSeconds}
	}
	return nil
}

// matchTemplates returns the best match above the score threshold, if any.
func (e *Engine) matchTemplates(ctx context.Context, query string, detectedTables []string, profile *models.AllowlistProfile) (*template.Match, int, []string) {
	library, err := e.templates.ListEnabledTemplates(ctx)
	if err != nil {
		logger.Warn("Failed to load template library", zap.Error(err))
		return nil, 0, nil
	}

	if len(detectedTables) == 0 && profile != nil {
		known := make([]string, 0, len(profile.Tables))
		for table := range profile.Tables {
			known = append(known, table)
		}
		detectedTables = analyzer.DetectTables(query, known)
	}

	matcher := template.NewMatcher(library)
	matches := matcher.FindMatches(query, detectedTables, 5)

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Template.Name)
	}

	if len(matches) == 0 || matches[0].Score < e.cfg.Query.MatchThreshold {
		return nil, len(matches), names
	}
	return &matches[0], len(matches), names
}

type templateResult struct {
	plan          *plan.QueryPlan
	rows          *executor.ResultSet
	executedSQL   string
	modifiedWhere string
	table         string
	params        map[string]string
}

// executeTemplate runs extraction, compilation, validation, and execution.
// Compilation and execution failures are hard errors; the caller records a
// block.
func (e *Engine) executeTemplate(ctx context.Context, collectionID int64, query string, tpl models.QueryTemplate, profile *models.AllowlistProfile, limit int) (*templateResult, error) {
	extraction := e.extractParams(ctx, query, tpl, profile)

	table := extraction.DetectedTable
	if table == "" {
		table = profile.DefaultTable
	}

	compiled, _, err := template.Compile(tpl, extraction, profile.AllowedColumns(table), profile.DefaultTable, limit)
	if err != nil {
		metrics.TemplateCompileFailures.Inc()
		return nil, NewValidationError(err.Error())
	}

	validation := e.validator.ValidateSQL(compiled, profile)
	if !validation.IsValid {
		metrics.ValidationRejections.WithLabelValues("sql").Add(float64(len(validation.Errors)))
		return nil, NewValidationError(validation.Errors...)
	}
	executedSQL := validation.SQL

	rows, err := e.executor.ExecuteSelect(ctx, executedSQL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to execute compiled query: %w", err)
	}
	metrics.ExecutedRows.Observe(float64(len(rows.Rows)))

	effectiveLimit := limit
	if validation.AdjustedLimit > 0 {
		effectiveLimit = validation.AdjustedLimit
	}
	queryPlan := &plan.QueryPlan{
		Mode:   planMode(tpl.PatternType),
		Table:  table,
		Select: profile.AllowedColumns(table),
		Limit:  effectiveLimit,
	}

	logger.Info("Template query executed",
		zap.Int64("collection_id", collectionID),
		zap.String("template_id", tpl.ID),
		zap.Int("rows", len(rows.Rows)),
	)

	return &templateResult{
		plan:          queryPlan,
		rows:          rows,
		executedSQL:   executedSQL,
		modifiedWhere: extraction.ModifiedWhereClause,
		table:         table,
		params:        extraction.ExtractedParams,
	}, nil
}

const extractionSystemPrompt = `You extract SQL template parameters from a natural-language question.
Given the question and the template below, return ONLY a JSON object:
{"selected_template_id": "...", "extracted_params": {"name": "value"}, "modified_where_clause": "", "detected_table": "", "confidence": 0.0, "reasoning": "..."}
Leave fields empty when the question does not provide them. Never invent values.`

// extractParams asks the generator to fill template placeholders. Failures
// degrade to an empty extraction so compilation can still run on defaults.
func (e *Engine) extractParams(ctx context.Context, query string, tpl models.QueryTemplate, profile *models.AllowlistProfile) template.ExtractionResult {
	extraction := template.ExtractionResult{SelectedTemplateID: tpl.ID}
	if e.generator == nil {
		return extraction
	}

	var tables []string
	for t := range profile.Tables {
		tables = append(tables, t)
	}

	userPrompt := fmt.Sprintf(
		"Question: %s\nTemplate id: %s\nTemplate SQL: %s\nExample: %s\nAvailable tables: %s",
		query, tpl.ID, tpl.QueryPattern, tpl.ExampleQuestion, strings.Join(tables, ", "),
	)

	raw, err := e.generator.Generate(ctx, extractionSystemPrompt, userPrompt)
	if err != nil {
		logger.Warn("Parameter extraction failed, compiling with defaults", zap.Error(err))
		return extraction
	}

	var parsed template.ExtractionResult
	if err := json.Unmarshal([]byte(enricher.CleanJSONOutput(raw)), &parsed); err != nil {
		logger.Warn("Parameter extraction returned unparseable output", zap.Error(err))
		return extraction
	}
	if parsed.SelectedTemplateID == "" {
		parsed.SelectedTemplateID = tpl.ID
	}
	return parsed
}

func (e *Engine) retrieveWithCache(ctx context.Context, collectionID int64, query string, analysis analyzer.QueryAnalysis, topK int) []retrieval.QueryResult {
	if e.resultCache != nil {
		if cached, ok := e.resultCache.Get(collectionID, query, topK); ok {
			metrics.CacheHits.WithLabelValues("result").Inc()
			return cached
		}
		metrics.CacheMisses.WithLabelValues("result").Inc()
	}

	results, err := e.retriever.Retrieve(ctx, collectionID, query, analysis, topK)
	if err != nil {
		logger.Warn("Retrieval failed, answering from SQL results only", zap.Error(err))
		return nil
	}

	if e.resultCache != nil && len(results) > 0 {
		e.resultCache.Put(collectionID, query, topK, results)
	}
	return results
}

const answerSystemPrompt = `You answer questions using ONLY the provided context.
Context items marked as exact database matches are authoritative; do not second-guess them.
If the context does not contain the answer, say so. Answer in the user's language.`

// synthesize builds the final answer from retrieved context, SQL rows, and
// compacted conversation history.
func (e *Engine) synthesize(ctx context.Context, query string, history []contextwindow.Message, results []retrieval.QueryResult, rows *executor.ResultSet) (string, int, error) {
	var contextBlock strings.Builder
	for _, r := range results {
		contextBlock.WriteString(fmt.Sprintf("[%s] %s\n\n", r.SourceType, r.Content))
	}
	if rows != nil && len(rows.Rows) > 0 {
		contextBlock.WriteString("Query results:\n")
		contextBlock.WriteString(formatRows(rows))
	}

	ragTokens := contextwindow.EstimateTokens(contextBlock.String())
	build, err := e.contexts.BuildContext(ctx, history, ragTokens, e.cfg.LLM.ContextWindow)
	if err != nil {
		return "", 0, err
	}
	if build.WasCompacted {
		metrics.ContextCompactions.WithLabelValues(string(build.Strategy)).Inc()
	}

	var prompt strings.Builder
	for _, msg := range build.Messages {
		prompt.WriteString(msg.Role + ": " + msg.Content + "\n")
	}
	prompt.WriteString("\nContext:\n" + contextBlock.String())
	prompt.WriteString("\nQuestion: " + query)

	sentChars := prompt.Len()

	if e.generator == nil {
		return fallbackAnswer(results, rows), sentChars, nil
	}

	answer, err := e.generator.Generate(ctx, answerSystemPrompt, prompt.String())
	if err != nil {
		return "", sentChars, fmt.Errorf("failed to generate answer: %w", err)
	}
	return strings.TrimSpace(answer), sentChars, nil
}

func (e *Engine) writeAudit(ctx context.Context, collectionID int64, query string, t Telemetry, sentChars int, params map[string]string) {
	e.auditor.LogQuery(ctx, audit.Entry{
		QueryID:            t.QueryID,
		CollectionID:       collectionID,
		Query:              query,
		Intent:             t.DetectedIntent,
		PlanJSON:           t.QueryPlan,
		CompiledSQL:        t.ExecutedSQL,
		Params:             auditParams(params, t.ModifiedWhereClause),
		RowCount:           t.RowCount,
		LatencyMS:          t.LatencyMS,
		LLMRoute:           t.LLMRoute,
		SentContextChars:   sentChars,
		TemplateID:         t.TemplateID,
		TemplateName:       t.TemplateName,
		TemplateMatchCount: t.TemplateMatchCount,
	})
}

// auditParams assembles params_json input: the bound template parameters
// plus the spliced WHERE clause when one was applied. Redaction happens in
// the audit service.
func auditParams(params map[string]string, modifiedWhere string) map[string]interface{} {
	out := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	if modifiedWhere != "" {
		out["modified_where_clause"] = modifiedWhere
	}
	return out
}

func (e *Engine) effectiveLimit(requested int, profile *models.AllowlistProfile) int {
	limit := requested
	if limit <= 0 {
		limit = e.cfg.Query.DefaultLimit
	}
	ceiling := e.cfg.Query.MaxLimit
	if profile != nil && profile.MaxLimit > 0 && profile.MaxLimit < ceiling {
		ceiling = profile.MaxLimit
	}
	if ceiling > 0 && limit > ceiling {
		limit = ceiling
	}
	return limit
}

func (e *Engine) candidateK(req DbQueryRequest) int {
	if req.CandidateK > 0 {
		return req.CandidateK
	}
	if e.cfg.Query.CandidateK > 0 {
		return e.cfg.Query.CandidateK
	}
	return e.cfg.Query.DefaultTopK
}

func (e *Engine) finalK(req DbQueryRequest) int {
	if req.FinalK > 0 {
		return req.FinalK
	}
	return e.cfg.Query.DefaultTopK
}

func planMode(patternType string) string {
	switch patternType {
	case "aggregate":
		return plan.ModeAggregate
	default:
		return plan.ModeSelect
	}
}

// resultsToCitations cites exact database matches from the retrieval leg.
// Similarity-ranked chunks are context, not citations.
func resultsToCitations(results []retrieval.QueryResult) []Citation {
	var citations []Citation
	for _, r := range results {
		if r.SourceType != retrieval.SourceStructuredRow {
			continue
		}
		citations = append(citations, Citation{
			TableName: "structured_rows",
			RowID:     r.SourceID,
			Columns:   r.Columns,
		})
	}
	return citations
}

func rowsToCitations(table string, rows *executor.ResultSet) []Citation {
	if rows == nil {
		return nil
	}
	citations := make([]Citation, 0, len(rows.Rows))
	for i, row := range rows.Rows {
		rowID := fmt.Sprintf("%d", i)
		if id, ok := row["id"]; ok {
			rowID = fmt.Sprintf("%v", id)
		}
		citations = append(citations, Citation{TableName: table, RowID: rowID, Columns: row})
	}
	return citations
}

func rowCount(rows *executor.ResultSet, results []retrieval.QueryResult) int {
	if rows != nil {
		return len(rows.Rows)
	}
	return len(results)
}

func formatRows(rows *executor.ResultSet) string {
	var b strings.Builder
	for _, row := range rows.Rows {
		parts := make([]string, 0, len(rows.Columns))
		for _, col := range rows.Columns {
			parts = append(parts, fmt.Sprintf("%s=%v", col, row[col]))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	return b.String()
}

func fallbackAnswer(results []retrieval.QueryResult, rows *executor.ResultSet) string {
	if rows != nil && len(rows.Rows) > 0 {
		return fmt.Sprintf("Found %d matching rows.\n%s", len(rows.Rows), formatRows(rows))
	}
	if len(results) > 0 {
		var b strings.Builder
		b.WriteString("Relevant context:\n")
		for _, r := range results {
			b.WriteString("- " + r.Content + "\n")
		}
		return b.String()
	}
	return "No matching data found."
}
