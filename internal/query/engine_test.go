package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/querypilot/backend/internal/audit"
	"github.com/querypilot/backend/internal/cache"
	"github.com/querypilot/backend/internal/contextwindow"
	"github.com/querypilot/backend/internal/enricher"
	"github.com/querypilot/backend/internal/executor"
	"github.com/querypilot/backend/internal/llm"
	"github.com/querypilot/backend/internal/plan"
	"github.com/querypilot/backend/internal/ratelimit"
	"github.com/querypilot/backend/internal/retrieval"
	"github.com/querypilot/backend/internal/storage/models"
	"github.com/querypilot/backend/internal/storage/sqlite"
	"github.com/querypilot/backend/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTemplateStore struct {
	templates []models.QueryTemplate
	profile   *models.AllowlistProfile
}

func (f *fakeTemplateStore) ListEnabledTemplates(_ context.Context) ([]models.QueryTemplate, error) {
	return f.templates, nil
}

func (f *fakeTemplateStore) GetTemplate(_ context.Context, id string) (*models.QueryTemplate, error) {
	for _, tpl := range f.templates {
		if tpl.ID == id {
			copied := tpl
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeTemplateStore) GetAllowlistProfile(_ context.Context, _ int64) (*models.AllowlistProfile, error) {
	return f.profile, nil
}

type fakeExecutor struct {
	result  *executor.ResultSet
	err     error
	calls   int
	lastSQL string
}

func (f *fakeExecutor) ExecuteSelect(_ context.Context, sql string, _ []interface{}) (*executor.ResultSet, error) {
	f.calls++
	f.lastSQL = sql
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeCorpus struct {
	keywordHits    []sqlite.ChunkHit
	structuredRows []models.StructuredRow
}

func (f *fakeCorpus) KeywordSearch(_ context.Context, _ int64, _ string, _ int) ([]sqlite.ChunkHit, error) {
	return f.keywordHits, nil
}

func (f *fakeCorpus) GetChunksByIDs(_ context.Context, _ []string) ([]models.Chunk, error) {
	return nil, nil
}

func (f *fakeCorpus) SearchStructuredRows(_ context.Context, _ int64, category, _, _ string, _ int) ([]models.StructuredRow, error) {
	var rows []models.StructuredRow
	for _, row := range f.structuredRows {
		if category == "" || row.Category == category {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (f *fakeCorpus) CountStructuredRows(_ context.Context, _ int64, _, _, _ string) (int, error) {
	return 0, nil
}

func (f *fakeCorpus) ListTabularRows(_ context.Context, _ int64) ([]models.TabularRow, error) {
	return nil, nil
}

type captureAuditStore struct {
	records []*models.AuditRecord
}

func (c *captureAuditStore) InsertAuditRecord(_ context.Context, record *models.AuditRecord) error {
	c.records = append(c.records, record)
	return nil
}

func (c *captureAuditStore) GetAuditStats(_ context.Context, _ int64) (*models.AuditStats, error) {
	return &models.AuditStats{}, nil
}

type testHarness struct {
	engine   *Engine
	executor *fakeExecutor
	auditLog *captureAuditStore
	store    *fakeTemplateStore
	corpus   *fakeCorpus
}

// scriptedGenerator returns a fixed completion for every call.
type scriptedGenerator struct {
	output string
}

func (s *scriptedGenerator) Generate(_ context.Context, _, _ string) (string, error) {
	return s.output, nil
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	return newHarnessWith(t, nil)
}

func newHarnessWith(t *testing.T, generator llm.Generator) *testHarness {
	t.Helper()

	store := &fakeTemplateStore{
		templates: []models.QueryTemplate{
			{
				ID:             "select_all_rows",
				Name:           "Select all rows",
				IntentKeywords: []string{"show all"},
				QueryPattern:   "SELECT {columns} FROM {table}",
				PatternType:    "select",
				TablesUsed:     []string{"documents"},
				Priority:       10,
				IsEnabled:      true,
			},
		},
		profile: &models.AllowlistProfile{
			CollectionID: 1,
			Tables:       map[string][]string{"documents": {"id", "title", "category"}},
			DefaultTable: "documents",
			MaxLimit:     100,
		},
	}

	exec := &fakeExecutor{result: &executor.ResultSet{
		Columns: []string{"id", "title"},
		Rows: []map[string]interface{}{
			{"id": int64(7), "title": "Doc"},
		},
	}}

	auditLog := &captureAuditStore{}

	corpus := &fakeCorpus{
		keywordHits: []sqlite.ChunkHit{
			{Chunk: models.Chunk{ID: "c1", Content: "some relevant chunk"}, Score: 0.6},
		},
	}

	cfg := testEngineConfig()
	engine := NewEngine(EngineDeps{
		Config:    cfg,
		Enricher:  enricher.New(nil, time.Second),
		Validator: plan.NewValidator(cfg.Query.MaxLimit),
		Retriever: retrieval.NewService(corpus, nil, nil),
		Reranker:  retrieval.NewReranker(),
		Contexts: contextwindow.NewManager(contextwindow.Config{
			MaxContextTokens:    8192,
			EnableCompaction:    true,
			Strategy:            contextwindow.StrategyAdaptive,
			SummaryThreshold:    6,
			ReservedForResponse: 1024,
			SmallModelThreshold: 8192,
			LargeModelThreshold: 100000,
		}, nil),
		Limiter: ratelimit.NewLimiter(ratelimit.Config{
			MaxQueriesPerHour:        3,
			CooldownAfterBlocks:      2,
			BlockDurationMinutes:     15,
			SessionExpirationMinutes: 60,
		}, nil),
		Auditor:     audit.NewService(auditLog),
		Executor:    exec,
		Generator:   generator,
		Templates:   store,
		ResultCache: cache.NewResultCache(time.Minute, 100),
	})

	return &testHarness{engine: engine, executor: exec, auditLog: auditLog, store: store, corpus: corpus}
}

func testEngineConfig() *config.Config {
	return &config.Config{
		Query: config.QueryConfig{
			DefaultLimit:   20,
			MaxLimit:       500,
			DefaultTopK:    10,
			MatchThreshold: 0.35,
		},
		LLM: config.LLMConfig{ContextWindow: 16384},
	}
}

func TestProcessQueryRejectsEmptyQuery(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.ProcessQuery(context.Background(), DbQueryRequest{CollectionID: 1, Query: "   "})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestProcessQueryTemplateRoute(t *testing.T) {
	h := newHarness(t)

	resp, err := h.engine.ProcessQuery(context.Background(), DbQueryRequest{
		CollectionID: 1,
		Query:        "show all documents",
	})
	require.NoError(t, err)

	assert.Equal(t, "template_sql", resp.Telemetry.LLMRoute)
	assert.Equal(t, "select_all_rows", resp.Telemetry.TemplateID)
	assert.Contains(t, resp.Telemetry.ExecutedSQL, `FROM "documents"`)
	assert.Contains(t, resp.Telemetry.ExecutedSQL, "LIMIT 20")
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "documents", resp.Citations[0].TableName)
	assert.Equal(t, "7", resp.Citations[0].RowID)
	assert.NotEmpty(t, resp.Answer)
	require.NotNil(t, resp.Plan)
	assert.Equal(t, "documents", resp.Plan.Table)
	assert.Equal(t, 1, h.executor.calls)
}

func TestProcessQueryFallsBackToRAGWithoutMatch(t *testing.T) {
	h := newHarness(t)

	resp, err := h.engine.ProcessQuery(context.Background(), DbQueryRequest{
		CollectionID: 1,
		Query:        "ceritakan tentang arsitektur sistem",
	})
	require.NoError(t, err)

	assert.Equal(t, "rag", resp.Telemetry.LLMRoute)
	assert.Empty(t, resp.Citations)
	assert.Zero(t, h.executor.calls)
	assert.Contains(t, resp.Answer, "relevant chunk")
}

func TestProcessQueryCitesStructuredRows(t *testing.T) {
	h := newHarness(t)
	h.corpus.structuredRows = []models.StructuredRow{
		{ID: 9, CollectionID: 1, Category: "ai", Source: "corpus.csv", Title: "AI overview", Content: "konten ai"},
	}

	resp, err := h.engine.ProcessQuery(context.Background(), DbQueryRequest{
		CollectionID: 1,
		Query:        "tampilkan semua data kategori ai",
	})
	require.NoError(t, err)

	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "structured_rows", resp.Citations[0].TableName)
	assert.Equal(t, "9", resp.Citations[0].RowID)
	assert.Equal(t, "ai", resp.Citations[0].Columns["category"])

	var preambles, structured int
	for _, r := range resp.Results {
		switch r.SourceType {
		case retrieval.SourceSearchContext:
			preambles++
		case retrieval.SourceStructuredRow:
			structured++
		}
	}
	assert.Equal(t, 1, preambles)
	assert.Equal(t, 1, structured)
}

func TestProcessQueryWritesAuditRecord(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.ProcessQuery(context.Background(), DbQueryRequest{
		CollectionID: 1,
		Query:        "show all documents",
	})
	require.NoError(t, err)

	require.Len(t, h.auditLog.records, 1)
	record := h.auditLog.records[0]
	assert.Equal(t, int64(1), record.CollectionID)
	assert.Equal(t, "select_all_rows", record.TemplateID)
	assert.NotEmpty(t, record.UserQueryHash)
	assert.NotContains(t, record.UserQueryHash, "documents")
	assert.NotEmpty(t, record.QueryID)
	assert.False(t, record.CreatedAt.IsZero())
}

func TestProcessQueryRateLimitsAfterQuota(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := DbQueryRequest{CollectionID: 1, Query: "show all documents"}

	for i := 0; i < 3; i++ {
		_, err := h.engine.ProcessQuery(ctx, req)
		require.NoError(t, err)
	}

	_, err := h.engine.ProcessQuery(ctx, req)
	require.Error(t, err)
	var rateErr *RateLimitedError
	require.ErrorAs(t, err, &rateErr)
	assert.Greater(t, rateErr.RetryAfterSeconds, 0)
}

func TestProcessQueryExecutorFailureEscalatesToCooldown(t *testing.T) {
	h := newHarness(t)
	h.executor.err = errors.New("connection refused")
	ctx := context.Background()
	req := DbQueryRequest{CollectionID: 1, Query: "show all documents"}

	_, err := h.engine.ProcessQuery(ctx, req)
	require.Error(t, err)
	_, err = h.engine.ProcessQuery(ctx, req)
	require.Error(t, err)

	// Two blocks reach the cooldown threshold.
	_, err = h.engine.ProcessQuery(ctx, req)
	var cooldownErr *CooldownActiveError
	require.ErrorAs(t, err, &cooldownErr)
}

func TestProcessWithTemplatePinsTemplate(t *testing.T) {
	h := newHarness(t)

	resp, err := h.engine.ProcessWithTemplate(context.Background(), DbQueryWithTemplateRequest{
		CollectionID: 1,
		TemplateID:   "select_all_rows",
		Query:        "anything at all",
	})
	require.NoError(t, err)

	assert.Equal(t, "template_sql", resp.Telemetry.LLMRoute)
	assert.Equal(t, "select_all_rows", resp.Telemetry.TemplateID)
	assert.Equal(t, 1, h.executor.calls)
}

func TestProcessWithTemplateUnknownID(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.ProcessWithTemplate(context.Background(), DbQueryWithTemplateRequest{
		CollectionID: 1,
		TemplateID:   "missing",
		Query:        "q",
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestProcessWithTemplateAuditsExtractedParams(t *testing.T) {
	extraction := `{"selected_template_id":"select_filtered","extracted_params":{"title":"annual report"},"detected_table":"documents","confidence":0.9}`
	h := newHarnessWith(t, &scriptedGenerator{output: extraction})
	h.store.templates = append(h.store.templates, models.QueryTemplate{
		ID:           "select_filtered",
		Name:         "Select filtered",
		QueryPattern: "SELECT {columns} FROM {table} WHERE title = {title}",
		PatternType:  "select",
		IsEnabled:    true,
	})

	_, err := h.engine.ProcessWithTemplate(context.Background(), DbQueryWithTemplateRequest{
		CollectionID: 1,
		TemplateID:   "select_filtered",
		Query:        "show documents titled annual report",
	})
	require.NoError(t, err)

	require.Len(t, h.auditLog.records, 1)
	assert.Contains(t, h.auditLog.records[0].ParamsJSON, `"title":"annual report"`)
	assert.Contains(t, h.executor.lastSQL, "'annual report'")
}
