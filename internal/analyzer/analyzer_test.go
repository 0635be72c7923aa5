package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeExplicitCategoryFilterIsStructured(t *testing.T) {
	analysis := Analyze("show documents with category:finance")

	assert.Equal(t, Structured, analysis.QueryType)
	assert.Equal(t, "finance", analysis.Structured.Category)
	assert.True(t, analysis.Structured.WantsAggregate)
}

func TestAnalyzeExplicitSourceFilterIsStructured(t *testing.T) {
	analysis := Analyze("list rows source:report.csv")

	assert.Equal(t, Structured, analysis.QueryType)
	assert.Equal(t, "report.csv", analysis.Structured.Source)
}

func TestAnalyzeIndonesianCategoryPhrase(t *testing.T) {
	analysis := Analyze("tampilkan semua data kategori ai")

	assert.Equal(t, Structured, analysis.QueryType)
	assert.Equal(t, "ai", analysis.Structured.Category)
}

func TestAnalyzeBareAiTokenImpliesCategory(t *testing.T) {
	analysis := Analyze("ai")

	assert.Equal(t, Structured, analysis.QueryType)
	assert.Equal(t, "ai", analysis.Structured.Category)
}

func TestAnalyzeAiSubstringDoesNotTrigger(t *testing.T) {
	analysis := Analyze("explain the email chain")

	assert.Empty(t, analysis.Structured.Category)
	assert.Equal(t, TextOnly, analysis.QueryType)
}

func TestAnalyzeCountIntent(t *testing.T) {
	analysis := Analyze("how many reports are there")

	assert.Equal(t, Structured, analysis.QueryType)
	assert.True(t, analysis.Structured.WantsCount)
}

func TestAnalyzeTrailingRowLimit(t *testing.T) {
	analysis := Analyze("tampilkan semua data kategori ai 25 baris")

	assert.Equal(t, 25, analysis.Structured.RequestedLimit)
}

func TestAnalyzeQuestionWordNeverBecomesFilterValue(t *testing.T) {
	analysis := Analyze("kategori apa saja yang tersedia")

	assert.Empty(t, analysis.Structured.Category)
}

func TestAnalyzeNumericOnly(t *testing.T) {
	analysis := Analyze("rows score > 80")

	assert.Equal(t, NumericOnly, analysis.QueryType)
	require.Len(t, analysis.NumericFilters, 1)
	assert.Equal(t, "score", analysis.NumericFilters[0].Column)
	assert.Equal(t, ">", analysis.NumericFilters[0].Operator)
	assert.Equal(t, 80.0, analysis.NumericFilters[0].Value)
}

func TestAnalyzeNumericPhraseOperator(t *testing.T) {
	analysis := Analyze("entries with budget more than 5000")

	require.NotEmpty(t, analysis.NumericFilters)
	filter := analysis.NumericFilters[0]
	assert.Equal(t, ">", filter.Operator)
	assert.Equal(t, 5000.0, filter.Value)
	assert.Equal(t, "budget", filter.Column)
}

func TestAnalyzeHybridMixesNumericAndTextual(t *testing.T) {
	analysis := Analyze("why do rows have score > 80")

	assert.Equal(t, Hybrid, analysis.QueryType)
}

func TestAnalyzeDefaultsToTextOnly(t *testing.T) {
	analysis := Analyze("arsitektur sistem terdistribusi")

	assert.Equal(t, TextOnly, analysis.QueryType)
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	first := Analyze("Tampilkan Semua Data Kategori AI")
	second := Analyze("tampilkan semua data kategori ai")

	assert.Equal(t, first, second)
}

func TestDetectTablesMatchesKnownNames(t *testing.T) {
	tables := DetectTables("join users with orders", []string{"users", "orders", "payments"})

	assert.ElementsMatch(t, []string{"users", "orders"}, tables)
}

func TestDetectTablesRejectsEmailLikeTokens(t *testing.T) {
	tables := DetectTables("send to admin@example.com", []string{"admin@example.com"})

	assert.Empty(t, tables)
}

func TestDetectTablesRejectsNumericHeavyTokens(t *testing.T) {
	tables := DetectTables("reference 1234567890", []string{"1234567890"})

	assert.Empty(t, tables)
}

func TestTokenizeFallsBackOnPlainText(t *testing.T) {
	tokens := Tokenize("show all documents")

	assert.Contains(t, tokens, "show")
	assert.Contains(t, tokens, "documents")
}
