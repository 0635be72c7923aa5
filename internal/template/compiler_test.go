package template

import (
	"testing"

	"github.com/querypilot/backend/internal/storage/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseTemplate(pattern string) models.QueryTemplate {
	return models.QueryTemplate{
		ID:           "t1",
		Name:         "test template",
		QueryPattern: pattern,
		IsEnabled:    true,
	}
}

func TestCompileSubstitutesTableAndColumns(t *testing.T) {
	sql, desc, err := Compile(
		baseTemplate("SELECT {columns} FROM {table}"),
		ExtractionResult{DetectedTable: "documents"},
		[]string{"id", "title"},
		"fallback",
		20,
	)

	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "title" FROM "documents" LIMIT 20`, sql)
	assert.Contains(t, desc, "documents")
}

func TestCompileFallsBackToDefaultTable(t *testing.T) {
	sql, _, err := Compile(
		baseTemplate("SELECT {columns} FROM {table}"),
		ExtractionResult{},
		nil,
		"documents",
		10,
	)

	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "documents" LIMIT 10`, sql)
}

func TestCompileSplicesWhereBeforeTrailingClauses(t *testing.T) {
	sql, _, err := Compile(
		baseTemplate("SELECT {columns} FROM {table} ORDER BY created_at DESC"),
		ExtractionResult{
			DetectedTable:       "documents",
			ModifiedWhereClause: "category = 'ai'",
		},
		nil,
		"",
		10,
	)

	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "documents" WHERE category = 'ai' ORDER BY created_at DESC LIMIT 10`, sql)
}

func TestCompileJoinsClauseWithExistingWhere(t *testing.T) {
	sql, _, err := Compile(
		baseTemplate("SELECT * FROM {table} WHERE deleted = 0"),
		ExtractionResult{
			DetectedTable:       "documents",
			ModifiedWhereClause: "WHERE category = 'ai'",
		},
		nil,
		"",
		0,
	)

	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "documents" WHERE deleted = 0 AND (category = 'ai')`, sql)
}

func TestCompileNeverSplicesIntoCTE(t *testing.T) {
	pattern := "WITH counts AS (SELECT category, COUNT(*) AS total FROM {table} GROUP BY category) SELECT * FROM counts"
	sql, _, err := Compile(
		baseTemplate(pattern),
		ExtractionResult{
			DetectedTable:       "documents",
			ModifiedWhereClause: "category = 'ai'",
		},
		nil,
		"",
		0,
	)

	require.NoError(t, err)
	assert.NotContains(t, sql, "'ai'")
}

func TestCompileEscapesStringParams(t *testing.T) {
	sql, _, err := Compile(
		baseTemplate("SELECT * FROM {table} WHERE title = {title}"),
		ExtractionResult{
			DetectedTable:   "documents",
			ExtractedParams: map[string]string{"title": "o'reilly"},
		},
		nil,
		"",
		0,
	)

	require.NoError(t, err)
	assert.Contains(t, sql, "'o''reilly'")
}

func TestCompileQuotesAllowlistedOrderColumn(t *testing.T) {
	sql, _, err := Compile(
		baseTemplate("SELECT {columns} FROM {table} ORDER BY {order_by_column} {sort_direction}"),
		ExtractionResult{
			DetectedTable: "documents",
			ExtractedParams: map[string]string{
				"order_by_column": "created_at",
				"sort_direction":  "descending",
			},
		},
		[]string{"id", "created_at"},
		"",
		0,
	)

	require.NoError(t, err)
	assert.Contains(t, sql, `ORDER BY "created_at" ASC`)
}

func TestCompileRejectsNonAllowlistedOrderColumn(t *testing.T) {
	for _, column := range []string{"password_hash", "created_at; DROP TABLE x"} {
		_, _, err := Compile(
			baseTemplate("SELECT {columns} FROM {table} ORDER BY {order_by_column} {sort_direction}"),
			ExtractionResult{
				DetectedTable: "documents",
				ExtractedParams: map[string]string{
					"order_by_column": column,
					"sort_direction":  "DESC",
				},
			},
			[]string{"id", "title"},
			"",
			0,
		)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "not allowlisted")
	}
}

func TestCompileInlinesNumericLiteralsUnquoted(t *testing.T) {
	sql, _, err := Compile(
		baseTemplate("SELECT * FROM {table} WHERE score > {min_score}"),
		ExtractionResult{
			DetectedTable:   "documents",
			ExtractedParams: map[string]string{"min_score": "0.75"},
		},
		nil,
		"",
		0,
	)

	require.NoError(t, err)
	assert.Contains(t, sql, "score > 0.75")
}

func TestCompileRejectsUnresolvedPlaceholders(t *testing.T) {
	_, _, err := Compile(
		baseTemplate("SELECT * FROM {table} WHERE {column} = {value}"),
		ExtractionResult{DetectedTable: "documents"},
		nil,
		"",
		0,
	)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved placeholders")
}

func TestCompileDoesNotDoubleLimit(t *testing.T) {
	sql, _, err := Compile(
		baseTemplate("SELECT * FROM {table} LIMIT 5"),
		ExtractionResult{DetectedTable: "documents"},
		nil,
		"",
		20,
	)

	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "documents" LIMIT 5`, sql)
}

func TestCompileErrorsWithoutAnyTable(t *testing.T) {
	_, _, err := Compile(baseTemplate("SELECT * FROM {table}"), ExtractionResult{}, nil, "", 0)
	require.Error(t, err)
}
