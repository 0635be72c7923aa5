package sqlite

import (
	"testing"

	"github.com/querypilot/backend/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredRowsPlanRendersParameterized(t *testing.T) {
	p := structuredRowsPlan(plan.ModeSelect, 1, "ai", "", "vector", 10)
	query, args, err := renderStructuredPlan(p)

	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "id", "collection_id", "category", "source", "title", "content", "created_at"`+
			` FROM "structured_rows" WHERE "collection_id" = $1 AND "category" = $2 AND "content" LIKE $3`+
			` ORDER BY "id" ASC LIMIT 10`,
		query)
	assert.Equal(t, []interface{}{int64(1), "ai", "%vector%"}, args)
}

func TestStructuredRowsPlanCountMode(t *testing.T) {
	p := structuredRowsPlan(plan.ModeCount, 3, "", "report.csv", "", 0)
	query, args, err := renderStructuredPlan(p)

	require.NoError(t, err)
	assert.Contains(t, query, "SELECT COUNT(*)")
	assert.NotContains(t, query, "LIMIT")
	assert.Equal(t, []interface{}{int64(3), "report.csv"}, args)
}

func TestRenderStructuredPlanClampsLimit(t *testing.T) {
	p := structuredRowsPlan(plan.ModeSelect, 1, "", "", "", 5000)
	query, _, err := renderStructuredPlan(p)

	require.NoError(t, err)
	assert.Contains(t, query, "LIMIT 1000")
}

func TestRenderStructuredPlanRejectsUnknownColumn(t *testing.T) {
	p := structuredRowsPlan(plan.ModeSelect, 1, "", "", "", 10)
	p.Filters = append(p.Filters, plan.Filter{Column: "password_hash", Operator: "=", Value: "x"})

	_, _, err := renderStructuredPlan(p)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowlisted")
}
