package plan

import (
	"testing"

	"github.com/querypilot/backend/internal/storage/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile() *models.AllowlistProfile {
	return &models.AllowlistProfile{
		CollectionID: 1,
		Tables: map[string][]string{
			"documents": {"id", "title", "category", "created_at"},
		},
		DefaultTable: "documents",
		MaxLimit:     100,
	}
}

func TestValidatePlanAcceptsAllowlistedPlan(t *testing.T) {
	v := NewValidator(500)
	p := &QueryPlan{
		Table:   "documents",
		Select:  []string{"id", "title"},
		Filters: []Filter{{Column: "category", Operator: "=", Value: "ai"}},
		Limit:   10,
	}

	result := v.ValidatePlan(p, testProfile())
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.Zero(t, result.AdjustedLimit)
}

func TestValidatePlanRejectsUnknownTable(t *testing.T) {
	v := NewValidator(500)
	p := &QueryPlan{Table: "users", Select: []string{"id"}}

	result := v.ValidatePlan(p, testProfile())
	assert.False(t, result.IsValid)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "users")
}

func TestValidatePlanRejectsUnknownColumn(t *testing.T) {
	v := NewValidator(500)
	p := &QueryPlan{Table: "documents", Select: []string{"password"}}

	result := v.ValidatePlan(p, testProfile())
	assert.False(t, result.IsValid)
}

func TestValidatePlanClampsLimitInsteadOfRejecting(t *testing.T) {
	v := NewValidator(500)
	p := &QueryPlan{Table: "documents", Select: []string{"id"}, Limit: 5000}

	result := v.ValidatePlan(p, testProfile())
	assert.True(t, result.IsValid)
	assert.Equal(t, 100, result.AdjustedLimit)
}

func TestValidatePlanRequiresProfile(t *testing.T) {
	v := NewValidator(500)
	result := v.ValidatePlan(&QueryPlan{Table: "documents"}, nil)
	assert.False(t, result.IsValid)
}

func TestValidateSQLAcceptsSelect(t *testing.T) {
	v := NewValidator(500)
	result := v.ValidateSQL(`SELECT "id" FROM "documents" LIMIT 10`, testProfile())
	assert.True(t, result.IsValid)
}

func TestValidateSQLRejectsNonSelect(t *testing.T) {
	v := NewValidator(500)
	result := v.ValidateSQL(`DELETE FROM documents`, testProfile())
	assert.False(t, result.IsValid)
}

func TestValidateSQLRejectsMultipleStatements(t *testing.T) {
	v := NewValidator(500)
	result := v.ValidateSQL(`SELECT 1 FROM documents; SELECT 2 FROM documents`, testProfile())
	assert.False(t, result.IsValid)
}

func TestValidateSQLRejectsUnknownTable(t *testing.T) {
	v := NewValidator(500)
	result := v.ValidateSQL(`SELECT * FROM secrets LIMIT 5`, testProfile())
	assert.False(t, result.IsValid)
}

func TestValidateSQLRewritesOversizedLimit(t *testing.T) {
	v := NewValidator(500)
	result := v.ValidateSQL(`SELECT * FROM documents LIMIT 9999`, testProfile())

	assert.True(t, result.IsValid)
	assert.Equal(t, 100, result.AdjustedLimit)
	assert.Contains(t, result.SQL, "LIMIT 100")
	assert.NotContains(t, result.SQL, "9999")
}

func TestValidateSQLIgnoresCTEAliases(t *testing.T) {
	v := NewValidator(500)
	sql := `WITH counts AS (SELECT category, COUNT(*) AS total FROM documents GROUP BY category) SELECT * FROM counts`

	result := v.ValidateSQL(sql, testProfile())
	assert.True(t, result.IsValid, "CTE alias must not be treated as a base table: %v", result.Errors)
}
