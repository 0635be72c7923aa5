package plan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/querypilot/backend/internal/storage/models"
)

// ValidationResult reports whether a plan or compiled statement may execute.
// AdjustedLimit is non-zero when the requested limit was clamped rather than
// rejected.
type ValidationResult struct {
	IsValid       bool
	Errors        []string
	AdjustedLimit int
	// SQL carries the statement with any clamped LIMIT rewritten. Empty for
	// plan validation.
	SQL string
}

// Validator is the last safety gate before execution. Both template-compiled
// SQL and directly-built plans pass through it.
type Validator struct {
	maxLimit int
}

var (
	tableRefRe   = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+"?([a-zA-Z_][a-zA-Z0-9_]*)"?`)
	limitValueRe = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)
	forbiddenRe  = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|GRANT|REVOKE|ATTACH|PRAGMA|COPY|EXECUTE)\b`)
)

func NewValidator(maxLimit int) *Validator {
	if maxLimit <= 0 {
		maxLimit = 500
	}
	return &Validator{maxLimit: maxLimit}
}

// ValidatePlan checks every table and column the plan references against the
// collection's allowlist profile, and clamps the limit to the policy ceiling.
func (v *Validator) ValidatePlan(p *QueryPlan, profile *models.AllowlistProfile) ValidationResult {
	result := ValidationResult{IsValid: true}
	if profile == nil {
		return invalid("no allowlist profile configured for collection")
	}

	for _, table := range p.ReferencedTables() {
		if !profile.TableAllowed(table) {
			result.Errors = append(result.Errors, fmt.Sprintf("table %q is not allowlisted", table))
		}
	}

	allowed := columnSet(profile, p.Table)
	for _, col := range p.ReferencedColumns() {
		if !allowed[strings.ToLower(col)] {
			result.Errors = append(result.Errors, fmt.Sprintf("column %q is not allowlisted for table %q", col, p.Table))
		}
	}

	ceiling := v.ceiling(profile)
	if p.Limit > ceiling {
		result.AdjustedLimit = ceiling
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// ValidateSQL checks a compiled statement: it must be a single SELECT or
// WITH statement, reference only allowlisted tables, and carry a limit at or
// under the ceiling. An over-ceiling LIMIT is rewritten, not rejected.
// Column-level enforcement happens at compile time, where the column list is
// substituted from the allowlist.
func (v *Validator) ValidateSQL(sql string, profile *models.AllowlistProfile) ValidationResult {
	result := ValidationResult{IsValid: true, SQL: sql}
	if profile == nil {
		return invalid("no allowlist profile configured for collection")
	}

	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		result.Errors = append(result.Errors, "only SELECT statements may execute")
	}
	if strings.Contains(strings.TrimRight(trimmed, "; \t\n"), ";") {
		result.Errors = append(result.Errors, "multiple statements are not permitted")
	}
	if m := forbiddenRe.FindString(trimmed); m != "" {
		result.Errors = append(result.Errors, fmt.Sprintf("forbidden keyword %q", strings.ToUpper(m)))
	}

	cteNames := cteAliases(trimmed)
	for _, match := range tableRefRe.FindAllStringSubmatch(trimmed, -1) {
		table := match[1]
		if cteNames[strings.ToLower(table)] {
			continue
		}
		if !profile.TableAllowed(table) {
			result.Errors = append(result.Errors, fmt.Sprintf("table %q is not allowlisted", table))
		}
	}

	ceiling := v.ceiling(profile)
	if m := limitValueRe.FindStringSubmatch(trimmed); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > ceiling {
			result.AdjustedLimit = ceiling
			result.SQL = limitValueRe.ReplaceAllString(trimmed, fmt.Sprintf("LIMIT %d", ceiling))
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

func (v *Validator) ceiling(profile *models.AllowlistProfile) int {
	if profile.MaxLimit > 0 && profile.MaxLimit < v.maxLimit {
		return profile.MaxLimit
	}
	return v.maxLimit
}

var cteAliasRe = regexp.MustCompile(`(?i)(?:WITH|,)\s*([a-zA-Z_][a-zA-Z0-9_]*)\s+AS\s*\(`)

// cteAliases collects WITH-clause names so they are not mistaken for base
// tables during allowlist checks.
func cteAliases(sql string) map[string]bool {
	names := make(map[string]bool)
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sql)), "WITH") {
		return names
	}
	for _, m := range cteAliasRe.FindAllStringSubmatch(sql, -1) {
		names[strings.ToLower(m[1])] = true
	}
	return names
}

func columnSet(profile *models.AllowlistProfile, table string) map[string]bool {
	set := make(map[string]bool)
	for _, col := range profile.AllowedColumns(table) {
		set[strings.ToLower(col)] = true
	}
	return set
}

func invalid(msg string) ValidationResult {
	return ValidationResult{IsValid: false, Errors: []string{msg}}
}
