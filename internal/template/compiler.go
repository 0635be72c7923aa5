package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/querypilot/backend/internal/storage/models"
	"github.com/querypilot/backend/pkg/logger"
	"go.uber.org/zap"
)

// ExtractionResult carries LLM-extracted parameters for a selected template.
// Every string field may be empty; compilation falls back to defaults.
type ExtractionResult struct {
	SelectedTemplateID  string            `json:"selected_template_id"`
	ExtractedParams     map[string]string `json:"extracted_params"`
	ModifiedWhereClause string            `json:"modified_where_clause"`
	DetectedTable       string            `json:"detected_table"`
	Confidence          float64           `json:"confidence"`
	Reasoning           string            `json:"reasoning"`
}

var (
	identifierRe     = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	placeholderRe    = regexp.MustCompile(`\{\{?[a-zA-Z0-9_]+\}?\}`)
	limitClauseRe    = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
	trailingClauseRe = regexp.MustCompile(`(?i)\b(GROUP\s+BY|ORDER\s+BY|LIMIT)\b`)
	numericLiteralRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	existingWhereRe  = regexp.MustCompile(`(?i)\bWHERE\b`)
	identifierParams = map[string]bool{"order_by_column": true, "group_by_column": true, "column": true}
)

// Compile renders a template pattern into executable SQL. All values are
// inlined: identifier parameters must name an allowlisted column and are
// re-quoted after stripping unsafe characters, string literals have embedded
// quotes doubled, and a LIMIT is appended when the pattern carries none.
// CTE patterns never get WHERE splicing.
func Compile(tpl models.QueryTemplate, extraction ExtractionResult, allowedColumns []string, defaultTable string, limit int) (string, string, error) {
	pattern := strings.TrimSpace(tpl.QueryPattern)
	if pattern == "" {
		return "", "", fmt.Errorf("template %s has an empty query pattern", tpl.ID)
	}

	table := strings.TrimSpace(extraction.DetectedTable)
	if table == "" {
		table = defaultTable
	}
	if table == "" {
		return "", "", fmt.Errorf("template %s: no table detected and no default table configured", tpl.ID)
	}
	quotedTable := quoteIdentifier(table)

	columns := "*"
	if len(allowedColumns) > 0 {
		quoted := make([]string, 0, len(allowedColumns))
		for _, col := range allowedColumns {
			quoted = append(quoted, quoteIdentifier(col))
		}
		columns = strings.Join(quoted, ", ")
	}

	sql := pattern
	sql = replacePlaceholder(sql, "table", quotedTable)
	sql = replacePlaceholder(sql, "columns", columns)

	isCTE := strings.HasPrefix(strings.ToUpper(sql), "WITH")

	if clause := strings.TrimSpace(extraction.ModifiedWhereClause); clause != "" && !isCTE {
		sql = spliceWhereClause(sql, clause)
	}

	allowed := make(map[string]bool, len(allowedColumns))
	for _, col := range allowedColumns {
		allowed[strings.ToLower(col)] = true
	}

	for key, value := range extraction.ExtractedParams {
		if identifierParams[key] {
			col := strings.ToLower(strings.TrimSpace(value))
			if !allowed[col] {
				return "", "", fmt.Errorf("template %s: column %q is not allowlisted for table %s", tpl.ID, value, table)
			}
		}
		sql = replacePlaceholder(sql, key, renderParam(key, value))
	}

	if leftover := placeholderRe.FindAllString(sql, -1); len(leftover) > 0 {
		logger.Warn("template compilation left unresolved placeholders",
			zap.String("template_id", tpl.ID),
			zap.Strings("placeholders", leftover))
		return "", "", fmt.Errorf("template %s: unresolved placeholders %v", tpl.ID, leftover)
	}

	if limit > 0 && !limitClauseRe.MatchString(sql) {
		sql = fmt.Sprintf("%s LIMIT %d", strings.TrimRight(sql, "; \t\n"), limit)
	}

	description := fmt.Sprintf("%s on table %s", tpl.Name, table)
	if len(extraction.ExtractedParams) > 0 {
		pairs := make([]string, 0, len(extraction.ExtractedParams))
		for k, v := range extraction.ExtractedParams {
			pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
		}
		description = fmt.Sprintf("%s (%s)", description, strings.Join(pairs, ", "))
	}

	return sql, description, nil
}

// spliceWhereClause inserts the clause immediately before the first trailing
// GROUP BY / ORDER BY / LIMIT, or appends it when none exist. Patterns that
// already contain a WHERE get the clause joined with AND.
func spliceWhereClause(sql, clause string) string {
	upper := strings.ToUpper(clause)
	hasWhere := existingWhereRe.MatchString(sql)

	switch {
	case hasWhere && strings.HasPrefix(upper, "WHERE"):
		clause = "AND (" + strings.TrimSpace(clause[len("WHERE"):]) + ")"
	case hasWhere:
		clause = "AND (" + clause + ")"
	case !strings.HasPrefix(upper, "WHERE"):
		clause = "WHERE " + clause
	}

	loc := trailingClauseRe.FindStringIndex(sql)
	if loc == nil {
		return strings.TrimRight(sql, "; \t\n") + " " + clause
	}
	return strings.TrimSpace(sql[:loc[0]]) + " " + clause + " " + sql[loc[0]:]
}

func renderParam(key, value string) string {
	value = strings.TrimSpace(value)

	if identifierParams[key] {
		return quoteIdentifier(value)
	}
	if key == "sort_direction" {
		if strings.EqualFold(value, "DESC") {
			return "DESC"
		}
		return "ASC"
	}
	if numericLiteralRe.MatchString(value) {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// replacePlaceholder handles both {name} and {{name}} spellings.
func replacePlaceholder(sql, name, value string) string {
	sql = strings.ReplaceAll(sql, "{{"+name+"}}", value)
	return strings.ReplaceAll(sql, "{"+name+"}", value)
}

func quoteIdentifier(name string) string {
	clean := identifierRe.ReplaceAllString(name, "")
	return `"` + clean + `"`
}
