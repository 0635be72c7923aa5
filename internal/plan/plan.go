package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Plan modes.
const (
	ModeSelect    = "select"
	ModeCount     = "count"
	ModeAggregate = "aggregate"
)

var validOperators = map[string]bool{
	"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"LIKE": true, "IN": true,
}

// Filter is one typed WHERE predicate. Values are bound as parameters at
// render time, never inlined.
type Filter struct {
	Column   string      `json:"column"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

type OrderBy struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
}

type Join struct {
	Table string `json:"table"`
	On    string `json:"on"`
}

// QueryPlan is the structured representation of what will be executed: the
// unit the allowlist validator accepts or rejects, and the unit written to
// the audit log as plan_json.
type QueryPlan struct {
	Mode    string   `json:"mode"`
	Table   string   `json:"table"`
	Select  []string `json:"select,omitempty"`
	Filters []Filter `json:"filters,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	OrderBy *OrderBy `json:"order_by,omitempty"`
	Joins   []Join   `json:"joins,omitempty"`
}

var identifierCleanRe = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func quoteIdentifier(name string) string {
	return `"` + identifierCleanRe.ReplaceAllString(name, "") + `"`
}

// SQL renders the plan to parameterized SQL with $n placeholders and the
// matching argument slice. Rendering never splices values into the text.
func (p *QueryPlan) SQL() (string, []interface{}, error) {
	if p.Table == "" {
		return "", nil, fmt.Errorf("query plan has no table")
	}

	var b strings.Builder
	args := make([]interface{}, 0, len(p.Filters))

	switch p.Mode {
	case ModeCount:
		b.WriteString("SELECT COUNT(*) AS total")
	case ModeSelect, ModeAggregate, "":
		if len(p.Select) == 0 {
			b.WriteString("SELECT *")
		} else {
			cols := make([]string, 0, len(p.Select))
			for _, c := range p.Select {
				cols = append(cols, quoteIdentifier(c))
			}
			b.WriteString("SELECT " + strings.Join(cols, ", "))
		}
	default:
		return "", nil, fmt.Errorf("unknown plan mode %q", p.Mode)
	}

	b.WriteString(" FROM " + quoteIdentifier(p.Table))

	for _, j := range p.Joins {
		b.WriteString(" JOIN " + quoteIdentifier(j.Table) + " ON " + j.On)
	}

	if len(p.Filters) > 0 {
		preds := make([]string, 0, len(p.Filters))
		for _, f := range p.Filters {
			op := strings.ToUpper(strings.TrimSpace(f.Operator))
			if !validOperators[op] {
				return "", nil, fmt.Errorf("unsupported filter operator %q", f.Operator)
			}
			args = append(args, f.Value)
			preds = append(preds, fmt.Sprintf("%s %s $%d", quoteIdentifier(f.Column), op, len(args)))
		}
		b.WriteString(" WHERE " + strings.Join(preds, " AND "))
	}

	if p.OrderBy != nil {
		dir := "ASC"
		if p.OrderBy.Descending {
			dir = "DESC"
		}
		b.WriteString(" ORDER BY " + quoteIdentifier(p.OrderBy.Column) + " " + dir)
	}

	if p.Limit > 0 {
		b.WriteString(fmt.Sprintf(" LIMIT %d", p.Limit))
	}

	return b.String(), args, nil
}

// JSON serializes the plan for the audit log. Serialization failures are
// impossible for this shape, so the error is folded into an empty object.
func (p *QueryPlan) JSON() string {
	data, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// ReferencedTables lists every table the plan touches, base table first.
func (p *QueryPlan) ReferencedTables() []string {
	tables := []string{p.Table}
	for _, j := range p.Joins {
		tables = append(tables, j.Table)
	}
	return tables
}

// ReferencedColumns lists every column the plan selects, filters, or
// orders by. Join conditions are free-form and validated separately.
func (p *QueryPlan) ReferencedColumns() []string {
	cols := make([]string, 0, len(p.Select)+len(p.Filters)+1)
	cols = append(cols, p.Select...)
	for _, f := range p.Filters {
		cols = append(cols, f.Column)
	}
	if p.OrderBy != nil {
		cols = append(cols, p.OrderBy.Column)
	}
	return cols
}
