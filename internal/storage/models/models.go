package models

import "time"

// Chunk is a retrievable passage of an ingested document. Embeddings live in
// the vector store; EmbeddingID ties the two together.
type Chunk struct {
	ID           string
	CollectionID int64
	DocName      string
	PageNumber   int
	PageOffset   int
	Content      string
	EmbeddingID  string
	CreatedAt    time.Time
}

// StructuredRow is a database-like record extracted from a semi-structured
// source (spreadsheet/CSV), queryable by exact filters rather than similarity.
type StructuredRow struct {
	ID           int64
	CollectionID int64
	Category     string
	Source       string
	Title        string
	Content      string
	CreatedAt    time.Time
}

// TabularRow holds numeric columns from an auxiliary tabular store, filtered
// by bound numeric predicates on the NumericOnly retrieval path.
type TabularRow struct {
	ID           int64
	CollectionID int64
	DocName      string
	RowIndex     int
	Columns      map[string]float64
	Raw          string
	CreatedAt    time.Time
}

// QueryTemplate is a parameterized SQL skeleton with associated intent
// keywords. Immutable once loaded for a matching pass.
type QueryTemplate struct {
	ID                string
	Name              string
	IntentKeywords    []string
	ExampleQuestion   string
	QueryPattern      string
	PatternType       string
	TablesUsed        []string
	Priority          int
	IsEnabled         bool
	IsPatternAgnostic bool
}

// AllowlistProfile is the set of tables and columns a collection may query,
// plus the row-limit ceiling. Enforced after SQL compilation on every
// execution path.
type AllowlistProfile struct {
	CollectionID int64
	Tables       map[string][]string
	DefaultTable string
	MaxLimit     int
}

// AllowedColumns returns the column allowlist for a table, or nil when the
// table itself is not allowlisted.
func (p *AllowlistProfile) AllowedColumns(table string) []string {
	if p.Tables == nil {
		return nil
	}
	return p.Tables[table]
}

func (p *AllowlistProfile) TableAllowed(table string) bool {
	if p.Tables == nil {
		return false
	}
	_, ok := p.Tables[table]
	return ok
}

// AuditRecord is an immutable append-only audit row. UserQueryHash stores a
// normalized non-reversible hash, never the raw query text.
type AuditRecord struct {
	ID                 int64
	QueryID            string
	CollectionID       int64
	UserQueryHash      string
	Intent             string
	PlanJSON           string
	CompiledSQL        string
	ParamsJSON         string
	RowCount           int
	LatencyMS          int
	LLMRoute           string
	SentContextChars   int
	TemplateID         string
	TemplateName       string
	TemplateMatchCount int
	CreatedAt          time.Time
}

// AuditStats aggregates the audit trail for one collection.
type AuditStats struct {
	TotalQueries int
	AvgLatencyMS float64
	AvgRowCount  float64
	RouteCounts  map[string]int
	IntentCounts map[string]int
	LastQueryAt  time.Time
}

// RateLimitSession is one mutable session row per collection.
type RateLimitSession struct {
	CollectionID int64
	QueriesCount int
	BlockedCount int
	StartedAt    time.Time
	LastUsedAt   time.Time
}
