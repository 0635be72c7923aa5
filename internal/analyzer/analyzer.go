package analyzer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jdkato/prose/v2"
)

type QueryType string

const (
	TextOnly    QueryType = "text_only"
	NumericOnly QueryType = "numeric_only"
	Structured  QueryType = "structured"
	Hybrid      QueryType = "hybrid"
)

// NumericFilter is one bound numeric predicate extracted from the query.
type NumericFilter struct {
	Column   string
	Operator string
	Value    float64
}

// StructuredHints is a sparse filter/intent bag extracted from lexical
// patterns. If any concrete filter is present, WantsAggregate is forced true
// even without explicit aggregate keywords.
type StructuredHints struct {
	WantsAggregate bool
	WantsCount     bool
	WantsSources   bool
	WantsTitles    bool
	Category       string
	Source         string
	Keyword        string
	RequestedLimit int
}

// QueryAnalysis is derived per-request and never persisted.
type QueryAnalysis struct {
	QueryType      QueryType
	NumericFilters []NumericFilter
	Structured     StructuredHints
}

// Keyword surfaces are bilingual (English/Indonesian) for the target user
// base and must be kept in sync across both languages.
var (
	aggregateKeywords = []string{
		"count", "how many", "total", "sum", "average", "group by",
		"semua data", "tampilkan semua", "berapa", "jumlah", "rata-rata", "hitung",
	}

	countKeywords = []string{
		"how many", "count", "berapa banyak", "berapa", "jumlah",
	}

	sourceListKeywords = []string{
		"sources", "list source", "daftar sumber", "sumber apa",
	}

	titleListKeywords = []string{
		"titles", "list title", "daftar judul", "judul apa",
	}

	textualMarkers = []string{
		"what", "why", "how", "who", "when", "where", "which", "explain", "describe", "tell",
		"apa", "mengapa", "kenapa", "bagaimana", "siapa", "kapan", "dimana", "jelaskan", "ceritakan",
	}

	numericPhraseOps = map[string]string{
		"more than":    ">",
		"greater than": ">",
		"lebih dari":   ">",
		"di atas":      ">",
		"above":        ">",
		"less than":    "<",
		"kurang dari":  "<",
		"di bawah":     "<",
		"below":        "<",
		"at least":     ">=",
		"minimal":      ">=",
		"at most":      "<=",
		"maksimal":     "<=",
		"equal to":     "=",
		"sama dengan":  "=",
	}

	// English forms require the explicit key:value colon; Indonesian forms
	// also accept a bare "kategori ai" / "sumber laporan.csv" phrase.
	categoryEnRe    = regexp.MustCompile(`\bcategory\s*[:=]\s*([a-z0-9_-]+)`)
	categoryIDRe    = regexp.MustCompile(`\bkategori\s*[:=]?\s*([a-z0-9_-]+)`)
	sourceEnRe      = regexp.MustCompile(`\bsource\s*[:=]\s*([a-z0-9_.-]+)`)
	sourceIDRe      = regexp.MustCompile(`\bsumber\s*[:=]?\s*([a-z0-9_.-]+)`)
	keywordRe       = regexp.MustCompile(`\b(?:kata kunci|keyword)\s*[:=]?\s*([a-z0-9_-]+)`)
	trailingLimitRe = regexp.MustCompile(`(\d+)\s+(?:rows?|data|baris)\s*$`)
	symbolFilterRe  = regexp.MustCompile(`([a-z_][a-z0-9_]*)\s*(>=|<=|>|<|=)\s*(\d+(?:\.\d+)?)`)
	numberRe        = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// Analyze classifies raw query text. Pure and deterministic over the
// lowercase-normalized input.
func Analyze(query string) QueryAnalysis {
	normalized := strings.ToLower(strings.TrimSpace(query))

	analysis := QueryAnalysis{
		Structured:     extractStructuredHints(normalized),
		NumericFilters: extractNumericFilters(normalized),
	}

	// Structured intent wins over every other signal.
	if analysis.Structured.WantsAggregate {
		analysis.QueryType = Structured
		return analysis
	}

	hasNumeric := len(analysis.NumericFilters) > 0
	hasTextual := hasTextualMarkers(normalized)

	switch {
	case hasNumeric && hasTextual:
		analysis.QueryType = Hybrid
	case hasNumeric:
		analysis.QueryType = NumericOnly
	default:
		// Fail toward retrieval rather than silence.
		analysis.QueryType = TextOnly
	}

	return analysis
}

func extractStructuredHints(normalized string) StructuredHints {
	hints := StructuredHints{}

	for _, kw := range aggregateKeywords {
		if strings.Contains(normalized, kw) {
			hints.WantsAggregate = true
			break
		}
	}
	for _, kw := range countKeywords {
		if strings.Contains(normalized, kw) {
			hints.WantsCount = true
			break
		}
	}
	for _, kw := range sourceListKeywords {
		if strings.Contains(normalized, kw) {
			hints.WantsSources = true
			break
		}
	}
	for _, kw := range titleListKeywords {
		if strings.Contains(normalized, kw) {
			hints.WantsTitles = true
			break
		}
	}

	hints.Category = firstFilterValue(normalized, categoryEnRe, categoryIDRe)
	hints.Source = firstFilterValue(normalized, sourceEnRe, sourceIDRe)
	hints.Keyword = firstFilterValue(normalized, keywordRe)

	// Compatibility quirk: a bare "ai" token implies category=ai. Kept for
	// existing collections; do not extend to other literal tokens.
	if hints.Category == "" && containsToken(normalized, "ai") {
		hints.Category = "ai"
	}

	if m := trailingLimitRe.FindStringSubmatch(normalized); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			hints.RequestedLimit = n
		}
	}

	// A concrete filter implies a structured lookup even when no aggregate
	// keyword fired.
	if hints.Category != "" || hints.Source != "" || hints.Keyword != "" {
		hints.WantsAggregate = true
	}

	return hints
}

// firstFilterValue tries each pattern in order and rejects captures that are
// question words rather than filter values.
func firstFilterValue(normalized string, patterns ...*regexp.Regexp) string {
	for _, re := range patterns {
		m := re.FindStringSubmatch(normalized)
		if m == nil {
			continue
		}
		switch m[1] {
		case "apa", "mana", "saja", "yang":
			continue
		}
		return m[1]
	}
	return ""
}

func extractNumericFilters(normalized string) []NumericFilter {
	var filters []NumericFilter

	for _, m := range symbolFilterRe.FindAllStringSubmatch(normalized, -1) {
		value, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}
		filters = append(filters, NumericFilter{Column: m[1], Operator: m[2], Value: value})
	}

	for phrase, op := range numericPhraseOps {
		idx := strings.Index(normalized, phrase)
		if idx < 0 {
			continue
		}
		rest := normalized[idx+len(phrase):]
		numMatch := numberRe.FindString(rest)
		if numMatch == "" {
			continue
		}
		value, err := strconv.ParseFloat(numMatch, 64)
		if err != nil {
			continue
		}

		column := lastColumnToken(normalized[:idx])
		filters = append(filters, NumericFilter{Column: column, Operator: op, Value: value})
	}

	return filters
}

// lastColumnToken picks the token preceding a comparison phrase as the
// filter column, skipping auxiliary words.
func lastColumnToken(prefix string) string {
	tokens := Tokenize(prefix)
	for i := len(tokens) - 1; i >= 0; i-- {
		tok := tokens[i]
		switch tok {
		case "is", "are", "was", "were", "with", "yang", "dengan", "value", "nilai":
			continue
		}
		if isWordToken(tok) {
			return tok
		}
	}
	return "value"
}

func hasTextualMarkers(normalized string) bool {
	tokens := Tokenize(normalized)
	for _, tok := range tokens {
		for _, marker := range textualMarkers {
			if tok == marker {
				return true
			}
		}
	}
	return false
}

// DetectTables returns the known table names mentioned in the query.
// Email-like and numeric-heavy tokens are never treated as table names.
func DetectTables(query string, knownTables []string) []string {
	tokens := Tokenize(strings.ToLower(query))
	tokenSet := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if !isPlausibleIdentifier(tok) {
			continue
		}
		tokenSet[tok] = true
		// Allow singular mentions of plural table names.
		tokenSet[tok+"s"] = true
	}

	var detected []string
	for _, table := range knownTables {
		if tokenSet[strings.ToLower(table)] {
			detected = append(detected, table)
		}
	}
	return detected
}

// isPlausibleIdentifier rejects tokens that look like emails or numeric
// payloads. Strings with an "@" or dominated by digits are data, not schema.
func isPlausibleIdentifier(tok string) bool {
	if strings.Contains(tok, "@") {
		return false
	}
	digits := 0
	for _, r := range tok {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits > 7 {
		return false
	}
	if len(tok) > 0 && digits*2 > len(tok) {
		return false
	}
	return len(tok) > 0
}

func containsToken(normalized, want string) bool {
	for _, tok := range Tokenize(normalized) {
		if tok == want {
			return true
		}
	}
	return false
}

func isWordToken(tok string) bool {
	for _, r := range tok {
		if (r < 'a' || r > 'z') && r != '_' {
			return false
		}
	}
	return len(tok) > 0
}

// Tokenize splits text into lowercase word tokens. It goes through prose so
// punctuation-attached tokens are handled; on tokenizer failure it degrades
// to whitespace splitting.
func Tokenize(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithSegmentation(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return strings.Fields(strings.ToLower(text))
	}

	tokens := doc.Tokens()
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		t := strings.ToLower(strings.Trim(tok.Text, `.,!?;"'()[]{}`))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
