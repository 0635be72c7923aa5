package template

import (
	"fmt"
	"sort"
	"strings"

	"github.com/querypilot/backend/internal/analyzer"
	"github.com/querypilot/backend/internal/storage/models"
)

// Match is an ephemeral scoring result for one template.
type Match struct {
	Template models.QueryTemplate
	Score    float64
	Reason   string
}

// Matcher scores a template library against a query. Disabled templates are
// excluded at construction time, not per call.
type Matcher struct {
	templates []models.QueryTemplate
}

var aggregateSignals = []string{
	"count", "how many", "total", "sum", "average", "group",
	"berapa", "jumlah", "rata-rata", "hitung",
}

var inClauseSignals = []string{
	"any of", "one of", "among", "either", "salah satu", "termasuk", "di antara",
}

func NewMatcher(templates []models.QueryTemplate) *Matcher {
	enabled := make([]models.QueryTemplate, 0, len(templates))
	for _, tpl := range templates {
		if tpl.IsEnabled {
			enabled = append(enabled, tpl)
		}
	}
	return &Matcher{templates: enabled}
}

// FindMatches returns templates ranked by (score desc, priority desc),
// truncated to maxResults. Templates scoring exactly zero are dropped.
func (m *Matcher) FindMatches(query string, detectedTables []string, maxResults int) []Match {
	normalized := strings.ToLower(strings.TrimSpace(query))
	tokens := tokenSet(normalized)

	matches := make([]Match, 0, len(m.templates))
	for _, tpl := range m.templates {
		keywordScore := scoreKeywords(normalized, tokens, tpl.IntentKeywords)
		bonus := patternTypeBonus(normalized, tpl.PatternType)

		var score float64
		var reason string
		if tpl.IsPatternAgnostic {
			// The SQL pattern is reusable across any table, so table
			// overlap carries no signal.
			score = 0.6*keywordScore + 0.4*bonus
			reason = fmt.Sprintf("keyword=%.2f bonus=%.2f", keywordScore, bonus)
		} else {
			tableScore := scoreTableOverlap(detectedTables, tpl.TablesUsed)
			score = 0.4*keywordScore + 0.4*tableScore + 0.2*bonus
			reason = fmt.Sprintf("keyword=%.2f tables=%.2f bonus=%.2f", keywordScore, tableScore, bonus)
		}

		if score == 0 {
			continue
		}

		matches = append(matches, Match{Template: tpl, Score: score, Reason: reason})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Template.Priority != matches[j].Template.Priority {
			return matches[i].Template.Priority > matches[j].Template.Priority
		}
		return matches[i].Template.ID < matches[j].Template.ID
	})

	if maxResults > 0 && len(matches) > maxResults {
		matches = matches[:maxResults]
	}

	return matches
}

// scoreKeywords sums per-keyword contributions and normalizes by twice the
// keyword count, capped at 1.0. Exact phrase 2.0, all-words-any-order 1.5,
// partial overlap up to 0.5, single-word exact membership 1.0.
func scoreKeywords(normalized string, tokens map[string]bool, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	var sum float64
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		words := strings.Fields(kw)

		switch {
		case len(words) > 1:
			if strings.Contains(normalized, kw) {
				sum += 2.0
				continue
			}
			matched := 0
			for _, w := range words {
				if tokens[w] {
					matched++
				}
			}
			if matched == len(words) {
				sum += 1.5
			} else if matched > 0 {
				sum += 0.5 * float64(matched) / float64(len(words))
			}
		case len(words) == 1:
			if tokens[words[0]] {
				sum += 1.0
			}
		}
	}

	score := sum / (2.0 * float64(len(keywords)))
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func scoreTableOverlap(detected, used []string) float64 {
	if len(used) == 0 {
		return 0
	}

	detectedSet := make(map[string]bool, len(detected))
	for _, t := range detected {
		detectedSet[strings.ToLower(t)] = true
	}

	matched := 0
	for _, t := range used {
		if detectedSet[strings.ToLower(t)] {
			matched++
		}
	}

	return float64(matched) / float64(len(used))
}

func patternTypeBonus(normalized, patternType string) float64 {
	switch patternType {
	case "aggregate":
		for _, kw := range aggregateSignals {
			if strings.Contains(normalized, kw) {
				return 1.0
			}
		}
	case "select_where_in":
		for _, kw := range inClauseSignals {
			if strings.Contains(normalized, kw) {
				return 1.0
			}
		}
	}
	return 0
}

func tokenSet(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range analyzer.Tokenize(normalized) {
		set[tok] = true
	}
	return set
}
