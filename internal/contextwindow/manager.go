package contextwindow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/querypilot/backend/internal/llm"
	"github.com/querypilot/backend/pkg/logger"
	"go.uber.org/zap"
)

// Strategy selects how conversation history is fitted into the token budget.
type Strategy string

const (
	StrategyAdaptive  Strategy = "adaptive"
	StrategyTruncate  Strategy = "truncate"
	StrategySummarize Strategy = "summarize"
	StrategyHybrid    Strategy = "hybrid"
)

// perMessageOverhead covers role markers and separators that the character
// heuristic cannot see.
const perMessageOverhead = 4

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config is read on every context build and mutable through the admin
// update path.
type Config struct {
	MaxContextTokens    int
	MaxHistoryMessages  int
	EnableCompaction    bool
	Strategy            Strategy
	SummaryThreshold    int
	ReservedForResponse int
	SmallModelThreshold int
	LargeModelThreshold int
}

// BuildResult reports what survived compaction.
type BuildResult struct {
	Messages        []Message
	WasCompacted    bool
	Strategy        Strategy
	EstimatedTokens int
}

// Manager fits conversation history plus retrieved context into the model's
// token budget.
type Manager struct {
	mu        sync.RWMutex
	cfg       Config
	generator llm.Generator
}

func NewManager(cfg Config, generator llm.Generator) *Manager {
	if cfg.SummaryThreshold <= 0 {
		cfg.SummaryThreshold = 6
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 8192
	}
	return &Manager{cfg: cfg, generator: generator}
}

func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) UpdateConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// EstimateTokens uses a provider-agnostic ~4 characters per token heuristic.
func EstimateTokens(text string) int {
	return len(text)/4 + perMessageOverhead
}

func estimateAll(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg.Content)
	}
	return total
}

// ResolveStrategy maps Adaptive to a concrete strategy by model context
// window size. Small models truncate, large models summarize, the middle
// gets the hybrid split.
func (m *Manager) ResolveStrategy(modelContextWindow int) Strategy {
	cfg := m.Config()
	if cfg.Strategy != StrategyAdaptive && cfg.Strategy != "" {
		return cfg.Strategy
	}
	switch {
	case modelContextWindow <= cfg.SmallModelThreshold:
		return StrategyTruncate
	case modelContextWindow >= cfg.LargeModelThreshold:
		return StrategySummarize
	default:
		return StrategyHybrid
	}
}

// BuildContext compacts history so it fits
// max_context_tokens − (rag_context_tokens + reserved_for_response).
func (m *Manager) BuildContext(ctx context.Context, history []Message, ragContextTokens, modelContextWindow int) (BuildResult, error) {
	cfg := m.Config()

	if cfg.MaxHistoryMessages > 0 && len(history) > cfg.MaxHistoryMessages {
		history = history[len(history)-cfg.MaxHistoryMessages:]
	}

	available := cfg.MaxContextTokens - (ragContextTokens + cfg.ReservedForResponse)
	if available < 0 {
		available = 0
	}

	if !cfg.EnableCompaction || estimateAll(history) <= available {
		return BuildResult{
			Messages:        history,
			Strategy:        m.ResolveStrategy(modelContextWindow),
			EstimatedTokens: estimateAll(history),
		}, nil
	}

	strategy := m.ResolveStrategy(modelContextWindow)
	switch strategy {
	case StrategySummarize:
		return m.summarize(ctx, history, available, cfg)
	case StrategyHybrid:
		return m.hybrid(ctx, history, available, cfg)
	default:
		return m.truncate(history, available), nil
	}
}

// truncate keeps the newest messages, walking newest to oldest until adding
// the next message would exceed the budget.
func (m *Manager) truncate(history []Message, available int) BuildResult {
	used := 0
	keepFrom := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := EstimateTokens(history[i].Content)
		if used+cost > available {
			break
		}
		used += cost
		keepFrom = i
	}

	kept := history[keepFrom:]
	return BuildResult{
		Messages:        kept,
		WasCompacted:    keepFrom > 0,
		Strategy:        StrategyTruncate,
		EstimatedTokens: used,
	}
}

// hybrid splits history at len−summary_threshold: the older half is
// summarized only when it would not already fit half the budget, the recent
// half is always kept verbatim.
func (m *Manager) hybrid(ctx context.Context, history []Message, available int, cfg Config) (BuildResult, error) {
	split := len(history) - cfg.SummaryThreshold
	if split <= 0 {
		return BuildResult{
			Messages:        history,
			Strategy:        StrategyHybrid,
			EstimatedTokens: estimateAll(history),
		}, nil
	}

	older, recent := history[:split], history[split:]
	if estimateAll(older) <= available/2 {
		return BuildResult{
			Messages:        history,
			Strategy:        StrategyHybrid,
			EstimatedTokens: estimateAll(history),
		}, nil
	}

	summary, err := m.summarizeMessages(ctx, older)
	if err != nil {
		logger.Warn("History summarization failed, truncating instead", zap.Error(err))
		result := m.truncate(history, available)
		result.Strategy = StrategyHybrid
		return result, nil
	}

	messages := append([]Message{summary}, recent...)
	return BuildResult{
		Messages:        messages,
		WasCompacted:    true,
		Strategy:        StrategyHybrid,
		EstimatedTokens: estimateAll(messages),
	}, nil
}

// summarize compacts everything except the newest min(summary_threshold, 3)
// messages into a single summary turn.
func (m *Manager) summarize(ctx context.Context, history []Message, available int, cfg Config) (BuildResult, error) {
	keep := cfg.SummaryThreshold
	if keep > 3 {
		keep = 3
	}
	if keep >= len(history) {
		return BuildResult{
			Messages:        history,
			Strategy:        StrategySummarize,
			EstimatedTokens: estimateAll(history),
		}, nil
	}

	older, recent := history[:len(history)-keep], history[len(history)-keep:]
	summary, err := m.summarizeMessages(ctx, older)
	if err != nil {
		logger.Warn("History summarization failed, truncating instead", zap.Error(err))
		result := m.truncate(history, available)
		result.Strategy = StrategySummarize
		return result, nil
	}

	messages := append([]Message{summary}, recent...)
	return BuildResult{
		Messages:        messages,
		WasCompacted:    true,
		Strategy:        StrategySummarize,
		EstimatedTokens: estimateAll(messages),
	}, nil
}

const summarySystemPrompt = "You condense conversation history. Produce a short factual summary of the exchange, keeping names, numbers, and decisions. Output only the summary text."

func (m *Manager) summarizeMessages(ctx context.Context, messages []Message) (Message, error) {
	if m.generator == nil {
		return Message{}, fmt.Errorf("no generator configured for summarization")
	}

	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}

	text, err := m.generator.Generate(ctx, summarySystemPrompt, b.String())
	if err != nil {
		return Message{}, fmt.Errorf("failed to summarize history: %w", err)
	}

	return Message{
		Role:    "system",
		Content: "Summary of earlier conversation: " + strings.TrimSpace(text),
	}, nil
}
