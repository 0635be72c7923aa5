package contextwindow

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	response string
	err      error
	calls    int
}

func (f *fakeGenerator) Generate(_ context.Context, _, _ string) (string, error) {
	f.calls++
	return f.response, f.err
}

func testConfig() Config {
	return Config{
		MaxContextTokens:    8192,
		EnableCompaction:    true,
		Strategy:            StrategyAdaptive,
		SummaryThreshold:    6,
		ReservedForResponse: 1024,
		SmallModelThreshold: 8192,
		LargeModelThreshold: 100000,
	}
}

func TestResolveStrategyAdaptiveBoundaries(t *testing.T) {
	m := NewManager(testConfig(), nil)

	assert.Equal(t, StrategyTruncate, m.ResolveStrategy(4096))
	assert.Equal(t, StrategyTruncate, m.ResolveStrategy(8192))
	assert.Equal(t, StrategyHybrid, m.ResolveStrategy(50000))
	assert.Equal(t, StrategySummarize, m.ResolveStrategy(100000))
	assert.Equal(t, StrategySummarize, m.ResolveStrategy(128000))
}

func TestResolveStrategyExplicitOverridesAdaptive(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy = StrategySummarize
	m := NewManager(cfg, nil)

	assert.Equal(t, StrategySummarize, m.ResolveStrategy(4096))
}

func TestBuildContextNoCompactionWhenUnderBudget(t *testing.T) {
	m := NewManager(testConfig(), nil)
	history := []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}

	result, err := m.BuildContext(context.Background(), history, 0, 4096)
	require.NoError(t, err)
	assert.False(t, result.WasCompacted)
	assert.Len(t, result.Messages, 2)
}

func TestBuildContextTruncateKeepsNewestMessages(t *testing.T) {
	cfg := testConfig()
	cfg.MaxContextTokens = 200
	cfg.ReservedForResponse = 0
	m := NewManager(cfg, nil)

	// Each message estimates to 100/4 + 4 = 29 tokens; only six fit in 200.
	history := make([]Message, 10)
	for i := range history {
		history[i] = Message{Role: "user", Content: strings.Repeat("x", 100)}
	}
	history[9].Content = strings.Repeat("z", 100)

	result, err := m.BuildContext(context.Background(), history, 0, 4096)
	require.NoError(t, err)
	assert.True(t, result.WasCompacted)
	assert.Less(t, len(result.Messages), 10)
	last := result.Messages[len(result.Messages)-1]
	assert.Equal(t, strings.Repeat("z", 100), last.Content, "newest message must survive")
	assert.LessOrEqual(t, result.EstimatedTokens, 200)
}

func TestBuildContextRagTokensShrinkBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxContextTokens = 300
	cfg.ReservedForResponse = 100
	m := NewManager(cfg, nil)

	history := make([]Message, 10)
	for i := range history {
		history[i] = Message{Role: "user", Content: strings.Repeat("x", 100)}
	}

	full, err := m.BuildContext(context.Background(), history, 0, 4096)
	require.NoError(t, err)
	squeezed, err := m.BuildContext(context.Background(), history, 150, 4096)
	require.NoError(t, err)

	assert.Less(t, len(squeezed.Messages), len(full.Messages))
}

func TestBuildContextHybridSummarizesOlderHalf(t *testing.T) {
	cfg := testConfig()
	cfg.MaxContextTokens = 400
	cfg.ReservedForResponse = 0
	cfg.SummaryThreshold = 3
	gen := &fakeGenerator{response: "they discussed milvus setup"}
	m := NewManager(cfg, gen)

	history := make([]Message, 10)
	for i := range history {
		history[i] = Message{Role: "user", Content: strings.Repeat("x", 200)}
	}

	result, err := m.BuildContext(context.Background(), history, 0, 50000)
	require.NoError(t, err)
	assert.True(t, result.WasCompacted)
	assert.Equal(t, StrategyHybrid, result.Strategy)
	assert.Equal(t, 1, gen.calls)
	// Summary turn plus the three verbatim recent messages.
	require.Len(t, result.Messages, 4)
	assert.Contains(t, result.Messages[0].Content, "milvus setup")
}

func TestBuildContextSummarizeKeepsNewestThree(t *testing.T) {
	cfg := testConfig()
	cfg.MaxContextTokens = 100
	cfg.ReservedForResponse = 0
	gen := &fakeGenerator{response: "summary"}
	m := NewManager(cfg, gen)

	history := make([]Message, 8)
	for i := range history {
		history[i] = Message{Role: "user", Content: strings.Repeat("x", 100)}
	}

	result, err := m.BuildContext(context.Background(), history, 0, 128000)
	require.NoError(t, err)
	assert.True(t, result.WasCompacted)
	assert.Equal(t, StrategySummarize, result.Strategy)
	require.Len(t, result.Messages, 4)
	assert.Equal(t, "system", result.Messages[0].Role)
}

func TestBuildContextSummarizeFallsBackToTruncateOnGeneratorFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxContextTokens = 100
	cfg.ReservedForResponse = 0
	m := NewManager(cfg, nil)

	history := make([]Message, 8)
	for i := range history {
		history[i] = Message{Role: "user", Content: strings.Repeat("x", 100)}
	}

	result, err := m.BuildContext(context.Background(), history, 0, 128000)
	require.NoError(t, err)
	assert.True(t, result.WasCompacted)
	assert.LessOrEqual(t, result.EstimatedTokens, 100)
}

func TestEstimateTokensHeuristic(t *testing.T) {
	assert.Equal(t, perMessageOverhead, EstimateTokens(""))
	assert.Equal(t, 25+perMessageOverhead, EstimateTokens(strings.Repeat("a", 100)))
}
