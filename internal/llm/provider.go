package llm

import (
	"context"
	"fmt"

	"github.com/querypilot/backend/pkg/config"
)

// Generator produces a completion from a system and user prompt. The
// pipeline depends only on this interface, never on a concrete provider.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Embedder maps text to a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewProvider builds the configured Generator/Embedder pair. "openai" and
// "local" both speak the OpenAI wire protocol; "local" just points BaseURL
// at an in-house server.
func NewProvider(ctx context.Context, cfg config.LLMConfig) (Generator, Embedder, error) {
	switch cfg.Provider {
	case "openai", "local":
		client := NewOpenAIProvider(cfg)
		return client, client, nil
	case "gemini":
		client, err := NewGeminiProvider(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
	}
}
