package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/querypilot/backend/pkg/circuitbreaker"
	"github.com/querypilot/backend/pkg/config"
	"github.com/querypilot/backend/pkg/logger"
	"github.com/querypilot/backend/pkg/retry"
)

// GeminiProvider implements Generator and Embedder on the Gemini API.
type GeminiProvider struct {
	client         *genai.Client
	model          string
	embeddingModel string
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

func NewGeminiProvider(ctx context.Context, cfg config.LLMConfig) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-004"
	}

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	logger.Info("Gemini provider initialized",
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return &GeminiProvider{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		cb:             cb,
		retryConfig:    retry.DefaultConfig(),
	}, nil
}

func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

func (p *GeminiProvider) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m := p.client.GenerativeModel(p.model)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	var content string

	err := p.cb.Execute(ctx, func() error {
		return retry.Do(ctx, p.retryConfig, func() error {
			resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
			if err != nil {
				return fmt.Errorf("gemini generate: %w", err)
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				content = ""
				return nil
			}

			var b strings.Builder
			for _, part := range resp.Candidates[0].Content.Parts {
				if t, ok := part.(genai.Text); ok {
					b.WriteString(string(t))
				}
			}
			content = b.String()
			return nil
		})
	})
	if err != nil {
		return "", err
	}

	return content, nil
}

func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	em := p.client.EmbeddingModel(p.embeddingModel)

	var embedding []float32

	err := p.cb.Execute(ctx, func() error {
		return retry.Do(ctx, p.retryConfig, func() error {
			resp, err := em.EmbedContent(ctx, genai.Text(text))
			if err != nil {
				return fmt.Errorf("gemini embed: %w", err)
			}
			if resp.Embedding == nil {
				return fmt.Errorf("embedding response was empty")
			}
			embedding = resp.Embedding.Values
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return embedding, nil
}
