package llm

import (
	"context"
	"strings"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Provider interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Config mirrors the llm section of the configuration document. APIType
// follows the optional api_type key; empty means OpenAI.
type Config struct {
	APIType     string
	Model       string
	BaseURL     string
	APIKey      string
	MaxTokens   int
	Temperature float64
}

func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.APIType)) {
	case "", "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}), nil
	case "ollama":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:        cfg.APIKey,
			Model:         cfg.Model,
			BaseURL:       defaultIfEmpty(cfg.BaseURL, "http://localhost:11434/v1"),
			MaxTokens:     cfg.MaxTokens,
			Temperature:   cfg.Temperature,
			AllowEmptyKey: true,
		}), nil
	default:
		return nil, ErrUnsupportedProvider{Provider: cfg.APIType}
	}
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
