package llm

import (
	"errors"
	"testing"
)

func TestNewProvider_OpenAI(t *testing.T) {
	for _, apiType := range []string{"", "openai", " OpenAI "} {
		provider, err := NewProvider(Config{
			APIType:     apiType,
			Model:       "gpt-4o",
			APIKey:      "test-key",
			MaxTokens:   8192,
			Temperature: 0.2,
		})
		if err != nil {
			t.Fatalf("api_type %q: expected no error, got %v", apiType, err)
		}
		openai, ok := provider.(*OpenAIProvider)
		if !ok {
			t.Fatalf("api_type %q: expected *OpenAIProvider, got %T", apiType, provider)
		}
		if openai.apiKey != "test-key" || openai.model != "gpt-4o" {
			t.Errorf("api_type %q: unexpected provider fields %+v", apiType, openai)
		}
		if openai.maxTokens != 8192 || openai.temperature != 0.2 {
			t.Errorf("api_type %q: sampling settings not carried over", apiType)
		}
		if openai.allowEmptyKey {
			t.Errorf("api_type %q: remote provider must require a key", apiType)
		}
	}
}

func TestNewProvider_Ollama(t *testing.T) {
	provider, err := NewProvider(Config{APIType: "ollama", Model: "llama3"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	openai, ok := provider.(*OpenAIProvider)
	if !ok {
		t.Fatalf("expected *OpenAIProvider, got %T", provider)
	}
	if openai.baseURL != "http://localhost:11434/v1" {
		t.Errorf("expected default ollama base URL, got %s", openai.baseURL)
	}
	if !openai.allowEmptyKey {
		t.Error("expected ollama provider to allow an empty key")
	}

	custom, err := NewProvider(Config{APIType: "ollama", Model: "llama3", BaseURL: "http://gpu-box:11434/v1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := custom.(*OpenAIProvider).baseURL; got != "http://gpu-box:11434/v1" {
		t.Errorf("expected configured base URL, got %s", got)
	}
}

func TestNewProvider_Unsupported(t *testing.T) {
	_, err := NewProvider(Config{APIType: "azure"})
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
	var unsupported ErrUnsupportedProvider
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected ErrUnsupportedProvider, got %T", err)
	}
	if unsupported.Provider != "azure" {
		t.Errorf("expected provider 'azure', got %q", unsupported.Provider)
	}
}

func TestDefaultIfEmpty(t *testing.T) {
	if got := defaultIfEmpty("", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
	if got := defaultIfEmpty("value", "fallback"); got != "value" {
		t.Errorf("expected value, got %q", got)
	}
}
