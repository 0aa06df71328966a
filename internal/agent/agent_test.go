package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/settings"
)

type staticDocuments struct {
	doc settings.Document
	err error
}

func (s staticDocuments) Load() (settings.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.doc.Clone(), nil
}

type recordingProvider struct {
	reply    string
	err      error
	received [][]llm.Message
}

func (p *recordingProvider) Generate(_ context.Context, messages []llm.Message) (string, error) {
	p.received = append(p.received, append([]llm.Message(nil), messages...))
	return p.reply, p.err
}

func stubProvider(t *testing.T, provider llm.Provider) *llm.Config {
	t.Helper()
	var captured llm.Config
	original := newLLMProvider
	newLLMProvider = func(cfg llm.Config) (llm.Provider, error) {
		captured = cfg
		return provider, nil
	}
	t.Cleanup(func() { newLLMProvider = original })
	return &captured
}

func testDocument() settings.Document {
	doc := settings.NewDocument()
	doc[settings.SectionLLM] = map[string]any{
		"model":       "gpt-4o",
		"base_url":    "https://api.openai.com/v1",
		"api_key":     "sk-test",
		"max_tokens":  int64(4096),
		"temperature": 0.5,
		"api_type":    "openai",
	}
	doc[settings.SectionSearch] = map[string]any{"engine": "DuckDuckGo"}
	doc[settings.SectionSandbox] = map[string]any{
		"use_sandbox":     true,
		"image":           "python:3.12-slim",
		"work_dir":        "/workspace",
		"timeout":         int64(120),
		"network_enabled": false,
	}
	return doc
}

func TestRunUsesDocumentAndKeepsHistory(t *testing.T) {
	provider := &recordingProvider{reply: "Found three results."}
	cfg := stubProvider(t, provider)
	a := New(staticDocuments{doc: testDocument()}, WithPersona("You are a test agent."))

	reply, err := a.Run(context.Background(), "search for go releases")
	require.NoError(t, err)
	require.Equal(t, "Found three results.", reply)
	require.Equal(t, llm.Config{
		APIType:     "openai",
		Model:       "gpt-4o",
		BaseURL:     "https://api.openai.com/v1",
		APIKey:      "sk-test",
		MaxTokens:   4096,
		Temperature: 0.5,
	}, *cfg)

	first := provider.received[0]
	require.Len(t, first, 2)
	require.Equal(t, "system", first[0].Role)
	require.True(t, strings.HasPrefix(first[0].Content, "You are a test agent."))
	require.Equal(t, llm.Message{Role: "user", Content: "search for go releases"}, first[1])

	provider.reply = "Second answer."
	_, err = a.Run(context.Background(), "and the one before?")
	require.NoError(t, err)
	second := provider.received[1]
	require.Len(t, second, 4)
	require.Equal(t, llm.Message{Role: "assistant", Content: "Found three results."}, second[2])
	require.Len(t, a.History(), 4)
}

func TestRunFailureDoesNotRecordHistory(t *testing.T) {
	provider := &recordingProvider{err: errors.New("LLM request failed: 500 Internal Server Error")}
	stubProvider(t, provider)
	a := New(staticDocuments{doc: testDocument()})

	_, err := a.Run(context.Background(), "hello")
	require.EqualError(t, err, "LLM request failed: 500 Internal Server Error")
	require.Empty(t, a.History())
}

func TestRunLoadError(t *testing.T) {
	stubProvider(t, &recordingProvider{})
	loadErr := &settings.ConfigReadError{Path: "config/config.toml", Err: errors.New("boom")}
	a := New(staticDocuments{err: loadErr})

	_, err := a.Run(context.Background(), "hello")
	var readErr *settings.ConfigReadError
	require.ErrorAs(t, err, &readErr)
}

func TestRunUnsupportedProvider(t *testing.T) {
	doc := testDocument()
	doc[settings.SectionLLM].(map[string]any)["api_type"] = "azure"
	a := New(staticDocuments{doc: doc})

	_, err := a.Run(context.Background(), "hello")
	require.ErrorAs(t, err, new(llm.ErrUnsupportedProvider))
}

func TestWithHistorySeedsConversation(t *testing.T) {
	provider := &recordingProvider{reply: "ok"}
	stubProvider(t, provider)
	seed := []llm.Message{
		{Role: "user", Content: "earlier"},
		{Role: "assistant", Content: "earlier reply"},
	}
	a := New(staticDocuments{doc: testDocument()}, WithHistory(seed))
	seed[0].Content = "mutated"

	_, err := a.Run(context.Background(), "now")
	require.NoError(t, err)
	require.Equal(t, "earlier", provider.received[0][1].Content)
}

func TestSystemPrompt(t *testing.T) {
	original := now
	now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { now = original })

	doc := testDocument()
	doc[settings.SectionBrowser] = map[string]any{
		"headless": true,
		"cdp_url":  "http://localhost:9222",
		"proxy":    map[string]any{"server": "http://proxy:8080"},
	}
	prompt := SystemPrompt(doc, "Persona.")

	require.True(t, strings.HasPrefix(prompt, "Persona.\n\nRuntime context:"))
	require.Contains(t, prompt, "2025-03-01T12:00:00Z")
	require.Contains(t, prompt, "Preferred search engine: DuckDuckGo.")
	require.Contains(t, prompt, "headless=true")
	require.Contains(t, prompt, "over CDP at http://localhost:9222")
	require.Contains(t, prompt, "through proxy http://proxy:8080")
	require.Contains(t, prompt, "image python:3.12-slim, timeout 120s, network disabled) with working directory /workspace.")

	empty := SystemPrompt(settings.NewDocument(), "")
	require.True(t, strings.HasPrefix(empty, "Runtime context:"))
	require.Contains(t, empty, "No sandbox is configured")
	require.Contains(t, empty, "Preferred search engine: Google.")
}

func TestClampConversationWindow(t *testing.T) {
	messages := []llm.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "aaaa"},
		{Role: "assistant", Content: "bbbb"},
		{Role: "user", Content: "cc"},
	}

	require.Equal(t, messages, clampConversationWindow(messages, 0, 0))

	byCount := clampConversationWindow(messages, 2, 0)
	require.Equal(t, []llm.Message{messages[0], messages[2], messages[3]}, byCount)

	byChars := clampConversationWindow(messages, 0, 6)
	require.Equal(t, []llm.Message{messages[0], messages[2], messages[3]}, byChars)

	newestAlwaysKept := clampConversationWindow(messages, 0, 1)
	require.Equal(t, []llm.Message{messages[0], messages[3]}, newestAlwaysKept)
}

func TestRunBoundsStoredHistory(t *testing.T) {
	provider := &recordingProvider{reply: "done"}
	stubProvider(t, provider)
	a := New(staticDocuments{doc: testDocument()})

	for i := 0; i < maxConversationMessages; i++ {
		_, err := a.Run(context.Background(), "step")
		require.NoError(t, err)
	}

	history := a.History()
	require.LessOrEqual(t, len(history), maxConversationMessages)
	require.Equal(t, "user", history[0].Role)
	require.Equal(t, llm.Message{Role: "assistant", Content: "done"}, history[len(history)-1])
	require.LessOrEqual(t, len(provider.received[len(provider.received)-1]), maxConversationMessages+1)
}

func TestTrimHistory(t *testing.T) {
	long := strings.Repeat("x", maxConversationChars/2)
	history := []llm.Message{
		{Role: "user", Content: long},
		{Role: "assistant", Content: long},
		{Role: "user", Content: "short"},
		{Role: "assistant", Content: "reply"},
	}

	trimmed := TrimHistory(history)
	require.Equal(t, history[2:], trimmed)
	require.Empty(t, TrimHistory(nil))
}
