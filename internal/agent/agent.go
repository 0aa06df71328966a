package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/personality"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/settings"
)

const (
	maxConversationMessages = 80
	maxConversationChars    = 120000
)

var (
	newLLMProvider = llm.NewProvider
	now            = time.Now
)

// DocumentLoader supplies the current configuration document.
// *settings.Store satisfies it.
type DocumentLoader interface {
	Load() (settings.Document, error)
}

// LLMAgent answers prompts with the model configured in the document's llm
// section. The document is re-read on every run so saved settings apply to
// the next submission without restarting anything.
type LLMAgent struct {
	documents DocumentLoader
	logger    *zap.Logger
	persona   string

	mu      sync.Mutex
	history []llm.Message
}

type Option func(*LLMAgent)

func WithLogger(logger *zap.Logger) Option {
	return func(a *LLMAgent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithHistory seeds the conversation memory, e.g. when a workflow activity
// rebuilds an agent for one turn.
func WithHistory(history []llm.Message) Option {
	return func(a *LLMAgent) {
		a.history = append([]llm.Message(nil), history...)
	}
}

func WithPersona(persona string) Option {
	return func(a *LLMAgent) {
		if trimmed := strings.TrimSpace(persona); trimmed != "" {
			a.persona = trimmed
		}
	}
}

func New(documents DocumentLoader, opts ...Option) *LLMAgent {
	a := &LLMAgent{
		documents: documents,
		logger:    zap.NewNop(),
		persona:   personality.Default,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *LLMAgent) Run(ctx context.Context, prompt string) (string, error) {
	doc, err := a.documents.Load()
	if err != nil {
		return "", fmt.Errorf("load configuration: %w", err)
	}
	cfg := ProviderConfig(doc)
	provider, err := newLLMProvider(cfg)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	messages := make([]llm.Message, 0, len(a.history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: SystemPrompt(doc, a.persona)})
	messages = append(messages, a.history...)
	a.mu.Unlock()
	messages = append(messages, llm.Message{Role: "user", Content: prompt})
	messages = clampConversationWindow(messages, maxConversationMessages, maxConversationChars)

	started := now()
	reply, err := provider.Generate(ctx, messages)
	if err != nil {
		return "", err
	}
	a.logger.Debug("model replied",
		zap.String("model", cfg.Model),
		zap.Int("messages", len(messages)),
		zap.Duration("elapsed", now().Sub(started)),
	)

	a.mu.Lock()
	a.history = TrimHistory(append(a.history,
		llm.Message{Role: "user", Content: prompt},
		llm.Message{Role: "assistant", Content: reply},
	))
	a.mu.Unlock()
	return reply, nil
}

// History returns a copy of the conversation memory.
func (a *LLMAgent) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Message(nil), a.history...)
}

// ProviderConfig maps the llm section onto a provider configuration.
// api_type is not part of the form but is honored when present.
func ProviderConfig(doc settings.Document) llm.Config {
	model := settings.FormFromDocument(doc).LLM
	return llm.Config{
		APIType:     doc.Section(settings.SectionLLM).String("api_type", ""),
		Model:       model.Model,
		BaseURL:     model.BaseURL,
		APIKey:      model.APIKey,
		MaxTokens:   model.MaxTokens,
		Temperature: model.Temperature,
	}
}

// SystemPrompt describes the persona and the browser, search and sandbox
// settings the agent operates under.
func SystemPrompt(doc settings.Document, persona string) string {
	form := settings.FormFromDocument(doc)
	runtime := []string{
		"Runtime context:",
		fmt.Sprintf("- Current date/time (UTC): %s", now().UTC().Format(time.RFC3339)),
		fmt.Sprintf("- Preferred search engine: %s.", form.Search.Engine),
		fmt.Sprintf("- Browser: headless=%t, security disabled=%t.", form.Browser.Headless, form.Browser.DisableSecurity),
	}
	switch {
	case form.Browser.CDPURL != "":
		runtime = append(runtime, fmt.Sprintf("- Browser connects over CDP at %s.", form.Browser.CDPURL))
	case form.Browser.WSSURL != "":
		runtime = append(runtime, fmt.Sprintf("- Browser connects over WebSocket at %s.", form.Browser.WSSURL))
	}
	if form.Browser.ProxyServer != "" {
		runtime = append(runtime, fmt.Sprintf("- Browser traffic goes through proxy %s.", form.Browser.ProxyServer))
	}
	if form.Sandbox.UseSandbox {
		line := fmt.Sprintf("- Code runs in a sandbox (image %s, timeout %ds, network %s)",
			defaultString(form.Sandbox.Image, "default"),
			form.Sandbox.Timeout,
			enabled(form.Sandbox.NetworkEnabled),
		)
		if form.Sandbox.WorkDir != "" {
			line += fmt.Sprintf(" with working directory %s", form.Sandbox.WorkDir)
		}
		runtime = append(runtime, line+".")
	} else {
		runtime = append(runtime, "- No sandbox is configured; do not claim code was executed.")
	}
	if form.Vision.Model != "" {
		runtime = append(runtime, fmt.Sprintf("- Screenshots are interpreted by %s.", form.Vision.Model))
	}

	blocks := []string{}
	if trimmed := strings.TrimSpace(persona); trimmed != "" {
		blocks = append(blocks, trimmed)
	}
	blocks = append(blocks, strings.Join(runtime, "\n"))
	return strings.Join(blocks, "\n\n")
}

func enabled(value bool) string {
	if value {
		return "enabled"
	}
	return "disabled"
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// TrimHistory bounds stored conversation memory to the window the model is
// sent. The result never starts with an assistant turn.
func TrimHistory(history []llm.Message) []llm.Message {
	trimmed := clampConversationWindow(history, maxConversationMessages, maxConversationChars)
	for len(trimmed) > 1 && trimmed[0].Role == "assistant" {
		trimmed = trimmed[1:]
	}
	return trimmed
}

// clampConversationWindow keeps leading system messages and the most recent
// tail that fits both limits. The newest message is always kept.
func clampConversationWindow(messages []llm.Message, maxMessages int, maxChars int) []llm.Message {
	if len(messages) == 0 || (maxMessages <= 0 && maxChars <= 0) {
		return messages
	}

	prefixCount := 0
	for prefixCount < len(messages) && messages[prefixCount].Role == "system" {
		prefixCount++
	}
	prefix := messages[:prefixCount]
	tail := messages[prefixCount:]

	start := len(tail)
	totalChars := 0
	for start > 0 {
		current := len([]rune(tail[start-1].Content))
		kept := len(tail) - start
		if kept > 0 {
			if maxMessages > 0 && kept >= maxMessages {
				break
			}
			if maxChars > 0 && totalChars+current > maxChars {
				break
			}
		}
		totalChars += current
		start--
	}

	result := make([]llm.Message, 0, len(prefix)+len(tail)-start)
	result = append(result, prefix...)
	return append(result, tail[start:]...)
}
