package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/session"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/settings"
)

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Subscribe(ctx context.Context, sessionID string) <-chan events.SessionEvent {
	args := m.Called(ctx, sessionID)
	if value := args.Get(0); value != nil {
		if ch, ok := value.(chan events.SessionEvent); ok {
			return ch
		}
		if ch, ok := value.(<-chan events.SessionEvent); ok {
			return ch
		}
	}
	return nil
}

type MockAgent struct {
	mock.Mock
}

func (m *MockAgent) Run(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	args := m.Called(ctx, messages)
	return args.String(0), args.Error(1)
}

const sampleConfig = `[llm]
model = "gpt-4"
base_url = "https://api.openai.com/v1"
api_key = "sk-secret-abcd"
max_tokens = 4096
temperature = 0.0
api_type = "openai"

[browser]
headless = false
disable_security = true

[browser.proxy]
server = "http://proxy:8080"
password = "hunter2"

[search]
engine = "Google"

[sandbox]
use_sandbox = false
`

// testConfigStore returns a store whose file holds content, or no file at
// all when content is empty.
func testConfigStore(t *testing.T, content string) *settings.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return settings.NewStore(path)
}

func testManager(agent session.Agent, opts ...session.Option) *session.Manager {
	return session.NewManager(func(string) (session.Agent, error) {
		return agent, nil
	}, opts...)
}

func newTestServer(t *testing.T, store SettingsStore, sessions SessionManager, broker Broker, cfg config.Config) *httptest.Server {
	t.Helper()
	return newTestServerFrom(t, NewServer(store, sessions, broker, cfg))
}

func newTestServerFrom(t *testing.T, server *Server) *httptest.Server {
	t.Helper()
	httpServer := httptest.NewServer(server.Router())
	t.Cleanup(httpServer.Close)
	return httpServer
}

// noRedirectClient returns 303 responses instead of following them.
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
