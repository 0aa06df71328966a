package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/agent"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/api"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/observability"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/personality"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/session"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/settings"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig   = config.Load
	newLogger    = observability.NewLogger
	dialTemporal = client.Dial
	newServer    = func(store *settings.Store, sessions *session.Manager, broker *events.Broker, cfg config.Config, opts ...api.Option) server {
		return api.NewServer(store, sessions, broker, cfg, opts...)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:           "agent-console",
		Short:         "Browser control panel for an AI agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v)
		},
	}
	bindFlags(cmd, v)
	return cmd
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()
	flags.String("config-file", "", "process configuration file (yaml, toml or json)")
	flags.String("port", "8501", "HTTP listen port")
	flags.String("settings-path", "config/config.toml", "agent configuration file edited by the panel")
	flags.Bool("preserve-unknown", false, "keep keys the editors do not know about when saving")
	flags.String("agent-backend", config.AgentBackendInline, "where agent turns run: inline or temporal")
	flags.Duration("agent-timeout", 10*time.Minute, "maximum duration of one agent turn")
	flags.String("log-level", "info", "log level")

	for key, flag := range map[string]string{
		"config_file":               "config-file",
		"port":                      "port",
		"settings_path":             "settings-path",
		"settings_preserve_unknown": "preserve-unknown",
		"agent_backend":             "agent-backend",
		"agent_timeout":             "agent-timeout",
		"logger.level":              "log-level",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
}

func run(ctx context.Context, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logger)
	defer func() { _ = logger.Sync() }()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := notifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := settings.NewStore(cfg.SettingsPath, settings.WithLogger(logger))
	broker := events.NewBroker()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.MustNewMetrics(registry)

	factory, closeFactory, err := agentFactory(cfg, store, logger)
	if err != nil {
		return err
	}
	defer closeFactory()

	sessions := session.NewManager(factory,
		session.WithLogger(logger),
		session.WithMetrics(metrics),
		session.WithPublisher(broker),
		session.WithTimeout(cfg.AgentTimeout),
		session.WithIdleTTL(cfg.SessionIdleTTL),
		session.WithMaxSessions(cfg.MaxSessions),
	)
	go sessions.RunSweeper(ctx, 0)
	srv := newServer(store, sessions, broker, cfg, api.WithLogger(logger), api.WithMetrics(metrics, registry))

	logger.Info("agent console starting",
		zap.String("settings_path", store.Path()),
		zap.String("agent_backend", cfg.AgentBackend),
		zap.Duration("agent_timeout", cfg.AgentTimeout),
		zap.Duration("session_idle_ttl", cfg.SessionIdleTTL),
		zap.Int("session_max", cfg.MaxSessions),
	)
	if err := srv.Start(ctx, ":"+cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("agent console stopped")
	return nil
}

// agentFactory returns the per-session agent constructor for the configured
// backend and a cleanup func for whatever it dialed.
func agentFactory(cfg config.Config, store *settings.Store, logger *zap.Logger) (session.AgentFactory, func(), error) {
	if cfg.AgentBackend != config.AgentBackendTemporal {
		persona := personality.Resolve()
		return func(string) (session.Agent, error) {
			return agent.New(store, agent.WithLogger(logger), agent.WithPersona(persona)), nil
		}, func() {}, nil
	}

	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
		Logger:   observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial temporal: %w", err)
	}
	closeClient := func() {
		if temporalClient != nil {
			temporalClient.Close()
		}
	}
	return func(sessionID string) (session.Agent, error) {
		return workflows.NewAgent(temporalClient, cfg.TemporalTaskQueue, sessionID), nil
	}, closeClient, nil
}
