package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/agent"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/observability"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/personality"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/settings"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/workflows"
)

var (
	loadConfig      = config.Load
	newLogger       = observability.NewLogger
	dialTemporal    = client.Dial
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:           "agent-console-worker",
		Short:         "Temporal worker that runs agent turns for the console",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return run(v)
		},
	}
	flags := cmd.Flags()
	flags.String("config-file", "", "process configuration file (yaml, toml or json)")
	flags.String("settings-path", "config/config.toml", "agent configuration file shared with the console")
	flags.String("temporal-address", "localhost:7233", "Temporal frontend address")
	flags.String("task-queue", workflows.DefaultTaskQueue, "Temporal task queue to poll")
	flags.String("log-level", "info", "log level")
	for key, flag := range map[string]string{
		"config_file":         "config-file",
		"settings_path":       "settings-path",
		"temporal_address":    "temporal-address",
		"temporal_task_queue": "task-queue",
		"logger.level":        "log-level",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

func run(v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logger)
	defer func() { _ = logger.Sync() }()

	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
		Logger:   observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	store := settings.NewStore(cfg.SettingsPath, settings.WithLogger(logger))
	activities := workflows.NewActivities(store,
		agent.WithLogger(logger),
		agent.WithPersona(personality.Resolve()),
	)

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.AgentWorkflow)
	w.RegisterActivityWithOptions(activities.RunAgent, activity.RegisterOptions{Name: workflows.RunAgentActivity})

	logger.Info("agent worker started",
		zap.String("task_queue", cfg.TemporalTaskQueue),
		zap.String("settings_path", store.Path()),
	)
	if err := w.Run(workerInterrupt()); err != nil {
		return err
	}
	return nil
}
