package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AgentBackendInline   = "inline"
	AgentBackendTemporal = "temporal"
)

type Config struct {
	Port              string        `mapstructure:"port"`
	SettingsPath      string        `mapstructure:"settings_path"`
	PreserveUnknown   bool          `mapstructure:"settings_preserve_unknown"`
	AgentBackend      string        `mapstructure:"agent_backend"`
	AgentTimeout      time.Duration `mapstructure:"agent_timeout"`
	SessionIdleTTL    time.Duration `mapstructure:"session_idle_ttl"`
	MaxSessions       int           `mapstructure:"session_max"`
	TemporalAddress   string        `mapstructure:"temporal_address"`
	TemporalTaskQueue string        `mapstructure:"temporal_task_queue"`
	Logger            LoggerConfig  `mapstructure:"logger"`
}

type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	ServiceName string `mapstructure:"service_name"`
	LogFile     string `mapstructure:"log_file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
}

var envBindings = map[string]string{
	"port":                      "CONSOLE_PORT",
	"settings_path":             "SETTINGS_PATH",
	"settings_preserve_unknown": "SETTINGS_PRESERVE_UNKNOWN",
	"agent_backend":             "AGENT_BACKEND",
	"agent_timeout":             "AGENT_TIMEOUT",
	"session_idle_ttl":          "SESSION_IDLE_TTL",
	"session_max":               "SESSION_MAX",
	"temporal_address":          "TEMPORAL_ADDRESS",
	"temporal_task_queue":       "TEMPORAL_TASK_QUEUE",
	"logger.level":              "LOG_LEVEL",
	"logger.format":             "LOG_FORMAT",
	"logger.log_file":           "LOG_FILE",
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	return v
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8501")
	v.SetDefault("settings_path", "config/config.toml")
	v.SetDefault("settings_preserve_unknown", false)
	v.SetDefault("agent_backend", AgentBackendInline)
	v.SetDefault("agent_timeout", "10m")
	v.SetDefault("session_idle_ttl", "30m")
	v.SetDefault("session_max", 1000)
	v.SetDefault("temporal_address", "localhost:7233")
	v.SetDefault("temporal_task_queue", "agent-console")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "agent-console")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
}

// Load reads an optional config file (set through the "config_file" key)
// and unmarshals the result.
func Load(v *viper.Viper) (Config, error) {
	if file := strings.TrimSpace(v.GetString("config_file")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.AgentBackend = strings.ToLower(strings.TrimSpace(cfg.AgentBackend))
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.AgentBackend {
	case AgentBackendInline, AgentBackendTemporal:
	default:
		return fmt.Errorf("agent_backend must be %q or %q, got %q", AgentBackendInline, AgentBackendTemporal, c.AgentBackend)
	}
	if c.AgentTimeout < 0 {
		return fmt.Errorf("agent_timeout must not be negative")
	}
	if c.SessionIdleTTL < 0 || c.MaxSessions < 0 {
		return fmt.Errorf("session_idle_ttl and session_max must not be negative")
	}
	if strings.TrimSpace(c.SettingsPath) == "" {
		return fmt.Errorf("settings_path is required")
	}
	if c.AgentBackend == AgentBackendTemporal && strings.TrimSpace(c.TemporalTaskQueue) == "" {
		return fmt.Errorf("temporal_task_queue is required for the temporal backend")
	}
	return nil
}
