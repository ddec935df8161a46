package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	AI         AIConfig         `mapstructure:"ai"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Session    SessionConfig    `mapstructure:"session"`
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	// Port accepts "8080", ":8080" or "127.0.0.1:8080".
	Port string `mapstructure:"port"`
	Addr string `mapstructure:"-"`
}

// LogConfig selects the zap level and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ClassifierConfig tunes intent classification.
type ClassifierConfig struct {
	Threshold     float64       `mapstructure:"threshold"`
	HistoryWindow int           `mapstructure:"history_window"`
	LLMEnabled    bool          `mapstructure:"llm_enabled"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// DispatchConfig tunes the per-turn controller.
type DispatchConfig struct {
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
	RetryCount     int           `mapstructure:"retry_count"`
	MaxInFlight    int           `mapstructure:"max_in_flight"`
	HistoryWindow  int           `mapstructure:"history_window"`
}

// SessionConfig selects the session store and its retention policy.
type SessionConfig struct {
	Backend       string        `mapstructure:"backend"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Load 读取默认值、可选的 YAML 配置文件以及环境变量。path 为空时跳过配置文件。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NEUROSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the controller cannot run with.
func (c *Config) Validate() error {
	if c.Classifier.Threshold < 0 || c.Classifier.Threshold > 1 {
		return fmt.Errorf("classifier.threshold must be within [0,1], got %v", c.Classifier.Threshold)
	}
	if c.Classifier.HistoryWindow < 1 {
		return fmt.Errorf("classifier.history_window must be >= 1, got %d", c.Classifier.HistoryWindow)
	}
	if c.Dispatch.HandlerTimeout <= 0 {
		return fmt.Errorf("dispatch.handler_timeout must be positive, got %s", c.Dispatch.HandlerTimeout)
	}
	if c.Dispatch.RetryCount < 0 {
		return fmt.Errorf("dispatch.retry_count must be >= 0, got %d", c.Dispatch.RetryCount)
	}
	if c.Dispatch.MaxInFlight < 1 {
		return fmt.Errorf("dispatch.max_in_flight must be >= 1, got %d", c.Dispatch.MaxInFlight)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive, got %s", c.Session.TTL)
	}
	switch c.Session.Backend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(c.Session.SQLitePath) == "" {
			return fmt.Errorf("session.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown session.backend %q", c.Session.Backend)
	}
	switch c.AI.Provider {
	case ProviderArk, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown ai.provider %q", c.AI.Provider)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("ai.provider", ProviderArk)
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.access_key", "")
	v.SetDefault("ai.secret_key", "")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.base_url", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("ai.region", "cn-beijing")
	v.SetDefault("ai.anthropic_api_key", "")
	v.SetDefault("ai.anthropic_base_url", "")
	v.SetDefault("ai.max_tokens", 1024)

	// Router and strategy ran deterministic, compliance slightly warmer.
	for agent, temp := range map[string]float64{
		AgentRouter:     0,
		AgentCompliance: 0.1,
		AgentHistory:    0,
		AgentStrategy:   0,
	} {
		v.SetDefault("agents."+agent+".model", "")
		v.SetDefault("agents."+agent+".temperature", temp)
		v.SetDefault("agents."+agent+".max_tokens", 0)
	}

	v.SetDefault("classifier.threshold", 0.5)
	v.SetDefault("classifier.history_window", 6)
	v.SetDefault("classifier.llm_enabled", true)
	v.SetDefault("classifier.timeout", 10*time.Second)

	v.SetDefault("dispatch.handler_timeout", 30*time.Second)
	v.SetDefault("dispatch.retry_count", 1)
	v.SetDefault("dispatch.max_in_flight", 16)
	v.SetDefault("dispatch.history_window", 10)

	v.SetDefault("session.backend", BackendMemory)
	v.SetDefault("session.sqlite_path", "data/sessions.db")
	v.SetDefault("session.ttl", 2*time.Hour)
	v.SetDefault("session.sweep_interval", 5*time.Minute)
}

// bindLegacyEnv keeps the variable names used by earlier deployments.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string][]string{
		"server.port":          {"NEUROSYNC_SERVER_PORT", "PORT"},
		"ai.api_key":           {"NEUROSYNC_AI_API_KEY", "ARK_API_KEY"},
		"ai.access_key":        {"NEUROSYNC_AI_ACCESS_KEY", "ARK_ACCESS_KEY"},
		"ai.secret_key":        {"NEUROSYNC_AI_SECRET_KEY", "ARK_SECRET_KEY"},
		"ai.base_url":          {"NEUROSYNC_AI_BASE_URL", "ARK_BASE_URL"},
		"ai.region":            {"NEUROSYNC_AI_REGION", "ARK_REGION"},
		"ai.model":             {"NEUROSYNC_AI_MODEL", "Model"},
		"ai.anthropic_api_key": {"NEUROSYNC_AI_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"},
	}
	for key, envs := range legacy {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("binding env for %s: %w", key, err)
		}
	}
	return nil
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}
