package config

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/neurosync-os/backend/internal/provider/anthropic"
)

const (
	ProviderArk       = "ark"
	ProviderAnthropic = "anthropic"
)

// Agent names, one per configuration block under "agents".
const (
	AgentRouter     = "router"
	AgentCompliance = "compliance"
	AgentHistory    = "history"
	AgentStrategy   = "strategy"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider         string `mapstructure:"provider"`
	APIKey           string `mapstructure:"api_key"`
	AccessKey        string `mapstructure:"access_key"`
	SecretKey        string `mapstructure:"secret_key"`
	Model            string `mapstructure:"model"`
	BaseURL          string `mapstructure:"base_url"`
	Region           string `mapstructure:"region"`
	AnthropicAPIKey  string `mapstructure:"anthropic_api_key"`
	AnthropicBaseURL string `mapstructure:"anthropic_base_url"`
	MaxTokens        int    `mapstructure:"max_tokens"`
}

// AgentConfig selects the model engine for one agent. Empty Model falls back
// to AIConfig.Model.
type AgentConfig struct {
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// AgentsConfig holds the per-agent model settings.
type AgentsConfig struct {
	Router     AgentConfig `mapstructure:"router"`
	Compliance AgentConfig `mapstructure:"compliance"`
	History    AgentConfig `mapstructure:"history"`
	Strategy   AgentConfig `mapstructure:"strategy"`
}

// Get returns the settings for the named agent.
func (a AgentsConfig) Get(name string) (AgentConfig, bool) {
	switch name {
	case AgentRouter:
		return a.Router, true
	case AgentCompliance:
		return a.Compliance, true
	case AgentHistory:
		return a.History, true
	case AgentStrategy:
		return a.Strategy, true
	default:
		return AgentConfig{}, false
	}
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderAnthropic:
		return c.AnthropicAPIKey != ""
	default:
		return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
	}
}

// ResolveModel returns the model identifier used for the agent.
func (c *Config) ResolveModel(agent string) string {
	if a, ok := c.Agents.Get(agent); ok && a.Model != "" {
		return a.Model
	}
	return c.AI.Model
}

// NewChatModel 使用配置为指定 agent 创建一个模型实例。
func (c *Config) NewChatModel(ctx context.Context, agent string) (model.BaseChatModel, error) {
	if !c.AI.Enabled() {
		return nil, fmt.Errorf("%s credentials or model missing", c.AI.Provider)
	}
	agentCfg, ok := c.Agents.Get(agent)
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", agent)
	}

	maxTokens := c.AI.MaxTokens
	if agentCfg.MaxTokens > 0 {
		maxTokens = agentCfg.MaxTokens
	}
	modelName := c.ResolveModel(agent)

	switch c.AI.Provider {
	case ProviderAnthropic:
		if modelName == "" {
			return nil, fmt.Errorf("no model configured for agent %q", agent)
		}
		return anthropic.NewChatModel(anthropic.Config{
			APIKey:      c.AI.AnthropicAPIKey,
			BaseURL:     c.AI.AnthropicBaseURL,
			Model:       modelName,
			MaxTokens:   int64(maxTokens),
			Temperature: &agentCfg.Temperature,
		})
	default:
		temperature := float32(agentCfg.Temperature)
		var tokens *int
		if maxTokens > 0 {
			tokens = &maxTokens
		}
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.AI.BaseURL,
			Region:      c.AI.Region,
			APIKey:      c.AI.APIKey,
			AccessKey:   c.AI.AccessKey,
			SecretKey:   c.AI.SecretKey,
			Model:       modelName,
			MaxTokens:   tokens,
			Temperature: &temperature,
		})
	}
}
