// Package anthropic adapts the Anthropic Messages API to eino's chat model
// interface so prompt chains can run against either provider.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const defaultMaxTokens = 1024

// Config selects the model and credentials.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature *float64
	// MaxRetries overrides the SDK's retry count when non-nil.
	MaxRetries *int
}

// ChatModel implements model.BaseChatModel over the Messages API.
type ChatModel struct {
	client sdk.Client
	cfg    Config
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// NewChatModel builds a chat model; the API key is required.
func NewChatModel(cfg Config) (*ChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("anthropic model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries != nil {
		opts = append(opts, option.WithMaxRetries(*cfg.MaxRetries))
	}

	return &ChatModel{client: sdk.NewClient(opts...), cfg: cfg}, nil
}

// Generate sends the conversation and returns the concatenated text blocks.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	params, err := m.buildParams(input, opts...)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(sdk.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	return &schema.Message{
		Role:    schema.Assistant,
		Content: text.String(),
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: string(resp.StopReason),
			Usage: &schema.TokenUsage{
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
				TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			},
		},
	}, nil
}

// Stream returns the full response as a single-chunk stream.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *ChatModel) buildParams(input []*schema.Message, opts ...model.Option) (sdk.MessageNewParams, error) {
	common := model.GetCommonOptions(&model.Options{}, opts...)

	params := sdk.MessageNewParams{
		Model:     sdk.Model(m.cfg.Model),
		MaxTokens: m.cfg.MaxTokens,
	}
	if common.Model != nil && *common.Model != "" {
		params.Model = sdk.Model(*common.Model)
	}
	if common.MaxTokens != nil && *common.MaxTokens > 0 {
		params.MaxTokens = int64(*common.MaxTokens)
	}
	switch {
	case common.Temperature != nil:
		params.Temperature = sdk.Float(float64(*common.Temperature))
	case m.cfg.Temperature != nil:
		params.Temperature = sdk.Float(*m.cfg.Temperature)
	}

	var system []string
	for _, msg := range input {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.Assistant:
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
		}
	}
	if len(params.Messages) == 0 {
		return params, errors.New("anthropic: no user or assistant messages to send")
	}
	if len(system) > 0 {
		params.System = []sdk.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	return params, nil
}
