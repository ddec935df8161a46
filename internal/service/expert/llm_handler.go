package expert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/neurosync-os/backend/internal/model/intent"
	profile "github.com/neurosync-os/backend/internal/model/expert"
	"github.com/neurosync-os/backend/pkg/logger"
)

// LLMHandler answers with a chat model configured by an expert profile.
type LLMHandler struct {
	profile profile.Profile
	chain   compose.Runnable[map[string]any, *schema.Message]
	logger  *zap.Logger
}

// NewLLMHandler compiles the prompt chain for p.
func NewLLMHandler(ctx context.Context, p profile.Profile, chatModel model.BaseChatModel, log *zap.Logger) (*LLMHandler, error) {
	if p.ID == "" {
		return nil, errors.New("expert profile id is required")
	}
	if len(p.Intents) == 0 {
		return nil, fmt.Errorf("expert %q serves no intents", p.ID)
	}
	if chatModel == nil {
		return nil, fmt.Errorf("expert %q: chat model is required", p.ID)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s chain: %w", p.ID, err)
	}

	return &LLMHandler{
		profile: p,
		chain:   runnable,
		logger:  logger.OrNop(log).Named("expert").With(zap.String("handler", p.ID)),
	}, nil
}

func (h *LLMHandler) ID() string              { return h.profile.ID }
func (h *LLMHandler) Name() string            { return h.profile.Name }
func (h *LLMHandler) Intents() []intent.Label { return h.profile.Intents }

// Profile returns the profile the handler was built from.
func (h *LLMHandler) Profile() profile.Profile { return h.profile }

// Handle runs one chain invocation. Only deadline expiry is retryable; model
// errors and empty answers are reported as they are.
func (h *LLMHandler) Handle(ctx context.Context, hc Context) (Response, error) {
	query := strings.TrimSpace(hc.Utterance)
	if query == "" {
		return Response{}, Permanent(ErrInvalidInput)
	}

	msg, err := h.chain.Invoke(ctx, map[string]any{
		"system":  BuildSystemPrompt(h.profile, hc.Memory),
		"history": buildHistoryMessages(hc.History),
		"query":   query,
	})
	if err != nil {
		return Response{}, fmt.Errorf("%s chain: %w", h.profile.ID, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return Response{}, Permanent(ErrEmptyResponse)
	}

	h.logger.Debug("expert responded",
		zap.String("session_id", hc.SessionID),
		zap.Int("length", len(msg.Content)),
	)

	meta := map[string]any{"title": h.profile.Title}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		meta["total_tokens"] = msg.ResponseMeta.Usage.TotalTokens
	}
	return Response{Text: strings.TrimSpace(msg.Content), Metadata: meta}, nil
}
