package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	analysis "github.com/neurosync-os/backend/internal/analysis/intent"
	"github.com/neurosync-os/backend/internal/model/chat"
	"github.com/neurosync-os/backend/internal/model/intent"
	"github.com/neurosync-os/backend/pkg/logger"
)

const (
	defaultThreshold     = 0.5
	defaultHistoryWindow = 6
	defaultTimeout       = 10 * time.Second

	SourceLLM       = "llm"
	SourceHeuristic = "heuristic"
)

// Config 控制意图分类服务的行为。
type Config struct {
	// LLMEnabled selects the model-backed classifier when a chat model is given.
	LLMEnabled    bool
	Threshold     float64
	HistoryWindow int
	Timeout       time.Duration
}

// Service classifies utterances into the closed intent set. Failures of the
// model call are absorbed into an unclassified decision.
type Service struct {
	enabled       bool
	classifier    compose.Runnable[map[string]any, *schema.Message]
	fallback      func(string) analysis.Result
	threshold     float64
	historyWindow int
	timeout       time.Duration
	logger        *zap.Logger
}

// NewService 创建意图分类服务。chatModel 为空时使用关键词规则。
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg Config, log *zap.Logger) (*Service, error) {
	threshold := cfg.Threshold
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("classifier threshold must be within [0,1], got %v", threshold)
	}
	historyWindow := cfg.HistoryWindow
	if historyWindow <= 0 {
		historyWindow = defaultHistoryWindow
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	svc := &Service{
		enabled:       cfg.LLMEnabled && chatModel != nil,
		fallback:      analysis.Analyze,
		threshold:     threshold,
		historyWindow: historyWindow,
		timeout:       timeout,
		logger:        logger.OrNop(log).Named("intent"),
	}
	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile intent classifier chain: %w", err)
	}

	svc.classifier = runnable
	return svc, nil
}

// Enabled 返回是否启用了大模型分类。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Threshold returns the confidence below which decisions become unclassified.
func (s *Service) Threshold() float64 { return s.threshold }

// HistoryWindow returns how many recent turns the classifier looks at.
func (s *Service) HistoryWindow() int { return s.historyWindow }

// Classify returns exactly one label from the closed set. It never returns an
// error: empty input, model failure and low confidence all map to
// intent.Unclassified.
func (s *Service) Classify(ctx context.Context, utterance string, history []chat.Turn) intent.Decision {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return intent.NewUnclassified(intent.FailureEmptyInput, "empty utterance")
	}

	if !s.Enabled() {
		res := s.fallback(utterance)
		return s.applyThreshold(intent.Decision{
			Intent:     res.Intent,
			Confidence: res.Confidence,
			Source:     SourceHeuristic,
		})
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg, err := s.classifier.Invoke(callCtx, map[string]any{
		"system": classifierSystemPrompt,
		"query":  buildQuery(utterance, history, s.historyWindow),
	})
	if err != nil {
		s.logger.Warn("classifier invoke failed", zap.Error(err))
		return s.failure(fmt.Sprintf("invoke: %v", err))
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.failure("empty classifier output")
	}

	payload, err := parseClassifierOutput(msg.Content)
	if err != nil {
		s.logger.Warn("classifier output parse failed", zap.Error(err))
		return s.failure(fmt.Sprintf("parse: %v", err))
	}

	label, ok := intent.Parse(payload.Intent)
	if !ok {
		return s.failure(fmt.Sprintf("unknown intent label %q", payload.Intent))
	}

	return s.applyThreshold(intent.Decision{
		Intent:     label,
		Confidence: intent.ClampConfidence(payload.Confidence),
		Reason:     strings.TrimSpace(payload.Reason),
		Source:     SourceLLM,
	})
}

func (s *Service) failure(reason string) intent.Decision {
	d := intent.NewUnclassified(intent.FailureClassification, reason)
	d.Source = SourceLLM
	return d
}

func (s *Service) applyThreshold(d intent.Decision) intent.Decision {
	if d.Intent == intent.Unclassified {
		return d
	}
	if d.Confidence < s.threshold {
		d.Candidate = d.Intent
		d.Intent = intent.Unclassified
		d.Failure = intent.FailureLowConfidence
	}
	return d
}

// parseClassifierOutput 解析大模型返回的 JSON。
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func buildQuery(utterance string, history []chat.Turn, limit int) string {
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	b.WriteString(formatHistory(history, limit))
	b.WriteString("\n\nRequest to classify:\n")
	b.WriteString(utterance)
	return b.String()
}

func formatHistory(turns []chat.Turn, limit int) string {
	if limit < 1 {
		limit = 1
	}
	start := len(turns) - limit
	if start < 0 {
		start = 0
	}

	var lines []string
	for _, t := range turns[start:] {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		switch t.Role {
		case chat.RoleUser:
			lines = append(lines, "User: "+content)
		case chat.RoleExpert:
			name := "Expert"
			if t.Payload != nil && t.Payload.HandlerID != "" {
				name = t.Payload.HandlerID
			}
			lines = append(lines, name+": "+content)
		}
	}
	if len(lines) == 0 {
		return "(none)"
	}
	return strings.Join(lines, "\n")
}

type classifierPayload struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

const classifierSystemPrompt = `You route requests for a special-education case management assistant.
Classify the request into exactly one of:
- compliance: legal or procedural requirements (IDEA, Section 504, FERPA, IEP meeting rules, timelines, consent).
- history: questions about the student's recorded history, diagnoses, evaluations or past interventions.
- strategy: classroom strategies, accommodations, behaviour or teaching plans.
- unclassified: anything else.
Return only a JSON object with the fields "intent" (one of the labels above), "confidence" (a number between 0 and 1) and "reason" (one short sentence). Do not output any other text.`
