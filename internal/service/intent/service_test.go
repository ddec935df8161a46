package intent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurosync-os/backend/internal/model/chat"
	"github.com/neurosync-os/backend/internal/model/intent"
)

type fakeModel struct {
	mu      sync.Mutex
	content string
	err     error
	delay   time.Duration
	inputs  [][]*schema.Message
}

func (f *fakeModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.content, nil), nil
}

func (f *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func newLLMService(t *testing.T, m *fakeModel, threshold float64) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), m, Config{
		LLMEnabled:    true,
		Threshold:     threshold,
		HistoryWindow: 2,
		Timeout:       50 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	require.True(t, svc.Enabled())
	return svc
}

func TestClassifyParsesModelJSON(t *testing.T) {
	m := &fakeModel{content: "Sure: {\"intent\": \"compliance\", \"confidence\": 0.92, \"reason\": \"asks about IDEA\"}"}
	svc := newLLMService(t, m, 0.5)

	d := svc.Classify(context.Background(), "What does IDEA Act require for an IEP meeting?", nil)

	assert.Equal(t, intent.Compliance, d.Intent)
	assert.InDelta(t, 0.92, d.Confidence, 1e-9)
	assert.Equal(t, intent.FailureNone, d.Failure)
	assert.Equal(t, SourceLLM, d.Source)
}

func TestClassifyBelowThresholdIsUnclassified(t *testing.T) {
	m := &fakeModel{content: `{"intent": "strategy", "confidence": 0.2}`}
	svc := newLLMService(t, m, 0.5)

	d := svc.Classify(context.Background(), "hmm", nil)

	assert.Equal(t, intent.Unclassified, d.Intent)
	assert.Equal(t, intent.Strategy, d.Candidate)
	assert.Equal(t, intent.FailureLowConfidence, d.Failure)
	assert.InDelta(t, 0.2, d.Confidence, 1e-9)
}

func TestClassifyFailuresAreAbsorbed(t *testing.T) {
	cases := map[string]*fakeModel{
		"invoke error":  {err: errors.New("provider down")},
		"timeout":       {delay: time.Second, content: `{"intent":"history","confidence":1}`},
		"malformed":     {content: "compliance, definitely"},
		"unknown label": {content: `{"intent": "billing", "confidence": 0.9}`},
		"empty":         {content: "   "},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newLLMService(t, m, 0.5)
			d := svc.Classify(context.Background(), "What does IDEA require?", nil)

			assert.Equal(t, intent.Unclassified, d.Intent)
			assert.Zero(t, d.Confidence)
			assert.Equal(t, intent.FailureClassification, d.Failure)
		})
	}
}

func TestClassifyEmptyUtterance(t *testing.T) {
	m := &fakeModel{content: `{"intent":"history","confidence":1}`}
	svc := newLLMService(t, m, 0.5)

	d := svc.Classify(context.Background(), "   ", nil)

	assert.Equal(t, intent.Unclassified, d.Intent)
	assert.Equal(t, intent.FailureEmptyInput, d.Failure)
	assert.Empty(t, m.inputs, "model must not be called for empty input")
}

func TestClassifyBoundsHistoryWindow(t *testing.T) {
	m := &fakeModel{content: `{"intent":"history","confidence":0.8}`}
	svc := newLLMService(t, m, 0.5)

	history := []chat.Turn{
		{Role: chat.RoleUser, Content: "first question"},
		{Role: chat.RoleExpert, Content: "first answer", Payload: &chat.Payload{HandlerID: "history"}},
		{Role: chat.RoleUser, Content: "second question"},
		{Role: chat.RoleExpert, Content: "second answer", Payload: &chat.Payload{HandlerID: "history"}},
	}
	svc.Classify(context.Background(), "and before that?", history)

	require.Len(t, m.inputs, 1)
	query := m.inputs[0][len(m.inputs[0])-1].Content
	assert.NotContains(t, query, "first question")
	assert.Contains(t, query, "second question")
	assert.Contains(t, query, "history: second answer")
	assert.True(t, strings.HasSuffix(query, "and before that?"))
}

func TestClassifyHeuristicWithoutModel(t *testing.T) {
	svc, err := NewService(context.Background(), nil, Config{LLMEnabled: true, Threshold: 0.5}, nil)
	require.NoError(t, err)
	assert.False(t, svc.Enabled())

	d := svc.Classify(context.Background(), "What does IDEA Act require for an IEP meeting?", nil)
	assert.Equal(t, intent.Compliance, d.Intent)
	assert.Equal(t, SourceHeuristic, d.Source)

	d = svc.Classify(context.Background(), "legal history", nil)
	assert.Equal(t, intent.Unclassified, d.Intent)
	assert.Equal(t, intent.FailureLowConfidence, d.Failure)
}

func TestNewServiceRejectsBadThreshold(t *testing.T) {
	_, err := NewService(context.Background(), nil, Config{Threshold: 2}, nil)
	assert.Error(t, err)
}
