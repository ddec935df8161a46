package expert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurosync-os/backend/internal/model/chat"
	profile "github.com/neurosync-os/backend/internal/model/expert"
	"github.com/neurosync-os/backend/internal/model/intent"
)

type fakeModel struct {
	mu      sync.Mutex
	content string
	err     error
	inputs  [][]*schema.Message
}

func (f *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
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

type stubHandler struct {
	id      string
	intents []intent.Label
}

func (s stubHandler) ID() string              { return s.id }
func (s stubHandler) Name() string            { return strings.ToUpper(s.id) }
func (s stubHandler) Intents() []intent.Label { return s.intents }
func (s stubHandler) Handle(context.Context, Context) (Response, error) {
	return Response{Text: s.id}, nil
}

func seedProfile(t *testing.T, id string) profile.Profile {
	t.Helper()
	for _, p := range profile.Seed() {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("profile %s not seeded", id)
	return profile.Profile{}
}

func TestRegistryLookupFirstRegistered(t *testing.T) {
	first := stubHandler{id: "a", intents: []intent.Label{intent.Strategy}}
	second := stubHandler{id: "b", intents: []intent.Label{intent.Strategy, intent.History}}

	reg, err := NewRegistry(first, second)
	require.NoError(t, err)

	h, ok := reg.Lookup(intent.Strategy)
	require.True(t, ok)
	assert.Equal(t, "a", h.ID())

	h, ok = reg.Lookup(intent.History)
	require.True(t, ok)
	assert.Equal(t, "b", h.ID())

	_, ok = reg.Lookup(intent.Compliance)
	assert.False(t, ok)
	_, ok = reg.Lookup(intent.Unclassified)
	assert.False(t, ok)

	assert.True(t, reg.Serves("b", intent.History))
	assert.False(t, reg.Serves("a", intent.History))
	assert.Len(t, reg.List(), 2)
}

func TestRegistryRejectsInvalidHandlers(t *testing.T) {
	_, err := NewRegistry(
		stubHandler{id: "a", intents: []intent.Label{intent.Strategy}},
		stubHandler{id: "a", intents: []intent.Label{intent.History}},
	)
	assert.Error(t, err)

	_, err = NewRegistry(stubHandler{id: "x"})
	assert.Error(t, err)

	_, err = NewRegistry(stubHandler{id: "u", intents: []intent.Label{intent.Unclassified}})
	assert.Error(t, err)
}

func TestNilRegistryIsEmpty(t *testing.T) {
	var reg *Registry
	_, ok := reg.Lookup(intent.Compliance)
	assert.False(t, ok)
	assert.Zero(t, reg.Len())
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, IsTransient(Transient(base)))
	assert.False(t, IsTransient(Permanent(base)))
	assert.False(t, IsTransient(base))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.ErrorIs(t, Transient(base), base)
	assert.Nil(t, Transient(nil))
}

func TestBuildSystemPromptUsesMemoryContext(t *testing.T) {
	p := seedProfile(t, "history")

	prompt := BuildSystemPrompt(p, nil)
	assert.Contains(t, prompt, "Clinical Analyst")
	assert.Contains(t, prompt, "Alex Doe")

	prompt = BuildSystemPrompt(p, map[string]any{"student_context": "Student 'Sam' has dyslexia.", "last_handler": "compliance"})
	assert.Contains(t, prompt, "dyslexia")
	assert.NotContains(t, prompt, "Alex Doe")
	assert.Contains(t, prompt, "compliance agent")
}

func TestLLMHandlerHandle(t *testing.T) {
	m := &fakeModel{content: "  Schedule the annual review within 30 days.  "}
	h, err := NewLLMHandler(context.Background(), seedProfile(t, "compliance"), m, nil)
	require.NoError(t, err)

	history := []chat.Turn{
		{Role: chat.RoleUser, Content: "earlier question"},
		{Role: chat.RoleRouter, Content: "compliance"},
		{Role: chat.RoleExpert, Content: "earlier answer"},
	}
	resp, err := h.Handle(context.Background(), Context{SessionID: "s1", Utterance: "When is the review due?", History: history})
	require.NoError(t, err)
	assert.Equal(t, "Schedule the annual review within 30 days.", resp.Text)

	require.Len(t, m.inputs, 1)
	input := m.inputs[0]
	require.Len(t, input, 4)
	assert.Equal(t, schema.System, input[0].Role)
	assert.Contains(t, input[0].Content, "Special Ed Lawyer")
	assert.Equal(t, schema.User, input[1].Role)
	assert.Equal(t, schema.Assistant, input[2].Role)
	assert.Equal(t, "When is the review due?", input[3].Content)
}

func TestLLMHandlerErrors(t *testing.T) {
	m := &fakeModel{err: errors.New("503 upstream")}
	h, err := NewLLMHandler(context.Background(), seedProfile(t, "strategy"), m, nil)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), Context{Utterance: "help with focus"})
	require.Error(t, err)
	assert.False(t, IsTransient(err))

	m.err = nil
	m.content = "   "
	_, err = h.Handle(context.Background(), Context{Utterance: "help with focus"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.False(t, IsTransient(err))

	_, err = h.Handle(context.Background(), Context{Utterance: " "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewLLMHandlerValidates(t *testing.T) {
	_, err := NewLLMHandler(context.Background(), seedProfile(t, "history"), nil, nil)
	assert.Error(t, err)

	_, err = NewLLMHandler(context.Background(), profile.Profile{ID: "x"}, &fakeModel{}, nil)
	assert.Error(t, err)
}
