package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeMemoryDeletesNilValues(t *testing.T) {
	base := map[string]any{"last_intent": "history", "student_context": "Alex"}
	got := MergeMemory(base, map[string]any{"student_context": nil, "last_handler": "history"})

	assert.Equal(t, map[string]any{"last_intent": "history", "last_handler": "history"}, got)
	assert.Equal(t, map[string]any{"a": 1}, MergeMemory(nil, map[string]any{"a": 1}))
}

func TestTurnCloneIsDeep(t *testing.T) {
	orig := Turn{Role: RoleExpert, Payload: &Payload{HandlerID: "history", Metadata: map[string]any{"k": "v"}}}
	cp := orig.Clone()
	cp.Payload.HandlerID = "strategy"
	cp.Payload.Metadata["k"] = "changed"

	assert.Equal(t, "history", orig.Payload.HandlerID)
	assert.Equal(t, "v", orig.Payload.Metadata["k"])
}

func TestTurnValidate(t *testing.T) {
	assert.NoError(t, Turn{Role: RoleRouter}.Validate())
	assert.Error(t, Turn{Role: "assistant"}.Validate())
}
