package expert

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/neurosync-os/backend/internal/model/chat"
	profile "github.com/neurosync-os/backend/internal/model/expert"
)

// BuildSystemPrompt 根据专家档案和会话记忆生成系统提示词。
func BuildSystemPrompt(p profile.Profile, memory map[string]any) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Instruction))

	if len(p.Guidelines) > 0 {
		b.WriteString("\n\nGuidelines:\n- ")
		b.WriteString(strings.Join(p.Guidelines, "\n- "))
	}

	if ctx := resolveContext(p, memory); ctx != "" {
		b.WriteString("\n\nContext: ")
		b.WriteString(ctx)
	}

	if last, ok := memory["last_handler"].(string); ok && last != "" && last != p.ID {
		b.WriteString(fmt.Sprintf("\n\nThe previous answer in this session came from the %s agent.", last))
	}
	return b.String()
}

func resolveContext(p profile.Profile, memory map[string]any) string {
	if p.ContextKey != "" {
		if v, ok := memory[p.ContextKey].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return p.DefaultContext
}

// buildHistoryMessages maps recorded turns to chat messages. Router turns carry
// routing metadata only and are skipped.
func buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}
	history := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(t.Content))
		case chat.RoleExpert:
			history = append(history, schema.AssistantMessage(t.Content, nil))
		}
	}
	return history
}
