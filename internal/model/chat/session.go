package chat

import "time"

// Session captures one case-management conversation and its working memory.
type Session struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Memory    map[string]any `json:"memory,omitempty"`
}

// Clone returns a copy whose memory map can be mutated independently.
func (s Session) Clone() Session {
	s.Memory = CloneMemory(s.Memory)
	return s
}

// CloneMemory shallow-copies a working-memory map. A nil input stays nil.
func CloneMemory(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MergeMemory applies updates onto base and returns the result. A nil value
// in updates deletes the key.
func MergeMemory(base, updates map[string]any) map[string]any {
	if len(updates) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]any, len(updates))
	}
	for k, v := range updates {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	return base
}
