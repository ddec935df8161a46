package expert

import (
	"errors"
	"fmt"

	"github.com/neurosync-os/backend/internal/model/intent"
)

// Info describes a registered handler for listing.
type Info struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Intents []intent.Label `json:"intents"`
}

// Registry maps intents to handlers. It is immutable after NewRegistry.
type Registry struct {
	handlers []Handler
	byIntent map[intent.Label][]Handler
	byID     map[string]Handler
}

// NewRegistry indexes handlers in the given order. Duplicate IDs, handlers
// without intents and handlers claiming Unclassified are rejected.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{
		byIntent: make(map[intent.Label][]Handler),
		byID:     make(map[string]Handler),
	}
	for _, h := range handlers {
		if h == nil {
			return nil, errors.New("nil handler")
		}
		id := h.ID()
		if id == "" {
			return nil, errors.New("handler id is required")
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("duplicate handler id %q", id)
		}
		labels := h.Intents()
		if len(labels) == 0 {
			return nil, fmt.Errorf("handler %q serves no intents", id)
		}
		for _, label := range labels {
			if label == intent.Unclassified {
				return nil, fmt.Errorf("handler %q cannot serve %s", id, intent.Unclassified)
			}
			r.byIntent[label] = append(r.byIntent[label], h)
		}
		r.byID[id] = h
		r.handlers = append(r.handlers, h)
	}
	return r, nil
}

// Lookup returns the first handler registered for label.
func (r *Registry) Lookup(label intent.Label) (Handler, bool) {
	if r == nil || label == intent.Unclassified {
		return nil, false
	}
	hs := r.byIntent[label]
	if len(hs) == 0 {
		return nil, false
	}
	return hs[0], true
}

// Get returns a handler by id.
func (r *Registry) Get(id string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.byID[id]
	return h, ok
}

// Serves reports whether handler id is registered for label.
func (r *Registry) Serves(id string, label intent.Label) bool {
	if r == nil {
		return false
	}
	for _, h := range r.byIntent[label] {
		if h.ID() == id {
			return true
		}
	}
	return false
}

// List describes the registered handlers in registration order.
func (r *Registry) List() []Info {
	if r == nil {
		return nil
	}
	out := make([]Info, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, Info{ID: h.ID(), Name: h.Name(), Intents: append([]intent.Label(nil), h.Intents()...)})
	}
	return out
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.handlers)
}
