// Package session stores conversation history and per-session working memory.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/neurosync-os/backend/internal/model/chat"
)

var (
	ErrSessionRequired = errors.New("session id is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrNoTurns         = errors.New("at least one turn is required")
)

// Store is the session state contract used by the dispatch controller.
//
// Append is atomic: either every turn and the memory update become visible,
// or none do. Read returns turns ordered by Seq.
type Store interface {
	Create(ctx context.Context) (chat.Session, error)
	Get(ctx context.Context, sessionID string) (chat.Session, error)
	Append(ctx context.Context, sessionID string, turns []chat.Turn, memory map[string]any) error
	Read(ctx context.Context, sessionID string, window int) ([]chat.Turn, error)
	PutMemory(ctx context.Context, sessionID string, updates map[string]any) error
	Expire(ctx context.Context, sessionID string) error
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

func validateAppend(sessionID string, turns []chat.Turn) error {
	if sessionID == "" {
		return ErrSessionRequired
	}
	if len(turns) == 0 {
		return ErrNoTurns
	}
	for _, t := range turns {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func tail(turns []chat.Turn, window int) []chat.Turn {
	if window > 0 && len(turns) > window {
		return turns[len(turns)-window:]
	}
	return turns
}
