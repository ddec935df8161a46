// Package expert defines the uniform expert handler contract and the static
// registry the dispatch controller routes through.
package expert

import (
	"context"
	"errors"

	"github.com/neurosync-os/backend/internal/model/chat"
	"github.com/neurosync-os/backend/internal/model/intent"
)

// Context is what a handler sees for one turn. History and Memory are copies.
type Context struct {
	SessionID string
	Utterance string
	History   []chat.Turn
	Memory    map[string]any
	Decision  intent.Decision
}

// Response is a handler's output. Memory entries are merged into the
// session's working memory when the turn is recorded.
type Response struct {
	Text     string
	Metadata map[string]any
	Memory   map[string]any
}

// Handler produces a response for the intents it serves. Handle must be safe
// to retry: side effects beyond producing text belong in Committer.Commit.
type Handler interface {
	ID() string
	Name() string
	Intents() []intent.Label
	Handle(ctx context.Context, hc Context) (Response, error)
}

// Committer is implemented by handlers with side effects; Commit runs only
// after the turn has been recorded.
type Committer interface {
	Commit(ctx context.Context, hc Context, resp Response) error
}

var (
	ErrEmptyResponse = errors.New("expert returned an empty response")
	ErrInvalidInput  = errors.New("invalid expert input")
)

type classifiedError struct {
	err       error
	transient bool
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, transient: true}
}

// Permanent marks err as a validation-type failure that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, transient: false}
}

// IsTransient reports whether err may succeed on retry. Deadline expiry is
// transient; unmarked errors are not.
func IsTransient(err error) bool {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}
