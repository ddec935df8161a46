package dispatch

import (
	"errors"
	"fmt"
)

// Stage is a step of the per-turn state machine.
type Stage string

const (
	StageReceived   Stage = "RECEIVED"
	StageClassified Stage = "CLASSIFIED"
	StageRouted     Stage = "ROUTED"
	StageHandled    Stage = "HANDLED"
	StageRecorded   Stage = "RECORDED"
	StageFailed     Stage = "FAILED"
)

// ErrorKind classifies why a turn ended in StageFailed.
type ErrorKind string

const (
	KindNone ErrorKind = ""

	// ClassificationFailure is absorbed by the classifier and only logged.
	ClassificationFailure ErrorKind = "classification_failure"
	Unroutable            ErrorKind = "unroutable"
	HandlerTimeout        ErrorKind = "handler_timeout"
	HandlerError          ErrorKind = "handler_error"
	StoreWriteFailure     ErrorKind = "store_write_failure"
	StoreReadFailure      ErrorKind = "store_read_failure"
	InvalidRequest        ErrorKind = "invalid_request"
	Canceled              ErrorKind = "canceled"
)

var (
	ErrSessionRequired = errors.New("session id is required")
	ErrEmptyUtterance  = errors.New("utterance is empty")
	ErrHandlerTimeout  = errors.New("handler timed out")
	ErrUnroutable      = errors.New("no handler for intent")
)

// TurnError reports a failed turn together with the stage it failed in.
type TurnError struct {
	Kind  ErrorKind
	Stage Stage
	Err   error
}

func (e *TurnError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("turn failed at %s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("turn failed at %s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// KindOf extracts the kind of a turn error, or KindNone.
func KindOf(err error) ErrorKind {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindNone
}
