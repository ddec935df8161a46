// Package dispatch runs one user turn through classification, routing, a
// single expert invocation and an atomic session write.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/neurosync-os/backend/internal/model/chat"
	"github.com/neurosync-os/backend/internal/model/intent"
	"github.com/neurosync-os/backend/internal/service/expert"
	"github.com/neurosync-os/backend/internal/service/session"
	"github.com/neurosync-os/backend/pkg/logger"
)

// CannotHelpMessage is returned for turns no expert can handle.
const CannotHelpMessage = "Sorry, I can't help with that. I can answer questions about special-education compliance, the student's history, or classroom strategies."

const (
	defaultHandlerTimeout = 30 * time.Second
	defaultMaxInFlight    = 16
	defaultHistoryWindow  = 10

	memoryLastIntent  = "last_intent"
	memoryLastHandler = "last_handler"
)

// Classifier maps an utterance to exactly one intent label.
type Classifier interface {
	Classify(ctx context.Context, utterance string, history []chat.Turn) intent.Decision
}

// Options configures a Controller.
type Options struct {
	Classifier     Classifier
	Registry       *expert.Registry
	Store          session.Store
	HandlerTimeout time.Duration
	// RetryCount bounds extra attempts after a transient handler failure.
	RetryCount int
	// MaxInFlight bounds concurrent classifier and handler calls across sessions.
	MaxInFlight   int
	HistoryWindow int
	Logger        *zap.Logger
}

// Request is one user turn.
type Request struct {
	SessionID string
	Utterance string
	// RequestID makes re-submission idempotent within a session.
	RequestID string
	// Observer, when set, is called synchronously on every stage transition.
	Observer func(StageEvent)
}

// StageEvent describes a state machine transition.
type StageEvent struct {
	Stage       Stage
	SessionID   string
	Intent      intent.Label
	Confidence  float64
	HandlerID   string
	HandlerName string
	Text        string
	Failure     ErrorKind
	Err         error
}

// Result is the outcome of a turn.
type Result struct {
	ResponseText string       `json:"responseText"`
	Intent       intent.Label `json:"intent"`
	HandlerID    string       `json:"handlerId"`
	HandlerName  string       `json:"handlerName"`
	Confidence   float64      `json:"confidence"`
	Stage        Stage        `json:"stage"`
	Failure      ErrorKind    `json:"failure,omitempty"`
	Replayed     bool         `json:"replayed"`
}

// Controller drives turns. It is safe for concurrent use; turns of one
// session are serialized, turns of different sessions run in parallel.
type Controller struct {
	classifier     Classifier
	registry       *expert.Registry
	store          session.Store
	handlerTimeout time.Duration
	retryCount     int
	historyWindow  int
	locks          *sessionLocks
	inFlight       *semaphore.Weighted
	logger         *zap.Logger
}

// NewController validates opts and builds a controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Classifier == nil {
		return nil, errors.New("dispatch: classifier is required")
	}
	if opts.Store == nil {
		return nil, errors.New("dispatch: session store is required")
	}
	if opts.RetryCount < 0 {
		return nil, fmt.Errorf("dispatch: retry count must be >= 0, got %d", opts.RetryCount)
	}
	timeout := opts.HandlerTimeout
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	maxInFlight := opts.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	window := opts.HistoryWindow
	if window <= 0 {
		window = defaultHistoryWindow
	}

	return &Controller{
		classifier:     opts.Classifier,
		registry:       opts.Registry,
		store:          opts.Store,
		handlerTimeout: timeout,
		retryCount:     opts.RetryCount,
		historyWindow:  window,
		locks:          newSessionLocks(),
		inFlight:       semaphore.NewWeighted(int64(maxInFlight)),
		logger:         logger.OrNop(opts.Logger).Named("dispatch"),
	}, nil
}

// Registry returns the handler registry the controller routes through.
func (c *Controller) Registry() *expert.Registry { return c.registry }

// HandleTurn runs one turn to RECORDED or FAILED. Unroutable turns are not an
// error: they return the fixed CannotHelpMessage result. Every other failure
// returns a *TurnError and a result with Stage FAILED.
func (c *Controller) HandleTurn(ctx context.Context, req Request) (Result, error) {
	utterance := strings.TrimSpace(req.Utterance)
	if req.SessionID == "" {
		return c.fail(req, Result{}, InvalidRequest, StageReceived, ErrSessionRequired)
	}
	if utterance == "" {
		return c.fail(req, Result{}, InvalidRequest, StageReceived, ErrEmptyUtterance)
	}

	release, err := c.locks.acquire(ctx, req.SessionID)
	if err != nil {
		return c.fail(req, Result{}, Canceled, StageReceived, err)
	}
	defer release()

	emit(req, StageEvent{Stage: StageReceived, Text: utterance})
	log := c.logger.With(zap.String("session_id", req.SessionID), zap.String("request_id", req.RequestID))

	history, memory, err := c.loadSession(ctx, req)
	if err != nil {
		return c.fail(req, Result{}, StoreReadFailure, StageReceived, err)
	}

	if req.RequestID != "" {
		if res, ok := replay(history, req.RequestID); ok {
			log.Info("replaying recorded turn", zap.String("handler", res.HandlerID))
			emit(req, StageEvent{Stage: StageRecorded, Intent: res.Intent, Confidence: res.Confidence,
				HandlerID: res.HandlerID, HandlerName: res.HandlerName, Text: res.ResponseText})
			return res, nil
		}
	}
	history = lastTurns(history, c.historyWindow)

	// RECEIVED -> CLASSIFIED
	if err := c.inFlight.Acquire(ctx, 1); err != nil {
		return c.fail(req, Result{}, Canceled, StageClassified, err)
	}
	decision := c.classifier.Classify(ctx, utterance, history)
	c.inFlight.Release(1)

	if decision.Failure == intent.FailureClassification {
		log.Warn("classification failed", zap.String("reason", decision.Reason))
	}
	emit(req, StageEvent{Stage: StageClassified, Intent: decision.Intent, Confidence: decision.Confidence})

	// CLASSIFIED -> ROUTED
	handler, ok := c.registry.Lookup(decision.Intent)
	if !ok {
		log.Info("turn unroutable",
			zap.String("intent", string(decision.Intent)),
			zap.String("candidate", string(decision.Candidate)),
			zap.Float64("confidence", decision.Confidence),
		)
		res := Result{
			ResponseText: CannotHelpMessage,
			Intent:       intent.Unclassified,
			Confidence:   decision.Confidence,
			Stage:        StageFailed,
			Failure:      Unroutable,
		}
		emit(req, StageEvent{Stage: StageFailed, Intent: res.Intent, Confidence: res.Confidence,
			Text: res.ResponseText, Failure: Unroutable, Err: ErrUnroutable})
		return res, nil
	}

	routing := intent.RoutingDecision{Intent: decision.Intent, HandlerID: handler.ID(), Confidence: decision.Confidence}
	res := Result{
		Intent:      routing.Intent,
		HandlerID:   routing.HandlerID,
		HandlerName: handler.Name(),
		Confidence:  routing.Confidence,
	}
	emit(req, StageEvent{Stage: StageRouted, Intent: res.Intent, Confidence: res.Confidence,
		HandlerID: res.HandlerID, HandlerName: res.HandlerName})

	// ROUTED -> HANDLED
	hc := expert.Context{
		SessionID: req.SessionID,
		Utterance: utterance,
		History:   history,
		Memory:    memory,
		Decision:  decision,
	}
	resp, err := c.invoke(ctx, handler, hc, log)
	if err != nil {
		kind := HandlerError
		switch {
		case ctx.Err() != nil:
			kind = Canceled
		case errors.Is(err, ErrHandlerTimeout), errors.Is(err, context.DeadlineExceeded):
			kind = HandlerTimeout
		}
		log.Error("handler failed", zap.String("handler", handler.ID()), zap.String("kind", string(kind)), zap.Error(err))
		return c.fail(req, res, kind, StageHandled, err)
	}
	res.ResponseText = resp.Text
	emit(req, StageEvent{Stage: StageHandled, Intent: res.Intent, Confidence: res.Confidence,
		HandlerID: res.HandlerID, HandlerName: res.HandlerName, Text: res.ResponseText})

	// HANDLED -> RECORDED
	turns := buildTurns(req.RequestID, utterance, decision, res, resp)
	if err := c.store.Append(ctx, req.SessionID, turns, buildMemory(res, resp)); err != nil {
		log.Error("recording turn failed", zap.Error(err))
		res.ResponseText = ""
		return c.fail(req, res, StoreWriteFailure, StageRecorded, err)
	}
	res.Stage = StageRecorded
	emit(req, StageEvent{Stage: StageRecorded, Intent: res.Intent, Confidence: res.Confidence,
		HandlerID: res.HandlerID, HandlerName: res.HandlerName, Text: res.ResponseText})

	if committer, ok := handler.(expert.Committer); ok {
		if err := committer.Commit(ctx, hc, resp); err != nil {
			log.Warn("handler commit failed", zap.String("handler", handler.ID()), zap.Error(err))
		}
	}

	log.Info("turn recorded",
		zap.String("intent", string(res.Intent)),
		zap.String("handler", res.HandlerID),
		zap.Float64("confidence", res.Confidence),
	)
	return res, nil
}

func (c *Controller) loadSession(ctx context.Context, req Request) ([]chat.Turn, map[string]any, error) {
	window := c.historyWindow
	if req.RequestID != "" {
		window = 0
	}
	history, err := c.store.Read(ctx, req.SessionID, window)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, map[string]any{}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading history: %w", err)
	}
	sess, err := c.store.Get(ctx, req.SessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return history, map[string]any{}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading memory: %w", err)
	}
	memory := chat.CloneMemory(sess.Memory)
	if memory == nil {
		memory = map[string]any{}
	}
	return history, memory, nil
}

// invoke calls the handler once, plus up to retryCount more times while the
// failure is transient.
func (c *Controller) invoke(ctx context.Context, h expert.Handler, hc expert.Context, log *zap.Logger) (expert.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		resp, err := c.invokeOnce(ctx, h, hc)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || !expert.IsTransient(err) {
			break
		}
		if attempt < c.retryCount {
			log.Warn("retrying handler", zap.String("handler", h.ID()), zap.Int("attempt", attempt+1), zap.Error(err))
		}
	}
	return expert.Response{}, lastErr
}

type outcome struct {
	resp expert.Response
	err  error
}

// invokeOnce bounds one handler call by handlerTimeout. A handler that ignores
// cancellation keeps running in its goroutine and keeps its in-flight slot;
// its result is dropped. The next attempt of the same session waits for it,
// at most handlerTimeout.
func (c *Controller) invokeOnce(ctx context.Context, h expert.Handler, hc expert.Context) (expert.Response, error) {
	if err := c.locks.settle(ctx, hc.SessionID, c.handlerTimeout); err != nil {
		if errors.Is(err, errAttemptRunning) {
			return expert.Response{}, fmt.Errorf("%s: %w: %w", h.ID(), err, ErrHandlerTimeout)
		}
		return expert.Response{}, err
	}
	if err := c.inFlight.Acquire(ctx, 1); err != nil {
		return expert.Response{}, err
	}
	end := c.locks.begin(hc.SessionID)

	callCtx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		resp, err := h.Handle(callCtx, cloneContext(hc))
		c.inFlight.Release(1)
		end()
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return expert.Response{}, c.timeoutError(h)
			}
			return expert.Response{}, out.err
		}
		if strings.TrimSpace(out.resp.Text) == "" {
			return expert.Response{}, expert.Permanent(expert.ErrEmptyResponse)
		}
		return out.resp, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return expert.Response{}, ctx.Err()
		}
		return expert.Response{}, c.timeoutError(h)
	}
}

func (c *Controller) timeoutError(h expert.Handler) error {
	return fmt.Errorf("%s after %s: %w: %w", h.ID(), c.handlerTimeout, ErrHandlerTimeout, context.DeadlineExceeded)
}

func (c *Controller) fail(req Request, res Result, kind ErrorKind, stage Stage, err error) (Result, error) {
	res.Stage = StageFailed
	res.Failure = kind
	emit(req, StageEvent{Stage: StageFailed, Intent: res.Intent, Confidence: res.Confidence,
		HandlerID: res.HandlerID, HandlerName: res.HandlerName, Failure: kind, Err: err})
	return res, &TurnError{Kind: kind, Stage: stage, Err: err}
}

func emit(req Request, ev StageEvent) {
	if req.Observer == nil {
		return
	}
	ev.SessionID = req.SessionID
	req.Observer(ev)
}

func cloneContext(hc expert.Context) expert.Context {
	history := make([]chat.Turn, len(hc.History))
	for i, t := range hc.History {
		history[i] = t.Clone()
	}
	hc.History = history
	hc.Memory = chat.CloneMemory(hc.Memory)
	return hc
}

func buildTurns(requestID, utterance string, decision intent.Decision, res Result, resp expert.Response) []chat.Turn {
	routerMeta := map[string]any{}
	if decision.Source != "" {
		routerMeta["source"] = decision.Source
	}
	if decision.Reason != "" {
		routerMeta["reason"] = decision.Reason
	}
	if len(routerMeta) == 0 {
		routerMeta = nil
	}

	return []chat.Turn{
		{
			Role:    chat.RoleUser,
			Content: utterance,
			Payload: &chat.Payload{RequestID: requestID},
		},
		{
			Role:    chat.RoleRouter,
			Content: string(res.Intent),
			Payload: &chat.Payload{
				Intent:      string(res.Intent),
				Confidence:  res.Confidence,
				HandlerID:   res.HandlerID,
				HandlerName: res.HandlerName,
				RequestID:   requestID,
				Metadata:    routerMeta,
			},
		},
		{
			Role:    chat.RoleExpert,
			Content: res.ResponseText,
			Payload: &chat.Payload{
				Intent:      string(res.Intent),
				Confidence:  res.Confidence,
				HandlerID:   res.HandlerID,
				HandlerName: res.HandlerName,
				RequestID:   requestID,
				Metadata:    chat.CloneMemory(resp.Metadata),
			},
		},
	}
}

func buildMemory(res Result, resp expert.Response) map[string]any {
	memory := chat.CloneMemory(resp.Memory)
	if memory == nil {
		memory = map[string]any{}
	}
	memory[memoryLastIntent] = string(res.Intent)
	memory[memoryLastHandler] = res.HandlerID
	return memory
}

// replay finds the expert turn recorded for requestID.
func replay(history []chat.Turn, requestID string) (Result, bool) {
	seenUser := false
	for _, t := range history {
		if t.Payload == nil || t.Payload.RequestID != requestID {
			continue
		}
		switch t.Role {
		case chat.RoleUser:
			seenUser = true
		case chat.RoleExpert:
			if !seenUser {
				continue
			}
			label, _ := intent.Parse(t.Payload.Intent)
			return Result{
				ResponseText: t.Content,
				Intent:       label,
				HandlerID:    t.Payload.HandlerID,
				HandlerName:  t.Payload.HandlerName,
				Confidence:   t.Payload.Confidence,
				Stage:        StageRecorded,
				Replayed:     true,
			}, true
		}
	}
	return Result{}, false
}

func lastTurns(turns []chat.Turn, window int) []chat.Turn {
	if window > 0 && len(turns) > window {
		return turns[len(turns)-window:]
	}
	return turns
}
