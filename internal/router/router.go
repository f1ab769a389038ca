package router

import (
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Handler processes a command payload and returns response data.
// Failures are returned, never panicked; a panic that does escape is
// recovered at the dispatch boundary and converted to a typed failure.
type Handler func(payload json.RawMessage) (any, error)

// CommandGetMetrics is the pseudo-command answered by the router itself.
const CommandGetMetrics = "getMetrics"

// Router validates, deduplicates, and dispatches command messages.
type Router struct {
	log     *slog.Logger
	metrics *Metrics

	mu       sync.Mutex
	handlers map[string]Handler
	inFlight map[string]struct{}
}

// New creates a Router. metrics may be shared with a Prometheus registry;
// see NewMetrics.
func New(log *slog.Logger, metrics *Metrics) *Router {
	return &Router{
		log:      log,
		metrics:  metrics,
		handlers: make(map[string]Handler),
		inFlight: make(map[string]struct{}),
	}
}

// RegisterHandler binds a command name to its handler.
// Re-registering a command replaces the previous handler.
func (r *Router) RegisterHandler(command string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[command] = h
}

// Commands returns the registered command names.
func (r *Router) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.handlers))
	for cmd := range r.handlers {
		out = append(out, cmd)
	}
	return out
}

// Dispatch validates msg, rejects duplicates, invokes the handler, and
// returns a correlated response. It never panics: handler panics become
// typed internal failures.
func (r *Router) Dispatch(msg Message) Response {
	start := time.Now()

	if err := msg.validate(); err != nil {
		// Malformed messages are rejected before any side effect.
		return r.fail(msg.RequestID, start, msg.Command, Wrap(CodeValidation, err, "invalid message"))
	}

	r.mu.Lock()
	if _, dup := r.inFlight[msg.RequestID]; dup {
		r.mu.Unlock()
		return r.fail(msg.RequestID, start, msg.Command,
			Errorf(CodeDuplicate, "request %s already in flight", msg.RequestID))
	}
	r.inFlight[msg.RequestID] = struct{}{}
	handler, registered := r.handlers[msg.Command]
	r.mu.Unlock()

	// The in-flight set is bounded to live work: the id is released when
	// the original completes, success or failure.
	defer func() {
		r.mu.Lock()
		delete(r.inFlight, msg.RequestID)
		r.mu.Unlock()
	}()

	if msg.Command == CommandGetMetrics {
		return r.succeed(msg.RequestID, start, msg.Command, r.metrics.Snapshot())
	}

	if !registered {
		return r.fail(msg.RequestID, start, msg.Command,
			Errorf(CodeNotFound, "no handler registered for command %q", msg.Command))
	}

	data, err := r.invoke(handler, msg.Payload)
	if err != nil {
		return r.fail(msg.RequestID, start, msg.Command, err)
	}
	return r.succeed(msg.RequestID, start, msg.Command, data)
}

// invoke runs the handler with panic containment.
func (r *Router) invoke(h Handler, payload json.RawMessage) (data any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("handler panic", "panic", rec, "stack", string(debug.Stack()))
			err = Errorf(CodeInternal, "handler panic: %v", rec)
		}
	}()
	return h(payload)
}

func (r *Router) succeed(requestID string, start time.Time, command string, data any) Response {
	elapsed := time.Since(start)
	r.metrics.observe(command, elapsed, false)
	return Response{
		RequestID:        requestID,
		Success:          true,
		Data:             data,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
}

func (r *Router) fail(requestID string, start time.Time, command string, err error) Response {
	elapsed := time.Since(start)
	code := CodeOf(err)
	r.metrics.observe(command, elapsed, true)
	r.log.Warn("dispatch failed", "command", command, "requestId", requestID, "code", string(code), "error", err)
	return Response{
		RequestID:        requestID,
		Success:          false,
		Error:            err.Error(),
		Code:             code,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
}
