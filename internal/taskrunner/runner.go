// Package taskrunner executes server-issued tasks on the endpoint and turns
// every execution into exactly one terminal outcome.
package taskrunner

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/fleetsync/inventory/internal/logging"
	"github.com/fleetsync/inventory/internal/privilege"
	"github.com/fleetsync/inventory/pkg/api"
)

var log = logging.L("taskrunner")

// ErrMissingParameters is returned by handlers whose required parameters
// are absent or empty.
var ErrMissingParameters = errors.New("missing parameters")

// Failure messages reported in the task result.
const (
	msgUnknownTask       = "unknown task"
	msgMissingParameters = "missing parameters"
	msgMalformedPayload  = "malformed task payload"
	msgPanicked          = "task panicked"
	msgNotElevated       = "insufficient privileges"
)

// Handler performs one kind of task.
type Handler func(ctx context.Context, p api.TaskPayload) error

// validators check a built-in task's parameters before the privilege check,
// so a malformed task reports what is wrong with it on any agent.
var validators = map[string]func(api.TaskPayload) error{
	api.TaskDeleteUserProfile: func(p api.TaskPayload) error {
		_, err := profileSID(p)
		return err
	},
}

// Outcome is the terminal state of one execution.
type Outcome struct {
	Status     api.TaskStatus
	Result     json.RawMessage
	DurationMs int64
}

// Error returns the failure message carried in Result, if any.
func (o Outcome) Error() string {
	var r api.TaskResult
	if len(o.Result) == 0 || json.Unmarshal(o.Result, &r) != nil {
		return ""
	}
	return r.Error
}

// Runner dispatches payloads to handlers by case-insensitive name.
type Runner struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	elevated func() bool
}

// New returns a runner with the built-in handlers registered.
func New() *Runner {
	r := &Runner{handlers: make(map[string]Handler), elevated: privilege.IsElevated}
	r.Register(api.TaskDeleteUserProfile, handleDeleteUserProfile)
	return r
}

// Register adds or replaces the handler for name.
func (r *Runner) Register(name string, h Handler) {
	r.mu.Lock()
	r.handlers[strings.ToLower(name)] = h
	r.mu.Unlock()
}

func (r *Runner) lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[strings.ToLower(strings.TrimSpace(name))]
	return h, ok
}

// Execute runs the task payload and always returns a terminal outcome. A
// panicking handler is recovered and reported as failed.
func (r *Runner) Execute(ctx context.Context, taskID int64, raw json.RawMessage) (out Outcome) {
	start := time.Now()
	defer func() {
		out.DurationMs = time.Since(start).Milliseconds()
	}()

	var payload api.TaskPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Warn("malformed task payload", logging.KeyTaskID, taskID, "error", err)
		return failed(msgMalformedPayload)
	}
	tlog := logging.WithTask(log, taskID, payload.Name)

	handler, ok := r.lookup(payload.Name)
	if !ok {
		tlog.Warn("no handler registered for task")
		return failed(msgUnknownTask)
	}
	if validate, ok := validators[strings.ToLower(strings.TrimSpace(payload.Name))]; ok {
		if err := validate(payload); err != nil {
			tlog.Warn("task is missing parameters", "error", err)
			return failed(msgMissingParameters)
		}
	}
	if privilege.RequiresElevation(payload.Name) && !r.elevated() {
		tlog.Warn("task needs an elevated agent")
		return failed(msgNotElevated)
	}

	defer func() {
		if p := recover(); p != nil {
			tlog.Error("task handler panicked", "panic", p, "stack", string(debug.Stack()))
			out = failed(msgPanicked)
		}
	}()

	if err := handler(ctx, payload); err != nil {
		if errors.Is(err, ErrMissingParameters) {
			tlog.Warn("task is missing parameters", "error", err)
			return failed(msgMissingParameters)
		}
		tlog.Warn("task failed", "error", err)
		return failed(err.Error())
	}
	tlog.Info("task succeeded")
	return Outcome{Status: api.TaskSuccessful}
}

func failed(msg string) Outcome {
	raw, _ := json.Marshal(api.TaskResult{Error: msg})
	return Outcome{Status: api.TaskFailed, Result: raw}
}

func profileSID(p api.TaskPayload) (string, error) {
	sid, ok := p.StringParam("sid")
	if !ok {
		return "", ErrMissingParameters
	}
	return strings.TrimSpace(sid), nil
}

func handleDeleteUserProfile(ctx context.Context, p api.TaskPayload) error {
	sid, err := profileSID(p)
	if err != nil {
		return err
	}
	return deleteUserProfile(ctx, sid)
}
