// Package runner drives conversation turns in the background and enforces
// the one-task-per-session rule. It owns the cancellation ladder
// (cooperative pause, bounded wait, forced termination) and the
// confirmation loop that resolves gated actions.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/acpd-dev/acpd/internal/engine"
)

// DefaultCancelTimeout bounds how long a cancellation waits for the
// running task to stop cooperatively before forcing termination.
const DefaultCancelTimeout = 10 * time.Second

// Decision is the outcome of a confirmation request
type Decision string

const (
	// DecisionAccept runs the pending actions.
	DecisionAccept Decision = "accept"
	// DecisionReject refuses the pending actions and lets the turn continue.
	DecisionReject Decision = "reject"
	// DecisionDefer leaves the actions pending and ends the turn.
	DecisionDefer Decision = "defer"
	// DecisionAlwaysProceed runs the actions and disables gating for the
	// rest of the conversation.
	DecisionAlwaysProceed Decision = "always_proceed"
	// DecisionConfirmRisky runs the actions and narrows gating to
	// high-risk actions only.
	DecisionConfirmRisky Decision = "confirm_risky"
)

// DecisionFunc resolves a confirmation gate. A nil DecisionFunc accepts
// everything.
type DecisionFunc func(ctx context.Context, conv engine.Conversation, pending []*engine.ActionEvent) (Decision, error)

// Result describes how a prompt turn ended
type Result struct {
	// Cancelled is true when the turn was stopped by cancellation rather
	// than running to completion.
	Cancelled bool
	// Status is the conversation's execution status when the task released.
	Status engine.ExecutionStatus
}

// Runner executes at most one background task per session
type Runner struct {
	decide        DecisionFunc
	cancelTimeout time.Duration
	logger        *slog.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	cancel    context.CancelFunc
	done      chan struct{}
	result    Result
	err       error
	cancelled bool
}

// New builds a runner. cancelTimeout <= 0 selects the default.
func New(decide DecisionFunc, cancelTimeout time.Duration, logger *slog.Logger) *Runner {
	if cancelTimeout <= 0 {
		cancelTimeout = DefaultCancelTimeout
	}
	return &Runner{
		decide:        decide,
		cancelTimeout: cancelTimeout,
		logger:        logger,
		tasks:         make(map[string]*task),
	}
}

// Running reports whether a session has an active task
func (r *Runner) Running(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[sessionID]
	return ok
}

// RunPrompt queues msg onto the conversation and blocks until the turn
// ends. If the session already has a running task, the message joins that
// task's input queue and RunPrompt waits for it instead of starting a
// second one.
func (r *Runner) RunPrompt(ctx context.Context, conv engine.Conversation, msg engine.Message) (Result, error) {
	conv.SendMessage(msg)

	r.mu.Lock()
	if t, ok := r.tasks[conv.ID()]; ok {
		r.mu.Unlock()
		r.logger.Debug("joining in-flight task", "session_id", conv.ID())
		return r.await(ctx, t)
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	r.tasks[conv.ID()] = t
	r.mu.Unlock()

	go r.run(taskCtx, conv, t)
	return r.await(ctx, t)
}

// Cancel stops the session's task: cooperative pause first, then forced
// termination if the task is still running after the cancel timeout.
// Cancelling a session with no active task is a no-op.
func (r *Runner) Cancel(ctx context.Context, conv engine.Conversation) error {
	r.mu.Lock()
	t, ok := r.tasks[conv.ID()]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	conv.Pause()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.cancelTimeout):
	}

	r.logger.Warn("task did not stop cooperatively, forcing termination",
		"session_id", conv.ID(),
		"timeout", r.cancelTimeout)
	t.cancel()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) await(ctx context.Context, t *task) (Result, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (r *Runner) run(ctx context.Context, conv engine.Conversation, t *task) {
	defer func() {
		t.cancel()
		r.mu.Lock()
		delete(r.tasks, conv.ID())
		r.mu.Unlock()
		close(t.done)
	}()

	err := r.converse(ctx, conv)
	if errors.Is(err, context.Canceled) {
		t.cancelled = true
		err = nil
	}

	status := conv.Status()
	t.result = Result{
		Cancelled: t.cancelled || status == engine.StatusPaused,
		Status:    status,
	}
	t.err = err
}

// converse runs the conversation, resolving confirmation gates until the
// turn finishes, pauses, or a decision defers.
func (r *Runner) converse(ctx context.Context, conv engine.Conversation) error {
	for {
		if err := conv.Run(ctx); err != nil {
			return err
		}

		if conv.Status() != engine.StatusWaitingForConfirmation {
			return nil
		}

		pending := engine.PendingActions(conv.Events())
		if len(pending) == 0 {
			// Nothing actually awaiting approval; run on.
			continue
		}

		decision, err := r.resolve(ctx, conv, pending)
		if err != nil {
			conv.RejectPendingActions("Confirmation failed")
			return fmt.Errorf("failed to resolve confirmation: %w", err)
		}

		r.logger.Info("confirmation resolved",
			"session_id", conv.ID(),
			"decision", string(decision),
			"pending", len(pending))

		switch decision {
		case DecisionReject:
			conv.RejectPendingActions("User rejected the action")
		case DecisionDefer:
			// The actions stay pending; the conversation pauses until the
			// next prompt.
			conv.Pause()
			return nil
		case DecisionAlwaysProceed:
			conv.SetConfirmationPolicy(engine.NeverConfirm{})
		case DecisionConfirmRisky:
			conv.SetConfirmationPolicy(engine.DefaultConfirmRisky())
		case DecisionAccept:
			// Next Run executes the pending actions.
		default:
			conv.RejectPendingActions("Unknown confirmation decision")
		}
	}
}

func (r *Runner) resolve(ctx context.Context, conv engine.Conversation, pending []*engine.ActionEvent) (Decision, error) {
	if r.decide == nil {
		return DecisionAccept, nil
	}
	return r.decide(ctx, conv, pending)
}
