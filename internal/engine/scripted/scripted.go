// Package scripted implements the conversation engine contract with
// deterministic, scripted behaviour. It backs the test suite and fixture
// runs of the server; a production deployment swaps in a real engine
// behind the same interface.
package scripted

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acpd-dev/acpd/internal/engine"
	"github.com/acpd-dev/acpd/internal/engine/store"
)

// Loader materializes scripted conversations, resuming from the store when
// the session id already has persisted events.
type Loader struct {
	Script *Script
	Store  *store.Store
	Logger *slog.Logger
}

// LoadOrCreate implements engine.Loader
func (l *Loader) LoadOrCreate(_ context.Context, params engine.CreateParams) (engine.Conversation, error) {
	if l.Script == nil {
		return nil, fmt.Errorf("scripted loader requires a script")
	}
	if err := l.Script.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}

	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Conversation{
		id:      params.SessionID,
		script:  l.Script,
		onEvent: params.OnEvent,
		logger:  logger,
		status:  engine.StatusFinished,
		policy:  engine.NeverConfirm{},
	}

	if l.Store != nil {
		existing := l.Store.Exists(params.SessionID)

		if existing {
			events, err := l.Store.Load(params.SessionID)
			if err != nil {
				return nil, fmt.Errorf("resume session %s: %w", params.SessionID, err)
			}
			c.events = events
			c.restoreProgress()
		}

		log, err := l.Store.Open(params.SessionID)
		if err != nil {
			return nil, err
		}
		c.persist = log

		if existing {
			return c, nil
		}
	}

	if l.Script.SystemPrompt != "" {
		c.append(&engine.SystemPromptEvent{
			Base: engine.NewBase(engine.EventKindSystemPrompt, uuid.New().String()),
			Text: l.Script.SystemPrompt,
		})
	}
	return c, nil
}

// Conversation is a scripted engine conversation. Safe for concurrent use.
type Conversation struct {
	id      string
	script  *Script
	onEvent func(engine.Event)
	persist *store.Log
	logger  *slog.Logger

	mu     sync.Mutex
	events []engine.Event
	status engine.ExecutionStatus
	policy engine.ConfirmationPolicy
	paused bool

	// run-loop progress
	queued  int // user messages not yet consumed
	turn    int // next script turn
	step    int // next step within the current turn
	inTurn  bool
	pending *pendingAction
}

type pendingAction struct {
	step       *ActionStep
	toolCallID string
}

// ID implements engine.Conversation
func (c *Conversation) ID() string { return c.id }

// SendMessage queues a user message; it is consumed by the next Run
func (c *Conversation) SendMessage(msg engine.Message) {
	text := ""
	for _, part := range msg.Content {
		if part.Type == "text" {
			text += part.Text
		}
	}

	c.mu.Lock()
	c.queued++
	c.mu.Unlock()

	c.append(&engine.MessageEvent{
		Base: engine.NewBase(engine.EventKindMessage, uuid.New().String()),
		Role: msg.Role,
		Text: text,
	})
}

// Pause cooperatively requests the run loop to stop at the next step
// boundary. Steps already blocking on a delay are not interrupted; forced
// termination via the run context covers that path. A conversation held at
// the confirmation gate pauses immediately, its actions staying pending.
func (c *Conversation) Pause() {
	c.mu.Lock()
	if c.status == engine.StatusWaitingForConfirmation {
		c.status = engine.StatusPaused
		c.mu.Unlock()
		c.append(&engine.PauseEvent{
			Base: engine.NewBase(engine.EventKindPause, uuid.New().String()),
			Text: "Conversation paused",
		})
		return
	}
	c.paused = true
	c.mu.Unlock()
}

// SetConfirmationPolicy implements engine.Conversation
func (c *Conversation) SetConfirmationPolicy(policy engine.ConfirmationPolicy) {
	c.mu.Lock()
	c.policy = policy
	c.mu.Unlock()
}

// ConfirmationPolicy implements engine.Conversation
func (c *Conversation) ConfirmationPolicy() engine.ConfirmationPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

// RejectPendingActions appends a rejection event for every pending action
func (c *Conversation) RejectPendingActions(reason string) {
	for _, action := range engine.PendingActions(c.Events()) {
		c.append(&engine.UserRejectEvent{
			Base:       engine.NewBase(engine.EventKindUserReject, uuid.New().String()),
			ToolCallID: action.ToolCallID,
			Reason:     reason,
		})
	}
}

// Status implements engine.Conversation
func (c *Conversation) Status() engine.ExecutionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Events returns a snapshot of the event log in append order
func (c *Conversation) Events() []engine.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]engine.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Metrics implements engine.Conversation
func (c *Conversation) Metrics() (engine.Metrics, bool) {
	if c.script.Metrics == nil {
		return engine.Metrics{}, false
	}
	return *c.script.Metrics, true
}

// Run plays script steps until the queue drains (Finished), a pause
// request lands (Paused), or an action hits the confirmation gate
// (WaitingForConfirmation). ctx cancellation terminates immediately.
func (c *Conversation) Run(ctx context.Context) error {
	c.setStatus(engine.StatusRunning)

	for {
		if err := ctx.Err(); err != nil {
			c.setStatus(engine.StatusPaused)
			return err
		}

		if c.takePause() {
			c.append(&engine.PauseEvent{
				Base: engine.NewBase(engine.EventKindPause, uuid.New().String()),
				Text: "Conversation paused",
			})
			c.setStatus(engine.StatusPaused)
			return nil
		}

		if done, err := c.resolvePending(ctx); err != nil {
			return err
		} else if done {
			continue
		}

		c.mu.Lock()
		if !c.inTurn {
			if c.queued == 0 {
				c.status = engine.StatusFinished
				c.mu.Unlock()
				return nil
			}
			c.queued--
			if c.turn >= len(c.script.Turns) {
				// Script exhausted: treat the remaining messages as answered.
				c.queued = 0
				c.status = engine.StatusFinished
				c.mu.Unlock()
				return nil
			}
			c.inTurn = true
			c.step = 0
		}

		turn := c.script.Turns[c.turn]
		if c.step >= len(turn.Steps) {
			c.inTurn = false
			c.turn++
			c.mu.Unlock()
			continue
		}
		step := turn.Steps[c.step]
		c.step++
		c.mu.Unlock()

		if err := c.playStep(ctx, step); err != nil {
			if err == errWaiting {
				return nil
			}
			return err
		}
	}
}

// resolvePending executes or skips the action the last Run left at the
// confirmation gate. Returns done=true when a pending action was handled.
func (c *Conversation) resolvePending(ctx context.Context) (bool, error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if pending == nil {
		return false, nil
	}

	rejected := false
	for _, ev := range c.Events() {
		if rej, ok := ev.(*engine.UserRejectEvent); ok && rej.ToolCallID == pending.toolCallID {
			rejected = true
			break
		}
	}
	if rejected {
		return true, nil
	}
	return true, c.observe(ctx, pending.step, pending.toolCallID)
}

func (c *Conversation) playStep(ctx context.Context, step Step) error {
	switch {
	case step.Message != "":
		c.append(&engine.MessageEvent{
			Base: engine.NewBase(engine.EventKindMessage, uuid.New().String()),
			Role: "assistant",
			Text: step.Message,
		})

	case step.Condense != "":
		c.append(&engine.CondensationEvent{
			Base:    engine.NewBase(engine.EventKindCondensation, uuid.New().String()),
			Summary: step.Condense,
		})

	case step.Fail != "":
		c.append(&engine.AgentErrorEvent{
			Base:    engine.NewBase(engine.EventKindAgentError, uuid.New().String()),
			Message: step.Fail,
		})

	case step.Action != nil:
		return c.playAction(ctx, step.Action)
	}
	return nil
}

func (c *Conversation) playAction(ctx context.Context, action *ActionStep) error {
	toolCallID := uuid.New().String()

	c.append(&engine.ActionEvent{
		Base:       engine.NewBase(engine.EventKindAction, uuid.New().String()),
		ToolName:   action.Tool,
		ToolCallID: toolCallID,
		Thought:    action.Thought,
		Reasoning:  action.Reasoning,
		Command:    action.Command,
		Path:       action.Path,
		Line:       action.Line,
		Risk:       action.Risk,
		Preview:    action.Preview,
	})

	c.mu.Lock()
	policy := c.policy
	c.mu.Unlock()

	risk := action.Risk
	if risk == "" {
		risk = engine.RiskLow
	}
	if policy.ShouldConfirm(risk) {
		c.mu.Lock()
		c.pending = &pendingAction{step: action, toolCallID: toolCallID}
		c.status = engine.StatusWaitingForConfirmation
		c.mu.Unlock()
		return errWaiting
	}

	return c.observe(ctx, action, toolCallID)
}

// errWaiting is an internal signal that Run stopped at the confirmation
// gate; it never escapes Run.
var errWaiting = fmt.Errorf("waiting for confirmation")

func (c *Conversation) observe(ctx context.Context, action *ActionStep, toolCallID string) error {
	if action.Delay > 0 {
		select {
		case <-ctx.Done():
			c.setStatus(engine.StatusPaused)
			return ctx.Err()
		case <-time.After(action.Delay):
		}
	}

	c.append(&engine.ObservationEvent{
		Base:       engine.NewBase(engine.EventKindObservation, uuid.New().String()),
		ToolName:   action.Tool,
		ToolCallID: toolCallID,
		Content:    action.Observation,
		TaskList:   action.TaskList,
	})
	return nil
}

func (c *Conversation) append(ev engine.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	persist := c.persist
	onEvent := c.onEvent
	c.mu.Unlock()

	if persist != nil {
		if err := persist.Append(ev); err != nil {
			c.logger.Warn("failed to persist event", "session_id", c.id, "error", err)
		}
	}
	if onEvent != nil {
		onEvent(ev)
	}
}

func (c *Conversation) setStatus(status engine.ExecutionStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

func (c *Conversation) takePause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		return true
	}
	return false
}

// restoreProgress derives run-loop progress from a replayed event log:
// each user message consumed one script turn.
func (c *Conversation) restoreProgress() {
	turns := 0
	for _, ev := range c.events {
		if msg, ok := ev.(*engine.MessageEvent); ok && msg.Role == "user" {
			turns++
		}
	}
	c.turn = turns
	if len(c.events) > 0 {
		if _, ok := c.events[len(c.events)-1].(*engine.PauseEvent); ok {
			c.status = engine.StatusPaused
		}
	}
}
