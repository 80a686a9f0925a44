// Package engine defines the contract between the agent driver and the
// conversation engine that owns reasoning, tool execution, and the event
// log. The driver orchestrates conversations purely through this surface.
package engine

import "context"

// ExecutionStatus is the conversation's run-loop state
type ExecutionStatus string

const (
	StatusRunning                ExecutionStatus = "running"
	StatusWaitingForConfirmation ExecutionStatus = "waiting_for_confirmation"
	StatusPaused                 ExecutionStatus = "paused"
	StatusFinished               ExecutionStatus = "finished"
)

// Risk grades how dangerous a proposed action is
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// riskRank orders risks for threshold comparison
func riskRank(r Risk) int {
	switch r {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// ConfirmationPolicy decides whether a proposed action must wait for an
// external decision. Policies are replaced wholesale; the active policy is
// conversation state, read by every subsequent gate check.
type ConfirmationPolicy interface {
	// ShouldConfirm reports whether an action of the given risk needs approval.
	ShouldConfirm(risk Risk) bool
	// Name identifies the policy variant.
	Name() string
}

// NeverConfirm runs every action immediately
type NeverConfirm struct{}

func (NeverConfirm) ShouldConfirm(Risk) bool { return false }
func (NeverConfirm) Name() string            { return "never_confirm" }

// AlwaysConfirm gates every action on an external decision
type AlwaysConfirm struct{}

func (AlwaysConfirm) ShouldConfirm(Risk) bool { return true }
func (AlwaysConfirm) Name() string            { return "always_confirm" }

// ConfirmRisky gates only actions at or above the threshold
type ConfirmRisky struct {
	Threshold Risk
}

func (p ConfirmRisky) ShouldConfirm(risk Risk) bool {
	return riskRank(risk) >= riskRank(p.Threshold)
}

func (ConfirmRisky) Name() string { return "confirm_risky" }

// DefaultConfirmRisky is the policy installed by the confirm-risky decision
func DefaultConfirmRisky() ConfirmRisky {
	return ConfirmRisky{Threshold: RiskHigh}
}

// ContentPart is one piece of user message content
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Message is a user (or system) message queued onto a conversation
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// TextMessage builds a plain-text user message
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: []ContentPart{{Type: "text", Text: text}}}
}

// Metrics is the conversation's accumulated usage. Ok is false when the
// engine has no statistics yet; callers must not fabricate a zeroed block.
type Metrics struct {
	PromptTokens     int64
	CompletionTokens int64
	CacheReadTokens  int64
	ReasoningTokens  int64
	Cost             float64
}

// Conversation is a live handle into the conversation engine. Run blocks
// until the engine reaches Finished, Paused, or WaitingForConfirmation;
// the ctx bounds forced termination. All methods are safe for concurrent
// use.
type Conversation interface {
	// ID returns the session/conversation identifier.
	ID() string
	// SendMessage queues a message; the engine drains its input queue
	// during Run.
	SendMessage(msg Message)
	// Run advances the conversation until it finishes, pauses, or hits a
	// confirmation gate.
	Run(ctx context.Context) error
	// Pause cooperatively asks a running conversation to stop.
	Pause()
	// SetConfirmationPolicy replaces the active policy.
	SetConfirmationPolicy(policy ConfirmationPolicy)
	// ConfirmationPolicy returns the active policy.
	ConfirmationPolicy() ConfirmationPolicy
	// RejectPendingActions resolves all pending actions as rejected,
	// appending rejection events to the log.
	RejectPendingActions(reason string)
	// Status reports the current execution status.
	Status() ExecutionStatus
	// Events returns the event log in append order.
	Events() []Event
	// Metrics returns accumulated usage; ok is false when unavailable.
	Metrics() (Metrics, bool)
}

// McpServerSpec is one MCP server definition in the engine's own format
type McpServerSpec struct {
	Type    string            `json:"type,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// CreateParams configures conversation creation or resume
type CreateParams struct {
	SessionID  string
	WorkingDir string
	McpServers map[string]McpServerSpec
	// OnEvent is invoked from the engine's run goroutine for every event
	// appended to the log.
	OnEvent func(Event)
}

// Loader materializes conversations: from persisted state when the session
// id already exists under the conversations root, fresh otherwise.
type Loader interface {
	LoadOrCreate(ctx context.Context, params CreateParams) (Conversation, error)
}

// PendingActions returns the actions in events that have no matching
// observation, rejection, or error — the set awaiting approval.
func PendingActions(events []Event) []*ActionEvent {
	resolved := make(map[string]bool)
	var actions []*ActionEvent

	for _, ev := range events {
		switch e := ev.(type) {
		case *ObservationEvent:
			resolved[e.ToolCallID] = true
		case *UserRejectEvent:
			resolved[e.ToolCallID] = true
		case *AgentErrorEvent:
			if e.ToolCallID != "" {
				resolved[e.ToolCallID] = true
			}
		}
	}

	for _, ev := range events {
		if a, ok := ev.(*ActionEvent); ok && !resolved[a.ToolCallID] {
			actions = append(actions, a)
		}
	}
	return actions
}
