package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind is the event envelope discriminator
type EventKind string

const (
	EventKindAction              EventKind = "action"
	EventKindObservation         EventKind = "observation"
	EventKindUserReject          EventKind = "user_reject"
	EventKindAgentError          EventKind = "agent_error"
	EventKindMessage             EventKind = "message"
	EventKindSystemPrompt        EventKind = "system_prompt"
	EventKindPause               EventKind = "pause"
	EventKindCondensation        EventKind = "condensation"
	EventKindCondensationRequest EventKind = "condensation_request"
	EventKindStateUpdate         EventKind = "state_update"
)

// Event is one entry of a conversation's append-only log. Events are
// immutable once appended; append order is causal order.
type Event interface {
	EventKind() EventKind
	EventID() string
}

// Base carries the fields every event shares
type Base struct {
	Kind      EventKind `json:"kind"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func (b Base) EventID() string { return b.ID }

// ActionEvent is an agent-proposed tool call
type ActionEvent struct {
	Base
	ToolName   string         `json:"tool_name"`
	ToolCallID string         `json:"tool_call_id"`
	Thought    string         `json:"thought,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Command    string         `json:"command,omitempty"`
	Path       string         `json:"path,omitempty"`
	Line       *int           `json:"line,omitempty"`
	Risk       Risk           `json:"risk,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Preview    string         `json:"preview,omitempty"`
}

func (*ActionEvent) EventKind() EventKind { return EventKindAction }

// TaskItem is one entry of a task-tracker observation
type TaskItem struct {
	Title  string `json:"title"`
	Status string `json:"status"`
}

// ObservationEvent is the result of an executed action
type ObservationEvent struct {
	Base
	ToolName   string     `json:"tool_name"`
	ToolCallID string     `json:"tool_call_id"`
	Content    string     `json:"content,omitempty"`
	TaskList   []TaskItem `json:"task_list,omitempty"`
}

func (*ObservationEvent) EventKind() EventKind { return EventKindObservation }

// UserRejectEvent records that the user rejected a pending action
type UserRejectEvent struct {
	Base
	ToolCallID string `json:"tool_call_id"`
	Reason     string `json:"reason,omitempty"`
}

func (*UserRejectEvent) EventKind() EventKind { return EventKindUserReject }

// AgentErrorEvent records a failure inside the engine while executing an
// action
type AgentErrorEvent struct {
	Base
	ToolCallID string `json:"tool_call_id,omitempty"`
	Message    string `json:"message"`
}

func (*AgentErrorEvent) EventKind() EventKind { return EventKindAgentError }

// MessageEvent is a conversational message from any role
type MessageEvent struct {
	Base
	Role string `json:"role"`
	Text string `json:"text"`
}

func (*MessageEvent) EventKind() EventKind { return EventKindMessage }

// SystemPromptEvent records the system prompt installed at conversation
// start; never forwarded to clients
type SystemPromptEvent struct {
	Base
	Text string `json:"text"`
}

func (*SystemPromptEvent) EventKind() EventKind { return EventKindSystemPrompt }

// PauseEvent records a cooperative pause taking effect
type PauseEvent struct {
	Base
	Text string `json:"text,omitempty"`
}

func (*PauseEvent) EventKind() EventKind { return EventKindPause }

// CondensationEvent records completed memory condensation
type CondensationEvent struct {
	Base
	Summary string `json:"summary,omitempty"`
}

func (*CondensationEvent) EventKind() EventKind { return EventKindCondensation }

// CondensationRequestEvent records that condensation was requested
type CondensationRequestEvent struct {
	Base
	Text string `json:"text,omitempty"`
}

func (*CondensationRequestEvent) EventKind() EventKind { return EventKindCondensationRequest }

// StateUpdateEvent is internal engine bookkeeping; never forwarded
type StateUpdateEvent struct {
	Base
	Key   string `json:"key,omitempty"`
	Value any    `json:"value,omitempty"`
}

func (*StateUpdateEvent) EventKind() EventKind { return EventKindStateUpdate }

// MarshalEvent encodes an event with its envelope discriminator set
func MarshalEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// UnmarshalEvent decodes an event by peeking at its kind field, mirroring
// how the wire codec routes envelopes.
func UnmarshalEvent(data []byte) (Event, error) {
	var envelope struct {
		Kind EventKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	var ev Event
	switch envelope.Kind {
	case EventKindAction:
		ev = &ActionEvent{}
	case EventKindObservation:
		ev = &ObservationEvent{}
	case EventKindUserReject:
		ev = &UserRejectEvent{}
	case EventKindAgentError:
		ev = &AgentErrorEvent{}
	case EventKindMessage:
		ev = &MessageEvent{}
	case EventKindSystemPrompt:
		ev = &SystemPromptEvent{}
	case EventKindPause:
		ev = &PauseEvent{}
	case EventKindCondensation:
		ev = &CondensationEvent{}
	case EventKindCondensationRequest:
		ev = &CondensationRequestEvent{}
	case EventKindStateUpdate:
		ev = &StateUpdateEvent{}
	default:
		return nil, fmt.Errorf("unknown event kind: %s", envelope.Kind)
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", envelope.Kind, err)
	}
	return ev, nil
}

// NewBase stamps a fresh event base
func NewBase(kind EventKind, id string) Base {
	return Base{Kind: kind, ID: id, Timestamp: time.Now().UTC()}
}
