package protocol

// UpdateKind is the session/update union discriminator
type UpdateKind string

const (
	UpdateKindAgentMessageChunk UpdateKind = "agent_message_chunk"
	UpdateKindAgentThoughtChunk UpdateKind = "agent_thought_chunk"
	UpdateKindToolCall          UpdateKind = "tool_call"
	UpdateKindToolCallUpdate    UpdateKind = "tool_call_update"
	UpdateKindPlan              UpdateKind = "plan"
)

// ToolKind categorizes a tool call for client rendering
type ToolKind string

const (
	ToolKindRead    ToolKind = "read"
	ToolKindEdit    ToolKind = "edit"
	ToolKindExecute ToolKind = "execute"
	ToolKindFetch   ToolKind = "fetch"
	ToolKindThink   ToolKind = "think"
	ToolKindOther   ToolKind = "other"
)

// ToolCallStatus tracks a tool call through its lifecycle
type ToolCallStatus string

const (
	ToolCallStatusPending    ToolCallStatus = "pending"
	ToolCallStatusInProgress ToolCallStatus = "in_progress"
	ToolCallStatusCompleted  ToolCallStatus = "completed"
	ToolCallStatusFailed     ToolCallStatus = "failed"
)

// PlanEntryStatus tracks one plan entry
type PlanEntryStatus string

const (
	PlanEntryStatusPending    PlanEntryStatus = "pending"
	PlanEntryStatusInProgress PlanEntryStatus = "in_progress"
	PlanEntryStatusCompleted  PlanEntryStatus = "completed"
)

// Metrics carries accumulated token usage and cost for the conversation
type Metrics struct {
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	CacheReadTokens int64   `json:"cache_read_tokens"`
	ReasoningTokens int64   `json:"reasoning_tokens"`
	Cost            float64 `json:"cost"`
}

// Meta is the optional _meta block attached to updates. It is omitted
// entirely when no statistics are available.
type Meta struct {
	Metrics *Metrics `json:"metrics,omitempty"`
}

// Update is one variant of the session/update union. The concrete types
// below each carry their own sessionUpdate discriminator so they marshal
// directly into the wire shape.
type Update interface {
	updateKind() UpdateKind
}

// SessionNotification is the outbound session/update notification envelope
type SessionNotification struct {
	SessionID string `json:"sessionId"`
	Update    Update `json:"update"`
}

// AgentMessageChunk streams a piece of the agent's reply
type AgentMessageChunk struct {
	SessionUpdate UpdateKind   `json:"sessionUpdate"`
	Content       ContentBlock `json:"content"`
	Meta          *Meta        `json:"_meta,omitempty"`
}

func (AgentMessageChunk) updateKind() UpdateKind { return UpdateKindAgentMessageChunk }

// NewAgentMessageChunk builds a message chunk with the discriminator set
func NewAgentMessageChunk(text string, meta *Meta) AgentMessageChunk {
	return AgentMessageChunk{
		SessionUpdate: UpdateKindAgentMessageChunk,
		Content:       TextBlock(text),
		Meta:          meta,
	}
}

// AgentThoughtChunk streams a piece of the agent's internal reasoning
type AgentThoughtChunk struct {
	SessionUpdate UpdateKind   `json:"sessionUpdate"`
	Content       ContentBlock `json:"content"`
	Meta          *Meta        `json:"_meta,omitempty"`
}

func (AgentThoughtChunk) updateKind() UpdateKind { return UpdateKindAgentThoughtChunk }

// NewAgentThoughtChunk builds a thought chunk with the discriminator set
func NewAgentThoughtChunk(text string, meta *Meta) AgentThoughtChunk {
	return AgentThoughtChunk{
		SessionUpdate: UpdateKindAgentThoughtChunk,
		Content:       TextBlock(text),
		Meta:          meta,
	}
}

// ToolCallContent wraps a content block shown inside a tool call
type ToolCallContent struct {
	Type    string       `json:"type"`
	Content ContentBlock `json:"content"`
}

// NewToolCallContent wraps text as tool call content
func NewToolCallContent(text string) ToolCallContent {
	return ToolCallContent{Type: "content", Content: TextBlock(text)}
}

// ToolCallLocation points at a file position a tool call touches
type ToolCallLocation struct {
	Path string `json:"path"`
	Line *int   `json:"line,omitempty"`
}

// ToolCallStart announces a new tool call
type ToolCallStart struct {
	SessionUpdate UpdateKind         `json:"sessionUpdate"`
	ToolCallID    string             `json:"toolCallId"`
	Title         string             `json:"title"`
	Kind          ToolKind           `json:"kind"`
	Status        ToolCallStatus     `json:"status"`
	Content       []ToolCallContent  `json:"content,omitempty"`
	Locations     []ToolCallLocation `json:"locations,omitempty"`
	RawInput      any                `json:"rawInput,omitempty"`
	Meta          *Meta              `json:"_meta,omitempty"`
}

func (ToolCallStart) updateKind() UpdateKind { return UpdateKindToolCall }

// ToolCallUpdate reports progress or completion of an earlier tool call
type ToolCallUpdate struct {
	SessionUpdate UpdateKind        `json:"sessionUpdate"`
	ToolCallID    string            `json:"toolCallId"`
	Status        ToolCallStatus    `json:"status"`
	Content       []ToolCallContent `json:"content,omitempty"`
	RawOutput     any               `json:"rawOutput,omitempty"`
	Meta          *Meta             `json:"_meta,omitempty"`
}

func (ToolCallUpdate) updateKind() UpdateKind { return UpdateKindToolCallUpdate }

// PlanEntry is one item of the agent's current plan
type PlanEntry struct {
	Content  string          `json:"content"`
	Status   PlanEntryStatus `json:"status"`
	Priority string          `json:"priority"`
}

// PlanUpdate replaces the agent's current plan
type PlanUpdate struct {
	SessionUpdate UpdateKind  `json:"sessionUpdate"`
	Entries       []PlanEntry `json:"entries"`
}

func (PlanUpdate) updateKind() UpdateKind { return UpdateKindPlan }
