package protocol

// ProtocolVersion is the ACP protocol revision this agent speaks.
const ProtocolVersion = 1

// Method names for the agent-side ACP surface.
const (
	MethodInitialize      = "initialize"
	MethodAuthenticate    = "authenticate"
	MethodSessionNew      = "session/new"
	MethodSessionLoad     = "session/load"
	MethodSessionList     = "session/list"
	MethodSessionPrompt   = "session/prompt"
	MethodSessionCancel   = "session/cancel"
	MethodSessionSetMode  = "session/set_mode"
	MethodSessionSetModel = "session/set_model"
	MethodSessionUpdate   = "session/update"
)

// StopReason explains why a prompt turn ended
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonCancelled StopReason = "cancelled"
	StopReasonRefusal   StopReason = "refusal"
)

// ContentBlock is a single piece of prompt or notification content
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// TextBlock builds a text content block
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// Implementation identifies the agent software to the client
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// McpCapabilities declares which MCP transports the agent accepts
type McpCapabilities struct {
	HTTP bool `json:"http"`
	SSE  bool `json:"sse"`
}

// PromptCapabilities declares which prompt content types the agent accepts
type PromptCapabilities struct {
	Audio           bool `json:"audio"`
	EmbeddedContext bool `json:"embeddedContext"`
	Image           bool `json:"image"`
}

// AgentCapabilities is the capability set returned from initialize
type AgentCapabilities struct {
	LoadSession        bool               `json:"loadSession"`
	McpCapabilities    McpCapabilities    `json:"mcpCapabilities"`
	PromptCapabilities PromptCapabilities `json:"promptCapabilities"`
}

// InitializeRequest is the first request on a connection
type InitializeRequest struct {
	ProtocolVersion int            `json:"protocolVersion"`
	ClientInfo      *Implementation `json:"clientInfo,omitempty"`
}

// InitializeResponse declares the agent's capabilities
type InitializeResponse struct {
	ProtocolVersion   int               `json:"protocolVersion"`
	AuthMethods       []AuthMethod      `json:"authMethods"`
	AgentCapabilities AgentCapabilities `json:"agentCapabilities"`
	AgentInfo         Implementation    `json:"agentInfo"`
}

// AuthMethod describes one way a client may authenticate
type AuthMethod struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// AuthenticateRequest selects an authentication method
type AuthenticateRequest struct {
	MethodID string `json:"methodId"`
}

// AuthenticateResponse acknowledges authentication
type AuthenticateResponse struct{}

// EnvVariable is one environment entry for a spawned MCP server
type EnvVariable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// McpServer describes an MCP server the client wants available in a session.
// Stdio servers carry Command/Args/Env; http and sse servers carry URL and
// optional headers.
type McpServer struct {
	Type    string            `json:"type,omitempty"`
	Name    string            `json:"name"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     []EnvVariable     `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// NewSessionRequest creates a fresh session
type NewSessionRequest struct {
	Cwd        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"`
}

// NewSessionResponse returns the generated session id
type NewSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// LoadSessionRequest resumes a persisted session and replays its history
type LoadSessionRequest struct {
	SessionID  string      `json:"sessionId"`
	Cwd        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"`
}

// LoadSessionResponse acknowledges a completed replay
type LoadSessionResponse struct{}

// ListSessionsRequest pages through known sessions
type ListSessionsRequest struct {
	Cursor string `json:"cursor,omitempty"`
	Cwd    string `json:"cwd,omitempty"`
}

// SessionInfo summarizes one session in a listing
type SessionInfo struct {
	SessionID string `json:"sessionId"`
	Cwd       string `json:"cwd,omitempty"`
	Title     string `json:"title,omitempty"`
}

// ListSessionsResponse is the session listing
type ListSessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// PromptRequest submits user content to a session
type PromptRequest struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// PromptResponse reports how the turn ended
type PromptResponse struct {
	StopReason StopReason `json:"stopReason"`
}

// CancelNotification asks the agent to stop the session's current turn
type CancelNotification struct {
	SessionID string `json:"sessionId"`
}

// SetSessionModeRequest switches the session mode (accepted, not acted on)
type SetSessionModeRequest struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

// SetSessionModeResponse acknowledges a mode change
type SetSessionModeResponse struct{}

// SetSessionModelRequest switches the session model (accepted, not acted on)
type SetSessionModelRequest struct {
	SessionID string `json:"sessionId"`
	ModelID   string `json:"modelId"`
}

// SetSessionModelResponse acknowledges a model change
type SetSessionModelResponse struct{}
