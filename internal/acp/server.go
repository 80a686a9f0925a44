// Package acp implements the agent side of the Agent Client Protocol over
// a line-delimited JSON-RPC connection. The server owns the session
// registry, hands prompt turns to the runner, and streams translated
// conversation events back as session/update notifications.
package acp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/acpd-dev/acpd/internal/config"
	"github.com/acpd-dev/acpd/internal/engine"
	"github.com/acpd-dev/acpd/internal/engine/store"
	"github.com/acpd-dev/acpd/internal/protocol"
	"github.com/acpd-dev/acpd/internal/rpc"
	"github.com/acpd-dev/acpd/internal/runner"
	"github.com/acpd-dev/acpd/internal/session"
	"github.com/acpd-dev/acpd/internal/translate"
)

// Options configures a server
type Options struct {
	Config *config.Config
	Loader engine.Loader
	Store  *store.Store
	// McpServers are the MCP definitions from the configuration directory;
	// request-supplied servers are merged over them per session.
	McpServers map[string]engine.McpServerSpec
	// Decide resolves confirmation gates. Nil accepts every gated action.
	Decide  runner.DecisionFunc
	Logger  *slog.Logger
	Version string
}

// Server handles ACP requests for one client connection
type Server struct {
	cfg        *config.Config
	registry   *session.Registry
	runner     *runner.Runner
	translator *translate.Translator
	store      *store.Store
	mcpServers map[string]engine.McpServerSpec
	logger     *slog.Logger
	version    string

	mu   sync.Mutex
	conn *rpc.Conn
}

// NewServer wires the protocol surface to the session machinery
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        opts.Config,
		registry:   session.NewRegistry(opts.Loader, logger),
		runner:     runner.New(opts.Decide, opts.Config.CancelTimeout(), logger),
		translator: translate.NewTranslator(logger),
		store:      opts.Store,
		mcpServers: opts.McpServers,
		logger:     logger,
		version:    opts.Version,
	}
}

// Run serves the connection until EOF or ctx cancellation
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	conn := rpc.NewConn(r, w, s, s.logger)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	return conn.Serve(ctx)
}

// Handle implements rpc.Handler
func (s *Server) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case protocol.MethodInitialize:
		return handle(params, s.initialize)
	case protocol.MethodAuthenticate:
		return handle(params, s.authenticate)
	case protocol.MethodSessionNew:
		return handleCtx(ctx, params, s.newSession)
	case protocol.MethodSessionLoad:
		return handleCtx(ctx, params, s.loadSession)
	case protocol.MethodSessionList:
		return handle(params, s.listSessions)
	case protocol.MethodSessionPrompt:
		return handleCtx(ctx, params, s.prompt)
	case protocol.MethodSessionCancel:
		return handleCtx(ctx, params, s.cancel)
	case protocol.MethodSessionSetMode:
		return handle(params, s.setMode)
	case protocol.MethodSessionSetModel:
		return handle(params, s.setModel)
	default:
		return nil, rpc.MethodNotFound(method)
	}
}

// handle decodes params and invokes a context-free method handler
func handle[Req any, Resp any](params json.RawMessage, fn func(Req) (Resp, error)) (any, error) {
	var req Req
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, rpc.InvalidParams(map[string]any{"details": err.Error()})
		}
	}
	return fn(req)
}

// handleCtx decodes params and invokes a context-aware method handler
func handleCtx[Req any, Resp any](ctx context.Context, params json.RawMessage, fn func(context.Context, Req) (Resp, error)) (any, error) {
	var req Req
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, rpc.InvalidParams(map[string]any{"details": err.Error()})
		}
	}
	return fn(ctx, req)
}

func (s *Server) initialize(req protocol.InitializeRequest) (protocol.InitializeResponse, error) {
	if !s.cfg.Configured() {
		s.logger.Warn("no agent backend configured; sessions will use defaults",
			"hint", "set agent.model in settings.yaml")
	}

	version := protocol.ProtocolVersion
	if req.ProtocolVersion > 0 && req.ProtocolVersion < version {
		version = req.ProtocolVersion
	}

	s.logger.Info("client connected",
		"protocol_version", version,
		"client", clientName(req.ClientInfo))

	return protocol.InitializeResponse{
		ProtocolVersion: version,
		AuthMethods:     []protocol.AuthMethod{},
		AgentCapabilities: protocol.AgentCapabilities{
			LoadSession: true,
			McpCapabilities: protocol.McpCapabilities{
				HTTP: true,
				SSE:  false,
			},
			PromptCapabilities: protocol.PromptCapabilities{
				Audio:           false,
				EmbeddedContext: true,
				Image:           true,
			},
		},
		AgentInfo: protocol.Implementation{Name: "acpd", Version: s.version},
	}, nil
}

// authenticate acknowledges unconditionally: no auth methods are
// advertised, so there is nothing to verify.
func (s *Server) authenticate(protocol.AuthenticateRequest) (protocol.AuthenticateResponse, error) {
	return protocol.AuthenticateResponse{}, nil
}

func (s *Server) newSession(ctx context.Context, req protocol.NewSessionRequest) (protocol.NewSessionResponse, error) {
	sessionID := uuid.New().String()

	if _, err := s.loadConversation(ctx, sessionID, req.Cwd, req.McpServers); err != nil {
		return protocol.NewSessionResponse{}, rpc.InternalError(map[string]any{"details": err.Error()})
	}

	return protocol.NewSessionResponse{SessionID: sessionID}, nil
}

func (s *Server) loadSession(ctx context.Context, req protocol.LoadSessionRequest) (protocol.LoadSessionResponse, error) {
	if _, err := uuid.Parse(req.SessionID); err != nil {
		return protocol.LoadSessionResponse{}, rpc.InvalidParams(map[string]any{
			"sessionId": req.SessionID,
			"details":   "malformed session id",
		})
	}

	conv, err := s.loadConversation(ctx, req.SessionID, req.Cwd, req.McpServers)
	if err != nil {
		return protocol.LoadSessionResponse{}, rpc.InternalError(map[string]any{"details": err.Error()})
	}

	// Replay the full history before acknowledging, so the client renders
	// the conversation as it stood. An id with no stored events replays
	// nothing and still succeeds.
	for _, ev := range conv.Events() {
		s.publish(req.SessionID, ev)
	}

	return protocol.LoadSessionResponse{}, nil
}

func (s *Server) listSessions(protocol.ListSessionsRequest) (protocol.ListSessionsResponse, error) {
	seen := make(map[string]bool)
	sessions := []protocol.SessionInfo{}

	for _, id := range s.registry.IDs() {
		seen[id] = true
		sessions = append(sessions, protocol.SessionInfo{SessionID: id})
	}

	if s.store != nil {
		persisted, err := s.store.Sessions()
		if err != nil {
			return protocol.ListSessionsResponse{}, rpc.InternalError(map[string]any{"details": err.Error()})
		}
		for _, id := range persisted {
			if !seen[id] {
				sessions = append(sessions, protocol.SessionInfo{SessionID: id})
			}
		}
	}

	return protocol.ListSessionsResponse{Sessions: sessions}, nil
}

func (s *Server) prompt(ctx context.Context, req protocol.PromptRequest) (protocol.PromptResponse, error) {
	conv, err := s.loadConversation(ctx, req.SessionID, "", nil)
	if err != nil {
		return protocol.PromptResponse{}, rpc.InternalError(map[string]any{"details": err.Error()})
	}

	msg := promptMessage(req.Prompt)
	if len(msg.Content) == 0 {
		// Nothing the engine can act on; the turn ends immediately.
		return protocol.PromptResponse{StopReason: protocol.StopReasonEndTurn}, nil
	}

	result, err := s.runner.RunPrompt(ctx, conv, msg)
	if err != nil {
		// Best effort: surface the failure in the session stream before
		// failing the request.
		s.notify(req.SessionID, protocol.NewAgentMessageChunk("Error: "+err.Error(), nil))
		return protocol.PromptResponse{}, rpc.InternalError(map[string]any{"details": err.Error()})
	}

	stopReason := protocol.StopReasonEndTurn
	if result.Cancelled {
		stopReason = protocol.StopReasonCancelled
	}
	return protocol.PromptResponse{StopReason: stopReason}, nil
}

// cancel handles the session/cancel notification. Cancelling an unknown or
// idle session is a no-op.
func (s *Server) cancel(ctx context.Context, req protocol.CancelNotification) (struct{}, error) {
	conv, ok := s.registry.Get(req.SessionID)
	if !ok {
		s.logger.Debug("cancel for unknown session", "session_id", req.SessionID)
		return struct{}{}, nil
	}

	if err := s.runner.Cancel(ctx, conv); err != nil {
		return struct{}{}, fmt.Errorf("failed to cancel session %s: %w", req.SessionID, err)
	}
	return struct{}{}, nil
}

func (s *Server) setMode(req protocol.SetSessionModeRequest) (protocol.SetSessionModeResponse, error) {
	if _, ok := s.registry.Get(req.SessionID); !ok {
		return protocol.SetSessionModeResponse{}, rpc.InvalidParams(map[string]any{
			"sessionId": req.SessionID,
			"details":   "unknown session",
		})
	}
	s.logger.Info("session mode set", "session_id", req.SessionID, "mode_id", req.ModeID)
	return protocol.SetSessionModeResponse{}, nil
}

func (s *Server) setModel(req protocol.SetSessionModelRequest) (protocol.SetSessionModelResponse, error) {
	if _, ok := s.registry.Get(req.SessionID); !ok {
		return protocol.SetSessionModelResponse{}, rpc.InvalidParams(map[string]any{
			"sessionId": req.SessionID,
			"details":   "unknown session",
		})
	}
	s.logger.Info("session model set", "session_id", req.SessionID, "model_id", req.ModelID)
	return protocol.SetSessionModelResponse{}, nil
}

// loadConversation resolves a session id to its conversation, creating or
// resuming as needed. Events appended while the conversation runs stream
// out as session/update notifications.
func (s *Server) loadConversation(ctx context.Context, sessionID, cwd string, servers []protocol.McpServer) (engine.Conversation, error) {
	return s.registry.GetOrCreate(ctx, engine.CreateParams{
		SessionID:  sessionID,
		WorkingDir: cwd,
		McpServers: s.mergeMcpServers(servers),
		OnEvent: func(ev engine.Event) {
			s.publish(sessionID, ev)
		},
	})
}

// publish translates one event and streams the resulting updates
func (s *Server) publish(sessionID string, ev engine.Event) {
	var meta *protocol.Meta
	if conv, ok := s.registry.Get(sessionID); ok {
		meta = usageMeta(conv)
	}

	for _, update := range s.translator.Translate(ev, meta) {
		s.notify(sessionID, update)
	}
}

func (s *Server) notify(sessionID string, update protocol.Update) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	err := conn.Notify(protocol.MethodSessionUpdate, protocol.SessionNotification{
		SessionID: sessionID,
		Update:    update,
	})
	if err != nil {
		s.logger.Warn("failed to send session update", "session_id", sessionID, "error", err)
	}
}

// mergeMcpServers layers request-supplied MCP servers over the configured
// ones; request entries win on name collision.
func (s *Server) mergeMcpServers(servers []protocol.McpServer) map[string]engine.McpServerSpec {
	merged := make(map[string]engine.McpServerSpec, len(s.mcpServers)+len(servers))
	for name, spec := range s.mcpServers {
		merged[name] = spec
	}
	for _, srv := range servers {
		env := make(map[string]string, len(srv.Env))
		for _, kv := range srv.Env {
			env[kv.Name] = kv.Value
		}
		merged[srv.Name] = engine.McpServerSpec{
			Type:    srv.Type,
			Command: srv.Command,
			Args:    srv.Args,
			Env:     env,
			URL:     srv.URL,
			Headers: srv.Headers,
		}
	}
	return merged
}

// promptMessage converts prompt content blocks to an engine message,
// dropping block types the engine cannot consume.
func promptMessage(blocks []protocol.ContentBlock) engine.Message {
	msg := engine.Message{Role: "user"}
	for _, block := range blocks {
		switch block.Type {
		case "text", "resource", "resource_link":
			if block.Text != "" {
				msg.Content = append(msg.Content, engine.ContentPart{Type: "text", Text: block.Text})
			} else if block.URI != "" {
				msg.Content = append(msg.Content, engine.ContentPart{Type: "text", Text: block.URI})
			}
		case "image":
			msg.Content = append(msg.Content, engine.ContentPart{
				Type:     "image",
				Data:     block.Data,
				MimeType: block.MimeType,
			})
		}
	}
	return msg
}

// usageMeta builds the _meta block from conversation statistics; nil when
// the engine has none.
func usageMeta(conv engine.Conversation) *protocol.Meta {
	m, ok := conv.Metrics()
	if !ok {
		return nil
	}
	return &protocol.Meta{Metrics: &protocol.Metrics{
		InputTokens:     m.PromptTokens,
		OutputTokens:    m.CompletionTokens,
		CacheReadTokens: m.CacheReadTokens,
		ReasoningTokens: m.ReasoningTokens,
		Cost:            m.Cost,
	}}
}

func clientName(info *protocol.Implementation) string {
	if info == nil {
		return "unknown"
	}
	return info.Name
}
