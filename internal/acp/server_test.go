package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acpd-dev/acpd/internal/config"
	"github.com/acpd-dev/acpd/internal/engine/scripted"
	"github.com/acpd-dev/acpd/internal/engine/store"
	"github.com/acpd-dev/acpd/internal/protocol"
	"github.com/acpd-dev/acpd/internal/rpc"
)

func testScript() *scripted.Script {
	return &scripted.Script{
		SystemPrompt: "You are a test agent.",
		Turns: []scripted.Turn{
			{Steps: []scripted.Step{
				{Action: &scripted.ActionStep{
					Tool:        "terminal",
					Command:     "ls",
					Observation: "README.md",
				}},
				{Message: "Here is the listing."},
			}},
			{Steps: []scripted.Step{{Message: "Second turn."}}},
		},
	}
}

func newTestServer(t *testing.T, script *scripted.Script) *Server {
	t.Helper()
	return newTestServerWithStore(t, script, newTestStore(t))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(t.TempDir(), slog.Default())
	require.NoError(t, err)
	return st
}

func newTestServerWithStore(t *testing.T, script *scripted.Script, st *store.Store) *Server {
	t.Helper()
	cfg := config.GenerateDefault()
	cfg.CancelTimeoutSeconds = 1

	return NewServer(Options{
		Config:  cfg,
		Loader:  &scripted.Loader{Script: script, Store: st, Logger: slog.Default()},
		Store:   st,
		Logger:  slog.Default(),
		Version: "test",
	})
}

func call(t *testing.T, s *Server, method string, params any) (any, error) {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return s.Handle(context.Background(), method, raw)
}

func mustCall(t *testing.T, s *Server, method string, params any) any {
	t.Helper()
	result, err := call(t, s, method, params)
	require.NoError(t, err)
	return result
}

func newSession(t *testing.T, s *Server) string {
	t.Helper()
	result := mustCall(t, s, protocol.MethodSessionNew, protocol.NewSessionRequest{Cwd: t.TempDir()})
	resp, ok := result.(protocol.NewSessionResponse)
	require.True(t, ok)
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func TestInitialize(t *testing.T) {
	s := newTestServer(t, testScript())

	result := mustCall(t, s, protocol.MethodInitialize, protocol.InitializeRequest{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      &protocol.Implementation{Name: "test-client"},
	})

	resp, ok := result.(protocol.InitializeResponse)
	require.True(t, ok)
	assert.Equal(t, protocol.ProtocolVersion, resp.ProtocolVersion)
	assert.True(t, resp.AgentCapabilities.LoadSession)
	assert.True(t, resp.AgentCapabilities.PromptCapabilities.Image)
	assert.False(t, resp.AgentCapabilities.PromptCapabilities.Audio)
	assert.Equal(t, "acpd", resp.AgentInfo.Name)
	assert.Empty(t, resp.AuthMethods)
}

func TestAuthenticateAlwaysSucceeds(t *testing.T) {
	s := newTestServer(t, testScript())
	result := mustCall(t, s, protocol.MethodAuthenticate, protocol.AuthenticateRequest{MethodID: "anything"})
	_, ok := result.(protocol.AuthenticateResponse)
	assert.True(t, ok)
}

func TestNewSessionGeneratesID(t *testing.T) {
	s := newTestServer(t, testScript())

	id := newSession(t, s)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)

	other := newSession(t, s)
	assert.NotEqual(t, id, other)
}

func TestPromptRunsTurn(t *testing.T) {
	s := newTestServer(t, testScript())
	id := newSession(t, s)

	result := mustCall(t, s, protocol.MethodSessionPrompt, protocol.PromptRequest{
		SessionID: id,
		Prompt:    []protocol.ContentBlock{protocol.TextBlock("list files")},
	})

	resp, ok := result.(protocol.PromptResponse)
	require.True(t, ok)
	assert.Equal(t, protocol.StopReasonEndTurn, resp.StopReason)
}

func TestPromptWithNoUsableContentEndsImmediately(t *testing.T) {
	s := newTestServer(t, testScript())
	id := newSession(t, s)

	result := mustCall(t, s, protocol.MethodSessionPrompt, protocol.PromptRequest{
		SessionID: id,
		Prompt:    []protocol.ContentBlock{{Type: "audio", Data: "..."}},
	})

	resp, ok := result.(protocol.PromptResponse)
	require.True(t, ok)
	assert.Equal(t, protocol.StopReasonEndTurn, resp.StopReason)
}

func TestLoadSessionValidation(t *testing.T) {
	s := newTestServer(t, testScript())

	t.Run("malformed id", func(t *testing.T) {
		_, err := call(t, s, protocol.MethodSessionLoad, protocol.LoadSessionRequest{SessionID: "not-a-uuid"})
		var reqErr *rpc.RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, rpc.CodeInvalidParams, reqErr.Code)
	})

	t.Run("id with no stored events succeeds with empty replay", func(t *testing.T) {
		result := mustCall(t, s, protocol.MethodSessionLoad, protocol.LoadSessionRequest{SessionID: uuid.New().String()})
		_, ok := result.(protocol.LoadSessionResponse)
		assert.True(t, ok)
	})
}

func TestLoadSessionResumesPersistedState(t *testing.T) {
	st := newTestStore(t)

	first := newTestServerWithStore(t, testScript(), st)
	id := newSession(t, first)
	mustCall(t, first, protocol.MethodSessionPrompt, protocol.PromptRequest{
		SessionID: id,
		Prompt:    []protocol.ContentBlock{protocol.TextBlock("list files")},
	})

	// A second server over the same store simulates a restart.
	second := newTestServerWithStore(t, testScript(), st)
	result := mustCall(t, second, protocol.MethodSessionLoad, protocol.LoadSessionRequest{SessionID: id})
	_, ok := result.(protocol.LoadSessionResponse)
	assert.True(t, ok)
}

func TestListSessions(t *testing.T) {
	s := newTestServer(t, testScript())
	a := newSession(t, s)
	b := newSession(t, s)

	result := mustCall(t, s, protocol.MethodSessionList, protocol.ListSessionsRequest{})
	resp, ok := result.(protocol.ListSessionsResponse)
	require.True(t, ok)

	ids := make(map[string]bool)
	for _, info := range resp.Sessions {
		ids[info.SessionID] = true
	}
	assert.True(t, ids[a])
	assert.True(t, ids[b])
}

func TestCancelUnknownSessionIsNoop(t *testing.T) {
	s := newTestServer(t, testScript())
	_, err := call(t, s, protocol.MethodSessionCancel, protocol.CancelNotification{SessionID: uuid.New().String()})
	assert.NoError(t, err)
}

func TestSetModeAndModel(t *testing.T) {
	s := newTestServer(t, testScript())
	id := newSession(t, s)

	mustCall(t, s, protocol.MethodSessionSetMode, protocol.SetSessionModeRequest{SessionID: id, ModeID: "auto"})
	mustCall(t, s, protocol.MethodSessionSetModel, protocol.SetSessionModelRequest{SessionID: id, ModelID: "fast"})

	_, err := call(t, s, protocol.MethodSessionSetMode, protocol.SetSessionModeRequest{SessionID: uuid.New().String(), ModeID: "auto"})
	var reqErr *rpc.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, rpc.CodeInvalidParams, reqErr.Code)
}

func TestUnknownMethod(t *testing.T) {
	s := newTestServer(t, testScript())
	_, err := s.Handle(context.Background(), "session/destroy", nil)
	var reqErr *rpc.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, rpc.CodeMethodNotFound, reqErr.Code)
}

// wireClient drives a server over in-memory pipes, the way a real editor
// client would.
type wireClient struct {
	t             *testing.T
	w             io.Writer
	scanner       *bufio.Scanner
	notifications []wireNotification
}

type wireNotification struct {
	Method string
	Params json.RawMessage
}

type wireFrame struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params json.RawMessage   `json:"params"`
	Result json.RawMessage   `json:"result"`
	Error  *rpc.RequestError `json:"error"`
}

func startWireServer(t *testing.T, script *scripted.Script) *wireClient {
	t.Helper()
	return startWireServerWithStore(t, script, newTestStore(t))
}

func startWireServerWithStore(t *testing.T, script *scripted.Script, st *store.Store) *wireClient {
	t.Helper()

	serverIn, clientOut := io.Pipe()
	clientIn, serverOut := io.Pipe()

	s := newTestServerWithStore(t, script, st)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), serverIn, serverOut) }()

	t.Cleanup(func() {
		clientOut.Close()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop after input closed")
		}
		clientIn.Close()
	})

	scanner := bufio.NewScanner(clientIn)
	scanner.Buffer(make([]byte, rpc.MaxMessageSize), rpc.MaxMessageSize)
	return &wireClient{t: t, w: clientOut, scanner: scanner}
}

func (c *wireClient) send(id int, method string, params any) {
	c.t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(c.t, err)

	var frame string
	if id > 0 {
		frame = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q,"params":%s}`, id, method, raw)
	} else {
		frame = fmt.Sprintf(`{"jsonrpc":"2.0","method":%q,"params":%s}`, method, raw)
	}
	_, err = io.WriteString(c.w, frame+"\n")
	require.NoError(c.t, err)
}

// awaitResponse reads frames until the response with the given id arrives,
// accumulating session/update notifications along the way.
func (c *wireClient) awaitResponse(id int) json.RawMessage {
	c.t.Helper()
	want := fmt.Sprintf("%d", id)

	for c.scanner.Scan() {
		var frame wireFrame
		require.NoError(c.t, json.Unmarshal(c.scanner.Bytes(), &frame))

		if frame.Method != "" {
			c.notifications = append(c.notifications, wireNotification{Method: frame.Method, Params: frame.Params})
			continue
		}
		if string(frame.ID) == want {
			require.Nil(c.t, frame.Error, "unexpected error response")
			return frame.Result
		}
	}
	c.t.Fatalf("connection closed before response %d", id)
	return nil
}

func (c *wireClient) request(id int, method string, params any) json.RawMessage {
	c.t.Helper()
	c.send(id, method, params)
	return c.awaitResponse(id)
}

func (c *wireClient) updateKinds() []string {
	var kinds []string
	for _, n := range c.notifications {
		if n.Method != protocol.MethodSessionUpdate {
			continue
		}
		var payload struct {
			Update struct {
				SessionUpdate string `json:"sessionUpdate"`
			} `json:"update"`
		}
		require.NoError(c.t, json.Unmarshal(n.Params, &payload))
		kinds = append(kinds, payload.Update.SessionUpdate)
	}
	return kinds
}

func TestPromptStreamsUpdatesOverWire(t *testing.T) {
	client := startWireServer(t, testScript())

	client.request(1, protocol.MethodInitialize, protocol.InitializeRequest{ProtocolVersion: 1})

	var newResp protocol.NewSessionResponse
	require.NoError(t, json.Unmarshal(
		client.request(2, protocol.MethodSessionNew, protocol.NewSessionRequest{Cwd: t.TempDir()}),
		&newResp))

	var promptResp protocol.PromptResponse
	require.NoError(t, json.Unmarshal(
		client.request(3, protocol.MethodSessionPrompt, protocol.PromptRequest{
			SessionID: newResp.SessionID,
			Prompt:    []protocol.ContentBlock{protocol.TextBlock("list files")},
		}),
		&promptResp))

	assert.Equal(t, protocol.StopReasonEndTurn, promptResp.StopReason)
	assert.Equal(t, []string{
		string(protocol.UpdateKindToolCall),
		string(protocol.UpdateKindToolCallUpdate),
		string(protocol.UpdateKindAgentMessageChunk),
	}, client.updateKinds())
}

func TestLoadSessionReplaysHistoryOverWire(t *testing.T) {
	st := newTestStore(t)

	// Run one full turn, then restart against the same store.
	first := newTestServerWithStore(t, testScript(), st)
	id := newSession(t, first)
	mustCall(t, first, protocol.MethodSessionPrompt, protocol.PromptRequest{
		SessionID: id,
		Prompt:    []protocol.ContentBlock{protocol.TextBlock("list files")},
	})

	client := startWireServerWithStore(t, testScript(), st)
	client.request(1, protocol.MethodInitialize, protocol.InitializeRequest{ProtocolVersion: 1})
	client.request(2, protocol.MethodSessionLoad, protocol.LoadSessionRequest{SessionID: id})

	// The stored turn replays in emission order before the load response:
	// system prompt and user message stay internal, the action becomes a
	// tool call, its observation completes it, and the assistant reply
	// streams as a message chunk.
	assert.Equal(t, []string{
		string(protocol.UpdateKindToolCall),
		string(protocol.UpdateKindToolCallUpdate),
		string(protocol.UpdateKindAgentMessageChunk),
	}, client.updateKinds())
}

func TestCancelOverWireStopsPrompt(t *testing.T) {
	script := &scripted.Script{Turns: []scripted.Turn{
		{Steps: []scripted.Step{
			{Action: &scripted.ActionStep{
				Tool:        "terminal",
				Command:     "sleep 60",
				Observation: "never",
				Delay:       30 * time.Second,
			}},
		}},
	}}
	client := startWireServer(t, script)

	client.request(1, protocol.MethodInitialize, protocol.InitializeRequest{ProtocolVersion: 1})

	var newResp protocol.NewSessionResponse
	require.NoError(t, json.Unmarshal(
		client.request(2, protocol.MethodSessionNew, protocol.NewSessionRequest{Cwd: t.TempDir()}),
		&newResp))

	client.send(3, protocol.MethodSessionPrompt, protocol.PromptRequest{
		SessionID: newResp.SessionID,
		Prompt:    []protocol.ContentBlock{protocol.TextBlock("hang")},
	})
	// Give the prompt a moment to start before cancelling.
	time.Sleep(100 * time.Millisecond)
	client.send(0, protocol.MethodSessionCancel, protocol.CancelNotification{SessionID: newResp.SessionID})

	var promptResp protocol.PromptResponse
	require.NoError(t, json.Unmarshal(client.awaitResponse(3), &promptResp))
	assert.Equal(t, protocol.StopReasonCancelled, promptResp.StopReason)
}
