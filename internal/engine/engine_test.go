package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmationPolicies(t *testing.T) {
	t.Run("never confirm", func(t *testing.T) {
		p := NeverConfirm{}
		assert.False(t, p.ShouldConfirm(RiskLow))
		assert.False(t, p.ShouldConfirm(RiskHigh))
	})

	t.Run("always confirm", func(t *testing.T) {
		p := AlwaysConfirm{}
		assert.True(t, p.ShouldConfirm(RiskLow))
		assert.True(t, p.ShouldConfirm(RiskHigh))
	})

	t.Run("confirm risky gates at threshold", func(t *testing.T) {
		p := DefaultConfirmRisky()
		assert.False(t, p.ShouldConfirm(RiskLow))
		assert.False(t, p.ShouldConfirm(RiskMedium))
		assert.True(t, p.ShouldConfirm(RiskHigh))
	})

	t.Run("confirm risky with medium threshold", func(t *testing.T) {
		p := ConfirmRisky{Threshold: RiskMedium}
		assert.False(t, p.ShouldConfirm(RiskLow))
		assert.True(t, p.ShouldConfirm(RiskMedium))
		assert.True(t, p.ShouldConfirm(RiskHigh))
	})
}

func TestPendingActions(t *testing.T) {
	action := func(id string) *ActionEvent {
		return &ActionEvent{
			Base:       NewBase(EventKindAction, "ev-"+id),
			ToolName:   "terminal",
			ToolCallID: id,
		}
	}

	t.Run("unresolved actions are pending", func(t *testing.T) {
		events := []Event{action("a"), action("b")}
		pending := PendingActions(events)
		require.Len(t, pending, 2)
		assert.Equal(t, "a", pending[0].ToolCallID)
		assert.Equal(t, "b", pending[1].ToolCallID)
	})

	t.Run("observation resolves an action", func(t *testing.T) {
		events := []Event{
			action("a"),
			&ObservationEvent{Base: NewBase(EventKindObservation, "ev-obs"), ToolCallID: "a"},
			action("b"),
		}
		pending := PendingActions(events)
		require.Len(t, pending, 1)
		assert.Equal(t, "b", pending[0].ToolCallID)
	})

	t.Run("rejection and error resolve actions", func(t *testing.T) {
		events := []Event{
			action("a"),
			action("b"),
			&UserRejectEvent{Base: NewBase(EventKindUserReject, "ev-rej"), ToolCallID: "a"},
			&AgentErrorEvent{Base: NewBase(EventKindAgentError, "ev-err"), ToolCallID: "b", Message: "boom"},
		}
		assert.Empty(t, PendingActions(events))
	})

	t.Run("no events means nothing pending", func(t *testing.T) {
		assert.Empty(t, PendingActions(nil))
	})
}

func TestUnmarshalEvent(t *testing.T) {
	t.Run("routes by kind", func(t *testing.T) {
		original := &ActionEvent{
			Base:       NewBase(EventKindAction, "ev-1"),
			ToolName:   "terminal",
			ToolCallID: "call-1",
			Command:    "ls",
			Risk:       RiskLow,
		}
		data, err := MarshalEvent(original)
		require.NoError(t, err)

		decoded, err := UnmarshalEvent(data)
		require.NoError(t, err)

		act, ok := decoded.(*ActionEvent)
		require.True(t, ok)
		assert.Equal(t, "call-1", act.ToolCallID)
		assert.Equal(t, "ls", act.Command)
	})

	t.Run("rejects unknown kinds", func(t *testing.T) {
		_, err := UnmarshalEvent([]byte(`{"kind":"mystery","id":"ev-1"}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown event kind")
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		_, err := UnmarshalEvent([]byte(`{not json`))
		require.Error(t, err)
	})
}

func TestTextMessage(t *testing.T) {
	msg := TextMessage("user", "hello")
	require.Len(t, msg.Content, 1)
	assert.Equal(t, "user", msg.Role)
	assert.Equal(t, "text", msg.Content[0].Type)
	assert.Equal(t, "hello", msg.Content[0].Text)
}
