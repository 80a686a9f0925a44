// Package translate converts conversation events into session/update
// notification payloads. Translation is total: an event that maps to
// nothing yields an empty slice, and a malformed event is dropped with a
// debug log rather than taking the notification stream down.
package translate

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/acpd-dev/acpd/internal/engine"
	"github.com/acpd-dev/acpd/internal/protocol"
)

// Translator maps engine events to protocol updates
type Translator struct {
	logger *slog.Logger
}

// NewTranslator builds a translator
func NewTranslator(logger *slog.Logger) *Translator {
	return &Translator{logger: logger}
}

// Translate returns the updates an event produces, in emission order. meta
// is attached to every update that carries a _meta block; pass nil when the
// engine has no usage statistics.
func (t *Translator) Translate(ev engine.Event, meta *protocol.Meta) (updates []protocol.Update) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Debug("dropping untranslatable event", "panic", fmt.Sprint(r))
			updates = nil
		}
	}()

	switch e := ev.(type) {
	case *engine.MessageEvent:
		return t.translateMessage(e, meta)
	case *engine.ActionEvent:
		return t.translateAction(e, meta)
	case *engine.ObservationEvent:
		return t.translateObservation(e, meta)
	case *engine.UserRejectEvent:
		return []protocol.Update{protocol.ToolCallUpdate{
			SessionUpdate: protocol.UpdateKindToolCallUpdate,
			ToolCallID:    e.ToolCallID,
			Status:        protocol.ToolCallStatusFailed,
			Content:       rejectContent(e.Reason),
			Meta:          meta,
		}}
	case *engine.AgentErrorEvent:
		if e.ToolCallID == "" {
			return []protocol.Update{protocol.NewAgentMessageChunk(e.Message, meta)}
		}
		return []protocol.Update{protocol.ToolCallUpdate{
			SessionUpdate: protocol.UpdateKindToolCallUpdate,
			ToolCallID:    e.ToolCallID,
			Status:        protocol.ToolCallStatusFailed,
			Content:       []protocol.ToolCallContent{protocol.NewToolCallContent(e.Message)},
			Meta:          meta,
		}}
	case *engine.PauseEvent:
		text := e.Text
		if text == "" {
			text = "Conversation paused"
		}
		return []protocol.Update{protocol.NewAgentThoughtChunk(text, meta)}
	case *engine.CondensationEvent:
		text := "Condensed conversation memory"
		if e.Summary != "" {
			text += ": " + e.Summary
		}
		return []protocol.Update{protocol.NewAgentThoughtChunk(text, meta)}
	case *engine.CondensationRequestEvent:
		return []protocol.Update{protocol.NewAgentThoughtChunk("Condensing conversation memory", meta)}
	default:
		// System prompts, state updates, and kinds added later stay internal.
		return nil
	}
}

func (t *Translator) translateMessage(e *engine.MessageEvent, meta *protocol.Meta) []protocol.Update {
	// The client already rendered its own input; everything else streams.
	if e.Role == "user" {
		return nil
	}
	return []protocol.Update{protocol.NewAgentMessageChunk(e.Text, meta)}
}

func (t *Translator) translateAction(e *engine.ActionEvent, meta *protocol.Meta) []protocol.Update {
	// Think and finish are conversational, not tool calls.
	if isThinkTool(e.ToolName) {
		return []protocol.Update{protocol.NewAgentThoughtChunk(actionText(e), meta)}
	}
	if isFinishTool(e.ToolName) {
		return []protocol.Update{protocol.NewAgentMessageChunk(actionText(e), meta)}
	}

	var updates []protocol.Update
	if e.Reasoning != "" {
		updates = append(updates, protocol.NewAgentThoughtChunk("**Reasoning**:\n"+e.Reasoning, meta))
	}
	if e.Thought != "" {
		updates = append(updates, protocol.NewAgentThoughtChunk("**Thought**:\n"+e.Thought, meta))
	}

	kind, title := classifyTool(e)

	start := protocol.ToolCallStart{
		SessionUpdate: protocol.UpdateKindToolCall,
		ToolCallID:    e.ToolCallID,
		Title:         title,
		Kind:          kind,
		Status:        protocol.ToolCallStatusInProgress,
		Meta:          meta,
	}
	if e.Preview != "" {
		start.Content = []protocol.ToolCallContent{protocol.NewToolCallContent(e.Preview)}
	}
	if e.Path != "" {
		start.Locations = []protocol.ToolCallLocation{{Path: e.Path, Line: e.Line}}
	}
	if len(e.Args) > 0 {
		start.RawInput = e.Args
	}
	return append(updates, start)
}

func (t *Translator) translateObservation(e *engine.ObservationEvent, meta *protocol.Meta) []protocol.Update {
	if isThinkTool(e.ToolName) || isFinishTool(e.ToolName) {
		return nil
	}

	var updates []protocol.Update
	if len(e.TaskList) > 0 {
		entries := make([]protocol.PlanEntry, 0, len(e.TaskList))
		for _, item := range e.TaskList {
			entries = append(entries, protocol.PlanEntry{
				Content:  item.Title,
				Status:   planStatus(item.Status),
				Priority: "medium",
			})
		}
		updates = append(updates, protocol.PlanUpdate{
			SessionUpdate: protocol.UpdateKindPlan,
			Entries:       entries,
		})
	}

	update := protocol.ToolCallUpdate{
		SessionUpdate: protocol.UpdateKindToolCallUpdate,
		ToolCallID:    e.ToolCallID,
		Status:        protocol.ToolCallStatusCompleted,
		Meta:          meta,
	}
	if e.Content != "" {
		update.Content = []protocol.ToolCallContent{protocol.NewToolCallContent(e.Content)}
		update.RawOutput = map[string]any{"content": e.Content}
	}
	return append(updates, update)
}

// actionText picks the display text of a think or finish action
func actionText(e *engine.ActionEvent) string {
	if e.Thought != "" {
		return e.Thought
	}
	return e.Preview
}

func isThinkTool(name string) bool {
	return strings.EqualFold(name, "think")
}

func isFinishTool(name string) bool {
	return strings.EqualFold(name, "finish")
}

// classifyTool maps a tool name to the client-facing kind and title
func classifyTool(e *engine.ActionEvent) (protocol.ToolKind, string) {
	name := strings.ToLower(e.ToolName)
	switch {
	case strings.Contains(name, "terminal") || strings.Contains(name, "bash") || strings.Contains(name, "execute"):
		title := e.Command
		if title == "" {
			title = e.ToolName
		}
		return protocol.ToolKindExecute, title
	case strings.Contains(name, "browser"):
		title := e.Command
		if title == "" {
			title = "Browsing the web"
		}
		return protocol.ToolKindFetch, title
	case strings.Contains(name, "edit") || strings.Contains(name, "file"):
		if strings.EqualFold(e.Command, "view") {
			return protocol.ToolKindRead, "Reading " + e.Path
		}
		return protocol.ToolKindEdit, "Editing " + e.Path
	case strings.Contains(name, "task"):
		return protocol.ToolKindOther, "Plan updated"
	default:
		return protocol.ToolKindOther, e.ToolName
	}
}

// planStatus normalizes an engine task status to a plan entry status
func planStatus(status string) protocol.PlanEntryStatus {
	switch strings.ToLower(status) {
	case "done", "completed", "complete":
		return protocol.PlanEntryStatusCompleted
	case "in_progress", "doing":
		return protocol.PlanEntryStatusInProgress
	default:
		return protocol.PlanEntryStatusPending
	}
}

func rejectContent(reason string) []protocol.ToolCallContent {
	if reason == "" {
		reason = "Action rejected"
	}
	return []protocol.ToolCallContent{protocol.NewToolCallContent(reason)}
}
