package scripted

import (
	"errors"
	"time"

	"github.com/acpd-dev/acpd/internal/engine"
)

// Script describes the deterministic behaviour of a scripted conversation.
// Each user message consumes the next turn; steps within a turn play in
// order.
type Script struct {
	// SystemPrompt is appended as the first event of a new conversation.
	SystemPrompt string
	// Turns are consumed one per user message.
	Turns []Turn
	// Metrics, when set, is what the conversation reports as accumulated
	// usage. Nil means the engine has no statistics.
	Metrics *engine.Metrics
}

// Turn is the scripted response to one user message
type Turn struct {
	Steps []Step
}

// Step is a single scripted element. Exactly one field should be set.
type Step struct {
	// Message emits an assistant message event.
	Message string
	// Action proposes and (once approved) executes a tool call.
	Action *ActionStep
	// Condense emits a condensation event.
	Condense string
	// Fail emits an agent error event with the given message.
	Fail string
}

// ActionStep describes one scripted tool call
type ActionStep struct {
	Tool      string
	Command   string
	Path      string
	Line      *int
	Risk      engine.Risk
	Thought   string
	Reasoning string
	Preview   string
	// Observation is the result content appended once the action runs.
	Observation string
	// TaskList marks the observation as a task-tracker plan snapshot.
	TaskList []engine.TaskItem
	// Delay simulates execution time; honored via the run context, so a
	// forced cancellation interrupts it.
	Delay time.Duration
}

// Validate checks the script is playable
func (s *Script) Validate() error {
	if len(s.Turns) == 0 {
		return errors.New("script requires at least one turn")
	}
	for _, turn := range s.Turns {
		for _, step := range turn.Steps {
			set := 0
			if step.Message != "" {
				set++
			}
			if step.Action != nil {
				set++
			}
			if step.Condense != "" {
				set++
			}
			if step.Fail != "" {
				set++
			}
			if set != 1 {
				return errors.New("each step must set exactly one of message, action, condense, fail")
			}
		}
	}
	return nil
}
