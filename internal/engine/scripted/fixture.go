package scripted

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acpd-dev/acpd/internal/engine"
)

// Fixture file shapes. Delays are expressed in milliseconds so fixtures
// stay readable.
type fixtureFile struct {
	SystemPrompt string          `yaml:"system_prompt"`
	Turns        []fixtureTurn   `yaml:"turns"`
	Metrics      *fixtureMetrics `yaml:"metrics"`
}

type fixtureTurn struct {
	Steps []fixtureStep `yaml:"steps"`
}

type fixtureStep struct {
	Message  string         `yaml:"message,omitempty"`
	Action   *fixtureAction `yaml:"action,omitempty"`
	Condense string         `yaml:"condense,omitempty"`
	Fail     string         `yaml:"fail,omitempty"`
}

type fixtureAction struct {
	Tool        string            `yaml:"tool"`
	Command     string            `yaml:"command,omitempty"`
	Path        string            `yaml:"path,omitempty"`
	Line        *int              `yaml:"line,omitempty"`
	Risk        string            `yaml:"risk,omitempty"`
	Thought     string            `yaml:"thought,omitempty"`
	Reasoning   string            `yaml:"reasoning,omitempty"`
	Preview     string            `yaml:"preview,omitempty"`
	Observation string            `yaml:"observation,omitempty"`
	TaskList    []fixtureTaskItem `yaml:"task_list,omitempty"`
	DelayMs     int               `yaml:"delay_ms,omitempty"`
}

type fixtureTaskItem struct {
	Title  string `yaml:"title"`
	Status string `yaml:"status"`
}

type fixtureMetrics struct {
	PromptTokens     int64   `yaml:"prompt_tokens"`
	CompletionTokens int64   `yaml:"completion_tokens"`
	CacheReadTokens  int64   `yaml:"cache_read_tokens"`
	ReasoningTokens  int64   `yaml:"reasoning_tokens"`
	Cost             float64 `yaml:"cost"`
}

// LoadFile reads a script fixture from a YAML file
func LoadFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}

	var file fixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse script %s: %w", path, err)
	}

	script := &Script{SystemPrompt: file.SystemPrompt}
	if file.Metrics != nil {
		script.Metrics = &engine.Metrics{
			PromptTokens:     file.Metrics.PromptTokens,
			CompletionTokens: file.Metrics.CompletionTokens,
			CacheReadTokens:  file.Metrics.CacheReadTokens,
			ReasoningTokens:  file.Metrics.ReasoningTokens,
			Cost:             file.Metrics.Cost,
		}
	}

	for _, ft := range file.Turns {
		turn := Turn{}
		for _, fs := range ft.Steps {
			step := Step{
				Message:  fs.Message,
				Condense: fs.Condense,
				Fail:     fs.Fail,
			}
			if fs.Action != nil {
				step.Action = &ActionStep{
					Tool:        fs.Action.Tool,
					Command:     fs.Action.Command,
					Path:        fs.Action.Path,
					Line:        fs.Action.Line,
					Risk:        engine.Risk(fs.Action.Risk),
					Thought:     fs.Action.Thought,
					Reasoning:   fs.Action.Reasoning,
					Preview:     fs.Action.Preview,
					Observation: fs.Action.Observation,
					Delay:       time.Duration(fs.Action.DelayMs) * time.Millisecond,
				}
				for _, item := range fs.Action.TaskList {
					step.Action.TaskList = append(step.Action.TaskList, engine.TaskItem{
						Title:  item.Title,
						Status: item.Status,
					})
				}
			}
			turn.Steps = append(turn.Steps, step)
		}
		script.Turns = append(script.Turns, turn)
	}

	if err := script.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script %s: %w", path, err)
	}
	return script, nil
}

// DefaultScript is used when no backend is configured: every turn answers
// with a pointer at the configuration.
func DefaultScript() *Script {
	return &Script{
		Turns: []Turn{
			{Steps: []Step{{Message: "No agent backend is configured. Set agent.model or agent.script in settings.yaml under ~/.acpd."}}},
		},
	}
}
