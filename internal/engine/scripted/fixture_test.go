package scripted

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acpd-dev/acpd/internal/engine"
)

const sampleFixture = `
system_prompt: "You are a fixture agent."
turns:
  - steps:
      - action:
          tool: terminal
          command: "ls -la"
          risk: low
          observation: "README.md"
          delay_ms: 10
      - message: "Listed the directory."
  - steps:
      - action:
          tool: task_tracker
          observation: "plan updated"
          task_list:
            - title: "Write tests"
              status: in_progress
metrics:
  prompt_tokens: 100
  completion_tokens: 40
  cost: 0.002
`

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFixture), 0600))

	script, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "You are a fixture agent.", script.SystemPrompt)
	require.Len(t, script.Turns, 2)

	first := script.Turns[0].Steps
	require.Len(t, first, 2)
	require.NotNil(t, first[0].Action)
	assert.Equal(t, "ls -la", first[0].Action.Command)
	assert.Equal(t, engine.RiskLow, first[0].Action.Risk)
	assert.Equal(t, 10*time.Millisecond, first[0].Action.Delay)

	second := script.Turns[1].Steps
	require.Len(t, second, 1)
	require.Len(t, second[0].Action.TaskList, 1)
	assert.Equal(t, "Write tests", second[0].Action.TaskList[0].Title)

	require.NotNil(t, script.Metrics)
	assert.Equal(t, int64(100), script.Metrics.PromptTokens)
}

func TestLoadFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("turns: [unbalanced"), 0600))
		_, err := LoadFile(path)
		require.Error(t, err)
	})

	t.Run("empty script fails validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.yaml")
		require.NoError(t, os.WriteFile(path, []byte("system_prompt: hi"), 0600))
		_, err := LoadFile(path)
		require.Error(t, err)
	})
}

func TestDefaultScriptIsValid(t *testing.T) {
	require.NoError(t, DefaultScript().Validate())
}
