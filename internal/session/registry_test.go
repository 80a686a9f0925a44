package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acpd-dev/acpd/internal/engine"
	"github.com/acpd-dev/acpd/internal/engine/scripted"
)

func testLoader() engine.Loader {
	return &scripted.Loader{
		Script: &scripted.Script{Turns: []scripted.Turn{
			{Steps: []scripted.Step{{Message: "ok"}}},
		}},
		Logger: slog.Default(),
	}
}

func TestGetOrCreateReturnsSameHandle(t *testing.T) {
	r := NewRegistry(testLoader(), slog.Default())

	first, err := r.GetOrCreate(context.Background(), engine.CreateParams{SessionID: "sess-1"})
	require.NoError(t, err)

	second, err := r.GetOrCreate(context.Background(), engine.CreateParams{SessionID: "sess-1"})
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestGetOrCreateIgnoresParamsOnCacheHit(t *testing.T) {
	r := NewRegistry(testLoader(), slog.Default())

	_, err := r.GetOrCreate(context.Background(), engine.CreateParams{SessionID: "sess-1"})
	require.NoError(t, err)

	// A bogus workspace on a cached session must not be validated.
	_, err = r.GetOrCreate(context.Background(), engine.CreateParams{
		SessionID:  "sess-1",
		WorkingDir: filepath.Join(t.TempDir(), "does", "not", "matter"),
	})
	require.NoError(t, err)
}

func TestGetOrCreateCreatesWorkspace(t *testing.T) {
	r := NewRegistry(testLoader(), slog.Default())
	workspace := filepath.Join(t.TempDir(), "nested", "workspace")

	_, err := r.GetOrCreate(context.Background(), engine.CreateParams{
		SessionID:  "sess-1",
		WorkingDir: workspace,
	})
	require.NoError(t, err)

	info, err := os.Stat(workspace)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestGetOrCreateRejectsFileWorkspace(t *testing.T) {
	r := NewRegistry(testLoader(), slog.Default())

	path := filepath.Join(t.TempDir(), "a-file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))

	_, err := r.GetOrCreate(context.Background(), engine.CreateParams{
		SessionID:  "sess-1",
		WorkingDir: path,
	})
	require.ErrorIs(t, err, ErrNotDirectory)
}

func TestGetOrCreateAllowsCallbackReentry(t *testing.T) {
	// Event publication looks conversations up by id, and a script with a
	// system prompt fires its first event during creation. The lookup must
	// not block on the registry while GetOrCreate is still in flight.
	loader := &scripted.Loader{
		Script: &scripted.Script{
			SystemPrompt: "You are a test agent.",
			Turns: []scripted.Turn{
				{Steps: []scripted.Step{{Message: "ok"}}},
			},
		},
		Logger: slog.Default(),
	}
	r := NewRegistry(loader, slog.Default())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := r.GetOrCreate(context.Background(), engine.CreateParams{
			SessionID: "sess-1",
			OnEvent: func(engine.Event) {
				_, cached := r.Get("sess-1")
				assert.False(t, cached, "conversation must not be visible mid-creation")
			},
		})
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("GetOrCreate did not return; creation callback blocked on the registry")
	}

	_, ok := r.Get("sess-1")
	assert.True(t, ok)
}

type countingLoader struct {
	inner engine.Loader

	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadOrCreate(ctx context.Context, params engine.CreateParams) (engine.Conversation, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	return l.inner.LoadOrCreate(ctx, params)
}

func TestGetOrCreateConstructsOncePerID(t *testing.T) {
	loader := &countingLoader{inner: testLoader()}
	r := NewRegistry(loader, slog.Default())

	const workers = 8
	convs := make([]engine.Conversation, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := r.GetOrCreate(context.Background(), engine.CreateParams{SessionID: "sess-1"})
			assert.NoError(t, err)
			convs[i] = conv
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, loader.calls)
	for i := 1; i < workers; i++ {
		assert.Same(t, convs[0], convs[i])
	}
}

func TestGetAndIDs(t *testing.T) {
	r := NewRegistry(testLoader(), slog.Default())

	_, ok := r.Get("sess-1")
	assert.False(t, ok)
	assert.Empty(t, r.IDs())

	for _, id := range []string{"sess-b", "sess-a"} {
		_, err := r.GetOrCreate(context.Background(), engine.CreateParams{SessionID: id})
		require.NoError(t, err)
	}

	conv, ok := r.Get("sess-a")
	require.True(t, ok)
	assert.Equal(t, "sess-a", conv.ID())
	assert.Equal(t, []string{"sess-a", "sess-b"}, r.IDs())
}
