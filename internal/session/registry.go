// Package session maps ACP session ids to live conversations. The registry
// is the single source of truth for identity: one id resolves to one
// conversation handle for the life of the process.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/acpd-dev/acpd/internal/engine"
)

// ErrNotDirectory is returned when a session's working directory path
// exists but is not a directory.
var ErrNotDirectory = errors.New("workspace path is not a directory")

// Registry caches conversations by session id. Repeated lookups for the
// same id always return the identical handle; the conversation engine is
// only consulted on a cache miss.
type Registry struct {
	loader engine.Loader
	logger *slog.Logger

	mu            sync.Mutex
	conversations map[string]engine.Conversation
	inflight      map[string]chan struct{}
}

// NewRegistry wires the registry to a conversation loader
func NewRegistry(loader engine.Loader, logger *slog.Logger) *Registry {
	return &Registry{
		loader:        loader,
		logger:        logger,
		conversations: make(map[string]engine.Conversation),
		inflight:      make(map[string]chan struct{}),
	}
}

// GetOrCreate returns the cached conversation for id, or materializes one
// (resuming persisted state when it exists). Concurrent first references
// to one id construct exactly one conversation; later callers wait for it.
// The loader runs outside the registry lock, so its event callbacks are
// free to look the registry up while the conversation is being built.
// On a cache hit the supplied params are ignored: workspace and MCP
// configuration bind at creation time only.
func (r *Registry) GetOrCreate(ctx context.Context, params engine.CreateParams) (engine.Conversation, error) {
	for {
		r.mu.Lock()
		if conv, ok := r.conversations[params.SessionID]; ok {
			r.mu.Unlock()
			r.logger.Debug("reusing cached conversation", "session_id", params.SessionID)
			return conv, nil
		}
		pending, ok := r.inflight[params.SessionID]
		if !ok {
			break
		}
		r.mu.Unlock()

		select {
		case <-pending:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// This goroutine owns creation for the id; the mutex is still held.
	done := make(chan struct{})
	r.inflight[params.SessionID] = done
	r.mu.Unlock()

	conv, err := r.create(ctx, params)

	r.mu.Lock()
	delete(r.inflight, params.SessionID)
	if err == nil {
		r.conversations[params.SessionID] = conv
	}
	r.mu.Unlock()
	close(done)

	if err != nil {
		return nil, err
	}
	r.logger.Info("conversation ready",
		"session_id", params.SessionID,
		"workspace", params.WorkingDir)
	return conv, nil
}

func (r *Registry) create(ctx context.Context, params engine.CreateParams) (engine.Conversation, error) {
	if params.WorkingDir != "" {
		if err := ensureDirectory(params.WorkingDir); err != nil {
			return nil, err
		}
	}

	conv, err := r.loader.LoadOrCreate(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", params.SessionID, err)
	}
	return conv, nil
}

// Get returns the cached conversation for id, if any
func (r *Registry) Get(sessionID string) (engine.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[sessionID]
	return conv, ok
}

// IDs returns the cached session ids in sorted order
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.conversations))
	for id := range r.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ensureDirectory creates the workspace directory if missing and rejects
// paths that exist as something else.
func ensureDirectory(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("failed to create workspace %s: %w", path, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat workspace %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, path)
	}
	return nil
}
