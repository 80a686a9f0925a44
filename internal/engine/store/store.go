// Package store persists conversation event logs, one directory per
// session id under a conversations root. The presence of a session's
// directory is what distinguishes resuming an existing conversation from
// creating a new one.
package store

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/acpd-dev/acpd/internal/engine"
)

const eventsFile = "events.ndjson"

// Store manages per-session event logs under a single root directory
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates the conversations root if needed
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create conversations root: %w", err)
	}
	return &Store{root: root, logger: logger}, nil
}

// Root returns the conversations root directory
func (s *Store) Root() string { return s.root }

// Exists reports whether a session id has persisted state
func (s *Store) Exists(sessionID string) bool {
	info, err := os.Stat(s.sessionDir(sessionID))
	return err == nil && info.IsDir()
}

// Open returns an append handle for the session's event log, creating the
// session directory on first use.
func (s *Store) Open(sessionID string) (*Log, error) {
	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(dir, eventsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	return &Log{file: file, logger: s.logger}, nil
}

// Load reads a session's full event log in append order. A session with a
// directory but no events yet yields an empty slice.
func (s *Store) Load(sessionID string) ([]engine.Event, error) {
	file, err := os.Open(filepath.Join(s.sessionDir(sessionID), eventsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var events []engine.Event
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		ev, err := engine.UnmarshalEvent(data)
		if err != nil {
			return nil, fmt.Errorf("event log line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, nil
}

// Sessions returns the ids with persisted state, in sorted order
func (s *Store) Sessions() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations root: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// Log appends events to one session's NDJSON file
type Log struct {
	file   *os.File
	logger *slog.Logger
	mu     sync.Mutex
}

// Append writes one event as a single JSON line
func (l *Log) Append(ev engine.Event) error {
	data, err := engine.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Close closes the underlying file
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
