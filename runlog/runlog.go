// Package runlog maintains logs.json, a bounded history of bot and
// cleanup runs. The file holds two independent arrays so that the bot
// and the cleanup job can share one log resource; each array keeps
// only the most recent entries.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event categories. Each category maps to its own bucket in logs.json.
const (
	EventBotRun     = "bot-run"
	EventCleanupRun = "cleanup-run"
)

// DefaultMaxEntries bounds each bucket unless overridden.
const DefaultMaxEntries = 5

// Entry is one recorded run outcome.
type Entry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Event      string         `json:"event"`
	Success    bool           `json:"success"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Document is the on-disk layout of logs.json.
type Document struct {
	BotLogs     []Entry `json:"bot_logs"`
	CleanupLogs []Entry `json:"cleanup_logs"`
}

// Store appends entries to a bounded JSON log file.
type Store struct {
	path string
	max  int
	mu   sync.Mutex
}

func NewStore(path string, max int) *Store {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Store{path: path, max: max}
}

// Append loads the log, adds e to its category bucket, trims the
// bucket to the configured maximum and writes the file back via a
// temp-file rename. A missing or unreadable log starts fresh rather
// than failing the run.
func (s *Store) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	doc := s.load()
	switch e.Event {
	case EventCleanupRun:
		doc.CleanupLogs = trim(append(doc.CleanupLogs, e), s.max)
	case EventBotRun:
		doc.BotLogs = trim(append(doc.BotLogs, e), s.max)
	default:
		return fmt.Errorf("unknown log event %q", e.Event)
	}
	return s.write(doc)
}

// Load returns the current log document. Absent or corrupt files
// yield an empty document.
func (s *Store) Load() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() Document {
	var doc Document
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Document{}
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}
	}
	return doc
}

func (s *Store) write(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode log: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func trim(entries []Entry, max int) []Entry {
	if len(entries) > max {
		return entries[len(entries)-max:]
	}
	return entries
}
