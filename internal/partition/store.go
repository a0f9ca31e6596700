package partition

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var idRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ContextAllocator creates and disposes isolated browser storage contexts.
// The CDP-backed implementation lives in the view package.
type ContextAllocator interface {
	CreateBrowserContext(ctx context.Context) (string, error)
	DisposeBrowserContext(ctx context.Context, browserContextID string) error
}

// Record is the durable description of one storage partition. A released
// partition keeps its record on disk; only Erase removes it.
type Record struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"session_id"`
	Provider         string     `json:"provider,omitempty"`
	BrowserContextID string     `json:"browser_context_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ReleasedAt       *time.Time `json:"released_at,omitempty"`
}

// Live reports whether the partition still backs a browser context.
func (r Record) Live() bool { return r.ReleasedAt == nil }

// Store maps session identifiers to isolated browser storage partitions and
// persists one JSON record per partition.
type Store struct {
	dir   string
	alloc ContextAllocator

	mu      sync.Mutex
	records map[string]*Record
}

// NewStore creates a Store, ensures the directory exists, and loads any
// partition records from previous runs. Loaded records are marked released:
// their browser contexts did not survive the browser restart.
func NewStore(dir string, alloc ContextAllocator) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("partition store: mkdir %s: %w", dir, err)
	}
	s := &Store{dir: dir, alloc: alloc, records: make(map[string]*Record)}
	if err := s.loadExisting(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadExisting() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return fmt.Errorf("partition store: glob: %w", err)
	}
	now := time.Now().UTC()
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil || !idRe.MatchString(rec.ID) {
			slog.Warn("skipping malformed partition record", "path", path)
			continue
		}
		if rec.Live() {
			rec.ReleasedAt = &now
			rec.BrowserContextID = ""
			if err := s.writeRecord(&rec); err != nil {
				slog.Warn("failed to mark stale partition released", "id", rec.ID, "error", err)
			}
		}
		s.records[rec.ID] = &rec
	}
	return nil
}

// Allocate creates a fresh isolated browser context for the session and
// persists its record. On any failure no partition is registered.
func (s *Store) Allocate(ctx context.Context, sessionID, provider string) (Record, error) {
	browserContextID, err := s.alloc.CreateBrowserContext(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("partition store: create context: %w", err)
	}

	rec := &Record{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		Provider:         provider,
		BrowserContextID: browserContextID,
		CreatedAt:        time.Now().UTC(),
	}

	if err := s.writeRecord(rec); err != nil {
		if dispErr := s.alloc.DisposeBrowserContext(ctx, browserContextID); dispErr != nil {
			slog.Warn("failed to dispose context after write failure",
				"browser_context_id", browserContextID, "error", dispErr)
		}
		return Record{}, err
	}

	s.mu.Lock()
	s.records[rec.ID] = rec
	s.mu.Unlock()

	slog.Info("partition allocated",
		"partition_id", rec.ID, "session_id", sessionID, "provider", provider)
	return *rec, nil
}

// Get returns the partition record by ID.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Release drops the live browser context but keeps the durable record, so
// the partition's history remains inspectable after its session is deleted.
func (s *Store) Release(ctx context.Context, id string) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("partition not found: %s", id)
	}
	browserContextID := rec.BrowserContextID
	now := time.Now().UTC()
	rec.ReleasedAt = &now
	rec.BrowserContextID = ""
	snapshot := *rec
	s.mu.Unlock()

	if browserContextID != "" {
		if err := s.alloc.DisposeBrowserContext(ctx, browserContextID); err != nil {
			slog.Warn("partition context dispose failed",
				"partition_id", id, "browser_context_id", browserContextID, "error", err)
		}
	}
	return s.writeRecord(&snapshot)
}

// Erase removes the partition entirely: live context, record file, and map
// entry. Irreversible.
func (s *Store) Erase(ctx context.Context, id string) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("partition not found: %s", id)
	}
	browserContextID := rec.BrowserContextID
	delete(s.records, id)
	s.mu.Unlock()

	if browserContextID != "" {
		if err := s.alloc.DisposeBrowserContext(ctx, browserContextID); err != nil {
			slog.Warn("partition context dispose failed",
				"partition_id", id, "browser_context_id", browserContextID, "error", err)
		}
	}
	if err := os.Remove(s.recordPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("partition store: remove record: %w", err)
	}
	return nil
}

// List returns all partition records sorted by creation time (oldest first).
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) writeRecord(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("partition store: marshal record: %w", err)
	}
	if err := os.WriteFile(s.recordPath(rec.ID), data, 0o644); err != nil {
		return fmt.Errorf("partition store: write record: %w", err)
	}
	return nil
}
