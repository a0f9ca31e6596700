package controller

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/promptdeck/internal/capture"
	"github.com/dgnsrekt/promptdeck/internal/export"
	"github.com/dgnsrekt/promptdeck/internal/journal"
	"github.com/dgnsrekt/promptdeck/internal/notify"
	"github.com/dgnsrekt/promptdeck/internal/relay"
	"github.com/dgnsrekt/promptdeck/internal/types"
)

// Sessions is the slice of the session registry the service drives. It is
// satisfied by *session.Registry; tests substitute fakes.
type Sessions interface {
	CreateSession(ctx context.Context, kind types.SessionKind, provider, name, address string) (types.Session, error)
	Activate(ctx context.Context, id string) (types.Session, error)
	Delete(ctx context.Context, id string) error
	Rename(id, name string) (types.Session, error)
	Navigate(ctx context.Context, id, url string) (types.Session, error)
	List(includeInactive bool) []types.Session
	Get(id string) (types.Session, bool)
	GetActive() (types.Session, bool)
	Counts() (total, active int)
}

// BoundsSync is the slice of the bounds synchronizer the service exposes
// over the API. Satisfied by *bounds.Synchronizer.
type BoundsSync interface {
	Update(sessionID string, rect types.Rect)
	NotifyWindowResize(ctx context.Context)
}

// Service wraps session, capture, and export operations behind one façade.
// The API layer talks only to this type.
type Service struct {
	sessions Sessions
	store    *capture.Store
	exports  *export.Pipeline
	journal  *journal.Journal
	broker   *relay.Broker
	bounds   BoundsSync

	exportDir      string
	notifyEndpoint string
}

// NewService creates the controller façade. journal, broker, and bounds may
// be nil; the corresponding side effects are then skipped. notifyEndpoint,
// when set, receives a webhook ping after each completed export.
func NewService(sessions Sessions, store *capture.Store, exports *export.Pipeline, jrnl *journal.Journal, broker *relay.Broker, bounds BoundsSync, exportDir, notifyEndpoint string) *Service {
	return &Service{
		sessions:       sessions,
		store:          store,
		exports:        exports,
		journal:        jrnl,
		broker:         broker,
		bounds:         bounds,
		exportDir:      exportDir,
		notifyEndpoint: notifyEndpoint,
	}
}

func requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return types.NewError(types.CodeValidation, fieldName+" is required", nil)
	}
	return nil
}

// --- Session methods ---

func (s *Service) CreateSession(ctx context.Context, kind, provider, name, url string) (types.Session, error) {
	k := types.SessionKind(strings.TrimSpace(strings.ToLower(kind)))
	if k == "" {
		k = types.KindProvider
	}
	sess, err := s.sessions.CreateSession(ctx, k, provider, name, strings.TrimSpace(url))
	if err != nil {
		return types.Session{}, err
	}
	if s.broker != nil {
		s.broker.PublishJSON(relay.FeedSession, sess)
	}
	return sess, nil
}

func (s *Service) ActivateSession(ctx context.Context, id string) (types.Session, error) {
	if err := requireNonEmpty(id, "session_id"); err != nil {
		return types.Session{}, err
	}
	return s.sessions.Activate(ctx, strings.TrimSpace(id))
}

func (s *Service) DeleteSession(ctx context.Context, id string) error {
	if err := requireNonEmpty(id, "session_id"); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, strings.TrimSpace(id))
}

func (s *Service) RenameSession(ctx context.Context, id, name string) (types.Session, error) {
	if err := requireNonEmpty(id, "session_id"); err != nil {
		return types.Session{}, err
	}
	if err := requireNonEmpty(name, "name"); err != nil {
		return types.Session{}, err
	}
	return s.sessions.Rename(strings.TrimSpace(id), strings.TrimSpace(name))
}

func (s *Service) NavigateSession(ctx context.Context, id, url string) (types.Session, error) {
	if err := requireNonEmpty(id, "session_id"); err != nil {
		return types.Session{}, err
	}
	if err := requireNonEmpty(url, "url"); err != nil {
		return types.Session{}, err
	}
	return s.sessions.Navigate(ctx, strings.TrimSpace(id), strings.TrimSpace(url))
}

func (s *Service) ListSessions(ctx context.Context, includeInactive bool) []types.Session {
	return s.sessions.List(includeInactive)
}

func (s *Service) GetSession(ctx context.Context, id string) (types.Session, error) {
	if err := requireNonEmpty(id, "session_id"); err != nil {
		return types.Session{}, err
	}
	sess, ok := s.sessions.Get(strings.TrimSpace(id))
	if !ok {
		return types.Session{}, types.NewError(types.CodeNotFound, "session not found: "+id, nil)
	}
	return sess, nil
}

func (s *Service) ActiveSession(ctx context.Context) (types.Session, error) {
	sess, ok := s.sessions.GetActive()
	if !ok {
		return types.Session{}, types.NewError(types.CodeNotFound, "no active session", nil)
	}
	return sess, nil
}

// UpdateSessionBounds forwards a window geometry change for the given
// session to the bounds synchronizer. Updates for non-active sessions are
// dropped there, not here, so a race with activation cannot reject a valid
// update.
func (s *Service) UpdateSessionBounds(ctx context.Context, id string, rect types.Rect) error {
	if err := requireNonEmpty(id, "session_id"); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if _, ok := s.sessions.Get(id); !ok {
		return types.NewError(types.CodeNotFound, "session not found: "+id, nil)
	}
	if s.bounds != nil {
		s.bounds.Update(id, rect)
	}
	return nil
}

// NotifyWindowResize tells the synchronizer the host window geometry
// changed, triggering a settle-delayed re-issue of the last bounds.
func (s *Service) NotifyWindowResize(ctx context.Context) {
	if s.bounds != nil {
		s.bounds.NotifyWindowResize(ctx)
	}
}

// --- Capture ingest ---

// HandleCaptureEvent is the registry's capture sink. It runs ingest on its
// own goroutine so CDP event dispatch is never blocked on SQLite.
func (s *Service) HandleCaptureEvent(evt types.CaptureEvent) {
	go func() {
		if _, err := s.IngestCapture(context.Background(), evt); err != nil {
			slog.Error("Capture ingest failed",
				"error", err,
				"session_id", evt.SessionID)
		}
	}()
}

// IngestCapture turns a page capture event into a stored record: journal
// first, then the store, then the live feed.
func (s *Service) IngestCapture(ctx context.Context, evt types.CaptureEvent) (types.CaptureRecord, error) {
	if err := requireNonEmpty(evt.SessionID, "session_id"); err != nil {
		return types.CaptureRecord{}, err
	}
	if err := requireNonEmpty(evt.Prompt, "prompt"); err != nil {
		return types.CaptureRecord{}, err
	}

	createdAt := evt.ObservedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	rec := types.CaptureRecord{
		ID:             uuid.NewString(),
		SessionID:      evt.SessionID,
		Provider:       evt.Provider,
		Prompt:         evt.Prompt,
		Response:       evt.Response,
		ResponseFormat: evt.ResponseFormat,
		Model:          evt.Model,
		CreatedAt:      createdAt.UTC(),
		TokenCount:     evt.TokenCount,
		Topic:          evt.Topic,
		Metadata:       evt.Metadata,
	}

	if s.journal != nil {
		if err := s.journal.Append(rec); err != nil {
			slog.Warn("Capture journal append failed",
				"error", err,
				"capture_id", rec.ID)
		}
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return types.CaptureRecord{}, err
	}
	if s.broker != nil {
		s.broker.PublishCapture(rec)
	}
	return rec, nil
}

// --- Capture query and mutation methods ---

func (s *Service) GetCapture(ctx context.Context, id string) (types.CaptureRecord, error) {
	if err := requireNonEmpty(id, "capture_id"); err != nil {
		return types.CaptureRecord{}, err
	}
	return s.store.Get(ctx, strings.TrimSpace(id))
}

func (s *Service) SearchCaptures(ctx context.Context, f types.Filter) ([]types.CaptureRecord, error) {
	return s.store.Search(ctx, f)
}

func (s *Service) CountCaptures(ctx context.Context, f types.Filter) (int, error) {
	return s.store.Count(ctx, f)
}

func (s *Service) UpdateCaptureTags(ctx context.Context, id string, tags []string) error {
	if err := requireNonEmpty(id, "capture_id"); err != nil {
		return err
	}
	return s.store.UpdateTags(ctx, strings.TrimSpace(id), tags)
}

func (s *Service) UpdateCaptureNotes(ctx context.Context, id, notes string) error {
	if err := requireNonEmpty(id, "capture_id"); err != nil {
		return err
	}
	return s.store.UpdateNotes(ctx, strings.TrimSpace(id), notes)
}

func (s *Service) UpdateCaptureTopic(ctx context.Context, id, topic string) error {
	if err := requireNonEmpty(id, "capture_id"); err != nil {
		return err
	}
	return s.store.UpdateTopic(ctx, strings.TrimSpace(id), topic)
}

func (s *Service) UpdateCaptureMetadata(ctx context.Context, id string, metadata []byte) error {
	if err := requireNonEmpty(id, "capture_id"); err != nil {
		return err
	}
	return s.store.UpdateMetadata(ctx, strings.TrimSpace(id), metadata)
}

func (s *Service) SetCaptureArchived(ctx context.Context, id string, archived bool) error {
	if err := requireNonEmpty(id, "capture_id"); err != nil {
		return err
	}
	return s.store.SetArchived(ctx, strings.TrimSpace(id), archived)
}

func (s *Service) DeleteCapture(ctx context.Context, id string) error {
	if err := requireNonEmpty(id, "capture_id"); err != nil {
		return err
	}
	return s.store.Delete(ctx, strings.TrimSpace(id))
}

func (s *Service) AllTags(ctx context.Context) ([]string, error) {
	return s.store.AllTags(ctx)
}

// Stats combines session counters with capture storage aggregates.
func (s *Service) Stats(ctx context.Context) (types.Stats, error) {
	captures, archived, size, err := s.store.Stats(ctx)
	if err != nil {
		return types.Stats{}, err
	}
	total, active := s.sessions.Counts()
	return types.Stats{
		SessionCount:       total,
		ActiveSessionCount: active,
		CaptureCount:       captures,
		ArchivedCount:      archived,
		StorageSizeBytes:   size,
	}, nil
}

// --- Export methods ---

// SuggestExportPath returns a default destination under the configured
// export directory, timestamped so repeated exports never collide.
func (s *Service) SuggestExportPath(format string) string {
	ext := "json"
	if format == export.FormatCSV {
		ext = "csv"
	}
	name := fmt.Sprintf("captures-%s.%s", time.Now().UTC().Format("20060102-150405"), ext)
	return filepath.Join(s.exportDir, name)
}

// StartExport runs an export in the background and returns immediately.
// The pipeline slot for path is claimed before this returns, so bad input
// and same-path conflicts surface here as errors, not as log lines from the
// goroutine. Progress and the final record count are observable on the
// export_progress feed and via ActiveExports.
func (s *Service) StartExport(ctx context.Context, path, format string, f types.Filter) (string, error) {
	if strings.TrimSpace(path) == "" {
		path = s.SuggestExportPath(format)
	}
	err := s.exports.Start(path, format, f, func(records int, err error) {
		if err != nil {
			slog.Error("Export failed",
				"error", err,
				"path", path)
			return
		}
		s.notifyExportComplete(context.Background(), path, records)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// Export runs an export synchronously and returns the destination path and
// the number of records written.
func (s *Service) Export(ctx context.Context, path, format string, f types.Filter) (string, int, error) {
	if strings.TrimSpace(path) == "" {
		path = s.SuggestExportPath(format)
	}
	records, err := s.exports.Export(ctx, path, format, f, nil)
	if err != nil {
		return path, 0, err
	}
	s.notifyExportComplete(ctx, path, records)
	return path, records, nil
}

func (s *Service) notifyExportComplete(ctx context.Context, path string, records int) {
	if s.notifyEndpoint == "" {
		return
	}
	if err := notify.ExportComplete(ctx, nil, s.notifyEndpoint, path, records); err != nil {
		slog.Warn("Export completion webhook failed",
			"error", err,
			"endpoint", s.notifyEndpoint)
	}
}

func (s *Service) CancelExport(ctx context.Context, path string) error {
	if err := requireNonEmpty(path, "path"); err != nil {
		return err
	}
	return s.exports.Cancel(strings.TrimSpace(path))
}

func (s *Service) ActiveExports(ctx context.Context) []string {
	return s.exports.Active()
}
