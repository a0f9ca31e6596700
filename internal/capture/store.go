package capture

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/dgnsrekt/promptdeck/internal/types"
)

// Store is the durable, indexed record of captured exchanges, backed by
// SQLite. It is the sole writer of capture records; readers never mutate.
type Store struct {
	db     *sql.DB
	dbPath string
}

// New opens (or creates) the capture database at the given path and runs
// migrations.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("capture store: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("capture store: open: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("capture store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS captures (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL DEFAULT '',
		response TEXT NOT NULL DEFAULT '',
		response_format TEXT NOT NULL DEFAULT 'plain',
		model TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		archived INTEGER NOT NULL DEFAULT 0,
		topic TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_captures_created ON captures(created_at DESC, id);
	CREATE INDEX IF NOT EXISTS idx_captures_provider ON captures(provider);
	CREATE INDEX IF NOT EXISTS idx_captures_session ON captures(session_id);

	CREATE TABLE IF NOT EXISTS capture_tags (
		capture_id TEXT NOT NULL REFERENCES captures(id) ON DELETE CASCADE,
		tag TEXT NOT NULL,
		PRIMARY KEY (capture_id, tag)
	);
	CREATE INDEX IF NOT EXISTS idx_capture_tags_tag ON capture_tags(tag);
	`
	_, err := s.db.Exec(schema)
	return err
}

const captureColumns = `id, session_id, provider, prompt, response, response_format,
	model, created_at, token_count, notes, archived, topic, metadata`

// Insert durably writes a new capture record. The identifier must be unique;
// reusing one fails with DUPLICATE_ID and leaves the store unchanged.
func (s *Store) Insert(ctx context.Context, rec types.CaptureRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return types.NewError(types.CodeValidation, "capture id is required", nil)
	}
	if strings.TrimSpace(rec.SessionID) == "" {
		return types.NewError(types.CodeValidation, "capture session_id is required", nil)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.ResponseFormat == "" {
		rec.ResponseFormat = "plain"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.NewError(types.CodeIOError, "begin insert", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO captures (`+captureColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Provider, rec.Prompt, rec.Response,
		rec.ResponseFormat, rec.Model, rec.CreatedAt, rec.TokenCount,
		rec.Notes, boolToInt(rec.Archived), rec.Topic, string(rec.Metadata),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return types.NewError(types.CodeDuplicateID, "capture already exists: "+rec.ID, nil)
		}
		return types.NewError(types.CodeIOError, "insert capture", err)
	}

	if err := insertTags(ctx, tx, rec.ID, rec.Tags); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return types.NewError(types.CodeIOError, "commit insert", err)
	}
	return nil
}

func insertTags(ctx context.Context, tx *sql.Tx, captureID string, tags []string) error {
	for _, tag := range normalizeTags(tags) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO capture_tags (capture_id, tag) VALUES (?, ?)`, captureID, tag); err != nil {
			return types.NewError(types.CodeIOError, "insert tag", err)
		}
	}
	return nil
}

// normalizeTags deduplicates, trims, and sorts a tag set.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Get returns a capture record by id.
func (s *Store) Get(ctx context.Context, id string) (types.CaptureRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+captureColumns+` FROM captures WHERE id = ?`, id)
	rec, err := scanCapture(row)
	if err == sql.ErrNoRows {
		return types.CaptureRecord{}, types.NewError(types.CodeNotFound, "capture not found: "+id, nil)
	}
	if err != nil {
		return types.CaptureRecord{}, types.NewError(types.CodeIOError, "read capture", err)
	}

	tags, err := s.loadTags(ctx, []string{id})
	if err != nil {
		return types.CaptureRecord{}, err
	}
	rec.Tags = tags[id]
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapture(row rowScanner) (types.CaptureRecord, error) {
	var rec types.CaptureRecord
	var archived int
	var metadata string
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.Provider, &rec.Prompt, &rec.Response,
		&rec.ResponseFormat, &rec.Model, &rec.CreatedAt, &rec.TokenCount,
		&rec.Notes, &archived, &rec.Topic, &metadata)
	if err != nil {
		return types.CaptureRecord{}, err
	}
	rec.Archived = archived != 0
	rec.CreatedAt = rec.CreatedAt.UTC()
	if metadata != "" {
		rec.Metadata = json.RawMessage(metadata)
	}
	return rec, nil
}

// Search returns records matching the filter, newest first, id as the tie
// break. An inverted timestamp range yields an empty result, not an error.
func (s *Store) Search(ctx context.Context, f types.Filter) ([]types.CaptureRecord, error) {
	where, args, empty := buildWhere(f)
	if empty {
		return []types.CaptureRecord{}, nil
	}

	query := `SELECT ` + captureColumns + ` FROM captures` + where +
		` ORDER BY created_at DESC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.NewError(types.CodeIOError, "search captures", err)
	}
	defer rows.Close()

	records := make([]types.CaptureRecord, 0)
	ids := make([]string, 0)
	for rows.Next() {
		rec, err := scanCapture(rows)
		if err != nil {
			return nil, types.NewError(types.CodeIOError, "scan capture", err)
		}
		records = append(records, rec)
		ids = append(ids, rec.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewError(types.CodeIOError, "search captures", err)
	}

	tags, err := s.loadTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Tags = tags[records[i].ID]
	}
	return records, nil
}

// Count returns the number of records matching the filter, ignoring
// pagination fields.
func (s *Store) Count(ctx context.Context, f types.Filter) (int, error) {
	where, args, empty := buildWhere(f)
	if empty {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM captures`+where, args...).Scan(&n)
	if err != nil {
		return 0, types.NewError(types.CodeIOError, "count captures", err)
	}
	return n, nil
}

func (s *Store) loadTags(ctx context.Context, ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT capture_id, tag FROM capture_tags WHERE capture_id IN (`+placeholders+`) ORDER BY tag`,
		args...)
	if err != nil {
		return nil, types.NewError(types.CodeIOError, "load tags", err)
	}
	defer rows.Close()

	for rows.Next() {
		var captureID, tag string
		if err := rows.Scan(&captureID, &tag); err != nil {
			return nil, types.NewError(types.CodeIOError, "scan tag", err)
		}
		out[captureID] = append(out[captureID], tag)
	}
	return out, rows.Err()
}

// UpdateTags replaces the record's tag set atomically.
func (s *Store) UpdateTags(ctx context.Context, id string, tags []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.NewError(types.CodeIOError, "begin update tags", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM captures WHERE id = ?`, id).Scan(&exists); err != nil {
		return types.NewError(types.CodeIOError, "update tags", err)
	}
	if exists == 0 {
		return types.NewError(types.CodeNotFound, "capture not found: "+id, nil)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM capture_tags WHERE capture_id = ?`, id); err != nil {
		return types.NewError(types.CodeIOError, "clear tags", err)
	}
	if err := insertTags(ctx, tx, id, tags); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return types.NewError(types.CodeIOError, "commit update tags", err)
	}
	return nil
}

// UpdateNotes sets the free-text notes field.
func (s *Store) UpdateNotes(ctx context.Context, id, notes string) error {
	return s.updateColumn(ctx, id, "notes", notes)
}

// UpdateTopic sets the topic label.
func (s *Store) UpdateTopic(ctx context.Context, id, topic string) error {
	return s.updateColumn(ctx, id, "topic", topic)
}

// UpdateMetadata replaces the structured metadata blob.
func (s *Store) UpdateMetadata(ctx context.Context, id string, metadata json.RawMessage) error {
	if len(metadata) > 0 && !json.Valid(metadata) {
		return types.NewError(types.CodeValidation, "metadata is not valid JSON", nil)
	}
	return s.updateColumn(ctx, id, "metadata", string(metadata))
}

// SetArchived flips the archived flag. Idempotent: repeating a value leaves
// the stored state unchanged.
func (s *Store) SetArchived(ctx context.Context, id string, archived bool) error {
	return s.updateColumn(ctx, id, "archived", boolToInt(archived))
}

func (s *Store) updateColumn(ctx context.Context, id, column string, value any) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE captures SET `+column+` = ? WHERE id = ?`, value, id)
	if err != nil {
		return types.NewError(types.CodeIOError, "update "+column, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return types.NewError(types.CodeNotFound, "capture not found: "+id, nil)
	}
	return nil
}

// Delete removes a capture record permanently.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM captures WHERE id = ?`, id)
	if err != nil {
		return types.NewError(types.CodeIOError, "delete capture", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return types.NewError(types.CodeNotFound, "capture not found: "+id, nil)
	}
	return nil
}

// AllTags returns every distinct tag in use, sorted.
func (s *Store) AllTags(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tag FROM capture_tags ORDER BY tag`)
	if err != nil {
		return nil, types.NewError(types.CodeIOError, "list tags", err)
	}
	defer rows.Close()

	tags := make([]string, 0)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, types.NewError(types.CodeIOError, "scan tag", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// Stats computes capture counts and on-disk size on demand. Counting per
// call keeps the numbers honest; this is a low-frequency operation.
func (s *Store) Stats(ctx context.Context) (captureCount, archivedCount int, sizeBytes int64, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM captures`).Scan(&captureCount); err != nil {
		return 0, 0, 0, types.NewError(types.CodeIOError, "count captures", err)
	}
	if err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM captures WHERE archived = 1`).Scan(&archivedCount); err != nil {
		return 0, 0, 0, types.NewError(types.CodeIOError, "count archived", err)
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if info, statErr := os.Stat(s.dbPath + suffix); statErr == nil {
			sizeBytes += info.Size()
		}
	}
	return captureCount, archivedCount, sizeBytes, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
