package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/promptdeck/internal/capture"
	"github.com/dgnsrekt/promptdeck/internal/relay"
	"github.com/dgnsrekt/promptdeck/internal/types"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// DefaultBatchSize is the number of records fetched and written per batch.
const DefaultBatchSize = 500

// csvColumns is the fixed CSV header. Order is part of the export contract;
// append new columns rather than reordering.
var csvColumns = []string{
	"id", "session_id", "provider", "prompt", "response",
	"response_format", "model", "created_at", "token_count",
	"tags", "notes", "archived", "topic", "metadata",
}

// Pipeline streams capture records out of the store into JSON or CSV files.
// At most one export may target a given path at a time.
type Pipeline struct {
	store     *capture.Store
	broker    *relay.Broker
	batchSize int

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewPipeline creates an export pipeline. broker may be nil; progress is
// then only delivered to per-call callbacks.
func NewPipeline(store *capture.Store, broker *relay.Broker, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Pipeline{
		store:     store,
		broker:    broker,
		batchSize: batchSize,
		active:    make(map[string]context.CancelFunc),
	}
}

// Export writes all records matching f to path in the given format and
// returns the number of records written. It blocks until the export
// completes, fails, or is cancelled. onProgress, if non-nil, is invoked
// after every written batch; the same progress is published on the
// export_progress feed.
//
// On cancellation or failure the partial output file is removed.
func (p *Pipeline) Export(ctx context.Context, path, format string, f types.Filter, onProgress func(types.Progress)) (int, error) {
	ctx, cancel, err := p.begin(ctx, path, format)
	if err != nil {
		return 0, err
	}
	defer cancel()
	defer p.release(path)
	return p.execute(ctx, path, format, f, onProgress)
}

// Start claims the single-flight slot for path before returning, then runs
// the export on its own goroutine. A second Start or Export for the same
// path fails here, not inside the goroutine. onDone, if non-nil, receives
// the record count and outcome when the export finishes.
func (p *Pipeline) Start(path, format string, f types.Filter, onDone func(records int, err error)) error {
	ctx, cancel, err := p.begin(context.Background(), path, format)
	if err != nil {
		return err
	}
	go func() {
		defer cancel()
		defer p.release(path)
		records, runErr := p.execute(ctx, path, format, f, nil)
		if onDone != nil {
			onDone(records, runErr)
		}
	}()
	return nil
}

// begin validates the request and claims the per-path slot. The caller owns
// the returned cancel func and must release(path) when the export ends.
func (p *Pipeline) begin(ctx context.Context, path, format string) (context.Context, context.CancelFunc, error) {
	if path == "" {
		return nil, nil, types.NewError(types.CodeValidation, "export path is required", nil)
	}
	if format != FormatJSON && format != FormatCSV {
		return nil, nil, types.NewError(types.CodeValidation, fmt.Sprintf("unsupported export format %q", format), nil)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if _, busy := p.active[path]; busy {
		p.mu.Unlock()
		cancel()
		return nil, nil, types.NewError(types.CodeExportInProgress, fmt.Sprintf("export already running for %s", path), nil)
	}
	p.active[path] = cancel
	p.mu.Unlock()
	return ctx, cancel, nil
}

func (p *Pipeline) release(path string) {
	p.mu.Lock()
	delete(p.active, path)
	p.mu.Unlock()
}

func (p *Pipeline) execute(ctx context.Context, path, format string, f types.Filter, onProgress func(types.Progress)) (int, error) {
	start := time.Now()
	slog.Info("Export started",
		"path", path,
		"format", format)

	records, err := p.run(ctx, path, format, f, onProgress)
	if err != nil {
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			slog.Warn("Failed to remove partial export file",
				"error", removeErr,
				"path", path)
		}
		slog.Warn("Export aborted",
			"error", err,
			"path", path)
		return 0, err
	}

	if p.broker != nil {
		p.broker.PublishExportDone(path, records)
	}
	slog.Info("Export complete",
		"path", path,
		"format", format,
		"records", records,
		"duration", time.Since(start).Round(time.Millisecond))
	return records, nil
}

// Cancel aborts the export running for path, if any. The partial output
// file is removed by the exporting goroutine.
func (p *Pipeline) Cancel(path string) error {
	p.mu.Lock()
	cancel, ok := p.active[path]
	p.mu.Unlock()
	if !ok {
		return types.NewError(types.CodeNotFound, fmt.Sprintf("no export running for %s", path), nil)
	}
	cancel()
	return nil
}

// Active returns the paths of in-flight exports, sorted.
func (p *Pipeline) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	paths := make([]string, 0, len(p.active))
	for path := range p.active {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (p *Pipeline) run(ctx context.Context, path, format string, f types.Filter, onProgress func(types.Progress)) (int, error) {
	total, err := p.store.Count(ctx, f)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, types.NewError(types.CodeIOError, "failed to create export directory", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return 0, types.NewError(types.CodeIOError, "failed to create export file", err)
	}
	defer out.Close()

	report := func(processed int) {
		progress := types.Progress{Processed: processed, Total: total, Percentage: 100}
		if total > 0 {
			progress.Percentage = float64(processed) / float64(total) * 100
		}
		if p.broker != nil {
			p.broker.PublishExportProgress(path, progress)
		}
		if onProgress != nil {
			onProgress(progress)
		}
	}

	var write func([]types.CaptureRecord) error
	var finish func() error

	switch format {
	case FormatJSON:
		jw := &jsonArrayWriter{out: out}
		write, finish = jw.write, jw.finish
	case FormatCSV:
		cw := csv.NewWriter(out)
		if err := cw.Write(csvColumns); err != nil {
			return 0, types.NewError(types.CodeIOError, "failed to write CSV header", err)
		}
		write = func(batch []types.CaptureRecord) error {
			for _, rec := range batch {
				if err := cw.Write(csvRow(rec)); err != nil {
					return types.NewError(types.CodeIOError, "failed to write CSV row", err)
				}
			}
			return nil
		}
		finish = func() error {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return types.NewError(types.CodeIOError, "failed to flush CSV output", err)
			}
			return nil
		}
	}

	cursor := p.store.NewCursor(f, p.batchSize)
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, types.NewError(types.CodeCancelled, "export cancelled", err)
		}
		batch, err := cursor.Next(ctx)
		if err != nil {
			return 0, err
		}
		if batch == nil {
			break
		}
		if err := write(batch); err != nil {
			return 0, err
		}
		processed += len(batch)
		report(processed)
	}

	if err := finish(); err != nil {
		return 0, err
	}
	if err := out.Sync(); err != nil {
		return 0, types.NewError(types.CodeIOError, "failed to sync export file", err)
	}
	if processed == 0 {
		report(0)
	}
	return processed, nil
}

// jsonArrayWriter streams records as one JSON array without buffering the
// full result set.
type jsonArrayWriter struct {
	out     *os.File
	started bool
}

func (w *jsonArrayWriter) write(batch []types.CaptureRecord) error {
	for i := range batch {
		data, err := json.Marshal(batch[i])
		if err != nil {
			return types.NewError(types.CodeIOError, "failed to encode record", err)
		}
		sep := ",\n  "
		if !w.started {
			sep = "[\n  "
			w.started = true
		}
		if _, err := w.out.WriteString(sep); err != nil {
			return types.NewError(types.CodeIOError, "failed to write export file", err)
		}
		if _, err := w.out.Write(data); err != nil {
			return types.NewError(types.CodeIOError, "failed to write export file", err)
		}
	}
	return nil
}

func (w *jsonArrayWriter) finish() error {
	closing := "[]\n"
	if w.started {
		closing = "\n]\n"
	}
	if _, err := w.out.WriteString(closing); err != nil {
		return types.NewError(types.CodeIOError, "failed to write export file", err)
	}
	return nil
}

func csvRow(rec types.CaptureRecord) []string {
	return []string{
		rec.ID,
		rec.SessionID,
		rec.Provider,
		rec.Prompt,
		rec.Response,
		rec.ResponseFormat,
		rec.Model,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		strconv.Itoa(rec.TokenCount),
		strings.Join(rec.Tags, ";"),
		rec.Notes,
		strconv.FormatBool(rec.Archived),
		rec.Topic,
		string(rec.Metadata),
	}
}
