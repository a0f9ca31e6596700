package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/promptdeck/internal/types"
)

// Journal appends capture records to date-organized JSONL files. Writes are
// queued and flushed by a background goroutine so the capture ingest path
// never blocks on disk.
type Journal struct {
	dir       string
	maxSizeMB int

	appendCh chan types.CaptureRecord
	done     chan struct{}
	wg       sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	out         *lumberjack.Logger
}

// New creates a journal rooted at dir and starts its write loop.
func New(dir string, bufferSize, maxSizeMB int) *Journal {
	j := &Journal{
		dir:       dir,
		maxSizeMB: maxSizeMB,
		appendCh:  make(chan types.CaptureRecord, bufferSize),
		done:      make(chan struct{}),
	}

	j.wg.Add(1)
	go j.appendLoop()

	return j
}

// Append queues a record for async writing. Records are dropped rather than
// blocking the caller when the buffer is full.
func (j *Journal) Append(rec types.CaptureRecord) error {
	select {
	case <-j.done:
		return fmt.Errorf("journal is closed")
	default:
	}
	select {
	case j.appendCh <- rec:
		return nil
	default:
		slog.Warn("capture journal buffer full, dropping record",
			"capture_id", rec.ID)
		return fmt.Errorf("buffer full")
	}
}

// Close stops the write loop and closes the current file. Records queued
// before Close are flushed by the loop on its way out.
func (j *Journal) Close() error {
	close(j.done)
	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.out != nil {
		return j.out.Close()
	}
	return nil
}

func (j *Journal) appendLoop() {
	defer j.wg.Done()

	for {
		select {
		case rec := <-j.appendCh:
			j.writeRecord(rec)
		case <-j.done:
			for {
				select {
				case rec := <-j.appendCh:
					j.writeRecord(rec)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) writeRecord(rec types.CaptureRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("Failed to marshal capture record",
			"error", err,
			"capture_id", rec.ID)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	date := time.Now().UTC().Format("2006-01-02")
	if j.out == nil || date != j.currentDate {
		j.rotateForDate(date)
		if j.out == nil {
			return
		}
	}

	if _, err := j.out.Write(append(data, '\n')); err != nil {
		slog.Error("Failed to append capture record",
			"error", err,
			"capture_id", rec.ID)
	}
}

func (j *Journal) rotateForDate(date string) {
	if j.out != nil {
		j.out.Close()
		j.out = nil
	}

	if err := os.MkdirAll(j.dir, 0755); err != nil {
		slog.Error("Failed to create journal directory",
			"error", err,
			"dir", j.dir)
		return
	}

	filename := filepath.Join(j.dir, "captures-"+date+".jsonl")
	j.out = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    j.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		Compress:   false,
		LocalTime:  false,
	}
	j.currentDate = date

	slog.Info("Opened capture journal file",
		"file", filename)
}
