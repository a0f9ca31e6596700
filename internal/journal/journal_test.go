package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/promptdeck/internal/types"
)

func TestAppendAndClose(t *testing.T) {
	dir := t.TempDir()
	j := New(dir, 16, 10)

	for i := 0; i < 3; i++ {
		rec := types.CaptureRecord{
			ID:        "cap-" + string(rune('a'+i)),
			SessionID: "sess-1",
			Provider:  "claude",
			Prompt:    "p",
			Response:  "r",
			CreatedAt: time.Now().UTC(),
		}
		if err := j.Append(rec); err != nil {
			t.Fatalf("Append() = %v; want nil", err)
		}
	}

	if err := j.Close(); err != nil {
		t.Fatalf("Close() = %v; want nil", err)
	}

	date := time.Now().UTC().Format("2006-01-02")
	path := filepath.Join(dir, "captures-"+date+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open(%s) = %v; want nil", path, err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec types.CaptureRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d not valid JSON: %v", lines, err)
		}
		if rec.SessionID != "sess-1" {
			t.Fatalf("line %d session = %q; want sess-1", lines, rec.SessionID)
		}
		lines++
	}
	if lines != 3 {
		t.Fatalf("journal has %d lines; want 3", lines)
	}
}

func TestCloseFlushesBacklog(t *testing.T) {
	dir := t.TempDir()
	j := New(dir, 64, 10)

	// Queue more records than the loop can plausibly drain before Close so
	// the shutdown path has a real backlog to flush.
	const n = 50
	for i := 0; i < n; i++ {
		rec := types.CaptureRecord{
			ID:        "cap-" + string(rune('a'+i%26)),
			SessionID: "sess-1",
			Prompt:    "p",
			Response:  "r",
			CreatedAt: time.Now().UTC(),
		}
		if err := j.Append(rec); err != nil {
			t.Fatalf("Append(%d) = %v; want nil", i, err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() = %v; want nil", err)
	}

	date := time.Now().UTC().Format("2006-01-02")
	f, err := os.Open(filepath.Join(dir, "captures-"+date+".jsonl"))
	if err != nil {
		t.Fatalf("Open() = %v; want nil", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	if lines != n {
		t.Fatalf("journal has %d lines after Close; want %d", lines, n)
	}
}

func TestAppendAfterClose(t *testing.T) {
	j := New(t.TempDir(), 4, 10)
	if err := j.Close(); err != nil {
		t.Fatalf("Close() = %v; want nil", err)
	}
	if err := j.Append(types.CaptureRecord{ID: "late"}); err == nil {
		t.Fatalf("Append() after Close = nil; want error")
	}
}
