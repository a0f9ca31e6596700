package types

import (
	"encoding/json"
	"time"
)

// CaptureRecord is one stored prompt/response exchange plus user-editable
// metadata. ID and CreatedAt are immutable after insert.
type CaptureRecord struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	Provider       string          `json:"provider"`
	Prompt         string          `json:"prompt"`
	Response       string          `json:"response"`
	ResponseFormat string          `json:"response_format,omitempty"`
	Model          string          `json:"model,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	TokenCount     int             `json:"token_count,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Archived       bool            `json:"archived"`
	Topic          string          `json:"topic,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// CaptureEvent is the payload a live session's page emits when a
// prompt/response exchange completes. The page-side observer is an external
// collaborator; this is its contract with the pipeline.
type CaptureEvent struct {
	SessionID      string          `json:"session_id"`
	Provider       string          `json:"provider"`
	Prompt         string          `json:"prompt"`
	Response       string          `json:"response"`
	ResponseFormat string          `json:"response_format,omitempty"`
	Model          string          `json:"model,omitempty"`
	TokenCount     int             `json:"token_count,omitempty"`
	Topic          string          `json:"topic,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	ObservedAt     time.Time       `json:"observed_at"`
}

// Filter narrows capture queries. Zero values mean "no constraint".
// Tags match any (OR). Start/End bound CreatedAt inclusively.
type Filter struct {
	Query     string     `json:"query,omitempty"`
	Providers []string   `json:"providers,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	Archived  *bool      `json:"archived,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// Stats is an aggregate snapshot over sessions and captures, computed on
// demand rather than maintained incrementally.
type Stats struct {
	SessionCount       int   `json:"session_count"`
	ActiveSessionCount int   `json:"active_session_count"`
	CaptureCount       int   `json:"capture_count"`
	ArchivedCount      int   `json:"archived_count"`
	StorageSizeBytes   int64 `json:"storage_size_bytes"`
}

// Progress reports export advancement after each processed batch.
type Progress struct {
	Processed  int     `json:"processed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}
