package types

import "time"

// SessionKind distinguishes live provider sessions from capture-review ones.
type SessionKind string

const (
	KindProvider      SessionKind = "provider"
	KindCaptureReview SessionKind = "capture-review"
)

// SessionState is the lifecycle state of a registered session.
type SessionState string

const (
	StateCreated      SessionState = "created"
	StateActivated    SessionState = "activated"
	StateBackgrounded SessionState = "backgrounded"
)

// Session pairs an isolated storage partition with one browser window.
type Session struct {
	ID           string       `json:"id"`
	Kind         SessionKind  `json:"kind"`
	Provider     string       `json:"provider,omitempty"`
	Name         string       `json:"name"`
	URL          string       `json:"url,omitempty"`
	PartitionID  string       `json:"partition_id"`
	State        SessionState `json:"state"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActiveAt time.Time    `json:"last_active_at"`
}

// Rect is a window geometry rectangle in screen coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Zero reports whether the rectangle has no visible area.
func (r Rect) Zero() bool {
	return r.Width <= 0 || r.Height <= 0
}
