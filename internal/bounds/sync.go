package bounds

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/promptdeck/internal/session"
	"github.com/dgnsrekt/promptdeck/internal/types"
)

const (
	// DefaultFrame matches animation-frame granularity at 60Hz.
	DefaultFrame = 16 * time.Millisecond
	// DefaultSettle is how long to wait after a window-level resize before
	// re-issuing the last rectangle (maximize/restore transitions).
	DefaultSettle = 150 * time.Millisecond
)

// Target receives geometry updates. Satisfied by the session View.
type Target interface {
	SetBounds(ctx context.Context, rect types.Rect) error
}

// ActiveProvider resolves the currently active session's view.
type ActiveProvider interface {
	Active() (Target, string, bool)
}

// FromRegistry adapts a session Registry to the ActiveProvider interface.
func FromRegistry(r *session.Registry) ActiveProvider {
	return registryProvider{r: r}
}

type registryProvider struct{ r *session.Registry }

func (p registryProvider) Active() (Target, string, bool) {
	v, id, ok := p.r.ActiveView()
	if !ok {
		return nil, "", false
	}
	return v, id, true
}

// Synchronizer forwards layout rectangles from the UI layer to the active
// session's view, coalesced to one update per frame. Updates aimed at a
// backgrounded session are dropped, not queued: its geometry is irrelevant
// until it is reactivated and the UI lays it out again.
type Synchronizer struct {
	provider ActiveProvider
	frame    time.Duration
	settle   time.Duration

	mu        sync.Mutex
	pending   *types.Rect
	pendingID string
	last      types.Rect
	lastID    string
	hasLast   bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSynchronizer creates a Synchronizer with the given tick intervals.
// Zero durations fall back to the defaults.
func NewSynchronizer(provider ActiveProvider, frame, settle time.Duration) *Synchronizer {
	if frame <= 0 {
		frame = DefaultFrame
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Synchronizer{
		provider: provider,
		frame:    frame,
		settle:   settle,
		done:     make(chan struct{}),
	}
}

// Start launches the flush loop. Stop must be called exactly once afterward.
func (s *Synchronizer) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.frame)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.flush(ctx)
			}
		}
	}()
}

// Stop halts the flush loop.
func (s *Synchronizer) Stop() {
	close(s.done)
	s.wg.Wait()
}

// Update records a geometry observation for a session. Only the active
// session's latest rectangle survives until the next frame; zero-area
// rectangles are treated as a not-yet-laid-out container and suppressed.
func (s *Synchronizer) Update(sessionID string, rect types.Rect) {
	if rect.Zero() {
		return
	}
	_, activeID, ok := s.provider.Active()
	if !ok || activeID != sessionID {
		return
	}

	s.mu.Lock()
	r := rect
	s.pending = &r
	s.pendingID = sessionID
	s.mu.Unlock()
}

// NotifyWindowResize schedules a re-issue of the most recent rectangle after
// the settle delay, covering maximize/restore where the final layout arrives
// before the window manager finishes moving things.
func (s *Synchronizer) NotifyWindowResize(ctx context.Context) {
	time.AfterFunc(s.settle, func() {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}
		s.mu.Lock()
		if s.pending == nil && s.hasLast {
			r := s.last
			s.pending = &r
			s.pendingID = s.lastID
		}
		s.mu.Unlock()
		s.flush(ctx)
	})
}

// flush sends at most one pending rectangle to the active view.
func (s *Synchronizer) flush(ctx context.Context) {
	s.mu.Lock()
	if s.pending == nil {
		s.mu.Unlock()
		return
	}
	rect := *s.pending
	sessionID := s.pendingID
	s.pending = nil
	s.mu.Unlock()

	target, activeID, ok := s.provider.Active()
	if !ok || activeID != sessionID {
		// The active session changed between observation and flush; the
		// pending rectangle no longer describes a visible container.
		return
	}

	if err := target.SetBounds(ctx, rect); err != nil {
		slog.Warn("bounds update failed", "session_id", sessionID, "error", err)
		return
	}

	s.mu.Lock()
	s.last = rect
	s.lastID = sessionID
	s.hasLast = true
	s.mu.Unlock()
}
