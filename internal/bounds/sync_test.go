package bounds

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/promptdeck/internal/types"
)

type recordingTarget struct {
	mu    sync.Mutex
	rects []types.Rect
}

func (t *recordingTarget) SetBounds(ctx context.Context, rect types.Rect) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rects = append(t.rects, rect)
	return nil
}

func (t *recordingTarget) snapshot() []types.Rect {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]types.Rect(nil), t.rects...)
}

type fakeProvider struct {
	mu       sync.Mutex
	target   *recordingTarget
	activeID string
}

func (p *fakeProvider) Active() (Target, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.activeID == "" {
		return nil, "", false
	}
	return p.target, p.activeID, true
}

func (p *fakeProvider) setActive(id string) {
	p.mu.Lock()
	p.activeID = id
	p.mu.Unlock()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached within 2s")
}

func newTestSync(t *testing.T) (*Synchronizer, *fakeProvider, *recordingTarget) {
	t.Helper()
	target := &recordingTarget{}
	provider := &fakeProvider{target: target, activeID: "sess-1"}
	s := NewSynchronizer(provider, 5*time.Millisecond, 20*time.Millisecond)
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s, provider, target
}

func TestUpdate_ForwardsLatestToActive(t *testing.T) {
	s, _, target := newTestSync(t)

	want := types.Rect{X: 1, Y: 2, Width: 300, Height: 400}
	s.Update("sess-1", want)
	waitFor(t, func() bool { return len(target.snapshot()) == 1 })

	if got := target.snapshot()[0]; got != want {
		t.Fatalf("SetBounds received %+v; want %+v", got, want)
	}
}

func TestUpdate_CoalescesBursts(t *testing.T) {
	s, _, target := newTestSync(t)

	// A burst inside one frame must collapse to the last value.
	for i := 1; i <= 50; i++ {
		s.Update("sess-1", types.Rect{X: i, Y: i, Width: 100 + i, Height: 100 + i})
	}
	waitFor(t, func() bool { return len(target.snapshot()) >= 1 })
	time.Sleep(30 * time.Millisecond)

	rects := target.snapshot()
	last := rects[len(rects)-1]
	want := types.Rect{X: 50, Y: 50, Width: 150, Height: 150}
	if last != want {
		t.Fatalf("last forwarded rect = %+v; want %+v (last write wins)", last, want)
	}
	if len(rects) >= 50 {
		t.Fatalf("forwarded %d updates for a 50-update burst; want coalesced", len(rects))
	}
}

func TestUpdate_DropsInactiveSession(t *testing.T) {
	s, _, target := newTestSync(t)

	s.Update("sess-2", types.Rect{X: 0, Y: 0, Width: 100, Height: 100})
	time.Sleep(30 * time.Millisecond)

	if got := len(target.snapshot()); got != 0 {
		t.Fatalf("forwarded %d updates for inactive session; want 0", got)
	}
}

func TestUpdate_SuppressesZeroArea(t *testing.T) {
	s, _, target := newTestSync(t)

	s.Update("sess-1", types.Rect{X: 10, Y: 10, Width: 0, Height: 0})
	time.Sleep(30 * time.Millisecond)

	if got := len(target.snapshot()); got != 0 {
		t.Fatalf("forwarded %d zero-area updates; want 0", got)
	}
}

func TestUpdate_DroppedWhenActiveChangesBeforeFlush(t *testing.T) {
	// A wide frame so the active switch always lands before the first flush.
	target := &recordingTarget{}
	provider := &fakeProvider{target: target, activeID: "sess-1"}
	s := NewSynchronizer(provider, 50*time.Millisecond, 20*time.Millisecond)
	s.Start(context.Background())
	t.Cleanup(s.Stop)

	s.Update("sess-1", types.Rect{X: 1, Y: 1, Width: 50, Height: 50})
	provider.setActive("sess-2")
	time.Sleep(120 * time.Millisecond)

	if got := len(target.snapshot()); got != 0 {
		t.Fatalf("forwarded %d updates after active switch; want 0", got)
	}
}

func TestNotifyWindowResize_ReissuesLastRect(t *testing.T) {
	s, _, target := newTestSync(t)

	want := types.Rect{X: 5, Y: 5, Width: 640, Height: 480}
	s.Update("sess-1", want)
	waitFor(t, func() bool { return len(target.snapshot()) == 1 })

	s.NotifyWindowResize(context.Background())
	waitFor(t, func() bool { return len(target.snapshot()) >= 2 })

	rects := target.snapshot()
	if rects[len(rects)-1] != want {
		t.Fatalf("re-issued rect = %+v; want %+v", rects[len(rects)-1], want)
	}
}
