package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dgnsrekt/promptdeck/internal/partition"
	"github.com/dgnsrekt/promptdeck/internal/types"
)

type fakeView struct {
	visible   bool
	destroyed int
	navigated []string
	captureFn func(types.CaptureEvent)
}

func (v *fakeView) Navigate(ctx context.Context, url string) error {
	v.navigated = append(v.navigated, url)
	return nil
}

func (v *fakeView) SetBounds(ctx context.Context, rect types.Rect) error { return nil }

func (v *fakeView) SetVisible(ctx context.Context, visible bool) error {
	v.visible = visible
	return nil
}

func (v *fakeView) Destroy(ctx context.Context) error {
	v.destroyed++
	return nil
}

func (v *fakeView) OnCapture(fn func(types.CaptureEvent)) func() {
	v.captureFn = fn
	return func() { v.captureFn = nil }
}

func (v *fakeView) Visible() bool      { return v.visible }
func (v *fakeView) Bounds() types.Rect { return types.Rect{} }

type fakeParts struct {
	nextID    int
	released  []string
	allocErr  error
	allocated []string
}

func (p *fakeParts) Allocate(ctx context.Context, sessionID, provider string) (partition.Record, error) {
	if p.allocErr != nil {
		return partition.Record{}, p.allocErr
	}
	p.nextID++
	id := fmt.Sprintf("part-%d", p.nextID)
	p.allocated = append(p.allocated, id)
	return partition.Record{ID: id, SessionID: sessionID, Provider: provider, BrowserContextID: "bctx-" + id}, nil
}

func (p *fakeParts) Release(ctx context.Context, partitionID string) error {
	p.released = append(p.released, partitionID)
	return nil
}

type fakeOpener struct {
	views     map[string]*fakeView
	createErr error
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{views: make(map[string]*fakeView)}
}

func (o *fakeOpener) Create(ctx context.Context, sessionID, partitionID, browserContextID, url string) (View, error) {
	if o.createErr != nil {
		return nil, o.createErr
	}
	v := &fakeView{visible: true}
	o.views[sessionID] = v
	return v, nil
}

func newTestRegistry() (*Registry, *fakeParts, *fakeOpener) {
	parts := &fakeParts{}
	opener := newFakeOpener()
	return NewRegistry(parts, opener, nil), parts, opener
}

func activeCount(r *Registry) int {
	n := 0
	for _, s := range r.List(true) {
		if s.Active {
			n++
		}
	}
	return n
}

func TestCreateSession_NewSessionBecomesActive(t *testing.T) {
	r, _, opener := newTestRegistry()

	claude, err := r.CreateSession(context.Background(), types.KindProvider, "claude", "", "")
	if err != nil {
		t.Fatalf("CreateSession(claude) = %v; want nil", err)
	}
	if !claude.Active || claude.State != types.StateActivated {
		t.Fatalf("claude session = %+v; want active", claude)
	}

	chatgpt, err := r.CreateSession(context.Background(), types.KindProvider, "chatgpt", "", "")
	if err != nil {
		t.Fatalf("CreateSession(chatgpt) = %v; want nil", err)
	}

	// Scenario A: claude demoted, chatgpt active, list(false) → chatgpt only.
	got, _ := r.Get(claude.ID)
	if got.State != types.StateBackgrounded || got.Active {
		t.Fatalf("claude after second create = %+v; want backgrounded", got)
	}
	if opener.views[claude.ID].Visible() {
		t.Fatalf("claude view still visible after demotion")
	}
	if !opener.views[chatgpt.ID].Visible() {
		t.Fatalf("chatgpt view not visible after creation")
	}

	onlyActive := r.List(false)
	if len(onlyActive) != 1 || onlyActive[0].ID != chatgpt.ID {
		t.Fatalf("List(false) = %v; want only chatgpt session", onlyActive)
	}
	if activeCount(r) != 1 {
		t.Fatalf("active count = %d; want 1", activeCount(r))
	}
}

func TestCreateSession_RejectsDuplicateProvider(t *testing.T) {
	r, _, _ := newTestRegistry()

	if _, err := r.CreateSession(context.Background(), types.KindProvider, "claude", "", ""); err != nil {
		t.Fatalf("CreateSession() = %v; want nil", err)
	}
	_, err := r.CreateSession(context.Background(), types.KindProvider, "claude", "second", "")
	var coded *types.CodedError
	if !errors.As(err, &coded) || coded.Code != types.CodeValidation {
		t.Fatalf("duplicate provider create = %v; want validation error", err)
	}
	if got := len(r.List(true)); got != 1 {
		t.Fatalf("sessions after rejected create = %d; want 1", got)
	}
}

func TestCreateSession_RollsBackPartitionOnViewFailure(t *testing.T) {
	r, parts, opener := newTestRegistry()
	opener.createErr = errors.New("window allocation failed")

	_, err := r.CreateSession(context.Background(), types.KindProvider, "claude", "", "")
	var coded *types.CodedError
	if !errors.As(err, &coded) || coded.Code != types.CodeCreateFailed {
		t.Fatalf("CreateSession() = %v; want CREATE_FAILED", err)
	}
	if len(parts.released) != 1 || parts.released[0] != "part-1" {
		t.Fatalf("released partitions = %v; want [part-1] (rollback)", parts.released)
	}
	if got := len(r.List(true)); got != 0 {
		t.Fatalf("sessions after failed create = %d; want 0 (no partial registration)", got)
	}
	if _, ok := r.GetActive(); ok {
		t.Fatalf("GetActive() after failed create = ok; want none")
	}
}

func TestActivate_SwitchesVisibility(t *testing.T) {
	r, _, opener := newTestRegistry()

	a, _ := r.CreateSession(context.Background(), types.KindProvider, "claude", "", "")
	b, _ := r.CreateSession(context.Background(), types.KindProvider, "chatgpt", "", "")

	if _, err := r.Activate(context.Background(), a.ID); err != nil {
		t.Fatalf("Activate(a) = %v; want nil", err)
	}
	if !opener.views[a.ID].Visible() || opener.views[b.ID].Visible() {
		t.Fatalf("visibility after activate: a=%v b=%v; want a visible, b hidden",
			opener.views[a.ID].Visible(), opener.views[b.ID].Visible())
	}
	if active, ok := r.GetActive(); !ok || active.ID != a.ID {
		t.Fatalf("GetActive() = %+v, %v; want a", active, ok)
	}
	if activeCount(r) != 1 {
		t.Fatalf("active count = %d; want exactly 1", activeCount(r))
	}
}

func TestActivate_NotFound(t *testing.T) {
	r, _, _ := newTestRegistry()
	_, err := r.Activate(context.Background(), "nope")
	var coded *types.CodedError
	if !errors.As(err, &coded) || coded.Code != types.CodeNotFound {
		t.Fatalf("Activate(nope) = %v; want NOT_FOUND", err)
	}
}

func TestDelete_PromotesMostRecentlyActive(t *testing.T) {
	r, parts, opener := newTestRegistry()

	a, _ := r.CreateSession(context.Background(), types.KindProvider, "claude", "", "")
	b, _ := r.CreateSession(context.Background(), types.KindProvider, "chatgpt", "", "")
	c, _ := r.CreateSession(context.Background(), types.KindProvider, "gemini", "", "")

	// Touch b so it is the most recently active behind c.
	if _, err := r.Activate(context.Background(), b.ID); err != nil {
		t.Fatalf("Activate(b) = %v; want nil", err)
	}
	if _, err := r.Activate(context.Background(), c.ID); err != nil {
		t.Fatalf("Activate(c) = %v; want nil", err)
	}

	// Scenario D: delete the active session; b should take over.
	if err := r.Delete(context.Background(), c.ID); err != nil {
		t.Fatalf("Delete(c) = %v; want nil", err)
	}
	active, ok := r.GetActive()
	if !ok || active.ID != b.ID {
		t.Fatalf("GetActive() after delete = %+v, %v; want b", active, ok)
	}
	if !opener.views[b.ID].Visible() {
		t.Fatalf("promoted session's view not visible")
	}
	if opener.views[a.ID].Visible() {
		t.Fatalf("backgrounded session's view visible after promotion")
	}
	if opener.views[c.ID].destroyed != 1 {
		t.Fatalf("deleted view destroyed %d times; want 1", opener.views[c.ID].destroyed)
	}
	if len(parts.released) != 1 {
		t.Fatalf("released partitions = %v; want exactly the deleted one", parts.released)
	}

	// Deleted session is unreachable.
	if _, err := r.Activate(context.Background(), c.ID); err == nil {
		t.Fatalf("Activate(deleted) = nil; want NOT_FOUND")
	}
}

func TestDelete_LastSessionLeavesNoActive(t *testing.T) {
	r, _, _ := newTestRegistry()
	a, _ := r.CreateSession(context.Background(), types.KindProvider, "claude", "", "")
	if err := r.Delete(context.Background(), a.ID); err != nil {
		t.Fatalf("Delete() = %v; want nil", err)
	}
	if _, ok := r.GetActive(); ok {
		t.Fatalf("GetActive() after deleting last session = ok; want none")
	}
	if activeCount(r) != 0 {
		t.Fatalf("active count = %d; want 0", activeCount(r))
	}
}

func TestCaptureEventsForwardedToSink(t *testing.T) {
	parts := &fakeParts{}
	opener := newFakeOpener()
	var got []types.CaptureEvent
	r := NewRegistry(parts, opener, func(ev types.CaptureEvent) {
		got = append(got, ev)
	})

	sess, err := r.CreateSession(context.Background(), types.KindProvider, "claude", "", "")
	if err != nil {
		t.Fatalf("CreateSession() = %v; want nil", err)
	}

	opener.views[sess.ID].captureFn(types.CaptureEvent{SessionID: sess.ID, Prompt: "hi"})
	if len(got) != 1 || got[0].Prompt != "hi" {
		t.Fatalf("sink received %v; want one event", got)
	}

	// After delete the subscription is removed.
	if err := r.Delete(context.Background(), sess.ID); err != nil {
		t.Fatalf("Delete() = %v; want nil", err)
	}
	if opener.views[sess.ID].captureFn != nil {
		t.Fatalf("capture subscription still installed after delete")
	}
}

func TestList_OrderedByCreation(t *testing.T) {
	r, _, _ := newTestRegistry()
	a, _ := r.CreateSession(context.Background(), types.KindProvider, "claude", "", "")
	b, _ := r.CreateSession(context.Background(), types.KindProvider, "chatgpt", "", "")
	c, _ := r.CreateSession(context.Background(), types.KindCaptureReview, "", "review", "")

	all := r.List(true)
	if len(all) != 3 {
		t.Fatalf("List(true) = %d sessions; want 3", len(all))
	}
	for i, want := range []string{a.ID, b.ID, c.ID} {
		if all[i].ID != want {
			t.Fatalf("List(true)[%d] = %s; want %s", i, all[i].ID, want)
		}
	}
}
