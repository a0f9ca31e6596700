package view

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/promptdeck/internal/types"
)

type sentCall struct {
	sessionID string
	method    string
}

type fakeTransport struct {
	calls     []sentCall
	failOn    map[string]error
	handlers  map[string][]func(string, json.RawMessage)
	attachErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		failOn:   make(map[string]error),
		handlers: make(map[string][]func(string, json.RawMessage)),
	}
}

func (f *fakeTransport) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return f.SendSession(ctx, "", method, params)
}

func (f *fakeTransport) SendSession(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	f.calls = append(f.calls, sentCall{sessionID: sessionID, method: method})
	if err := f.failOn[method]; err != nil {
		return nil, err
	}
	switch method {
	case "Target.createBrowserContext":
		return json.RawMessage(`{"browserContextId":"bctx-1"}`), nil
	case "Target.createTarget":
		return json.RawMessage(`{"targetId":"TGT1"}`), nil
	case "Browser.getWindowForTarget":
		return json.RawMessage(`{"windowId":7}`), nil
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeTransport) AttachToTarget(ctx context.Context, targetID target.ID) (string, error) {
	if f.attachErr != nil {
		return "", f.attachErr
	}
	return "cdp-sess-" + string(targetID), nil
}

func (f *fakeTransport) DetachFromTarget(ctx context.Context, sessionID string) error {
	f.calls = append(f.calls, sentCall{sessionID: sessionID, method: "Target.detachFromTarget"})
	return nil
}

func (f *fakeTransport) OnEvent(method string, fn func(string, json.RawMessage)) func() {
	f.handlers[method] = append(f.handlers[method], fn)
	return func() {
		f.handlers[method] = nil
	}
}

func (f *fakeTransport) emit(method, sessionID string, params string) {
	for _, fn := range f.handlers[method] {
		if fn != nil {
			fn(sessionID, json.RawMessage(params))
		}
	}
}

func (f *fakeTransport) methodCount(method string) int {
	n := 0
	for _, c := range f.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func newTestHandle(t *testing.T) (*Handle, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	factory := NewFactory(transport, time.Second)
	h, err := factory.Create(context.Background(), "sess-1", "part-1", "bctx-1", "https://claude.ai/new")
	if err != nil {
		t.Fatalf("Create() = %v; want nil", err)
	}
	return h, transport
}

func TestCreate_RollsBackOnAttachFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.attachErr = errors.New("target closed")
	factory := NewFactory(transport, time.Second)

	if _, err := factory.Create(context.Background(), "sess-1", "part-1", "bctx-1", "about:blank"); err == nil {
		t.Fatalf("Create() = nil; want error")
	}
	if got := transport.methodCount("Target.closeTarget"); got != 1 {
		t.Fatalf("closeTarget calls = %d; want 1 (rollback)", got)
	}
}

func TestCaptureEvents_DeliveredAndFiltered(t *testing.T) {
	h, transport := newTestHandle(t)

	var got []types.CaptureEvent
	unsub := h.OnCapture(func(ev types.CaptureEvent) {
		got = append(got, ev)
	})

	payload := `{"provider":"claude","prompt":"hi","response":"hello"}`
	params := fmt.Sprintf(`{"name":%q,"payload":%q}`, CaptureBinding, payload)

	// Event for another CDP session must be ignored.
	transport.emit("Runtime.bindingCalled", "cdp-sess-OTHER", params)
	transport.emit("Runtime.bindingCalled", "cdp-sess-TGT1", params)

	if len(got) != 1 {
		t.Fatalf("capture events delivered = %d; want 1", len(got))
	}
	if got[0].SessionID != "sess-1" {
		t.Fatalf("capture SessionID = %q; want %q", got[0].SessionID, "sess-1")
	}
	if got[0].ObservedAt.IsZero() {
		t.Fatalf("capture ObservedAt is zero; want stamped")
	}

	unsub()
	transport.emit("Runtime.bindingCalled", "cdp-sess-TGT1", params)
	if len(got) != 1 {
		t.Fatalf("capture events after unsubscribe = %d; want 1", len(got))
	}
}

func TestSetBounds_SkippedWhileHidden(t *testing.T) {
	h, transport := newTestHandle(t)

	if err := h.SetVisible(context.Background(), false); err != nil {
		t.Fatalf("SetVisible(false) = %v; want nil", err)
	}
	before := transport.methodCount("Browser.setWindowBounds")

	rect := types.Rect{X: 10, Y: 20, Width: 800, Height: 600}
	if err := h.SetBounds(context.Background(), rect); err != nil {
		t.Fatalf("SetBounds() = %v; want nil", err)
	}
	if after := transport.methodCount("Browser.setWindowBounds"); after != before {
		t.Fatalf("setWindowBounds calls = %d; want %d (hidden view gets no geometry)", after, before)
	}
}

func TestSetVisible_UpdatesStateAndBringsToFront(t *testing.T) {
	h, transport := newTestHandle(t)

	if !h.Visible() {
		t.Fatalf("Visible() = false after create; want true")
	}
	if err := h.SetVisible(context.Background(), false); err != nil {
		t.Fatalf("SetVisible(false) = %v; want nil", err)
	}
	if h.Visible() {
		t.Fatalf("Visible() = true after hide; want false")
	}
	if err := h.SetVisible(context.Background(), true); err != nil {
		t.Fatalf("SetVisible(true) = %v; want nil", err)
	}
	if transport.methodCount("Page.bringToFront") != 1 {
		t.Fatalf("bringToFront calls = %d; want 1", transport.methodCount("Page.bringToFront"))
	}
}

func TestDestroy_ExactlyOnce(t *testing.T) {
	h, transport := newTestHandle(t)

	if err := h.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy() = %v; want nil", err)
	}
	if err := h.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy() second call = %v; want nil", err)
	}
	if got := transport.methodCount("Target.closeTarget"); got != 1 {
		t.Fatalf("closeTarget calls = %d; want 1", got)
	}
	if err := h.Navigate(context.Background(), "about:blank"); err == nil {
		t.Fatalf("Navigate() after Destroy = nil; want error")
	}
}
