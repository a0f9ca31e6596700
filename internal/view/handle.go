package view

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/promptdeck/internal/types"
)

// LifecycleEvent is a page lifecycle notification (init, DOMContentLoaded,
// load, networkIdle, ...).
type LifecycleEvent struct {
	Name string `json:"name"`
}

// Handle wraps one embedded browser window bound to a storage partition.
// It is owned exclusively by its session and destroyed exactly once.
type Handle struct {
	transport   Transport
	timeout     time.Duration
	sessionID   string
	partitionID string
	targetID    target.ID
	cdpSession  string
	windowID    int64

	mu        sync.Mutex
	bounds    types.Rect
	visible   bool
	destroyed bool
	unsubs    []func()

	subMu        sync.Mutex
	nextSubID    int64
	captureSubs  map[int64]func(types.CaptureEvent)
	lifecycleSub map[int64]func(LifecycleEvent)
}

// SessionID returns the owning session identifier.
func (h *Handle) SessionID() string { return h.sessionID }

// PartitionID returns the backing partition identifier.
func (h *Handle) PartitionID() string { return h.partitionID }

// TargetID returns the CDP target backing this view.
func (h *Handle) TargetID() target.ID { return h.targetID }

// Bounds returns the last applied geometry rectangle.
func (h *Handle) Bounds() types.Rect {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bounds
}

// Visible reports whether the window is currently shown.
func (h *Handle) Visible() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.visible
}

// enableEvents turns on page lifecycle events and installs the capture
// binding in the page, then wires the corresponding CDP events back to
// subscriber callbacks.
func (h *Handle) enableEvents(ctx context.Context) error {
	h.captureSubs = make(map[int64]func(types.CaptureEvent))
	h.lifecycleSub = make(map[int64]func(LifecycleEvent))

	if _, err := h.transport.SendSession(ctx, h.cdpSession, "Page.enable", nil); err != nil {
		return fmt.Errorf("view: page enable: %w", err)
	}
	if _, err := h.transport.SendSession(ctx, h.cdpSession, "Page.setLifecycleEventsEnabled", struct {
		Enabled bool `json:"enabled"`
	}{Enabled: true}); err != nil {
		return fmt.Errorf("view: lifecycle enable: %w", err)
	}
	if _, err := h.transport.SendSession(ctx, h.cdpSession, "Runtime.enable", nil); err != nil {
		return fmt.Errorf("view: runtime enable: %w", err)
	}
	if _, err := h.transport.SendSession(ctx, h.cdpSession, "Runtime.addBinding", struct {
		Name string `json:"name"`
	}{Name: CaptureBinding}); err != nil {
		return fmt.Errorf("view: add capture binding: %w", err)
	}

	h.unsubs = append(h.unsubs,
		h.transport.OnEvent("Runtime.bindingCalled", h.onBindingCalled),
		h.transport.OnEvent("Page.lifecycleEvent", h.onLifecycleEvent),
	)
	return nil
}

// resolveWindow looks up the OS window hosting this target so geometry and
// visibility can be driven through Browser.setWindowBounds.
func (h *Handle) resolveWindow(ctx context.Context) error {
	raw, err := h.transport.Send(ctx, "Browser.getWindowForTarget", struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: h.targetID})
	if err != nil {
		return err
	}
	var resp struct {
		WindowID int64 `json:"windowId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("view: unmarshal getWindowForTarget: %w", err)
	}
	h.windowID = resp.WindowID
	return nil
}

func (h *Handle) onBindingCalled(cdpSession string, params json.RawMessage) {
	if cdpSession != h.cdpSession {
		return
	}
	var ev struct {
		Name    string `json:"name"`
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(params, &ev); err != nil || ev.Name != CaptureBinding {
		return
	}

	var capture types.CaptureEvent
	if err := json.Unmarshal([]byte(ev.Payload), &capture); err != nil {
		slog.Warn("malformed capture payload dropped",
			"session_id", h.sessionID, "error", err)
		return
	}
	capture.SessionID = h.sessionID
	if capture.ObservedAt.IsZero() {
		capture.ObservedAt = time.Now().UTC()
	}

	h.subMu.Lock()
	subs := make([]func(types.CaptureEvent), 0, len(h.captureSubs))
	for _, fn := range h.captureSubs {
		subs = append(subs, fn)
	}
	h.subMu.Unlock()
	for _, fn := range subs {
		fn(capture)
	}
}

func (h *Handle) onLifecycleEvent(cdpSession string, params json.RawMessage) {
	if cdpSession != h.cdpSession {
		return
	}
	var ev LifecycleEvent
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}

	h.subMu.Lock()
	subs := make([]func(LifecycleEvent), 0, len(h.lifecycleSub))
	for _, fn := range h.lifecycleSub {
		subs = append(subs, fn)
	}
	h.subMu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// OnCapture subscribes to capture events emitted by this view's page.
// The returned function unsubscribes.
func (h *Handle) OnCapture(fn func(types.CaptureEvent)) func() {
	h.subMu.Lock()
	h.nextSubID++
	id := h.nextSubID
	h.captureSubs[id] = fn
	h.subMu.Unlock()
	return func() {
		h.subMu.Lock()
		delete(h.captureSubs, id)
		h.subMu.Unlock()
	}
}

// OnLifecycle subscribes to page lifecycle events. The returned function
// unsubscribes.
func (h *Handle) OnLifecycle(fn func(LifecycleEvent)) func() {
	h.subMu.Lock()
	h.nextSubID++
	id := h.nextSubID
	h.lifecycleSub[id] = fn
	h.subMu.Unlock()
	return func() {
		h.subMu.Lock()
		delete(h.lifecycleSub, id)
		h.subMu.Unlock()
	}
}

// Navigate loads a new address in the view.
func (h *Handle) Navigate(ctx context.Context, url string) error {
	if err := h.ensureLive(); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	_, err := h.transport.SendSession(callCtx, h.cdpSession, "Page.navigate", struct {
		URL string `json:"url"`
	}{URL: url})
	return err
}

// SetBounds applies a geometry rectangle to the window. Hidden views never
// receive bounds; callers re-apply geometry when the view is shown again.
func (h *Handle) SetBounds(ctx context.Context, rect types.Rect) error {
	if err := h.ensureLive(); err != nil {
		return err
	}
	h.mu.Lock()
	if !h.visible {
		h.mu.Unlock()
		return nil
	}
	h.bounds = rect
	windowID := h.windowID
	h.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	_, err := h.transport.Send(callCtx, "Browser.setWindowBounds", struct {
		WindowID int64 `json:"windowId"`
		Bounds   struct {
			Left   int `json:"left"`
			Top    int `json:"top"`
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"bounds"`
	}{WindowID: windowID, Bounds: struct {
		Left   int `json:"left"`
		Top    int `json:"top"`
		Width  int `json:"width"`
		Height int `json:"height"`
	}{Left: rect.X, Top: rect.Y, Width: rect.Width, Height: rect.Height}})
	return err
}

// SetVisible shows or hides the window. Showing brings the page to front and
// restores the window; hiding minimizes it while the page keeps running.
func (h *Handle) SetVisible(ctx context.Context, visible bool) error {
	if err := h.ensureLive(); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	state := "minimized"
	if visible {
		state = "normal"
	}
	_, err := h.transport.Send(callCtx, "Browser.setWindowBounds", struct {
		WindowID int64 `json:"windowId"`
		Bounds   struct {
			WindowState string `json:"windowState"`
		} `json:"bounds"`
	}{WindowID: h.windowID, Bounds: struct {
		WindowState string `json:"windowState"`
	}{WindowState: state}})
	if err != nil {
		return err
	}

	if visible {
		if _, err := h.transport.SendSession(callCtx, h.cdpSession, "Page.bringToFront", nil); err != nil {
			return err
		}
	}

	h.mu.Lock()
	h.visible = visible
	h.mu.Unlock()
	return nil
}

// Destroy closes the window target and removes all event wiring. Safe to
// call once per handle; later calls are no-ops.
func (h *Handle) Destroy(ctx context.Context) error {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return nil
	}
	h.destroyed = true
	h.mu.Unlock()

	h.removeEventHandlers()

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.transport.DetachFromTarget(callCtx, h.cdpSession); err != nil {
		slog.Debug("view: detach on destroy", "session_id", h.sessionID, "error", err)
	}
	if _, err := h.transport.Send(callCtx, "Target.closeTarget", struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: h.targetID}); err != nil {
		return fmt.Errorf("view: close target: %w", err)
	}
	slog.Info("view destroyed", "session_id", h.sessionID, "target_id", h.targetID)
	return nil
}

func (h *Handle) removeEventHandlers() {
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.unsubs = nil
}

func (h *Handle) ensureLive() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return fmt.Errorf("view: handle destroyed")
	}
	return nil
}
