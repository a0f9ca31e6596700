package view

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/target"
)

// CaptureBinding is the page-side function name the content observer calls
// to hand a finished prompt/response exchange to the pipeline.
const CaptureBinding = "__promptdeckCapture"

// Transport is the subset of the CDP connection the view layer uses. It is
// satisfied by *cdp.Conn; tests substitute a fake.
type Transport interface {
	Send(ctx context.Context, method string, params any) (json.RawMessage, error)
	SendSession(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error)
	AttachToTarget(ctx context.Context, targetID target.ID) (string, error)
	DetachFromTarget(ctx context.Context, sessionID string) error
	OnEvent(method string, fn func(sessionID string, params json.RawMessage)) func()
}

// Factory creates view handles backed by CDP window targets. It also
// implements partition.ContextAllocator so each handle's storage lives in
// its session's isolated browser context.
type Factory struct {
	transport Transport
	timeout   time.Duration
}

func NewFactory(transport Transport, timeout time.Duration) *Factory {
	return &Factory{transport: transport, timeout: timeout}
}

// CreateBrowserContext allocates an isolated cookie/storage context.
func (f *Factory) CreateBrowserContext(ctx context.Context) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	raw, err := f.transport.Send(callCtx, "Target.createBrowserContext", struct {
		DisposeOnDetach bool `json:"disposeOnDetach"`
	}{DisposeOnDetach: false})
	if err != nil {
		return "", err
	}
	var resp struct {
		BrowserContextID string `json:"browserContextId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("view: unmarshal createBrowserContext: %w", err)
	}
	if resp.BrowserContextID == "" {
		return "", fmt.Errorf("view: createBrowserContext returned no id")
	}
	return resp.BrowserContextID, nil
}

// DisposeBrowserContext destroys a context and all storage within it.
func (f *Factory) DisposeBrowserContext(ctx context.Context, browserContextID string) error {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	_, err := f.transport.Send(callCtx, "Target.disposeBrowserContext", struct {
		BrowserContextID string `json:"browserContextId"`
	}{BrowserContextID: browserContextID})
	return err
}

// Create opens a new top-level window in the given browser context, attaches
// a flat session, enables lifecycle events, and installs the capture binding.
// Any partial allocation is rolled back before returning an error.
func (f *Factory) Create(ctx context.Context, sessionID, partitionID, browserContextID, url string) (*Handle, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	raw, err := f.transport.Send(callCtx, "Target.createTarget", struct {
		URL              string `json:"url"`
		NewWindow        bool   `json:"newWindow"`
		BrowserContextID string `json:"browserContextId,omitempty"`
	}{URL: url, NewWindow: true, BrowserContextID: browserContextID})
	if err != nil {
		return nil, err
	}
	var created struct {
		TargetID target.ID `json:"targetId"`
	}
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, fmt.Errorf("view: unmarshal createTarget: %w", err)
	}

	cdpSession, err := f.transport.AttachToTarget(callCtx, created.TargetID)
	if err != nil {
		f.closeTarget(created.TargetID)
		return nil, err
	}

	h := &Handle{
		transport:   f.transport,
		timeout:     f.timeout,
		sessionID:   sessionID,
		partitionID: partitionID,
		targetID:    created.TargetID,
		cdpSession:  cdpSession,
		visible:     true,
	}

	if err := h.enableEvents(callCtx); err != nil {
		h.removeEventHandlers()
		if detachErr := f.transport.DetachFromTarget(callCtx, cdpSession); detachErr != nil {
			slog.Debug("view: detach after setup failure", "error", detachErr)
		}
		f.closeTarget(created.TargetID)
		return nil, err
	}

	if err := h.resolveWindow(callCtx); err != nil {
		h.removeEventHandlers()
		f.closeTarget(created.TargetID)
		return nil, err
	}

	slog.Info("view created",
		"session_id", sessionID, "target_id", created.TargetID, "window_id", h.windowID)
	return h, nil
}

func (f *Factory) closeTarget(id target.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if _, err := f.transport.Send(ctx, "Target.closeTarget", struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: id}); err != nil {
		slog.Debug("view: rollback close target failed", "target_id", id, "error", err)
	}
}
