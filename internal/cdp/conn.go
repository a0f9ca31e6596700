package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn is a minimal browser-level CDP client. It speaks the flat session
// protocol directly instead of going through chromedp's managed sessions;
// chromedp's auto-attach and blanket domain enables interfere with windows
// created in secondary browser contexts and can take the whole browser down
// with them.
type Conn struct {
	httpBase string // e.g. "http://127.0.0.1:9222"

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pending   map[int64]chan json.RawMessage
	pendingMu sync.Mutex

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler
	nextHandlerID atomic.Int64
}

type eventHandler struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

// New creates a Conn for the given CDP HTTP endpoint. Call Connect before use.
func New(httpBase string) *Conn {
	return &Conn{
		httpBase:      strings.TrimRight(httpBase, "/"),
		pending:       make(map[int64]chan json.RawMessage),
		eventHandlers: make(map[string][]eventHandler),
	}
}

// Connect dials the browser-level WebSocket endpoint.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	wsURL, err := c.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("cdp: browser ws url: %w", err)
	}

	slog.Debug("cdp connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("cdp: dial: %w", err)
	}

	c.conn = conn
	c.pending = make(map[int64]chan json.RawMessage)
	go c.readLoop()
	return nil
}

// Close tears down the WebSocket connection and fails all pending calls.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// browserWSURL resolves the browser debugger WebSocket URL via /json/version.
func (c *Conn) browserWSURL(ctx context.Context) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("/json/version: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.Unmarshal(body, &version); err != nil {
		return "", err
	}
	if version.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("/json/version: missing webSocketDebuggerUrl")
	}
	return version.WebSocketDebuggerURL, nil
}

// readLoop processes incoming messages and dispatches responses to waiters.
func (c *Conn) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("cdp read loop exit", "error", err)
			c.closeAllPending()
			return
		}

		var msg struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.ID > 0 {
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
		} else if msg.Method != "" {
			c.dispatchEvent(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

func (c *Conn) closeAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Conn) deletePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// Send issues a browser-level CDP command and returns the inner result.
func (c *Conn) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.SendSession(ctx, "", method, params)
}

// SendSession issues a command on a flattened session (sessionId in the
// outer envelope). An empty sessionID targets the browser itself.
func (c *Conn) SendSession(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	id := c.seq.Add(1)
	req := struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params}

	resp, err := c.sendRaw(ctx, id, req)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp, &envelope); err != nil {
		return resp, nil
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("cdp: %s: %s", method, envelope.Error.Message)
	}
	return envelope.Result, nil
}

// sendRaw marshals an envelope, sends it over the WebSocket, and waits for
// the response keyed by the given id.
func (c *Conn) sendRaw(ctx context.Context, id int64, envelope any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("cdp: not connected")
	}

	ch := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	data, err := json.Marshal(envelope)
	if err != nil {
		c.deletePending(id)
		return nil, fmt.Errorf("cdp: marshal: %w", err)
	}

	c.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	c.mu.Unlock()
	if err != nil {
		c.deletePending(id)
		return nil, fmt.Errorf("cdp: send: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("cdp: connection closed")
		}
		return resp, nil
	case <-ctx.Done():
		c.deletePending(id)
		return nil, ctx.Err()
	}
}

// AttachToTarget attaches a flat session to the given target.
func (c *Conn) AttachToTarget(ctx context.Context, targetID target.ID) (string, error) {
	params := struct {
		TargetID target.ID `json:"targetId"`
		Flatten  bool      `json:"flatten"`
	}{TargetID: targetID, Flatten: true}

	raw, err := c.Send(ctx, "Target.attachToTarget", params)
	if err != nil {
		return "", err
	}

	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("cdp: unmarshal attach: %w", err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("cdp: attach to %s: no session id", targetID)
	}
	return resp.SessionID, nil
}

// DetachFromTarget detaches from a session without closing the target.
func (c *Conn) DetachFromTarget(ctx context.Context, sessionID string) error {
	params := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}
	_, err := c.Send(ctx, "Target.detachFromTarget", params)
	return err
}

// OnEvent registers a handler for a CDP event method. The returned function
// unregisters the handler; it is safe to call more than once.
func (c *Conn) OnEvent(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := c.nextHandlerID.Add(1)

	c.eventMu.Lock()
	c.eventHandlers[method] = append(c.eventHandlers[method], eventHandler{id: id, fn: fn})
	c.eventMu.Unlock()

	return func() {
		c.eventMu.Lock()
		defer c.eventMu.Unlock()
		handlers := c.eventHandlers[method]
		for i, h := range handlers {
			if h.id == id {
				c.eventHandlers[method] = append(handlers[:i:i], handlers[i+1:]...)
				break
			}
		}
	}
}

func (c *Conn) dispatchEvent(method, sessionID string, params json.RawMessage) {
	c.eventMu.RLock()
	handlers := append([]eventHandler(nil), c.eventHandlers[method]...)
	c.eventMu.RUnlock()

	for _, h := range handlers {
		h.fn(sessionID, params)
	}
}
