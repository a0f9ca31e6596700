package session

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/promptdeck/internal/config"
	"github.com/dgnsrekt/promptdeck/internal/partition"
	"github.com/dgnsrekt/promptdeck/internal/types"
	"github.com/dgnsrekt/promptdeck/internal/view"
)

// View is the per-session browser window surface the registry drives. It is
// satisfied by *view.Handle; tests substitute fakes.
type View interface {
	Navigate(ctx context.Context, url string) error
	SetBounds(ctx context.Context, rect types.Rect) error
	SetVisible(ctx context.Context, visible bool) error
	Destroy(ctx context.Context) error
	OnCapture(fn func(types.CaptureEvent)) func()
	Visible() bool
	Bounds() types.Rect
}

// PartitionAllocator is the slice of the partition store the registry needs.
type PartitionAllocator interface {
	Allocate(ctx context.Context, sessionID, provider string) (partition.Record, error)
	Release(ctx context.Context, partitionID string) error
}

// ViewOpener creates a window bound to an allocated partition.
type ViewOpener interface {
	Create(ctx context.Context, sessionID, partitionID, browserContextID, url string) (View, error)
}

// NewViewOpener adapts a view.Factory to the ViewOpener interface.
func NewViewOpener(f *view.Factory) ViewOpener {
	return factoryOpener{f: f}
}

type factoryOpener struct{ f *view.Factory }

func (o factoryOpener) Create(ctx context.Context, sessionID, partitionID, browserContextID, url string) (View, error) {
	return o.f.Create(ctx, sessionID, partitionID, browserContextID, url)
}

type entry struct {
	sess         types.Session
	view         View
	unsubCapture func()
}

// Registry is the authoritative table of sessions and the single owner of
// the active-session flag and the partition-to-session mapping. All state
// transitions are serialized by its mutex, view side effects included, so
// operations on one session are never reordered.
type Registry struct {
	parts PartitionAllocator
	views ViewOpener
	sink  func(types.CaptureEvent)

	mu       sync.Mutex
	entries  map[string]*entry
	order    []string // session ids in creation order
	activeID string
}

// NewRegistry creates a Registry. Capture events from every live view are
// forwarded to sink; a nil sink discards them.
func NewRegistry(parts PartitionAllocator, views ViewOpener, sink func(types.CaptureEvent)) *Registry {
	if sink == nil {
		sink = func(types.CaptureEvent) {}
	}
	return &Registry{
		parts:   parts,
		views:   views,
		sink:    sink,
		entries: make(map[string]*entry),
	}
}

// CreateSession allocates a partition and a window for a new session,
// registers it, and makes it the active one. On any allocation failure the
// registry is left unchanged and partial allocations are rolled back.
func (r *Registry) CreateSession(ctx context.Context, kind types.SessionKind, provider, name, address string) (types.Session, error) {
	provider = strings.TrimSpace(strings.ToLower(provider))
	name = strings.TrimSpace(name)

	switch kind {
	case types.KindProvider:
		if !config.KnownProvider(provider) {
			return types.Session{}, types.NewError(types.CodeValidation, "unknown provider: "+provider, nil)
		}
		if address == "" {
			url, ok := config.ProviderURL(provider)
			if !ok {
				return types.Session{}, types.NewError(types.CodeValidation, "custom provider requires an address", nil)
			}
			address = url
		}
		if name == "" {
			name = provider
		}
	case types.KindCaptureReview:
		provider = ""
		if name == "" {
			name = "capture review"
		}
		if address == "" {
			address = "about:blank"
		}
	default:
		return types.Session{}, types.NewError(types.CodeValidation, "unknown session kind: "+string(kind), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if kind == types.KindProvider {
		for _, id := range r.order {
			e := r.entries[id]
			if e.sess.Kind == types.KindProvider && e.sess.Provider == provider {
				return types.Session{}, types.NewError(types.CodeValidation,
					"a live session for provider "+provider+" already exists", nil)
			}
		}
	}

	id := uuid.NewString()

	part, err := r.parts.Allocate(ctx, id, provider)
	if err != nil {
		return types.Session{}, types.NewError(types.CodeCreateFailed, "partition allocation failed", err)
	}

	v, err := r.views.Create(ctx, id, part.ID, part.BrowserContextID, address)
	if err != nil {
		if relErr := r.parts.Release(ctx, part.ID); relErr != nil {
			slog.Warn("partition rollback failed", "partition_id", part.ID, "error", relErr)
		}
		return types.Session{}, types.NewError(types.CodeCreateFailed, "view allocation failed", err)
	}

	now := time.Now().UTC()
	e := &entry{
		sess: types.Session{
			ID:           id,
			Kind:         kind,
			Provider:     provider,
			Name:         name,
			URL:          address,
			PartitionID:  part.ID,
			State:        types.StateCreated,
			CreatedAt:    now,
			LastActiveAt: now,
		},
		view: v,
	}
	e.unsubCapture = v.OnCapture(r.sink)

	r.entries[id] = e
	r.order = append(r.order, id)

	// New sessions become the active one immediately.
	r.activateLocked(ctx, id)

	slog.Info("session created",
		"session_id", id, "kind", kind, "provider", provider, "name", name)
	return e.sess, nil
}

// Activate makes the target session the single visible one: every other
// session is backgrounded and hidden before the winner is shown.
func (r *Registry) Activate(ctx context.Context, id string) (types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return types.Session{}, types.NewError(types.CodeNotFound, "session not found: "+id, nil)
	}
	r.activateLocked(ctx, id)
	return e.sess, nil
}

// activateLocked performs the transition under r.mu: demote the prior holder
// of the active flag in the same step that sets the new one.
func (r *Registry) activateLocked(ctx context.Context, id string) {
	for _, otherID := range r.order {
		if otherID == id {
			continue
		}
		other := r.entries[otherID]
		if other.sess.State == types.StateActivated {
			other.sess.State = types.StateBackgrounded
			other.sess.Active = false
			if err := other.view.SetVisible(ctx, false); err != nil {
				slog.Warn("failed to hide backgrounded view",
					"session_id", otherID, "error", err)
			}
		}
	}

	e := r.entries[id]
	e.sess.State = types.StateActivated
	e.sess.Active = true
	e.sess.LastActiveAt = time.Now().UTC()
	r.activeID = id
	if err := e.view.SetVisible(ctx, true); err != nil {
		slog.Warn("failed to show activated view", "session_id", id, "error", err)
	}
}

// Delete destroys the session's view, releases its partition mapping, and
// removes it from the registry. If it held the active flag, the
// next-most-recently-active remaining session is promoted.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return types.NewError(types.CodeNotFound, "session not found: "+id, nil)
	}

	wasActive := e.sess.Active

	e.unsubCapture()
	if err := e.view.Destroy(ctx); err != nil {
		slog.Warn("view destroy failed", "session_id", id, "error", err)
	}
	if err := r.parts.Release(ctx, e.sess.PartitionID); err != nil {
		slog.Warn("partition release failed",
			"session_id", id, "partition_id", e.sess.PartitionID, "error", err)
	}

	delete(r.entries, id)
	for i, orderedID := range r.order {
		if orderedID == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.activeID == id {
		r.activeID = ""
	}

	if wasActive {
		if nextID, ok := r.mostRecentlyActiveLocked(); ok {
			r.activateLocked(ctx, nextID)
		}
	}

	slog.Info("session deleted", "session_id", id, "was_active", wasActive)
	return nil
}

func (r *Registry) mostRecentlyActiveLocked() (string, bool) {
	var bestID string
	var bestTime time.Time
	for _, id := range r.order {
		e := r.entries[id]
		if bestID == "" || e.sess.LastActiveAt.After(bestTime) {
			bestID = id
			bestTime = e.sess.LastActiveAt
		}
	}
	return bestID, bestID != ""
}

// Rename updates a session's display name.
func (r *Registry) Rename(id, name string) (types.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Session{}, types.NewError(types.CodeValidation, "name is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return types.Session{}, types.NewError(types.CodeNotFound, "session not found: "+id, nil)
	}
	e.sess.Name = name
	return e.sess, nil
}

// Navigate loads a new address in the session's view and records it.
func (r *Registry) Navigate(ctx context.Context, id, url string) (types.Session, error) {
	if strings.TrimSpace(url) == "" {
		return types.Session{}, types.NewError(types.CodeValidation, "url is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return types.Session{}, types.NewError(types.CodeNotFound, "session not found: "+id, nil)
	}
	if err := e.view.Navigate(ctx, url); err != nil {
		return types.Session{}, types.NewError(types.CodeIOError, "navigation failed", err)
	}
	e.sess.URL = url
	return e.sess, nil
}

// List returns a snapshot of sessions ordered by creation time. When
// includeInactive is false only the activated session (if any) is returned.
func (r *Registry) List(includeInactive bool) []types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.Session, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		if !includeInactive && !e.sess.Active {
			continue
		}
		out = append(out, e.sess)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetActive returns the single activated session, if any.
func (r *Registry) GetActive() (types.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeID == "" {
		return types.Session{}, false
	}
	return r.entries[r.activeID].sess, true
}

// Get returns a session snapshot by id.
func (r *Registry) Get(id string) (types.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return types.Session{}, false
	}
	return e.sess, true
}

// ViewOf returns the live view for a session.
func (r *Registry) ViewOf(id string) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.view, true
}

// ActiveView returns the view of the activated session, if any.
func (r *Registry) ActiveView() (View, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeID == "" {
		return nil, "", false
	}
	return r.entries[r.activeID].view, r.activeID, true
}

// Counts returns total and active session counts for stats aggregation.
func (r *Registry) Counts() (total, active int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total = len(r.entries)
	if r.activeID != "" {
		active = 1
	}
	return total, active
}

// Shutdown destroys every view and releases every partition. Sessions are
// not individually promoted; the registry ends empty.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		e := r.entries[id]
		e.unsubCapture()
		if err := e.view.Destroy(ctx); err != nil {
			slog.Warn("view destroy on shutdown failed", "session_id", id, "error", err)
		}
		if err := r.parts.Release(ctx, e.sess.PartitionID); err != nil {
			slog.Warn("partition release on shutdown failed", "session_id", id, "error", err)
		}
	}
	r.entries = make(map[string]*entry)
	r.order = nil
	r.activeID = ""
}
