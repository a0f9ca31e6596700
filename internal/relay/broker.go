package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/promptdeck/internal/types"
)

const subscriberBufSize = 256

// Feed names published by the controller.
const (
	FeedCapture        = "capture"
	FeedExportProgress = "export_progress"
	FeedSession        = "session"
)

// Event represents a single event to be sent via SSE.
type Event struct {
	Feed    string
	Payload string
}

// Broker fans out events to all subscribed SSE clients.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
}

// NewBroker creates a new SSE event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a new client. Returns the subscriber ID and a channel
// to receive events on. The channel is buffered; slow consumers will have
// events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers. Non-blocking: slow clients
// have events dropped.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// PublishJSON marshals payload and publishes it on the given feed.
func (b *Broker) PublishJSON(feed string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal relay payload",
			"error", err,
			"feed", feed)
		return
	}
	b.Publish(Event{Feed: feed, Payload: string(data)})
}

// PublishCapture announces a newly stored capture record.
func (b *Broker) PublishCapture(rec types.CaptureRecord) {
	b.PublishJSON(FeedCapture, rec)
}

// PublishExportProgress announces export pipeline progress for a path.
func (b *Broker) PublishExportProgress(path string, p types.Progress) {
	b.PublishJSON(FeedExportProgress, struct {
		Path string `json:"path"`
		types.Progress
	}{Path: path, Progress: p})
}

// PublishExportDone announces a finished export and its final record count
// on the export_progress feed.
func (b *Broker) PublishExportDone(path string, records int) {
	b.PublishJSON(FeedExportProgress, struct {
		Path            string `json:"path"`
		Status          string `json:"status"`
		RecordsExported int    `json:"records_exported"`
	}{Path: path, Status: "complete", RecordsExported: records})
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
