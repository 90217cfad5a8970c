// Package events fans catalog change notifications out to SSE subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/workflowshelf/workflowshelf/internal/metrics"
	"github.com/workflowshelf/workflowshelf/pkg/models"
	"github.com/workflowshelf/workflowshelf/pkg/protocol"
)

// subscriberBuffer is the number of events queued per subscriber before
// further events are dropped for it.
const subscriberBuffer = 64

// Broadcaster manages SSE subscribers and publishes catalog events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan protocol.CatalogEvent]struct{}
}

// NewBroadcaster creates an event broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan protocol.CatalogEvent]struct{}),
	}
}

// Subscribe adds a subscriber. The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan protocol.CatalogEvent {
	ch := make(chan protocol.CatalogEvent, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan protocol.CatalogEvent) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
}

// Publish sends an event to every subscriber without blocking; slow
// consumers miss events.
func (b *Broadcaster) Publish(event protocol.CatalogEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	metrics.RecordSSEEvent(event.Type)
}

// CatalogChanged publishes a catalog_changed event for source.
func (b *Broadcaster) CatalogChanged(source models.Source, path string) {
	b.Publish(protocol.CatalogEvent{
		Type:   protocol.EventCatalogChanged,
		Source: source,
		Path:   path,
	})
}

// CachePurged publishes a cache_purged event for the cloud catalog.
func (b *Broadcaster) CachePurged() {
	b.Publish(protocol.CatalogEvent{
		Type:   protocol.EventCachePurged,
		Source: models.SourceCloud,
	})
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Marshal serializes an event for the SSE data line.
func Marshal(e protocol.CatalogEvent) ([]byte, error) {
	return json.Marshal(e)
}
