// Package notify provides the in-process fan-out hub for UI update events.
// Publishing is fire-and-forget: failures and slow subscribers never block
// the routing pipeline.
package notify

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// DefaultBufferSize is the default per-subscriber channel buffer.
const DefaultBufferSize = 64

// Topic identifies the event category published by the hub.
type Topic string

const (
	// TopicTicket is emitted after a ticket is created or mutated.
	TopicTicket Topic = "ticket"
	// TopicMessage is emitted after a message is persisted.
	TopicMessage Topic = "message"
)

// Event is the payload pushed to subscribers of one tenant.
type Event struct {
	Topic    Topic           `json:"topic"`
	TenantID int64           `json:"tenant_id"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Notifier publishes events to subscribers.
type Notifier interface {
	Notify(event Event)
}

// Subscriber subscribes to tenant-scoped events.
type Subscriber interface {
	Subscribe(tenantID int64, buffer int) (string, <-chan Event, func())
}

// Hub is an in-process pub/sub dispatcher for tenant-scoped events.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]map[string]chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		streams: map[string]map[string]chan Event{},
	}
}

func tenantKey(tenantID int64) string {
	return strconv.FormatInt(tenantID, 10)
}

// Notify broadcasts one event to all subscribers of the event's tenant.
// Slow subscribers are dropped in a non-blocking way.
func (h *Hub) Notify(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.streams[tenantKey(event.TenantID)] {
		select {
		case ch <- event:
		default:
			// Drop if receiver is slow to avoid blocking the pipeline.
		}
	}
}

// Subscribe registers one subscriber under a tenant.
// It returns a stream ID, read-only event channel, and a cancel function.
func (h *Hub) Subscribe(tenantID int64, buffer int) (string, <-chan Event, func()) {
	if h == nil {
		ch := make(chan Event)
		close(ch)
		return "", ch, func() {}
	}
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	key := tenantKey(tenantID)
	streamID := uuid.NewString()
	ch := make(chan Event, buffer)

	h.mu.Lock()
	streams, ok := h.streams[key]
	if !ok {
		streams = map[string]chan Event{}
		h.streams[key] = streams
	}
	streams[streamID] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			streams := h.streams[key]
			if streams != nil {
				if current, ok := streams[streamID]; ok {
					delete(streams, streamID)
					close(current)
				}
				if len(streams) == 0 {
					delete(h.streams, key)
				}
			}
			h.mu.Unlock()
		})
	}
	return streamID, ch, cancel
}

// Marshal encodes v for an event payload, returning nil on failure so a bad
// payload never stops a notification.
func Marshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
