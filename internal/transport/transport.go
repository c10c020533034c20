// Package transport defines the chat-transport boundary: the inbound event
// shape delivered by an adapter and the send primitive the engine replies
// through. Session establishment and reconnection live inside adapters.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"
)

var ErrStopNotSupported = errors.New("transport connection stop not supported")

// InboundEvent is one raw event delivered by the transport adapter.
type InboundEvent struct {
	TransportMessageID string          `json:"transport_message_id"`
	RemoteID           string          `json:"remote_id"`
	DisplayName        string          `json:"display_name,omitempty"`
	AvatarURL          string          `json:"avatar_url,omitempty"`
	IsGroup            bool            `json:"is_group,omitempty"`
	Body               string          `json:"body,omitempty"`
	HasMedia           bool            `json:"has_media,omitempty"`
	MediaKind          string          `json:"media_kind,omitempty"`
	FromMe             bool            `json:"from_me,omitempty"`
	TenantID           int64           `json:"tenant_id"`
	SessionID          int64           `json:"session_id"`
	Timestamp          time.Time       `json:"timestamp,omitempty"`
	Raw                json.RawMessage `json:"raw,omitempty"`
}

// SendResult is the transport's acknowledgement of one outbound send.
type SendResult struct {
	TransportMessageID string `json:"transport_message_id"`
	AckState           int    `json:"ack_state"`
}

// InboundHandler consumes one inbound event. Adapters call it from their
// receive loop; ordering guarantees are the caller's concern.
type InboundHandler func(ctx context.Context, event InboundEvent) error

// Sender pushes an outbound message through the transport.
type Sender interface {
	Send(ctx context.Context, sessionID int64, remoteID, body string) (SendResult, error)
}

// Receiver connects to the transport's inbound event stream.
type Receiver interface {
	Connect(ctx context.Context, handler InboundHandler) (Connection, error)
}

// Adapter is a full transport: it both receives events and sends replies.
type Adapter interface {
	Sender
	Receiver
}

// Connection is a live subscription to a transport's event stream.
type Connection interface {
	Stop(ctx context.Context) error
	Running() bool
}

// BaseConnection is a reusable Connection with an atomic running flag.
type BaseConnection struct {
	stop    func(ctx context.Context) error
	running atomic.Bool
}

// NewConnection wraps a stop function into a running Connection.
func NewConnection(stop func(ctx context.Context) error) *BaseConnection {
	conn := &BaseConnection{stop: stop}
	conn.running.Store(true)
	return conn
}

func (c *BaseConnection) Stop(ctx context.Context) error {
	if c.stop == nil {
		return ErrStopNotSupported
	}
	err := c.stop(ctx)
	if err == nil {
		c.running.Store(false)
	}
	return err
}

func (c *BaseConnection) Running() bool {
	return c.running.Load()
}
