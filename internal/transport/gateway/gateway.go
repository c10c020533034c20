// Package gateway implements the transport adapter against an external chat
// gateway speaking JSON frames over a websocket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/flowdeskhq/flowdesk/internal/transport"
)

const (
	frameEvent = "event"
	frameSend  = "send"
	frameAck   = "ack"

	defaultAckTimeout = 15 * time.Second
	readLimit         = 1 << 20 // 1MB
)

// frame is the JSON envelope exchanged with the gateway.
type frame struct {
	Type      string                  `json:"type"`
	ID        string                  `json:"id,omitempty"`
	SessionID int64                   `json:"session_id,omitempty"`
	RemoteID  string                  `json:"remote_id,omitempty"`
	Body      string                  `json:"body,omitempty"`
	Event     *transport.InboundEvent `json:"event,omitempty"`
	Result    *transport.SendResult   `json:"result,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// Adapter is a websocket transport adapter for one gateway endpoint.
type Adapter struct {
	url        string
	token      string
	ackTimeout time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan frame
}

// NewAdapter creates a gateway adapter. Connect must be called before Send.
func NewAdapter(log *slog.Logger, url, token string) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		url:        url,
		token:      token,
		ackTimeout: defaultAckTimeout,
		logger:     log.With(slog.String("adapter", "gateway")),
		pending:    map[string]chan frame{},
	}
}

// Connect dials the gateway and starts the read loop. Inbound event frames
// are decoded and passed to handler; ack frames resolve pending sends.
func (a *Adapter) Connect(ctx context.Context, handler transport.InboundHandler) (transport.Connection, error) {
	headers := http.Header{}
	if a.token != "" {
		headers.Set("Authorization", "Bearer "+a.token)
	}
	// No compression is negotiated to stay compatible with strict gateways.
	conn, _, err := websocket.Dial(ctx, a.url, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", a.url, err)
	}
	conn.SetReadLimit(readLimit)

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	go a.readLoop(connCtx, conn, handler)

	a.logger.Info("connected", slog.String("url", a.url))

	stop := func(context.Context) error {
		cancel()
		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
		return conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
	return transport.NewConnection(stop), nil
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn, handler transport.InboundHandler) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Error("read failed", slog.Any("error", err))
			}
			a.failPending(err)
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			a.logger.Warn("undecodable frame dropped", slog.Any("error", err))
			continue
		}

		switch f.Type {
		case frameEvent:
			if f.Event == nil {
				a.logger.Warn("event frame without payload dropped")
				continue
			}
			event := *f.Event
			if len(event.Raw) == 0 {
				event.Raw = data
			}
			if err := handler(ctx, event); err != nil {
				a.logger.Error("handle inbound failed",
					slog.Int64("tenant_id", event.TenantID),
					slog.Int64("session_id", event.SessionID),
					slog.Any("error", err))
			}
		case frameAck:
			a.resolve(f)
		default:
			a.logger.Warn("unknown frame type dropped", slog.String("type", f.Type))
		}
	}
}

// Send writes a send frame and waits for the matching ack.
func (a *Adapter) Send(ctx context.Context, sessionID int64, remoteID, body string) (transport.SendResult, error) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return transport.SendResult{}, errors.New("gateway: not connected")
	}

	id := uuid.NewString()
	ack := make(chan frame, 1)
	a.mu.Lock()
	a.pending[id] = ack
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
	}()

	data, err := json.Marshal(frame{
		Type:      frameSend,
		ID:        id,
		SessionID: sessionID,
		RemoteID:  remoteID,
		Body:      body,
	})
	if err != nil {
		return transport.SendResult{}, fmt.Errorf("gateway: encode send: %w", err)
	}
	if err := a.write(ctx, conn, data); err != nil {
		return transport.SendResult{}, fmt.Errorf("gateway: write send: %w", err)
	}

	timeout := a.ackTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return transport.SendResult{}, ctx.Err()
	case <-timer.C:
		return transport.SendResult{}, fmt.Errorf("gateway: ack timeout after %s", timeout)
	case f := <-ack:
		if f.Error != "" {
			return transport.SendResult{}, fmt.Errorf("gateway: send rejected: %s", f.Error)
		}
		if f.Result == nil {
			return transport.SendResult{}, errors.New("gateway: ack without result")
		}
		return *f.Result, nil
	}
}

// write serializes websocket writes; coder/websocket allows one writer at a time.
func (a *Adapter) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (a *Adapter) resolve(f frame) {
	a.mu.Lock()
	ack, ok := a.pending[f.ID]
	a.mu.Unlock()
	if !ok {
		a.logger.Warn("ack for unknown send dropped", slog.String("id", f.ID))
		return
	}
	select {
	case ack <- f:
	default:
	}
}

func (a *Adapter) failPending(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, ack := range a.pending {
		select {
		case ack <- frame{ID: id, Error: err.Error()}:
		default:
		}
	}
}
