package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowdeskhq/flowdesk/internal/store"
	"github.com/flowdeskhq/flowdesk/internal/transport"
)

const sessionQueueDepth = 256

// Driver subscribes to the transport's inbound event stream and feeds the
// engine. Events of one (tenant, session) pair run strictly in arrival
// order on a dedicated worker; sessions run concurrently with each other.
// The selector and walker read-then-write ticket state without transactional
// isolation, so this ordering is the central correctness invariant.
//
// The same contact reaching the platform through two different sessions
// yields two independent tickets; the resolver keys open tickets by
// (tenant, contact, session), so no cross-session serialization is needed.
type Driver struct {
	engine      *Engine
	receiver    transport.Receiver
	logger      *slog.Logger
	passTimeout time.Duration

	mu       sync.Mutex
	workers  map[string]chan transport.InboundEvent
	conn     transport.Connection
	runCtx   context.Context
	cancel   context.CancelFunc
	draining sync.WaitGroup
}

// NewDriver creates a session loop driver. passTimeout bounds one pipeline
// pass; zero disables the bound.
func NewDriver(log *slog.Logger, engine *Engine, receiver transport.Receiver, passTimeout time.Duration) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		engine:      engine,
		receiver:    receiver,
		logger:      log.With(slog.String("component", "session_driver")),
		passTimeout: passTimeout,
		workers:     map[string]chan transport.InboundEvent{},
	}
}

// Start connects to the transport and begins dispatching inbound events.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.runCtx != nil {
		d.mu.Unlock()
		return errors.New("routing: driver already started")
	}
	d.runCtx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := d.runCtx
	d.mu.Unlock()

	conn, err := d.receiver.Connect(ctx, func(_ context.Context, event transport.InboundEvent) error {
		return d.enqueue(runCtx, event)
	})
	if err != nil {
		d.cancel()
		return fmt.Errorf("routing: connect transport: %w", err)
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	return nil
}

// Stop disconnects from the transport and waits for in-flight passes.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	conn := d.conn
	cancel := d.cancel
	d.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Stop(ctx)
	}
	if cancel != nil {
		cancel()
	}
	d.draining.Wait()
	return err
}

func sessionKey(event transport.InboundEvent) string {
	return fmt.Sprintf("%d:%d", event.TenantID, event.SessionID)
}

// enqueue hands the event to its session worker, blocking when the worker
// is saturated: dropping would break arrival order.
func (d *Driver) enqueue(ctx context.Context, event transport.InboundEvent) error {
	queue := d.worker(ctx, sessionKey(event))
	select {
	case queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) worker(ctx context.Context, key string) chan transport.InboundEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	queue, ok := d.workers[key]
	if !ok {
		queue = make(chan transport.InboundEvent, sessionQueueDepth)
		d.workers[key] = queue
		d.draining.Add(1)
		go d.run(ctx, key, queue)
	}
	return queue
}

// run drains one session's queue sequentially: pass N completes fully,
// including persistence and dispatch, before pass N+1 starts.
func (d *Driver) run(ctx context.Context, key string, queue chan transport.InboundEvent) {
	defer d.draining.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-queue:
			d.process(ctx, key, event)
		}
	}
}

func (d *Driver) process(ctx context.Context, key string, event transport.InboundEvent) {
	passCtx := ctx
	cancel := context.CancelFunc(func() {})
	if d.passTimeout > 0 {
		passCtx, cancel = context.WithTimeout(ctx, d.passTimeout)
	}
	defer cancel()

	err := d.engine.HandleEvent(passCtx, event)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicateMessage):
		// Expected under at-least-once transport delivery.
		d.logger.Debug("duplicate event dropped",
			slog.String("session", key),
			slog.String("transport_id", event.TransportMessageID))
	case errors.Is(err, ErrEchoEvent), errors.Is(err, ErrFilteredEvent):
		d.logger.Debug("event filtered",
			slog.String("session", key),
			slog.Any("reason", err))
	default:
		// Errors local to one event never halt the session loop.
		d.logger.Error("pipeline pass failed",
			slog.String("session", key),
			slog.String("transport_id", event.TransportMessageID),
			slog.Int64("tenant_id", event.TenantID),
			slog.Any("error", err))
	}
}
