package routing

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/flowdeskhq/flowdesk/internal/models"
	"github.com/flowdeskhq/flowdesk/internal/notify"
	"github.com/flowdeskhq/flowdesk/internal/store"
	"github.com/flowdeskhq/flowdesk/internal/transport"
)

// Dispatcher formats and sends outbound prompts through the transport,
// persists them, and updates ticket last-activity. Sends are rate limited
// per session so the engine cannot flood the chat network.
type Dispatcher struct {
	sender   transport.Sender
	store    store.Store
	notifier notify.Notifier
	logger   *slog.Logger

	sendRate  rate.Limit
	sendBurst int

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewDispatcher creates a dispatcher. A sendRate of zero disables throttling.
func NewDispatcher(log *slog.Logger, sender transport.Sender, st store.Store, notifier notify.Notifier, sendRate float64, sendBurst int) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if sendBurst <= 0 {
		sendBurst = 1
	}
	return &Dispatcher{
		sender:    sender,
		store:     st,
		notifier:  notifier,
		logger:    log.With(slog.String("component", "dispatcher")),
		sendRate:  rate.Limit(sendRate),
		sendBurst: sendBurst,
		limiters:  map[int64]*rate.Limiter{},
	}
}

// FormatBody substitutes the contact name and stamps the echo marker.
func FormatBody(body string, contact models.Contact) string {
	name := contact.Name
	if name == "" {
		name = contact.ExternalID
	}
	return Marker + strings.ReplaceAll(body, "{name}", name)
}

// Send delivers body to the ticket's contact and records the outbound turn.
// A transport failure is returned as *SendError; the caller's inbound turn
// is already committed, so nothing is replayed on failure.
func (d *Dispatcher) Send(ctx context.Context, ticket models.Ticket, contact models.Contact, body string) (models.Message, error) {
	formatted := FormatBody(body, contact)

	if err := d.limiter(ticket.SessionID).Wait(ctx); err != nil {
		return models.Message{}, &SendError{Err: err}
	}

	result, err := d.sender.Send(ctx, ticket.SessionID, contact.ExternalID, formatted)
	if err != nil {
		return models.Message{}, &SendError{Err: err}
	}

	message, err := d.store.CreateMessage(ctx, store.CreateMessageInput{
		TenantID:    ticket.TenantID,
		TicketID:    ticket.ID,
		TransportID: result.TransportMessageID,
		FromMe:      true,
		Body:        formatted,
		Ack:         result.AckState,
	})
	if err != nil {
		return models.Message{}, storeErr("create outbound message", err)
	}

	last := formatted
	updated, err := d.store.UpdateTicket(ctx, ticket.ID, store.TicketPatch{LastMessage: &last})
	if err != nil {
		return models.Message{}, storeErr("update ticket last message", err)
	}

	if d.notifier != nil {
		d.notifier.Notify(notify.Event{
			Topic:    notify.TopicMessage,
			TenantID: ticket.TenantID,
			Data:     notify.Marshal(message),
		})
		d.notifier.Notify(notify.Event{
			Topic:    notify.TopicTicket,
			TenantID: ticket.TenantID,
			Data:     notify.Marshal(updated),
		})
	}
	return message, nil
}

func (d *Dispatcher) limiter(sessionID int64) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	limiter, ok := d.limiters[sessionID]
	if !ok {
		limit := d.sendRate
		if limit <= 0 {
			limit = rate.Inf
		}
		limiter = rate.NewLimiter(limit, d.sendBurst)
		d.limiters[sessionID] = limiter
	}
	return limiter
}
