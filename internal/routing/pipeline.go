// Package routing implements the conversational routing engine: it resolves
// inbound chat events to contacts and tickets, walks the tenant's decision
// tree (business hours, department selection, nested menu options), and emits
// outbound prompts until a human agent takes the conversation over.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flowdeskhq/flowdesk/internal/models"
	"github.com/flowdeskhq/flowdesk/internal/notify"
	"github.com/flowdeskhq/flowdesk/internal/store"
	"github.com/flowdeskhq/flowdesk/internal/transport"
)

// Options tunes engine behavior.
type Options struct {
	// Clock overrides time.Now, for tests and the business-hours gate.
	Clock func() time.Time
	// RouteGroups enables routing of group-chat traffic. Off by default:
	// group messages are still persisted but never walked through menus.
	RouteGroups bool
}

// Engine is one tenant-agnostic routing pipeline. All collaborators are
// injected; substitute in-memory fakes in tests.
type Engine struct {
	store       store.Store
	dispatcher  *Dispatcher
	notifier    notify.Notifier
	logger      *slog.Logger
	clock       func() time.Time
	routeGroups bool
}

// NewEngine creates a routing engine.
func NewEngine(log *slog.Logger, st store.Store, dispatcher *Dispatcher, notifier notify.Notifier, opts Options) *Engine {
	if log == nil {
		log = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:       st,
		dispatcher:  dispatcher,
		notifier:    notifier,
		logger:      log.With(slog.String("component", "engine")),
		clock:       clock,
		routeGroups: opts.RouteGroups,
	}
}

// HandleEvent runs one full pipeline pass for one inbound event:
// normalize, dedup, resolve, persist, then route. Callers must serialize
// passes per session; the engine itself holds no locks.
func (e *Engine) HandleEvent(ctx context.Context, event transport.InboundEvent) error {
	msg, err := Normalize(event)
	if err != nil {
		return err
	}

	// Dedup before any side-effecting work; the unique constraint on the
	// message insert below closes the crash window.
	exists, err := e.store.MessageExists(ctx, msg.TenantID, msg.TransportID)
	if err != nil {
		return storeErr("message exists", err)
	}
	if exists {
		return fmt.Errorf("transport id %s: %w", msg.TransportID, store.ErrDuplicateMessage)
	}

	contact, ticket, created, err := e.resolve(ctx, msg)
	if err != nil {
		return err
	}
	if created && e.notifier != nil {
		e.notifier.Notify(notify.Event{
			Topic:    notify.TopicTicket,
			TenantID: ticket.TenantID,
			Data:     notify.Marshal(ticket),
		})
	}

	message, err := e.store.CreateMessage(ctx, store.CreateMessageInput{
		TenantID:    msg.TenantID,
		TicketID:    ticket.ID,
		TransportID: msg.TransportID,
		FromMe:      false,
		Body:        msg.Body,
		MediaKind:   msg.MediaKind(),
		Raw:         msg.Raw,
	})
	if err != nil {
		// A concurrent redelivery lost the insert race; benign.
		return err
	}

	last := msg.Body
	ticket, err = e.store.UpdateTicket(ctx, ticket.ID, store.TicketPatch{LastMessage: &last})
	if err != nil {
		return storeErr("update ticket activity", err)
	}
	if e.notifier != nil {
		e.notifier.Notify(notify.Event{
			Topic:    notify.TopicMessage,
			TenantID: msg.TenantID,
			Data:     notify.Marshal(message),
		})
	}

	if msg.IsGroup && !e.routeGroups {
		return nil
	}
	if ticket.Assigned() {
		// A human agent owns the conversation.
		return nil
	}

	if ticket.QueueID == "" {
		return e.selectQueue(ctx, msg, contact, ticket)
	}
	if !ticket.Chatbot {
		// Queue without options: left for human handling.
		return nil
	}

	queue, err := e.store.GetQueue(ctx, ticket.QueueID)
	if err != nil {
		return storeErr("get queue", err)
	}

	// The gate only interrupts when there is a message to show.
	if queue.OutOfHoursMessage != "" {
		if open, _ := IsOpen(queue, e.clock()); !open {
			_, err := e.dispatcher.Send(ctx, ticket, contact, queue.OutOfHoursMessage)
			return err
		}
	}

	return e.walk(ctx, msg, contact, ticket, queue)
}

// resolve finds-or-creates the contact and its open ticket.
func (e *Engine) resolve(ctx context.Context, msg InboundMessage) (models.Contact, models.Ticket, bool, error) {
	contact, err := e.store.UpsertContact(ctx, store.UpsertContactInput{
		TenantID:   msg.TenantID,
		ExternalID: msg.RemoteID,
		Name:       msg.DisplayName,
		AvatarURL:  msg.AvatarURL,
		IsGroup:    msg.IsGroup,
	})
	if err != nil {
		return models.Contact{}, models.Ticket{}, false, storeErr("upsert contact", err)
	}

	ticket, found, err := e.store.FindOpenTicket(ctx, msg.TenantID, contact.ID, msg.SessionID)
	if err != nil {
		return models.Contact{}, models.Ticket{}, false, storeErr("find open ticket", err)
	}
	if found {
		return contact, ticket, false, nil
	}

	ticket, err = e.store.CreateTicket(ctx, store.CreateTicketInput{
		TenantID:  msg.TenantID,
		ContactID: contact.ID,
		SessionID: msg.SessionID,
		Status:    models.StatusPending,
	})
	if err != nil {
		return models.Contact{}, models.Ticket{}, false, storeErr("create ticket", err)
	}
	return contact, ticket, true, nil
}

// selectQueue presents the department menu and assigns the chosen queue.
func (e *Engine) selectQueue(ctx context.Context, msg InboundMessage, contact models.Contact, ticket models.Ticket) error {
	queues, err := e.store.ListQueues(ctx, msg.TenantID)
	if err != nil {
		return storeErr("list queues", err)
	}
	if len(queues) == 0 {
		return nil
	}

	choice := 0
	if len(queues) == 1 {
		// A single department needs no menu.
		choice = 1
	} else if n, ok := ParseSelection(msg.Body, len(queues)); ok {
		choice = n
	}

	if choice == 0 {
		greeting, err := e.store.GetGreeting(ctx, msg.TenantID)
		if err != nil {
			return storeErr("get greeting", err)
		}
		_, err = e.dispatcher.Send(ctx, ticket, contact, RenderDepartmentMenu(greeting, queues))
		return err
	}

	queue := queues[choice-1]
	options, err := e.store.ListOptions(ctx, queue.ID, "")
	if err != nil {
		return storeErr("list options", err)
	}
	chatbot := len(options) > 0

	// One patch so queue and chatbot can never be persisted apart.
	patch := store.TicketPatch{QueueID: &queue.ID, Chatbot: &chatbot}
	ticket, err = e.store.UpdateTicket(ctx, ticket.ID, patch)
	if err != nil {
		return storeErr("assign queue", err)
	}
	if e.notifier != nil {
		e.notifier.Notify(notify.Event{
			Topic:    notify.TopicTicket,
			TenantID: ticket.TenantID,
			Data:     notify.Marshal(ticket),
		})
	}

	if queue.OutOfHoursMessage != "" {
		if open, _ := IsOpen(queue, e.clock()); !open {
			_, err := e.dispatcher.Send(ctx, ticket, contact, queue.OutOfHoursMessage)
			return err
		}
	}

	if chatbot {
		_, err = e.dispatcher.Send(ctx, ticket, contact, RenderOptionMenu(queue.Greeting, options))
		return err
	}
	if queue.Greeting != "" {
		_, err = e.dispatcher.Send(ctx, ticket, contact, queue.Greeting)
		return err
	}
	return nil
}

// walk advances the ticket's cursor through the queue's option tree.
func (e *Engine) walk(ctx context.Context, msg InboundMessage, contact models.Contact, ticket models.Ticket, queue models.Queue) error {
	if strings.TrimSpace(msg.Body) == ResetCommand {
		return e.reset(ctx, msg, contact, ticket)
	}

	if ticket.OptionID == "" {
		options, err := e.store.ListOptions(ctx, queue.ID, "")
		if err != nil {
			return storeErr("list options", err)
		}
		return e.step(ctx, contact, ticket, msg.Body, options, queue.Greeting)
	}

	children, err := e.store.ListOptions(ctx, queue.ID, ticket.OptionID)
	if err != nil {
		return storeErr("list options", err)
	}
	if len(children) == 0 {
		// The tree bottomed out; a human picks the conversation up here.
		return nil
	}

	current, err := e.store.GetOption(ctx, ticket.OptionID)
	if err != nil {
		return storeErr("get option", err)
	}
	return e.step(ctx, contact, ticket, msg.Body, children, current.Title)
}

// step matches body against the candidate options, descending on a match
// and re-listing otherwise.
func (e *Engine) step(ctx context.Context, contact models.Contact, ticket models.Ticket, body string, options []models.QueueOption, header string) error {
	option, ok := MatchOption(body, options)
	if !ok {
		_, err := e.dispatcher.Send(ctx, ticket, contact, RenderOptionMenu(header, options))
		return err
	}

	ticket, err := e.store.UpdateTicket(ctx, ticket.ID, store.TicketPatch{OptionID: &option.ID})
	if err != nil {
		return storeErr("advance cursor", err)
	}
	if e.notifier != nil {
		e.notifier.Notify(notify.Event{
			Topic:    notify.TopicTicket,
			TenantID: ticket.TenantID,
			Data:     notify.Marshal(ticket),
		})
	}
	_, err = e.dispatcher.Send(ctx, ticket, contact, RenderConfirmation(option))
	return err
}

// reset clears queue and cursor and re-presents the department menu; "#"
// is the universal escape back to the very top, not merely the parent.
func (e *Engine) reset(ctx context.Context, msg InboundMessage, contact models.Contact, ticket models.Ticket) error {
	var (
		empty   string
		chatbot bool
	)
	ticket, err := e.store.UpdateTicket(ctx, ticket.ID, store.TicketPatch{
		QueueID:  &empty,
		OptionID: &empty,
		Chatbot:  &chatbot,
	})
	if err != nil {
		return storeErr("reset ticket", err)
	}
	if e.notifier != nil {
		e.notifier.Notify(notify.Event{
			Topic:    notify.TopicTicket,
			TenantID: ticket.TenantID,
			Data:     notify.Marshal(ticket),
		})
	}

	queues, err := e.store.ListQueues(ctx, msg.TenantID)
	if err != nil {
		return storeErr("list queues", err)
	}
	if len(queues) == 0 {
		return nil
	}
	greeting, err := e.store.GetGreeting(ctx, msg.TenantID)
	if err != nil {
		return storeErr("get greeting", err)
	}
	_, err = e.dispatcher.Send(ctx, ticket, contact, RenderDepartmentMenu(greeting, queues))
	return err
}
