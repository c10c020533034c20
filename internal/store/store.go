// Package store defines the persistence boundary consumed by the routing
// engine. Implementations live in the postgres and memory subpackages.
package store

import (
	"context"
	"time"

	"github.com/flowdeskhq/flowdesk/internal/models"
)

// UpsertContactInput creates or refreshes a contact keyed by
// (tenant, external id).
type UpsertContactInput struct {
	TenantID   int64
	ExternalID string
	Name       string
	AvatarURL  string
	IsGroup    bool
}

// CreateTicketInput opens a new pending ticket for a contact on a session.
type CreateTicketInput struct {
	TenantID  int64
	ContactID string
	SessionID int64
	Status    models.TicketStatus
}

// TicketPatch is a partial ticket update; nil fields are left untouched.
// QueueID and OptionID distinguish "leave alone" (nil) from "clear"
// (pointer to empty string).
type TicketPatch struct {
	Status      *models.TicketStatus
	QueueID     *string
	OptionID    *string
	Chatbot     *bool
	LastMessage *string
}

// CreateMessageInput persists one chat turn. TransportID doubles as the
// dedup key: a second insert with the same (tenant, transport id) must
// fail with ErrDuplicateMessage.
type CreateMessageInput struct {
	TenantID    int64
	TicketID    string
	TransportID string
	FromMe      bool
	Body        string
	MediaKind   models.MediaKind
	Ack         int
	Raw         []byte
}

// ContactStore persists chat participant identities.
type ContactStore interface {
	UpsertContact(ctx context.Context, input UpsertContactInput) (models.Contact, error)
	GetContact(ctx context.Context, tenantID int64, contactID string) (models.Contact, error)
}

// TicketStore persists conversation state.
type TicketStore interface {
	FindOpenTicket(ctx context.Context, tenantID int64, contactID string, sessionID int64) (models.Ticket, bool, error)
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	UpdateTicket(ctx context.Context, ticketID string, patch TicketPatch) (models.Ticket, error)
	ListStalePendingTickets(ctx context.Context, cutoff time.Time) ([]models.Ticket, error)
}

// QueueStore reads tenant routing configuration; the engine never writes it.
type QueueStore interface {
	ListQueues(ctx context.Context, tenantID int64) ([]models.Queue, error)
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
	// ListOptions returns the ordered children of parentID within a queue;
	// an empty parentID selects the top-level options.
	ListOptions(ctx context.Context, queueID, parentID string) ([]models.QueueOption, error)
	GetOption(ctx context.Context, optionID string) (models.QueueOption, error)
	// GetGreeting returns the tenant-level greeting shown above the
	// department menu; empty when the tenant configured none.
	GetGreeting(ctx context.Context, tenantID int64) (string, error)
}

// MessageStore persists chat turns and backs the dedup guard.
type MessageStore interface {
	MessageExists(ctx context.Context, tenantID int64, transportID string) (bool, error)
	CreateMessage(ctx context.Context, input CreateMessageInput) (models.Message, error)
}

// Store aggregates every persistence collaborator the engine consumes.
type Store interface {
	ContactStore
	TicketStore
	QueueStore
	MessageStore
}
