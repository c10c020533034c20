// Package memory implements the store interfaces in process memory. It backs
// engine tests and single-node development runs; it is not durable.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowdeskhq/flowdesk/internal/models"
	"github.com/flowdeskhq/flowdesk/internal/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	contacts map[string]models.Contact
	tickets  map[string]models.Ticket
	queues   map[string]models.Queue
	options  map[string]models.QueueOption
	messages map[string]models.Message
	greeting map[int64]string
	// dedup keys: tenant -> transport id
	seen map[int64]map[string]bool
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		now:      time.Now,
		contacts: map[string]models.Contact{},
		tickets:  map[string]models.Ticket{},
		queues:   map[string]models.Queue{},
		options:  map[string]models.QueueOption{},
		messages: map[string]models.Message{},
		greeting: map[int64]string{},
		seen:     map[int64]map[string]bool{},
	}
}

// SetClock overrides the store clock, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) UpsertContact(_ context.Context, input store.UpsertContactInput) (models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.contacts {
		if c.TenantID == input.TenantID && c.ExternalID == input.ExternalID {
			if input.Name != "" {
				c.Name = input.Name
			}
			if input.AvatarURL != "" {
				c.AvatarURL = input.AvatarURL
			}
			c.UpdatedAt = s.now()
			s.contacts[id] = c
			return c, nil
		}
	}

	c := models.Contact{
		ID:         uuid.NewString(),
		TenantID:   input.TenantID,
		ExternalID: input.ExternalID,
		Name:       input.Name,
		AvatarURL:  input.AvatarURL,
		IsGroup:    input.IsGroup,
		CreatedAt:  s.now(),
		UpdatedAt:  s.now(),
	}
	s.contacts[c.ID] = c
	return c, nil
}

func (s *Store) GetContact(_ context.Context, tenantID int64, contactID string) (models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[contactID]
	if !ok || c.TenantID != tenantID {
		return models.Contact{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) FindOpenTicket(_ context.Context, tenantID int64, contactID string, sessionID int64) (models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest models.Ticket
	found := false
	for _, t := range s.tickets {
		if t.TenantID != tenantID || t.ContactID != contactID || t.SessionID != sessionID {
			continue
		}
		if t.Status == models.StatusClosed {
			continue
		}
		if !found || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
			found = true
		}
	}
	return latest, found, nil
}

func (s *Store) CreateTicket(_ context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := input.Status
	if status == "" {
		status = models.StatusPending
	}
	t := models.Ticket{
		ID:        uuid.NewString(),
		TenantID:  input.TenantID,
		ContactID: input.ContactID,
		SessionID: input.SessionID,
		Status:    status,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	s.tickets[t.ID] = t
	return t, nil
}

func (s *Store) UpdateTicket(_ context.Context, ticketID string, patch store.TicketPatch) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrNotFound
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.QueueID != nil {
		t.QueueID = *patch.QueueID
	}
	if patch.OptionID != nil {
		t.OptionID = *patch.OptionID
	}
	if patch.Chatbot != nil {
		t.Chatbot = *patch.Chatbot
	}
	if patch.LastMessage != nil {
		t.LastMessage = *patch.LastMessage
	}
	t.UpdatedAt = s.now()
	s.tickets[ticketID] = t
	return t, nil
}

func (s *Store) ListStalePendingTickets(_ context.Context, cutoff time.Time) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []models.Ticket
	for _, t := range s.tickets {
		if t.Status == models.StatusPending && !t.Assigned() && t.UpdatedAt.Before(cutoff) {
			stale = append(stale, t)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	return stale, nil
}

// AddQueue seeds a queue, assigning an id when empty.
func (s *Store) AddQueue(q models.Queue) models.Queue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	s.queues[q.ID] = q
	return q
}

// AddOption seeds a queue option, assigning an id when empty.
func (s *Store) AddOption(o models.QueueOption) models.QueueOption {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	s.options[o.ID] = o
	return o
}

func (s *Store) ListQueues(_ context.Context, tenantID int64) ([]models.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queues []models.Queue
	for _, q := range s.queues {
		if q.TenantID == tenantID {
			queues = append(queues, q)
		}
	}
	sort.Slice(queues, func(i, j int) bool {
		if queues[i].Ordinal != queues[j].Ordinal {
			return queues[i].Ordinal < queues[j].Ordinal
		}
		return queues[i].Name < queues[j].Name
	})
	return queues, nil
}

func (s *Store) GetQueue(_ context.Context, queueID string) (models.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[queueID]
	if !ok {
		return models.Queue{}, store.ErrNotFound
	}
	return q, nil
}

func (s *Store) ListOptions(_ context.Context, queueID, parentID string) ([]models.QueueOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var options []models.QueueOption
	for _, o := range s.options {
		if o.QueueID == queueID && o.ParentID == parentID {
			options = append(options, o)
		}
	}
	sort.Slice(options, func(i, j int) bool {
		if options[i].Ordinal != options[j].Ordinal {
			return options[i].Ordinal < options[j].Ordinal
		}
		return options[i].Label < options[j].Label
	})
	return options, nil
}

func (s *Store) GetOption(_ context.Context, optionID string) (models.QueueOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.options[optionID]
	if !ok {
		return models.QueueOption{}, store.ErrNotFound
	}
	return o, nil
}

// SetGreeting seeds the tenant-level department menu greeting.
func (s *Store) SetGreeting(tenantID int64, greeting string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.greeting[tenantID] = greeting
}

func (s *Store) GetGreeting(_ context.Context, tenantID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greeting[tenantID], nil
}

func (s *Store) MessageExists(_ context.Context, tenantID int64, transportID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[tenantID][transportID], nil
}

func (s *Store) CreateMessage(_ context.Context, input store.CreateMessageInput) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen[input.TenantID][input.TransportID] {
		return models.Message{}, store.ErrDuplicateMessage
	}
	m := models.Message{
		ID:          uuid.NewString(),
		TenantID:    input.TenantID,
		TicketID:    input.TicketID,
		TransportID: input.TransportID,
		FromMe:      input.FromMe,
		Body:        input.Body,
		MediaKind:   input.MediaKind,
		Ack:         input.Ack,
		Raw:         input.Raw,
		CreatedAt:   s.now(),
	}
	s.messages[m.ID] = m
	if s.seen[input.TenantID] == nil {
		s.seen[input.TenantID] = map[string]bool{}
	}
	s.seen[input.TenantID][input.TransportID] = true
	return m, nil
}

// Messages returns all persisted messages for a ticket, oldest first.
func (s *Store) Messages(ticketID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Message
	for _, m := range s.messages {
		if m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Ticket returns a ticket by id, for test assertions.
func (s *Store) Ticket(ticketID string) (models.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	return t, ok
}

// SetAgent assigns a human agent to a ticket, standing in for the
// attendance surface that lives outside the engine.
func (s *Store) SetAgent(ticketID, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return
	}
	t.AgentID = agentID
	s.tickets[ticketID] = t
}
