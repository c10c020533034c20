// Package postgres implements the store interfaces on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/flowdeskhq/flowdesk/internal/db"
	"github.com/flowdeskhq/flowdesk/internal/models"
	"github.com/flowdeskhq/flowdesk/internal/store"
)

// Store is the pgx-backed implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a postgres store on the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const contactColumns = "id, tenant_id, external_id, name, avatar_url, is_group, created_at, updated_at"

func (s *Store) UpsertContact(ctx context.Context, input store.UpsertContactInput) (models.Contact, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (tenant_id, external_id, name, avatar_url, is_group)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			name       = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE contacts.name END,
			avatar_url = CASE WHEN EXCLUDED.avatar_url <> '' THEN EXCLUDED.avatar_url ELSE contacts.avatar_url END,
			updated_at = now()
		RETURNING `+contactColumns,
		input.TenantID, input.ExternalID, input.Name, input.AvatarURL, input.IsGroup)
	return scanContact(row)
}

func (s *Store) GetContact(ctx context.Context, tenantID int64, contactID string) (models.Contact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE tenant_id = $1 AND id = $2`,
		tenantID, contactID)
	contact, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Contact{}, store.ErrNotFound
	}
	return contact, err
}

func scanContact(row pgx.Row) (models.Contact, error) {
	var c models.Contact
	err := row.Scan(&c.ID, &c.TenantID, &c.ExternalID, &c.Name, &c.AvatarURL, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

const ticketColumns = `id, tenant_id, contact_id, session_id, status,
	COALESCE(queue_id::text, ''), COALESCE(agent_id::text, ''), COALESCE(option_id::text, ''),
	chatbot, last_message, created_at, updated_at`

func (s *Store) FindOpenTicket(ctx context.Context, tenantID int64, contactID string, sessionID int64) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE tenant_id = $1 AND contact_id = $2 AND session_id = $3 AND status <> 'closed'
		ORDER BY created_at DESC
		LIMIT 1`,
		tenantID, contactID, sessionID)
	ticket, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, false, nil
	}
	if err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	status := input.Status
	if status == "" {
		status = models.StatusPending
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tickets (tenant_id, contact_id, session_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+ticketColumns,
		input.TenantID, input.ContactID, input.SessionID, status)
	return scanTicket(row)
}

func (s *Store) UpdateTicket(ctx context.Context, ticketID string, patch store.TicketPatch) (models.Ticket, error) {
	sets := []string{"updated_at = now()"}
	args := []any{ticketID}

	add := func(expr string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if patch.Status != nil {
		add("status = $%d", string(*patch.Status))
	}
	if patch.QueueID != nil {
		add("queue_id = NULLIF($%d, '')::uuid", *patch.QueueID)
	}
	if patch.OptionID != nil {
		add("option_id = NULLIF($%d, '')::uuid", *patch.OptionID)
	}
	if patch.Chatbot != nil {
		add("chatbot = $%d", *patch.Chatbot)
	}
	if patch.LastMessage != nil {
		add("last_message = $%d", *patch.LastMessage)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE tickets SET `+strings.Join(sets, ", ")+`
		WHERE id = $1
		RETURNING `+ticketColumns, args...)
	ticket, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, store.ErrNotFound
	}
	return ticket, err
}

func (s *Store) ListStalePendingTickets(ctx context.Context, cutoff time.Time) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE status = 'pending' AND agent_id IS NULL AND updated_at < $1`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(&t.ID, &t.TenantID, &t.ContactID, &t.SessionID, &t.Status,
		&t.QueueID, &t.AgentID, &t.OptionID, &t.Chatbot, &t.LastMessage, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) ListQueues(ctx context.Context, tenantID int64) ([]models.Queue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, name, ordinal, greeting, out_of_hours_message
		FROM queues
		WHERE tenant_id = $1
		ORDER BY ordinal, name`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queues []models.Queue
	for rows.Next() {
		var q models.Queue
		if err := rows.Scan(&q.ID, &q.TenantID, &q.Name, &q.Ordinal, &q.Greeting, &q.OutOfHoursMessage); err != nil {
			return nil, err
		}
		queues = append(queues, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range queues {
		schedule, err := s.listSchedule(ctx, queues[i].ID)
		if err != nil {
			return nil, err
		}
		queues[i].Schedule = schedule
	}
	return queues, nil
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, ordinal, greeting, out_of_hours_message
		FROM queues
		WHERE id = $1`,
		queueID)
	var q models.Queue
	err := row.Scan(&q.ID, &q.TenantID, &q.Name, &q.Ordinal, &q.Greeting, &q.OutOfHoursMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Queue{}, store.ErrNotFound
	}
	if err != nil {
		return models.Queue{}, err
	}
	q.Schedule, err = s.listSchedule(ctx, q.ID)
	return q, err
}

func (s *Store) listSchedule(ctx context.Context, queueID string) ([]models.ScheduleEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT weekday, start_hour, end_hour
		FROM queue_schedules
		WHERE queue_id = $1`,
		queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.ScheduleEntry
	for rows.Next() {
		var e models.ScheduleEntry
		if err := rows.Scan(&e.Weekday, &e.StartHour, &e.EndHour); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) ListOptions(ctx context.Context, queueID, parentID string) ([]models.QueueOption, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, queue_id, COALESCE(parent_id::text, ''), label, title, confirmation, ordinal
		FROM queue_options
		WHERE queue_id = $1 AND parent_id IS NOT DISTINCT FROM NULLIF($2, '')::uuid
		ORDER BY ordinal, label`,
		queueID, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var options []models.QueueOption
	for rows.Next() {
		var o models.QueueOption
		if err := rows.Scan(&o.ID, &o.QueueID, &o.ParentID, &o.Label, &o.Title, &o.Confirmation, &o.Ordinal); err != nil {
			return nil, err
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

func (s *Store) GetOption(ctx context.Context, optionID string) (models.QueueOption, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, queue_id, COALESCE(parent_id::text, ''), label, title, confirmation, ordinal
		FROM queue_options
		WHERE id = $1`,
		optionID)
	var o models.QueueOption
	err := row.Scan(&o.ID, &o.QueueID, &o.ParentID, &o.Label, &o.Title, &o.Confirmation, &o.Ordinal)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.QueueOption{}, store.ErrNotFound
	}
	return o, err
}

func (s *Store) GetGreeting(ctx context.Context, tenantID int64) (string, error) {
	var greeting string
	err := s.pool.QueryRow(ctx,
		`SELECT greeting FROM tenant_settings WHERE tenant_id = $1`,
		tenantID).Scan(&greeting)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return greeting, err
}

func (s *Store) MessageExists(ctx context.Context, tenantID int64, transportID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE tenant_id = $1 AND transport_id = $2)`,
		tenantID, transportID).Scan(&exists)
	return exists, err
}

func (s *Store) CreateMessage(ctx context.Context, input store.CreateMessageInput) (models.Message, error) {
	raw := input.Raw
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (tenant_id, ticket_id, transport_id, from_me, body, media_kind, ack, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, tenant_id, ticket_id, transport_id, from_me, body, media_kind, ack, raw, created_at`,
		input.TenantID, input.TicketID, input.TransportID, input.FromMe,
		input.Body, string(input.MediaKind), input.Ack, raw)

	var m models.Message
	var mediaKind string
	err := row.Scan(&m.ID, &m.TenantID, &m.TicketID, &m.TransportID, &m.FromMe,
		&m.Body, &mediaKind, &m.Ack, &m.Raw, &m.CreatedAt)
	if err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return models.Message{}, store.ErrDuplicateMessage
		}
		return models.Message{}, err
	}
	m.MediaKind = models.MediaKind(mediaKind)
	return m, nil
}
