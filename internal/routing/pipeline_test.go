package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdeskhq/flowdesk/internal/models"
	"github.com/flowdeskhq/flowdesk/internal/notify"
	"github.com/flowdeskhq/flowdesk/internal/store"
	"github.com/flowdeskhq/flowdesk/internal/store/memory"
	"github.com/flowdeskhq/flowdesk/internal/transport"
)

type sentMessage struct {
	SessionID int64
	RemoteID  string
	Body      string
}

// fakeSender records outbound sends and can be told to fail.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	fail error
	n    int
}

func (f *fakeSender) Send(_ context.Context, sessionID int64, remoteID, body string) (transport.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return transport.SendResult{}, f.fail
	}
	f.n++
	f.sent = append(f.sent, sentMessage{SessionID: sessionID, RemoteID: remoteID, Body: body})
	return transport.SendResult{TransportMessageID: fmt.Sprintf("out-%d", f.n), AckState: 1}, nil
}

func (f *fakeSender) last(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no outbound message sent")
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixture struct {
	store  *memory.Store
	sender *fakeSender
	engine *Engine
	nextID int
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	st := memory.NewStore()
	sender := &fakeSender{}
	dispatcher := NewDispatcher(nil, sender, st, notify.NewHub(), 0, 0)
	engine := NewEngine(nil, st, dispatcher, notify.NewHub(), opts)
	return &fixture{store: st, sender: sender, engine: engine}
}

// inbound feeds one text message from the default contact through the engine.
func (f *fixture) inbound(t *testing.T, body string) error {
	t.Helper()
	f.nextID++
	return f.engine.HandleEvent(context.Background(), transport.InboundEvent{
		TransportMessageID: fmt.Sprintf("m%d", f.nextID),
		RemoteID:           "5511999@c.us",
		DisplayName:        "Ana",
		Body:               body,
		TenantID:           1,
		SessionID:          10,
	})
}

func (f *fixture) openTicket(t *testing.T) models.Ticket {
	t.Helper()
	contact, err := f.store.UpsertContact(context.Background(), store.UpsertContactInput{TenantID: 1, ExternalID: "5511999@c.us"})
	require.NoError(t, err)
	ticket, found, err := f.store.FindOpenTicket(context.Background(), 1, contact.ID, 10)
	require.NoError(t, err)
	require.True(t, found, "expected an open ticket")
	return ticket
}

func seedTwoQueues(f *fixture) (models.Queue, models.Queue) {
	f.store.SetGreeting(1, "Welcome to Acme!")
	sales := f.store.AddQueue(models.Queue{TenantID: 1, Name: "Sales", Ordinal: 1, Greeting: "Sales here, {name}!"})
	support := f.store.AddQueue(models.Queue{TenantID: 1, Name: "Support", Ordinal: 2, Greeting: "How can Support help?"})
	f.store.AddOption(models.QueueOption{QueueID: support.ID, Label: "1", Title: "Billing", Confirmation: "An analyst will review your invoice."})
	f.store.AddOption(models.QueueOption{QueueID: support.ID, Label: "2", Title: "Bugs"})
	return sales, support
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t, Options{})
	_, support := seedTwoQueues(f)

	// First contact: greeting + department menu, no ticket mutation.
	require.NoError(t, f.inbound(t, "hi"))
	menu := Marker + "Welcome to Acme!\n\n[1] Sales\n[2] Support"
	assert.Equal(t, menu, f.sender.last(t).Body)
	ticket := f.openTicket(t)
	assert.Empty(t, ticket.QueueID)
	assert.Equal(t, models.StatusPending, ticket.Status)

	// Valid selection assigns the queue and shows its option menu.
	require.NoError(t, f.inbound(t, "2"))
	ticket = f.openTicket(t)
	assert.Equal(t, support.ID, ticket.QueueID)
	assert.True(t, ticket.Chatbot)
	optionMenu := Marker + "How can Support help?\n\n[1] Billing\n[2] Bugs\n\n[#] Main menu"
	assert.Equal(t, optionMenu, f.sender.last(t).Body)

	// Invalid input re-sends the same menu unchanged.
	require.NoError(t, f.inbound(t, "9"))
	assert.Equal(t, optionMenu, f.sender.last(t).Body)

	// "#" resets queue and cursor and re-presents the department menu.
	require.NoError(t, f.inbound(t, "#"))
	ticket = f.openTicket(t)
	assert.Empty(t, ticket.QueueID)
	assert.Empty(t, ticket.OptionID)
	assert.False(t, ticket.Chatbot)
	assert.Equal(t, menu, f.sender.last(t).Body)
}

func TestMenuBounds(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.AddQueue(models.Queue{TenantID: 1, Name: "A", Ordinal: 1})
	f.store.AddQueue(models.Queue{TenantID: 1, Name: "B", Ordinal: 2})
	f.store.AddQueue(models.Queue{TenantID: 1, Name: "C", Ordinal: 3})

	for _, body := range []string{"0", "4", "abc", "hi"} {
		require.NoError(t, f.inbound(t, body))
		assert.Empty(t, f.openTicket(t).QueueID, "input %q must not assign a queue", body)
	}

	require.NoError(t, f.inbound(t, "2"))
	ticket := f.openTicket(t)
	require.NotEmpty(t, ticket.QueueID)
	queue, err := f.store.GetQueue(context.Background(), ticket.QueueID)
	require.NoError(t, err)
	assert.Equal(t, "B", queue.Name)
	// Queue B has no options, so the chatbot stays off.
	assert.False(t, ticket.Chatbot)
}

func TestIdempotentReprompt(t *testing.T) {
	f := newFixture(t, Options{})
	seedTwoQueues(f)

	require.NoError(t, f.inbound(t, "hello"))
	first := f.sender.last(t).Body
	require.NoError(t, f.inbound(t, "what?"))
	assert.Equal(t, first, f.sender.last(t).Body, "re-prompt must be byte-identical")
}

func TestDedupReplay(t *testing.T) {
	f := newFixture(t, Options{})
	seedTwoQueues(f)

	event := transport.InboundEvent{
		TransportMessageID: "dup-1",
		RemoteID:           "5511999@c.us",
		Body:               "hi",
		TenantID:           1,
		SessionID:          10,
	}
	require.NoError(t, f.engine.HandleEvent(context.Background(), event))
	replies := f.sender.count()

	err := f.engine.HandleEvent(context.Background(), event)
	require.ErrorIs(t, err, store.ErrDuplicateMessage)
	assert.Equal(t, replies, f.sender.count(), "replay must not produce another reply")

	ticket := f.openTicket(t)
	assert.Len(t, f.store.Messages(ticket.ID), 2, "one inbound row plus one outbound row")
}

func TestWalkerDescendsAndResets(t *testing.T) {
	f := newFixture(t, Options{})
	_, support := seedTwoQueues(f)
	options, err := f.store.ListOptions(context.Background(), support.ID, "")
	require.NoError(t, err)
	billing := options[0]
	f.store.AddOption(models.QueueOption{QueueID: support.ID, ParentID: billing.ID, Label: "1", Title: "Invoices", Confirmation: "Send us the invoice number."})

	require.NoError(t, f.inbound(t, "hi"))
	require.NoError(t, f.inbound(t, "2")) // Support
	require.NoError(t, f.inbound(t, "1")) // Billing
	ticket := f.openTicket(t)
	require.Equal(t, billing.ID, ticket.OptionID)
	assert.Equal(t, Marker+"An analyst will review your invoice.\n\n[#] Main menu", f.sender.last(t).Body)

	// Non-matching input relists the children under the current title.
	require.NoError(t, f.inbound(t, "zzz"))
	assert.Equal(t, Marker+"Billing\n\n[1] Invoices\n\n[#] Main menu", f.sender.last(t).Body)

	// Matching input descends to the child.
	require.NoError(t, f.inbound(t, "1"))
	ticket = f.openTicket(t)
	children, err := f.store.ListOptions(context.Background(), support.ID, billing.ID)
	require.NoError(t, err)
	require.Equal(t, children[0].ID, ticket.OptionID)

	// Reset from a deep cursor returns to the very top.
	require.NoError(t, f.inbound(t, "#"))
	ticket = f.openTicket(t)
	assert.Empty(t, ticket.QueueID)
	assert.Empty(t, ticket.OptionID)
	assert.Contains(t, f.sender.last(t).Body, "[1] Sales\n[2] Support")
}

func TestLeafOptionGoesQuiet(t *testing.T) {
	f := newFixture(t, Options{})
	seedTwoQueues(f)

	require.NoError(t, f.inbound(t, "hi"))
	require.NoError(t, f.inbound(t, "2"))
	require.NoError(t, f.inbound(t, "2")) // Bugs, a leaf
	ticket := f.openTicket(t)
	require.NotEmpty(t, ticket.OptionID)
	cursor := ticket.OptionID
	replies := f.sender.count()

	// At a leaf the engine stays quiet and the cursor does not move.
	require.NoError(t, f.inbound(t, "anything"))
	require.NoError(t, f.inbound(t, "anything"))
	ticket = f.openTicket(t)
	assert.Equal(t, cursor, ticket.OptionID)
	assert.Equal(t, replies, f.sender.count())
}

func TestSingleQueueAutoAssign(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.AddQueue(models.Queue{TenantID: 1, Name: "Support", Greeting: "Hello {name}!"})

	require.NoError(t, f.inbound(t, "good morning"))
	ticket := f.openTicket(t)
	assert.NotEmpty(t, ticket.QueueID, "a single department needs no menu")
	assert.Equal(t, Marker+"Hello Ana!", f.sender.last(t).Body)
}

func TestNoQueuesIsNoOp(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.inbound(t, "hi"))
	assert.Zero(t, f.sender.count())
	ticket := f.openTicket(t)
	assert.Len(t, f.store.Messages(ticket.ID), 1, "inbound still persisted")
}

func TestAssignedAgentSkipsRouting(t *testing.T) {
	f := newFixture(t, Options{})
	seedTwoQueues(f)

	require.NoError(t, f.inbound(t, "hi"))
	ticket := f.openTicket(t)

	// A human agent takes over through the attendance surface.
	status := models.StatusOpen
	_, err := f.store.UpdateTicket(context.Background(), ticket.ID, store.TicketPatch{Status: &status})
	require.NoError(t, err)
	f.store.SetAgent(ticket.ID, "agent-1")
	replies := f.sender.count()

	require.NoError(t, f.inbound(t, "2"))
	assert.Equal(t, replies, f.sender.count(), "agent-held tickets leave the engine")
	ticket = f.openTicket(t)
	assert.Empty(t, ticket.QueueID)
}

func TestOutOfHoursMessage(t *testing.T) {
	closedMonday := func() time.Time { return time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC) }
	f := newFixture(t, Options{Clock: closedMonday})
	f.store.SetGreeting(1, "Welcome!")
	queue := f.store.AddQueue(models.Queue{
		TenantID: 1, Name: "Support", Greeting: "Support here.",
		OutOfHoursMessage: "We are closed, back at 08:00.",
		Schedule: []models.ScheduleEntry{{Weekday: "monday", StartHour: "08:00", EndHour: "18:00"}},
	})
	f.store.AddOption(models.QueueOption{QueueID: queue.ID, Label: "1", Title: "Billing"})

	require.NoError(t, f.inbound(t, "hi")) // single queue, auto-assigned
	assert.Equal(t, Marker+"We are closed, back at 08:00.", f.sender.last(t).Body)

	// Subsequent turns keep hitting the gate while closed.
	require.NoError(t, f.inbound(t, "1"))
	assert.Equal(t, Marker+"We are closed, back at 08:00.", f.sender.last(t).Body)
	ticket := f.openTicket(t)
	assert.Empty(t, ticket.OptionID, "gate must block the walker")
}

func TestOutOfHoursAbsentScheduleStaysOpen(t *testing.T) {
	sunday := func() time.Time { return time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC) }
	f := newFixture(t, Options{Clock: sunday})
	queue := f.store.AddQueue(models.Queue{
		TenantID: 1, Name: "Support", Greeting: "Support here.",
		OutOfHoursMessage: "Closed.",
		Schedule:          []models.ScheduleEntry{{Weekday: "monday", StartHour: "08:00", EndHour: "18:00"}},
	})
	f.store.AddOption(models.QueueOption{QueueID: queue.ID, Label: "1", Title: "Billing", Confirmation: "Billing it is."})

	require.NoError(t, f.inbound(t, "hi"))
	assert.Equal(t, Marker+"Support here.\n\n[1] Billing\n\n[#] Main menu", f.sender.last(t).Body,
		"no schedule entry for today means open")
}

func TestGroupTrafficPersistedNotRouted(t *testing.T) {
	f := newFixture(t, Options{})
	seedTwoQueues(f)

	f.nextID++
	err := f.engine.HandleEvent(context.Background(), transport.InboundEvent{
		TransportMessageID: fmt.Sprintf("m%d", f.nextID),
		RemoteID:           "group-123@g.us",
		IsGroup:            true,
		Body:               "hello group",
		TenantID:           1,
		SessionID:          10,
	})
	require.NoError(t, err)
	assert.Zero(t, f.sender.count(), "group traffic is not routed by default")
}

func TestSendFailureAfterInboundCommit(t *testing.T) {
	f := newFixture(t, Options{})
	seedTwoQueues(f)

	f.sender.fail = errors.New("socket closed")
	err := f.inbound(t, "hi")
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)

	// The inbound row is already committed, so the replay guard holds.
	ticket := f.openTicket(t)
	assert.Len(t, f.store.Messages(ticket.ID), 1)
	f.sender.fail = nil
	require.NoError(t, f.inbound(t, "hi again"))
	assert.Equal(t, 1, f.sender.count(), "conversation recovers on the next turn")
}
