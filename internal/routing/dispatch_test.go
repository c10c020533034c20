package routing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/flowdeskhq/flowdesk/internal/models"
	"github.com/flowdeskhq/flowdesk/internal/notify"
	"github.com/flowdeskhq/flowdesk/internal/store"
	"github.com/flowdeskhq/flowdesk/internal/store/memory"
)

func TestFormatBody(t *testing.T) {
	contact := models.Contact{Name: "Ana", ExternalID: "5511999@c.us"}

	got := FormatBody("Hello {name}, pick an option.", contact)
	if !strings.HasPrefix(got, Marker) {
		t.Fatalf("formatted body missing echo marker: %q", got)
	}
	if want := Marker + "Hello Ana, pick an option."; got != want {
		t.Fatalf("FormatBody = %q, want %q", got, want)
	}

	// Contacts without a pushed name fall back to the wire address.
	contact.Name = ""
	if got := FormatBody("Hi {name}", contact); got != Marker+"Hi 5511999@c.us" {
		t.Fatalf("fallback FormatBody = %q", got)
	}
}

func TestDispatcherPersistsOutbound(t *testing.T) {
	st := memory.NewStore()
	sender := &fakeSender{}
	hub := notify.NewHub()
	d := NewDispatcher(nil, sender, st, hub, 0, 0)

	contact, err := st.UpsertContact(context.Background(), store.UpsertContactInput{TenantID: 1, ExternalID: "5511999@c.us", Name: "Ana"})
	if err != nil {
		t.Fatal(err)
	}
	ticket, err := st.CreateTicket(context.Background(), store.CreateTicketInput{TenantID: 1, ContactID: contact.ID, SessionID: 10, Status: models.StatusPending})
	if err != nil {
		t.Fatal(err)
	}

	_, events, cancel := hub.Subscribe(1, 8)
	defer cancel()

	message, err := d.Send(context.Background(), ticket, contact, "Welcome {name}!")
	if err != nil {
		t.Fatal(err)
	}
	if !message.FromMe {
		t.Fatal("outbound message must be marked FromMe")
	}
	if message.Body != Marker+"Welcome Ana!" {
		t.Fatalf("persisted body = %q", message.Body)
	}

	rows := st.Messages(ticket.ID)
	if len(rows) != 1 {
		t.Fatalf("got %d persisted messages, want 1", len(rows))
	}
	updated, _ := st.Ticket(ticket.ID)
	if updated.LastMessage != message.Body {
		t.Fatalf("ticket last-message = %q, want %q", updated.LastMessage, message.Body)
	}

	// The hub sees both the message and the ticket update.
	topics := map[notify.Topic]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			topics[ev.Topic] = true
		default:
			t.Fatalf("missing hub event %d", i)
		}
	}
	if !topics[notify.TopicMessage] || !topics[notify.TopicTicket] {
		t.Fatalf("hub topics = %v", topics)
	}
}

func TestDispatcherWrapsTransportFailure(t *testing.T) {
	st := memory.NewStore()
	sender := &fakeSender{fail: errors.New("stream reset")}
	d := NewDispatcher(nil, sender, st, nil, 0, 0)

	ticket := models.Ticket{ID: "t1", TenantID: 1, SessionID: 10}
	_, err := d.Send(context.Background(), ticket, models.Contact{ExternalID: "x@c.us"}, "hello")

	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected *SendError, got %v", err)
	}
	if len(st.Messages("t1")) != 0 {
		t.Fatal("failed send must not persist an outbound row")
	}
}

func TestDispatcherLimiterPerSession(t *testing.T) {
	d := NewDispatcher(nil, &fakeSender{}, memory.NewStore(), nil, 1, 2)

	a := d.limiter(10)
	if a != d.limiter(10) {
		t.Fatal("limiter must be reused per session")
	}
	if a == d.limiter(11) {
		t.Fatal("sessions must not share a limiter")
	}
}
