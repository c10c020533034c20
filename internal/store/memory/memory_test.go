package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowdeskhq/flowdesk/internal/models"
	"github.com/flowdeskhq/flowdesk/internal/store"
)

func TestUpsertContactRefreshesExisting(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	first, err := s.UpsertContact(ctx, store.UpsertContactInput{TenantID: 1, ExternalID: "5511999@c.us", Name: "Ana"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.UpsertContact(ctx, store.UpsertContactInput{TenantID: 1, ExternalID: "5511999@c.us", Name: "Ana Maria", AvatarURL: "http://a/avatar.png"})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same contact, got %s and %s", first.ID, second.ID)
	}
	if second.Name != "Ana Maria" || second.AvatarURL != "http://a/avatar.png" {
		t.Errorf("contact not refreshed: %+v", second)
	}

	// Empty values must not wipe existing ones.
	third, err := s.UpsertContact(ctx, store.UpsertContactInput{TenantID: 1, ExternalID: "5511999@c.us"})
	if err != nil {
		t.Fatal(err)
	}
	if third.Name != "Ana Maria" {
		t.Errorf("empty upsert cleared name: %+v", third)
	}
}

func TestFindOpenTicketSkipsClosed(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	contact, _ := s.UpsertContact(ctx, store.UpsertContactInput{TenantID: 1, ExternalID: "x"})
	ticket, err := s.CreateTicket(ctx, store.CreateTicketInput{TenantID: 1, ContactID: contact.ID, SessionID: 7})
	if err != nil {
		t.Fatal(err)
	}

	got, found, err := s.FindOpenTicket(ctx, 1, contact.ID, 7)
	if err != nil || !found || got.ID != ticket.ID {
		t.Fatalf("expected open ticket %s, got %+v found=%v err=%v", ticket.ID, got, found, err)
	}

	closed := models.StatusClosed
	if _, err := s.UpdateTicket(ctx, ticket.ID, store.TicketPatch{Status: &closed}); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.FindOpenTicket(ctx, 1, contact.ID, 7); found {
		t.Error("closed ticket should not be returned")
	}
	if _, found, _ := s.FindOpenTicket(ctx, 1, contact.ID, 8); found {
		t.Error("ticket should be scoped by session")
	}
}

func TestCreateMessageDedup(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	input := store.CreateMessageInput{TenantID: 1, TicketID: "t1", TransportID: "wa-123", Body: "hi"}
	if _, err := s.CreateMessage(ctx, input); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateMessage(ctx, input); !errors.Is(err, store.ErrDuplicateMessage) {
		t.Fatalf("expected ErrDuplicateMessage, got %v", err)
	}

	// Same transport id on another tenant is a different message.
	other := input
	other.TenantID = 2
	if _, err := s.CreateMessage(ctx, other); err != nil {
		t.Fatalf("cross-tenant id should not collide: %v", err)
	}

	exists, err := s.MessageExists(ctx, 1, "wa-123")
	if err != nil || !exists {
		t.Fatalf("MessageExists = %v, %v", exists, err)
	}
}

func TestListStalePendingTickets(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })

	contact, _ := s.UpsertContact(ctx, store.UpsertContactInput{TenantID: 1, ExternalID: "x"})
	old, _ := s.CreateTicket(ctx, store.CreateTicketInput{TenantID: 1, ContactID: contact.ID, SessionID: 1})

	s.SetClock(func() time.Time { return base.Add(48 * time.Hour) })
	fresh, _ := s.CreateTicket(ctx, store.CreateTicketInput{TenantID: 1, ContactID: contact.ID, SessionID: 2})

	stale, err := s.ListStalePendingTickets(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Fatalf("expected only %s stale, got %+v", old.ID, stale)
	}
	if _, ok := s.Ticket(fresh.ID); !ok {
		t.Fatal("fresh ticket missing")
	}
}
