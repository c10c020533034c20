// Package models defines the persistent row types shared by the store and engine.
package models

import "time"

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	StatusPending TicketStatus = "pending"
	StatusOpen    TicketStatus = "open"
	StatusClosed  TicketStatus = "closed"
)

// Contact is the identity row for a remote chat participant.
type Contact struct {
	ID         string
	TenantID   int64
	ExternalID string
	Name       string
	AvatarURL  string
	IsGroup    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Ticket is the unit of conversation state for one contact on one session.
type Ticket struct {
	ID          string
	TenantID    int64
	ContactID   string
	SessionID   int64
	Status      TicketStatus
	QueueID     string
	AgentID     string
	OptionID    string
	Chatbot     bool
	LastMessage string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Assigned reports whether a human agent owns the ticket.
func (t Ticket) Assigned() bool {
	return t.AgentID != ""
}

// ScheduleEntry is one weekday window of a queue's weekly schedule.
// Empty start/end hours mean the day carries no restriction.
type ScheduleEntry struct {
	Weekday   string
	StartHour string
	EndHour   string
}

// Queue is a tenant-defined department a ticket can be routed into.
type Queue struct {
	ID                string
	TenantID          int64
	Name              string
	Ordinal           int
	Greeting          string
	OutOfHoursMessage string
	Schedule          []ScheduleEntry
}

// QueueOption is one node of a queue's menu tree. ParentID is empty for
// top-level options.
type QueueOption struct {
	ID           string
	QueueID      string
	ParentID     string
	Label        string
	Title        string
	Confirmation string
	Ordinal      int
}

// MediaKind tags the media payload of a message, empty for plain text.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
)

// Message is an immutable record of one inbound or outbound chat turn.
// TransportID is unique per tenant and backs the dedup guard.
type Message struct {
	ID          string
	TenantID    int64
	TicketID    string
	TransportID string
	FromMe      bool
	Body        string
	MediaKind   MediaKind
	Ack         int
	Raw         []byte
	CreatedAt   time.Time
}
