package routing

import (
	"fmt"
	"strings"
	"time"

	"github.com/flowdeskhq/flowdesk/internal/models"
	"github.com/flowdeskhq/flowdesk/internal/transport"
)

// Marker is the zero-width prefix stamped on every outbound prompt so that
// transport redeliveries of the engine's own messages are recognized and
// rejected even when the from-me flag is lost.
const Marker = "‎"

const broadcastSuffix = "@broadcast"

// ContentKind is the decoded payload kind of an inbound event.
type ContentKind string

const (
	ContentText        ContentKind = "text"
	ContentImage       ContentKind = "image"
	ContentVideo       ContentKind = "video"
	ContentDocument    ContentKind = "document"
	ContentAudio       ContentKind = "audio"
	ContentUnsupported ContentKind = "unsupported"
)

// InboundMessage is the canonical form of one accepted transport event.
type InboundMessage struct {
	TransportID string
	RemoteID    string
	DisplayName string
	AvatarURL   string
	IsGroup     bool
	Kind        ContentKind
	Body        string
	HasMedia    bool
	TenantID    int64
	SessionID   int64
	Timestamp   time.Time
	Raw         []byte
}

// MediaKind maps the content kind to the stored media tag, empty for text.
func (m InboundMessage) MediaKind() models.MediaKind {
	switch m.Kind {
	case ContentImage:
		return models.MediaImage
	case ContentVideo:
		return models.MediaVideo
	case ContentDocument:
		return models.MediaDocument
	case ContentAudio:
		return models.MediaAudio
	default:
		return ""
	}
}

// Normalize converts a raw transport event into an InboundMessage or rejects
// it. Rejections carry ErrMalformedEvent, ErrEchoEvent, or ErrFilteredEvent.
func Normalize(event transport.InboundEvent) (InboundMessage, error) {
	if event.TransportMessageID == "" {
		return InboundMessage{}, fmt.Errorf("missing transport message id: %w", ErrMalformedEvent)
	}
	remote := strings.TrimSpace(event.RemoteID)
	if remote == "" {
		return InboundMessage{}, fmt.Errorf("missing remote id: %w", ErrMalformedEvent)
	}
	if event.TenantID == 0 || event.SessionID == 0 {
		return InboundMessage{}, fmt.Errorf("missing tenant/session scope: %w", ErrMalformedEvent)
	}
	if strings.HasSuffix(remote, broadcastSuffix) {
		return InboundMessage{}, fmt.Errorf("broadcast channel %s: %w", remote, ErrFilteredEvent)
	}
	if event.FromMe {
		return InboundMessage{}, fmt.Errorf("from-me event: %w", ErrEchoEvent)
	}

	body := strings.TrimSpace(event.Body)
	if strings.HasPrefix(body, Marker) {
		return InboundMessage{}, fmt.Errorf("marker-prefixed body: %w", ErrEchoEvent)
	}

	kind := decodeKind(event)
	switch kind {
	case ContentUnsupported:
		return InboundMessage{}, fmt.Errorf("unsupported media kind %q: %w", event.MediaKind, ErrMalformedEvent)
	case ContentText:
		if body == "" {
			// Protocol/system stubs arrive as empty text events.
			return InboundMessage{}, fmt.Errorf("empty body without media: %w", ErrFilteredEvent)
		}
	default:
		if body == "" {
			// Media without a caption still needs a body for menu matching
			// and message history.
			body = "[" + string(kind) + "]"
		}
	}

	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	return InboundMessage{
		TransportID: event.TransportMessageID,
		RemoteID:    remote,
		DisplayName: strings.TrimSpace(event.DisplayName),
		AvatarURL:   strings.TrimSpace(event.AvatarURL),
		IsGroup:     event.IsGroup,
		Kind:        kind,
		Body:        body,
		HasMedia:    event.HasMedia,
		TenantID:    event.TenantID,
		SessionID:   event.SessionID,
		Timestamp:   timestamp,
		Raw:         event.Raw,
	}, nil
}

func decodeKind(event transport.InboundEvent) ContentKind {
	if !event.HasMedia {
		return ContentText
	}
	switch strings.ToLower(strings.TrimSpace(event.MediaKind)) {
	case "image":
		return ContentImage
	case "video":
		return ContentVideo
	case "document":
		return ContentDocument
	case "audio", "voice", "ptt":
		return ContentAudio
	default:
		return ContentUnsupported
	}
}
