package usage

import (
	"strings"
	"time"
)

// RecordType identifies what kind of artifact a usage event is about.
type RecordType string

const (
	RecordPDF   RecordType = "pdf"
	RecordEmail RecordType = "email"
)

// EventType is a lifecycle event. Which values are valid depends on the
// RecordType; see AllowedEvents.
type EventType string

const (
	EventPDFView     EventType = "pdf_view"
	EventPDFDownload EventType = "pdf_download"
	EventPDFPrint    EventType = "pdf_print"

	EventEmailSent      EventType = "email_sent"
	EventEmailDelivered EventType = "email_delivered"
	EventEmailOpened    EventType = "email_opened"
	EventEmailBounced   EventType = "email_bounced"
	EventEmailFailed    EventType = "email_failed"
)

// RecordTypes lists every valid record type in display order.
var RecordTypes = []RecordType{RecordPDF, RecordEmail}

// allowedEvents is the only table of valid (record type, event type) pairs.
// Ingestion and query filtering both consult it.
var allowedEvents = map[RecordType][]EventType{
	RecordPDF:   {EventPDFView, EventPDFDownload, EventPDFPrint},
	RecordEmail: {EventEmailSent, EventEmailDelivered, EventEmailOpened, EventEmailBounced, EventEmailFailed},
}

// Valid reports whether r is a known record type.
func (r RecordType) Valid() bool {
	_, ok := allowedEvents[r]
	return ok
}

// AllowedEvents returns a copy of the event types valid for r, or nil when r
// is unknown.
func AllowedEvents(r RecordType) []EventType {
	events, ok := allowedEvents[r]
	if !ok {
		return nil
	}
	out := make([]EventType, len(events))
	copy(out, events)
	return out
}

// AllEvents returns every event type across all record types.
func AllEvents() []EventType {
	var out []EventType
	for _, r := range RecordTypes {
		out = append(out, allowedEvents[r]...)
	}
	return out
}

// Allows reports whether e is a valid event type for r.
func (r RecordType) Allows(e EventType) bool {
	for _, allowed := range allowedEvents[r] {
		if allowed == e {
			return true
		}
	}
	return false
}

// RecordTypeOf returns the record type an event type belongs to.
func RecordTypeOf(e EventType) (RecordType, bool) {
	for _, r := range RecordTypes {
		if r.Allows(e) {
			return r, true
		}
	}
	return "", false
}

// Metadata is the open key/value payload attached to every event.
type Metadata map[string]any

// Candidate is an event as submitted by a producer, before validation.
// CreatedAt may be nil, a time.Time, a *time.Time, a string, or a number of
// Unix milliseconds (as decoded from JSON).
type Candidate struct {
	RecordID       string     `json:"recordId"`
	RecordType     RecordType `json:"recordType"`
	EventType      EventType  `json:"eventType"`
	ActorID        string     `json:"actorId,omitempty"`
	ActorEmail     string     `json:"actorEmail,omitempty"`
	RecipientEmail string     `json:"recipientEmail,omitempty"`
	Status         string     `json:"status,omitempty"`
	Source         string     `json:"source"`
	Metadata       Metadata   `json:"metadata,omitempty"`
	CreatedAt      any        `json:"createdAt,omitempty"`
}

// Normalized is a Candidate that passed validation.
type Normalized struct {
	RecordID       string
	RecordType     RecordType
	EventType      EventType
	ActorID        string
	ActorEmail     string
	RecipientEmail string
	Status         string
	Source         string
	Metadata       Metadata
	CreatedAt      time.Time
}

// Event is a persisted usage event. Events are never updated once written.
type Event struct {
	ID             string     `json:"id"`
	RecordID       string     `json:"recordId"`
	RecordType     RecordType `json:"recordType"`
	EventType      EventType  `json:"eventType"`
	ActorID        string     `json:"actorId,omitempty"`
	ActorEmail     string     `json:"actorEmail,omitempty"`
	RecipientEmail string     `json:"recipientEmail,omitempty"`
	Status         string     `json:"status,omitempty"`
	Source         string     `json:"source,omitempty"`
	Metadata       Metadata   `json:"metadata"`
	CreatedAt      time.Time  `json:"createdAt"`
	IngestedAt     time.Time  `json:"ingestedAt"`
}

// DisplayStatus returns Status if set, otherwise the event type without its
// record-type prefix ("pdf_download" -> "download").
func (e Event) DisplayStatus() string {
	if e.Status != "" {
		return e.Status
	}
	return strings.TrimPrefix(string(e.EventType), string(e.RecordType)+"_")
}

// Normalize validates c and fills defaults. It has no side effects; now is
// used only when c carries no CreatedAt.
func Normalize(c Candidate, now time.Time) (Normalized, error) {
	if strings.TrimSpace(c.RecordID) == "" {
		return Normalized{}, invalid(ErrMissingRecordID, "recordId is required")
	}
	if !c.RecordType.Valid() {
		return Normalized{}, invalidf(ErrInvalidRecordType, "Invalid recordType: %s", c.RecordType)
	}
	if !c.RecordType.Allows(c.EventType) {
		return Normalized{}, invalidf(ErrInvalidEventType, "Invalid eventType %s for recordType %s", c.EventType, c.RecordType)
	}
	if c.RecordType == RecordEmail && strings.TrimSpace(c.RecipientEmail) == "" {
		return Normalized{}, invalid(ErrMissingRecipient, "recipientEmail is required for email events")
	}

	createdAt, err := parseCreatedAt(c.CreatedAt, now)
	if err != nil {
		return Normalized{}, err
	}

	md := c.Metadata
	if md == nil {
		md = Metadata{}
	}

	return Normalized{
		RecordID:       c.RecordID,
		RecordType:     c.RecordType,
		EventType:      c.EventType,
		ActorID:        c.ActorID,
		ActorEmail:     c.ActorEmail,
		RecipientEmail: c.RecipientEmail,
		Status:         c.Status,
		Source:         c.Source,
		Metadata:       md,
		CreatedAt:      createdAt,
	}, nil
}

// timestampLayouts are tried in order when CreatedAt arrives as a string.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the string forms accepted for createdAt and for
// query date bounds.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseCreatedAt(v any, now time.Time) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return now, nil
	case time.Time:
		if t.IsZero() {
			return now, nil
		}
		return t, nil
	case *time.Time:
		if t == nil || t.IsZero() {
			return now, nil
		}
		return *t, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return now, nil
		}
		parsed, ok := ParseTimestamp(t)
		if !ok {
			return time.Time{}, invalidf(ErrInvalidTimestamp, "invalid createdAt: %q", t)
		}
		return parsed, nil
	case float64:
		return time.UnixMilli(int64(t)), nil
	case int64:
		return time.UnixMilli(t), nil
	case int:
		return time.UnixMilli(int64(t)), nil
	default:
		return time.Time{}, invalidf(ErrInvalidTimestamp, "invalid createdAt type %T", v)
	}
}

// IngestionLag is the time between an event's logical occurrence and its
// durable write. It is negative when createdAt lies in the future.
func IngestionLag(createdAt, ingestedAt time.Time) time.Duration {
	return ingestedAt.Sub(createdAt)
}

// IsFreshEnough reports whether the event was ingested within maxLag of its
// creation.
func IsFreshEnough(createdAt time.Time, maxLag time.Duration, ingestedAt time.Time) bool {
	return IngestionLag(createdAt, ingestedAt) <= maxLag
}
