package core

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies a normalized agent output line. The kind is decided
// once at normalization time and never revised afterwards.
type EventKind string

const (
	// EventToolUse indicates the agent is invoking a tool (file read, search, shell).
	EventToolUse EventKind = "tool_use"

	// EventAssistant is an assistant-authored message or analysis fragment.
	EventAssistant EventKind = "assistant"

	// EventError is an error or warning emitted by the agent or its runtime.
	EventError EventKind = "error"

	// EventSystem is any other operational output (init, progress, tool results).
	EventSystem EventKind = "system"

	// EventResult marks analysis completion so clients can detect it unambiguously.
	EventResult EventKind = "result"
)

// ParseEventKind maps a persisted kind string back to an EventKind.
// Unknown values degrade to EventSystem.
func ParseEventKind(s string) EventKind {
	switch EventKind(s) {
	case EventToolUse, EventAssistant, EventError, EventResult:
		return EventKind(s)
	default:
		return EventSystem
	}
}

// StructuredEvent is the core unit flowing through the log pipeline: one raw
// output line, classified and cleaned. Immutable after creation.
type StructuredEvent struct {
	ID         string            `json:"id"`
	TicketID   string            `json:"ticket_id"`
	Kind       EventKind         `json:"kind"`
	Content    string            `json:"content"`
	Raw        string            `json:"raw,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewStructuredEvent creates an event with a fresh ID and the current timestamp.
func NewStructuredEvent(ticketID string, kind EventKind, content string) StructuredEvent {
	return StructuredEvent{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		Kind:       kind,
		Content:    content,
		OccurredAt: time.Now().UTC(),
	}
}

// WithRaw attaches the original unmodified line for audit.
func (e StructuredEvent) WithRaw(raw string) StructuredEvent {
	e.Raw = raw
	return e
}

// WithMetadata attaches extracted metadata.
func (e StructuredEvent) WithMetadata(md map[string]string) StructuredEvent {
	if len(md) > 0 {
		e.Metadata = md
	}
	return e
}

// EventSink receives structured events as they are produced by the pipeline.
type EventSink func(event StructuredEvent)
