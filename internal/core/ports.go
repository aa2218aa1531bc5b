package core

import "context"

// EventStore persists structured events. Implemented by the sqlite store and
// consumed by the message store's batch writer.
type EventStore interface {
	SaveEvent(ctx context.Context, event StructuredEvent) error
	SaveEventsBatch(ctx context.Context, events []StructuredEvent) error
	QueryEvents(ctx context.Context, ticketID string, limit, offset int) ([]StructuredEvent, error)
	CountEvents(ctx context.Context, ticketID string) (int, error)
	ClearEvents(ctx context.Context, ticketID string) error
}

// TicketStore covers the ticket lifecycle operations the orchestrator needs.
type TicketStore interface {
	GetTicket(ctx context.Context, id string) (*TicketRecord, error)
	CreateTicket(ctx context.Context, t *TicketRecord) error
	SetTicketAnalyzing(ctx context.Context, id string, analyzing bool) error
	SetTicketResult(ctx context.Context, id string, result string) error
}

// SessionStore tracks analysis session lifecycles.
type SessionStore interface {
	CreateSession(ctx context.Context, s *AnalysisSession) error
	CompleteSession(ctx context.Context, id string) error
	FailSession(ctx context.Context, id, errorMessage string) error
	CancelSession(ctx context.Context, id, reason string) error
	ActiveSessionByTicket(ctx context.Context, ticketID string) (*AnalysisSession, error)
}
