// Package msgstore buffers, broadcasts and persists structured events.
//
// Events flow in from running analyses and out to three consumers: a
// per-ticket in-memory ring for fast log reads, live subscribers (the SSE
// stream), and a batched writer that persists to the durable store off the
// hot path.
package msgstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codescope-ai/codescope/internal/core"
	"github.com/codescope-ai/codescope/internal/logging"
)

const (
	// MaxBufferSize bounds the per-ticket ring. Older events are evicted
	// first; they remain available through the durable store.
	MaxBufferSize = 1000

	// subscriberBuffer is each subscriber's channel capacity. Slow
	// subscribers lose their oldest pending events, never the newest.
	subscriberBuffer = 100
)

// Config tunes the batch writer.
type Config struct {
	// BatchSize triggers a flush when this many events are queued.
	BatchSize int

	// FlushInterval triggers a flush for partial batches.
	FlushInterval time.Duration

	// QueueSize bounds the writer's inbox.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	return c
}

// Store is the event hub. Safe for concurrent use.
type Store struct {
	cfg     Config
	persist core.EventStore
	log     *logging.Logger

	mu          sync.RWMutex
	buffers     map[string][]core.StructuredEvent
	subscribers map[int]chan core.StructuredEvent
	nextSubID   int
	closed      bool

	queue   chan core.StructuredEvent
	done    chan struct{}
	dropped atomic.Int64
}

// New creates a store and starts its batch writer. persist may be nil, in
// which case events live only in memory.
func New(persist core.EventStore, cfg Config, log *logging.Logger) *Store {
	s := &Store{
		cfg:         cfg.withDefaults(),
		persist:     persist,
		log:         log.WithComponent("msgstore"),
		buffers:     make(map[string][]core.StructuredEvent),
		subscribers: make(map[int]chan core.StructuredEvent),
		done:        make(chan struct{}),
	}
	s.queue = make(chan core.StructuredEvent, s.cfg.QueueSize)
	go s.writeLoop()
	return s
}

// Publish appends the event to its ticket's ring, queues it for persistence
// and fans it out to subscribers. Never blocks on slow consumers.
//
// All three hand-offs happen under the lock so concurrent publishers cannot
// interleave: the ring, the writer queue and every subscriber see events for
// a ticket in the same order. The channel operations are non-blocking, so
// holding the lock across them is cheap.
func (s *Store) Publish(ev core.StructuredEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	buf := append(s.buffers[ev.TicketID], ev)
	if len(buf) > MaxBufferSize {
		buf = buf[len(buf)-MaxBufferSize:]
	}
	s.buffers[ev.TicketID] = buf

	if s.persist != nil {
		select {
		case s.queue <- ev:
		default:
			s.dropped.Add(1)
			s.log.Warn("persistence queue full, dropping event", "ticket_id", ev.TicketID)
		}
	}

	for _, ch := range s.subscribers {
		s.send(ch, ev)
	}
}

// send delivers with drop-oldest backpressure.
func (s *Store) send(ch chan core.StructuredEvent, ev core.StructuredEvent) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Subscribe registers a live consumer of every published event. The returned
// cancel function must be called to release the subscription.
func (s *Store) Subscribe() (<-chan core.StructuredEvent, func()) {
	ch := make(chan core.StructuredEvent, subscriberBuffer)

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Logs returns one page of a ticket's events plus the total count and
// whether more pages follow. The in-memory ring answers when it holds the
// ticket's events; otherwise the durable store does.
func (s *Store) Logs(ctx context.Context, ticketID string, limit, offset int) ([]core.StructuredEvent, int, bool, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	buf := s.buffers[ticketID]
	snapshot := append([]core.StructuredEvent(nil), buf...)
	s.mu.RUnlock()

	if len(snapshot) > 0 {
		total := len(snapshot)
		page := paginate(snapshot, limit, offset)
		return page, total, offset+len(page) < total, nil
	}

	if s.persist == nil {
		return nil, 0, false, nil
	}
	total, err := s.persist.CountEvents(ctx, ticketID)
	if err != nil {
		return nil, 0, false, err
	}
	events, err := s.persist.QueryEvents(ctx, ticketID, limit, offset)
	if err != nil {
		return nil, 0, false, err
	}

	// A cold hit means the ring lost this ticket, typically after a restart.
	// Refill it so subsequent reads stay on the fast path.
	if total > 0 {
		if werr := s.Warm(ctx, ticketID); werr != nil {
			s.log.Warn("ring warm after cold read failed", "ticket_id", ticketID, "error", werr)
		}
	}
	return events, total, offset+len(events) < total, nil
}

// Warm fills the ticket's ring from the durable store, newest events last.
// Used after restart so log reads stay on the fast path.
func (s *Store) Warm(ctx context.Context, ticketID string) error {
	if s.persist == nil {
		return nil
	}
	total, err := s.persist.CountEvents(ctx, ticketID)
	if err != nil {
		return err
	}
	offset := 0
	if total > MaxBufferSize {
		offset = total - MaxBufferSize
	}
	events, err := s.persist.QueryEvents(ctx, ticketID, MaxBufferSize, offset)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.buffers[ticketID] = events
	s.mu.Unlock()
	return nil
}

// Stats reports per-ticket buffer sizes and the dropped-event count.
func (s *Store) Stats() (map[string]int, int64) {
	s.mu.RLock()
	sizes := make(map[string]int, len(s.buffers))
	for id, buf := range s.buffers {
		sizes[id] = len(buf)
	}
	s.mu.RUnlock()
	return sizes, s.dropped.Load()
}

// Clear removes a ticket's events from the ring and the durable store.
func (s *Store) Clear(ctx context.Context, ticketID string) error {
	s.mu.Lock()
	delete(s.buffers, ticketID)
	s.mu.Unlock()

	if s.persist == nil {
		return nil
	}
	return s.persist.ClearEvents(ctx, ticketID)
}

// Close stops the writer after flushing queued events and closes all
// subscriber channels.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.mu.Unlock()

	close(s.queue)
	<-s.done
}

// writeLoop batches queued events and flushes on size or interval. A failed
// flush is logged and the batch discarded; the ring still holds the events.
func (s *Store) writeLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]core.StructuredEvent, 0, s.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.persist.SaveEventsBatch(ctx, batch); err != nil {
			s.log.Error("event batch persist failed", "count", len(batch), "error", err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-s.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

func paginate(events []core.StructuredEvent, limit, offset int) []core.StructuredEvent {
	if offset >= len(events) {
		return nil
	}
	end := offset + limit
	if end > len(events) {
		end = len(events)
	}
	return append([]core.StructuredEvent(nil), events[offset:end]...)
}
