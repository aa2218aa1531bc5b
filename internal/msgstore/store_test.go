package msgstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codescope-ai/codescope/internal/core"
	"github.com/codescope-ai/codescope/internal/logging"
)

// memEventStore records persistence calls for batch writer assertions.
type memEventStore struct {
	mu      sync.Mutex
	events  []core.StructuredEvent
	batches [][]core.StructuredEvent
}

func (m *memEventStore) SaveEvent(_ context.Context, ev core.StructuredEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memEventStore) SaveEventsBatch(_ context.Context, evs []core.StructuredEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := append([]core.StructuredEvent(nil), evs...)
	m.batches = append(m.batches, batch)
	m.events = append(m.events, batch...)
	return nil
}

func (m *memEventStore) QueryEvents(_ context.Context, ticketID string, limit, offset int) ([]core.StructuredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var filtered []core.StructuredEvent
	for _, ev := range m.events {
		if ev.TicketID == ticketID {
			filtered = append(filtered, ev)
		}
	}
	if offset >= len(filtered) {
		return nil, nil
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], nil
}

func (m *memEventStore) CountEvents(_ context.Context, ticketID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.TicketID == ticketID {
			n++
		}
	}
	return n, nil
}

func (m *memEventStore) ClearEvents(_ context.Context, ticketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []core.StructuredEvent
	for _, ev := range m.events {
		if ev.TicketID != ticketID {
			kept = append(kept, ev)
		}
	}
	m.events = kept
	return nil
}

func (m *memEventStore) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func (m *memEventStore) persisted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *memEventStore) contents(ticketID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, ev := range m.events {
		if ev.TicketID == ticketID {
			out = append(out, ev.Content)
		}
	}
	return out
}

func event(ticketID, content string) core.StructuredEvent {
	return core.NewStructuredEvent(ticketID, core.EventSystem, content)
}

func TestBufferEvictsOldest(t *testing.T) {
	s := New(nil, Config{}, logging.NewNop())
	defer s.Close()

	for i := 0; i < 1500; i++ {
		s.Publish(event("t1", fmt.Sprintf("event-%d", i)))
	}

	events, total, hasMore, err := s.Logs(context.Background(), "t1", 1000, 0)
	require.NoError(t, err)
	require.Equal(t, MaxBufferSize, total)
	require.False(t, hasMore)
	require.Len(t, events, MaxBufferSize)

	// Oldest 500 evicted: the ring starts at event-500.
	require.Equal(t, "event-500", events[0].Content)
	require.Equal(t, "event-1499", events[len(events)-1].Content)
}

func TestSubscribeReceivesPublished(t *testing.T) {
	s := New(nil, Config{}, logging.NewNop())
	defer s.Close()

	ch, cancel := s.Subscribe()
	defer cancel()

	s.Publish(event("t1", "hello"))

	select {
	case ev := <-ch:
		if ev.Content != "hello" {
			t.Errorf("Content = %q", ev.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	s := New(nil, Config{}, logging.NewNop())
	defer s.Close()

	ch, cancel := s.Subscribe()
	defer cancel()

	// Overflow the subscriber channel without reading.
	total := subscriberBuffer + 50
	for i := 0; i < total; i++ {
		s.Publish(event("t1", fmt.Sprintf("event-%d", i)))
	}

	// The newest event must still be delivered; the oldest were dropped.
	var last core.StructuredEvent
	for i := 0; i < subscriberBuffer; i++ {
		select {
		case last = <-ch:
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d reads", i)
		}
	}
	if last.Content != fmt.Sprintf("event-%d", total-1) {
		t.Errorf("last = %q, want newest event", last.Content)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := New(nil, Config{}, logging.NewNop())
	defer s.Close()

	ch, cancel := s.Subscribe()
	cancel()

	s.Publish(event("t1", "after-cancel"))

	// Channel is closed on cancel; a receive must not yield the event.
	select {
	case ev, ok := <-ch:
		if ok {
			t.Errorf("received %q after unsubscribe", ev.Content)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("channel should be closed")
	}
}

func TestBatchWriterFlushesOnSize(t *testing.T) {
	persist := &memEventStore{}
	s := New(persist, Config{BatchSize: 10, FlushInterval: time.Hour}, logging.NewNop())
	defer s.Close()

	for i := 0; i < 10; i++ {
		s.Publish(event("t1", fmt.Sprintf("e%d", i)))
	}

	require.Eventually(t, func() bool {
		return persist.persisted() == 10
	}, 2*time.Second, 10*time.Millisecond, "batch writer should flush on reaching batch size")
	require.Equal(t, 1, persist.batchCount())
}

func TestBatchWriterFlushesOnInterval(t *testing.T) {
	persist := &memEventStore{}
	s := New(persist, Config{BatchSize: 1000, FlushInterval: 50 * time.Millisecond}, logging.NewNop())
	defer s.Close()

	s.Publish(event("t1", "lonely"))

	require.Eventually(t, func() bool {
		return persist.persisted() == 1
	}, 2*time.Second, 10*time.Millisecond, "partial batch should flush on interval")
}

func TestCloseFlushesRemaining(t *testing.T) {
	persist := &memEventStore{}
	s := New(persist, Config{BatchSize: 1000, FlushInterval: time.Hour}, logging.NewNop())

	for i := 0; i < 7; i++ {
		s.Publish(event("t1", fmt.Sprintf("e%d", i)))
	}
	s.Close()

	require.Equal(t, 7, persist.persisted())
}

func TestConcurrentPublishOrderAgrees(t *testing.T) {
	persist := &memEventStore{}
	s := New(persist, Config{BatchSize: 25, FlushInterval: 10 * time.Millisecond}, logging.NewNop())

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Publish(event("t1", fmt.Sprintf("g%d-%d", g, i)))
			}
		}(g)
	}
	wg.Wait()

	ring, total, _, err := s.Logs(context.Background(), "t1", 1000, 0)
	require.NoError(t, err)
	require.Equal(t, 200, total)

	s.Close()
	require.Equal(t, 200, persist.persisted())

	// Whatever interleaving the publishers produced, the durable store must
	// record it in the same order as the ring.
	ringContents := make([]string, len(ring))
	for i, ev := range ring {
		ringContents[i] = ev.Content
	}
	require.Equal(t, ringContents, persist.contents("t1"))
}

func TestLogsFallsBackToStore(t *testing.T) {
	persist := &memEventStore{}
	for i := 0; i < 250; i++ {
		persist.SaveEvent(context.Background(), event("cold", fmt.Sprintf("e%d", i)))
	}

	s := New(persist, Config{}, logging.NewNop())
	defer s.Close()

	// Nothing buffered for this ticket, so the durable store answers.
	events, total, hasMore, err := s.Logs(context.Background(), "cold", 100, 200)
	require.NoError(t, err)
	require.Equal(t, 250, total)
	require.Len(t, events, 50)
	require.False(t, hasMore)

	events, _, hasMore, err = s.Logs(context.Background(), "cold", 100, 0)
	require.NoError(t, err)
	require.Len(t, events, 100)
	require.True(t, hasMore)
}

func TestColdReadWarmsBuffer(t *testing.T) {
	persist := &memEventStore{}
	for i := 0; i < 250; i++ {
		persist.SaveEvent(context.Background(), event("cold", fmt.Sprintf("e%d", i)))
	}

	s := New(persist, Config{}, logging.NewNop())
	defer s.Close()

	sizes, _ := s.Stats()
	require.Zero(t, sizes["cold"])

	// The first read goes to the durable store and refills the ring.
	_, total, _, err := s.Logs(context.Background(), "cold", 50, 0)
	require.NoError(t, err)
	require.Equal(t, 250, total)

	sizes, _ = s.Stats()
	require.Equal(t, 250, sizes["cold"])
}

func TestWarmFillsBuffer(t *testing.T) {
	persist := &memEventStore{}
	for i := 0; i < 1200; i++ {
		persist.SaveEvent(context.Background(), event("t1", fmt.Sprintf("e%d", i)))
	}

	s := New(persist, Config{}, logging.NewNop())
	defer s.Close()

	require.NoError(t, s.Warm(context.Background(), "t1"))

	sizes, _ := s.Stats()
	require.Equal(t, MaxBufferSize, sizes["t1"])

	// Warmed ring holds the newest events.
	events, _, _, err := s.Logs(context.Background(), "t1", 1, 0)
	require.NoError(t, err)
	require.Equal(t, "e200", events[0].Content)
}

func TestClearRemovesEverywhere(t *testing.T) {
	persist := &memEventStore{}
	s := New(persist, Config{BatchSize: 1, FlushInterval: 10 * time.Millisecond}, logging.NewNop())
	defer s.Close()

	s.Publish(event("t1", "x"))
	require.Eventually(t, func() bool { return persist.persisted() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Clear(context.Background(), "t1"))

	events, total, _, err := s.Logs(context.Background(), "t1", 100, 0)
	require.NoError(t, err)
	require.Empty(t, events)
	require.Zero(t, total)
}

func TestLimitClamping(t *testing.T) {
	s := New(nil, Config{}, logging.NewNop())
	defer s.Close()

	for i := 0; i < 10; i++ {
		s.Publish(event("t1", fmt.Sprintf("e%d", i)))
	}

	// Zero and negative limits fall back to the default page size.
	events, _, _, err := s.Logs(context.Background(), "t1", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 10)

	events, _, _, err = s.Logs(context.Background(), "t1", -5, 0)
	require.NoError(t, err)
	require.Len(t, events, 10)
}
