package normalize

import (
	"testing"

	"github.com/codescope-ai/codescope/internal/core"
)

func TestDeltaMergerMergesFragments(t *testing.T) {
	m := NewDeltaMerger(New(), "ticket-1")

	var events []core.StructuredEvent
	lines := []string{
		`{"type":"message","role":"assistant","delta":true,"content":"Hel"}`,
		`{"type":"message","role":"assistant","delta":true,"content":"lo"}`,
		`{"type":"message","role":"assistant","content":" world"}`,
	}
	for _, line := range lines {
		events = append(events, m.Feed(line)...)
	}

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Kind != core.EventAssistant {
		t.Errorf("Kind = %q, want assistant", events[0].Kind)
	}
	if events[0].Content != "Hello world" {
		t.Errorf("Content = %q, want %q", events[0].Content, "Hello world")
	}
}

func TestDeltaMergerKeepsLastTimestamp(t *testing.T) {
	m := NewDeltaMerger(New(), "t")

	m.Feed(`{"type":"message","role":"assistant","delta":true,"content":"a","timestamp":"2026-01-01T00:00:01Z"}`)
	m.Feed(`{"type":"message","role":"assistant","delta":true,"content":"b","timestamp":"2026-01-01T00:00:02Z"}`)
	events := m.Feed(`{"type":"message","role":"assistant","content":"c"}`)

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if got := events[0].Metadata["timestamp"]; got != "2026-01-01T00:00:02Z" {
		t.Errorf("timestamp = %q, want last fragment's", got)
	}
}

func TestDeltaMergerPassThrough(t *testing.T) {
	m := NewDeltaMerger(New(), "t")

	tests := []struct {
		name string
		line string
		kind core.EventKind
	}{
		{"plain text", "ERROR: boom", core.EventError},
		{"tool use json", `{"type":"tool_use","tool_name":"Read"}`, core.EventToolUse},
		{"complete assistant message", `{"type":"message","role":"assistant","content":"done thinking"}`, core.EventAssistant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := m.Feed(tt.line)
			if len(events) != 1 {
				t.Fatalf("got %d events, want 1", len(events))
			}
			if events[0].Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", events[0].Kind, tt.kind)
			}
		})
	}
}

func TestDeltaMergerInterleavedPassThrough(t *testing.T) {
	m := NewDeltaMerger(New(), "t")

	if got := m.Feed(`{"type":"message","role":"assistant","delta":true,"content":"part"}`); len(got) != 0 {
		t.Fatalf("fragment produced %d events, want 0", len(got))
	}
	// A tool line arriving mid-sequence still passes straight through.
	got := m.Feed(`{"type":"tool_use","tool_name":"Grep"}`)
	if len(got) != 1 || got[0].Kind != core.EventToolUse {
		t.Fatalf("unexpected events for interleaved tool line: %+v", got)
	}

	events := m.Feed(`{"type":"message","role":"assistant","content":"ial"}`)
	if len(events) != 1 || events[0].Content != "partial" {
		t.Fatalf("merged = %+v, want one event with content %q", events, "partial")
	}
}

func TestDeltaMergerFlush(t *testing.T) {
	m := NewDeltaMerger(New(), "t")

	m.Feed(`{"type":"message","role":"assistant","delta":true,"content":"trunc"}`)
	m.Feed(`{"type":"message","role":"assistant","delta":true,"content":"ated"}`)

	events := m.Flush()
	if len(events) != 1 {
		t.Fatalf("Flush() produced %d events, want 1", len(events))
	}
	if events[0].Content != "truncated" {
		t.Errorf("Content = %q, want %q", events[0].Content, "truncated")
	}
	if events[0].Kind != core.EventAssistant {
		t.Errorf("Kind = %q, want assistant", events[0].Kind)
	}

	// Flush is idempotent once drained.
	if again := m.Flush(); len(again) != 0 {
		t.Errorf("second Flush() produced %d events, want 0", len(again))
	}
}

func TestDeltaMergerFreshStatePerRun(t *testing.T) {
	m := NewDeltaMerger(New(), "t")
	m.Feed(`{"type":"message","role":"assistant","delta":true,"content":"leftover"}`)
	m.Flush()

	m2 := NewDeltaMerger(New(), "t")
	events := m2.Feed(`{"type":"message","role":"assistant","content":"clean"}`)
	if len(events) != 1 || events[0].Content != "clean" {
		t.Fatalf("new run contaminated by old state: %+v", events)
	}
}
