package normalize

import (
	"encoding/json"
	"strings"

	"github.com/codescope-ai/codescope/internal/core"
)

// deltaFragment is the shape of a partial assistant message in
// stream-partial output. Delta fragments carry a slice of the message text;
// the final fragment has delta absent or false.
type deltaFragment struct {
	Type      string `json:"type"`
	Role      string `json:"role"`
	Delta     bool   `json:"delta"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// DeltaMerger accumulates streamed assistant message fragments and emits a
// single merged event when the final fragment arrives. Non-delta lines pass
// through untouched. One merger serves exactly one analysis run; it is not
// safe for concurrent use.
type DeltaMerger struct {
	normalizer *Normalizer
	ticketID   string
	buffer     strings.Builder
	lastStamp  string
	buffering  bool
}

// NewDeltaMerger creates a merger for one analysis run.
func NewDeltaMerger(n *Normalizer, ticketID string) *DeltaMerger {
	return &DeltaMerger{normalizer: n, ticketID: ticketID}
}

// Feed processes one raw line and returns the events it produces: zero while
// accumulating fragments, one for a pass-through or merged line.
func (m *DeltaMerger) Feed(raw string) []core.StructuredEvent {
	frag, ok := m.parseFragment(raw)
	if !ok {
		return []core.StructuredEvent{m.normalizer.Normalize(m.ticketID, raw)}
	}

	if frag.Delta {
		m.buffer.WriteString(frag.Content)
		if frag.Timestamp != "" {
			m.lastStamp = frag.Timestamp
		}
		m.buffering = true
		return nil
	}

	// Final fragment: merge everything buffered with the closing content
	// into one synthesized message and normalize that.
	merged := m.buffer.String() + frag.Content
	stamp := frag.Timestamp
	if stamp == "" {
		stamp = m.lastStamp
	}
	m.reset()
	return []core.StructuredEvent{m.synthesize(merged, stamp)}
}

// Flush emits any buffered content as a final merged event. Called when the
// stream ends without a closing fragment.
func (m *DeltaMerger) Flush() []core.StructuredEvent {
	if !m.buffering {
		return nil
	}
	merged := m.buffer.String()
	stamp := m.lastStamp
	m.reset()
	if merged == "" {
		return nil
	}
	return []core.StructuredEvent{m.synthesize(merged, stamp)}
}

func (m *DeltaMerger) parseFragment(raw string) (deltaFragment, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return deltaFragment{}, false
	}
	var frag deltaFragment
	if err := json.Unmarshal([]byte(trimmed), &frag); err != nil {
		return deltaFragment{}, false
	}
	if frag.Type != "message" || frag.Role != "assistant" {
		return deltaFragment{}, false
	}
	// Only lines that participate in a delta sequence are intercepted:
	// either a fragment, or the closing line of an open sequence.
	if !frag.Delta && !m.buffering {
		return deltaFragment{}, false
	}
	return frag, true
}

// synthesize builds the merged assistant event directly. There is no single
// original line to preserve, so the content is the reassembled message text
// and the raw payload is a reconstruction of the closing line.
func (m *DeltaMerger) synthesize(content, timestamp string) core.StructuredEvent {
	md := make(map[string]string)
	if timestamp != "" {
		md["timestamp"] = timestamp
	}
	ev := core.NewStructuredEvent(m.ticketID, core.EventAssistant, content).WithMetadata(md)
	if encoded, err := json.Marshal(map[string]any{
		"type":    "message",
		"role":    "assistant",
		"content": content,
	}); err == nil {
		ev = ev.WithRaw(string(encoded))
	}
	return ev
}

func (m *DeltaMerger) reset() {
	m.buffer.Reset()
	m.lastStamp = ""
	m.buffering = false
}
