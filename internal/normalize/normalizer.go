// Package normalize turns raw agent CLI output lines into structured events.
//
// Agent CLIs emit a mix of JSON protocol lines (stream-json output) and plain
// text. The normalizer decodes JSON lines by their type tag first and falls
// back to keyword classification for plain text, so a line's kind is decided
// exactly once.
package normalize

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/codescope-ai/codescope/internal/core"
)

var (
	ansiPattern       = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
	whitespacePattern = regexp.MustCompile(`\s+`)

	errorPattern      = regexp.MustCompile(`\b(ERROR|WARN|WARNING|CRITICAL|FATAL)\b(?::\s*)?(.*)`)
	toolPattern       = regexp.MustCompile(`(?:Using tool|Tool|Executing):\s*(\w+)`)
	filePathPattern   = regexp.MustCompile(`(?:Reading|Analyzing|Processing|File:)\s+(\S+\.[a-zA-Z]{1,4})\b`)
	lineNumberPattern = regexp.MustCompile(`(?i)\blines?\s*(\d+)`)
	errorCodePattern  = regexp.MustCompile(`(?:E|ERR)[-_]?\d{3,4}`)
	percentPattern    = regexp.MustCompile(`(\d+)%`)
	durationPattern   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(ms|seconds?|minutes?|s|m)\b`)
	timestampPattern  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}`)
	completionPattern = regexp.MustCompile(`(?i)\b(completed|finished|done|success)\b`)
)

// Case-insensitive containment indicators for plain-text lines that carry no
// explicit token prefix. Checked after the token patterns, same priority.
var (
	errorIndicators = []string{"error", "failed", "exception"}
	toolIndicators  = []string{"reading file", "analyzing", "processing", "searching", "executing"}

	assistantStarts   = []string{"analysis:", "found:", "result:", "summary:"}
	assistantContains = []string{"explanation:", "business flow", "test case"}
)

// Analysis vocabulary extracted as metadata on assistant lines.
var analysisTopics = []string{
	"business flow",
	"test case",
	"code review",
	"security",
	"performance",
}

// Normalizer classifies raw output lines into structured events.
// It is stateless and safe for concurrent use.
type Normalizer struct{}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize converts one raw output line into a structured event for the
// given ticket. Classification never fails: anything unrecognized becomes a
// system event.
func (n *Normalizer) Normalize(ticketID, raw string) core.StructuredEvent {
	trimmed := strings.TrimSpace(raw)
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		if ev, ok := n.normalizeJSON(ticketID, trimmed); ok {
			return ev.WithRaw(raw)
		}
	}
	return n.normalizeText(ticketID, raw).WithRaw(raw)
}

// jsonLine is the tagged union emitted by agent CLIs in stream-json mode.
// Only the fields that drive classification and metadata are decoded; Error
// is kept raw because providers disagree on its shape.
type jsonLine struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	Role      string          `json:"role"`
	Error     json.RawMessage `json:"error"`
	Status    string          `json:"status"`
	ToolName  string          `json:"tool_name"`
	ToolID    string          `json:"tool_id"`
	Name      string          `json:"name"`
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	SessionID string          `json:"session_id"`
	Model     string          `json:"model"`
}

func (n *Normalizer) normalizeJSON(ticketID, line string) (core.StructuredEvent, bool) {
	var msg jsonLine
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return core.StructuredEvent{}, false
	}

	md := make(map[string]string)
	if msg.ToolName != "" {
		md["tool_name"] = msg.ToolName
	} else if msg.Name != "" && msg.Type == "tool_use" {
		md["tool_name"] = msg.Name
	}
	if msg.ToolID != "" {
		md["tool_id"] = msg.ToolID
	} else if msg.ID != "" && msg.Type == "tool_use" {
		md["tool_id"] = msg.ID
	}
	if msg.Timestamp != "" {
		md["timestamp"] = msg.Timestamp
	}
	if msg.SessionID != "" {
		md["session_id"] = msg.SessionID
	}
	if msg.Model != "" {
		md["model"] = msg.Model
	}

	kind := core.EventSystem
	switch {
	case len(msg.Error) > 0 || msg.Status == "error":
		kind = core.EventError
	case msg.Type == "message" && msg.Role == "assistant":
		kind = core.EventAssistant
	case msg.Type == "assistant":
		kind = core.EventAssistant
	case msg.Type == "tool_use":
		kind = core.EventToolUse
	case msg.Type == "result":
		kind = core.EventResult
	case msg.Type == "tool_result", msg.Type == "system", msg.Type == "init":
		if msg.Subtype != "" {
			md["subtype"] = msg.Subtype
		}
	case msg.Type == "message" && msg.Role == "user":
		md["role"] = "user"
	}

	// The content of a JSON line is the line itself. Consumers that need the
	// decoded payload re-parse it; flattening here would lose structure.
	return core.NewStructuredEvent(ticketID, kind, line).WithMetadata(md), true
}

func (n *Normalizer) normalizeText(ticketID, raw string) core.StructuredEvent {
	cleaned := Clean(raw)
	kind := classifyText(cleaned)
	md := extractTextMetadata(cleaned, kind)

	content := cleaned
	switch kind {
	case core.EventError:
		content = stripPrefixes(cleaned, "ERROR:", "WARN:", "WARNING:", "CRITICAL:", "FATAL:")
	case core.EventToolUse:
		content = stripPrefixes(cleaned, "Using tool:", "Tool:", "Executing:")
	}
	return core.NewStructuredEvent(ticketID, kind, content).WithMetadata(md)
}

// classifyText decides a plain-text line's kind. Priority is fixed: errors
// beat tool mentions beat assistant phrasing. Each class matches on its
// token pattern or on case-insensitive containment of its indicator words.
func classifyText(s string) core.EventKind {
	lower := strings.ToLower(s)
	switch {
	case errorPattern.MatchString(s) || containsAny(lower, errorIndicators):
		return core.EventError
	case toolPattern.MatchString(s) || containsAny(lower, toolIndicators):
		return core.EventToolUse
	case startsWithAny(lower, assistantStarts) || containsAny(lower, assistantContains):
		return core.EventAssistant
	default:
		return core.EventSystem
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func startsWithAny(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Clean strips ANSI escape sequences and collapses runs of whitespace.
func Clean(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func stripPrefixes(s string, prefixes ...string) string {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return strings.TrimSpace(strings.TrimPrefix(s, p))
		}
	}
	return s
}

// extractTextMetadata pulls out the metadata a given kind carries. Keys are
// scoped per kind so an error line never advertises progress and a system
// line never advertises a file path.
func extractTextMetadata(s string, kind core.EventKind) map[string]string {
	md := make(map[string]string)

	switch kind {
	case core.EventToolUse:
		if m := filePathPattern.FindStringSubmatch(s); len(m) > 1 {
			md["file_path"] = m[1]
			if i := strings.LastIndexByte(m[1], '.'); i >= 0 {
				md["file_extension"] = m[1][i+1:]
			}
		}
		if m := lineNumberPattern.FindStringSubmatch(s); len(m) > 1 {
			md["line_number"] = m[1]
		}
		if m := toolPattern.FindStringSubmatch(s); len(m) > 1 {
			md["tool_name"] = m[1]
		}

	case core.EventError:
		if m := errorPattern.FindStringSubmatch(s); len(m) > 2 {
			md["severity"] = strings.ToLower(m[1])
			if msg := strings.TrimSpace(m[2]); msg != "" {
				md["error_message"] = msg
			}
		}
		if m := errorCodePattern.FindString(s); m != "" {
			md["error_code"] = m
		}

	case core.EventAssistant:
		lower := strings.ToLower(s)
		for _, topic := range analysisTopics {
			if strings.Contains(lower, topic) {
				md["analysis_type"] = topic
				break
			}
		}

	default:
		if m := percentPattern.FindStringSubmatch(s); len(m) > 1 {
			md["progress"] = m[1] + "%"
		}
		if m := durationPattern.FindStringSubmatch(s); len(m) > 2 {
			md["duration"] = m[1] + m[2]
		}
		if completionPattern.MatchString(s) {
			md["status"] = "completed"
		}
	}

	if m := timestampPattern.FindString(s); m != "" {
		md["timestamp"] = m
	}
	return md
}
