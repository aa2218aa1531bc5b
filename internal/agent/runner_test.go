package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codescope-ai/codescope/internal/core"
	"github.com/codescope-ai/codescope/internal/logging"
)

// shellProvider runs the prompt as a shell script, which lets tests control
// the child's stdout, stderr, exit code and runtime precisely.
func shellProvider(t *testing.T) Config {
	t.Helper()
	RegisterProvider(Provider{
		Name:              "shell-test",
		DefaultExecutable: "/bin/sh",
		AuthPhrases:       []string{"not logged in"},
		BuildArgs: func(_ OutputFormat, prompt string) []string {
			return []string{"-c", prompt}
		},
	})
	return Config{
		Provider:   "shell-test",
		WorkDir:    t.TempDir(),
		Timeout:    5 * time.Second,
		MaxRetries: 1,
		Format:     FormatStreamJSON,
	}
}

// collectSink gathers events across the runner's reader goroutines.
type collectSink struct {
	mu     sync.Mutex
	events []core.StructuredEvent
}

func (c *collectSink) add(ev core.StructuredEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collectSink) all() []core.StructuredEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.StructuredEvent(nil), c.events...)
}

func TestRunnerStreamsEvents(t *testing.T) {
	cfg := shellProvider(t)
	r, err := NewRunner(cfg, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	sink := &collectSink{}
	script := `echo '{"type":"message","role":"assistant","content":"found it"}'
echo 'Using tool: Read'`
	output, err := r.Run(context.Background(), "t1", script, sink.add)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.Contains(output, "found it") {
		t.Errorf("output = %q, missing assistant line", output)
	}

	events := sink.all()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != core.EventAssistant {
		t.Errorf("first event kind = %q, want assistant", events[0].Kind)
	}
	if events[1].Kind != core.EventToolUse {
		t.Errorf("second event kind = %q, want tool_use", events[1].Kind)
	}
}

func TestRunnerMergesDeltasInStream(t *testing.T) {
	cfg := shellProvider(t)
	cfg.Format = FormatStreamJSONPartial
	r, err := NewRunner(cfg, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	sink := &collectSink{}
	script := `echo '{"type":"message","role":"assistant","delta":true,"content":"Hel"}'
echo '{"type":"message","role":"assistant","delta":true,"content":"lo"}'
echo '{"type":"message","role":"assistant","content":" world"}'`
	if _, err := r.Run(context.Background(), "t1", script, sink.add); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 merged event", len(events))
	}
	if events[0].Content != "Hello world" {
		t.Errorf("Content = %q, want %q", events[0].Content, "Hello world")
	}
}

func TestRunnerEmptyOutput(t *testing.T) {
	cfg := shellProvider(t)
	r, err := NewRunner(cfg, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	output, err := r.Run(context.Background(), "t1", "exit 0", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if output != EmptyOutputMessage {
		t.Errorf("output = %q, want %q", output, EmptyOutputMessage)
	}
}

func TestRunnerTimeout(t *testing.T) {
	cfg := shellProvider(t)
	cfg.Timeout = 200 * time.Millisecond
	r, err := NewRunner(cfg, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Run(context.Background(), "t1", "sleep 5", nil)
	if core.GetCode(err) != core.CodeTimeout {
		t.Fatalf("error = %v, want timeout", err)
	}
	if !core.IsRetryable(err) {
		t.Error("timeout should be retryable")
	}
}

func TestRunnerRetriesTransientFailures(t *testing.T) {
	cfg := shellProvider(t)
	cfg.MaxRetries = 3
	r, err := NewRunner(cfg, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	marker := filepath.Join(t.TempDir(), "attempts")
	script := `echo x >> ` + marker + `; exit 1`
	_, err = r.Run(context.Background(), "t1", script, nil)
	if core.GetCode(err) != core.CodeProcessFailed {
		t.Fatalf("error = %v, want process failure", err)
	}

	data, readErr := os.ReadFile(marker)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if attempts := strings.Count(string(data), "x"); attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRunnerAuthFailureNotRetried(t *testing.T) {
	cfg := shellProvider(t)
	cfg.MaxRetries = 3
	r, err := NewRunner(cfg, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	marker := filepath.Join(t.TempDir(), "attempts")
	script := `echo x >> ` + marker + `; echo 'Error: not logged in' >&2; exit 1`
	_, err = r.Run(context.Background(), "t1", script, nil)
	if core.GetCode(err) != core.CodeAuthRequired {
		t.Fatalf("error = %v, want auth required", err)
	}

	data, readErr := os.ReadFile(marker)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if attempts := strings.Count(string(data), "x"); attempts != 1 {
		t.Errorf("attempts = %d, want 1 (auth failures must not retry)", attempts)
	}
}

func TestRunnerStderrBecomesErrorEvents(t *testing.T) {
	cfg := shellProvider(t)
	r, err := NewRunner(cfg, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	sink := &collectSink{}
	script := `echo 'something went sideways' >&2; exit 0`
	if _, err := r.Run(context.Background(), "t1", script, sink.add); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Kind != core.EventError {
		t.Errorf("Kind = %q, want error", events[0].Kind)
	}
	if events[0].Content != "something went sideways" {
		t.Errorf("Content = %q", events[0].Content)
	}
}

func TestRunnerBadWorkDirFailsFast(t *testing.T) {
	cfg := shellProvider(t)
	cfg.WorkDir = "/definitely/not/a/real/directory"
	r, err := NewRunner(cfg, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Run(context.Background(), "t1", "exit 0", nil)
	if core.GetCode(err) != core.CodeDirectoryDenied {
		t.Fatalf("error = %v, want directory not accessible", err)
	}
	if core.IsRetryable(err) {
		t.Error("directory errors must not be retryable")
	}
}

func TestRunnerMissingExecutable(t *testing.T) {
	cfg := shellProvider(t)
	cfg.Executable = "no-such-agent-cli-binary"
	r, err := NewRunner(cfg, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Run(context.Background(), "t1", "exit 0", nil)
	if core.GetCode(err) != core.CodeExecutableNotFound {
		t.Fatalf("error = %v, want executable not found", err)
	}
}

func TestRunnerCancellation(t *testing.T) {
	cfg := shellProvider(t)
	r, err := NewRunner(cfg, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = r.Run(ctx, "t1", "sleep 5", nil)
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancellation took %s, want prompt exit", elapsed)
	}
}

func TestLookupProviderDefault(t *testing.T) {
	p, err := LookupProvider("")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != DefaultProvider {
		t.Errorf("default provider = %q, want %q", p.Name, DefaultProvider)
	}

	if _, err := LookupProvider("nope"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestBuildArgsFormats(t *testing.T) {
	claude, err := LookupProvider("claude")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		format OutputFormat
		want   []string
	}{
		{FormatText, []string{"-p", "q"}},
		{FormatJSON, []string{"-p", "--output-format", "json", "q"}},
		{FormatStreamJSON, []string{"-p", "--output-format", "stream-json", "--verbose", "q"}},
		{FormatStreamJSONPartial, []string{"-p", "--output-format", "stream-json", "--verbose", "--stream-partial-output", "q"}},
	}

	for _, tt := range tests {
		got := claude.BuildArgs(tt.format, "q")
		if strings.Join(got, " ") != strings.Join(tt.want, " ") {
			t.Errorf("BuildArgs(%s) = %v, want %v", tt.format, got, tt.want)
		}
	}
}
