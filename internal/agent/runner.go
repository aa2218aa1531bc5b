package agent

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codescope-ai/codescope/internal/core"
	"github.com/codescope-ai/codescope/internal/logging"
	"github.com/codescope-ai/codescope/internal/normalize"
)

// Scanner buffer sizing for long agent output lines.
const (
	initialScanBuffer = 64 * 1024
	maxScanBuffer     = 1024 * 1024
)

// EmptyOutputMessage is returned when the CLI exits cleanly without output.
const EmptyOutputMessage = "Analysis completed but no output generated"

// Runner executes one provider's CLI with validation, streaming and retry.
// A single Runner is safe for concurrent use; per-run state lives in the
// delta merger created for each attempt.
type Runner struct {
	cfg        Config
	provider   Provider
	normalizer *normalize.Normalizer
	log        *logging.Logger
}

// NewRunner resolves the provider and applies config defaults.
func NewRunner(cfg Config, log *logging.Logger) (*Runner, error) {
	provider, err := LookupProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:        cfg.withDefaults(provider),
		provider:   provider,
		normalizer: normalize.New(),
		log:        log.WithAgent(provider.Name),
	}, nil
}

// Run executes the analysis prompt, emitting structured events to sink as
// output arrives, and returns the joined stdout text. Environment and
// executable problems fail fast; transient failures are retried up to the
// configured attempt count with the last error returned.
func (r *Runner) Run(ctx context.Context, ticketID, prompt string, sink core.EventSink) (string, error) {
	if err := r.validateWorkDir(); err != nil {
		return "", err
	}
	if err := r.validateExecutable(); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		output, err := r.runOnce(ctx, ticketID, prompt, sink)
		if err == nil {
			return output, nil
		}
		lastErr = err
		if !core.IsRetryable(err) {
			return "", err
		}
		r.log.Warn("analysis attempt failed",
			"attempt", attempt,
			"max_retries", r.cfg.MaxRetries,
			"error", err)
		if attempt < r.cfg.MaxRetries {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", lastErr
}

func (r *Runner) validateWorkDir() error {
	info, err := os.Stat(r.cfg.WorkDir)
	if err != nil || !info.IsDir() {
		return core.ErrDirectoryNotAccessible(r.cfg.WorkDir)
	}
	return nil
}

func (r *Runner) validateExecutable() error {
	exe := r.cfg.Executable
	if strings.ContainsRune(exe, os.PathSeparator) {
		if _, err := os.Stat(exe); err != nil {
			return core.ErrExecutableNotFound(exe, r.provider.InstallHint)
		}
		return nil
	}
	if _, err := exec.LookPath(exe); err != nil {
		return core.ErrExecutableNotFound(exe, r.provider.InstallHint)
	}
	return nil
}

func (r *Runner) runOnce(parent context.Context, ticketID, prompt string, sink core.EventSink) (string, error) {
	ctx, cancel := context.WithTimeout(parent, r.cfg.Timeout)
	defer cancel()

	args := r.provider.BuildArgs(r.cfg.Format, prompt)
	cmd := exec.CommandContext(ctx, r.cfg.Executable, args...)
	cmd.Dir = r.cfg.WorkDir
	cmd.Env = os.Environ()
	if r.cfg.APIKey != "" && r.provider.APIKeyEnv != "" {
		cmd.Env = append(cmd.Env, r.provider.APIKeyEnv+"="+r.cfg.APIKey)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", core.ErrSpawnFailed(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", core.ErrSpawnFailed(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", core.ErrSpawnFailed(err)
	}

	if err := cmd.Start(); err != nil {
		return "", core.ErrSpawnFailed(err)
	}
	// Close stdin right away so CLIs waiting for EOF proceed.
	stdin.Close()

	merger := normalize.NewDeltaMerger(r.normalizer, ticketID)

	var (
		outMu    sync.Mutex
		outLines []string
		errLines []string
		authFlag bool
	)

	var g errgroup.Group
	g.Go(func() error {
		return scanLines(stdout, func(line string) {
			outMu.Lock()
			outLines = append(outLines, line)
			outMu.Unlock()
			if sink != nil {
				for _, ev := range merger.Feed(line) {
					sink(ev)
				}
			}
		})
	})
	g.Go(func() error {
		return scanLines(stderr, func(line string) {
			outMu.Lock()
			errLines = append(errLines, line)
			if r.provider.IsAuthFailure(line) {
				authFlag = true
			}
			outMu.Unlock()
			if sink != nil {
				sink(r.normalizer.Normalize(ticketID, "ERROR: "+line))
			}
		})
	})

	readErr := g.Wait()
	waitErr := cmd.Wait()

	if sink != nil {
		for _, ev := range merger.Flush() {
			sink(ev)
		}
	}

	if ctx.Err() == context.DeadlineExceeded {
		return "", core.ErrTimeout(r.cfg.Timeout)
	}
	if parent.Err() == context.Canceled {
		return "", parent.Err()
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			outMu.Lock()
			stderrText := strings.Join(errLines, "\n")
			auth := authFlag
			outMu.Unlock()
			if auth {
				return "", core.ErrAuthRequired("agent CLI is not authenticated: " + firstLine(stderrText))
			}
			return "", core.ErrProcessFailed(exitErr.ExitCode()).WithDetail("stderr", stderrText)
		}
		return "", core.ErrSpawnFailed(waitErr)
	}
	if readErr != nil {
		return "", core.ErrSpawnFailed(readErr)
	}

	outMu.Lock()
	output := strings.Join(outLines, "\n")
	outMu.Unlock()
	if strings.TrimSpace(output) == "" {
		output = EmptyOutputMessage
	}
	return output, nil
}

// scanLines reads a pipe line by line with an enlarged buffer. Pipe closure
// on process exit ends the scan without error.
func scanLines(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialScanBuffer), maxScanBuffer)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
