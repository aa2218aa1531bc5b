package agent

import (
	"sort"
	"strings"
	"sync"

	"github.com/codescope-ai/codescope/internal/core"
)

// DefaultProvider is used when config names no provider.
const DefaultProvider = "gemini"

// Provider describes one supported analysis CLI: how to invoke it and how to
// recognize its authentication failures.
type Provider struct {
	// Name is the registry key.
	Name string

	// DefaultExecutable is the binary probed on PATH when config does not
	// pin a path.
	DefaultExecutable string

	// APIKeyEnv is the environment variable the CLI reads its key from.
	APIKeyEnv string

	// InstallHint tells the operator how to install a missing CLI.
	InstallHint string

	// AuthPhrases are stderr substrings that indicate the CLI is not
	// authenticated rather than broken.
	AuthPhrases []string

	// BuildArgs assembles the argument list for one run. The prompt is
	// always the final argument.
	BuildArgs func(format OutputFormat, prompt string) []string
}

// IsAuthFailure reports whether stderr output looks like a login problem.
func (p Provider) IsAuthFailure(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, phrase := range p.AuthPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Provider)
)

// RegisterProvider adds a provider to the registry. Later registrations
// under the same name win, which lets tests swap in fakes.
func RegisterProvider(p Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.Name] = p
}

// LookupProvider resolves a provider by name. Empty name resolves to the
// default provider.
func LookupProvider(name string) (Provider, error) {
	if name == "" {
		name = DefaultProvider
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	if !ok {
		return Provider{}, core.ErrValidation("UNKNOWN_PROVIDER",
			"unknown agent provider: "+name+" (available: "+strings.Join(providerNamesLocked(), ", ")+")")
	}
	return p, nil
}

// ProviderNames lists registered providers, sorted.
func ProviderNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return providerNamesLocked()
}

func providerNamesLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func streamFlags(format OutputFormat) []string {
	switch format {
	case FormatJSON:
		return []string{"--output-format", "json"}
	case FormatStreamJSON:
		return []string{"--output-format", "stream-json", "--verbose"}
	case FormatStreamJSONPartial:
		return []string{"--output-format", "stream-json", "--verbose", "--stream-partial-output"}
	default:
		return nil
	}
}

func init() {
	RegisterProvider(Provider{
		Name:              "claude",
		DefaultExecutable: "claude",
		APIKeyEnv:         "ANTHROPIC_API_KEY",
		InstallHint:       "install with: npm install -g @anthropic-ai/claude-code",
		AuthPhrases:       []string{"not logged in", "authentication", "login required"},
		BuildArgs: func(format OutputFormat, prompt string) []string {
			args := []string{"-p"}
			args = append(args, streamFlags(format)...)
			return append(args, prompt)
		},
	})

	RegisterProvider(Provider{
		Name:              "gemini",
		DefaultExecutable: "gemini",
		APIKeyEnv:         "GEMINI_API_KEY",
		InstallHint:       "install with: npm install -g @google/gemini-cli",
		AuthPhrases:       []string{"not logged in", "authentication", "login required", "api key not found"},
		BuildArgs: func(format OutputFormat, prompt string) []string {
			args := []string{"-p"}
			args = append(args, streamFlags(format)...)
			return append(args, prompt)
		},
	})

	RegisterProvider(Provider{
		Name:              "cursor",
		DefaultExecutable: "cursor-agent",
		APIKeyEnv:         "CURSOR_API_KEY",
		InstallHint:       "install with: curl https://cursor.com/install -fsS | bash",
		AuthPhrases:       []string{"not logged in", "unauthorized", "login required"},
		BuildArgs: func(format OutputFormat, prompt string) []string {
			args := []string{"-p"}
			if format != FormatText {
				args = append(args, "--output-format", "json")
			}
			return append(args, prompt)
		},
	})
}
