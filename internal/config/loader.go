package config

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader owns the current Config plus the path it was loaded from, so
// Reload can re-read the same file later (e.g. on a SIGHUP or an
// operator-triggered reload command).
type Loader struct {
	mu       sync.RWMutex
	cfg      *Config
	filePath string
}

// NewLoader builds a Loader pre-populated with DefaultConfig, so Get
// returns sensible zero-config values even before Load is called.
func NewLoader() *Loader {
	return &Loader{cfg: DefaultConfig()}
}

// Load reads path, substitutes ${VAR} / ${VAR:-default} environment
// references, parses it as YAML over a copy of DefaultConfig (so
// fields the file omits keep their default), and swaps it in.
func (l *Loader) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(raw))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	l.mu.Lock()
	l.cfg = cfg
	l.filePath = path
	l.mu.Unlock()
	return nil
}

// Reload re-reads the file last passed to Load. Returns an error if
// Load was never called.
func (l *Loader) Reload() error {
	l.mu.RLock()
	path := l.filePath
	l.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("config: Reload called before Load")
	}
	return l.Load(path)
}

// Get returns the current Config. Safe for concurrent use with Load/Reload.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// FilePath returns the path last passed to Load, or "" if Load hasn't
// been called yet.
func (l *Loader) FilePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filePath
}

// GenerateDefault writes DefaultConfig, marshaled as YAML, to path —
// the `controlplane init` CLI command's implementation.
func GenerateDefault(path string) error {
	out, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("write default config to %s: %w", path, err)
	}
	return nil
}

// envVarPattern matches ${NAME} and ${NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// substituteEnvVars replaces every ${VAR} or ${VAR:-default} reference
// in s with the named environment variable's value, falling back to
// the default (or empty string, if no default) when unset.
func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, fallback := groups[1], groups[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return fallback
	})
}
