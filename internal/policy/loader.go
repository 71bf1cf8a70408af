package policy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// fileSpec is the on-disk YAML shape for one policy, matching spec.md §6's
// example exactly.
type fileSpec struct {
	ID          string              `yaml:"id"`
	Version     string              `yaml:"version"`
	Description string              `yaml:"description"`
	Scope       map[string][]string `yaml:"scope"`
	Conditions  struct {
		Tags     []string          `yaml:"tags"`
		Metadata map[string]string `yaml:"metadata"`
		Intent   []string          `yaml:"intent"`
	} `yaml:"conditions"`
	Effect   string `yaml:"effect"`
	Priority int    `yaml:"priority"`
	Enabled  *bool  `yaml:"enabled"`
}

func (f fileSpec) toPolicy() (Policy, error) {
	effect := Effect(f.Effect)
	switch effect {
	case EffectAllow, EffectDeny, EffectReview:
	default:
		return Policy{}, fmt.Errorf("policy %s: effect %q is not one of ALLOW, DENY, REVIEW", f.ID, f.Effect)
	}
	enabled := true
	if f.Enabled != nil {
		enabled = *f.Enabled
	}
	return Policy{
		ID:          f.ID,
		Version:     f.Version,
		Priority:    f.Priority,
		Scope:       Scope(f.Scope),
		Conditions:  Conditions{Tags: f.Conditions.Tags, Metadata: f.Conditions.Metadata, Intent: f.Conditions.Intent},
		Effect:      effect,
		Description: f.Description,
		Enabled:     enabled,
	}, nil
}

// Loader reads policies from YAML files in a directory (spec.md §6:
// "policy_engine.directory... absence = empty policy set") and, on
// request, watches that directory for changes so a reload can be
// triggered atomically via Engine.Load.
type Loader struct {
	logger *slog.Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewLoader creates a policy Loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger.With("component", "policy.Loader")}
}

// LoadDirectory reads every *.yaml/*.yml file in dir and compiles it into a
// Policy. An empty or absent directory yields an empty policy set, not an
// error. A file that fails to parse is logged and skipped so one bad
// policy file cannot prevent startup.
func (l *Loader) LoadDirectory(dir string) ([]Policy, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read policy directory %s: %w", dir, err)
	}

	policies := make([]Policy, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			l.logger.Error("failed to read policy file", "path", path, "error", err)
			continue
		}
		var spec fileSpec
		if err := yaml.Unmarshal(raw, &spec); err != nil {
			l.logger.Error("failed to parse policy file", "path", path, "error", err)
			continue
		}
		p, err := spec.toPolicy()
		if err != nil {
			l.logger.Error("skipping invalid policy", "path", path, "error", err)
			continue
		}
		policies = append(policies, p)
		l.logger.Info("loaded policy", "id", p.ID, "effect", p.Effect, "priority", p.Priority)
	}

	l.logger.Info("policy directory load complete", "dir", dir, "loaded", len(policies))
	return policies, nil
}

// Watch starts an fsnotify watcher on dir; any write/create/remove/rename
// event triggers
// onReload with the directory path. Call StopWatch to clean up.
func (l *Loader) Watch(dir string, onReload func(dir string)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher != nil {
		l.stopWatchLocked()
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve policy directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(absDir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch directory %s: %w", absDir, err)
	}

	l.watcher = w
	l.watchDone = make(chan struct{})
	go l.watchLoop(absDir, onReload)

	l.logger.Info("watching policy directory for changes", "dir", absDir)
	return nil
}

func (l *Loader) watchLoop(dir string, onReload func(string)) {
	defer close(l.watchDone)
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				l.logger.Info("policy directory changed, triggering reload", "dir", dir, "file", event.Name)
				onReload(dir)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("fsnotify error", "error", err)
		}
	}
}

// StopWatch stops the directory watcher, if running.
func (l *Loader) StopWatch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopWatchLocked()
}

func (l *Loader) stopWatchLocked() {
	if l.watcher != nil {
		_ = l.watcher.Close()
		if l.watchDone != nil {
			<-l.watchDone
		}
		l.watcher = nil
		l.watchDone = nil
	}
}
