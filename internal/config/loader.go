package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${NAME} and ${NAME:-default} references in a raw
// YAML document, substituted before parsing.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

func substituteEnvVars(raw string) string {
	return envVarPattern.ReplaceAllStringFunc(raw, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return def
	})
}

// Loader reads Config from a YAML file, applies DefaultConfig for
// zero-config startup, and supports hot-reload -- grounded on the
// teacher's internal/policy.Loader.WatchConfig/watchLoop fsnotify
// pattern (that package's own internal/config.Loader was not present in
// the retrieved source, so this implementation generalizes the policy
// loader's watch mechanics to the config file itself).
type Loader struct {
	mu       sync.RWMutex
	cfg      *Config
	filePath string

	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewLoader creates a Loader seeded with DefaultConfig.
func NewLoader() *Loader {
	return &Loader{cfg: DefaultConfig()}
}

// Load reads and parses the YAML file at path, substituting ${VAR} /
// ${VAR:-default} environment references first, and replaces the
// loader's current Config on success. The file is layered over
// DefaultConfig so a zero-config YAML file still produces sane values.
func (l *Loader) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), cfg); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}

	l.mu.Lock()
	l.cfg = cfg
	l.filePath = path
	l.mu.Unlock()
	return nil
}

// Get returns the current Config. Callers must not mutate the returned
// value; Reload swaps the pointer rather than mutating in place.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// FilePath returns the path Load was last called with, or "" if Load has
// never succeeded.
func (l *Loader) FilePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filePath
}

// Reload re-reads the file FilePath points at. It returns an error if
// Load has never been called.
func (l *Loader) Reload() error {
	path := l.FilePath()
	if path == "" {
		return fmt.Errorf("config: Reload called before a successful Load")
	}
	return l.Load(path)
}

// Watch starts an fsnotify watcher on the loaded file's directory (to
// catch editor rename-and-replace saves) and calls onReload after every
// successful Reload triggered by a write/create event.
func (l *Loader) Watch(onReload func()) error {
	path := l.FilePath()
	if path == "" {
		return fmt.Errorf("config: Watch called before a successful Load")
	}

	l.mu.Lock()
	if l.watcher != nil {
		l.stopWatchLocked()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(absPath)); err != nil {
		_ = w.Close()
		l.mu.Unlock()
		return fmt.Errorf("watch config directory: %w", err)
	}

	l.watcher = w
	l.watchDone = make(chan struct{})
	done := l.watchDone
	l.mu.Unlock()

	go l.watchLoop(absPath, done, onReload)
	return nil
}

func (l *Loader) watchLoop(targetPath string, done chan struct{}, onReload func()) {
	defer close(done)
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			absEvent, _ := filepath.Abs(event.Name)
			if absEvent != targetPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := l.Reload(); err == nil && onReload != nil {
					onReload()
				}
			}
		case _, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// StopWatch stops the config file watcher, if running.
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

// GenerateDefault writes DefaultConfig as YAML to path, for `swarmwardend
// init`.
func GenerateDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write default config %q: %w", path, err)
	}
	return nil
}
