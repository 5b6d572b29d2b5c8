// Package settings persists user preferences that can change at runtime, as JSON
// in the per-user config directory.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LearnedKey is a sector key the agent was told about at runtime (via the API or by
// writing it to a card) and should keep trying after a restart.
type LearnedKey struct {
	Key     string    `json:"key"`             // 12 hex characters
	Types   []string  `json:"types,omitempty"` // "A", "B"; empty means both
	Source  string    `json:"source,omitempty"`
	AddedAt time.Time `json:"addedAt"`
}

// Settings holds user preferences that persist across restarts.
type Settings struct {
	CrashReporting bool         `json:"crashReporting"` // opt-in Sentry reporting
	LearnedKeys    []LearnedKey `json:"learnedKeys,omitempty"`
}

var (
	current      *Settings
	mu           sync.RWMutex
	pathOverride string
)

// DefaultSettings returns the default settings.
func DefaultSettings() *Settings {
	return &Settings{CrashReporting: false}
}

// SetPath stores settings at path instead of the user config directory.
// An empty path restores the default. The cached settings are dropped.
func SetPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	pathOverride = path
	current = nil
}

// Path returns the settings file location.
func Path() (string, error) {
	mu.RLock()
	defer mu.RUnlock()
	return settingsPath()
}

// settingsPath is Path without locking.
func settingsPath() (string, error) {
	if pathOverride != "" {
		return pathOverride, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "classic-agent", "settings.json"), nil
}

// Load reads settings from disk, or returns defaults if the file doesn't exist.
// On a read or parse error the defaults are installed and the error returned.
func Load() (*Settings, error) {
	mu.Lock()
	defer mu.Unlock()

	current = DefaultSettings()
	path, err := settingsPath()
	if err != nil {
		return clone(current), err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return clone(current), nil
		}
		return clone(current), err
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return clone(current), err
	}
	current = &s
	return clone(current), nil
}

// save writes current to disk. Callers hold mu.
func save() error {
	if current == nil {
		current = DefaultSettings()
	}
	path, err := settingsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Save writes the current settings to disk.
func Save() error {
	mu.Lock()
	defer mu.Unlock()
	return save()
}

func clone(s *Settings) *Settings {
	c := *s
	c.LearnedKeys = append([]LearnedKey(nil), s.LearnedKeys...)
	return &c
}

// Get returns a copy of the current settings, loading them on first use.
func Get() *Settings {
	mu.RLock()
	if current != nil {
		defer mu.RUnlock()
		return clone(current)
	}
	mu.RUnlock()

	s, _ := Load()
	return s
}

func ensureLoaded() {
	mu.RLock()
	loaded := current != nil
	mu.RUnlock()
	if !loaded {
		_, _ = Load()
	}
}

// SetCrashReporting updates the crash reporting preference and saves.
func SetCrashReporting(enabled bool) error {
	ensureLoaded()
	mu.Lock()
	defer mu.Unlock()
	current.CrashReporting = enabled
	return save()
}

// IsCrashReportingEnabled returns whether crash reporting is enabled.
func IsCrashReportingEnabled() bool {
	return Get().CrashReporting
}

// AddLearnedKey records a key and saves. A key already present gets its types merged.
// Returns false when nothing changed.
func AddLearnedKey(k LearnedKey) (bool, error) {
	ensureLoaded()
	mu.Lock()
	defer mu.Unlock()

	k.Key = strings.ToUpper(k.Key)
	for i := range current.LearnedKeys {
		existing := &current.LearnedKeys[i]
		if existing.Key != k.Key {
			continue
		}
		merged := mergeTypes(existing.Types, k.Types)
		if len(merged) == len(existing.Types) {
			return false, nil
		}
		existing.Types = merged
		return true, save()
	}
	if k.AddedAt.IsZero() {
		k.AddedAt = time.Now().UTC()
	}
	current.LearnedKeys = append(current.LearnedKeys, k)
	return true, save()
}

// mergeTypes unions type lists; an empty list already means every type.
func mergeTypes(a, b []string) []string {
	if len(a) == 0 {
		return a
	}
	if len(b) == 0 {
		return nil
	}
	out := append([]string(nil), a...)
	for _, t := range b {
		found := false
		for _, have := range out {
			if strings.EqualFold(have, t) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, strings.ToUpper(t))
		}
	}
	return out
}

// LearnedKeys returns the recorded keys in insertion order.
func LearnedKeys() []LearnedKey {
	return Get().LearnedKeys
}
