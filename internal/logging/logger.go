// Package logging is the agent's structured logger: leveled, categorised entries kept
// in an in-memory ring for the /v1/logs endpoint, optionally echoed to a writer,
// plus crash files and opt-in Sentry reporting.
package logging

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level is the severity of an entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// ParseLevel accepts debug, info, warn (or warning) and error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Category groups entries by subsystem.
type Category string

const (
	CatSystem    Category = "system"
	CatReader    Category = "reader"
	CatCard      Category = "card"
	CatAuth      Category = "auth"
	CatDump      Category = "dump"
	CatHTTP      Category = "http"
	CatWebSocket Category = "websocket"
)

// LogEntry is one recorded event.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Stats summarises the ring contents.
type Stats struct {
	Total      int              `json:"total"`
	MaxEntries int              `json:"maxEntries"`
	Dropped    uint64           `json:"dropped"`
	ByLevel    map[string]int   `json:"byLevel"`
	ByCategory map[Category]int `json:"byCategory"`
}

// Logger keeps the most recent entries in a fixed-size ring.
type Logger struct {
	mu       sync.RWMutex
	entries  []LogEntry
	next     int
	full     bool
	dropped  uint64
	minLevel Level
	out      io.Writer
}

// DefaultMaxEntries is the ring size used before Init is called.
const DefaultMaxEntries = 1000

var (
	globalMu sync.Mutex
	global   *Logger
)

// New returns a logger keeping maxEntries entries at or above minLevel.
func New(maxEntries int, minLevel Level) *Logger {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Logger{entries: make([]LogEntry, maxEntries), minLevel: minLevel}
}

// Init replaces the global logger.
func Init(maxEntries int, minLevel Level) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = New(maxEntries, minLevel)
}

// Get returns the global logger, creating a default one on first use.
func Get() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(DefaultMaxEntries, LevelInfo)
	}
	return global
}

// SetOutput echoes every accepted entry to w as one text line. nil disables echoing.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

// SetLevel changes the minimum recorded level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// Log records an entry.
func (l *Logger) Log(level Level, cat Category, msg string, data map[string]any) {
	l.mu.Lock()
	if level < l.minLevel {
		l.mu.Unlock()
		return
	}
	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Category:  cat,
		Message:   msg,
		Data:      data,
	}
	if l.full {
		l.dropped++
	}
	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	out := l.out
	l.mu.Unlock()

	if out != nil {
		fmt.Fprintln(out, formatEntry(entry))
	}
	if level >= LevelWarn {
		addBreadcrumb(entry)
	}
}

// ordered returns the entries oldest first. Callers hold l.mu.
func (l *Logger) ordered() []LogEntry {
	if !l.full {
		return l.entries[:l.next]
	}
	out := make([]LogEntry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	return append(out, l.entries[:l.next]...)
}

// GetEntries returns up to limit of the newest entries, oldest first, optionally
// filtered by minimum level and category. limit <= 0 means all.
func (l *Logger) GetEntries(limit int, minLevel *Level, category *Category) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all := l.ordered()
	matched := make([]LogEntry, 0, len(all))
	for _, e := range all {
		if minLevel != nil && e.Level < *minLevel {
			continue
		}
		if category != nil && e.Category != *category {
			continue
		}
		matched = append(matched, e)
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// Stats returns counts per level and category.
func (l *Logger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all := l.ordered()
	s := Stats{
		Total:      len(all),
		MaxEntries: len(l.entries),
		Dropped:    l.dropped,
		ByLevel:    make(map[string]int),
		ByCategory: make(map[Category]int),
	}
	for _, e := range all {
		s.ByLevel[e.Level.String()]++
		s.ByCategory[e.Category]++
	}
	return s
}

// Clear drops every entry.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]LogEntry, len(l.entries))
	l.next = 0
	l.full = false
	l.dropped = 0
}

func formatEntry(e LogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s [%s] %s", e.Timestamp.Format("15:04:05.000"), strings.ToUpper(e.Level.String()), e.Category, e.Message)
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	return b.String()
}

func Debug(cat Category, msg string, data map[string]any) { Get().Log(LevelDebug, cat, msg, data) }
func Info(cat Category, msg string, data map[string]any)  { Get().Log(LevelInfo, cat, msg, data) }
func Warn(cat Category, msg string, data map[string]any)  { Get().Log(LevelWarn, cat, msg, data) }
func Error(cat Category, msg string, data map[string]any) { Get().Log(LevelError, cat, msg, data) }
