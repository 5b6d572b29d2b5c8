// Package config loads the agent's YAML configuration and environment overrides.
package config

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/SimplyPrint/classic-agent/internal/mifare"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 32145
	DefaultTransmitTimeout = 3 * time.Second
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Reader ReaderConfig `yaml:"reader"`
	Keys   KeysConfig   `yaml:"keys"`
	Log    LogConfig    `yaml:"log"`
	Sentry SentryConfig `yaml:"sentry"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ReaderConfig struct {
	TransmitTimeout time.Duration `yaml:"transmit_timeout"`
	KeySlot         int           `yaml:"key_slot"`
}

type KeysConfig struct {
	// Prefer is the type tried first for keys without explicit types ("A" or "B").
	Prefer string `yaml:"prefer"`
	// Defaults appends the factory key catalogue after the configured keys.
	Defaults *bool      `yaml:"defaults"`
	Entries  []KeyEntry `yaml:"entries"`
	// Files are key dictionaries, one key per line.
	Files []string `yaml:"files"`
}

type KeyEntry struct {
	Key   string   `yaml:"key"`
	Types []string `yaml:"types"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	MaxEntries int    `yaml:"max_entries"`
}

type SentryConfig struct {
	DSN string `yaml:"dsn"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: DefaultHost, Port: DefaultPort},
		Reader: ReaderConfig{TransmitTimeout: DefaultTransmitTimeout},
		Keys:   KeysConfig{Prefer: "A"},
		Log:    LogConfig{Level: "info", MaxEntries: 1000},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment overrides
// and validates the result. Relative key file paths resolve against the config file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && err != io.EOF {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
		cfg.resolvePaths(path)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if host := os.Getenv("CLASSIC_AGENT_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("CLASSIC_AGENT_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("CLASSIC_AGENT_PORT: %w", err)
		}
		c.Server.Port = p
	}
	if keys := os.Getenv("CLASSIC_AGENT_KEYS"); keys != "" {
		for _, item := range strings.Split(keys, ",") {
			if strings.TrimSpace(item) == "" {
				continue
			}
			entry, err := parseKeyEntry(item)
			if err != nil {
				return fmt.Errorf("CLASSIC_AGENT_KEYS: %w", err)
			}
			c.Keys.Entries = append(c.Keys.Entries, entry)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("config.server.host is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config.server.port must be 1..65535")
	}
	if c.Reader.TransmitTimeout < 0 {
		return fmt.Errorf("config.reader.transmit_timeout must be >= 0")
	}
	if c.Reader.KeySlot < 0 || c.Reader.KeySlot > 0xFF {
		return fmt.Errorf("config.reader.key_slot must be 0..255")
	}
	if _, err := mifare.ParseKeyType(c.Keys.Prefer); err != nil {
		return fmt.Errorf("config.keys.prefer: %w", err)
	}
	for i, e := range c.Keys.Entries {
		if _, err := mifare.ParseKeyValue(e.Key); err != nil {
			return fmt.Errorf("config.keys.entries[%d].key: %w", i, err)
		}
		for _, t := range e.Types {
			if _, err := mifare.ParseKeyType(t); err != nil {
				return fmt.Errorf("config.keys.entries[%d].types: %w", i, err)
			}
		}
	}
	for i, f := range c.Keys.Files {
		if err := validateReadableFile(f, fmt.Sprintf("config.keys.files[%d]", i)); err != nil {
			return err
		}
	}
	if c.Log.MaxEntries < 0 {
		return fmt.Errorf("config.log.max_entries must be >= 0")
	}
	return nil
}

// Address returns host:port for the HTTP listener.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// PreferredType returns the key type tried first for untyped keys.
func (c *Config) PreferredType() mifare.KeyType {
	t, err := mifare.ParseKeyType(c.Keys.Prefer)
	if err != nil {
		return mifare.KeyA
	}
	return t
}

// UseDefaultKeys reports whether the factory catalogue is appended.
func (c *Config) UseDefaultKeys() bool {
	return c.Keys.Defaults == nil || *c.Keys.Defaults
}

// KeyStore builds the candidate list: configured entries, then key files, then the
// factory catalogue. Untyped keys expand to both types in the preferred order.
func (c *Config) KeyStore() (*mifare.KeyStore, error) {
	ks := mifare.NewKeyStore()
	order := mifare.TypeOrder(c.PreferredType())

	add := func(e KeyEntry) error {
		v, err := mifare.ParseKeyValue(e.Key)
		if err != nil {
			return err
		}
		types, err := entryTypes(e.Types, order)
		if err != nil {
			return err
		}
		ks.AddValue(v, types...)
		return nil
	}

	for _, e := range c.Keys.Entries {
		if err := add(e); err != nil {
			return nil, err
		}
	}
	for _, path := range c.Keys.Files {
		entries, err := LoadKeyFile(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if err := add(e); err != nil {
				return nil, err
			}
		}
	}
	if c.UseDefaultKeys() {
		for _, v := range mifare.DefaultKeyValues() {
			ks.AddValue(v, order...)
		}
	}
	return ks, nil
}

func entryTypes(names []string, order []mifare.KeyType) ([]mifare.KeyType, error) {
	if len(names) == 0 {
		return order, nil
	}
	types := make([]mifare.KeyType, 0, len(names))
	for _, n := range names {
		t, err := mifare.ParseKeyType(n)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

// LoadKeyFile reads a key dictionary: one key per line as 12 hex characters,
// optionally prefixed "A:" or "B:". Blank lines and text after '#' are ignored.
func LoadKeyFile(path string) ([]KeyEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer f.Close()
	entries, err := ParseKeyList(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// ParseKeyList parses the key dictionary format described at LoadKeyFile.
func ParseKeyList(r io.Reader) ([]KeyEntry, error) {
	var entries []KeyEntry
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		entry, err := parseKeyEntry(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	return entries, sc.Err()
}

// parseKeyEntry parses "FFFFFFFFFFFF", "A:FFFFFFFFFFFF" or "B:FFFFFFFFFFFF".
func parseKeyEntry(s string) (KeyEntry, error) {
	s = strings.TrimSpace(s)
	var entry KeyEntry
	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		if _, err := mifare.ParseKeyType(prefix); err != nil {
			return KeyEntry{}, err
		}
		entry.Types = []string{strings.ToUpper(strings.TrimSpace(prefix))}
		s = strings.TrimSpace(rest)
	}
	if _, err := mifare.ParseKeyValue(s); err != nil {
		return KeyEntry{}, err
	}
	entry.Key = strings.ToUpper(s)
	return entry, nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	for i, f := range c.Keys.Files {
		c.Keys.Files[i] = resolvePath(configDir, f)
	}
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
