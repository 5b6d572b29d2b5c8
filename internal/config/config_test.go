package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SimplyPrint/classic-agent/internal/mifare"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CLASSIC_AGENT_HOST", "CLASSIC_AGENT_PORT", "CLASSIC_AGENT_KEYS"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Address() != "127.0.0.1:32145" {
		t.Errorf("Address() = %q", cfg.Address())
	}
	if cfg.Reader.TransmitTimeout != DefaultTransmitTimeout {
		t.Errorf("TransmitTimeout = %s", cfg.Reader.TransmitTimeout)
	}
	if !cfg.UseDefaultKeys() || cfg.PreferredType() != mifare.KeyA {
		t.Error("expected factory keys with A preferred")
	}
}

func TestLoadFileAndResolveRelativePaths(t *testing.T) {
	clearEnv(t)
	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, "extra.keys"), "# site keys\nB:112233445566\n\n a0b0c0d0e0f0  # hotel\n")

	cfgPath := filepath.Join(tmp, "config.yaml")
	writeFile(t, cfgPath, `
server:
  host: "0.0.0.0"
  port: 4000
reader:
  transmit_timeout: 750ms
  key_slot: 1
keys:
  prefer: B
  defaults: false
  entries:
    - key: "A0A1A2A3A4A5"
      types: ["A"]
    - key: "FFFFFFFFFFFF"
  files:
    - extra.keys
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Address() != "0.0.0.0:4000" {
		t.Errorf("Address() = %q", cfg.Address())
	}
	if cfg.Reader.TransmitTimeout != 750*time.Millisecond || cfg.Reader.KeySlot != 1 {
		t.Errorf("reader = %+v", cfg.Reader)
	}
	if want := filepath.Join(tmp, "extra.keys"); cfg.Keys.Files[0] != want {
		t.Errorf("expected resolved key file %q, got %q", want, cfg.Keys.Files[0])
	}

	ks, err := cfg.KeyStore()
	if err != nil {
		t.Fatalf("KeyStore() error = %v", err)
	}
	got := make([]string, 0, ks.Len())
	for _, k := range ks.Keys() {
		got = append(got, k.String())
	}
	want := []string{
		"A:A0A1A2A3A4A5",
		"B:FFFFFFFFFFFF", "A:FFFFFFFFFFFF",
		"B:112233445566",
		"B:A0B0C0D0E0F0", "A:A0B0C0D0E0F0",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("KeyStore() = %v, want %v", got, want)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	clearEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, "server:\n  hostname: x\n")

	if _, err := Load(cfgPath); err == nil || !strings.Contains(err.Error(), "parse config yaml") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "config.server.port"},
		{"host", func(c *Config) { c.Server.Host = " " }, "config.server.host"},
		{"slot", func(c *Config) { c.Reader.KeySlot = 300 }, "config.reader.key_slot"},
		{"prefer", func(c *Config) { c.Keys.Prefer = "C" }, "config.keys.prefer"},
		{"key", func(c *Config) { c.Keys.Entries = []KeyEntry{{Key: "FFFF"}} }, "config.keys.entries[0].key"},
		{"type", func(c *Config) { c.Keys.Entries = []KeyEntry{{Key: "FFFFFFFFFFFF", Types: []string{"X"}}} }, "config.keys.entries[0].types"},
		{"file", func(c *Config) { c.Keys.Files = []string{"/does/not/exist"} }, "config.keys.files[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CLASSIC_AGENT_HOST", "localhost")
	t.Setenv("CLASSIC_AGENT_PORT", "9999")
	t.Setenv("CLASSIC_AGENT_KEYS", "B:010203040506, 0A0B0C0D0E0F")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Address() != "localhost:9999" {
		t.Errorf("Address() = %q", cfg.Address())
	}
	if len(cfg.Keys.Entries) != 2 || cfg.Keys.Entries[0].Types[0] != "B" || cfg.Keys.Entries[1].Key != "0A0B0C0D0E0F" {
		t.Errorf("entries = %+v", cfg.Keys.Entries)
	}

	t.Setenv("CLASSIC_AGENT_PORT", "http")
	if _, err := Load(""); err == nil {
		t.Error("non-numeric port should fail")
	}
}

func TestParseKeyListErrors(t *testing.T) {
	_, err := ParseKeyList(strings.NewReader("FFFFFFFFFFFF\nC:FFFFFFFFFFFF\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected line 2 error, got %v", err)
	}
}
