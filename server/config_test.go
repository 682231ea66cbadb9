package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// unsetEnv clears key for the test and restores it afterwards.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"ARENASYNC_ADDR", "ARENASYNC_ROSTER", "ARENASYNC_SPEED", "ARENASYNC_OVERFLOW"} {
		unsetEnv(t, k)
	}
	cfg, err := LoadConfig("", filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.DefaultSession != "main" {
		t.Fatalf("defaults = %+v", cfg)
	}
	s := cfg.Session
	if s.Roster != RosterDynamic || s.Speed != 5 || s.Overflow != OverflowDropOldest || s.Bounds != nil {
		t.Fatalf("session defaults = %+v", s)
	}
}

func TestLoadConfigLayering(t *testing.T) {
	for _, k := range []string{"ARENASYNC_ADDR", "ARENASYNC_ROSTER", "ARENASYNC_OVERFLOW", "ARENASYNC_IDLE_TIMEOUT"} {
		unsetEnv(t, k)
	}
	t.Setenv("ARENASYNC_SPEED", "7.5")

	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "arenasync.yaml", `
addr: ":9000"
session:
  roster: fixed
  speed: 2
  idle_timeout: 30s
  bounds: {min_x: -400, max_x: 400, min_y: -300, max_y: 300}
log:
  level: warn
`)
	envPath := writeFile(t, dir, ".env", "ARENASYNC_OVERFLOW=disconnect\n")

	cfg, err := LoadConfig(cfgPath, envPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.Log.Level != "warn" {
		t.Fatalf("yaml not applied: addr=%q level=%q", cfg.Addr, cfg.Log.Level)
	}
	s := cfg.Session
	if s.Roster != RosterFixed || s.IdleTimeout != 30*time.Second {
		t.Fatalf("yaml session = %+v", s)
	}
	if s.Speed != 7.5 {
		t.Fatalf("env speed not applied over yaml: %v", s.Speed)
	}
	if s.Overflow != OverflowDisconnect {
		t.Fatalf(".env overflow not applied: %q", s.Overflow)
	}
	if s.Bounds == nil || s.Bounds.MaxY != 300 {
		t.Fatalf("bounds = %+v", s.Bounds)
	}
	if s.QueueSize != 32 {
		t.Fatalf("unset yaml key lost its default: queue_size=%d", s.QueueSize)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	unsetEnv(t, "ARENASYNC_ROSTER")
	unsetEnv(t, "ARENASYNC_OVERFLOW")
	dir := t.TempDir()

	t.Setenv("ARENASYNC_SPEED", "fast")
	if _, err := LoadConfig("", ""); err == nil {
		t.Fatalf("non-numeric speed accepted")
	}
	unsetEnv(t, "ARENASYNC_SPEED")

	bad := writeFile(t, dir, "bad.yaml", "session:\n  roster: teams\n")
	if _, err := LoadConfig(bad, ""); err == nil {
		t.Fatalf("unknown roster accepted")
	}
	if _, err := LoadConfig(filepath.Join(dir, "nope.yaml"), ""); err == nil {
		t.Fatalf("missing config file accepted")
	}
}

func TestSessionConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*SessionConfig)
	}{
		{"zero speed", func(c *SessionConfig) { c.Speed = 0 }},
		{"queue", func(c *SessionConfig) { c.QueueSize = 0 }},
		{"overflow", func(c *SessionConfig) { c.Overflow = "" }},
		{"negative idle", func(c *SessionConfig) { c.IdleTimeout = -time.Second }},
		{"idle without reaper", func(c *SessionConfig) { c.IdleTimeout = time.Second; c.ReapEvery = 0 }},
		{"inverted bounds", func(c *SessionConfig) { c.Bounds = &Bounds{MinX: 1, MaxX: -1, MinY: 0, MaxY: 1} }},
	}
	for _, tc := range cases {
		cfg := DefaultSessionConfig()
		tc.mod(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: accepted", tc.name)
		}
	}
	if err := DefaultSessionConfig().Validate(); err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}
}

func TestSessionConfigJSONDurations(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.IdleTimeout = 30 * time.Second
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"idle_timeout":"30s"`, `"reap_every":"5s"`, `"speed":5`, `"roster":"dynamic"`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("%s missing %s", raw, want)
		}
	}

	var back SessionConfig
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != cfg {
		t.Fatalf("round trip = %+v, want %+v", back, cfg)
	}

	if err := json.Unmarshal([]byte(`{"idle_timeout":"later"}`), &back); err == nil {
		t.Fatalf("bad duration accepted")
	}
}
