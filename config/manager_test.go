package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManagerCreatesAndUpdates(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	path := filepath.Join(dir, "config.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if got := mgr.Get().StateDir; got != dir {
		t.Fatalf("expected state dir %s, got %s", dir, got)
	}

	cfg := mgr.Get()
	cfg.Server = "https://analysis.example.com"
	cfg.PollInterval = Duration(5 * time.Second)
	if err := mgr.Update(cfg); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reopened, err := NewManager(WithConfigPath(path))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.Get()
	if got.Server != cfg.Server || got.PollInterval.Std() != 5*time.Second {
		t.Fatalf("update not persisted: %+v", got)
	}

	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), `"poll_interval": "5s"`) {
		t.Fatalf("durations should be written as strings:\n%s", raw)
	}
}

func TestManagerRejectsInvalidUpdate(t *testing.T) {
	mgr, err := NewManager(WithConfigDir(t.TempDir()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := mgr.Get()
	cfg.Server = "not a url"
	if err := mgr.Update(cfg); err == nil {
		t.Fatalf("expected validation error")
	}
	if mgr.Get().Server == "not a url" {
		t.Fatalf("invalid config applied")
	}
}

func TestManagerInitialConfigAndPartialFile(t *testing.T) {
	dir := t.TempDir()
	initial := DefaultConfigWithRoot(dir)
	initial.Server = "http://10.0.0.5:8000"
	mgr, err := NewManager(WithConfigDir(dir), WithInitialConfig(initial))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if mgr.Get().Server != "http://10.0.0.5:8000" {
		t.Fatalf("initial config ignored")
	}

	// A file written by an older version lacks newer fields.
	path := filepath.Join(t.TempDir(), "config.json")
	data, _ := json.Marshal(map[string]any{"server": "http://old:9000"})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	mgr, err = NewManager(WithConfigPath(path))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	got := mgr.Get()
	if got.Server != "http://old:9000" || got.APIPrefix != "/api" || got.PollInterval.Std() != 3*time.Second {
		t.Fatalf("defaults not kept for missing fields: %+v", got)
	}
}

func TestManagerSet(t *testing.T) {
	mgr, err := NewManager(WithConfigDir(t.TempDir()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	steps := []struct{ key, value string }{
		{"server", "https://analysis.example.com"},
		{"poll_interval", "5s"},
		{"timeout", "45"},
		{"research_depth", "4"},
		{"quick_think_llm", "gpt-4o"},
		{"no_color", "true"},
	}
	for _, s := range steps {
		if err := mgr.Set(s.key, s.value); err != nil {
			t.Fatalf("set %s: %v", s.key, err)
		}
	}
	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	cfg := mgr.Get()
	if cfg.Server != "https://analysis.example.com" || cfg.PollInterval.Std() != 5*time.Second ||
		cfg.Timeout.Std() != 45*time.Second || cfg.ResearchDepth != 4 || cfg.QuickThinkLLM != "gpt-4o" || !cfg.NoColor {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	for _, bad := range []struct{ key, value string }{
		{"colour", "red"},
		{"research_depth", "deep"},
		{"research_depth", "9"},
		{"poll_interval", "soon"},
	} {
		if err := mgr.Set(bad.key, bad.value); err == nil {
			t.Fatalf("set %s=%s: expected error", bad.key, bad.value)
		}
	}
	if mgr.Get().ResearchDepth != 4 {
		t.Fatalf("rejected value applied")
	}
}
