package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const configFileName = "config.json"

// Manager owns the persisted config.json. Environment and flag overrides are
// applied to copies by the caller and never written back.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg Config
}

type managerOptions struct {
	path    string
	initial *Config
}

type ManagerOption func(*managerOptions)

// WithConfigDir keeps config.json, and the default state, under dir.
func WithConfigDir(dir string) ManagerOption {
	return func(o *managerOptions) {
		if dir != "" {
			o.path = filepath.Join(dir, configFileName)
		}
	}
}

func WithConfigPath(path string) ManagerOption {
	return func(o *managerOptions) {
		if path != "" {
			o.path = path
		}
	}
}

// WithInitialConfig seeds a config file that does not exist yet.
func WithInitialConfig(cfg *Config) ManagerOption {
	return func(o *managerOptions) {
		o.initial = cfg
	}
}

// NewManager opens the config file, creating it from defaults on first use.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	o := managerOptions{path: filepath.Join(defaultStateDir(), configFileName)}
	for _, opt := range opts {
		opt(&o)
	}
	m := &Manager{path: o.path}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	err := m.Reload()
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg := *DefaultConfigWithRoot(filepath.Dir(m.path))
	if o.initial != nil {
		cfg = *o.initial
	}
	if err := m.Update(cfg); err != nil {
		return nil, fmt.Errorf("write initial config: %w", err)
	}
	return m, nil
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Reload re-reads the file. Missing fields keep their defaults so files
// written by older versions stay usable.
func (m *Manager) Reload() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	cfg := *DefaultConfigWithRoot(filepath.Dir(m.path))
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse %s: %w", m.path, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s: %w", m.path, err)
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// Update validates and persists cfg.
func (m *Manager) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg == m.cfg {
		return nil
	}
	if err := writeJSONFile(m.path, cfg); err != nil {
		return err
	}
	m.cfg = cfg
	return nil
}

// Set changes one key of the persisted config.
func (m *Manager) Set(key, value string) error {
	cfg := m.Get()
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	return m.Update(cfg)
}

// writeJSONFile replaces path atomically with the indented encoding of v.
func writeJSONFile(path string, v any) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err = enc.Encode(v); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("flush config: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
