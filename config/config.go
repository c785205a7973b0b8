package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dyike/cortexctl/internal/models"
)

const appDirName = "cortexctl"

type Config struct {
	Server       string   `json:"server"`
	APIPrefix    string   `json:"api_prefix"`
	PollInterval Duration `json:"poll_interval"`
	Timeout      Duration `json:"timeout"`

	StateDir  string `json:"state_dir"`
	HistoryDB string `json:"history_db"`

	QuickThinkLLM  string `json:"quick_think_llm"`
	DeepThinkLLM   string `json:"deep_think_llm"`
	EmbeddingModel string `json:"embedding_model"`
	ResearchDepth  int    `json:"research_depth"`

	Debug   bool `json:"debug"`
	NoColor bool `json:"no_color"`
}

// DefaultConfig returns the built-in defaults overlaid with .env and the
// process environment.
func DefaultConfig() *Config {
	cfg := DefaultConfigWithRoot(defaultStateDir())

	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg.loadFromEnv()
	return cfg
}

// DefaultConfigWithRoot returns the built-in defaults with all local state
// kept under root.
func DefaultConfigWithRoot(root string) *Config {
	return &Config{
		Server:         "http://localhost:8000",
		APIPrefix:      "/api",
		PollInterval:   Duration(3 * time.Second),
		Timeout:        Duration(30 * time.Second),
		StateDir:       root,
		HistoryDB:      filepath.Join(root, "history.db"),
		QuickThinkLLM:  models.DefaultThinkModel,
		DeepThinkLLM:   models.DefaultThinkModel,
		EmbeddingModel: models.DefaultEmbeddingModel,
		ResearchDepth:  models.MinResearchDepth,
	}
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir, _ = os.Getwd()
	}
	return filepath.Join(dir, appDirName)
}

// ApplyEnv overlays .env and environment values onto c.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()
	c.loadFromEnv()
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("CORTEXCTL_SERVER"); val != "" {
		c.Server = val
	}
	if val := os.Getenv("CORTEXCTL_API_PREFIX"); val != "" {
		c.APIPrefix = val
	}
	if val := os.Getenv("CORTEXCTL_POLL_INTERVAL"); val != "" {
		if d, err := parseDuration(val); err == nil {
			c.PollInterval = Duration(d)
		}
	}
	if val := os.Getenv("CORTEXCTL_TIMEOUT"); val != "" {
		if d, err := parseDuration(val); err == nil {
			c.Timeout = Duration(d)
		}
	}

	if val := os.Getenv("CORTEXCTL_STATE_DIR"); val != "" {
		// History follows the state dir unless it was placed elsewhere.
		if c.HistoryDB == filepath.Join(c.StateDir, "history.db") {
			c.HistoryDB = filepath.Join(val, "history.db")
		}
		c.StateDir = val
	}
	if val := os.Getenv("CORTEXCTL_HISTORY_DB"); val != "" {
		c.HistoryDB = val
	}

	if val := os.Getenv("CORTEXCTL_QUICK_MODEL"); val != "" {
		c.QuickThinkLLM = val
	}
	if val := os.Getenv("CORTEXCTL_DEEP_MODEL"); val != "" {
		c.DeepThinkLLM = val
	}
	if val := os.Getenv("CORTEXCTL_RESEARCH_DEPTH"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.ResearchDepth = v
		}
	}

	if val := os.Getenv("CORTEXCTL_DEBUG"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Debug = enabled
		}
	}
	if val := os.Getenv("CORTEXCTL_NO_COLOR"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.NoColor = enabled
		}
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		c.NoColor = true
	}
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server) == "" {
		errs = append(errs, errors.New("server is required"))
	} else if u, err := url.Parse(c.Server); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server %q is not an absolute url", c.Server))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("server scheme %q is not supported", u.Scheme))
	}
	if c.PollInterval.Std() < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("poll interval %s is below 100ms", c.PollInterval))
	}
	if c.Timeout.Std() <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.ResearchDepth < models.MinResearchDepth || c.ResearchDepth > models.MaxResearchDepth {
		errs = append(errs, fmt.Errorf("research depth must be between %d and %d", models.MinResearchDepth, models.MaxResearchDepth))
	}
	return errors.Join(errs...)
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.StateDir}
	if c.HistoryDB != "" {
		dirs = append(dirs, filepath.Dir(c.HistoryDB))
	}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}

// StoragePath is the client-local key/value document holding credentials.
func (c *Config) StoragePath() string {
	return filepath.Join(c.StateDir, "storage.json")
}

// Duration is a time.Duration that reads and writes as "3s" in JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := parseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string like \"3s\": %w", err)
	}
	*d = Duration(n)
	return nil
}

// ParseDuration reads a flag or env value the way config.json durations are
// read: Go duration strings or bare seconds.
func ParseDuration(s string) (Duration, error) {
	d, err := parseDuration(s)
	return Duration(d), err
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}
