package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dyike/cortexctl/config"
	"github.com/dyike/cortexctl/internal/cache"
	"github.com/dyike/cortexctl/internal/client"
	"github.com/dyike/cortexctl/internal/credentials"
	"github.com/dyike/cortexctl/internal/display"
	"github.com/dyike/cortexctl/internal/history"
	"github.com/dyike/cortexctl/internal/models"
)

// app carries everything a command needs. It is filled in by the root
// command's PersistentPreRunE once flags are parsed.
type app struct {
	out io.Writer

	manager *config.Manager
	cfg     config.Config
	log     *slog.Logger
	printer *display.Printer

	client  *client.Client
	creds   *credentials.Store
	history *history.Store
	cache   *cache.Cache
}

type globalFlags struct {
	server       string
	apiPrefix    string
	stateDir     string
	pollInterval string
	timeout      string
	debug        bool
	noColor      bool
}

func (f *globalFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.server, "server", "", "Analysis backend base URL")
	pf.StringVar(&f.apiPrefix, "api-prefix", "", "API path prefix on the backend")
	pf.StringVar(&f.stateDir, "state-dir", "", "Directory for config, credentials and history")
	pf.StringVar(&f.pollInterval, "poll-interval", "", "Task status poll interval (e.g. 3s)")
	pf.StringVar(&f.timeout, "timeout", "", "Per-request HTTP timeout (e.g. 30s)")
	pf.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	pf.BoolVar(&f.noColor, "no-color", false, "Disable colored output")
}

// init loads configuration in order: defaults, config.json, .env and the
// environment, then flags.
func (a *app) init(cmd *cobra.Command, f *globalFlags) error {
	env := config.DefaultConfig()
	stateDir := env.StateDir
	if cmd.Flags().Changed("state-dir") {
		stateDir = f.stateDir
	}

	mgr, err := config.NewManager(config.WithConfigDir(stateDir))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.manager = mgr

	cfg := mgr.Get()
	if cfg.StateDir != stateDir && cfg.HistoryDB == filepath.Join(cfg.StateDir, "history.db") {
		cfg.HistoryDB = filepath.Join(stateDir, "history.db")
	}
	cfg.StateDir = stateDir
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = filepath.Join(stateDir, "history.db")
	}
	cfg.ApplyEnv()
	if err := a.applyFlags(cmd, f, &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	a.cfg = cfg

	level := slog.LevelWarn
	if cfg.Debug {
		level = slog.LevelDebug
	}
	a.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.log)

	a.printer = display.NewPrinter(a.out, !cfg.NoColor)
	return nil
}

func (a *app) applyFlags(cmd *cobra.Command, f *globalFlags, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("state-dir") && f.stateDir != cfg.StateDir {
		if cfg.HistoryDB == filepath.Join(cfg.StateDir, "history.db") {
			cfg.HistoryDB = filepath.Join(f.stateDir, "history.db")
		}
		cfg.StateDir = f.stateDir
	}
	if flags.Changed("server") {
		cfg.Server = f.server
	}
	if flags.Changed("api-prefix") {
		cfg.APIPrefix = f.apiPrefix
	}
	if flags.Changed("poll-interval") {
		d, err := config.ParseDuration(f.pollInterval)
		if err != nil {
			return fmt.Errorf("--poll-interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if flags.Changed("timeout") {
		d, err := config.ParseDuration(f.timeout)
		if err != nil {
			return fmt.Errorf("--timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if flags.Changed("debug") {
		cfg.Debug = f.debug
	}
	if flags.Changed("no-color") {
		cfg.NoColor = f.noColor
	}
	return nil
}

func (a *app) backend() (*client.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	c, err := client.New(a.cfg.Server,
		client.WithAPIPrefix(a.cfg.APIPrefix),
		client.WithTimeout(a.cfg.Timeout.Std()),
		client.WithUserAgent("cortexctl/"+Version),
		client.WithLogger(a.log),
	)
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

// credentialStore never fails. An unusable storage file yields a store
// without storage, whose Load returns the empty template.
func (a *app) credentialStore() *credentials.Store {
	if a.creds != nil {
		return a.creds
	}
	var storage credentials.Storage
	fs, err := credentials.NewFileStorage(a.cfg.StoragePath())
	if err != nil {
		a.log.Warn("credential storage unavailable", "path", a.cfg.StoragePath(), "err", err)
	} else {
		storage = fs
	}
	a.creds = credentials.NewStore(storage, a.log)
	return a.creds
}

func (a *app) historyStore() (*history.Store, error) {
	if a.history != nil {
		return a.history, nil
	}
	h, err := history.Open(a.cfg.HistoryDB)
	if err != nil {
		return nil, err
	}
	a.history = h
	return h, nil
}

func (a *app) responseCache() *cache.Cache {
	if a.cache == nil {
		a.cache = cache.New(filepath.Join(a.cfg.StateDir, "cache"), cache.DefaultTTL, a.log)
	}
	return a.cache
}

// backendConfig returns the backend's model catalogue, cached per server.
func (a *app) backendConfig(ctx context.Context, refresh bool) (*models.ConfigResponse, error) {
	backend, err := a.backend()
	if err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, a.responseCache(), a.cfg.Server+a.cfg.APIPrefix+"/config", refresh, backend.GetConfig)
}

// backendTickers returns the backend's ticker list, cached per server.
func (a *app) backendTickers(ctx context.Context, refresh bool) ([]models.Ticker, error) {
	backend, err := a.backend()
	if err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, a.responseCache(), a.cfg.Server+a.cfg.APIPrefix+"/tickers", refresh, backend.GetTickers)
}

func (a *app) close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.Warn("close history", "err", err)
		}
		a.history = nil
	}
}
