package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyike/cortexctl/config"
	"github.com/dyike/cortexctl/internal/history"
	"github.com/dyike/cortexctl/internal/models"
	"github.com/dyike/cortexctl/internal/task"
)

// NewRootCmd creates the root command
func NewRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "cortexctl",
		Short: "cortexctl - client for the multi-agent trading analysis backend",
		Long: `cortexctl submits trading analyses to a remote multi-agent backend, follows
each task until it completes, and renders the decision and reports.

Model endpoints and API keys are resolved locally from the credential store
and sent with every request.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd, &flags)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default behavior: start interactive mode
			return a.runInteractiveMode(cmd.Context())
		},
	}
	rootCmd.SetOut(out)
	flags.register(rootCmd)

	rootCmd.AddCommand(
		newAnalyzeCmd(a),
		newBatchCmd(a),
		newStatusCmd(a),
		newDownloadCmd(a),
		newHealthCmd(a),
		newTickersCmd(a),
		newModelsCmd(a),
		newConfigCmd(a),
		newCredentialsCmd(a),
		newHistoryCmd(a),
		newVersionCmd(a),
	)
	return rootCmd
}

// newVersionCmd creates the version command
func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "cortexctl %s\n", Version)
			fmt.Fprintf(a.out, "%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.backend()
			if err != nil {
				return err
			}
			h, err := backend.Health(cmd.Context())
			if err != nil {
				return err
			}
			a.printer.Health(backend.BaseURL(), h)
			return nil
		},
	}
}

func newTickersCmd(a *app) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "tickers",
		Short: "List the ticker symbols the backend suggests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tickers, err := a.backendTickers(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			a.printer.Tickers(tickers)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the local cache")
	return cmd
}

func newModelsCmd(a *app) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Show the analysts and models the backend offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.backendConfig(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			a.printer.BackendConfig(cfg)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the local cache")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status TASK_ID",
		Short: "Show the status of a submitted task",
		Long: `Fetch the current status of a task once, or with --watch poll it until it
completes or fails. The local history is updated with what is observed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch {
				return a.watchTask(cmd.Context(), args[0])
			}
			return a.showStatus(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the task completes or fails")
	return cmd
}

func (a *app) showStatus(ctx context.Context, taskID string) error {
	backend, err := a.backend()
	if err != nil {
		return err
	}
	st, err := backend.GetTaskStatus(ctx, taskID)
	if err != nil {
		return err
	}

	a.printer.Field("Task", st.TaskID)
	a.printer.Field("Status", string(st.Status))
	if st.Progress != "" {
		a.printer.Field("Progress", st.Progress)
	}
	if st.Error != "" {
		a.printer.Field("Error", st.Error)
	}
	if st.UpdatedAt != "" {
		a.printer.Field("Updated", st.UpdatedAt)
	}

	state := task.State{TaskID: st.TaskID, Status: st.Status, Progress: st.Progress, Error: st.Error, Result: st.Result}
	a.recordObserved(ctx, state)

	if st.Status == models.TaskCompleted && st.Result != nil {
		fmt.Fprintln(a.out)
		a.printer.Result(st.Result, a.recordedAnalysts(ctx, taskID))
	}
	return nil
}

func (a *app) watchTask(ctx context.Context, taskID string) error {
	backend, err := a.backend()
	if err != nil {
		return err
	}
	hist, err := a.historyStore()
	if err != nil {
		a.log.Warn("history unavailable", "err", err)
	}

	ctrl := task.New(backend,
		task.WithInterval(a.cfg.PollInterval.Std()),
		task.WithLogger(a.log),
		task.WithObserver(a.progressObserver(hist)),
	)
	defer ctrl.Close()
	if err := ctrl.Track(taskID); err != nil {
		return err
	}

	st, err := a.follow(ctx, ctrl, 0)
	if err != nil {
		return err
	}
	if st.Error != "" {
		return fmt.Errorf("analysis failed: %s", st.Error)
	}
	fmt.Fprintln(a.out)
	a.printer.Result(st.Result, a.recordedAnalysts(ctx, taskID))
	return nil
}

// recordObserved mirrors a one-off status read into history when the task is
// known locally.
func (a *app) recordObserved(ctx context.Context, st task.State) {
	hist, err := a.historyStore()
	if err != nil {
		return
	}
	if err := hist.Update(ctx, st.TaskID, st); err != nil && !errors.Is(err, history.ErrNotFound) {
		a.log.Warn("history update failed", "task_id", st.TaskID, "err", err)
	}
}

func (a *app) recordedAnalysts(ctx context.Context, taskID string) []models.AnalystType {
	hist, err := a.historyStore()
	if err != nil {
		return nil
	}
	e, err := hist.Get(ctx, taskID)
	if err != nil {
		return nil
	}
	return toAnalystTypes(e.Analysts)
}

type downloadOptions struct {
	ticker   string
	date     string
	analysts []string
	outDir   string
}

func newDownloadCmd(a *app) *cobra.Command {
	var o downloadOptions
	cmd := &cobra.Command{
		Use:   "download TASK_ID",
		Short: "Download the reports of a completed task",
		Long: `Download the rendered reports of a completed task: a PDF for one analyst,
a ZIP archive for several. Ticker, date and analysts default to what the local
history recorded for the task.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.download(cmd.Context(), args[0], o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.ticker, "ticker", "", "Ticker symbol of the analysis")
	f.StringVar(&o.date, "date", "", "Analysis date in YYYY-MM-DD format")
	f.StringSliceVar(&o.analysts, "analysts", nil, "Analysts whose reports to include")
	f.StringVarP(&o.outDir, "out", "o", ".", "Directory to write the file to")
	return cmd
}

func (a *app) download(ctx context.Context, taskID string, o downloadOptions) error {
	req := models.DownloadRequest{
		TaskID:       taskID,
		Ticker:       strings.ToUpper(strings.TrimSpace(o.ticker)),
		AnalysisDate: o.date,
		Analysts:     normalizeAnalysts(o.analysts),
	}
	if hist, err := a.historyStore(); err == nil {
		if e, err := hist.Get(ctx, taskID); err == nil {
			req = fillDownloadRequest(req, e)
		}
	}
	if req.Ticker == "" || req.AnalysisDate == "" {
		return fmt.Errorf("task %s is not in local history; pass --ticker and --date", taskID)
	}
	if len(req.Analysts) == 0 {
		req.Analysts = models.AnalystNames(models.AllAnalysts)
	}

	backend, err := a.backend()
	if err != nil {
		return err
	}
	dl, err := backend.DownloadReports(ctx, req)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(o.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(o.outDir, filepath.Base(dl.Filename))
	if err := os.WriteFile(path, dl.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	a.printer.Success(fmt.Sprintf("Saved %s (%d bytes)", path, len(dl.Data)))
	return nil
}

// fillDownloadRequest completes req from a history entry. Explicit flag
// values win.
func fillDownloadRequest(req models.DownloadRequest, e *history.Entry) models.DownloadRequest {
	if req.Ticker == "" {
		req.Ticker = e.Ticker
	}
	if req.AnalysisDate == "" {
		req.AnalysisDate = e.AnalysisDate
	}
	if len(req.Analysts) == 0 {
		req.Analysts = append([]string(nil), e.Analysts...)
	}
	return req
}

func newConfigCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "Show and change the persisted cortexctl configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a.showConfig()
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Persist one configuration value",
		Long: `Persist one configuration value to config.json. Known keys:
  ` + strings.Join(config.SettableKeys, ", "),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.manager.Set(args[0], args[1]); err != nil {
				return err
			}
			a.printer.Success(fmt.Sprintf("%s saved to %s", args[0], a.manager.Path()))
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "clear-cache",
		Short: "Forget cached backend catalogue and tickers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.responseCache().Clear(); err != nil {
				return err
			}
			a.printer.Success("Cache cleared")
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(a.out, a.manager.Path())
		},
	})

	return configCmd
}

func (a *app) showConfig() {
	cfg := a.cfg
	a.printer.Section("📋 Configuration")
	a.printer.Field("Config file", a.manager.Path())
	a.printer.Field("Server", cfg.Server)
	a.printer.Field("API prefix", cfg.APIPrefix)
	a.printer.Field("Poll interval", cfg.PollInterval.String())
	a.printer.Field("HTTP timeout", cfg.Timeout.String())
	a.printer.Field("State dir", cfg.StateDir)
	a.printer.Field("History", cfg.HistoryDB)
	a.printer.Section("🤖 Defaults")
	a.printer.Field("Quick model", cfg.QuickThinkLLM)
	a.printer.Field("Deep model", cfg.DeepThinkLLM)
	a.printer.Field("Embedding", cfg.EmbeddingModel)
	a.printer.Field("Depth", strconv.Itoa(cfg.ResearchDepth))
	a.printer.Field("Debug", strconv.FormatBool(cfg.Debug))
}
