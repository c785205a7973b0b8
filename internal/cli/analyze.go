package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/cortexctl/internal/history"
	"github.com/dyike/cortexctl/internal/models"
	"github.com/dyike/cortexctl/internal/probe"
	"github.com/dyike/cortexctl/internal/resolver"
	"github.com/dyike/cortexctl/internal/task"
)

type analyzeOptions struct {
	date           string
	analysts       []string
	depth          int
	quickModel     string
	deepModel      string
	embeddingModel string
	quickBaseURL   string
	deepBaseURL    string

	noWait  bool
	maxWait time.Duration
	verify  bool
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var o analyzeOptions
	cmd := &cobra.Command{
		Use:   "analyze SYMBOL",
		Short: "Submit an analysis and follow it to completion",
		Long: `Submit a trading analysis for a ticker to the backend and poll until it
completes or fails. Endpoints and keys for each model are resolved from the
stored credentials.

Example: cortexctl analyze NVDA --date 2024-05-10 --analysts market,news`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.buildRequest(args[0], o)
			if err != nil {
				return err
			}
			_, err = a.runAnalysis(cmd.Context(), req, o)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.date, "date", "", "Analysis date in YYYY-MM-DD format (today if not provided)")
	f.StringSliceVar(&o.analysts, "analysts", nil, "Analysts to run: market,sentiment,news,fundamentals (all if not provided)")
	f.IntVar(&o.depth, "depth", 0, "Research depth 1-5")
	f.StringVar(&o.quickModel, "quick-model", "", "Quick-thinking model")
	f.StringVar(&o.deepModel, "deep-model", "", "Deep-thinking model")
	f.StringVar(&o.embeddingModel, "embedding-model", "", "Embedding model")
	f.StringVar(&o.quickBaseURL, "quick-base-url", "", "Endpoint override for the quick-thinking model")
	f.StringVar(&o.deepBaseURL, "deep-base-url", "", "Endpoint override for the deep-thinking model")
	f.BoolVar(&o.noWait, "no-wait", false, "Submit and print the task id without polling")
	f.DurationVar(&o.maxWait, "max-wait", 0, "Stop polling after this long (0 waits until the task ends)")
	f.BoolVar(&o.verify, "verify", false, "Probe model credentials before submitting")
	return cmd
}

// buildRequest fills unset options from configuration and validates the
// result. Credentials are attached later, just before submission.
func (a *app) buildRequest(ticker string, o analyzeOptions) (models.AnalysisRequest, error) {
	date := o.date
	if date == "" {
		date = time.Now().Format(models.DateLayout)
	}
	req := models.AnalysisRequest{
		Ticker:            ticker,
		AnalysisDate:      date,
		Analysts:          normalizeAnalysts(o.analysts),
		ResearchDepth:     firstPositive(o.depth, a.cfg.ResearchDepth),
		QuickThinkLLM:     firstNonEmpty(o.quickModel, a.cfg.QuickThinkLLM),
		DeepThinkLLM:      firstNonEmpty(o.deepModel, a.cfg.DeepThinkLLM),
		EmbeddingModel:    firstNonEmpty(o.embeddingModel, a.cfg.EmbeddingModel),
		QuickThinkBaseURL: o.quickBaseURL,
		DeepThinkBaseURL:  o.deepBaseURL,
	}
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return models.AnalysisRequest{}, err
	}
	return req, nil
}

// runAnalysis submits req and, unless told otherwise, follows the task to a
// terminal state. Interrupts and --max-wait reset the controller; the task
// keeps running on the backend and stays reachable through history.
func (a *app) runAnalysis(ctx context.Context, req models.AnalysisRequest, o analyzeOptions) (task.State, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	backend, err := a.backend()
	if err != nil {
		return task.State{}, err
	}

	creds := a.credentialStore().Load()
	annotated, resolutions := resolver.Annotate(req, creds)
	for _, r := range resolutions {
		a.log.Debug("model resolved", "role", r.Role, "model", r.Model, "provider", r.Provider, "base_url", r.BaseURL, "has_key", r.APIKey != "")
	}

	if o.verify {
		a.printer.Info("Verifying model credentials...")
		results := probe.New(probe.WithLogger(a.log)).Check(ctx, resolutions)
		a.printer.ProbeResults(results)
		for _, r := range results {
			if r.Outcome == probe.OutcomeFailed {
				return task.State{}, fmt.Errorf("credential check failed for %s model %s", r.Role, r.Model)
			}
		}
	}

	hist, err := a.historyStore()
	if err != nil {
		a.log.Warn("history unavailable", "err", err)
	}

	var api task.TaskAPI = backend
	if hist != nil {
		api = &recordingAPI{TaskAPI: backend, hist: hist, server: a.cfg.Server, log: a.log}
	}

	ctrl := task.New(api,
		task.WithInterval(a.cfg.PollInterval.Std()),
		task.WithLogger(a.log),
		task.WithObserver(a.progressObserver(hist)),
	)
	defer ctrl.Close()

	a.printer.Info(fmt.Sprintf("Starting analysis for %s on %s", req.Ticker, req.AnalysisDate))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	taskID, err := submitInterruptible(ctx, ctrl, annotated)
	if err != nil {
		if errors.Is(err, task.ErrAbandoned) {
			if taskID != "" {
				a.printer.Info("Submission interrupted; task " + taskID + " may still run. Follow it with: cortexctl status --watch " + taskID)
			}
			return ctrl.Snapshot(), err
		}
		return ctrl.Snapshot(), fmt.Errorf("submit analysis: %w", err)
	}

	if o.noWait {
		ctrl.Close()
		a.printer.Success("Task submitted: " + taskID)
		a.printer.Info("Follow it with: cortexctl status --watch " + taskID)
		return ctrl.Snapshot(), nil
	}

	st, err := a.follow(ctx, ctrl, o.maxWait)
	if err != nil {
		return st, err
	}
	if st.Error != "" {
		return st, fmt.Errorf("analysis failed: %s", st.Error)
	}
	fmt.Fprintln(a.out)
	a.printer.Result(st.Result, toAnalystTypes(req.Analysts))
	a.printer.Success("Analysis completed. Task id: " + st.TaskID)
	return st, nil
}

// progressObserver prints every state change and mirrors it into history
// when a store is available.
func (a *app) progressObserver(hist *history.Store) func(task.State) {
	return func(st task.State) {
		a.printer.Progress(st)
		if hist == nil || st.TaskID == "" {
			return
		}
		err := hist.Update(context.Background(), st.TaskID, st)
		if err != nil && !errors.Is(err, history.ErrNotFound) {
			a.log.Warn("history update failed", "task_id", st.TaskID, "err", err)
		}
	}
}

// recordingAPI records a task in history as soon as the backend accepts it,
// before the first status poll can report on it.
type recordingAPI struct {
	task.TaskAPI
	hist   *history.Store
	server string
	log    *slog.Logger
}

func (r *recordingAPI) SubmitTask(ctx context.Context, req models.AnalysisRequest) (*models.TaskCreated, error) {
	created, err := r.TaskAPI.SubmitTask(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := r.hist.Record(context.Background(), created.TaskID, r.server, req); err != nil {
		r.log.Warn("history record failed", "task_id", created.TaskID, "err", err)
	}
	return created, nil
}

// follow waits for the controller to settle, resetting it on interrupt or
// when maxWait elapses.
func (a *app) follow(ctx context.Context, ctrl *task.Controller, maxWait time.Duration) (task.State, error) {
	ctx, stop := signalContext(ctx, maxWait)
	defer stop()

	st, err := ctrl.Wait(ctx)
	if err == nil {
		return st, nil
	}
	taskID := st.TaskID
	ctrl.Reset()
	if errors.Is(err, context.DeadlineExceeded) {
		return st, fmt.Errorf("task %s still running after %s; check later with: cortexctl status %s", taskID, maxWait, taskID)
	}
	return st, fmt.Errorf("stopped following task %s: %w", taskID, err)
}

// submitInterruptible runs the submission and resets ctrl as soon as ctx
// ends, so an interrupt during a slow submit yields task.ErrAbandoned. The
// request itself is cancelled only after the reset.
func submitInterruptible(ctx context.Context, ctrl *task.Controller, req models.AnalysisRequest) (string, error) {
	if ctx.Err() != nil {
		return "", task.ErrAbandoned
	}
	submitCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		ctrl.Reset()
		cancel()
	})
	defer stop()
	return ctrl.RunAnalysis(submitCtx, req)
}

// signalContext ends on SIGINT or SIGTERM, and after maxWait when it is
// positive.
func signalContext(ctx context.Context, maxWait time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	if maxWait <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	return ctx, func() {
		cancel()
		stop()
	}
}

func normalizeAnalysts(in []string) []string {
	var out []string
	for _, a := range in {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "social" {
			a = string(models.SentimentAnalyst)
		}
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func toAnalystTypes(in []string) []models.AnalystType {
	out := make([]models.AnalystType, 0, len(in))
	for _, a := range in {
		out = append(out, models.AnalystType(a))
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
