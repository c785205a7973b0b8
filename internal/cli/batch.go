package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/cortexctl/internal/display"
	"github.com/dyike/cortexctl/internal/models"
	"github.com/dyike/cortexctl/internal/resolver"
	"github.com/dyike/cortexctl/internal/task"
)

const (
	defaultConcurrency = 3
	maxConcurrency     = 10
)

// BatchResult is the outcome of one symbol in a batch.
type BatchResult struct {
	Symbol   string
	Date     string
	TaskID   string
	Status   models.TaskState
	Error    string
	Duration time.Duration
}

// BatchManager runs several analyses at once, each with its own controller.
type BatchManager struct {
	api        task.TaskAPI
	interval   time.Duration
	concurrent int
	log        *slog.Logger

	// observe, when set, is called with every state change of every task.
	observe func(symbol string, st task.State)
}

func NewBatchManager(api task.TaskAPI, interval time.Duration, concurrent int, log *slog.Logger) *BatchManager {
	switch {
	case concurrent <= 0:
		concurrent = defaultConcurrency
	case concurrent > maxConcurrency:
		concurrent = maxConcurrency
	}
	if log == nil {
		log = slog.Default()
	}
	return &BatchManager{api: api, interval: interval, concurrent: concurrent, log: log}
}

// Run submits every request and waits for all of them to settle or for ctx
// to end. Results keep the order of reqs.
func (bm *BatchManager) Run(ctx context.Context, reqs []models.AnalysisRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))
	semaphore := make(chan struct{}, bm.concurrent)
	var wg sync.WaitGroup

	for i, req := range reqs {
		results[i] = BatchResult{Symbol: req.Ticker, Date: req.AnalysisDate, Status: models.TaskPending}
		wg.Add(1)
		go func(idx int, req models.AnalysisRequest) {
			defer wg.Done()
			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				results[idx].Error = ctx.Err().Error()
				return
			}
			defer func() { <-semaphore }()
			results[idx] = bm.runOne(ctx, req)
		}(i, req)
	}

	wg.Wait()
	return results
}

func (bm *BatchManager) runOne(ctx context.Context, req models.AnalysisRequest) (res BatchResult) {
	res = BatchResult{Symbol: req.Ticker, Date: req.AnalysisDate}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	opts := []task.Option{task.WithInterval(bm.interval), task.WithLogger(bm.log)}
	if bm.observe != nil {
		symbol := req.Ticker
		opts = append(opts, task.WithObserver(func(st task.State) { bm.observe(symbol, st) }))
	}
	ctrl := task.New(bm.api, opts...)
	defer ctrl.Close()

	taskID, err := ctrl.RunAnalysis(ctx, req)
	res.TaskID = taskID
	if err != nil {
		res.Status = models.TaskFailed
		res.Error = err.Error()
		return res
	}

	st, err := ctrl.Wait(ctx)
	res.Status = st.Status
	switch {
	case err != nil:
		res.Error = "stopped following: " + err.Error()
	case st.Error != "":
		res.Status = models.TaskFailed
		res.Error = st.Error
	}
	return res
}

// LoadSymbolsFromFile loads symbols from a text file (one symbol per line)
func LoadSymbolsFromFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols file: %w", err)
	}
	defer f.Close()

	var symbols []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbols = append(symbols, strings.Fields(line)...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read symbols file: %w", err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no valid symbols found in file: %s", filename)
	}
	return symbols, nil
}

// ValidateSymbols splits symbols into valid and invalid ones, upper-cased
// and de-duplicated.
func ValidateSymbols(symbols []string) (valid, invalid []string) {
	seen := map[string]bool{}
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if seen[s] {
			continue
		}
		seen[s] = true
		if models.ValidTicker(s) {
			valid = append(valid, s)
		} else {
			invalid = append(invalid, s)
		}
	}
	return valid, invalid
}

func newBatchCmd(a *app) *cobra.Command {
	var (
		o          analyzeOptions
		file       string
		concurrent int
	)
	cmd := &cobra.Command{
		Use:   "batch [SYMBOL...]",
		Short: "Analyze several tickers concurrently",
		Long: `Submit one analysis per ticker with shared settings and follow them all
until they settle. Tickers come from the arguments and from --file (one per
line, '#' starts a comment).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			symbols := append([]string(nil), args...)
			if file != "" {
				more, err := LoadSymbolsFromFile(file)
				if err != nil {
					return err
				}
				symbols = append(symbols, more...)
			}
			valid, invalid := ValidateSymbols(symbols)
			for _, s := range invalid {
				a.printer.Error(fmt.Errorf("skipping invalid ticker %q", s))
			}
			if len(valid) == 0 {
				return errors.New("no symbols provided for batch analysis")
			}
			return a.runBatch(cmd.Context(), valid, o, concurrent)
		},
	}
	f := cmd.Flags()
	f.StringVar(&file, "file", "", "File with one ticker per line")
	f.IntVarP(&concurrent, "concurrent", "c", defaultConcurrency, "Analyses to run at once (1-10)")
	f.StringVar(&o.date, "date", "", "Analysis date in YYYY-MM-DD format (today if not provided)")
	f.StringSliceVar(&o.analysts, "analysts", nil, "Analysts to run (all if not provided)")
	f.IntVar(&o.depth, "depth", 0, "Research depth 1-5")
	f.StringVar(&o.quickModel, "quick-model", "", "Quick-thinking model")
	f.StringVar(&o.deepModel, "deep-model", "", "Deep-thinking model")
	f.DurationVar(&o.maxWait, "max-wait", 0, "Stop following after this long (0 waits until every task ends)")
	return cmd
}

func (a *app) runBatch(ctx context.Context, symbols []string, o analyzeOptions, concurrent int) error {
	backend, err := a.backend()
	if err != nil {
		return err
	}
	creds := a.credentialStore().Load()

	reqs := make([]models.AnalysisRequest, 0, len(symbols))
	for _, s := range symbols {
		req, err := a.buildRequest(s, o)
		if err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
		annotated, _ := resolver.Annotate(req, creds)
		reqs = append(reqs, annotated)
	}

	var api task.TaskAPI = backend
	hist, err := a.historyStore()
	if err != nil {
		a.log.Warn("history unavailable", "err", err)
	} else {
		api = &recordingAPI{TaskAPI: backend, hist: hist, server: a.cfg.Server, log: a.log}
	}

	bm := NewBatchManager(api, a.cfg.PollInterval.Std(), concurrent, a.log)
	progress := a.progressObserver(hist)
	var mu sync.Mutex
	bm.observe = func(symbol string, st task.State) {
		mu.Lock()
		defer mu.Unlock()
		if st.Loading && st.TaskID == "" {
			return
		}
		fmt.Fprintf(a.out, "%-8s ", symbol)
		progress(st)
	}

	a.printer.Info(fmt.Sprintf("Starting batch analysis for %d symbols (%d at a time)", len(reqs), bm.concurrent))
	ctx, stop := signalContext(ctx, o.maxWait)
	defer stop()
	start := time.Now()
	results := bm.Run(ctx, reqs)

	fmt.Fprintln(a.out)
	a.printer.BatchSummary(toSummaryRows(results), time.Since(start))
	if n := countIncomplete(results); n > 0 {
		return fmt.Errorf("%d of %d analyses did not complete", n, len(results))
	}
	return nil
}

func toSummaryRows(results []BatchResult) []display.BatchRow {
	rows := make([]display.BatchRow, 0, len(results))
	for _, r := range results {
		rows = append(rows, display.BatchRow{
			Symbol: r.Symbol, Date: r.Date, TaskID: r.TaskID,
			Status: r.Status, Error: r.Error, Duration: r.Duration,
		})
	}
	return rows
}

func countIncomplete(results []BatchResult) int {
	n := 0
	for _, r := range results {
		if r.Status != models.TaskCompleted {
			n++
		}
	}
	return n
}
