package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dyike/cortexctl/config"
	"github.com/dyike/cortexctl/internal/credentials"
	"github.com/dyike/cortexctl/internal/history"
	"github.com/dyike/cortexctl/internal/models"
	"github.com/dyike/cortexctl/internal/task"
)

// syncBuffer lets controller observers and the command write concurrently.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CORTEXCTL_SERVER", "CORTEXCTL_API_PREFIX", "CORTEXCTL_POLL_INTERVAL", "CORTEXCTL_TIMEOUT",
		"CORTEXCTL_STATE_DIR", "CORTEXCTL_HISTORY_DB", "CORTEXCTL_QUICK_MODEL", "CORTEXCTL_DEEP_MODEL",
		"CORTEXCTL_RESEARCH_DEPTH", "CORTEXCTL_DEBUG",
	} {
		t.Setenv(k, "")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &syncBuffer{}
	cmd := NewRootCmd(out)
	cmd.SetArgs(args)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := config.DefaultConfigWithRoot(t.TempDir())
	return &app{cfg: *cfg}
}

func TestBuildRequestDefaults(t *testing.T) {
	a := newTestApp(t)
	a.cfg.ResearchDepth = 3
	a.cfg.DeepThinkLLM = "deepseek-chat"

	req, err := a.buildRequest(" nvda ", analyzeOptions{analysts: []string{"Market", "social"}})
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if req.Ticker != "NVDA" {
		t.Fatalf("ticker = %q", req.Ticker)
	}
	if req.AnalysisDate != time.Now().Format(models.DateLayout) {
		t.Fatalf("date = %q", req.AnalysisDate)
	}
	if got := strings.Join(req.Analysts, ","); got != "market,sentiment" {
		t.Fatalf("analysts = %q", got)
	}
	if req.ResearchDepth != 3 || req.DeepThinkLLM != "deepseek-chat" || req.QuickThinkLLM != models.DefaultThinkModel {
		t.Fatalf("defaults not applied: %+v", req)
	}

	req, err = a.buildRequest("AAPL", analyzeOptions{depth: 5, quickModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if req.ResearchDepth != 5 || req.QuickThinkLLM != "gpt-4o" {
		t.Fatalf("flags should win over config: %+v", req)
	}
}

func TestBuildRequestInvalid(t *testing.T) {
	a := newTestApp(t)
	cases := map[string]analyzeOptions{
		"bad date":    {date: "10/05/2024"},
		"bad analyst": {analysts: []string{"astrology"}},
		"too deep":    {depth: 9},
	}
	for name, o := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := a.buildRequest("AAPL", o); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if _, err := a.buildRequest("not a ticker!", analyzeOptions{}); err == nil {
		t.Fatalf("expected ticker error")
	}
}

func TestValidateAnalysisDate(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	for _, ok := range []string{"", "2024-05-10", "2024-05-11", "2020-01-01"} {
		if err := validateAnalysisDate(ok, now); err != nil {
			t.Fatalf("%q: %v", ok, err)
		}
	}
	for _, bad := range []string{"2024-13-01", "2024-05-20", "2018-01-01", "yesterday"} {
		if err := validateAnalysisDate(bad, now); err == nil {
			t.Fatalf("%q accepted", bad)
		}
	}
}

func TestCredentialSlots(t *testing.T) {
	if !validSlotKey("openai_api_key") || !validSlotKey(customBaseURLKey) || validSlotKey("password") {
		t.Fatalf("slot validation is wrong")
	}
	set := applyCredential(credentials.Default(), "deepseek_api_key", "sk-deep")
	set = applyCredential(set, customBaseURLKey, "https://llm.internal/v1")
	if set.DeepSeekAPIKey != "sk-deep" || set.CustomBaseURL != "https://llm.internal/v1" {
		t.Fatalf("unexpected set: %+v", set)
	}
}

func TestFillDownloadRequest(t *testing.T) {
	e := &history.Entry{Ticker: "NVDA", AnalysisDate: "2024-05-10", Analysts: []string{"market", "news"}}

	got := fillDownloadRequest(models.DownloadRequest{TaskID: "t1"}, e)
	if got.Ticker != "NVDA" || got.AnalysisDate != "2024-05-10" || len(got.Analysts) != 2 {
		t.Fatalf("not filled from history: %+v", got)
	}

	got = fillDownloadRequest(models.DownloadRequest{TaskID: "t1", Analysts: []string{"news"}}, e)
	if len(got.Analysts) != 1 || got.Analysts[0] != "news" {
		t.Fatalf("explicit analysts overwritten: %+v", got)
	}
}

func TestValidateSymbols(t *testing.T) {
	valid, invalid := ValidateSymbols([]string{"aapl", "BRK.B", "AAPL", "way-too-long-symbol", "$$$"})
	if strings.Join(valid, ",") != "AAPL,BRK.B" {
		t.Fatalf("valid = %v", valid)
	}
	if len(invalid) != 2 {
		t.Fatalf("invalid = %v", invalid)
	}
}

func TestLoadSymbolsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.txt")
	if err := os.WriteFile(path, []byte("# watchlist\nAAPL\n\nmsft nvda\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadSymbolsFromFile(path)
	if err != nil {
		t.Fatalf("LoadSymbolsFromFile: %v", err)
	}
	if strings.Join(got, ",") != "AAPL,msft,nvda" {
		t.Fatalf("symbols = %v", got)
	}

	empty := filepath.Join(t.TempDir(), "empty.txt")
	_ = os.WriteFile(empty, []byte("# nothing\n"), 0o644)
	if _, err := LoadSymbolsFromFile(empty); err == nil {
		t.Fatalf("expected error for file without symbols")
	}
}

type batchAPI struct {
	mu    sync.Mutex
	fail  map[string]bool
	tasks map[string]string
	delay time.Duration
}

func (b *batchAPI) SubmitTask(ctx context.Context, req models.AnalysisRequest) (*models.TaskCreated, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail[req.Ticker] {
		return nil, errors.New("rejected")
	}
	id := req.Ticker + "-task"
	b.tasks[id] = req.Ticker
	return &models.TaskCreated{TaskID: id, Status: models.TaskPending}, nil
}

func (b *batchAPI) GetTaskStatus(ctx context.Context, taskID string) (*models.TaskStatus, error) {
	time.Sleep(b.delay)
	b.mu.Lock()
	defer b.mu.Unlock()
	return &models.TaskStatus{
		TaskID: taskID,
		Status: models.TaskCompleted,
		Result: &models.AnalysisResult{Ticker: b.tasks[taskID]},
	}, nil
}

func TestBatchManagerRun(t *testing.T) {
	api := &batchAPI{fail: map[string]bool{"TSLA": true}, tasks: map[string]string{}, delay: 50 * time.Millisecond}
	bm := NewBatchManager(api, 10*time.Millisecond, 2, nil)

	reqs := []models.AnalysisRequest{
		{Ticker: "AAPL", AnalysisDate: "2024-05-10"},
		{Ticker: "TSLA", AnalysisDate: "2024-05-10"},
		{Ticker: "NVDA", AnalysisDate: "2024-05-10"},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results := bm.Run(ctx, reqs)

	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Symbol != "AAPL" || results[0].Status != models.TaskCompleted || results[0].TaskID != "AAPL-task" {
		t.Fatalf("AAPL = %+v", results[0])
	}
	if results[1].Status != models.TaskFailed || !strings.Contains(results[1].Error, "rejected") {
		t.Fatalf("TSLA = %+v", results[1])
	}
	if results[2].Status != models.TaskCompleted {
		t.Fatalf("NVDA = %+v", results[2])
	}
	if n := countIncomplete(results); n != 1 {
		t.Fatalf("incomplete = %d", n)
	}
	for _, r := range []BatchResult{results[0], results[2]} {
		if r.Duration < 50*time.Millisecond {
			t.Fatalf("%s duration = %s, want at least the 50ms status call", r.Symbol, r.Duration)
		}
	}
}

func TestNewBatchManagerClampsConcurrency(t *testing.T) {
	if bm := NewBatchManager(nil, time.Second, 0, nil); bm.concurrent != defaultConcurrency {
		t.Fatalf("concurrent = %d", bm.concurrent)
	}
	if bm := NewBatchManager(nil, time.Second, 50, nil); bm.concurrent != maxConcurrency {
		t.Fatalf("concurrent = %d", bm.concurrent)
	}
	if bm := NewBatchManager(nil, time.Second, 7, nil); bm.concurrent != 7 {
		t.Fatalf("concurrent = %d", bm.concurrent)
	}
}

// fakeBackend answers the analysis endpoints: one submission, then a task
// that is running on the first poll and completed afterwards.
func fakeBackend(t *testing.T) (*httptest.Server, func() models.AnalysisRequest) {
	t.Helper()
	var (
		mu        sync.Mutex
		submitted models.AnalysisRequest
		polls     atomic.Int32
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/analyze", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&submitted); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"task_id":"task-0001","status":"pending","message":"queued"}`)
	})
	mux.HandleFunc("GET /api/task/task-0001", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if polls.Add(1) == 1 {
			_, _ = io.WriteString(w, `{"task_id":"task-0001","status":"running","progress":"Running market analyst"}`)
			return
		}
		_, _ = io.WriteString(w, `{"task_id":"task-0001","status":"completed","result":{
			"status":"completed","ticker":"NVDA","analysis_date":"2024-05-10",
			"decision":{"action":"buy","quantity":100,"confidence":0.8,"reasoning":"Demand is strong."},
			"reports":{"market_report":"Momentum is positive.","final_trade_decision":"BUY"}}}`)
	})
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"healthy","version":"1.2.0"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, func() models.AnalysisRequest {
		mu.Lock()
		defer mu.Unlock()
		return submitted
	}
}

func TestAnalyzeCommandEndToEnd(t *testing.T) {
	clearEnv(t)
	srv, submitted := fakeBackend(t)
	stateDir := t.TempDir()
	global := []string{"--state-dir", stateDir, "--server", srv.URL, "--poll-interval", "100ms", "--no-color"}

	if _, err := execute(t, append(global, "credentials", "set", "openai_api_key", "sk-test-1234567890")...); err != nil {
		t.Fatalf("credentials set: %v", err)
	}

	out, err := execute(t, append(global, "analyze", "nvda", "--date", "2024-05-10", "--analysts", "market")...)
	if err != nil {
		t.Fatalf("analyze: %v\n%s", err, out)
	}
	for _, want := range []string{"Running market analyst", "BUY", "Momentum is positive.", "task-0001"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}

	got := submitted()
	if got.Ticker != "NVDA" || got.QuickThinkAPIKey != "sk-test-1234567890" || got.QuickThinkBaseURL == "" {
		t.Fatalf("request not annotated: %+v", got)
	}

	hist, err := history.Open(filepath.Join(stateDir, "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer hist.Close()
	e, err := hist.Get(context.Background(), "task-0001")
	if err != nil {
		t.Fatalf("history get: %v", err)
	}
	if e.Status != models.TaskCompleted || e.Result == nil || e.Ticker != "NVDA" {
		t.Fatalf("history entry = %+v", e)
	}
}

func TestHealthCommand(t *testing.T) {
	clearEnv(t)
	srv, _ := fakeBackend(t)
	out, err := execute(t, "--state-dir", t.TempDir(), "--server", srv.URL, "--no-color", "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out, "healthy") || !strings.Contains(out, "1.2.0") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestInvalidGlobalFlags(t *testing.T) {
	clearEnv(t)
	if _, err := execute(t, "--state-dir", t.TempDir(), "--server", "not a url", "version"); err == nil {
		t.Fatalf("expected invalid server error")
	}
	if _, err := execute(t, "--state-dir", t.TempDir(), "--poll-interval", "10ms", "version"); err == nil {
		t.Fatalf("expected poll interval error")
	}
}

// slowSubmitAPI holds every submission until its context ends, then reports
// whether the backend had accepted it anyway.
type slowSubmitAPI struct {
	entered  chan struct{}
	acceptID string
}

func (s *slowSubmitAPI) SubmitTask(ctx context.Context, req models.AnalysisRequest) (*models.TaskCreated, error) {
	close(s.entered)
	<-ctx.Done()
	if s.acceptID != "" {
		return &models.TaskCreated{TaskID: s.acceptID, Status: models.TaskPending}, nil
	}
	return nil, ctx.Err()
}

func (s *slowSubmitAPI) GetTaskStatus(ctx context.Context, taskID string) (*models.TaskStatus, error) {
	return &models.TaskStatus{TaskID: taskID, Status: models.TaskRunning}, nil
}

func TestSubmitInterruptibleAbandons(t *testing.T) {
	for _, acceptID := range []string{"", "task-late"} {
		api := &slowSubmitAPI{entered: make(chan struct{}), acceptID: acceptID}
		ctrl := task.New(api, task.WithInterval(time.Hour))
		ctx, cancel := context.WithCancel(context.Background())

		type outcome struct {
			id  string
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			id, err := submitInterruptible(ctx, ctrl, models.AnalysisRequest{Ticker: "NVDA"})
			done <- outcome{id, err}
		}()

		<-api.entered
		cancel()
		select {
		case got := <-done:
			if !errors.Is(got.err, task.ErrAbandoned) {
				t.Fatalf("accept %q: err = %v, want ErrAbandoned", acceptID, got.err)
			}
			if got.id != acceptID {
				t.Fatalf("task id = %q, want %q", got.id, acceptID)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("submission not abandoned")
		}
		if st := ctrl.Snapshot(); st.Loading || st.Error != "" {
			t.Fatalf("controller not idle: %+v", st)
		}
		ctrl.Close()
	}
}
