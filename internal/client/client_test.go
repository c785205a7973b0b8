package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/dyike/cortexctl/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, body)
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}

func TestSubmitTask(t *testing.T) {
	var got models.AnalysisRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/analyze" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get(RequestIDHeader) == "" {
			t.Errorf("missing %s header", RequestIDHeader)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		writeJSON(w, http.StatusOK, `{"task_id":"abc-123","status":"pending","message":"Task created"}`)
	})

	req := models.AnalysisRequest{Ticker: "NVDA", AnalysisDate: "2024-05-10", Analysts: []string{"market"}, ResearchDepth: 1}
	created, err := c.SubmitTask(context.Background(), req)
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if created.TaskID != "abc-123" || created.Status != models.TaskPending {
		t.Fatalf("unexpected response: %+v", created)
	}
	if got.Ticker != "NVDA" || got.AnalysisDate != "2024-05-10" || len(got.Analysts) != 1 {
		t.Fatalf("request not forwarded: %+v", got)
	}
}

func TestSubmitTaskErrors(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		wantMsg string
	}{
		{"detail string", http.StatusBadRequest, `{"detail":"Invalid ticker"}`, "Invalid ticker"},
		{"error field", http.StatusInternalServerError, `{"error":"Internal server error","detail":""}`, "Internal server error"},
		{"validation array", http.StatusUnprocessableEntity,
			`{"detail":[{"loc":["body","research_depth"],"msg":"ensure this value is less than or equal to 5","type":"value_error"}]}`,
			"research_depth: ensure this value is less than or equal to 5"},
		{"html page", http.StatusBadGateway, `<html><head><title>502 Bad Gateway</title></head><body>nginx</body></html>`, "502 Bad Gateway"},
		{"no body", http.StatusServiceUnavailable, ``, "analysis submission failed (HTTP 503)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.SubmitTask(context.Background(), models.AnalysisRequest{Ticker: "X"})
			var subErr *SubmissionError
			if !errors.As(err, &subErr) {
				t.Fatalf("expected SubmissionError, got %T %v", err, err)
			}
			if subErr.StatusCode != tt.code {
				t.Fatalf("status = %d, want %d", subErr.StatusCode, tt.code)
			}
			if err.Error() != tt.wantMsg {
				t.Fatalf("message = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestSubmitTaskMissingTaskID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"pending"}`)
	})
	_, err := c.SubmitTask(context.Background(), models.AnalysisRequest{})
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
}

func TestSubmitTaskTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.SubmitTask(context.Background(), models.AnalysisRequest{})
	var subErr *SubmissionError
	if !errors.As(err, &subErr) || subErr.Err == nil {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), submissionFailed) {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestGetTaskStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/task/abc-123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, `{
			"task_id":"abc-123","status":"completed","progress":"done",
			"result":{"status":"completed","ticker":"NVDA","analysis_date":"2024-05-10",
				"decision":{"action":"BUY","confidence":0.8,"reasoning":"momentum"}},
			"created_at":"2024-05-10T10:00:00","completed_at":"2024-05-10T10:05:00"}`)
	})

	st, err := c.GetTaskStatus(context.Background(), "abc-123")
	if err != nil {
		t.Fatalf("GetTaskStatus: %v", err)
	}
	if st.Status != models.TaskCompleted || st.Result == nil || st.Result.Decision == nil {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.Result.Decision.Action != "BUY" {
		t.Fatalf("decision action = %q", st.Result.Decision.Action)
	}
	if err := st.Validate(); err != nil {
		t.Fatalf("snapshot invalid: %v", err)
	}
}

func TestGetTaskStatusFailedTaskIsData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"task_id":"t1","status":"failed","error":"rate limited"}`)
	})
	st, err := c.GetTaskStatus(context.Background(), "t1")
	if err != nil {
		t.Fatalf("failed task must not be an error: %v", err)
	}
	if st.Status != models.TaskFailed || st.Error != "rate limited" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestGetTaskStatusErrors(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusNotFound, `{"detail":"Task not found"}`)
	})

	_, err := c.GetTaskStatus(context.Background(), "")
	var fetchErr *StatusFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected StatusFetchError for empty id, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("empty id must not reach the backend")
	}

	_, err = c.GetTaskStatus(context.Background(), "missing")
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected StatusFetchError, got %v", err)
	}
	if fetchErr.StatusCode != http.StatusNotFound || fetchErr.Message != "Task not found" {
		t.Fatalf("unexpected error: %+v", fetchErr)
	}
}

func TestReadOnlyEndpoints(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/config":
			writeJSON(w, http.StatusOK, `{"available_analysts":["market","news"],
				"available_llms":{"openai":["gpt-4o-mini","gpt-4o"],"deepseek":["deepseek-chat"]},
				"default_config":{"deep_think_llm":"gpt-4o"}}`)
		case "/v2/tickers":
			writeJSON(w, http.StatusOK, `{"tickers":[{"symbol":"AAPL","name":"Apple Inc."},{"symbol":"NVDA","name":"NVIDIA"}]}`)
		case "/v2/health":
			writeJSON(w, http.StatusOK, `{"status":"healthy","version":"1.0.0"}`)
		default:
			http.NotFound(w, r)
		}
	}, WithAPIPrefix("v2/"))

	ctx := context.Background()
	cfg, err := c.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if len(cfg.Models()) != 3 || cfg.DefaultString("deep_think_llm") != "gpt-4o" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	tickers, err := c.GetTickers(ctx)
	if err != nil {
		t.Fatalf("GetTickers: %v", err)
	}
	if len(tickers) != 2 || tickers[1].Symbol != "NVDA" {
		t.Fatalf("unexpected tickers: %+v", tickers)
	}

	health, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != "healthy" {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestReadOnlyEndpointError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"error":"Internal server error","detail":"boom"}`)
	})
	_, err := c.Health(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.Op != "health check" || reqErr.Message != "boom" {
		t.Fatalf("unexpected error: %+v", reqErr)
	}
}

func TestDownloadReports(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/download/reports" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body models.DownloadRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.TaskID != "t1" {
			t.Errorf("task id not forwarded: %+v", body)
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="NVDA_2024-05-10_reports.zip"`)
		_, _ = w.Write([]byte("PK\x03\x04"))
	})

	dl, err := c.DownloadReports(context.Background(), models.DownloadRequest{
		Ticker: "NVDA", AnalysisDate: "2024-05-10", TaskID: "t1", Analysts: []string{"market", "news"},
	})
	if err != nil {
		t.Fatalf("DownloadReports: %v", err)
	}
	if dl.Filename != "NVDA_2024-05-10_reports.zip" || dl.ContentType != "application/zip" || string(dl.Data) != "PK\x03\x04" {
		t.Fatalf("unexpected download: %+v", dl)
	}

	if _, err := c.DownloadReports(context.Background(), models.DownloadRequest{TaskID: "t1"}); err == nil {
		t.Fatalf("expected error without analysts")
	}
}

func TestDownloadFilenameFallback(t *testing.T) {
	req := models.DownloadRequest{Ticker: "AAPL", AnalysisDate: "2024-01-02", Analysts: []string{"market"}}
	if got := downloadFilename("", req); got != "AAPL_2024-01-02.pdf" {
		t.Fatalf("got %q", got)
	}
	req.Analysts = append(req.Analysts, "news")
	if got := downloadFilename("attachment", req); got != "AAPL_2024-01-02.zip" {
		t.Fatalf("got %q", got)
	}
}

func TestBackendMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{``, ""},
		{`{"detail":"nope"}`, "nope"},
		{`{"message":"quota"}`, "quota"},
		{`"plain json string"`, "plain json string"},
		{`{"unrelated":true}`, ""},
		{`upstream timed out`, "upstream timed out"},
		{`<!DOCTYPE html><html><body><h1>Service Unavailable</h1></body></html>`, "Service Unavailable"},
	}
	for _, tt := range tests {
		if got := backendMessage([]byte(tt.body)); got != tt.want {
			t.Errorf("backendMessage(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}

	long := strings.Repeat("x", 1000)
	if got := backendMessage([]byte(long)); len(got) != maxMessageLen {
		t.Fatalf("expected truncation to %d, got %d", maxMessageLen, len(got))
	}

	wide := backendMessage([]byte(`{"detail":"x` + strings.Repeat("分析失敗", 40) + `"}`))
	if !utf8.ValidString(wide) {
		t.Fatalf("truncated message is not valid UTF-8: %q", wide)
	}
	if len(wide) > maxMessageLen || !strings.HasSuffix(wide, "...") || !strings.HasPrefix(wide, "x分析失敗") {
		t.Fatalf("unexpected truncation: %q (%d bytes)", wide, len(wide))
	}
}
