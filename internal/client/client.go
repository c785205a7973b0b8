// Package client is a thin wrapper over the analysis backend's HTTP API.
// Every method performs exactly one request; retries and polling belong to
// the caller.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/dyike/cortexctl/internal/models"
)

const (
	DefaultAPIPrefix = "/api"
	DefaultTimeout   = 30 * time.Second
	RequestIDHeader  = "X-Request-ID"
)

type options struct {
	prefix     string
	timeout    time.Duration
	httpClient *http.Client
	userAgent  string
	log        *slog.Logger
}

type Option func(*options)

// WithAPIPrefix sets the path prefix of every endpoint. An empty prefix is
// allowed for backends mounted at the root.
func WithAPIPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
		if o.prefix == "/" {
			o.prefix = ""
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

func WithUserAgent(ua string) Option {
	return func(o *options) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// Client talks to one backend.
type Client struct {
	rc     *resty.Client
	prefix string
	log    *slog.Logger
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: backend base url is required")
	}

	o := options{
		prefix:    DefaultAPIPrefix,
		timeout:   DefaultTimeout,
		userAgent: "cortexctl/1.0",
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var rc *resty.Client
	if o.httpClient != nil {
		rc = resty.NewWithClient(o.httpClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(baseURL)
	rc.SetTimeout(o.timeout)
	rc.SetHeader("Accept", "application/json")
	rc.SetHeader("User-Agent", o.userAgent)
	rc.SetRetryCount(0)
	rc.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if r.Header.Get(RequestIDHeader) == "" {
			r.SetHeader(RequestIDHeader, uuid.NewString())
		}
		return nil
	})

	return &Client{rc: rc, prefix: o.prefix, log: o.log}, nil
}

func (c *Client) BaseURL() string {
	return c.rc.BaseURL
}

func (c *Client) path(p string) string {
	return c.prefix + p
}

// SubmitTask creates a new analysis task and returns its identifier.
func (c *Client) SubmitTask(ctx context.Context, req models.AnalysisRequest) (*models.TaskCreated, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(c.path("/analyze"))
	if err != nil {
		return nil, &SubmissionError{Err: err}
	}
	if resp.IsError() {
		return nil, &SubmissionError{StatusCode: resp.StatusCode(), Message: backendMessage(resp.Body())}
	}

	var created models.TaskCreated
	if err := json.Unmarshal(resp.Body(), &created); err != nil {
		return nil, &SubmissionError{StatusCode: resp.StatusCode(), Err: fmt.Errorf("parse task response: %w", err)}
	}
	if strings.TrimSpace(created.TaskID) == "" {
		return nil, &SubmissionError{StatusCode: resp.StatusCode(), Err: errors.New("backend returned no task id")}
	}
	c.log.Debug("task submitted", "task_id", created.TaskID, "ticker", req.Ticker, "date", req.AnalysisDate)
	return &created, nil
}

// GetTaskStatus fetches one snapshot of a task.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (*models.TaskStatus, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, &StatusFetchError{Err: errors.New("task id is empty")}
	}

	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("task_id", taskID).
		Get(c.path("/task/{task_id}"))
	if err != nil {
		return nil, &StatusFetchError{TaskID: taskID, Err: err}
	}
	if resp.IsError() {
		return nil, &StatusFetchError{TaskID: taskID, StatusCode: resp.StatusCode(), Message: backendMessage(resp.Body())}
	}

	var status models.TaskStatus
	if err := json.Unmarshal(resp.Body(), &status); err != nil {
		return nil, &StatusFetchError{TaskID: taskID, StatusCode: resp.StatusCode(), Err: fmt.Errorf("parse status: %w", err)}
	}
	if status.TaskID == "" {
		status.TaskID = taskID
	}
	return &status, nil
}

func (c *Client) GetConfig(ctx context.Context) (*models.ConfigResponse, error) {
	var out models.ConfigResponse
	if err := c.getJSON(ctx, "get config", "/config", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetTickers(ctx context.Context) ([]models.Ticker, error) {
	var out models.TickerList
	if err := c.getJSON(ctx, "get tickers", "/tickers", &out); err != nil {
		return nil, err
	}
	return out.Tickers, nil
}

func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var out models.HealthResponse
	if err := c.getJSON(ctx, "health check", "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, op, p string, out any) error {
	resp, err := c.rc.R().SetContext(ctx).Get(c.path(p))
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	if resp.IsError() {
		return &RequestError{Op: op, StatusCode: resp.StatusCode(), Message: backendMessage(resp.Body())}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &RequestError{Op: op, StatusCode: resp.StatusCode(), Err: fmt.Errorf("parse response: %w", err)}
	}
	return nil
}

// Download is a report file produced by the backend.
type Download struct {
	Filename    string
	ContentType string
	Data        []byte
}

// DownloadReports fetches the rendered reports of a completed task: a PDF
// for one analyst, a ZIP for several.
func (c *Client) DownloadReports(ctx context.Context, req models.DownloadRequest) (*Download, error) {
	const op = "download reports"
	if len(req.Analysts) == 0 {
		return nil, &RequestError{Op: op, Err: errors.New("no analysts selected")}
	}

	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/pdf, application/zip, application/json").
		SetBody(req).
		Post(c.path("/download/reports"))
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	if resp.IsError() {
		return nil, &RequestError{Op: op, StatusCode: resp.StatusCode(), Message: backendMessage(resp.Body())}
	}

	return &Download{
		Filename:    downloadFilename(resp.Header().Get("Content-Disposition"), req),
		ContentType: resp.Header().Get("Content-Type"),
		Data:        resp.Body(),
	}, nil
}

func downloadFilename(disposition string, req models.DownloadRequest) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := strings.TrimSpace(params["filename"]); name != "" {
				return name
			}
		}
	}
	ext := ".pdf"
	if len(req.Analysts) > 1 {
		ext = ".zip"
	}
	return fmt.Sprintf("%s_%s%s", req.Ticker, req.AnalysisDate, ext)
}
