// Package task drives one analysis task from submission to a terminal state.
//
// A Controller submits a request, then polls the backend on a fixed interval
// until the task completes, fails, or the caller resets it. Poll checks may
// overlap; each check carries the generation it was started under and its
// result is dropped when the generation has moved on.
package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dyike/cortexctl/internal/models"
)

const (
	DefaultInterval        = 3 * time.Second
	DefaultInitialProgress = "Submitting analysis request..."
	WaitingProgress        = "Task created, waiting for the backend..."
	FailedFallback         = "analysis failed"
)

// ErrAbandoned is returned by RunAnalysis when the controller was reset or
// closed while the submission was in flight. The backend task may still run.
var ErrAbandoned = errors.New("task: analysis abandoned before polling started")

// TaskAPI is the part of the backend client the controller needs.
type TaskAPI interface {
	SubmitTask(ctx context.Context, req models.AnalysisRequest) (*models.TaskCreated, error)
	GetTaskStatus(ctx context.Context, taskID string) (*models.TaskStatus, error)
}

// State is the observable state of a controller.
type State struct {
	Loading  bool
	Progress string
	Result   *models.AnalysisResult
	Error    string
	TaskID   string

	// Status is the last task status observed from the backend.
	Status models.TaskState
}

// Idle reports whether the controller holds no task at all.
func (s State) Idle() bool {
	return !s.Loading && s.TaskID == "" && s.Result == nil && s.Error == "" && s.Progress == ""
}

type Option func(*Controller)

func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithObserver registers fn to be called after every state change. Calls are
// serialized and never carry a state older than one already delivered. fn
// must not call back into the controller's mutating methods.
func WithObserver(fn func(State)) Option {
	return func(c *Controller) {
		c.observer = fn
	}
}

func WithInitialProgress(msg string) Option {
	return func(c *Controller) {
		if msg != "" {
			c.initialProgress = msg
		}
	}
}

type Controller struct {
	api             TaskAPI
	interval        time.Duration
	log             *slog.Logger
	observer        func(State)
	initialProgress string

	mu        sync.Mutex
	state     State
	gen       uint64
	version   uint64
	delivered uint64
	cancel    context.CancelFunc
	changed   chan struct{}

	obsMu       sync.Mutex
	lastVersion uint64
}

func New(api TaskAPI, opts ...Option) *Controller {
	c := &Controller{
		api:             api,
		interval:        DefaultInterval,
		log:             slog.Default(),
		initialProgress: DefaultInitialProgress,
		changed:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAnalysis submits req and, on success, starts polling the new task. Any
// cycle already running is cancelled first. A submission failure leaves the
// controller idle with the error set and is also returned.
func (c *Controller) RunAnalysis(ctx context.Context, req models.AnalysisRequest) (string, error) {
	c.mu.Lock()
	c.stopLocked()
	gen := c.gen
	st, v := c.setLocked(State{Loading: true, Progress: c.initialProgress})
	c.mu.Unlock()
	c.notify(st, v)

	created, err := c.api.SubmitTask(ctx, req)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if err == nil {
			c.log.Info("submitted task abandoned", "task_id", created.TaskID)
			return created.TaskID, ErrAbandoned
		}
		return "", ErrAbandoned
	}
	if err != nil {
		st, v = c.setLocked(State{Error: err.Error()})
		c.mu.Unlock()
		c.notify(st, v)
		c.log.Warn("analysis submission failed", "ticker", req.Ticker, "err", err)
		return "", err
	}

	progress := created.Message
	if progress == "" {
		progress = WaitingProgress
	}
	status := created.Status
	if status == "" {
		status = models.TaskPending
	}
	st, v = c.setLocked(State{Loading: true, Progress: progress, TaskID: created.TaskID, Status: status})
	c.startLocked(created.TaskID)
	c.mu.Unlock()
	c.notify(st, v)

	c.log.Info("analysis task started", "task_id", created.TaskID, "ticker", req.Ticker, "interval", c.interval)
	return created.TaskID, nil
}

// Track starts polling a task that was submitted elsewhere, replacing any
// active cycle.
func (c *Controller) Track(taskID string) error {
	if taskID == "" {
		return errors.New("task: task id is empty")
	}
	c.mu.Lock()
	c.stopLocked()
	st, v := c.setLocked(State{Loading: true, Progress: WaitingProgress, TaskID: taskID})
	c.startLocked(taskID)
	c.mu.Unlock()
	c.notify(st, v)
	return nil
}

// Reset cancels any active cycle and returns to the idle state. It is safe
// to call at any time.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.stopLocked()
	st, v := c.setLocked(State{})
	c.mu.Unlock()
	c.notify(st, v)
}

// Close stops polling unconditionally. The last result or error stays
// readable; a new RunAnalysis starts a fresh cycle.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopLocked()
	if !c.state.Loading {
		c.mu.Unlock()
		return
	}
	next := c.state
	next.Loading = false
	next.Progress = ""
	st, v := c.setLocked(next)
	c.mu.Unlock()
	c.notify(st, v)
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wait blocks until the controller stops loading and the observer has seen
// that state, or until ctx is done.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	for {
		c.mu.Lock()
		st, ch := c.state, c.changed
		settled := !st.Loading && c.delivered >= c.version
		c.mu.Unlock()
		if settled {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// stopLocked cancels the active cycle and invalidates every in-flight check.
// Calling it with no active cycle only bumps the generation.
func (c *Controller) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
}

func (c *Controller) startLocked(taskID string) {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.poll(ctx, c.gen, taskID)
}

func (c *Controller) poll(ctx context.Context, gen uint64, taskID string) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	go c.check(ctx, gen, taskID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go c.check(ctx, gen, taskID)
		}
	}
}

func (c *Controller) check(ctx context.Context, gen uint64, taskID string) {
	if ctx.Err() != nil {
		return
	}

	status, err := c.api.GetTaskStatus(ctx, taskID)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("task status check failed", "task_id", taskID, "err", err)
		}
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}

	next := c.state
	next.Status = status.Status
	switch status.Status {
	case models.TaskCompleted:
		c.stopLocked()
		next.Loading = false
		next.Progress = ""
		next.Error = ""
		if status.Result != nil {
			next.Result = status.Result
		}
	case models.TaskFailed:
		c.stopLocked()
		next.Loading = false
		next.Progress = ""
		next.Result = nil
		next.Error = status.Error
		if next.Error == "" {
			next.Error = FailedFallback
		}
	default:
		if status.Progress != "" {
			next.Progress = status.Progress
		}
	}
	st, v := c.setLocked(next)
	c.mu.Unlock()
	c.notify(st, v)

	if st.Status.IsTerminal() {
		c.log.Info("analysis task finished", "task_id", taskID, "status", st.Status)
	}
}

func (c *Controller) setLocked(s State) (State, uint64) {
	c.state = s
	c.version++
	return s, c.version
}

// notify hands s to the observer, then wakes waiters. Every setLocked is
// followed by exactly one notify.
func (c *Controller) notify(s State, version uint64) {
	if c.observer != nil {
		c.obsMu.Lock()
		if version > c.lastVersion {
			c.lastVersion = version
			c.observer(s)
		}
		c.obsMu.Unlock()
	}

	c.mu.Lock()
	if version > c.delivered {
		c.delivered = version
	}
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}
