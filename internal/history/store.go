// Package history keeps a local SQLite record of submitted analysis tasks so
// results and report downloads stay reachable after the submitting process
// exits.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dyike/cortexctl/internal/models"
	"github.com/dyike/cortexctl/internal/task"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
	timeLayout       = time.RFC3339
)

var ErrNotFound = errors.New("history: task not found")

// Entry is one recorded task. Credentials are never stored.
type Entry struct {
	TaskID        string
	Server        string
	Ticker        string
	AnalysisDate  string
	Analysts      []string
	ResearchDepth int
	QuickModel    string
	DeepModel     string
	Status        models.TaskState
	Progress      string
	Error         string
	Result        *models.AnalysisResult
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS tasks (
    task_id TEXT PRIMARY KEY,
    server TEXT NOT NULL DEFAULT '',
    ticker TEXT NOT NULL,
    analysis_date TEXT NOT NULL,
    analysts TEXT NOT NULL DEFAULT '[]',
    research_depth INTEGER NOT NULL DEFAULT 1,
    quick_model TEXT NOT NULL DEFAULT '',
    deep_model TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    progress TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    result TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Record stores a freshly submitted task. Recording the same id again
// replaces the request fields and resets the status to pending.
func (s *Store) Record(ctx context.Context, taskID, server string, req models.AnalysisRequest) error {
	if strings.TrimSpace(taskID) == "" {
		return fmt.Errorf("task id is required")
	}
	analysts, err := json.Marshal(req.Analysts)
	if err != nil {
		return fmt.Errorf("encode analysts: %w", err)
	}
	now := s.now().Format(timeLayout)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO tasks (task_id, server, ticker, analysis_date, analysts, research_depth, quick_model, deep_model, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(task_id) DO UPDATE SET
    server=excluded.server,
    ticker=excluded.ticker,
    analysis_date=excluded.analysis_date,
    analysts=excluded.analysts,
    research_depth=excluded.research_depth,
    quick_model=excluded.quick_model,
    deep_model=excluded.deep_model,
    status=excluded.status,
    progress='',
    error='',
    result='',
    updated_at=excluded.updated_at
`, taskID, server, req.Ticker, req.AnalysisDate, string(analysts), req.ResearchDepth,
		req.QuickThinkLLM, req.DeepThinkLLM, string(models.TaskPending), now, now)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Update applies a controller state to the recorded task. States that belong
// to another task, or carry no task id, are ignored.
func (s *Store) Update(ctx context.Context, taskID string, st task.State) error {
	if strings.TrimSpace(taskID) == "" || st.TaskID != taskID {
		return nil
	}
	status := st.Status
	if status == "" {
		status = models.TaskPending
	}
	var result string
	if st.Result != nil {
		b, err := json.Marshal(st.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		result = string(b)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE tasks
SET status = ?,
    progress = ?,
    error = ?,
    result = CASE WHEN ? <> '' THEN ? ELSE result END,
    updated_at = ?
WHERE task_id = ?
`, string(status), st.Progress, st.Error, result, result, s.now().Format(timeLayout), taskID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("update task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

const selectColumns = `task_id, server, ticker, analysis_date, analysts, research_depth, quick_model, deep_model,
    status, progress, error, result, created_at, updated_at`

// List returns the most recent tasks first. Results are not decoded.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+selectColumns+`
FROM tasks
ORDER BY created_at DESC, rowid DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, _, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks rows: %w", err)
	}
	return entries, nil
}

// Get returns one task with its stored result, or ErrNotFound.
func (s *Store) Get(ctx context.Context, taskID string) (*Entry, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, fmt.Errorf("task id is required")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM tasks WHERE task_id = ? LIMIT 1`, taskID)
	e, result, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if result != "" {
		var r models.AnalysisResult
		if err := json.Unmarshal([]byte(result), &r); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", taskID, err)
		}
		e.Result = &r
	}
	return &e, nil
}

func (s *Store) Delete(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, string, error) {
	var (
		e                    Entry
		analysts, status     string
		result               string
		createdAt, updatedAt string
	)
	err := sc.Scan(&e.TaskID, &e.Server, &e.Ticker, &e.AnalysisDate, &analysts, &e.ResearchDepth,
		&e.QuickModel, &e.DeepModel, &status, &e.Progress, &e.Error, &result, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, "", err
		}
		return e, "", fmt.Errorf("scan task: %w", err)
	}
	e.Status = models.TaskState(status)
	if analysts != "" {
		if err := json.Unmarshal([]byte(analysts), &e.Analysts); err != nil {
			return e, "", fmt.Errorf("decode analysts of %s: %w", e.TaskID, err)
		}
	}
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	e.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return e, result, nil
}
