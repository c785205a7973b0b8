package models

import (
	"errors"
	"fmt"
)

// TaskState is the backend lifecycle state of an analysis task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

func (s TaskState) Valid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

type TaskCreated struct {
	TaskID  string    `json:"task_id"`
	Status  TaskState `json:"status"`
	Message string    `json:"message"`
}

// TaskStatus is one poll snapshot of a task. Snapshots are independent of
// each other.
type TaskStatus struct {
	TaskID      string          `json:"task_id"`
	Status      TaskState       `json:"status"`
	Progress    string          `json:"progress,omitempty"`
	Result      *AnalysisResult `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at,omitempty"`
	UpdatedAt   string          `json:"updated_at,omitempty"`
	CompletedAt string          `json:"completed_at,omitempty"`
}

// Validate checks the snapshot invariants: result only when completed,
// error only when failed.
func (s TaskStatus) Validate() error {
	var errs []error
	if s.TaskID == "" {
		errs = append(errs, errors.New("task id is empty"))
	}
	if !s.Status.Valid() {
		errs = append(errs, fmt.Errorf("unknown task status %q", s.Status))
	}
	if s.Result != nil && s.Status != TaskCompleted {
		errs = append(errs, fmt.Errorf("result present in %s state", s.Status))
	}
	if s.Error != "" && s.Status != TaskFailed {
		errs = append(errs, fmt.Errorf("error present in %s state", s.Status))
	}
	return errors.Join(errs...)
}
