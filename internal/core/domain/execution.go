package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Task Execution
// =============================================================================

// MissingExitCode is the process exit status reported when the platform never
// produced a container exit code.
const MissingExitCode = 255

// TaskExecution is a single run instance. Created at launch, terminal once
// the container stops, never reused across runs.
type TaskExecution struct {
	RunID             string
	TaskARN           string
	TaskDefinitionARN string
	StartedAt         time.Time
	StoppedAt         time.Time
	ExitCode          *int32
	StopReason        string
	ContainerReason   string
	LogStream         string
}

// NewRunID generates a short unique identifier for one deployment run.
func NewRunID() string {
	return "run_" + uuid.New().String()[:8]
}

// TaskID returns the bare task identifier, the last segment of the task ARN.
func (e *TaskExecution) TaskID() string {
	if idx := strings.LastIndex(e.TaskARN, "/"); idx >= 0 {
		return e.TaskARN[idx+1:]
	}
	return e.TaskARN
}

// Duration returns how long the execution ran, zero when timestamps are
// incomplete.
func (e *TaskExecution) Duration() time.Duration {
	if e.StartedAt.IsZero() || e.StoppedAt.IsZero() {
		return 0
	}
	return e.StoppedAt.Sub(e.StartedAt)
}

// Outcome maps the container exit code to the orchestrator's own exit status.
//
// Behavior:
//   - exit code 0: success, no error
//   - non-zero exit code: the code itself, with an ExitCodeError
//   - no exit code at all: MissingExitCode, with an InfrastructureError
func (e *TaskExecution) Outcome() (int, error) {
	if e.ExitCode == nil {
		return MissingExitCode, &InfrastructureError{
			StopReason:      e.StopReason,
			ContainerReason: e.ContainerReason,
		}
	}
	if *e.ExitCode == 0 {
		return 0, nil
	}
	return int(*e.ExitCode), &ExitCodeError{Code: int(*e.ExitCode)}
}
