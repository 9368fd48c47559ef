package store

import (
	"context"
	"strings"
	"time"

	"github.com/quillmed/caravel/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for the deployment journal.
type Store interface {
	// AppendRun journals one finished (or rejected) deployment run.
	AppendRun(ctx context.Context, rec *RunRecord) error

	// RecentRuns returns the most recent runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// GetRun returns one journaled run by its ID.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	Close() error
}

// =============================================================================
// Run Records
// =============================================================================

// Outcome values journaled per run.
const (
	OutcomeSucceeded      = "succeeded"
	OutcomeFailed         = "failed"
	OutcomeInfrastructure = "infrastructure"
)

// logTailLines bounds how much of the log excerpt is journaled per run.
const logTailLines = 5

// RunRecord is one journal entry.
type RunRecord struct {
	RunID      string
	Family     string
	Image      string
	TaskARN    string
	ExitCode   *int32
	StopReason string
	Outcome    string
	LogTail    string
	StartedAt  time.Time
	StoppedAt  time.Time
}

// Duration returns how long the run executed, zero when timestamps are
// incomplete.
func (r *RunRecord) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.StoppedAt.IsZero() {
		return 0
	}
	return r.StoppedAt.Sub(r.StartedAt)
}

// RecordFromExecution builds the journal entry for a finished execution.
// Only the tail of the log excerpt is kept.
func RecordFromExecution(exec domain.TaskExecution, family, image string, logLines []string) *RunRecord {
	rec := &RunRecord{
		RunID:      exec.RunID,
		Family:     family,
		Image:      image,
		TaskARN:    exec.TaskARN,
		ExitCode:   exec.ExitCode,
		StopReason: exec.StopReason,
		StartedAt:  exec.StartedAt,
		StoppedAt:  exec.StoppedAt,
	}

	switch _, err := exec.Outcome(); {
	case err == nil:
		rec.Outcome = OutcomeSucceeded
	case exec.ExitCode == nil:
		rec.Outcome = OutcomeInfrastructure
	default:
		rec.Outcome = OutcomeFailed
	}

	if len(logLines) > logTailLines {
		logLines = logLines[len(logLines)-logTailLines:]
	}
	rec.LogTail = strings.Join(logLines, "\n")
	return rec
}
