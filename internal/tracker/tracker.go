// Package tracker owns the WorkflowExecution lifecycle: a durable state
// machine with guarded transitions and exact aggregation of per-profile
// outcomes.
package tracker

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tapsucode/stealthfleet/api/schemas"
)

// Tracker guards one WorkflowExecution record. All mutation goes through
// the tracker's lock, so concurrent Stop calls serialize and only the
// first one transitions.
type Tracker struct {
	store  schemas.Store
	logger *zap.Logger

	mu sync.Mutex
	ex schemas.WorkflowExecution
}

// New creates the execution record in pending and persists it
// synchronously, so callers can hand out the execution ID before any
// work starts.
func New(ctx context.Context, store schemas.Store, logger *zap.Logger, workflowID, userID string, total int) (*Tracker, error) {
	t := &Tracker{
		store:  store,
		logger: logger.Named("tracker"),
		ex: schemas.WorkflowExecution{
			ID:         uuid.New().String(),
			WorkflowID: workflowID,
			UserID:     userID,
			Status:     schemas.ExecutionPending,
			StartTime:  time.Now().UTC(),
			Results:    schemas.ExecutionResults{Details: []schemas.ProfileResult{}},
			Progress:   schemas.ExecutionProgress{Total: total},
		},
	}

	if err := store.CreateExecution(ctx, &t.ex); err != nil {
		return nil, err
	}
	return t, nil
}

// ID returns the execution ID.
func (t *Tracker) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ex.ID
}

// Snapshot returns a copy of the current execution record.
func (t *Tracker) Snapshot() schemas.WorkflowExecution {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyLocked()
}

// Start transitions pending -> running.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ex.Status != schemas.ExecutionPending {
		return schemas.NewError(schemas.KindInvalidState,
			"cannot start execution %s in state %s", t.ex.ID, t.ex.Status)
	}
	t.ex.Status = schemas.ExecutionRunning
	t.persistLocked(ctx)
	return nil
}

// RecordOutcome folds one profile task outcome into the aggregate. Details
// keep completion order; counters and progress only ever grow.
func (t *Tracker) RecordOutcome(ctx context.Context, res schemas.ProfileResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ex.Status.Terminal() {
		// A slow in-flight task may report after a stop; the terminal
		// record stays frozen but we keep the log trail.
		t.logger.Debug("Outcome reported after terminal state, ignoring",
			zap.String("execution_id", t.ex.ID),
			zap.String("profile_id", res.ProfileID))
		return
	}

	t.ex.Results.Details = append(t.ex.Results.Details, res)
	if res.Success {
		t.ex.Results.SuccessCount++
	} else {
		t.ex.Results.FailureCount++
	}

	t.ex.Progress.Completed++
	t.ex.Progress.Percent = derivePercent(t.ex.Progress.Completed, t.ex.Progress.Total)
	t.persistLocked(ctx)
}

// Complete transitions running -> completed and stamps the end time.
// Individual task failures do not prevent completion; they live in the
// aggregated results.
func (t *Tracker) Complete(ctx context.Context) error {
	return t.finish(ctx, schemas.ExecutionCompleted, "")
}

// Fail marks an orchestration-level failure, distinct from per-task
// failures. Permitted from pending or running.
func (t *Tracker) Fail(ctx context.Context, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return t.finish(ctx, schemas.ExecutionFailed, msg)
}

// Stop transitions pending/running -> stopped. Stopping a terminal
// execution is an invalid-state error; concurrent stops serialize so
// only the first succeeds.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ex.Status.Terminal() {
		return schemas.NewError(schemas.KindInvalidState, "cannot stop execution that is not running")
	}
	t.setTerminalLocked(schemas.ExecutionStopped, "")
	t.persistLocked(ctx)
	return nil
}

func (t *Tracker) finish(ctx context.Context, status schemas.ExecutionStatus, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ex.Status.Terminal() {
		return schemas.NewError(schemas.KindInvalidState,
			"execution %s already terminal in state %s", t.ex.ID, t.ex.Status)
	}
	t.setTerminalLocked(status, errMsg)
	t.persistLocked(ctx)
	return nil
}

func (t *Tracker) setTerminalLocked(status schemas.ExecutionStatus, errMsg string) {
	now := time.Now().UTC()
	t.ex.Status = status
	t.ex.EndTime = &now
	if errMsg != "" {
		t.ex.Error = errMsg
	}
}

// persistLocked writes the current snapshot through the store. The
// in-memory record stays authoritative; a store hiccup is logged, not
// propagated, so a flaky database cannot corrupt the state machine.
func (t *Tracker) persistLocked(ctx context.Context) {
	snapshot := t.copyLocked()
	if err := t.store.UpdateExecution(ctx, &snapshot); err != nil {
		t.logger.Warn("Failed to persist execution snapshot",
			zap.String("execution_id", t.ex.ID),
			zap.String("status", string(t.ex.Status)),
			zap.Error(err))
	}
}

func (t *Tracker) copyLocked() schemas.WorkflowExecution {
	cp := t.ex
	cp.Results.Details = append([]schemas.ProfileResult(nil), t.ex.Results.Details...)
	if t.ex.EndTime != nil {
		end := *t.ex.EndTime
		cp.EndTime = &end
	}
	return cp
}

func derivePercent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(completed) / float64(total) * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
