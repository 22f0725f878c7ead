// Package engine is the orchestrator facade. It composes the launcher,
// the dispatcher, the graph runner and the tracker into the operations
// callers actually invoke: launching profile sessions and running
// workflows across fleets of profiles.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tapsucode/stealthfleet/api/schemas"
	"github.com/tapsucode/stealthfleet/internal/config"
	"github.com/tapsucode/stealthfleet/internal/dispatch"
	"github.com/tapsucode/stealthfleet/internal/session"
	"github.com/tapsucode/stealthfleet/internal/tracker"
)

// Options tune one engine operation. The zero value means "use the
// configured defaults".
type Options struct {
	Headless    bool
	Timeout     time.Duration
	Concurrency int
	// RetryOnFail re-runs a failed profile task up to MaxRetries extra
	// attempts. Conflicts and validation failures never retry.
	RetryOnFail bool
	MaxRetries  int
	// Variables seed the workflow interpreter.
	Variables map[string]string
}

func (o Options) validate() error {
	if o.Concurrency < 0 {
		return schemas.NewError(schemas.KindValidation, "concurrency must not be negative, got %d", o.Concurrency)
	}
	if o.MaxRetries < 0 {
		return schemas.NewError(schemas.KindValidation, "maxRetries must not be negative, got %d", o.MaxRetries)
	}
	if o.Timeout < 0 {
		return schemas.NewError(schemas.KindValidation, "timeout must not be negative")
	}
	return nil
}

// LaunchSummary aggregates a concurrent interactive launch.
type LaunchSummary struct {
	SuccessCount int
	FailureCount int
	Details      []schemas.ProfileResult
}

// Engine orchestrates profile sessions and workflow executions.
type Engine struct {
	store    schemas.Store
	launcher *session.Launcher
	runner   schemas.GraphRunner
	cfg      config.Config
	logger   *zap.Logger

	executions *registry

	sessMu      sync.Mutex
	interactive map[string]*session.Session
}

func New(store schemas.Store, launcher *session.Launcher, runner schemas.GraphRunner, cfg config.Config, logger *zap.Logger) *Engine {
	return &Engine{
		store:       store,
		launcher:    launcher,
		runner:      runner,
		cfg:         cfg,
		logger:      logger.Named("engine"),
		executions:  newRegistry(),
		interactive: make(map[string]*session.Session),
	}
}

// LaunchSingle opens one interactive session for a profile and returns
// it to the caller, who owns its release.
func (e *Engine) LaunchSingle(ctx context.Context, profileID string, opts Options) (*session.Session, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if profileID == "" {
		return nil, schemas.NewError(schemas.KindValidation, "profileId is required")
	}
	profile, err := e.store.FindProfileByID(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return e.launcher.Launch(ctx, profile, e.launchOptions(opts))
}

// LaunchConcurrent launches interactive sessions for many profiles with
// a bounded worker pool. Sessions stay open for the configured
// interactive lifetime and are then released in the background; the
// summary reports per-profile launch outcomes.
func (e *Engine) LaunchConcurrent(ctx context.Context, profileIDs []string, opts Options) (*LaunchSummary, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	profiles, err := e.loadProfiles(ctx, profileIDs)
	if err != nil {
		return nil, err
	}

	lifetime := e.cfg.Engine.InteractiveLifetime
	outcomes, poolErr := dispatch.RunBounded(ctx, profiles, e.concurrency(opts), func(ctx context.Context, p schemas.Profile) error {
		sess, err := e.launcher.Launch(ctx, &p, e.launchOptions(opts))
		if err != nil {
			return err
		}
		e.trackInteractive(sess, lifetime)
		return nil
	})
	if poolErr != nil && len(outcomes) == 0 {
		return nil, poolErr
	}

	summary := &LaunchSummary{}
	for _, o := range outcomes {
		res := schemas.ProfileResult{ProfileID: o.Item.ID, Success: o.Success}
		if o.Err != nil {
			res.Error = o.Err.Error()
		}
		if o.Success {
			summary.SuccessCount++
		} else {
			summary.FailureCount++
		}
		summary.Details = append(summary.Details, res)
	}
	return summary, nil
}

// LaunchConcurrentForGroup resolves a profile group and launches its
// members concurrently.
func (e *Engine) LaunchConcurrentForGroup(ctx context.Context, groupID string, opts Options) (*LaunchSummary, error) {
	if groupID == "" {
		return nil, schemas.NewError(schemas.KindValidation, "groupId is required")
	}
	members, err := e.store.FindGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return e.LaunchConcurrent(ctx, ids, opts)
}

// ExecuteWorkflow runs one workflow against one profile.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID, profileID, userID string, opts Options) (*schemas.WorkflowExecution, error) {
	if profileID == "" {
		return nil, schemas.NewError(schemas.KindValidation, "profileId is required")
	}
	return e.ExecuteWorkflowForMany(ctx, workflowID, []string{profileID}, userID, opts)
}

// ExecuteWorkflowForGroup resolves a profile group, then runs the
// workflow across its members.
func (e *Engine) ExecuteWorkflowForGroup(ctx context.Context, workflowID, groupID, userID string, opts Options) (*schemas.WorkflowExecution, error) {
	if groupID == "" {
		return nil, schemas.NewError(schemas.KindValidation, "groupId is required")
	}
	members, err := e.store.FindGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return e.ExecuteWorkflowForMany(ctx, workflowID, ids, userID, opts)
}

// ExecuteWorkflowForMany runs one workflow across many profiles under a
// bounded worker pool, tracking the whole run as a single execution.
// A task failure is recorded and does not abort the siblings; the
// execution completes with mixed results. Validation and lookups happen
// before the execution record exists, so bad input never creates one.
func (e *Engine) ExecuteWorkflowForMany(ctx context.Context, workflowID string, profileIDs []string, userID string, opts Options) (*schemas.WorkflowExecution, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if workflowID == "" {
		return nil, schemas.NewError(schemas.KindValidation, "workflowId is required")
	}
	workflow, err := e.store.FindWorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	profiles, err := e.loadProfiles(ctx, profileIDs)
	if err != nil {
		return nil, err
	}

	tr, err := tracker.New(ctx, e.store, e.logger, workflowID, userID, len(profiles))
	if err != nil {
		return nil, err
	}

	// Stop cancels this context: queued tasks never start, in-flight
	// sessions finish their current step and release.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.executions.add(tr, cancel)
	defer e.executions.remove(tr.ID())

	if err := tr.Start(runCtx); err != nil {
		return nil, err
	}
	e.logger.Info("Workflow execution started",
		zap.String("execution_id", tr.ID()),
		zap.String("workflow_id", workflowID),
		zap.Int("profiles", len(profiles)),
		zap.Int("concurrency", e.concurrency(opts)),
	)

	_, poolErr := dispatch.RunBounded(runCtx, profiles, e.concurrency(opts), func(taskCtx context.Context, p schemas.Profile) error {
		err := e.runProfileTask(taskCtx, &p, workflow, opts)
		res := schemas.ProfileResult{ProfileID: p.ID, Success: err == nil}
		if err != nil {
			res.Error = err.Error()
		}
		tr.RecordOutcome(taskCtx, res)
		return err
	})

	final := tr.Snapshot()
	switch {
	case final.Status == schemas.ExecutionStopped:
		// Stop already transitioned the record; nothing further.
	case poolErr != nil && ctx.Err() != nil:
		// The caller's context died, not a Stop.
		if err := tr.Fail(context.WithoutCancel(ctx), poolErr); err != nil {
			e.logger.Warn("Failed to mark execution failed", zap.String("execution_id", tr.ID()), zap.Error(err))
		}
	default:
		if err := tr.Complete(runCtx); err != nil {
			e.logger.Warn("Failed to mark execution completed", zap.String("execution_id", tr.ID()), zap.Error(err))
		}
	}

	snapshot := tr.Snapshot()
	e.logger.Info("Workflow execution finished",
		zap.String("execution_id", snapshot.ID),
		zap.String("status", string(snapshot.Status)),
		zap.Int("success", snapshot.Results.SuccessCount),
		zap.Int("failure", snapshot.Results.FailureCount),
	)
	return &snapshot, nil
}

// Stop halts a running execution: the record transitions to stopped and
// the dispatch context is cancelled so queued profiles never start.
func (e *Engine) Stop(ctx context.Context, executionID string) error {
	if executionID == "" {
		return schemas.NewError(schemas.KindValidation, "executionId is required")
	}

	if tr, cancel, ok := e.executions.get(executionID); ok {
		if err := tr.Stop(ctx); err != nil {
			return err
		}
		cancel()
		e.logger.Info("Execution stopped", zap.String("execution_id", executionID))
		return nil
	}

	// Not in-process: the record may be stale from a previous run.
	ex, err := e.store.FindExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}
	if ex.Status.Terminal() {
		return schemas.NewError(schemas.KindInvalidState, "cannot stop execution that is not running")
	}
	now := time.Now().UTC()
	ex.Status = schemas.ExecutionStopped
	ex.EndTime = &now
	return e.store.UpdateExecution(ctx, ex)
}

// GetExecution returns the live snapshot for in-process executions and
// falls back to the store for finished or foreign ones.
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*schemas.WorkflowExecution, error) {
	if executionID == "" {
		return nil, schemas.NewError(schemas.KindValidation, "executionId is required")
	}
	if tr, _, ok := e.executions.get(executionID); ok {
		snapshot := tr.Snapshot()
		return &snapshot, nil
	}
	return e.store.FindExecutionByID(ctx, executionID)
}

// runProfileTask is one unit of work: launch, interpret, release. The
// session is always released, even when the graph fails.
func (e *Engine) runProfileTask(ctx context.Context, profile *schemas.Profile, workflow *schemas.Workflow, opts Options) error {
	attempts := 1
	if opts.RetryOnFail {
		attempts += opts.MaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		lastErr = e.runProfileAttempt(ctx, profile, workflow, opts)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			break
		}
		if attempt < attempts {
			e.logger.Warn("Profile task failed, retrying",
				zap.String("profile_id", profile.ID),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
		}
	}
	return lastErr
}

func (e *Engine) runProfileAttempt(ctx context.Context, profile *schemas.Profile, workflow *schemas.Workflow, opts Options) error {
	taskCtx := ctx
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Engine.TaskTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sess, err := e.launcher.Launch(taskCtx, profile, e.launchOptions(opts))
	if err != nil {
		return err
	}
	// Release must survive task-context death or the slot leaks.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := sess.Release(releaseCtx); err != nil {
			e.logger.Warn("Session release failed",
				zap.String("profile_id", profile.ID), zap.Error(err))
		}
	}()

	result, err := e.runner.RunGraph(taskCtx, sess.Browser, workflow.Content, opts.Variables)
	if err != nil {
		return err
	}
	if !result.Success {
		return schemas.NewError(schemas.KindInterpreter, "workflow reported failure: %s", result.Error)
	}
	return nil
}

func (e *Engine) loadProfiles(ctx context.Context, profileIDs []string) ([]schemas.Profile, error) {
	if len(profileIDs) == 0 {
		return nil, schemas.NewError(schemas.KindValidation, "at least one profileId is required")
	}
	seen := make(map[string]struct{}, len(profileIDs))
	profiles := make([]schemas.Profile, 0, len(profileIDs))
	for _, id := range profileIDs {
		if id == "" {
			return nil, schemas.NewError(schemas.KindValidation, "profileId must not be empty")
		}
		if _, dup := seen[id]; dup {
			return nil, schemas.NewError(schemas.KindValidation, "duplicate profileId %s", id)
		}
		seen[id] = struct{}{}
		p, err := e.store.FindProfileByID(ctx, id)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, nil
}

func (e *Engine) concurrency(opts Options) int {
	if opts.Concurrency > 0 {
		return opts.Concurrency
	}
	if e.cfg.Engine.DefaultConcurrency > 0 {
		return e.cfg.Engine.DefaultConcurrency
	}
	return 1
}

func (e *Engine) launchOptions(opts Options) session.Options {
	return session.Options{
		Headless: opts.Headless,
		Timeout:  opts.Timeout,
	}
}

// trackInteractive registers a session opened without a workflow so it
// can be released by ReleaseProfile or, when a lifetime is configured,
// by a background timer.
func (e *Engine) trackInteractive(sess *session.Session, lifetime time.Duration) {
	e.sessMu.Lock()
	e.interactive[sess.ProfileID] = sess
	e.sessMu.Unlock()

	if lifetime <= 0 {
		return
	}
	go func() {
		timer := time.NewTimer(lifetime)
		defer timer.Stop()
		<-timer.C
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.ReleaseProfile(ctx, sess.ProfileID); err != nil && !schemas.IsKind(err, schemas.KindNotFound) {
			e.logger.Warn("Interactive session release failed",
				zap.String("profile_id", sess.ProfileID), zap.Error(err))
		}
	}()
}

// ReleaseProfile closes the interactive session held for a profile.
func (e *Engine) ReleaseProfile(ctx context.Context, profileID string) error {
	e.sessMu.Lock()
	sess, ok := e.interactive[profileID]
	delete(e.interactive, profileID)
	e.sessMu.Unlock()
	if !ok {
		return schemas.NewError(schemas.KindNotFound, "no interactive session for profile %s", profileID)
	}
	return sess.Release(ctx)
}

// ReleaseAll closes every tracked interactive session, keeping the
// first error.
func (e *Engine) ReleaseAll(ctx context.Context) error {
	e.sessMu.Lock()
	sessions := make([]*session.Session, 0, len(e.interactive))
	for _, sess := range e.interactive {
		sessions = append(sessions, sess)
	}
	e.interactive = make(map[string]*session.Session)
	e.sessMu.Unlock()

	var firstErr error
	for _, sess := range sessions {
		if err := sess.Release(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// retryable filters which failures another attempt could fix.
func retryable(err error) bool {
	switch schemas.KindOf(err) {
	case schemas.KindValidation, schemas.KindConflict, schemas.KindNotFound, schemas.KindInvalidState:
		return false
	}
	return true
}
