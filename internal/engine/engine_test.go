package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/tapsucode/stealthfleet/api/schemas"
	"github.com/tapsucode/stealthfleet/internal/config"
	"github.com/tapsucode/stealthfleet/internal/mocks"
	"github.com/tapsucode/stealthfleet/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubRunner lets tests script graph behavior without testify ceremony.
type stubRunner struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, session schemas.BrowserSession) (schemas.GraphResult, error)
}

func (s *stubRunner) RunGraph(ctx context.Context, sess schemas.BrowserSession, content []byte, variables map[string]string) (schemas.GraphResult, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	fn := s.fn
	s.mu.Unlock()
	if fn == nil {
		return schemas.GraphResult{Success: true}, nil
	}
	return fn(call, sess)
}

func (s *stubRunner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixture struct {
	engine  *Engine
	store   *mocks.MockStore
	factory *mocks.FakeSessionFactory
	runner  *stubRunner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := new(mocks.MockStore)
	store.On("UpdateProfileStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("CreateExecution", mock.Anything, mock.Anything).Return(nil)
	store.On("UpdateExecution", mock.Anything, mock.Anything).Return(nil)

	cfg := config.Config{}
	cfg.Engine.DefaultConcurrency = 4
	cfg.Engine.MaxSessions = 8
	cfg.Browser.ProfilesDir = t.TempDir()

	factory := &mocks.FakeSessionFactory{}
	runner := &stubRunner{}
	launcher := session.NewLauncher(factory, store, cfg, zap.NewNop())
	return &fixture{
		engine:  New(store, launcher, runner, cfg, zap.NewNop()),
		store:   store,
		factory: factory,
		runner:  runner,
	}
}

func (f *fixture) withProfiles(ids ...string) {
	for _, id := range ids {
		id := id
		f.store.On("FindProfileByID", mock.Anything, id).Return(&schemas.Profile{
			ID:     id,
			UserID: "u1",
			Name:   "profile " + id,
			Status: schemas.ProfileIdle,
		}, nil)
	}
}

func (f *fixture) withWorkflow(id string) {
	f.store.On("FindWorkflowByID", mock.Anything, id).Return(&schemas.Workflow{
		ID:      id,
		Name:    "wf " + id,
		Content: []byte(`{"nodes":[{"id":"n1","type":"navigate","params":{"url":"https://example.com"}}]}`),
	}, nil)
}

func TestExecuteWorkflowForMany_AllSucceed(t *testing.T) {
	f := newFixture(t)
	f.withWorkflow("wf1")
	f.withProfiles("p1", "p2", "p3")

	ex, err := f.engine.ExecuteWorkflowForMany(context.Background(), "wf1", []string{"p1", "p2", "p3"}, "u1", Options{})
	require.NoError(t, err)
	assert.Equal(t, schemas.ExecutionCompleted, ex.Status)
	assert.Equal(t, 3, ex.Results.SuccessCount)
	assert.Zero(t, ex.Results.FailureCount)
	assert.Len(t, ex.Results.Details, 3)
	assert.Equal(t, 100, ex.Progress.Percent)
	assert.Equal(t, 3, f.runner.Calls())
	assert.Len(t, f.factory.Launched(), 3)
}

func TestExecuteWorkflowForMany_PartialLaunchFailure(t *testing.T) {
	f := newFixture(t)
	f.withWorkflow("wf1")
	ids := []string{"p1", "p2", "p3", "p4", "p5"}
	f.withProfiles(ids...)
	f.factory.FailFor = map[string]error{"p3": assert.AnError}

	ex, err := f.engine.ExecuteWorkflowForMany(context.Background(), "wf1", ids, "u1", Options{})
	require.NoError(t, err)

	// One failed launch does not fail the execution.
	assert.Equal(t, schemas.ExecutionCompleted, ex.Status)
	assert.Equal(t, 4, ex.Results.SuccessCount)
	assert.Equal(t, 1, ex.Results.FailureCount)
	require.Len(t, ex.Results.Details, 5)

	var failed *schemas.ProfileResult
	for i := range ex.Results.Details {
		if !ex.Results.Details[i].Success {
			failed = &ex.Results.Details[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, "p3", failed.ProfileID)
	assert.NotEmpty(t, failed.Error)
}

func TestExecuteWorkflowForMany_GraphFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.withWorkflow("wf1")
	f.withProfiles("p1")
	f.runner.fn = func(int, schemas.BrowserSession) (schemas.GraphResult, error) {
		return schemas.GraphResult{Success: false, Error: "selector not found"}, nil
	}

	ex, err := f.engine.ExecuteWorkflowForMany(context.Background(), "wf1", []string{"p1"}, "u1", Options{})
	require.NoError(t, err)
	assert.Equal(t, schemas.ExecutionCompleted, ex.Status)
	assert.Equal(t, 1, ex.Results.FailureCount)
	assert.Contains(t, ex.Results.Details[0].Error, "selector not found")
}

func TestExecuteWorkflowForMany_ValidationBeforeExecutionRecord(t *testing.T) {
	cases := []struct {
		name string
		run  func(e *Engine) error
	}{
		{"empty workflow id", func(e *Engine) error {
			_, err := e.ExecuteWorkflowForMany(context.Background(), "", []string{"p1"}, "u1", Options{})
			return err
		}},
		{"no profiles", func(e *Engine) error {
			_, err := e.ExecuteWorkflowForMany(context.Background(), "wf1", nil, "u1", Options{})
			return err
		}},
		{"duplicate profile", func(e *Engine) error {
			_, err := e.ExecuteWorkflowForMany(context.Background(), "wf1", []string{"p1", "p1"}, "u1", Options{})
			return err
		}},
		{"negative retries", func(e *Engine) error {
			_, err := e.ExecuteWorkflowForMany(context.Background(), "wf1", []string{"p1"}, "u1", Options{MaxRetries: -1})
			return err
		}},
		{"negative concurrency", func(e *Engine) error {
			_, err := e.ExecuteWorkflowForMany(context.Background(), "wf1", []string{"p1"}, "u1", Options{Concurrency: -2})
			return err
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.withWorkflow("wf1")
			f.withProfiles("p1")

			err := tc.run(f.engine)
			require.Error(t, err)
			assert.True(t, schemas.IsKind(err, schemas.KindValidation))
			f.store.AssertNotCalled(t, "CreateExecution", mock.Anything, mock.Anything)
		})
	}
}

func TestExecuteWorkflowForMany_UnknownWorkflow(t *testing.T) {
	f := newFixture(t)
	f.store.On("FindWorkflowByID", mock.Anything, "missing").
		Return(nil, schemas.NewError(schemas.KindNotFound, "workflow missing not found"))

	_, err := f.engine.ExecuteWorkflowForMany(context.Background(), "missing", []string{"p1"}, "u1", Options{})
	require.Error(t, err)
	assert.True(t, schemas.IsKind(err, schemas.KindNotFound))
	f.store.AssertNotCalled(t, "CreateExecution", mock.Anything, mock.Anything)
}

func TestExecuteWorkflowForMany_UnknownProfile(t *testing.T) {
	f := newFixture(t)
	f.withWorkflow("wf1")
	f.store.On("FindProfileByID", mock.Anything, "ghost").
		Return(nil, schemas.NewError(schemas.KindNotFound, "profile ghost not found"))

	_, err := f.engine.ExecuteWorkflowForMany(context.Background(), "wf1", []string{"ghost"}, "u1", Options{})
	require.Error(t, err)
	assert.True(t, schemas.IsKind(err, schemas.KindNotFound))
	f.store.AssertNotCalled(t, "CreateExecution", mock.Anything, mock.Anything)
}

func TestExecuteWorkflow_SingleProfile(t *testing.T) {
	f := newFixture(t)
	f.withWorkflow("wf1")
	f.withProfiles("p1")

	ex, err := f.engine.ExecuteWorkflow(context.Background(), "wf1", "p1", "u1", Options{})
	require.NoError(t, err)
	assert.Equal(t, schemas.ExecutionCompleted, ex.Status)
	assert.Equal(t, 1, ex.Results.SuccessCount)
	assert.Equal(t, 1, ex.Progress.Total)
}

func TestExecuteWorkflowForGroup(t *testing.T) {
	f := newFixture(t)
	f.withWorkflow("wf1")
	f.withProfiles("p1", "p2")
	f.store.On("FindGroupMembers", mock.Anything, "g1").Return([]schemas.Profile{
		{ID: "p1"}, {ID: "p2"},
	}, nil)

	ex, err := f.engine.ExecuteWorkflowForGroup(context.Background(), "wf1", "g1", "u1", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, ex.Results.SuccessCount)
}

func TestExecuteWorkflowForMany_RetrySucceedsOnSecondAttempt(t *testing.T) {
	f := newFixture(t)
	f.withWorkflow("wf1")
	f.withProfiles("p1")
	f.runner.fn = func(call int, _ schemas.BrowserSession) (schemas.GraphResult, error) {
		if call == 1 {
			return schemas.GraphResult{}, schemas.NewError(schemas.KindInterpreter, "transient timeout")
		}
		return schemas.GraphResult{Success: true}, nil
	}

	ex, err := f.engine.ExecuteWorkflowForMany(context.Background(), "wf1", []string{"p1"}, "u1",
		Options{RetryOnFail: true, MaxRetries: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, ex.Results.SuccessCount)
	assert.Zero(t, ex.Results.FailureCount)
	assert.Equal(t, 2, f.runner.Calls())
	// Each attempt launches and releases its own session.
	assert.Len(t, f.factory.Launched(), 2)
}

func TestExecuteWorkflowForMany_NoRetryWithoutOptIn(t *testing.T) {
	f := newFixture(t)
	f.withWorkflow("wf1")
	f.withProfiles("p1")
	f.runner.fn = func(int, schemas.BrowserSession) (schemas.GraphResult, error) {
		return schemas.GraphResult{}, schemas.NewError(schemas.KindInterpreter, "boom")
	}

	ex, err := f.engine.ExecuteWorkflowForMany(context.Background(), "wf1", []string{"p1"}, "u1", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, ex.Results.FailureCount)
	assert.Equal(t, 1, f.runner.Calls())
}

func TestStop_CancelsQueuedProfiles(t *testing.T) {
	f := newFixture(t)
	f.withWorkflow("wf1")
	ids := []string{"p1", "p2", "p3", "p4"}
	f.withProfiles(ids...)

	firstRunning := make(chan string, 1)
	releaseGraph := make(chan struct{})
	var started atomic.Int32
	f.runner.fn = func(int, schemas.BrowserSession) (schemas.GraphResult, error) {
		started.Add(1)
		select {
		case firstRunning <- "":
		default:
		}
		<-releaseGraph
		return schemas.GraphResult{Success: true}, nil
	}

	type runResult struct {
		ex  *schemas.WorkflowExecution
		err error
	}
	done := make(chan runResult, 1)
	go func() {
		ex, err := f.engine.ExecuteWorkflowForMany(context.Background(), "wf1", ids, "u1", Options{Concurrency: 1})
		done <- runResult{ex, err}
	}()

	<-firstRunning
	// The run is now mid-flight with one task in the interpreter.
	var execID string
	require.Eventually(t, func() bool {
		f.engine.executions.mu.Lock()
		defer f.engine.executions.mu.Unlock()
		for id := range f.engine.executions.entries {
			execID = id
		}
		return execID != ""
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.engine.Stop(context.Background(), execID))
	close(releaseGraph)

	res := <-done
	require.NoError(t, res.err)
	ex := res.ex
	assert.Equal(t, schemas.ExecutionStopped, ex.Status)
	// Only the in-flight task ever reached the interpreter.
	assert.Equal(t, int32(1), started.Load())

	// A second stop misses the registry and finds the terminal record in the store.
	f.store.On("FindExecutionByID", mock.Anything, execID).Return(ex, nil)
	err := f.engine.Stop(context.Background(), execID)
	require.Error(t, err)
	assert.True(t, schemas.IsKind(err, schemas.KindInvalidState))
	assert.Contains(t, err.Error(), "cannot stop execution that is not running")
}

func TestStop_UnknownExecution(t *testing.T) {
	f := newFixture(t)
	f.store.On("FindExecutionByID", mock.Anything, "ghost").
		Return(nil, schemas.NewError(schemas.KindNotFound, "execution ghost not found"))

	err := f.engine.Stop(context.Background(), "ghost")
	assert.True(t, schemas.IsKind(err, schemas.KindNotFound))
}

func TestStop_TerminalStoredExecution(t *testing.T) {
	f := newFixture(t)
	f.store.On("FindExecutionByID", mock.Anything, "old").Return(&schemas.WorkflowExecution{
		ID:     "old",
		Status: schemas.ExecutionCompleted,
	}, nil)

	err := f.engine.Stop(context.Background(), "old")
	require.Error(t, err)
	assert.True(t, schemas.IsKind(err, schemas.KindInvalidState))
}

func TestStop_OrphanedStoredExecution(t *testing.T) {
	f := newFixture(t)
	f.store.On("FindExecutionByID", mock.Anything, "orphan").Return(&schemas.WorkflowExecution{
		ID:     "orphan",
		Status: schemas.ExecutionRunning,
	}, nil)

	require.NoError(t, f.engine.Stop(context.Background(), "orphan"))
	f.store.AssertCalled(t, "UpdateExecution", mock.Anything, mock.MatchedBy(func(ex *schemas.WorkflowExecution) bool {
		return ex.ID == "orphan" && ex.Status == schemas.ExecutionStopped && ex.EndTime != nil
	}))
}

func TestGetExecution_FallsBackToStore(t *testing.T) {
	f := newFixture(t)
	f.store.On("FindExecutionByID", mock.Anything, "ex1").Return(&schemas.WorkflowExecution{
		ID:     "ex1",
		Status: schemas.ExecutionCompleted,
	}, nil)

	ex, err := f.engine.GetExecution(context.Background(), "ex1")
	require.NoError(t, err)
	assert.Equal(t, schemas.ExecutionCompleted, ex.Status)

	_, err = f.engine.GetExecution(context.Background(), "")
	assert.True(t, schemas.IsKind(err, schemas.KindValidation))
}

func TestLaunchSingle(t *testing.T) {
	f := newFixture(t)
	f.withProfiles("p1")
	ctx := context.Background()

	sess, err := f.engine.LaunchSingle(ctx, "p1", Options{Headless: true})
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.NoError(t, sess.Release(ctx))

	_, err = f.engine.LaunchSingle(ctx, "", Options{})
	assert.True(t, schemas.IsKind(err, schemas.KindValidation))
}

func TestLaunchConcurrent_Summary(t *testing.T) {
	f := newFixture(t)
	ids := []string{"p1", "p2", "p3"}
	f.withProfiles(ids...)
	f.factory.FailFor = map[string]error{"p2": assert.AnError}

	summary, err := f.engine.LaunchConcurrent(context.Background(), ids, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 1, summary.FailureCount)
	assert.Len(t, summary.Details, 3)

	// The successful sessions stay open and claimable by profile ID.
	require.NoError(t, f.engine.ReleaseProfile(context.Background(), "p1"))
	err = f.engine.ReleaseProfile(context.Background(), "p1")
	assert.True(t, schemas.IsKind(err, schemas.KindNotFound))
	require.NoError(t, f.engine.ReleaseAll(context.Background()))
}

func TestLaunchConcurrentForGroup(t *testing.T) {
	f := newFixture(t)
	f.withProfiles("p1", "p2")
	f.store.On("FindGroupMembers", mock.Anything, "g1").Return([]schemas.Profile{
		{ID: "p1"}, {ID: "p2"},
	}, nil)

	summary, err := f.engine.LaunchConcurrentForGroup(context.Background(), "g1", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.SuccessCount)
	require.NoError(t, f.engine.ReleaseAll(context.Background()))

	_, err = f.engine.LaunchConcurrentForGroup(context.Background(), "", Options{})
	assert.True(t, schemas.IsKind(err, schemas.KindValidation))
}
