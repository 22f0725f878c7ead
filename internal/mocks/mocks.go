// Package mocks holds shared test doubles for the engine's collaborator
// interfaces. Production code never imports this package.
package mocks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/tapsucode/stealthfleet/api/schemas"
)

// MockStore is a testify mock of schemas.Store.
type MockStore struct {
	mock.Mock
}

var _ schemas.Store = (*MockStore)(nil)

func (m *MockStore) FindProfileByID(ctx context.Context, id string) (*schemas.Profile, error) {
	args := m.Called(ctx, id)
	if p := args.Get(0); p != nil {
		return p.(*schemas.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) UpdateProfileStatus(ctx context.Context, id string, status schemas.ProfileStatus, lastUsed time.Time) error {
	return m.Called(ctx, id, status, lastUsed).Error(0)
}

func (m *MockStore) FindProxyByID(ctx context.Context, id string) (*schemas.Proxy, error) {
	args := m.Called(ctx, id)
	if p := args.Get(0); p != nil {
		return p.(*schemas.Proxy), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) FindProxyByAddress(ctx context.Context, host string, port int) (*schemas.Proxy, error) {
	args := m.Called(ctx, host, port)
	if p := args.Get(0); p != nil {
		return p.(*schemas.Proxy), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) CreateProxy(ctx context.Context, p *schemas.Proxy) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockStore) UpdateProxyStatus(ctx context.Context, id string, status schemas.ProxyStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *MockStore) FindGroupMembers(ctx context.Context, groupID string) ([]schemas.Profile, error) {
	args := m.Called(ctx, groupID)
	if p := args.Get(0); p != nil {
		return p.([]schemas.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) FindProxyGroupMembers(ctx context.Context, groupID string) ([]schemas.Proxy, error) {
	args := m.Called(ctx, groupID)
	if p := args.Get(0); p != nil {
		return p.([]schemas.Proxy), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) FindWorkflowByID(ctx context.Context, id string) (*schemas.Workflow, error) {
	args := m.Called(ctx, id)
	if w := args.Get(0); w != nil {
		return w.(*schemas.Workflow), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) CreateExecution(ctx context.Context, ex *schemas.WorkflowExecution) error {
	return m.Called(ctx, ex).Error(0)
}

func (m *MockStore) UpdateExecution(ctx context.Context, ex *schemas.WorkflowExecution) error {
	return m.Called(ctx, ex).Error(0)
}

func (m *MockStore) FindExecutionByID(ctx context.Context, id string) (*schemas.WorkflowExecution, error) {
	args := m.Called(ctx, id)
	if ex := args.Get(0); ex != nil {
		return ex.(*schemas.WorkflowExecution), args.Error(1)
	}
	return nil, args.Error(1)
}

// FakeBrowserSession is a hand-rolled schemas.BrowserSession that records
// calls. Used where testify's mock would add more noise than signal.
type FakeBrowserSession struct {
	SessionID string

	mu        sync.Mutex
	Navigated []string
	Evaluated []string
	Closed    bool

	NavigateErr error
	EvaluateErr error
	CloseErr    error
}

var _ schemas.BrowserSession = (*FakeBrowserSession)(nil)

func (f *FakeBrowserSession) ID() string { return f.SessionID }

func (f *FakeBrowserSession) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Navigated = append(f.Navigated, url)
	return f.NavigateErr
}

func (f *FakeBrowserSession) Evaluate(_ context.Context, script string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Evaluated = append(f.Evaluated, script)
	return f.EvaluateErr
}

func (f *FakeBrowserSession) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return f.CloseErr
}

// WasClosed reports whether Close ran, under the fake's lock.
func (f *FakeBrowserSession) WasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}

// FakeSessionFactory launches FakeBrowserSessions and can simulate
// failures per profile directory.
type FakeSessionFactory struct {
	mu        sync.Mutex
	launched  []string
	active    int
	maxActive int

	// FailFor maps a directory substring to the error LaunchPersistent
	// should return for it.
	FailFor map[string]error
	// Delay simulates browser boot time.
	Delay time.Duration
}

var _ schemas.SessionFactory = (*FakeSessionFactory)(nil)

func (f *FakeSessionFactory) LaunchPersistent(ctx context.Context, dir string, params schemas.LaunchParams) (schemas.BrowserSession, error) {
	f.mu.Lock()
	for key, err := range f.FailFor {
		if key != "" && strings.Contains(dir, key) {
			f.mu.Unlock()
			return nil, err
		}
	}
	f.launched = append(f.launched, dir)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			f.release()
			return nil, ctx.Err()
		}
	}

	sess := &FakeBrowserSession{SessionID: dir}
	return &countingSession{FakeBrowserSession: sess, onClose: f.release}, nil
}

func (f *FakeSessionFactory) release() {
	f.mu.Lock()
	f.active--
	f.mu.Unlock()
}

// Launched returns the directories sessions were launched for.
func (f *FakeSessionFactory) Launched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.launched...)
}

// MaxActive reports the peak number of simultaneously open sessions.
func (f *FakeSessionFactory) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

type countingSession struct {
	*FakeBrowserSession
	onClose func()
	once    sync.Once
}

func (c *countingSession) Close(ctx context.Context) error {
	err := c.FakeBrowserSession.Close(ctx)
	c.once.Do(c.onClose)
	return err
}

// MockGraphRunner is a testify mock of schemas.GraphRunner.
type MockGraphRunner struct {
	mock.Mock
}

var _ schemas.GraphRunner = (*MockGraphRunner)(nil)

func (m *MockGraphRunner) RunGraph(ctx context.Context, session schemas.BrowserSession, content []byte, variables map[string]string) (schemas.GraphResult, error) {
	args := m.Called(ctx, session, content, variables)
	return args.Get(0).(schemas.GraphResult), args.Error(1)
}
