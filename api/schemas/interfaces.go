package schemas

import (
	"context"
	"time"
)

// LaunchParams are the effective parameters a session factory boots a
// browser with. Fields left zero are omitted from the browser command
// line rather than passed as no-ops.
type LaunchParams struct {
	Fingerprint Fingerprint
	// ProxyServer is the scheme://host:port value for --proxy-server.
	// Empty means direct egress.
	ProxyServer string
	Headless    bool
	StartPage   string
	Timeout     time.Duration
}

// BrowserSession is a live page handle inside a launched browser. The
// engine depends only on this shape, not on any particular automation
// product.
type BrowserSession interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, script string, out any) error
	Close(ctx context.Context) error
}

// SessionFactory launches one persistent, isolated browser session bound
// to a profile's on-disk directory. Injected into the session launcher so
// tests substitute doubles that simulate launch failures.
type SessionFactory interface {
	LaunchPersistent(ctx context.Context, dir string, params LaunchParams) (BrowserSession, error)
}

// GraphResult is the outcome of interpreting a workflow graph against a
// session.
type GraphResult struct {
	Success   bool
	Error     string
	Variables map[string]string
}

// GraphRunner interprets a stored workflow graph against a live session.
// Failures are reported inside GraphResult or as an error; either way the
// caller still releases the session.
type GraphRunner interface {
	RunGraph(ctx context.Context, session BrowserSession, content []byte, variables map[string]string) (GraphResult, error)
}

// Store is the metadata collaborator boundary. Implementations may fail
// with a NOT_FOUND tagged error or a transport error ("store unavailable").
type Store interface {
	FindProfileByID(ctx context.Context, id string) (*Profile, error)
	UpdateProfileStatus(ctx context.Context, id string, status ProfileStatus, lastUsed time.Time) error

	FindProxyByID(ctx context.Context, id string) (*Proxy, error)
	FindProxyByAddress(ctx context.Context, host string, port int) (*Proxy, error)
	CreateProxy(ctx context.Context, p *Proxy) error
	UpdateProxyStatus(ctx context.Context, id string, status ProxyStatus) error

	// FindGroupMembers resolves a profile group to its member profiles.
	FindGroupMembers(ctx context.Context, groupID string) ([]Profile, error)
	// FindProxyGroupMembers enumerates a proxy group in stable order for
	// sequential assignment.
	FindProxyGroupMembers(ctx context.Context, groupID string) ([]Proxy, error)

	FindWorkflowByID(ctx context.Context, id string) (*Workflow, error)

	CreateExecution(ctx context.Context, ex *WorkflowExecution) error
	UpdateExecution(ctx context.Context, ex *WorkflowExecution) error
	FindExecutionByID(ctx context.Context, id string) (*WorkflowExecution, error)
}
