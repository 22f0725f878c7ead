package schemas

import (
	"net"
	"strconv"
	"time"
)

// ProfileStatus tracks whether a profile currently owns a live browser session.
type ProfileStatus string

const (
	ProfileActive ProfileStatus = "active"
	ProfileIdle   ProfileStatus = "idle"
)

// ProxyStatus is the last observed health of an upstream proxy.
type ProxyStatus string

const (
	ProxyOnline  ProxyStatus = "online"
	ProxyOffline ProxyStatus = "offline"
)

// Profile is a persistent browser identity: a fingerprint parameter set,
// an optional proxy reference, and exactly one on-disk session directory.
// The engine reads profiles and writes back only Status and LastUsed.
type Profile struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Name        string        `json:"name"`
	Fingerprint Fingerprint   `json:"fingerprint"`
	ProxyID     string        `json:"proxy_id,omitempty"`
	Status      ProfileStatus `json:"status"`
	LastUsed    *time.Time    `json:"last_used,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Proxy is an upstream egress endpoint a session can be routed through.
type Proxy struct {
	ID       string      `json:"id"`
	Host     string      `json:"host"`
	Port     int         `json:"port"`
	Protocol string      `json:"protocol"` // "http", "https" or "socks5"
	Username string      `json:"username,omitempty"`
	Password string      `json:"password,omitempty"`
	Status   ProxyStatus `json:"status"`
}

// Address returns the host:port form used for lookups and Chrome flags.
func (p *Proxy) Address() string {
	if p == nil {
		return ""
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Authenticated reports whether the upstream requires credentials.
func (p *Proxy) Authenticated() bool {
	return p != nil && p.Username != ""
}

// ProxyGroup is a named, ordered collection of proxies used for
// sequential assignment across profile batches.
type ProxyGroup struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	ProxyIDs []string `json:"proxy_ids"`
}

// Workflow is automation-graph metadata. Content is the opaque node/edge
// payload handed to the graph runner; the engine never inspects it.
type Workflow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Content     []byte `json:"content"`
}

// ExecutionStatus is the lifecycle state of a WorkflowExecution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionStopped   ExecutionStatus = "stopped"
)

// Terminal reports whether no further transition is permitted.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionStopped:
		return true
	}
	return false
}

// ProfileResult is the recorded outcome of one profile task inside a
// multi-profile execution. Ordering in ExecutionResults.Details reflects
// completion order, not submission order; callers match by ProfileID.
type ProfileResult struct {
	ProfileID string `json:"profile_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// ExecutionResults aggregates per-profile outcomes.
// SuccessCount + FailureCount always equals the number of attempted tasks.
type ExecutionResults struct {
	SuccessCount int             `json:"success_count"`
	FailureCount int             `json:"failure_count"`
	Details      []ProfileResult `json:"details"`
}

// ExecutionProgress exposes monotonically non-decreasing counters while an
// execution is running. Percent is derived and clamped to [0, 100].
type ExecutionProgress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Percent   int `json:"percent"`
}

// WorkflowExecution is the durable record of one workflow run against one
// or more profiles. Created in pending; transitions to exactly one
// terminal state and never transitions again.
type WorkflowExecution struct {
	ID         string            `json:"id"`
	WorkflowID string            `json:"workflow_id"`
	UserID     string            `json:"user_id"`
	Status     ExecutionStatus   `json:"status"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    *time.Time        `json:"end_time,omitempty"`
	Results    ExecutionResults  `json:"results"`
	Progress   ExecutionProgress `json:"progress"`
	Error      string            `json:"error,omitempty"`
}
