// Package graph interprets stored workflow content against a live
// browser session. Content is a node list executed in order; failures
// surface as interpreter-tagged errors so the engine can distinguish
// broken workflows from broken launches.
package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/tapsucode/stealthfleet/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// node is one step of a workflow graph.
type node struct {
	ID     string            `json:"id"`
	Type   string            `json:"type"`
	Params map[string]string `json:"params"`
}

type document struct {
	Nodes []node `json:"nodes"`
}

// Runner executes workflow documents sequentially.
type Runner struct {
	logger *zap.Logger
}

var _ schemas.GraphRunner = (*Runner)(nil)

func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger.Named("graph")}
}

// RunGraph walks the node list. A node failure stops the walk; the
// partial variable state is still returned so callers can inspect how
// far the workflow got.
func (r *Runner) RunGraph(ctx context.Context, session schemas.BrowserSession, content []byte, variables map[string]string) (schemas.GraphResult, error) {
	vars := make(map[string]string, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	result := schemas.GraphResult{Variables: vars}

	var doc document
	if err := json.Unmarshal(content, &doc); err != nil {
		return result, schemas.WrapError(schemas.KindInterpreter, err, "workflow content is not a valid graph")
	}
	if len(doc.Nodes) == 0 {
		return result, schemas.NewError(schemas.KindInterpreter, "workflow graph has no nodes")
	}

	for i, n := range doc.Nodes {
		if err := ctx.Err(); err != nil {
			return result, schemas.WrapError(schemas.KindInterpreter, err, "workflow interrupted at node %d", i)
		}
		if err := r.runNode(ctx, session, n, vars); err != nil {
			result.Error = err.Error()
			return result, err
		}
	}

	result.Success = true
	return result, nil
}

func (r *Runner) runNode(ctx context.Context, session schemas.BrowserSession, n node, vars map[string]string) error {
	r.logger.Debug("Executing workflow node",
		zap.String("node_id", n.ID), zap.String("type", n.Type))

	switch n.Type {
	case "navigate":
		url := interpolate(n.Params["url"], vars)
		if url == "" {
			return nodeErr(n, "navigate node requires a url param")
		}
		if err := session.Navigate(ctx, url); err != nil {
			return nodeWrap(n, err, "navigation to %s failed", url)
		}
		return nil

	case "wait":
		d, err := time.ParseDuration(n.Params["duration"])
		if err != nil || d <= 0 {
			return nodeErr(n, "wait node requires a positive duration param")
		}
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return nodeWrap(n, ctx.Err(), "wait interrupted")
		}

	case "evaluate":
		script := interpolate(n.Params["script"], vars)
		if script == "" {
			return nodeErr(n, "evaluate node requires a script param")
		}
		var out any
		if err := session.Evaluate(ctx, script, &out); err != nil {
			return nodeWrap(n, err, "script evaluation failed")
		}
		if target := n.Params["saveAs"]; target != "" {
			vars[target] = fmt.Sprintf("%v", out)
		}
		return nil

	case "setVariable":
		name := n.Params["name"]
		if name == "" {
			return nodeErr(n, "setVariable node requires a name param")
		}
		vars[name] = interpolate(n.Params["value"], vars)
		return nil

	default:
		return nodeErr(n, "unknown node type %q", n.Type)
	}
}

func nodeErr(n node, format string, args ...any) error {
	return schemas.NewError(schemas.KindInterpreter, "node %s: %s", n.ID, fmt.Sprintf(format, args...))
}

func nodeWrap(n node, err error, format string, args ...any) error {
	return schemas.WrapError(schemas.KindInterpreter, err, "node %s: %s", n.ID, fmt.Sprintf(format, args...))
}

// interpolate substitutes ${name} references from the variable map.
// Unknown references stay verbatim so typos are visible downstream.
func interpolate(s string, vars map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	for name, value := range vars {
		s = strings.ReplaceAll(s, "${"+name+"}", value)
	}
	return s
}
