package engine

import (
	"context"
	"sync"

	"github.com/tapsucode/stealthfleet/internal/tracker"
)

// registry holds in-process executions so Stop and GetExecution can
// reach the live tracker and the dispatch cancel.
type registry struct {
	mu      sync.Mutex
	entries map[string]registryEntry
}

type registryEntry struct {
	tracker *tracker.Tracker
	cancel  context.CancelFunc
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]registryEntry)}
}

func (r *registry) add(tr *tracker.Tracker, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tr.ID()] = registryEntry{tracker: tr, cancel: cancel}
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

func (r *registry) get(id string) (*tracker.Tracker, context.CancelFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, nil, false
	}
	return entry.tracker, entry.cancel, true
}
