// Package registry maps run identities to their live aggregate and stop
// flag. It is the hand-off point between the orchestrator (writer) and
// the polling and stop endpoints.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/pithecene-io/unlockbench/aggregate"
	"github.com/pithecene-io/unlockbench/types"
)

// ErrNotFound is returned for unknown run identities.
var ErrNotFound = errors.New("run not found")

// ErrExists is returned when creating a run identity twice.
var ErrExists = errors.New("run already registered")

type entry struct {
	mu      sync.Mutex
	agg     *types.RunAggregate
	stopped bool
}

// Registry is a concurrency-safe run store scoped to process lifetime.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*entry
	now  func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		runs: make(map[string]*entry),
		now:  time.Now,
	}
}

// Create registers a new run in the starting state.
func (r *Registry) Create(runID, url string, requested int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[runID]; ok {
		return ErrExists
	}
	r.runs[runID] = &entry{agg: types.NewRunAggregate(runID, url, requested, r.now())}
	return nil
}

func (r *Registry) lookup(runID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.runs[runID]
	return e, ok
}

// Get returns a deep copy of the run's aggregate.
func (r *Registry) Get(runID string) (*types.RunAggregate, bool) {
	e, ok := r.lookup(runID)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agg.Clone(), true
}

// MarkStopped sets the permanent stop flag for a run.
func (r *Registry) MarkStopped(runID string) error {
	e, ok := r.lookup(runID)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	e.agg.Stopped = true
	return nil
}

// IsStopped reports whether a stop was requested. Unknown runs are not
// stopped.
func (r *Registry) IsStopped(runID string) bool {
	e, ok := r.lookup(runID)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// Record stores an instance result and recomputes the success rate under
// the run's lock.
func (r *Registry) Record(runID string, res types.InstanceResult) error {
	e, ok := r.lookup(runID)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	aggregate.Record(e.agg, res, r.now())
	return nil
}

// SetState moves a run to a non-terminal state.
func (r *Registry) SetState(runID string, state types.RunState) error {
	e, ok := r.lookup(runID)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agg.State = state
	e.agg.UpdatedAt = r.now()
	return nil
}

// Finish marks a run terminal and returns its final snapshot.
func (r *Registry) Finish(runID string, state types.RunState) (*types.RunAggregate, error) {
	e, ok := r.lookup(runID)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	aggregate.Finish(e.agg, state, r.now())
	return e.agg.Clone(), nil
}

// Len returns the number of registered runs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

// Evict removes completed runs last updated before the cutoff and
// returns how many were removed. Runs still in flight are kept.
func (r *Registry) Evict(before time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.runs {
		e.mu.Lock()
		expired := e.agg.Complete && e.agg.UpdatedAt.Before(before)
		e.mu.Unlock()
		if expired {
			delete(r.runs, id)
			removed++
		}
	}
	return removed
}
