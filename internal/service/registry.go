package service

import (
	"context"
	"sync"
)

// runHandle tracks one active job run's cooperative stop signal.
type runHandle struct {
	cancel context.CancelFunc
	reason string
}

// RunRegistry tracks the cancellation handles of active job runs. Cancelling
// a run only signals it; the processor checkpoints and stops at its next
// between-group check, it never kills in-flight calls.
type RunRegistry struct {
	mu   sync.Mutex
	runs map[string]*runHandle
}

// NewRunRegistry creates an empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: make(map[string]*runHandle)}
}

// Register adds a run and returns the context the run should poll for its
// cooperative stop signal.
// Parameters:
//   - jobID: the job being run.
// Returns:
//   - context.Context: cancelled when the run is asked to stop.
func (r *RunRegistry) Register(jobID string) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.runs[jobID] = &runHandle{cancel: cancel}
	r.mu.Unlock()
	return ctx
}

// Unregister removes a finished run and releases its context.
func (r *RunRegistry) Unregister(jobID string) {
	r.mu.Lock()
	if h, ok := r.runs[jobID]; ok {
		h.cancel()
		delete(r.runs, jobID)
	}
	r.mu.Unlock()
}

// Cancel signals one run to stop. Idempotent; returns false when no run with
// that id is active.
func (r *RunRegistry) Cancel(jobID, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.runs[jobID]
	if !ok {
		return false
	}
	if h.reason == "" {
		h.reason = reason
	}
	h.cancel()
	return true
}

// CancelAll signals every active run to stop. Used by the shutdown path.
func (r *RunRegistry) CancelAll(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.runs {
		if h.reason == "" {
			h.reason = reason
		}
		h.cancel()
	}
}

// Reason returns the stop reason recorded for a run, if any.
func (r *RunRegistry) Reason(jobID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.runs[jobID]; ok {
		return h.reason
	}
	return ""
}

// Active returns the number of runs currently registered.
func (r *RunRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
