package core

import (
	"context"
	"sync"
)

// RunningAnalyses tracks in-flight analyses by ticket so that stop requests
// can cancel them. At most one analysis per ticket may be registered.
type RunningAnalyses struct {
	mu    sync.Mutex
	tasks map[string]context.CancelFunc
}

// NewRunningAnalyses creates an empty registry.
func NewRunningAnalyses() *RunningAnalyses {
	return &RunningAnalyses{tasks: make(map[string]context.CancelFunc)}
}

// Register stores the cancel function for a ticket's analysis. Returns an
// error if an analysis is already registered for the ticket.
func (r *RunningAnalyses) Register(ticketID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[ticketID]; exists {
		return ErrState(CodeAlreadyRunning, "analysis already running for ticket "+ticketID)
	}
	r.tasks[ticketID] = cancel
	return nil
}

// Cancel cancels and removes the ticket's analysis. Returns false if no
// analysis was registered.
func (r *RunningAnalyses) Cancel(ticketID string) bool {
	r.mu.Lock()
	cancel, ok := r.tasks[ticketID]
	if ok {
		delete(r.tasks, ticketID)
	}
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Remove drops the registration without cancelling. Called by the analysis
// goroutine itself on completion.
func (r *RunningAnalyses) Remove(ticketID string) {
	r.mu.Lock()
	delete(r.tasks, ticketID)
	r.mu.Unlock()
}

// IsRunning reports whether the ticket has a registered analysis.
func (r *RunningAnalyses) IsRunning(ticketID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[ticketID]
	return ok
}

// Count returns the number of in-flight analyses.
func (r *RunningAnalyses) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
