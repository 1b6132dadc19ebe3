package health

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store keeps the latest CheckResult per target in a thread-safe manner
type Store struct {
	mu      sync.RWMutex
	results map[string]CheckResult
}

// NewStore creates an empty result store
func NewStore() *Store {
	return &Store{
		results: make(map[string]CheckResult),
	}
}

// Put records r as the latest result for its target, replacing any previous one
func (s *Store) Put(r CheckResult) {
	if r.ObservedAt.IsZero() {
		r.ObservedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.Target] = r
}

// Get retrieves the latest result for a target
func (s *Store) Get(target string) (CheckResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[target]
	return r, ok
}

// All returns a copy of all results ordered by target name
func (s *Store) All() []CheckResult {
	s.mu.RLock()
	out := make([]CheckResult, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// Remove drops a target's result
func (s *Store) Remove(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, target)
}

// Count returns the number of targets with a result
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Clear removes all results
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = make(map[string]CheckResult)
}

// Summary reports the targets as one component: healthy when every target is,
// unhealthy when every target is failing, degraded in between.
func (s *Store) Summary(component string) Status {
	results := s.All()
	if len(results) == 0 {
		return NewHealthy(component, "No targets checked yet")
	}

	failing := 0
	subs := make([]Status, 0, len(results))
	for _, r := range results {
		if !r.IsHealthy() {
			failing++
		}
		subs = append(subs, FromResult(r))
	}

	var status Status
	switch {
	case failing == 0:
		status = NewHealthy(component, fmt.Sprintf("All %d targets healthy", len(results)))
	case failing == len(results):
		status = NewUnhealthy(component, fmt.Sprintf("All %d targets failing", failing))
	default:
		status = NewDegraded(component, fmt.Sprintf("%d of %d targets failing", failing, len(results)))
	}
	status.SubStatuses = subs
	return status
}
