package merger

import "sync"

// RunningGroups is the set of group IDs with a merge in flight.
// TryClaim is an atomic test-and-insert.
type RunningGroups struct {
	mu     sync.Mutex
	groups map[string]struct{}
}

// NewRunningGroups creates an empty set.
func NewRunningGroups() *RunningGroups {
	return &RunningGroups{groups: make(map[string]struct{})}
}

// TryClaim adds id and reports true, or reports false if id is already claimed.
func (g *RunningGroups) TryClaim(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.groups[id]; ok {
		return false
	}
	g.groups[id] = struct{}{}
	return true
}

// Release removes id. Releasing an unclaimed id is a no-op.
func (g *RunningGroups) Release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.groups, id)
}

// Running reports whether id is claimed.
func (g *RunningGroups) Running(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.groups[id]
	return ok
}

// Len returns the number of claimed groups.
func (g *RunningGroups) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.groups)
}
