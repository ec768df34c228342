package batch

import (
	"errors"
	"sync"
)

// ErrRunNotFound is returned for unknown batch ids.
var ErrRunNotFound = errors.New("batch not found")

// Registry keeps runs addressable by id. Finished runs beyond the limit are
// evicted oldest first.
type Registry struct {
	mu    sync.Mutex
	runs  map[string]*Run
	order []string
	limit int
}

// NewRegistry creates a registry retaining at most limit runs (default 100).
func NewRegistry(limit int) *Registry {
	if limit <= 0 {
		limit = 100
	}
	return &Registry{runs: make(map[string]*Run), limit: limit}
}

// Add registers run.
func (g *Registry) Add(run *Run) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runs[run.ID()] = run
	g.order = append(g.order, run.ID())
	g.evictLocked()
}

// Get looks up a run by id.
func (g *Registry) Get(id string) (*Run, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	run, ok := g.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// Active reports whether any registered run is still processing.
func (g *Registry) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range g.runs {
		select {
		case <-r.Done():
		default:
			return true
		}
	}
	return false
}

func (g *Registry) evictLocked() {
	for len(g.order) > g.limit {
		evicted := false
		for i, id := range g.order {
			select {
			case <-g.runs[id].Done():
				delete(g.runs, id)
				g.order = append(g.order[:i], g.order[i+1:]...)
				evicted = true
			default:
			}
			if evicted {
				break
			}
		}
		if !evicted {
			return
		}
	}
}
