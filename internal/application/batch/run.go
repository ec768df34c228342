package batch

import (
	"context"
	"sync"
	"time"

	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
)

// Snapshot is an immutable view of a run. Tasks is never written after
// it has been handed out.
type Snapshot struct {
	BatchID    string            `json:"batch_id"`
	AgentID    string            `json:"agent_id"`
	AgentName  string            `json:"agent_name"`
	PolicyID   string            `json:"policy_id"`
	Provider   provider.Provider `json:"ai_provider"`
	Language   analysis.Language `json:"language"`
	Tasks      []analysis.Task   `json:"tasks"`
	Progress   analysis.Progress `json:"progress"`
	Running    bool              `json:"running"`
	Stopped    bool              `json:"stopped"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// Completed returns the tasks in the completed state, in input order.
func (s Snapshot) Completed() []analysis.Task {
	var out []analysis.Task
	for _, t := range s.Tasks {
		if t.Status == analysis.StatusCompleted {
			out = append(out, t)
		}
	}
	return out
}

// Run is one batch orchestration. The task list is the only shared mutable
// state; it is replaced wholesale on every transition.
type Run struct {
	id  string
	req Request

	mu         sync.RWMutex
	tasks      []analysis.Task
	running    bool
	stopped    bool
	startedAt  time.Time
	finishedAt time.Time
	subs       map[int]chan Snapshot
	nextSub    int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newRun(id string, req Request, now time.Time) *Run {
	tasks := make([]analysis.Task, len(req.Checks))
	for i, c := range req.Checks {
		tasks[i] = analysis.NewTask(c.ID, c.Title)
	}
	return &Run{
		id:        id,
		req:       req,
		tasks:     tasks,
		running:   true,
		startedAt: now,
		subs:      make(map[int]chan Snapshot),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID returns the batch id.
func (r *Run) ID() string { return r.id }

// Done is closed once the run stops dispatching and every dispatched task settled.
func (r *Run) Done() <-chan struct{} { return r.done }

// Snapshot returns the current state.
func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Run) snapshotLocked() Snapshot {
	s := Snapshot{
		BatchID:   r.id,
		AgentID:   r.req.AgentID,
		AgentName: r.req.AgentName,
		PolicyID:  r.req.PolicyID,
		Provider:  r.req.Provider,
		Language:  r.req.Language,
		Tasks:     r.tasks,
		Progress:  analysis.Summarize(r.tasks),
		Running:   r.running,
		Stopped:   r.stopped,
		StartedAt: r.startedAt,
	}
	if !r.finishedAt.IsZero() {
		f := r.finishedAt
		s.FinishedAt = &f
	}
	return s
}

// Subscribe streams snapshots: the current one first, then one per
// transition. The channel is closed when the run finishes or cancel is called.
func (r *Run) Subscribe() (<-chan Snapshot, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// every task emits at most two more snapshots plus the final one
	ch := make(chan Snapshot, 2*len(r.tasks)+2)
	ch <- r.snapshotLocked()
	if !r.running {
		close(ch)
		return ch, func() {}
	}

	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
	}
}

// Stop asks the run not to dispatch further tasks. A task already
// analyzing still settles.
func (r *Run) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Wait blocks until the run is done or ctx ends.
func (r *Run) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-r.done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

func (r *Run) stopRequested() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// apply reduces ev into the task list and publishes the result.
func (r *Run) apply(ev analysis.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := analysis.Reduce(r.tasks, ev)
	if err != nil {
		return err
	}
	r.tasks = next
	r.publishLocked()
	return nil
}

func (r *Run) finish(now time.Time, stopped bool) {
	r.mu.Lock()
	r.running = false
	r.stopped = stopped
	r.finishedAt = now
	r.publishLocked()
	for id, c := range r.subs {
		close(c)
		delete(r.subs, id)
	}
	r.mu.Unlock()
	close(r.done)
}

func (r *Run) publishLocked() {
	s := r.snapshotLocked()
	for _, c := range r.subs {
		select {
		case c <- s:
		default:
		}
	}
}
