package analysis

import "fmt"

// Status of a task inside one batch run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether s ends the task's lifecycle for its run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Task is one check's analysis lifecycle. Tasks are values; every change
// produces a new Task.
type Task struct {
	CheckID         int                `json:"check_id"`
	Title           string             `json:"title"`
	Status          Status             `json:"status"`
	Report          string             `json:"report,omitempty"`
	Script          *RemediationScript `json:"remediation_script,omitempty"`
	Error           string             `json:"error,omitempty"`
	CachedFromAgent string             `json:"cached_from_agent,omitempty"`
}

// NewTask creates a pending task.
func NewTask(checkID int, title string) Task {
	return Task{CheckID: checkID, Title: title, Status: StatusPending}
}

// EventType drives the task state machine.
type EventType int

const (
	EventStart EventType = iota + 1
	EventSucceed
	EventFail
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventSucceed:
		return "succeed"
	case EventFail:
		return "fail"
	}
	return "unknown"
}

// Event is applied to the task with the matching CheckID.
type Event struct {
	Type            EventType
	CheckID         int
	Report          string
	Script          *RemediationScript
	Error           string
	CachedFromAgent string
}

// Apply returns the task after ev. pending -> analyzing -> completed|error;
// everything else is ErrInvalidTransition and leaves t unchanged.
func (t Task) Apply(ev Event) (Task, error) {
	switch {
	case ev.Type == EventStart && t.Status == StatusPending:
		t.Status = StatusAnalyzing
	case ev.Type == EventSucceed && t.Status == StatusAnalyzing:
		t.Status = StatusCompleted
		t.Report = ev.Report
		t.Script = ev.Script.Clone()
		t.CachedFromAgent = ev.CachedFromAgent
	case ev.Type == EventFail && t.Status == StatusAnalyzing:
		t.Status = StatusError
		t.Error = ev.Error
		if t.Error == "" {
			t.Error = "analysis failed"
		}
	default:
		return t, fmt.Errorf("%w: %s from %s (check %d)", ErrInvalidTransition, ev.Type, t.Status, t.CheckID)
	}
	return t, nil
}

// Progress is derived from tasks, never stored.
type Progress struct {
	Total     int     `json:"total"`
	Pending   int     `json:"pending"`
	Analyzing int     `json:"analyzing"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Processed int     `json:"processed"`
	Percent   float64 `json:"percent"`
}

// Summarize counts tasks by status.
func Summarize(tasks []Task) Progress {
	p := Progress{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case StatusPending:
			p.Pending++
		case StatusAnalyzing:
			p.Analyzing++
		case StatusCompleted:
			p.Completed++
		case StatusError:
			p.Failed++
		}
	}
	p.Processed = p.Completed + p.Failed
	if p.Total > 0 {
		p.Percent = float64(p.Processed) / float64(p.Total) * 100
	}
	return p
}

// Reduce applies ev to the task keyed by ev.CheckID and returns a new slice.
// The input slice is never modified, so snapshots handed out earlier stay valid.
func Reduce(tasks []Task, ev Event) ([]Task, error) {
	for i, t := range tasks {
		if t.CheckID != ev.CheckID {
			continue
		}
		next, err := t.Apply(ev)
		if err != nil {
			return tasks, err
		}
		out := make([]Task, len(tasks))
		copy(out, tasks)
		out[i] = next
		return out, nil
	}
	return tasks, fmt.Errorf("%w: check %d", ErrUnknownTask, ev.CheckID)
}
