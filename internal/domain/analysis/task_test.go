package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskApply_HappyPath(t *testing.T) {
	task := NewTask(7, "Ensure /tmp is a separate partition")
	assert.Equal(t, StatusPending, task.Status)

	task, err := task.Apply(Event{Type: EventStart, CheckID: 7})
	require.NoError(t, err)
	assert.Equal(t, StatusAnalyzing, task.Status)

	task, err = task.Apply(Event{Type: EventSucceed, CheckID: 7, Report: "## Report", CachedFromAgent: "003"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, "## Report", task.Report)
	assert.Equal(t, "003", task.CachedFromAgent)
	assert.True(t, task.Status.Terminal())
}

func TestTaskApply_FailCarriesMessage(t *testing.T) {
	task, _ := NewTask(1, "x").Apply(Event{Type: EventStart})
	task, err := task.Apply(Event{Type: EventFail})
	require.NoError(t, err)
	assert.Equal(t, StatusError, task.Status)
	assert.Equal(t, "analysis failed", task.Error)
}

func TestTaskApply_RejectsSkips(t *testing.T) {
	pending := NewTask(1, "x")
	_, err := pending.Apply(Event{Type: EventSucceed})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = pending.Apply(Event{Type: EventFail})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	analyzing, _ := pending.Apply(Event{Type: EventStart})
	_, err = analyzing.Apply(Event{Type: EventStart})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	done, _ := analyzing.Apply(Event{Type: EventSucceed})
	again, err := done.Apply(Event{Type: EventStart})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusCompleted, again.Status)
}

func TestReduce_CopyOnWrite(t *testing.T) {
	tasks := []Task{NewTask(1, "a"), NewTask(2, "b")}
	next, err := Reduce(tasks, Event{Type: EventStart, CheckID: 2})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, tasks[1].Status, "input must not change")
	assert.Equal(t, StatusAnalyzing, next[1].Status)
	assert.Equal(t, StatusPending, next[0].Status)

	_, err = Reduce(tasks, Event{Type: EventStart, CheckID: 99})
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestSummarize(t *testing.T) {
	tasks := []Task{
		{CheckID: 1, Status: StatusCompleted},
		{CheckID: 2, Status: StatusCompleted},
		{CheckID: 3, Status: StatusError},
		{CheckID: 4, Status: StatusAnalyzing},
	}
	p := Summarize(tasks)
	assert.Equal(t, 4, p.Total)
	assert.Equal(t, 2, p.Completed)
	assert.Equal(t, 1, p.Failed)
	assert.Equal(t, 1, p.Analyzing)
	assert.Equal(t, 3, p.Processed)
	assert.InDelta(t, 75.0, p.Percent, 0.001)

	assert.Zero(t, Summarize(nil).Percent)
}

func TestParseLanguage(t *testing.T) {
	l, err := ParseLanguage("")
	require.NoError(t, err)
	assert.Equal(t, LangEN, l)
	l, err = ParseLanguage("pt")
	require.NoError(t, err)
	assert.Equal(t, LangPT, l)
	_, err = ParseLanguage("de")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
}
