package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-sca/internal/application/history"
	"github.com/bryanwahyu/automaton-sca/internal/domain/sca"
	"github.com/bryanwahyu/automaton-sca/internal/logging"
)

type fakeSource struct {
	checks []sca.Check
	err    error
}

func (f *fakeSource) Agents(ctx context.Context, search string) ([]sca.Agent, error) {
	return []sca.Agent{{ID: "001", Name: "web-01"}}, nil
}

func (f *fakeSource) Policies(ctx context.Context, agentID string) ([]sca.Policy, error) {
	return []sca.Policy{{PolicyID: "cis_ubuntu22-04", Name: "CIS Ubuntu"}}, nil
}

func (f *fakeSource) FailedChecks(ctx context.Context, agentID, policyID string) ([]sca.Check, error) {
	return f.checks, f.err
}

type fakeAnalyzed struct {
	set history.CheckSet
	err error
}

func (f fakeAnalyzed) AnalyzedSet(ctx context.Context, agentID string) (history.CheckSet, error) {
	return f.set, f.err
}

func threeChecks() []sca.Check {
	return []sca.Check{{ID: 1, Title: "a"}, {ID: 2, Title: "b"}, {ID: 3, Title: "c"}}
}

func TestFailedChecks_Annotated(t *testing.T) {
	svc := &Service{
		Source:   &fakeSource{checks: threeChecks()},
		Analyzed: fakeAnalyzed{set: history.CheckSet{2: {}}},
		Logger:   logging.Discard(),
	}
	views, err := svc.FailedChecks(context.Background(), "001", "p")
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.False(t, views[0].Analyzed)
	assert.True(t, views[1].Analyzed)
	assert.Equal(t, "c", views[2].Title)
}

func TestFailedChecks_AnalyzedUnavailable(t *testing.T) {
	svc := &Service{
		Source:   &fakeSource{checks: threeChecks()},
		Analyzed: fakeAnalyzed{err: errors.New("backend down")},
		Logger:   logging.Discard(),
	}
	views, err := svc.FailedChecks(context.Background(), "001", "p")
	require.NoError(t, err)
	for _, v := range views {
		assert.False(t, v.Analyzed)
	}
}

func TestFailedChecks_SourceError(t *testing.T) {
	svc := &Service{Source: &fakeSource{err: errors.New("boom")}}
	_, err := svc.FailedChecks(context.Background(), "001", "p")
	assert.EqualError(t, err, "boom")
}

func TestSelect(t *testing.T) {
	svc := &Service{Source: &fakeSource{checks: threeChecks()}}

	all, err := svc.Select(context.Background(), "001", "p", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := svc.Select(context.Background(), "001", "p", []int{3, 1})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, 3, some[0].ID)
	assert.Equal(t, 1, some[1].ID)

	_, err = svc.Select(context.Background(), "001", "p", []int{9})
	assert.ErrorIs(t, err, ErrUnknownCheck)
}
