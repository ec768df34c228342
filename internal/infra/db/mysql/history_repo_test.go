package mysql

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/history"
	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
)

func TestStringOrDash(t *testing.T) {
	assert.Equal(t, "-", stringOrDash("  "))
	assert.Equal(t, "x", stringOrDash("x"))
}

func TestNullFloat(t *testing.T) {
	assert.False(t, nullFloat(nil).Valid)
	v := 1.5
	assert.Equal(t, 1.5, nullFloat(&v).Float64)
}

func TestScriptColumns(t *testing.T) {
	vals, err := scriptValues(nil)
	require.NoError(t, err)
	for _, v := range vals {
		assert.False(t, v.(sql.NullString).Valid)
	}
	none, err := scriptFrom(sql.NullString{}, sql.NullString{}, sql.NullString{}, sql.NullString{})
	require.NoError(t, err)
	assert.Nil(t, none)

	in := &analysis.RemediationScript{
		Content:           "auditctl -e 1",
		Language:          analysis.ScriptBash,
		ValidationCommand: "auditctl -s",
		EstimatedDuration: "1 minute",
		RequiresRoot:      true,
		Risks:             []string{"audit backlog"},
	}
	vals, err = scriptValues(in)
	require.NoError(t, err)
	require.Len(t, vals, 4)
	assert.JSONEq(t, `{"estimated_duration":"1 minute","requires_root":true,"risks":["audit backlog"]}`,
		vals[3].(sql.NullString).String)

	out, err := scriptFrom(vals[0].(sql.NullString), vals[1].(sql.NullString), vals[2].(sql.NullString), vals[3].(sql.NullString))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = scriptFrom(sql.NullString{String: "x", Valid: true}, sql.NullString{}, sql.NullString{},
		sql.NullString{String: "{", Valid: true})
	assert.Error(t, err)
}

// Runs against a real server when TEST_MYSQL_DSN is set.
func TestHistoryRepository(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set")
	}
	ctx := context.Background()
	db, err := Connect(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()

	repo := NewHistoryRepository(db, true, 24*time.Hour)
	require.NoError(t, repo.Migrate(ctx))

	agentA := "a-" + uuid.NewString()[:8]
	agentB := "b-" + uuid.NewString()[:8]
	secs := 2.5
	rec := &history.Record{
		AgentID: agentA, AgentName: "web", PolicyID: "cis", CheckID: 28500, CheckTitle: "SSH",
		Language: analysis.LangEN, AIProvider: provider.VLLM, ReportText: "r",
		Status: history.StatusCompleted, ExecutionTimeSeconds: &secs,
		RemediationScript: &analysis.RemediationScript{
			Content: "echo ok", Language: analysis.ScriptBash, RequiresRoot: true, Risks: []string{"none"},
		},
	}
	require.NoError(t, repo.Append(ctx, rec))
	require.NotEmpty(t, rec.ID)

	byID, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, byID.RemediationScript)
	assert.Equal(t, "echo ok", byID.RemediationScript.Content)
	assert.True(t, byID.RemediationScript.RequiresRoot)
	_, err = repo.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, history.ErrNotFound)

	since := time.Now().Add(-time.Hour)
	got, err := repo.FindCached(ctx, agentA, 28500, analysis.LangEN, since)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2.5, *got.ExecutionTimeSeconds)

	shared, err := repo.FindShared(ctx, 28500, analysis.LangEN, agentB, since)
	require.NoError(t, err)
	require.NotNil(t, shared)

	none, err := repo.FindShared(ctx, 28500, analysis.LangPT, agentB, since)
	require.NoError(t, err)
	assert.Nil(t, none)

	page, err := repo.ListByAgent(ctx, agentA, history.ListOptions{Limit: 10, Status: history.StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	require.NoError(t, repo.Delete(ctx, rec.ID))
	assert.ErrorIs(t, repo.Delete(ctx, rec.ID), history.ErrNotFound)
}
