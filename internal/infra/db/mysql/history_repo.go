package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/history"
)

const schema = `
CREATE TABLE IF NOT EXISTS analysis_history (
  id VARCHAR(36) NOT NULL PRIMARY KEY,
  agent_id VARCHAR(50) NOT NULL,
  agent_name VARCHAR(255) NOT NULL,
  policy_id VARCHAR(100) NOT NULL,
  check_id INT NOT NULL,
  check_title VARCHAR(500) NOT NULL,
  check_description TEXT NULL,
  analysis_date DATETIME(6) NOT NULL,
  language VARCHAR(2) NOT NULL,
  ai_provider VARCHAR(20) NOT NULL,
  report_text MEDIUMTEXT NOT NULL,
  remediation_script TEXT NULL,
  script_language VARCHAR(20) NULL,
  validation_command TEXT NULL,
  script_metadata TEXT NULL,
  status VARCHAR(20) NOT NULL DEFAULT 'pending',
  error_message TEXT NULL,
  execution_time_seconds DOUBLE NULL,
  INDEX idx_agent_check (agent_id, check_id),
  INDEX idx_date_status (analysis_date, status),
  INDEX idx_policy_check (policy_id, check_id)
) CHARACTER SET utf8mb4;
`

// columns added after the first release; Migrate adds them to older tables
var scriptColumns = [][2]string{
	{"remediation_script", "TEXT NULL"},
	{"script_language", "VARCHAR(20) NULL"},
	{"validation_command", "TEXT NULL"},
	{"script_metadata", "TEXT NULL"},
}

// HistoryRepository implements history.Repository on MySQL.
type HistoryRepository struct {
	db           *sql.DB
	CacheEnabled bool
	CacheTTL     time.Duration
	Now          func() time.Time
}

func NewHistoryRepository(db *sql.DB, cacheEnabled bool, ttl time.Duration) *HistoryRepository {
	return &HistoryRepository{db: db, CacheEnabled: cacheEnabled, CacheTTL: ttl, Now: time.Now}
}

// Migrate creates the table when missing and adds columns older tables lack.
func (r *HistoryRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	const exists = `
SELECT COUNT(*) FROM information_schema.columns
WHERE table_schema=DATABASE() AND table_name='analysis_history' AND column_name=?;
`
	for _, col := range scriptColumns {
		var n int
		if err := r.db.QueryRowContext(ctx, exists, col[0]).Scan(&n); err != nil {
			return fmt.Errorf("inspect column %s: %w", col[0], err)
		}
		if n > 0 {
			continue
		}
		if _, err := r.db.ExecContext(ctx, "ALTER TABLE analysis_history ADD COLUMN "+col[0]+" "+col[1]); err != nil {
			return fmt.Errorf("add column %s: %w", col[0], err)
		}
	}
	return nil
}

// Append inserts a record (upsert by id).
func (r *HistoryRepository) Append(ctx context.Context, a *history.Record) error {
	const q = `
INSERT INTO analysis_history
  (` + recordColumns + `)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
  report_text=VALUES(report_text), remediation_script=VALUES(remediation_script),
  script_language=VALUES(script_language), validation_command=VALUES(validation_command),
  script_metadata=VALUES(script_metadata), status=VALUES(status),
  error_message=VALUES(error_message), execution_time_seconds=VALUES(execution_time_seconds);
`
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.AnalysisDate.IsZero() {
		a.AnalysisDate = r.Now().UTC()
	}
	if a.Status == "" {
		a.Status = history.StatusPending
	}
	script, err := scriptValues(a.RemediationScript)
	if err != nil {
		return err
	}
	args := []any{
		a.ID, a.AgentID, stringOrDash(a.AgentName), stringOrDash(a.PolicyID), a.CheckID,
		stringOrDash(a.CheckTitle), nullString(a.CheckDescription),
		a.AnalysisDate.UTC(), string(a.Language), string(a.AIProvider), a.ReportText,
	}
	args = append(args, script...)
	args = append(args, string(a.Status), nullString(a.ErrorMessage), nullFloat(a.ExecutionTimeSeconds))
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

// Get returns one record by id.
func (r *HistoryRepository) Get(ctx context.Context, id string) (*history.Record, error) {
	rec, err := r.one(ctx, "SELECT "+recordColumns+" FROM analysis_history WHERE id=?", id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, history.ErrNotFound
	}
	return rec, nil
}

func (r *HistoryRepository) ListByAgent(ctx context.Context, agentID string, opts history.ListOptions) (history.Page, error) {
	page := history.Page{Limit: opts.Limit, Offset: opts.Offset}

	where := "WHERE agent_id=?"
	args := []any{agentID}
	if opts.Status != "" {
		where += " AND status=?"
		args = append(args, string(opts.Status))
	}

	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analysis_history "+where, args...).Scan(&page.Total); err != nil {
		return page, err
	}

	q := "SELECT " + recordColumns + " FROM analysis_history " + where +
		" ORDER BY analysis_date DESC, id DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, q, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return page, err
	}
	page.Analyses, err = scanRecords(rows)
	return page, err
}

func (r *HistoryRepository) ListByCheck(ctx context.Context, agentID string, checkID, limit int) (history.Page, error) {
	const q = `
SELECT ` + recordColumns + `
FROM analysis_history
WHERE agent_id=? AND check_id=?
ORDER BY analysis_date DESC, id DESC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, agentID, checkID, limit)
	if err != nil {
		return history.Page{}, err
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return history.Page{}, err
	}
	return history.Page{Analyses: recs, Total: len(recs), Limit: limit}, nil
}

func (r *HistoryRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM analysis_history WHERE id=?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return history.ErrNotFound
	}
	return nil
}

func (r *HistoryRepository) CacheStats(ctx context.Context) (history.CacheStats, error) {
	const q = `
SELECT COUNT(*),
  COALESCE(SUM(CASE WHEN status='completed' THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN status='failed' THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN status='completed' AND analysis_date >= ? THEN 1 ELSE 0 END), 0)
FROM analysis_history;
`
	st := history.CacheStats{
		CacheEnabled:  r.CacheEnabled,
		CacheTTLHours: int(r.CacheTTL / time.Hour),
	}
	cutoff := r.Now().UTC().Add(-r.CacheTTL)
	err := r.db.QueryRowContext(ctx, q, cutoff).Scan(&st.TotalAnalyses, &st.Completed, &st.Failed, &st.CachedValid)
	return st, err
}

func (r *HistoryRepository) FindCached(ctx context.Context, agentID string, checkID int, lang analysis.Language, since time.Time) (*history.Record, error) {
	const q = `
SELECT ` + recordColumns + `
FROM analysis_history
WHERE agent_id=? AND check_id=? AND language=? AND status='completed' AND analysis_date >= ?
ORDER BY analysis_date DESC
LIMIT 1;
`
	return r.one(ctx, q, agentID, checkID, string(lang), since.UTC())
}

func (r *HistoryRepository) FindShared(ctx context.Context, checkID int, lang analysis.Language, excludeAgent string, since time.Time) (*history.Record, error) {
	const q = `
SELECT ` + recordColumns + `
FROM analysis_history
WHERE check_id=? AND language=? AND status='completed' AND analysis_date >= ? AND agent_id<>?
ORDER BY analysis_date DESC
LIMIT 1;
`
	return r.one(ctx, q, checkID, string(lang), since.UTC(), excludeAgent)
}

func (r *HistoryRepository) one(ctx context.Context, q string, args ...any) (*history.Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}
