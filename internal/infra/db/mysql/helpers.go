package mysql

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/history"
	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
)

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

const recordColumns = `id, agent_id, agent_name, policy_id, check_id, check_title, check_description,
  analysis_date, language, ai_provider, report_text, remediation_script, script_language,
  validation_command, script_metadata, status, error_message, execution_time_seconds`

// scriptMeta is stored as JSON in script_metadata.
type scriptMeta struct {
	EstimatedDuration string   `json:"estimated_duration,omitempty"`
	RequiresRoot      bool     `json:"requires_root"`
	Risks             []string `json:"risks"`
}

// scriptValues splits a script into its four columns; nil gives four NULLs.
func scriptValues(s *analysis.RemediationScript) ([]any, error) {
	if s == nil {
		return []any{sql.NullString{}, sql.NullString{}, sql.NullString{}, sql.NullString{}}, nil
	}
	risks := s.Risks
	if risks == nil {
		risks = []string{}
	}
	meta, err := json.Marshal(scriptMeta{
		EstimatedDuration: s.EstimatedDuration,
		RequiresRoot:      s.RequiresRoot,
		Risks:             risks,
	})
	if err != nil {
		return nil, err
	}
	return []any{
		sql.NullString{String: s.Content, Valid: true},
		nullString(string(s.Language)),
		nullString(s.ValidationCommand),
		sql.NullString{String: string(meta), Valid: true},
	}, nil
}

func scriptFrom(content, lang, validation, meta sql.NullString) (*analysis.RemediationScript, error) {
	if !content.Valid {
		return nil, nil
	}
	s := &analysis.RemediationScript{
		Content:           content.String,
		Language:          analysis.ScriptLanguage(lang.String),
		ValidationCommand: validation.String,
		Risks:             []string{},
	}
	if meta.Valid && meta.String != "" {
		var m scriptMeta
		if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
			return nil, fmt.Errorf("script_metadata: %w", err)
		}
		s.EstimatedDuration = m.EstimatedDuration
		s.RequiresRoot = m.RequiresRoot
		if m.Risks != nil {
			s.Risks = m.Risks
		}
	}
	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*history.Record, error) {
	var (
		r        history.Record
		desc     sql.NullString
		errMsg   sql.NullString
		execTime sql.NullFloat64
		script   sql.NullString
		sLang    sql.NullString
		validate sql.NullString
		meta     sql.NullString
		lang     string
		prov     string
		status   string
	)
	if err := s.Scan(&r.ID, &r.AgentID, &r.AgentName, &r.PolicyID, &r.CheckID, &r.CheckTitle, &desc,
		&r.AnalysisDate, &lang, &prov, &r.ReportText, &script, &sLang, &validate, &meta,
		&status, &errMsg, &execTime); err != nil {
		return nil, err
	}
	rs, err := scriptFrom(script, sLang, validate, meta)
	if err != nil {
		return nil, err
	}
	r.RemediationScript = rs
	r.CheckDescription = desc.String
	r.ErrorMessage = errMsg.String
	r.Language = analysis.Language(lang)
	r.AIProvider = provider.Provider(prov)
	r.Status = history.RecordStatus(status)
	if execTime.Valid {
		v := execTime.Float64
		r.ExecutionTimeSeconds = &v
	}
	return &r, nil
}

func scanRecords(rows *sql.Rows) ([]history.Record, error) {
	defer rows.Close()
	out := []history.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
