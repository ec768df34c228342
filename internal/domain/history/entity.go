package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
)

// RecordStatus of a persisted analysis.
type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusCompleted RecordStatus = "completed"
	StatusFailed    RecordStatus = "failed"
)

// ParseStatus accepts "" (no filter), "all" (no filter) or a record status.
func ParseStatus(s string) (RecordStatus, error) {
	switch RecordStatus(s) {
	case "", "all":
		return "", nil
	case StatusPending, StatusCompleted, StatusFailed:
		return RecordStatus(s), nil
	}
	return "", ErrInvalidStatus
}

// Record is one stored analysis.
type Record struct {
	ID                   string                      `json:"id"`
	AgentID              string                      `json:"agent_id"`
	AgentName            string                      `json:"agent_name"`
	PolicyID             string                      `json:"policy_id"`
	CheckID              int                         `json:"check_id"`
	CheckTitle           string                      `json:"check_title"`
	CheckDescription     string                      `json:"check_description,omitempty"`
	AnalysisDate         time.Time                   `json:"analysis_date"`
	Language             analysis.Language           `json:"language"`
	AIProvider           provider.Provider           `json:"ai_provider"`
	ReportText           string                      `json:"report_text"`
	RemediationScript    *analysis.RemediationScript `json:"remediation_script,omitempty"`
	Status               RecordStatus                `json:"status"`
	ErrorMessage         string                      `json:"error_message,omitempty"`
	ExecutionTimeSeconds *float64                    `json:"execution_time_seconds,omitempty"`
}

// UnmarshalJSON accepts analysis_date with or without a zone; naive
// timestamps are UTC.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	aux := struct {
		*plain
		AnalysisDate string `json:"analysis_date"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.AnalysisDate == "" {
		r.AnalysisDate = time.Time{}
		return nil
	}
	t, err := parseTimestamp(aux.AnalysisDate)
	if err != nil {
		return err
	}
	r.AnalysisDate = t
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("analysis_date %q: %w", s, err)
	}
	return t, nil
}

// Page is a paginated listing, shaped like the backend's response.
type Page struct {
	Analyses []Record `json:"analyses"`
	Total    int      `json:"total"`
	Limit    int      `json:"limit"`
	Offset   int      `json:"offset"`
}

// ListOptions filter a listing by agent.
type ListOptions struct {
	Limit  int
	Offset int
	Status RecordStatus
}

// CacheStats aggregates the history store.
type CacheStats struct {
	TotalAnalyses int  `json:"total_analyses"`
	Completed     int  `json:"completed"`
	Failed        int  `json:"failed"`
	CachedValid   int  `json:"cached_valid"`
	CacheEnabled  bool `json:"cache_enabled"`
	CacheTTLHours int  `json:"cache_ttl_hours"`
}

// HitRate is cached_valid/completed as a percentage, 0 without completions.
func (c CacheStats) HitRate() float64 {
	if c.Completed == 0 {
		return 0
	}
	return float64(c.CachedValid) / float64(c.Completed) * 100
}
