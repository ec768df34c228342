package analysis

import (
	"context"

	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
	"github.com/bryanwahyu/automaton-sca/internal/domain/sca"
)

// Language of the generated report.
type Language string

const (
	LangEN Language = "en"
	LangPT Language = "pt"
)

// ParseLanguage defaults an empty value to English.
func ParseLanguage(s string) (Language, error) {
	switch Language(s) {
	case "", LangEN:
		return LangEN, nil
	case LangPT:
		return LangPT, nil
	}
	return "", ErrUnsupportedLanguage
}

// Request asks for one check to be analyzed. Check carries the full check
// for analyzers that build their own prompt; it is not sent over the wire.
type Request struct {
	AgentID   string            `json:"agent_id"`
	AgentName string            `json:"-"`
	PolicyID  string            `json:"policy_id"`
	CheckID   int               `json:"check_id"`
	Language  Language          `json:"language"`
	Provider  provider.Provider `json:"ai_provider"`
	Check     *sca.Check        `json:"-"`
}

// Result is what an analyzer returns. CachedFromAgent is set when the
// report was served from another agent's prior analysis.
type Result struct {
	CheckID         int                `json:"check_id"`
	Report          string             `json:"report"`
	Script          *RemediationScript `json:"remediation_script,omitempty"`
	AIProvider      provider.Provider  `json:"ai_provider"`
	Language        Language           `json:"language"`
	CachedFromAgent string             `json:"cached_from_agent,omitempty"`
}

// Analyzer port (interface untuk AI analysis)
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (Result, error)
}
