package analysis

import (
	"errors"
	"fmt"
	"strings"
)

// ScriptLanguage is the interpreter a remediation script targets.
type ScriptLanguage string

const (
	ScriptBash       ScriptLanguage = "bash"
	ScriptPowerShell ScriptLanguage = "powershell"
	ScriptPython     ScriptLanguage = "python"
)

var ErrInvalidScript = errors.New("invalid remediation script")

// RemediationScript is an optional fix attached to a report.
type RemediationScript struct {
	Content           string         `json:"script_content"`
	Language          ScriptLanguage `json:"script_language"`
	ValidationCommand string         `json:"validation_command"`
	EstimatedDuration string         `json:"estimated_duration,omitempty"`
	RequiresRoot      bool           `json:"requires_root"`
	Risks             []string       `json:"risks"`
}

// Validate accepts a script with content and a known language.
func (s *RemediationScript) Validate() error {
	if s == nil {
		return nil
	}
	if s.Content == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidScript)
	}
	switch s.Language {
	case ScriptBash, ScriptPowerShell, ScriptPython:
		return nil
	}
	return fmt.Errorf("%w: language %q", ErrInvalidScript, s.Language)
}

// Ext is the file extension for the script language.
func (l ScriptLanguage) Ext() string {
	switch l {
	case ScriptBash:
		return "sh"
	case ScriptPowerShell:
		return "ps1"
	case ScriptPython:
		return "py"
	}
	return "txt"
}

// Filename names a saved script after the check title.
func (s *RemediationScript) Filename(checkTitle string) string {
	base := strings.Join(strings.Fields(checkTitle), "_")
	base = strings.ReplaceAll(base, "/", "_")
	if base == "" {
		base = "script"
	}
	return "remediation_" + base + "." + s.Language.Ext()
}

// Clone returns a deep copy so tasks never share the risks slice.
func (s *RemediationScript) Clone() *RemediationScript {
	if s == nil {
		return nil
	}
	c := *s
	c.Risks = append([]string(nil), s.Risks...)
	return &c
}
