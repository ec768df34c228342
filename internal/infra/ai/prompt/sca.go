// Package prompt builds the instructions sent to the AI providers.
package prompt

import (
	"fmt"
	"strings"

	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/sca"
)

// SystemPrompt is the chat system message.
const SystemPrompt = "You are a cybersecurity expert specialized in analyzing security configuration assessments."

// Stop sequences for plain completion models.
var Stop = []string{"User:", "Check Data:", "End of Report"}

type template struct {
	header string
	body   string
	labels [5]string // id, title, rationale, remediation, compliance
}

var templates = map[analysis.Language]template{
	analysis.LangEN: {
		header: "--- SCA Compliance Analysis Report ---",
		body: `Task: Analyze the following Wazuh SCA check data and provide a technical report.

The report must contain:
1. **Problem Description:** Clear explanation of the security issue.
2. **Remediation Steps:** Detailed technical steps to fix the problem.

Begin your response immediately with the following line:
%s

Check Data:
`,
		labels: [5]string{"ID", "Title", "Rationale", "Remediation", "Compliance"},
	},
	analysis.LangPT: {
		header: "--- Relatório de Análise de Conformidade SCA ---",
		body: `Tarefa: Analise os seguintes dados de verificação SCA do Wazuh e forneça um relatório técnico.

O relatório deve conter:
1. **Descrição do Problema:** Explicação clara do problema de segurança.
2. **Passos de Remediação:** Passos técnicos detalhados para corrigir o problema.

Comece sua resposta imediatamente com a seguinte linha:
%s

Dados da Verificação:
`,
		labels: [5]string{"ID", "Título", "Justificativa", "Remediação", "Conformidade"},
	},
}

func lookup(lang analysis.Language) template {
	if t, ok := templates[lang]; ok {
		return t
	}
	return templates[analysis.LangEN]
}

// Header is the first line every report must start with.
func Header(lang analysis.Language) string {
	return lookup(lang).header
}

// Check builds the user prompt for one check.
func Check(c sca.Check, lang analysis.Language) string {
	t := lookup(lang)
	var b strings.Builder
	fmt.Fprintf(&b, t.body, t.header)
	fmt.Fprintf(&b, "%s: %d\n", t.labels[0], c.ID)
	fmt.Fprintf(&b, "%s: %s\n", t.labels[1], orNA(c.Title))
	fmt.Fprintf(&b, "%s: %s\n", t.labels[2], orNA(c.Rationale))
	fmt.Fprintf(&b, "%s: %s\n", t.labels[3], orNA(c.Remediation))
	if len(c.Compliance) > 0 {
		parts := make([]string, 0, len(c.Compliance))
		for _, kv := range c.Compliance {
			parts = append(parts, kv.Key+"="+kv.Value)
		}
		fmt.Fprintf(&b, "%s: %s\n", t.labels[4], strings.Join(parts, "; "))
	}
	return b.String()
}

// EnsureHeader prefixes report with the header unless it already starts
// with a rule.
func EnsureHeader(report string, lang analysis.Language) string {
	report = strings.TrimSpace(report)
	if strings.HasPrefix(report, "---") {
		return report
	}
	return Header(lang) + "\n" + report
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
