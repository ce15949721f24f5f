package memory

import (
	"fmt"
	"strings"
)

const (
	promptHistoryWindow = 10
	promptInputRunes    = 50
	promptOutputRunes   = 150

	emptyLedger = "The ledger is empty. Initialize the first task."
)

// CompileSystemPrompt renders doc into the instruction block injected into
// every model call. It is pure: equal documents compile to equal strings.
func CompileSystemPrompt(doc Document) string {
	p := doc.Persona

	var facts strings.Builder
	for i, f := range doc.LearnedFacts {
		if i > 0 {
			facts.WriteByte('\n')
		}
		facts.WriteString("- ")
		facts.WriteString(f)
	}

	history := doc.History
	if len(history) > promptHistoryWindow {
		history = history[len(history)-promptHistoryWindow:]
	}
	var ledger strings.Builder
	for i, h := range history {
		if i > 0 {
			ledger.WriteByte('\n')
		}
		fmt.Fprintf(&ledger, "[%s] Workflow: %s | Input: %s... | Output: %s...",
			h.Timestamp, h.Workflow,
			truncateRunes(h.Input, promptInputRunes),
			truncateRunes(h.Output, promptOutputRunes))
	}
	ledgerText := ledger.String()
	if ledgerText == "" {
		ledgerText = emptyLedger
	}

	var sb strings.Builder
	sb.WriteString("[Context Injection]\n")
	sb.WriteString("You are a specialist agent on the AI orchestration team.\n")
	fmt.Fprintf(&sb, "Persona: %s\n", p.LanguageStyle)
	fmt.Fprintf(&sb, "Current focus: %s\n", p.IndustryContext)
	fmt.Fprintf(&sb, "Tech stack: %s\n\n", strings.Join(p.CodingPreferences, ", "))
	sb.WriteString("[Acquired Knowledge]\n")
	sb.WriteString(facts.String())
	sb.WriteString("\n\n[Outcome Ledger]\n")
	sb.WriteString(ledgerText)
	fmt.Fprintf(&sb, "\n\nCurrent interaction count: %d\n", doc.InteractionCount)
	sb.WriteString("Keep a high level of technical precision. Consult the Outcome Ledger for work you or other agents already did, and keep perfect continuity.")
	return sb.String()
}
