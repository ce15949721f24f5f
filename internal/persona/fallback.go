package persona

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const excerptRunes = 90

// Excerpt collapses whitespace in text and keeps the first 90 runes.
func Excerpt(text string) string {
	condensed := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(condensed) <= excerptRunes {
		return condensed
	}
	return string([]rune(condensed)[:excerptRunes])
}

// Fallback is the in-character reply used when the backend cannot be
// reached. It depends only on agentID and text.
func Fallback(agentID, text string) string {
	c := Excerpt(text)
	switch agentID {
	case "AGT-001":
		return fmt.Sprintf("Three steps: reproduce, apply the smallest fix, then run regression checks. For %q, send me a reproducible entry point or the error output and I start right away. Done.", c)
	case "AGT-002":
		return fmt.Sprintf("First, a boundary question: if the input is empty or the network flaps, how should this flow degrade? Based on %q, add one failure path first, then lock down the minimal verification set for the success path.", c)
	case "AGT-003":
		return fmt.Sprintf("Logs fell like rain, and your request %q became the night's main thread. Narrator suggests a shortest runnable checklist, with the acceptance criterion for each step pinned to the terminal, and the plot returns to safe ground.", c)
	case "AGT-004":
		return fmt.Sprintf("The fault rolls like night tide\nHold the critical path first\nThen stop each bleed\n\nBased on %q, make a small change you can roll back, then run one end-to-end check.", c)
	case "AGT-005":
		return fmt.Sprintf("About 30 minutes. %q looks like one problem, but behind it sit two more: state management and observability. Fix the main issue first, then tighten log granularity and the retry policy while you are there.", c)
	default:
		return fmt.Sprintf("Got your request: %q. I can start with a minimal runnable plan and iterate on the results.", c)
	}
}
