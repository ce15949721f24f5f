// Package dispatch turns inbound directives into workflow runs. At most one
// workflow runs at a time; a directive that arrives meanwhile is rejected as
// busy and never queued.
package dispatch

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/stellarlinkco/aiteam/internal/llm"
	"github.com/stellarlinkco/aiteam/internal/workflow"
)

// Origin identifies where a directive came from so its reply can go back
// there. It is carried by value with each command.
type Origin struct {
	Channel string
	ChatID  string
}

func (o Origin) IsZero() bool { return o.Channel == "" && o.ChatID == "" }

type Command struct {
	Verb   string
	Arg    string
	Media  []llm.Media
	Origin Origin
}

// ParseCommand splits "/verb@bot arg..." into a Command. Text that does not
// start with '/' is not a command.
func ParseCommand(text string, origin Origin) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}
	text = strings.TrimPrefix(text, "/")
	verb, arg := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		verb, arg = text[:i], text[i:]
	}
	if at := strings.Index(verb, "@"); at >= 0 {
		verb = verb[:at]
	}
	verb = strings.ToLower(strings.TrimSpace(verb))
	if verb == "" {
		return Command{}, false
	}
	return Command{Verb: verb, Arg: strings.TrimSpace(arg), Origin: origin}, true
}

type Status int

const (
	StatusDone Status = iota
	StatusFailed
	StatusBusy
	StatusUnknown
	StatusHelp
	StatusInvalid
	// StatusReply is a plain answer that did not run a workflow.
	StatusReply
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusBusy:
		return "busy"
	case StatusUnknown:
		return "unknown"
	case StatusHelp:
		return "help"
	case StatusInvalid:
		return "invalid"
	case StatusReply:
		return "reply"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

const (
	resultLimit = 3000

	BusyText = "System is busy processing another workflow. Please wait."

	ManualText = "CORE AI Orchestrator Online.\n\nAvailable commands:\n" +
		"/diagnose [target]\n/code <prompt>\n/fix <problem>\n/check [scope]\n/route <task>\n" +
		"/pr <repo or diff>\n/deploy [env]\n/learn <resource>\n/self\n/think <question>\n" +
		"/ask <agent> <message>\n/stats\n\nSend a photo or document to analyze it.\nPlain messages go to the default agent."
)

// Result is the outcome of one directive.
type Result struct {
	Status Status
	Kind   workflow.Kind
	Verb   string
	Text   string
	Err    error
	Origin Origin
}

// Reply renders the user-facing message for r.
func (r Result) Reply() string {
	switch r.Status {
	case StatusDone:
		return fmt.Sprintf("✅ Workflow [%s] Complete.\n\nResult:\n%s", r.Kind, truncate(r.Text, resultLimit))
	case StatusFailed:
		msg := r.Text
		if r.Err != nil {
			msg = r.Err.Error()
		}
		return "❌ Workflow Failed: " + msg
	case StatusBusy:
		return BusyText
	case StatusUnknown:
		return fmt.Sprintf("Unknown directive: %s. use /start for manual.", r.Verb)
	default:
		return r.Text
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
