package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/stellarlinkco/aiteam/internal/dialogue"
	"github.com/stellarlinkco/aiteam/internal/memory"
	"github.com/stellarlinkco/aiteam/internal/persona"
	"github.com/stellarlinkco/aiteam/internal/workflow"
)

// Runner executes one workflow job.
type Runner interface {
	Execute(ctx context.Context, job workflow.Job) (string, error)
}

// Conversation answers as a persona.
type Conversation interface {
	Send(ctx context.Context, agentID, text string) (dialogue.Message, error)
}

// StatsSource reports memory statistics.
type StatsSource interface {
	Stats() memory.Stats
}

// HealthSource reports the last backend probe; known is false before the
// first probe.
type HealthSource interface {
	Status() (online, known bool, lastErr error)
}

type route struct {
	kind       workflow.Kind
	defaultArg string
	// fixedArg replaces whatever argument was given.
	fixedArg string
	// media routes accept an empty argument when attachments are present.
	media bool
	usage string
	help  string
}

var routes = map[string]route{
	"diagnose": {kind: workflow.Diagnose, defaultArg: "Full system diagnosis", help: "Run a system diagnosis"},
	"code":     {kind: workflow.CodeGen, usage: "/code <prompt>", help: "Generate code for a prompt"},
	"fix":      {kind: workflow.FixBug, usage: "/fix <problem>", help: "Find and fix a bug"},
	"check":    {kind: workflow.FullCheck, defaultArg: "entire system", help: "Run a full check"},
	"route":    {kind: workflow.SmartRoute, usage: "/route <task>", help: "Route a task through the smart engine"},
	"pr":       {kind: workflow.GithubPR, usage: "/pr <repository or change>", help: "Review a GitHub change"},
	"deploy":   {kind: workflow.DeployCF, defaultArg: "production", help: "Plan a Cloudflare Workers deployment"},
	"learn":    {kind: workflow.LearnSkill, usage: "/learn <resource>", help: "Ingest a knowledge resource"},
	"self":     {kind: workflow.SelfDiagnose, fixedArg: "Self integrity check", help: "Run the self integrity check"},
	"think":    {kind: workflow.Thinking, usage: "/think <question>", help: "Think deeply about a question"},
	"vision":   {kind: workflow.Vision, media: true, usage: "send a photo or document, optionally with a caption", help: "Analyze attached media"},
}

// Verbs lists the workflow verbs in display order.
func Verbs() []string {
	return []string{"diagnose", "code", "fix", "check", "route", "pr", "deploy", "learn", "self", "think"}
}

// CommandInfo describes one directive for chat command menus.
type CommandInfo struct {
	Verb        string
	Description string
}

// Commands lists every operator directive with a one-line description.
func Commands() []CommandInfo {
	out := []CommandInfo{{Verb: "start", Description: "Show the manual"}}
	for _, v := range Verbs() {
		out = append(out, CommandInfo{Verb: v, Description: routes[v].help})
	}
	return append(out,
		CommandInfo{Verb: "ask", Description: "Talk to one agent"},
		CommandInfo{Verb: "stats", Description: "Show memory and backend status"},
	)
}

type Config struct {
	Runner       Runner
	Conversation Conversation
	Personas     *persona.Registry
	Memory       StatsSource
	Health       HealthSource
	// Relay receives progress of workflows started from an origin.
	Relay func(Origin, workflow.LogEntry)
}

type Dispatcher struct {
	runner       Runner
	conversation Conversation
	personas     *persona.Registry
	memory       StatsSource
	health       HealthSource
	relay        func(Origin, workflow.LogEntry)

	running atomic.Bool
}

func New(cfg Config) *Dispatcher {
	personas := cfg.Personas
	if personas == nil {
		personas = persona.Builtin()
	}
	return &Dispatcher{
		runner:       cfg.Runner,
		conversation: cfg.Conversation,
		personas:     personas,
		memory:       cfg.Memory,
		health:       cfg.Health,
		relay:        cfg.Relay,
	}
}

// Busy reports whether a workflow is in flight.
func (d *Dispatcher) Busy() bool { return d.running.Load() }

// Dispatch handles one directive. It blocks for the duration of the workflow
// it starts; callers that must stay responsive run it on its own goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) Result {
	verb := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cmd.Verb), "/"))
	res := Result{Verb: verb, Origin: cmd.Origin}
	if !cmd.Origin.IsZero() {
		log.Printf("[dispatch] /%s from %s:%s", verb, cmd.Origin.Channel, cmd.Origin.ChatID)
	}

	switch verb {
	case "start", "help":
		res.Status = StatusHelp
		res.Text = ManualText
		return res
	case "stats":
		return d.stats(res)
	case "ask":
		return d.ask(ctx, res, cmd.Arg)
	}

	rt, ok := routes[verb]
	if !ok {
		res.Status = StatusUnknown
		return res
	}
	res.Kind = rt.kind

	arg := strings.TrimSpace(cmd.Arg)
	switch {
	case rt.media && len(cmd.Media) == 0:
		res.Status = StatusInvalid
		res.Text = "Usage: " + rt.usage
		return res
	case rt.media:
	case rt.fixedArg != "":
		arg = rt.fixedArg
	case arg == "" && rt.defaultArg != "":
		arg = rt.defaultArg
	case arg == "":
		res.Status = StatusInvalid
		res.Text = "Usage: " + rt.usage
		return res
	}

	if d.runner == nil {
		res.Status = StatusFailed
		res.Err = errors.New("workflow runner not configured")
		return res
	}

	if !d.running.CompareAndSwap(false, true) {
		log.Printf("[dispatch] /%s rejected: busy", verb)
		res.Status = StatusBusy
		return res
	}
	defer d.running.Store(false)

	job := workflow.Job{Kind: rt.kind, Input: arg}
	if rt.media {
		job.Media = cmd.Media
	}
	if d.relay != nil && !cmd.Origin.IsZero() {
		origin := cmd.Origin
		job.Log = func(e workflow.LogEntry) { d.relay(origin, e) }
	}

	text, err := d.runner.Execute(ctx, job)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	res.Status = StatusDone
	res.Text = text
	return res
}

func (d *Dispatcher) stats(res Result) Result {
	res.Status = StatusReply
	lines := []string{"Memory is not available."}
	if d.memory != nil {
		lines[0] = "Memory: " + d.memory.Stats().String()
	}

	if d.Busy() {
		lines = append(lines, "Workflow: running")
	} else {
		lines = append(lines, "Workflow: idle")
	}

	if d.health != nil {
		switch online, known, err := d.health.Status(); {
		case !known:
			lines = append(lines, "Backend: unknown")
		case online:
			lines = append(lines, "Backend: ONLINE")
		default:
			lines = append(lines, fmt.Sprintf("Backend: OFFLINE (%v)", err))
		}
	}
	res.Text = strings.Join(lines, "\n")
	return res
}

func (d *Dispatcher) ask(ctx context.Context, res Result, arg string) Result {
	res.Kind = workflow.Chat
	if d.conversation == nil {
		res.Status = StatusFailed
		res.Err = errors.New("dialogue not configured")
		return res
	}
	p, text, ok := d.splitAgent(arg)
	if !ok {
		res.Status = StatusInvalid
		res.Text = "Usage: /ask <agent> <message>\nAgents: " + d.agentNames()
		return res
	}
	msg, err := d.conversation.Send(ctx, p.ID, text)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	res.Status = StatusReply
	res.Text = fmt.Sprintf("%s: %s", p.Codename, msg.Text)
	return res
}

// splitAgent reads an agent id or codename (codenames may contain one space)
// from the front of arg.
func (d *Dispatcher) splitAgent(arg string) (persona.Persona, string, bool) {
	fields := strings.Fields(arg)
	for n := 1; n <= 2 && n < len(fields); n++ {
		p, err := d.personas.Resolve(strings.Join(fields[:n], " "))
		if err == nil {
			return p, strings.Join(fields[n:], " "), true
		}
	}
	return persona.Persona{}, "", false
}

func (d *Dispatcher) agentNames() string {
	var names []string
	for _, p := range d.personas.List() {
		names = append(names, fmt.Sprintf("%s (%s)", p.ID, p.Codename))
	}
	return strings.Join(names, ", ")
}
