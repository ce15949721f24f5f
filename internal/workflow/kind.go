// Package workflow runs one-shot tasks against the model backend with the
// team's memory injected, and records every run in memory.
package workflow

import (
	"fmt"
	"strings"
)

type Kind string

const (
	Diagnose     Kind = "DIAGNOSE"
	CodeGen      Kind = "CODE_GEN"
	FixBug       Kind = "FIX_BUG"
	FullCheck    Kind = "FULL_CHECK"
	SmartRoute   Kind = "SMART_ROUTE"
	GithubPR     Kind = "GITHUB_PR"
	DeployCF     Kind = "DEPLOY_CF"
	LearnSkill   Kind = "LEARN_SKILL"
	SelfDiagnose Kind = "SELF_DIAGNOSE"
	Thinking     Kind = "THINKING"
	Vision       Kind = "VISION"
	Chat         Kind = "CHAT"
)

type definition struct {
	progress string
	failure  string
	// prompt turns the user input into the model prompt; nil passes it through.
	prompt func(input string) string
	// label is what the memory ledger records as input; nil records the input.
	label     func(input string) string
	maxTokens int
}

var definitions = map[Kind]definition{
	Diagnose: {
		progress: "Running system diagnosis...",
		failure:  "Diagnosis failed.",
	},
	CodeGen: {
		progress: "Generating the technical implementation...",
		failure:  "Code generation failed.",
	},
	FixBug: {
		progress: "Tracing the root cause...",
		failure:  "Bug fix failed.",
		prompt: func(in string) string {
			return "Find the root cause of the following problem and propose the smallest fix that resolves it, with a regression check:\n\n" + in
		},
	},
	FullCheck: {
		progress: "Running a full check across code, configuration and deployment...",
		failure:  "Full check failed.",
		prompt: func(in string) string {
			return "Run a full health check across code, configuration and deployment. List findings by severity.\n\nScope: " + in
		},
	},
	SmartRoute: {
		progress: "Routing the request through the smart engine...",
		failure:  "Routing failed.",
	},
	GithubPR: {
		progress: "Analyzing repository state and PR delta...",
		failure:  "GitHub workflow failed.",
	},
	DeployCF: {
		progress: "Preparing the deployment environment...",
		failure:  "Deployment simulation failed.",
		prompt: func(env string) string {
			return fmt.Sprintf("Plan a Cloudflare Workers deployment. Target environment: %s.", env)
		},
		label: func(env string) string { return "Deploy to " + env },
	},
	LearnSkill: {
		progress: "Ingesting the knowledge pattern...",
		failure:  "Skill ingestion failed.",
	},
	SelfDiagnose: {
		progress: "Running core integrity self-check...",
		failure:  "Self-check failed.",
	},
	Thinking: {
		progress:  "Allocating an extended reasoning budget...",
		failure:   "Thinking produced no result.",
		maxTokens: 32768,
	},
	Vision: {
		progress: "Analyzing media...",
		failure:  "Vision analysis failed.",
		prompt: func(in string) string {
			if strings.TrimSpace(in) == "" {
				return "Analyze the key technical information and state details in this media."
			}
			return in
		},
		label: func(string) string { return "media analysis" },
	},
	Chat: {
		progress: "Thinking...",
		failure:  "No reply produced.",
	},
}

// Kinds lists every workflow kind in a stable order.
func Kinds() []Kind {
	return []Kind{Diagnose, CodeGen, FixBug, FullCheck, SmartRoute, GithubPR, DeployCF, LearnSkill, SelfDiagnose, Thinking, Vision, Chat}
}

// ParseKind accepts a kind name in any case.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := definitions[k]
	return k, ok
}

// FailureMessage is the fixed text substituted when the model returns nothing.
func (k Kind) FailureMessage() string {
	if d, ok := definitions[k]; ok {
		return d.failure
	}
	return "Workflow failed."
}
