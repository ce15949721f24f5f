// Package dialogue routes conversation turns to agent personas and keeps
// per-agent transcripts.
package dialogue

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/stellarlinkco/aiteam/internal/llm"
	"github.com/stellarlinkco/aiteam/internal/persona"
)

// Placeholder replaces an empty model answer.
const Placeholder = "Got it, I'm organizing your request."

const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Turn is one prior message in the trailing window.
type Turn struct {
	Role string
	Text string
}

// Router produces agent replies. It holds no conversation state.
type Router struct {
	backend  llm.Backend
	personas *persona.Registry
	// context, when set, is appended to every persona's system prompt.
	context func() string
}

type RouterOption func(*Router)

// WithContext appends the text returned by fn to each persona prompt.
func WithContext(fn func() string) RouterOption {
	return func(r *Router) { r.context = fn }
}

func NewRouter(backend llm.Backend, personas *persona.Registry, opts ...RouterOption) *Router {
	if personas == nil {
		personas = persona.Builtin()
	}
	r := &Router{backend: backend, personas: personas}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Personas() *persona.Registry { return r.personas }

// Reply returns the agent's answer to text. agentID must be valid; an unknown
// id panics. Backend failures produce the persona's fallback text.
func (r *Router) Reply(ctx context.Context, agentID string, window []Turn, text string) string {
	reply, _ := r.Respond(ctx, agentID, window, text)
	return reply
}

// Respond is Reply that also reports whether the model produced the answer.
func (r *Router) Respond(ctx context.Context, agentID string, window []Turn, text string) (string, bool) {
	p := r.personas.MustLookup(agentID)

	if r.backend == nil {
		return persona.Fallback(agentID, text), false
	}

	msgs := make([]llm.Message, 0, len(window)+1)
	for _, t := range window {
		role := llm.RoleUser
		if t.Role == RoleAgent {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})

	system := p.SystemPrompt
	if r.context != nil {
		if extra := strings.TrimSpace(r.context()); extra != "" {
			system = system + "\n\n" + extra
		}
	}

	out, err := r.backend.Complete(ctx, llm.Request{System: system, Messages: msgs})
	if errors.Is(err, llm.ErrEmptyResponse) {
		return Placeholder, true
	}
	if err != nil {
		log.Printf("[dialogue] %s backend error, using fallback: %v", agentID, err)
		return persona.Fallback(agentID, text), false
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return Placeholder, true
	}
	return out, true
}
