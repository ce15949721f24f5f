// Package persona holds the fixed roster of agent identities. The registry is
// built once at startup and never mutated afterwards.
package persona

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnknownAgent is returned when an identifier does not resolve.
var ErrUnknownAgent = errors.New("persona: unknown agent")

// Model hints name the backend family a persona was tuned against. They are
// advisory; every persona runs on whatever backend is configured.
const (
	HintCloud = "cloud"
	HintFast  = "fast"
	HintLocal = "local"
	HintGPT   = "gpt"
)

// Persona is one agent identity.
type Persona struct {
	ID           string `json:"id" yaml:"id"`
	Codename     string `json:"codename" yaml:"codename"`
	DisplayName  string `json:"displayName" yaml:"displayName"`
	Role         string `json:"role" yaml:"role"`
	Quirk        string `json:"quirk" yaml:"quirk"`
	SystemPrompt string `json:"systemPrompt" yaml:"-"`
	ModelHint    string `json:"modelHint,omitempty" yaml:"modelHint"`
}

// Registry resolves agent identifiers. The zero value is empty; use Builtin.
type Registry struct {
	byID  map[string]Persona
	order []string
}

var agentIDPattern = regexp.MustCompile(`^AGT-\d{3}$`)

// Builtin returns a registry with the five built-in personas.
func Builtin() *Registry {
	r := &Registry{byID: make(map[string]Persona, len(builtins))}
	for _, p := range builtins {
		r.byID[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	return r
}

// With returns a copy of r where each override replaces the non-empty fields
// of the persona with the same ID. Overrides for unknown IDs are rejected.
func (r *Registry) With(overrides []Persona) (*Registry, error) {
	next := &Registry{
		byID:  make(map[string]Persona, len(r.byID)),
		order: append([]string(nil), r.order...),
	}
	for id, p := range r.byID {
		next.byID[id] = p
	}
	for _, o := range overrides {
		base, ok := next.byID[o.ID]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, o.ID)
		}
		next.byID[o.ID] = merge(base, o)
	}
	return next, nil
}

func merge(base, o Persona) Persona {
	if s := strings.TrimSpace(o.Codename); s != "" {
		base.Codename = s
	}
	if s := strings.TrimSpace(o.DisplayName); s != "" {
		base.DisplayName = s
	}
	if s := strings.TrimSpace(o.Role); s != "" {
		base.Role = s
	}
	if s := strings.TrimSpace(o.Quirk); s != "" {
		base.Quirk = s
	}
	if s := strings.TrimSpace(o.SystemPrompt); s != "" {
		base.SystemPrompt = s
	}
	if s := strings.TrimSpace(o.ModelHint); s != "" {
		base.ModelHint = s
	}
	return base
}

func (r *Registry) Lookup(id string) (Persona, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// MustLookup panics on an unknown identifier. Callers are expected to
// validate input with IsAgentID first.
func (r *Registry) MustLookup(id string) Persona {
	p, ok := r.byID[id]
	if !ok {
		panic(fmt.Sprintf("persona: unknown agent %q", id))
	}
	return p
}

func (r *Registry) IsAgentID(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// List returns personas in registry order.
func (r *Registry) List() []Persona {
	out := make([]Persona, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Resolve accepts an agent ID or a codename (case-insensitive).
func (r *Registry) Resolve(name string) (Persona, error) {
	name = strings.TrimSpace(name)
	if p, ok := r.byID[strings.ToUpper(name)]; ok {
		return p, nil
	}
	for _, id := range r.order {
		p := r.byID[id]
		if strings.EqualFold(p.Codename, name) {
			return p, nil
		}
	}
	return Persona{}, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
}

// Greeting is the first line an agent says when a conversation opens.
func Greeting(p Persona) string {
	return fmt.Sprintf("I am %s (%s), responsible for %s. Tell me your goal directly.", p.DisplayName, p.Codename, p.Role)
}
