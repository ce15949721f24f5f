package memory

import (
	"fmt"
	"time"
)

const (
	// HistoryCap bounds the interaction ledger. Older entries are evicted first.
	HistoryCap = 50
	// MinFactLen is the shortest fact kept; anything up to this length is noise.
	MinFactLen = 5

	storedInputRunes  = 500
	storedOutputRunes = 800
)

// UserPersona is the evolving profile of the operator the team works for.
type UserPersona struct {
	LanguageStyle     string   `json:"languageStyle"`
	CodingPreferences []string `json:"codingPreferences"`
	IndustryContext   string   `json:"industryContext"`
	KnownTools        []string `json:"knownTools"`
	LongTermGoals     []string `json:"longTermGoals"`
}

// Interaction is one completed exchange in the ledger. Never mutated.
type Interaction struct {
	Timestamp string `json:"timestamp"`
	Workflow  string `json:"workflow"`
	Input     string `json:"input"`
	Output    string `json:"output"`
}

// Document is the persisted memory record.
type Document struct {
	Persona          UserPersona   `json:"persona"`
	InteractionCount int           `json:"interactionCount"`
	LastUpdate       string        `json:"lastUpdate"`
	LearnedFacts     []string      `json:"learnedFacts"`
	History          []Interaction `json:"history"`
}

// Exchange is the input to consolidation.
type Exchange struct {
	Input    string
	Output   string
	Workflow string
	// Log, when set, receives one call per newly learned fact.
	Log LogFunc
}

// LogFunc observes facts added during consolidation.
type LogFunc func(fact string)

// ExtractionResult is the decoded answer of the extraction model.
type ExtractionResult struct {
	NewFacts        []string
	IndustryContext string
}

// Stats is a compact snapshot used by status reporting.
type Stats struct {
	Facts        int
	Interactions int
	Ledger       int
}

func (s Stats) String() string {
	return fmt.Sprintf("%d facts / %d interactions / %d ledger entries", s.Facts, s.Interactions, s.Ledger)
}

// DefaultPersona returns the persona used on first run.
func DefaultPersona() UserPersona {
	return UserPersona{
		LanguageStyle:     "Precise, focused on agent autonomy, with a young digital spirit.",
		CodingPreferences: []string{"TypeScript", "React", "Rust", "TailwindCSS"},
		IndustryContext:   "General AI and system orchestration",
		KnownTools:        []string{"git", "docker", "npm", "telegram-api", "gemini-api"},
		LongTermGoals:     []string{"Unified intelligence", "Autonomous problem solving", "System resilience"},
	}
}

// DefaultDocument returns a fresh document with default persona and seed facts.
func DefaultDocument() Document {
	return Document{
		Persona:    DefaultPersona(),
		LastUpdate: time.Now().UTC().Format(time.RFC3339),
		LearnedFacts: []string{
			"System root initialized as the CORE AI orchestrator.",
			"Telegram bot uplink is online.",
			"The multi-agent team has 5 members: Finisher, Edge Lord, Narrator, Haiku, Rabbit Hole.",
		},
		History: []Interaction{},
	}
}

func (d Document) clone() Document {
	out := d
	out.Persona.CodingPreferences = cloneStrings(d.Persona.CodingPreferences)
	out.Persona.KnownTools = cloneStrings(d.Persona.KnownTools)
	out.Persona.LongTermGoals = cloneStrings(d.Persona.LongTermGoals)
	out.LearnedFacts = cloneStrings(d.LearnedFacts)
	out.History = make([]Interaction, len(d.History))
	copy(out.History, d.History)
	return out
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
