// Package memory keeps the team's long-lived knowledge: who the operator is,
// what has been learned, and a bounded ledger of recent work. The document is
// compiled into the system prompt of every model call and updated after every
// exchange.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/stellarlinkco/aiteam/internal/store"
)

// Store owns the memory document. All mutations and saves are serialized by
// a single mutex; readers receive deep copies.
type Store struct {
	kv  store.KV
	key string
	now func() time.Time

	mu  sync.Mutex
	doc Document
}

// NewStore returns a store holding the default document. Call Load to read
// persisted state.
func NewStore(kv store.KV, key string) *Store {
	return &Store{
		kv:  kv,
		key: key,
		now: time.Now,
		doc: DefaultDocument(),
	}
}

// Load reads the persisted document and merges it over the defaults. It
// reports whether persisted state was found and parsed. Read and parse
// failures fall back to defaults and are only logged.
func (s *Store) Load(ctx context.Context) bool {
	doc, found := s.read(ctx)

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return found
}

func (s *Store) read(ctx context.Context) (Document, bool) {
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[memory] read %s failed, using defaults: %v", s.key, err)
		}
		return DefaultDocument(), false
	}
	doc, err := decodeDocument(data)
	if err != nil {
		log.Printf("[memory] parse %s failed, using defaults: %v", s.key, err)
		return DefaultDocument(), false
	}
	return doc, true
}

// decodeDocument unmarshals over a default document. Fields present in data
// win; persona fields merge key by key; absent fields keep their defaults.
func decodeDocument(data []byte) (Document, error) {
	doc := DefaultDocument()
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	doc.LearnedFacts = dedupFacts(doc.LearnedFacts)
	if doc.History == nil {
		doc.History = []Interaction{}
	}
	if n := len(doc.History); n > HistoryCap {
		doc.History = append([]Interaction(nil), doc.History[n-HistoryCap:]...)
	}
	if doc.InteractionCount < 0 {
		doc.InteractionCount = 0
	}
	return doc, nil
}

// Save stamps lastUpdate and writes the whole document. A failed write is
// returned but the in-memory state stays authoritative.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *Store) saveLocked(ctx context.Context) error {
	s.doc.LastUpdate = s.now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	if err := s.kv.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	return nil
}

// AppendFact adds fact unless it is too short or already known.
func (s *Store) AppendFact(fact string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendFactLocked(fact)
}

func (s *Store) appendFactLocked(fact string) bool {
	fact = strings.TrimSpace(fact)
	if len([]rune(fact)) <= MinFactLen {
		return false
	}
	for _, f := range s.doc.LearnedFacts {
		if f == fact {
			return false
		}
	}
	s.doc.LearnedFacts = append(s.doc.LearnedFacts, fact)
	return true
}

// AppendInteraction adds rec to the ledger, evicting the oldest entries
// beyond HistoryCap.
func (s *Store) AppendInteraction(rec Interaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendInteractionLocked(rec)
}

func (s *Store) appendInteractionLocked(rec Interaction) {
	s.doc.History = append(s.doc.History, rec)
	if n := len(s.doc.History); n > HistoryCap {
		s.doc.History = append([]Interaction(nil), s.doc.History[n-HistoryCap:]...)
	}
}

func (s *Store) IncrementInteractionCount() {
	s.mu.Lock()
	s.doc.InteractionCount++
	s.mu.Unlock()
}

// SetIndustryContext replaces the persona's current focus.
func (s *Store) SetIndustryContext(text string) {
	s.mu.Lock()
	s.doc.Persona.IndustryContext = text
	s.mu.Unlock()
}

// recordExchange counts the exchange and appends its ledger entry as one
// atomic step.
func (s *Store) recordExchange(ex Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.InteractionCount++
	s.appendInteractionLocked(Interaction{
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Workflow:  ex.Workflow,
		Input:     truncateRunes(ex.Input, storedInputRunes),
		Output:    truncateRunes(ex.Output, storedOutputRunes),
	})
}

// apply merges an extraction result and returns the facts that were new.
func (s *Store) apply(res ExtractionResult) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []string
	for _, f := range res.NewFacts {
		if s.appendFactLocked(f) {
			added = append(added, strings.TrimSpace(f))
		}
	}
	if ctx := strings.TrimSpace(res.IndustryContext); ctx != "" {
		s.doc.Persona.IndustryContext = ctx
	}
	return added
}

// Snapshot returns a deep copy of the current document.
func (s *Store) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.clone()
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Facts:        len(s.doc.LearnedFacts),
		Interactions: s.doc.InteractionCount,
		Ledger:       len(s.doc.History),
	}
}

// SystemPrompt compiles the current document.
func (s *Store) SystemPrompt() string {
	return CompileSystemPrompt(s.Snapshot())
}

// Reset replaces the document with defaults and saves it.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = DefaultDocument()
	return s.saveLocked(ctx)
}

// replace installs doc wholesale; used by legacy import.
func (s *Store) replace(doc Document) {
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}
