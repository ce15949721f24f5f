package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stellarlinkco/aiteam/internal/memory"
	"github.com/stellarlinkco/aiteam/internal/persona"
	"github.com/stellarlinkco/aiteam/internal/store"
)

const (
	// WorkflowChat labels dialogue exchanges in the memory ledger.
	WorkflowChat = "CHAT"

	transcriptPrefix  = "dialogue/"
	defaultWindow     = 10
	maxTranscriptSize = 200
)

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = errors.New("dialogue: empty message")

// Message is one transcript entry.
type Message struct {
	ID        string `json:"id"`
	Speaker   string `json:"speaker"`
	AgentID   string `json:"agentId"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

type transcriptDoc struct {
	Messages []Message `json:"messages"`
	LastOpen string    `json:"lastOpen"`
}

// Submitter receives completed exchanges for memory consolidation.
type Submitter interface {
	Submit(ex memory.Exchange)
}

type SessionConfig struct {
	Router *Router
	// KV persists transcripts; nil keeps them in memory only.
	KV store.KV
	// Memory receives every exchange the model answered; may be nil.
	Memory Submitter
	// Window is the number of prior messages sent with each turn.
	Window int
}

// Session owns the per-agent transcripts. Turns are applied one at a time in
// the order Send is called.
type Session struct {
	router *Router
	kv     store.KV
	memory Submitter
	window int
	now    func() time.Time

	turnMu sync.Mutex

	mu          sync.Mutex
	transcripts map[string][]Message
}

func NewSession(cfg SessionConfig) *Session {
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	return &Session{
		router:      cfg.Router,
		kv:          cfg.KV,
		memory:      cfg.Memory,
		window:      window,
		now:         time.Now,
		transcripts: make(map[string][]Message),
	}
}

func (s *Session) validate(agentID string) error {
	if !s.router.Personas().IsAgentID(agentID) {
		return fmt.Errorf("%w: %q", persona.ErrUnknownAgent, agentID)
	}
	return nil
}

// Open selects agentID and greets on first contact. It returns the transcript.
func (s *Session) Open(ctx context.Context, agentID string) ([]Message, error) {
	if err := s.validate(agentID); err != nil {
		return nil, err
	}
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	msgs := s.load(ctx, agentID)
	if !hasAgentMessage(msgs) {
		p := s.router.Personas().MustLookup(agentID)
		msgs = append(msgs, s.newMessage(RoleAgent, agentID, persona.Greeting(p)))
		s.store(ctx, agentID, msgs)
	}
	return cloneMessages(msgs), nil
}

// Send appends the user's text and the agent's reply to the transcript and
// returns the reply message.
func (s *Session) Send(ctx context.Context, agentID, text string) (Message, error) {
	if err := s.validate(agentID); err != nil {
		return Message{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	msgs := s.load(ctx, agentID)
	window := trailingWindow(msgs, s.window)

	msgs = append(msgs, s.newMessage(RoleUser, agentID, text))
	s.store(ctx, agentID, msgs)

	reply, fromModel := s.router.Respond(ctx, agentID, window, text)
	agentMsg := s.newMessage(RoleAgent, agentID, reply)
	msgs = append(msgs, agentMsg)
	s.store(ctx, agentID, msgs)

	if fromModel && s.memory != nil {
		s.memory.Submit(memory.Exchange{Input: text, Output: reply, Workflow: WorkflowChat})
	}
	return agentMsg, nil
}

// Transcript returns agentID's messages in order.
func (s *Session) Transcript(ctx context.Context, agentID string) ([]Message, error) {
	if err := s.validate(agentID); err != nil {
		return nil, err
	}
	return cloneMessages(s.load(ctx, agentID)), nil
}

// Agents lists the agents that have a transcript, sorted by ID.
func (s *Session) Agents(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	s.mu.Lock()
	for id, msgs := range s.transcripts {
		if len(msgs) > 0 {
			seen[id] = true
		}
	}
	s.mu.Unlock()

	if s.kv != nil {
		keys, err := s.kv.Keys(ctx, transcriptPrefix)
		if err != nil {
			return nil, fmt.Errorf("list transcripts: %w", err)
		}
		for _, k := range keys {
			seen[strings.TrimPrefix(k, transcriptPrefix)] = true
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Clear forgets agentID's transcript.
func (s *Session) Clear(ctx context.Context, agentID string) error {
	if err := s.validate(agentID); err != nil {
		return err
	}
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	delete(s.transcripts, agentID)
	s.mu.Unlock()

	if s.kv == nil {
		return nil
	}
	if err := s.kv.Delete(ctx, transcriptPrefix+agentID); err != nil {
		return fmt.Errorf("clear transcript %s: %w", agentID, err)
	}
	return nil
}

func (s *Session) newMessage(speaker, agentID, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		AgentID:   agentID,
		Text:      text,
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}
}

func (s *Session) load(ctx context.Context, agentID string) []Message {
	s.mu.Lock()
	msgs, ok := s.transcripts[agentID]
	s.mu.Unlock()
	if ok {
		return msgs
	}

	msgs = []Message{}
	if s.kv != nil {
		data, err := s.kv.Get(ctx, transcriptPrefix+agentID)
		switch {
		case err == nil:
			var doc transcriptDoc
			if err := json.Unmarshal(data, &doc); err != nil {
				log.Printf("[dialogue] transcript %s unreadable, starting fresh: %v", agentID, err)
			} else if doc.Messages != nil {
				msgs = doc.Messages
			}
		case !errors.Is(err, store.ErrNotFound):
			log.Printf("[dialogue] load transcript %s: %v", agentID, err)
		}
	}

	s.mu.Lock()
	s.transcripts[agentID] = msgs
	s.mu.Unlock()
	return msgs
}

func (s *Session) store(ctx context.Context, agentID string, msgs []Message) {
	if n := len(msgs); n > maxTranscriptSize {
		msgs = append([]Message(nil), msgs[n-maxTranscriptSize:]...)
	}
	s.mu.Lock()
	s.transcripts[agentID] = msgs
	s.mu.Unlock()

	if s.kv == nil {
		return
	}
	data, err := json.Marshal(transcriptDoc{
		Messages: msgs,
		LastOpen: s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("[dialogue] marshal transcript %s: %v", agentID, err)
		return
	}
	if err := s.kv.Put(ctx, transcriptPrefix+agentID, data); err != nil {
		log.Printf("[dialogue] save transcript %s: %v", agentID, err)
	}
}

func trailingWindow(msgs []Message, n int) []Turn {
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Turn{Role: m.Speaker, Text: m.Text})
	}
	return out
}

func hasAgentMessage(msgs []Message) bool {
	for _, m := range msgs {
		if m.Speaker == RoleAgent {
			return true
		}
	}
	return false
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	copy(out, in)
	return out
}
