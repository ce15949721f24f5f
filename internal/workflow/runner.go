package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stellarlinkco/aiteam/internal/llm"
	"github.com/stellarlinkco/aiteam/internal/memory"
)

type LogType string

const (
	LogInfo     LogType = "info"
	LogSuccess  LogType = "success"
	LogError    LogType = "error"
	LogThinking LogType = "thinking"
)

const SourceSystem = "System"

// LogEntry is one progress event of a run.
type LogEntry struct {
	ID        string  `json:"id"`
	Timestamp string  `json:"timestamp"`
	Source    string  `json:"source"`
	Message   string  `json:"message"`
	Type      LogType `json:"type"`
}

// Sink receives progress events. It must not block.
type Sink func(LogEntry)

// NewLogEntry stamps a fresh entry.
func NewLogEntry(source, message string, typ LogType) LogEntry {
	return LogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    source,
		Message:   message,
		Type:      typ,
	}
}

// Submitter receives completed runs for memory consolidation.
type Submitter interface {
	Submit(ex memory.Exchange)
}

// Job is one workflow invocation.
type Job struct {
	Kind  Kind
	Input string
	Media []llm.Media
	Log   Sink
}

type RunnerConfig struct {
	Backend llm.Backend
	// BackendErr explains why Backend is nil; Execute wraps it.
	BackendErr error
	// Memory supplies the system prompt; nil runs without memory context.
	Memory *memory.Store
	// Consolidator records each run; may be nil.
	Consolidator Submitter
	// Source names the backend in log entries.
	Source string
	// Overrides route individual kinds to their own backend.
	Overrides map[Kind]Override
}

// Override is the backend serving one workflow kind.
type Override struct {
	Backend llm.Backend
	Source  string
}

type Runner struct {
	backend      llm.Backend
	backendErr   error
	memory       *memory.Store
	consolidator Submitter
	source       string
	overrides    map[Kind]Override
}

func NewRunner(cfg RunnerConfig) *Runner {
	source := cfg.Source
	if source == "" {
		source = "Model"
	}
	overrides := make(map[Kind]Override, len(cfg.Overrides))
	for kind, o := range cfg.Overrides {
		if o.Backend == nil {
			continue
		}
		if o.Source == "" {
			o.Source = source
		}
		overrides[kind] = o
	}
	return &Runner{
		backend:      cfg.Backend,
		backendErr:   cfg.BackendErr,
		memory:       cfg.Memory,
		consolidator: cfg.Consolidator,
		source:       source,
		overrides:    overrides,
	}
}

func (r *Runner) backendFor(kind Kind) (llm.Backend, string) {
	if o, ok := r.overrides[kind]; ok {
		return o.Backend, o.Source
	}
	return r.backend, r.source
}

// Run executes kind with input and optional media attachments.
func (r *Runner) Run(ctx context.Context, kind Kind, input string, media ...llm.Media) (string, error) {
	return r.Execute(ctx, Job{Kind: kind, Input: input, Media: media})
}

// Execute runs job and returns the model's text. Backend failures are
// returned as errors; an empty answer is replaced by the kind's failure
// message. Consolidation is handed off and never delays the return.
func (r *Runner) Execute(ctx context.Context, job Job) (string, error) {
	def, ok := definitions[job.Kind]
	if !ok {
		return "", fmt.Errorf("unknown workflow %q", job.Kind)
	}
	emit := func(source, msg string, typ LogType) {
		if job.Log != nil {
			job.Log(NewLogEntry(source, msg, typ))
		}
	}

	backend, source := r.backendFor(job.Kind)
	if backend == nil {
		err := r.backendErr
		if err == nil {
			err = llm.ErrNotConfigured
		}
		emit(SourceSystem, "Backend not configured.", LogError)
		return "", fmt.Errorf("%s: %w", job.Kind, err)
	}

	prompt := job.Input
	if def.prompt != nil {
		prompt = def.prompt(job.Input)
	}
	var system string
	if r.memory != nil {
		system = r.memory.SystemPrompt()
	}

	emit(source, def.progress, LogThinking)
	log.Printf("[workflow] %s started", job.Kind)

	text, err := backend.Complete(ctx, llm.Request{
		System:    system,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Media:     job.Media,
		MaxTokens: def.maxTokens,
	})
	switch {
	case errors.Is(err, llm.ErrEmptyResponse):
		text = ""
	case err != nil:
		log.Printf("[workflow] %s failed: %v", job.Kind, err)
		emit(source, err.Error(), LogError)
		return "", fmt.Errorf("%s: %w", job.Kind, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = job.Kind.FailureMessage()
	}

	emit(source, fmt.Sprintf("%s complete.", job.Kind), LogSuccess)
	log.Printf("[workflow] %s complete (%d chars)", job.Kind, len(text))

	if r.consolidator != nil {
		label := job.Input
		if def.label != nil {
			label = def.label(job.Input)
		}
		r.consolidator.Submit(memory.Exchange{
			Input:    label,
			Output:   text,
			Workflow: string(job.Kind),
			Log: func(fact string) {
				emit(SourceSystem, "Knowledge synced: "+fact, LogSuccess)
			},
		})
	}
	return text, nil
}
