package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stellarlinkco/aiteam/internal/config"
	"github.com/stellarlinkco/aiteam/internal/cron"
	"github.com/stellarlinkco/aiteam/internal/dialogue"
	"github.com/stellarlinkco/aiteam/internal/dispatch"
	"github.com/stellarlinkco/aiteam/internal/llm"
	"github.com/stellarlinkco/aiteam/internal/memory"
	"github.com/stellarlinkco/aiteam/internal/persona"
	"github.com/stellarlinkco/aiteam/internal/store"
	"github.com/stellarlinkco/aiteam/internal/workflow"
)

// Options overrides parts of the wiring, mostly for tests.
type Options struct {
	// Backend answers workflows and dialogue; nil builds one from config.
	Backend llm.Backend
	// ExtractionBackend answers memory extraction; nil builds one from
	// config and falls back to Backend.
	ExtractionBackend llm.Backend
	// KV replaces the configured store. Core closes it.
	KV store.KV
	// Relay receives workflow progress for directives that carry an origin.
	Relay func(dispatch.Origin, workflow.LogEntry)
}

// Core is the orchestrator without any transport: memory, personas,
// dialogue, workflows and the dispatcher, sharing one store.
type Core struct {
	Config       *config.Config
	KV           store.KV
	Memory       *memory.Store
	Consolidator *memory.Consolidator
	Personas     *persona.Registry
	Backend      llm.Backend
	// BackendErr is why Backend could not be built from config.
	BackendErr   error
	Health       *cron.HealthMonitor
	Session      *dialogue.Session
	Runner       *workflow.Runner
	Dispatcher   *dispatch.Dispatcher
	DefaultAgent string
}

// NewCore wires the orchestrator. A missing backend configuration is not an
// error here: dialogue falls back to persona replies and workflows report
// the configuration error when invoked.
func NewCore(ctx context.Context, cfg *config.Config, opts Options) (*Core, error) {
	personas, err := persona.Load(cfg.PersonasDir())
	if err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}
	def, err := personas.Resolve(cfg.Dialogue.DefaultAgent)
	if err != nil {
		return nil, fmt.Errorf("default agent: %w", err)
	}

	backend, backendErr := opts.Backend, error(nil)
	if backend == nil {
		backend, backendErr = buildBackend("primary", func() (llm.Backend, error) { return llm.NewBackend(cfg) })
	}
	extraction := opts.ExtractionBackend
	if extraction == nil {
		extraction, _ = buildBackend("extraction", func() (llm.Backend, error) { return llm.NewExtractionBackend(cfg) })
	}
	if extraction == nil {
		extraction = backend
	}
	overrides, err := kindOverrides(cfg)
	if err != nil {
		return nil, err
	}

	kv := opts.KV
	if kv == nil {
		kv, err = store.Open(cfg.Memory.Backend, cfg.MemoryPath())
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
	}

	mem := memory.NewStore(kv, cfg.Memory.StorageKey)
	if mem.Load(ctx) {
		log.Printf("[memory] loaded: %s", mem.Stats())
	} else {
		log.Printf("[memory] starting from defaults")
	}

	consolidator := memory.NewConsolidator(mem, extraction,
		memory.WithExtractTimeout(time.Duration(cfg.Agent.RequestTimeout)*time.Second),
		memory.WithFactLog(func(fact string) {
			log.Printf("[memory] knowledge synced: %s", fact)
		}),
	)

	router := dialogue.NewRouter(backend, personas, dialogue.WithContext(mem.SystemPrompt))
	session := dialogue.NewSession(dialogue.SessionConfig{
		Router: router,
		KV:     kv,
		Memory: consolidator,
		Window: cfg.Dialogue.Window,
	})
	runner := workflow.NewRunner(workflow.RunnerConfig{
		Backend:      backend,
		BackendErr:   backendErr,
		Memory:       mem,
		Consolidator: consolidator,
		Source:       cfg.Agent.Model,
		Overrides:    overrides,
	})
	var pinger llm.Pinger
	if p, ok := backend.(llm.Pinger); ok {
		pinger = p
	}
	health := cron.NewHealthMonitor(pinger, 0)
	dispatcher := dispatch.New(dispatch.Config{
		Runner:       runner,
		Conversation: session,
		Personas:     personas,
		Memory:       mem,
		Health:       health,
		Relay:        opts.Relay,
	})

	return &Core{
		Config:       cfg,
		KV:           kv,
		Memory:       mem,
		Consolidator: consolidator,
		Personas:     personas,
		Backend:      backend,
		BackendErr:   backendErr,
		Health:       health,
		Session:      session,
		Runner:       runner,
		Dispatcher:   dispatcher,
		DefaultAgent: def.ID,
	}, nil
}

func buildBackend(name string, build func() (llm.Backend, error)) (llm.Backend, error) {
	b, err := build()
	if err != nil {
		if errors.Is(err, llm.ErrNotConfigured) {
			log.Printf("[llm] %s backend unavailable: %v", name, err)
		} else {
			log.Printf("[llm] %s backend error: %v", name, err)
		}
		return nil, err
	}
	return b, nil
}

// kindOverrides builds the per-kind backends named in agent.models. An
// unknown kind is a config error; a backend that cannot be built leaves the
// kind on the primary backend.
func kindOverrides(cfg *config.Config) (map[workflow.Kind]workflow.Override, error) {
	if len(cfg.Agent.Models) == 0 {
		return nil, nil
	}
	out := make(map[workflow.Kind]workflow.Override, len(cfg.Agent.Models))
	for key, modelName := range cfg.Agent.Models {
		kind, ok := workflow.ParseKind(key)
		if !ok {
			return nil, fmt.Errorf("agent.models: unknown workflow %q (known: %s)", key, kindList())
		}
		b, err := buildBackend(string(kind), func() (llm.Backend, error) { return llm.NewModelBackend(cfg, modelName) })
		if err != nil {
			continue
		}
		out[kind] = workflow.Override{Backend: b, Source: modelName}
	}
	return out, nil
}

func kindList() string {
	kinds := workflow.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// Close drains pending consolidations and closes the store.
func (c *Core) Close() error {
	if c.Consolidator != nil {
		c.Consolidator.Close()
	}
	if c.KV != nil {
		if err := c.KV.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
	}
	return nil
}
