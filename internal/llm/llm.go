// Package llm adapts language-model providers to a single Complete call:
// a system instruction plus an ordered list of turns in, generated text out.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/stellarlinkco/aiteam/internal/config"
)

var (
	// ErrNotConfigured marks a missing credential or model. It is never retried.
	ErrNotConfigured = errors.New("llm: backend not configured")
	// ErrEmptyResponse is returned when the provider answered without text.
	ErrEmptyResponse = errors.New("llm: empty response")
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const jsonInstruction = "Respond with a single valid JSON object and nothing else."

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Media is an inline attachment sent with the last user turn.
type Media struct {
	MimeType string
	Data     []byte
}

type Request struct {
	System   string
	Messages []Message
	Media    []Media
	// JSON asks the model to answer with one JSON object.
	JSON        bool
	Temperature *float64
	MaxTokens   int
}

// Backend produces text for a request. Implementations must be safe for
// concurrent use.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Pinger is implemented by backends that support a cheap liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BackendFunc adapts an ordinary function to Backend.
type BackendFunc func(ctx context.Context, req Request) (string, error)

func (f BackendFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

type sdkBackend struct {
	name      string
	provider  model.Provider
	maxTokens int
	timeout   time.Duration
}

// NewBackend builds the primary backend from the agent/provider sections.
func NewBackend(cfg *config.Config) (Backend, error) {
	return NewModelBackend(cfg, cfg.Agent.Model)
}

// NewModelBackend builds a backend on the primary provider serving modelName.
func NewModelBackend(cfg *config.Config, modelName string) (Backend, error) {
	return newFromProvider(cfg.Provider, modelName, cfg.Agent)
}

// NewExtractionBackend builds the backend used for memory consolidation.
// Memory-specific provider and model settings win over the primary ones.
func NewExtractionBackend(cfg *config.Config) (Backend, error) {
	p := cfg.Provider
	if cfg.Memory.Provider != nil {
		if cfg.Memory.Provider.Type != "" {
			p.Type = cfg.Memory.Provider.Type
		}
		if cfg.Memory.Provider.APIKey != "" {
			p.APIKey = cfg.Memory.Provider.APIKey
		}
		if cfg.Memory.Provider.BaseURL != "" {
			p.BaseURL = cfg.Memory.Provider.BaseURL
		}
	}
	modelName := cfg.Agent.Model
	if cfg.Memory.Model != "" {
		modelName = cfg.Memory.Model
	}
	return newFromProvider(p, modelName, cfg.Agent)
}

func newFromProvider(p config.ProviderConfig, modelName string, agent config.AgentConfig) (Backend, error) {
	if strings.TrimSpace(modelName) == "" {
		return nil, fmt.Errorf("%w: missing model name", ErrNotConfigured)
	}
	temp := agent.Temperature
	b := &sdkBackend{
		maxTokens: agent.MaxTokens,
		timeout:   time.Duration(agent.RequestTimeout) * time.Second,
	}

	switch p.Type {
	case config.ProviderOllama:
		baseURL := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
		if baseURL == "" {
			baseURL = config.DefaultOllamaBaseURL
		}
		b.name = config.ProviderOllama
		b.provider = &model.OpenAIProvider{
			// Ollama ignores the key but the OpenAI client requires one.
			APIKey:      "ollama",
			BaseURL:     baseURL + "/v1",
			ModelName:   modelName,
			MaxTokens:   agent.MaxTokens,
			Temperature: &temp,
			CacheTTL:    time.Hour,
		}
	case config.ProviderOpenAI:
		if strings.TrimSpace(p.APIKey) == "" {
			return nil, fmt.Errorf("%w: missing openai api key", ErrNotConfigured)
		}
		b.name = config.ProviderOpenAI
		b.provider = &model.OpenAIProvider{
			APIKey:      p.APIKey,
			BaseURL:     p.BaseURL,
			ModelName:   modelName,
			MaxTokens:   agent.MaxTokens,
			Temperature: &temp,
			CacheTTL:    time.Hour,
		}
	case "", config.ProviderAnthropic:
		if strings.TrimSpace(p.APIKey) == "" {
			return nil, fmt.Errorf("%w: missing anthropic api key", ErrNotConfigured)
		}
		b.name = config.ProviderAnthropic
		b.provider = &model.AnthropicProvider{
			APIKey:      p.APIKey,
			BaseURL:     p.BaseURL,
			ModelName:   modelName,
			MaxTokens:   agent.MaxTokens,
			Temperature: &temp,
			CacheTTL:    time.Hour,
		}
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNotConfigured, p.Type)
	}
	return b, nil
}

func newProviderBackend(name string, provider model.Provider, timeout time.Duration) Backend {
	return &sdkBackend{name: name, provider: provider, timeout: timeout}
}

func (b *sdkBackend) Complete(ctx context.Context, req Request) (string, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	mdl, err := b.provider.Model(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: init model: %w", b.name, err)
	}

	resp, err := mdl.Complete(ctx, b.buildRequest(req))
	if err != nil {
		return "", fmt.Errorf("%s: complete: %w", b.name, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%s: %w", b.name, ErrEmptyResponse)
	}
	text := strings.TrimSpace(resp.Message.TextContent())
	if text == "" {
		return "", fmt.Errorf("%s: %w", b.name, ErrEmptyResponse)
	}
	return text, nil
}

func (b *sdkBackend) Ping(ctx context.Context) error {
	_, err := b.Complete(ctx, Request{
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 8,
	})
	return err
}

func (b *sdkBackend) buildRequest(req Request) model.Request {
	system := req.System
	if req.JSON {
		if strings.TrimSpace(system) == "" {
			system = jsonInstruction
		} else {
			system = system + "\n\n" + jsonInstruction
		}
	}

	msgs := make([]model.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := RoleUser
		if m.Role == RoleAssistant {
			role = RoleAssistant
		}
		msgs = append(msgs, model.Message{Role: role, Content: m.Content})
	}

	if len(req.Media) > 0 {
		blocks := make([]model.ContentBlock, 0, len(req.Media))
		for _, media := range req.Media {
			blockType := model.ContentBlockDocument
			if strings.HasPrefix(media.MimeType, "image/") {
				blockType = model.ContentBlockImage
			}
			blocks = append(blocks, model.ContentBlock{
				Type:      blockType,
				MediaType: media.MimeType,
				Data:      base64.StdEncoding.EncodeToString(media.Data),
			})
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == RoleUser {
			msgs[n-1].ContentBlocks = blocks
		} else {
			msgs = append(msgs, model.Message{Role: RoleUser, ContentBlocks: blocks})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}

	return model.Request{
		System:      system,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
}
