package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultModel          = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens      = 4096
	DefaultTemperature    = 0.7
	DefaultRequestTimeout = 90
	DefaultBufSize        = 100
	DefaultStorageKey     = "core_orchestrator_memory"
	DefaultDefaultAgent   = "AGT-001"
	DefaultDialogueWindow = 10
	DefaultHealthCheck    = "*/30 * * * * *"
	DefaultOllamaBaseURL  = "http://127.0.0.1:11434"
	DefaultOllamaModel    = "qwen2.5:7b-instruct"

	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"

	MemoryBackendSQLite = "sqlite"
	MemoryBackendFile   = "file"
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Memory   MemoryConfig   `json:"memory"`
	Dialogue DialogueConfig `json:"dialogue"`
	Channels ChannelsConfig `json:"channels"`
	Cron     CronConfig     `json:"cron"`
	Gateway  GatewayConfig  `json:"gateway"`
}

type AgentConfig struct {
	Model          string  `json:"model"`
	MaxTokens      int     `json:"maxTokens"`
	Temperature    float64 `json:"temperature"`
	RequestTimeout int     `json:"requestTimeout"` // seconds
	// Models overrides Model per workflow kind, e.g. "THINKING".
	Models map[string]string `json:"models,omitempty"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default), "openai" or "ollama"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type MemoryConfig struct {
	Backend    string          `json:"backend"` // "sqlite" (default) or "file"
	Path       string          `json:"path,omitempty"`
	StorageKey string          `json:"storageKey,omitempty"`
	Model      string          `json:"model,omitempty"`
	Provider   *ProviderConfig `json:"provider,omitempty"`
}

type DialogueConfig struct {
	DefaultAgent string `json:"defaultAgent"`
	Window       int    `json:"window"`
	PersonasDir  string `json:"personasDir,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type CronConfig struct {
	HealthCheck string `json:"healthCheck,omitempty"`
}

type GatewayConfig struct {
	BufSize int `json:"bufSize"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:          DefaultModel,
			MaxTokens:      DefaultMaxTokens,
			Temperature:    DefaultTemperature,
			RequestTimeout: DefaultRequestTimeout,
		},
		Provider: ProviderConfig{},
		Memory: MemoryConfig{
			Backend:    MemoryBackendSQLite,
			StorageKey: DefaultStorageKey,
		},
		Dialogue: DialogueConfig{
			DefaultAgent: DefaultDefaultAgent,
			Window:       DefaultDialogueWindow,
		},
		Cron: CronConfig{
			HealthCheck: DefaultHealthCheck,
		},
		Gateway: GatewayConfig{
			BufSize: DefaultBufSize,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".aiteam")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DataDir holds the memory database, transcripts and cron jobs.
func DataDir() string {
	return filepath.Join(ConfigDir(), "data")
}

// MemoryPath resolves the persistence location for the configured backend.
func (c *Config) MemoryPath() string {
	if p := strings.TrimSpace(c.Memory.Path); p != "" {
		return p
	}
	if c.Memory.Backend == MemoryBackendFile {
		return filepath.Join(DataDir(), "kv")
	}
	return filepath.Join(DataDir(), "memory.db")
}

// PersonasDir resolves the directory scanned for persona override files.
func (c *Config) PersonasDir() string {
	if p := strings.TrimSpace(c.Dialogue.PersonasDir); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "personas")
}

// Validate reports configuration errors that make every backend call fail.
func (c *Config) Validate() error {
	switch c.Provider.Type {
	case "", ProviderAnthropic, ProviderOpenAI:
		if strings.TrimSpace(c.Provider.APIKey) == "" {
			return fmt.Errorf("API key not set. Run 'aiteam onboard' or set AITEAM_API_KEY / ANTHROPIC_API_KEY")
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("unknown provider type %q", c.Provider.Type)
	}
	return nil
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if p := os.Getenv("AITEAM_PROVIDER"); p != "" {
		cfg.Provider.Type = strings.ToLower(strings.TrimSpace(p))
	}
	if key := os.Getenv("AITEAM_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = ProviderOpenAI
		}
	}
	if url := os.Getenv("AITEAM_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" && cfg.Provider.Type == ProviderOllama && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" && cfg.Provider.Type == ProviderOllama {
		cfg.Agent.Model = model
	}
	if token := os.Getenv("AITEAM_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if path := os.Getenv("AITEAM_MEMORY_PATH"); path != "" {
		cfg.Memory.Path = path
	}
	if backend := os.Getenv("AITEAM_MEMORY_BACKEND"); backend != "" {
		cfg.Memory.Backend = strings.ToLower(strings.TrimSpace(backend))
	}
	if model := os.Getenv("AITEAM_MEMORY_MODEL"); model != "" {
		cfg.Memory.Model = model
	}
	if agent := os.Getenv("AITEAM_DEFAULT_AGENT"); agent != "" {
		cfg.Dialogue.DefaultAgent = agent
	}
	if timeout := os.Getenv("AITEAM_REQUEST_TIMEOUT"); timeout != "" {
		if parsed, err := strconv.Atoi(timeout); err == nil {
			cfg.Agent.RequestTimeout = parsed
		}
	}

	if cfg.Provider.Type == ProviderOllama {
		if cfg.Provider.BaseURL == "" {
			cfg.Provider.BaseURL = DefaultOllamaBaseURL
		}
		if cfg.Agent.Model == "" || cfg.Agent.Model == DefaultModel {
			cfg.Agent.Model = DefaultOllamaModel
		}
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Agent.RequestTimeout <= 0 {
		cfg.Agent.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = MemoryBackendSQLite
	}
	if cfg.Memory.StorageKey == "" {
		cfg.Memory.StorageKey = DefaultStorageKey
	}
	if cfg.Dialogue.DefaultAgent == "" {
		cfg.Dialogue.DefaultAgent = DefaultDefaultAgent
	}
	if cfg.Dialogue.Window <= 0 {
		cfg.Dialogue.Window = DefaultDialogueWindow
	}
	if cfg.Cron.HealthCheck == "" {
		cfg.Cron.HealthCheck = DefaultHealthCheck
	}
	if cfg.Gateway.BufSize <= 0 {
		cfg.Gateway.BufSize = DefaultBufSize
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
