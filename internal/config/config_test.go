package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AITEAM_PROVIDER", "AITEAM_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY",
		"AITEAM_BASE_URL", "OLLAMA_BASE_URL", "OLLAMA_MODEL", "AITEAM_TELEGRAM_TOKEN",
		"AITEAM_MEMORY_PATH", "AITEAM_MEMORY_BACKEND", "AITEAM_MEMORY_MODEL",
		"AITEAM_DEFAULT_AGENT", "AITEAM_REQUEST_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Agent.Model != DefaultModel {
		t.Errorf("model = %q, want %q", cfg.Agent.Model, DefaultModel)
	}
	if cfg.Agent.MaxTokens != DefaultMaxTokens {
		t.Errorf("maxTokens = %d, want %d", cfg.Agent.MaxTokens, DefaultMaxTokens)
	}
	if cfg.Memory.Backend != MemoryBackendSQLite {
		t.Errorf("memory backend = %q, want sqlite", cfg.Memory.Backend)
	}
	if cfg.Memory.StorageKey != DefaultStorageKey {
		t.Errorf("storage key = %q, want %q", cfg.Memory.StorageKey, DefaultStorageKey)
	}
	if cfg.Dialogue.DefaultAgent != DefaultDefaultAgent {
		t.Errorf("default agent = %q", cfg.Dialogue.DefaultAgent)
	}
	if cfg.Dialogue.Window != DefaultDialogueWindow {
		t.Errorf("window = %d, want %d", cfg.Dialogue.Window, DefaultDialogueWindow)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Agent.Model != DefaultModel {
		t.Errorf("expected default model %q, got %q", DefaultModel, cfg.Agent.Model)
	}
	if cfg.Cron.HealthCheck != DefaultHealthCheck {
		t.Errorf("health check = %q", cfg.Cron.HealthCheck)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnv(t)

	cfgDir := filepath.Join(tmpDir, ".aiteam")
	os.MkdirAll(cfgDir, 0755)

	testCfg := map[string]any{
		"agent": map[string]any{
			"model":     "claude-opus-4-20250514",
			"maxTokens": 2048,
			"models":    map[string]any{"THINKING": "claude-opus-4-1"},
		},
		"provider": map[string]any{
			"apiKey": "sk-test-key",
		},
		"dialogue": map[string]any{
			"defaultAgent": "AGT-004",
		},
	}
	data, _ := json.MarshalIndent(testCfg, "", "  ")
	os.WriteFile(filepath.Join(cfgDir, "config.json"), data, 0644)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Agent.Model != "claude-opus-4-20250514" {
		t.Errorf("model = %q, want claude-opus-4-20250514", cfg.Agent.Model)
	}
	if cfg.Agent.MaxTokens != 2048 {
		t.Errorf("maxTokens = %d, want 2048", cfg.Agent.MaxTokens)
	}
	if cfg.Agent.Models["THINKING"] != "claude-opus-4-1" {
		t.Errorf("models = %v", cfg.Agent.Models)
	}
	if cfg.Provider.APIKey != "sk-test-key" {
		t.Errorf("apiKey = %q, want sk-test-key", cfg.Provider.APIKey)
	}
	if cfg.Dialogue.DefaultAgent != "AGT-004" {
		t.Errorf("default agent = %q, want AGT-004", cfg.Dialogue.DefaultAgent)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Dialogue.Window != DefaultDialogueWindow {
		t.Errorf("window = %d, want default", cfg.Dialogue.Window)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnv(t)

	cfgDir := filepath.Join(tmpDir, ".aiteam")
	os.MkdirAll(cfgDir, 0755)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{not json"), 0644)

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	tests := []struct {
		name     string
		envKey   string
		envVal   string
		wantKey  string
		wantType string
	}{
		{"AITEAM_API_KEY", "AITEAM_API_KEY", "team-key", "team-key", ""},
		{"ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY", "anthropic-key", "anthropic-key", ""},
		{"OPENAI_API_KEY", "OPENAI_API_KEY", "openai-key", "openai-key", ProviderOpenAI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.envKey, tt.envVal)

			cfg, err := LoadConfig()
			if err != nil {
				t.Fatalf("LoadConfig error: %v", err)
			}
			if cfg.Provider.APIKey != tt.wantKey {
				t.Errorf("apiKey = %q, want %q", cfg.Provider.APIKey, tt.wantKey)
			}
			if cfg.Provider.Type != tt.wantType {
				t.Errorf("type = %q, want %q", cfg.Provider.Type, tt.wantType)
			}
		})
	}
}

func TestLoadConfig_EnvPriority(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnv(t)

	t.Setenv("AITEAM_API_KEY", "team-wins")
	t.Setenv("ANTHROPIC_API_KEY", "anthropic-loses")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.APIKey != "team-wins" {
		t.Errorf("apiKey = %q, want team-wins", cfg.Provider.APIKey)
	}
}

func TestLoadConfig_OllamaDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnv(t)
	t.Setenv("AITEAM_PROVIDER", "ollama")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.BaseURL != DefaultOllamaBaseURL {
		t.Errorf("baseURL = %q, want %q", cfg.Provider.BaseURL, DefaultOllamaBaseURL)
	}
	if cfg.Agent.Model != DefaultOllamaModel {
		t.Errorf("model = %q, want %q", cfg.Agent.Model, DefaultOllamaModel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("ollama should not require an API key: %v", err)
	}
}

func TestLoadConfig_OllamaEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnv(t)
	t.Setenv("AITEAM_PROVIDER", "ollama")
	t.Setenv("OLLAMA_BASE_URL", "http://gpu-box:11434")
	t.Setenv("OLLAMA_MODEL", "llama3.1:8b")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.BaseURL != "http://gpu-box:11434" {
		t.Errorf("baseURL = %q", cfg.Provider.BaseURL)
	}
	if cfg.Agent.Model != "llama3.1:8b" {
		t.Errorf("model = %q", cfg.Agent.Model)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("expected missing API key error")
	}
	cfg.Provider.APIKey = "key"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	cfg.Provider.Type = "gemini"
	if err := cfg.Validate(); err == nil {
		t.Error("expected unknown provider error")
	}
}

func TestMemoryPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	cfg := DefaultConfig()
	if got, want := cfg.MemoryPath(), filepath.Join("/home/tester", ".aiteam", "data", "memory.db"); got != want {
		t.Errorf("sqlite path = %q, want %q", got, want)
	}
	cfg.Memory.Backend = MemoryBackendFile
	if got, want := cfg.MemoryPath(), filepath.Join("/home/tester", ".aiteam", "data", "kv"); got != want {
		t.Errorf("file path = %q, want %q", got, want)
	}
	cfg.Memory.Path = "/tmp/custom"
	if got := cfg.MemoryPath(); got != "/tmp/custom" {
		t.Errorf("explicit path = %q", got)
	}
}

func TestSaveConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cfg := DefaultConfig()
	cfg.Provider.APIKey = "test-key"

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, ".aiteam", "config.json"))
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal saved config: %v", err)
	}
	if loaded.Provider.APIKey != "test-key" {
		t.Errorf("apiKey = %q, want test-key", loaded.Provider.APIKey)
	}
}
