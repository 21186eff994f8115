// Package config loads ain's runtime configuration from ain.yaml plus
// environment overrides. Missing configuration is non-fatal: Validate
// reports hard errors only, and MissingSubsystems names the integrations
// that must run degraded (memory-only) because their settings are absent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all ain configuration.
type Config struct {
	Identity  IdentityConfig  `yaml:"identity"`
	LLM       LLMConfig       `yaml:"llm"`
	Evolution EvolutionConfig `yaml:"evolution"`
	Memory    MemoryConfig    `yaml:"memory"`
	KV        KVConfig        `yaml:"kv"`
	Git       GitConfig       `yaml:"git"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Resource  ResourceConfig  `yaml:"resource"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// IdentityConfig names the organism and its working tree.
type IdentityConfig struct {
	Name           string `yaml:"name"`
	Version        string `yaml:"version"`
	Workspace      string `yaml:"workspace"`
	PrimeDirective string `yaml:"prime_directive"`
}

// LLMConfig addresses the two model roles on one chat-completions endpoint.
type LLMConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	DreamerModel  string `yaml:"dreamer_model"`
	CoderModel    string `yaml:"coder_model"`
	FallbackModel string `yaml:"fallback_model"`
	Timeout       string `yaml:"timeout"`
	MaxTokens     int    `yaml:"max_tokens"`
}

// EvolutionConfig tunes the pipeline cadence and the apply/test stage.
type EvolutionConfig struct {
	Interval          string `yaml:"interval"`
	BurstInterval     string `yaml:"burst_interval"`
	BurstDuration     string `yaml:"burst_duration"`
	MonologueInterval string `yaml:"monologue_interval"`
	MetaInterval      string `yaml:"meta_interval"`
	BackupDir         string `yaml:"backup_dir"`
	MaxFileLines      int    `yaml:"max_file_lines"`
	WarnFileLines     int    `yaml:"warn_file_lines"`
	TestTimeout       string `yaml:"test_timeout"`
	PythonBin         string `yaml:"python_bin"`
}

// MemoryConfig configures the vector store and its embedding engine.
type MemoryConfig struct {
	VectorDBPath string          `yaml:"vector_db_path"`
	Dimension    int             `yaml:"dimension"`
	Capacity     int             `yaml:"capacity"`
	Embedding    EmbeddingConfig `yaml:"embedding"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // genai, ollama, hash
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
}

// KVConfig points at the state store.
type KVConfig struct {
	URL      string `yaml:"url"`
	Keyspace string `yaml:"keyspace"`
}

// GitConfig covers both the CLI channel and the data-API fallback.
type GitConfig struct {
	Token     string `yaml:"token"`
	Repo      string `yaml:"repo"` // owner/name
	Branch    string `yaml:"branch"`
	StableTag string `yaml:"stable_tag"`
	APIBase   string `yaml:"api_base"`
	Timeout   string `yaml:"timeout"`
}

// TelegramConfig configures the messaging channel.
type TelegramConfig struct {
	Token       string `yaml:"token"`
	ChatID      int64  `yaml:"chat_id"`
	PollTimeout string `yaml:"poll_timeout"`
	Proxy       string `yaml:"proxy"`
}

// ResourceConfig bounds the daily LLM spend.
type ResourceConfig struct {
	DailyTokenBudget int     `yaml:"daily_token_budget"`
	InputCostPerM    float64 `yaml:"input_cost_per_m"`
	OutputCostPerM   float64 `yaml:"output_cost_per_m"`
}

// LoggingConfig tunes the categorized file logger.
type LoggingConfig struct {
	JSON  bool     `yaml:"json"`
	Debug []string `yaml:"debug"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Identity: IdentityConfig{
			Name:           "ain",
			Version:        "0.9.0",
			Workspace:      ".",
			PrimeDirective: "Grow the system safely: small, tested, reversible improvements.",
		},
		LLM: LLMConfig{
			BaseURL:       "https://api.openai.com/v1",
			DreamerModel:  "gpt-4o",
			CoderModel:    "gpt-4o",
			FallbackModel: "gpt-4o-mini",
			Timeout:       "150s",
			MaxTokens:     4096,
		},
		Evolution: EvolutionConfig{
			Interval:          "3600s",
			BurstInterval:     "600s",
			BurstDuration:     "1h",
			MonologueInterval: "1800s",
			MetaInterval:      "900s",
			BackupDir:         "backups",
			MaxFileLines:      200,
			WarnFileLines:     150,
			TestTimeout:       "30s",
			PythonBin:         "python3",
		},
		Memory: MemoryConfig{
			VectorDBPath: ".ain/memory.db",
			Dimension:    768,
			Capacity:     50000,
			Embedding: EmbeddingConfig{
				Provider:       "hash",
				Model:          "gemini-embedding-001",
				OllamaEndpoint: "http://localhost:11434",
			},
		},
		KV: KVConfig{
			Keyspace: "ain",
		},
		Git: GitConfig{
			Branch:    "main",
			StableTag: "ain-stable",
			APIBase:   "https://api.github.com",
			Timeout:   "60s",
		},
		Telegram: TelegramConfig{
			PollTimeout: "25s",
		},
		Resource: ResourceConfig{
			DailyTokenBudget: 2_000_000,
			InputCostPerM:    2.50,
			OutputCostPerM:   10.00,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment variables override either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. Environment
// always beats the file; everything is read once at boot.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AIN_WORKSPACE"); v != "" {
		c.Identity.Workspace = v
	}
	if v := os.Getenv("AIN_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("AIN_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("AIN_DREAMER_MODEL"); v != "" {
		c.LLM.DreamerModel = v
	}
	if v := os.Getenv("AIN_CODER_MODEL"); v != "" {
		c.LLM.CoderModel = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.Git.Token = v
	}
	if v := os.Getenv("AIN_REPO"); v != "" {
		c.Git.Repo = v
	}
	if v := os.Getenv("AIN_BRANCH"); v != "" {
		c.Git.Branch = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("AIN_TELEGRAM_PROXY"); v != "" {
		c.Telegram.Proxy = v
	}
	if v := os.Getenv("AIN_KV_URL"); v != "" {
		c.KV.URL = v
	}
	if v := os.Getenv("AIN_VECTOR_DB"); v != "" {
		c.Memory.VectorDBPath = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Memory.Embedding.APIKey = v
		if c.Memory.Embedding.Provider == "" || c.Memory.Embedding.Provider == "hash" {
			c.Memory.Embedding.Provider = "genai"
		}
	}
	if v := os.Getenv("OLLAMA_ENDPOINT"); v != "" {
		c.Memory.Embedding.OllamaEndpoint = v
		if c.Memory.Embedding.Provider == "" || c.Memory.Embedding.Provider == "hash" {
			c.Memory.Embedding.Provider = "ollama"
		}
	}
}

// Validate reports hard configuration errors. Missing integrations are
// not errors; see MissingSubsystems.
func (c *Config) Validate() error {
	if c.Memory.Dimension != 384 && c.Memory.Dimension != 768 {
		return fmt.Errorf("memory.dimension must be 384 or 768, got %d", c.Memory.Dimension)
	}
	if c.Identity.Workspace == "" {
		return fmt.Errorf("identity.workspace must not be empty")
	}
	return nil
}

// MissingSubsystems names integrations whose configuration is absent.
// Each runs in degraded mode and is logged once at boot.
func (c *Config) MissingSubsystems() []string {
	var missing []string
	if c.LLM.APIKey == "" {
		missing = append(missing, "llm")
	}
	if c.Git.Token == "" || c.Git.Repo == "" {
		missing = append(missing, "git")
	}
	if c.Telegram.Token == "" || c.Telegram.ChatID == 0 {
		missing = append(missing, "telegram")
	}
	if c.KV.URL == "" {
		missing = append(missing, "kv")
	}
	if c.Memory.Embedding.Provider == "genai" && c.Memory.Embedding.APIKey == "" {
		missing = append(missing, "embedding")
	}
	return missing
}

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// LLMTimeout returns the per-call LLM deadline.
func (c *Config) LLMTimeout() time.Duration { return duration(c.LLM.Timeout, 150*time.Second) }

// EvolutionInterval returns the normal-mode evolution cadence.
func (c *Config) EvolutionInterval() time.Duration {
	return duration(c.Evolution.Interval, 3600*time.Second)
}

// BurstInterval returns the burst-mode evolution cadence.
func (c *Config) BurstInterval() time.Duration {
	return duration(c.Evolution.BurstInterval, 600*time.Second)
}

// BurstDuration returns how long a burst window stays open.
func (c *Config) BurstDuration() time.Duration {
	return duration(c.Evolution.BurstDuration, time.Hour)
}

// MonologueInterval returns the consciousness cadence.
func (c *Config) MonologueInterval() time.Duration {
	return duration(c.Evolution.MonologueInterval, 1800*time.Second)
}

// MetaInterval returns the meta-cognition cadence.
func (c *Config) MetaInterval() time.Duration {
	return duration(c.Evolution.MetaInterval, 900*time.Second)
}

// TestTimeout returns the per-file test subprocess deadline.
func (c *Config) TestTimeout() time.Duration { return duration(c.Evolution.TestTimeout, 30*time.Second) }

// GitTimeout returns the per-command git deadline.
func (c *Config) GitTimeout() time.Duration { return duration(c.Git.Timeout, 60*time.Second) }

// PollTimeout returns the messaging long-poll window.
func (c *Config) PollTimeout() time.Duration { return duration(c.Telegram.PollTimeout, 25*time.Second) }

// DefaultPath returns the conventional config location in a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, "ain.yaml")
}
