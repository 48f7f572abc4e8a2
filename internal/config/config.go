package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config models vita.yml.
type Config struct {
	LLM          LLMConfig          `yaml:"llm" json:"llm"`
	Retrieval    RetrievalConfig    `yaml:"retrieval" json:"retrieval"`
	LiveSearch   LiveSearchConfig   `yaml:"live_search" json:"live_search"`
	Store        StoreConfig        `yaml:"store" json:"store"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`
	Server       ServerConfig       `yaml:"server" json:"server"`
	Retention    RetentionConfig    `yaml:"retention" json:"retention"`
	Webhooks     []WebhookConfig    `yaml:"webhooks" json:"webhooks,omitempty"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
}

type LLMConfig struct {
	BaseURL           string  `yaml:"base_url" json:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env" json:"api_key_env"`
	Model             string  `yaml:"model" json:"model"`
	EmbeddingModel    string  `yaml:"embedding_model" json:"embedding_model"`
	Temperature       float32 `yaml:"temperature" json:"temperature"`
	MaxRetries        int     `yaml:"max_retries" json:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	TimeoutSeconds    int     `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// APIKey reads the key from the configured environment variable.
func (c LLMConfig) APIKey() string {
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type RetrievalConfig struct {
	TopK    int    `yaml:"top_k" json:"top_k"`
	Backend string `yaml:"backend" json:"backend"`
}

type LiveSearchConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	BaseURL        string `yaml:"base_url" json:"base_url"`
	MaxResults     int    `yaml:"max_results" json:"max_results"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries" json:"max_retries"`
}

type StoreConfig struct {
	Profiles        string      `yaml:"profiles" json:"profiles"`
	Redis           RedisConfig `yaml:"redis" json:"redis"`
	CacheTTLSeconds int         `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
}

// Enabled reports whether a redis address is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type OrchestratorConfig struct {
	MaxIterations        int    `yaml:"max_iterations" json:"max_iterations"`
	SpecialistIterations int    `yaml:"specialist_iterations" json:"specialist_iterations"`
	HistoryTurns         int    `yaml:"history_turns" json:"history_turns"`
	MaxParallel          int    `yaml:"max_parallel" json:"max_parallel"`
	Verifier             string `yaml:"verifier" json:"verifier"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr" json:"addr"`
	BasePath       string `yaml:"base_path" json:"base_path"`
	AllowAnonymous bool   `yaml:"allow_anonymous" json:"allow_anonymous"`
	JWTSecretEnv   string `yaml:"jwt_secret_env" json:"jwt_secret_env"`
}

// JWTSecret reads the signing secret from the configured environment variable.
func (c ServerConfig) JWTSecret() string {
	return strings.TrimSpace(os.Getenv(c.JWTSecretEnv))
}

type RetentionConfig struct {
	Schedule   string `yaml:"schedule" json:"schedule"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with vita config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LLM.Model) == "" {
		return fmt.Errorf("config.llm.model is required")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("config.llm.max_retries must be >= 0")
	}
	if c.LLM.RequestsPerSecond < 0 {
		return fmt.Errorf("config.llm.requests_per_second must be >= 0")
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("config.retrieval.top_k must be > 0")
	}
	switch c.Retrieval.Backend {
	case "fts", "vector":
	default:
		return fmt.Errorf("config.retrieval.backend must be fts or vector")
	}
	switch c.Store.Profiles {
	case "sqlite":
	case "redis":
		if !c.Store.Redis.Enabled() {
			return fmt.Errorf("config.store.redis.addr is required when profiles use redis")
		}
	default:
		return fmt.Errorf("config.store.profiles must be sqlite or redis")
	}
	if c.Orchestrator.MaxIterations < 1 {
		return fmt.Errorf("config.orchestrator.max_iterations must be >= 1")
	}
	if c.Orchestrator.SpecialistIterations < 1 || c.Orchestrator.SpecialistIterations > 2 {
		return fmt.Errorf("config.orchestrator.specialist_iterations must be 1 or 2")
	}
	if c.Orchestrator.HistoryTurns < 0 {
		return fmt.Errorf("config.orchestrator.history_turns must be >= 0")
	}
	switch c.Orchestrator.Verifier {
	case "rules", "model":
	default:
		return fmt.Errorf("config.orchestrator.verifier must be rules or model")
	}
	if c.Retention.Schedule != "" {
		if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
			return fmt.Errorf("config.retention.schedule invalid: %w", err)
		}
		if c.Retention.MaxAgeDays <= 0 {
			return fmt.Errorf("config.retention.max_age_days must be > 0 when a schedule is set")
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.logging.format must be json or console")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "vita.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys absent from data keep their
// default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `llm:
  base_url: https://api.openai.com/v1
  api_key_env: VITA_LLM_API_KEY
  model: gpt-4o-mini
  embedding_model: text-embedding-3-small
  temperature: 0.3
  max_retries: 2
  requests_per_second: 5
  timeout_seconds: 60

retrieval:
  top_k: 3
  backend: fts

live_search:
  enabled: true
  base_url: https://eutils.ncbi.nlm.nih.gov/entrez/eutils
  max_results: 3
  timeout_seconds: 10
  max_retries: 1

store:
  profiles: sqlite
  redis:
    addr: ""
    db: 0
  cache_ttl_seconds: 600

orchestrator:
  max_iterations: 4
  specialist_iterations: 2
  history_turns: 10
  max_parallel: 3
  verifier: rules

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  allow_anonymous: false
  jwt_secret_env: VITA_JWT_SECRET

retention:
  schedule: "0 3 * * *"
  max_age_days: 30

logging:
  level: info
  format: json
`
