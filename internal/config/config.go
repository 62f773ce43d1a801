// Package config provides layered YAML configuration for recall.
//
// Precedence, lowest to highest:
//  1. Built-in defaults
//  2. User config (~/.config/recall/config.yaml)
//  3. Vault config (.recall.yaml in the vault directory)
//  4. RECALL_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for recall.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Vault      VaultConfig      `yaml:"vault" json:"vault"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// VaultConfig describes the note vault being indexed.
type VaultConfig struct {
	// Path is the vault root directory. Empty means the current directory.
	Path string `yaml:"path" json:"path"`

	// IndexDir is where indexes live. Empty means <vault>/.recall.
	IndexDir string `yaml:"index_dir" json:"index_dir"`

	// Exclude are glob patterns skipped during scanning, merged with defaults.
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// SearchConfig tunes the retrieval pipeline.
type SearchConfig struct {
	// RRFConstant is the k in 1/(k+rank+1). k=60 is the industry standard
	// (Azure AI Search, OpenSearch).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// TopRankBonus enables the fixed per-list bonus for top-ranked hits.
	TopRankBonus bool `yaml:"top_rank_bonus" json:"top_rank_bonus"`

	// RerankBudget is how many fused candidates are sent to the judge model.
	RerankBudget int `yaml:"rerank_budget" json:"rerank_budget"`

	// RerankConcurrency bounds parallel judgment calls.
	RerankConcurrency int `yaml:"rerank_concurrency" json:"rerank_concurrency"`

	// ExpansionVariants is how many alternate phrasings to request.
	ExpansionVariants int `yaml:"expansion_variants" json:"expansion_variants"`

	// MaxResults is the default result limit when the caller passes none.
	MaxResults int `yaml:"max_results" json:"max_results"`

	// DefaultMode is used when the caller does not pick one
	// (vector, bm25, hybrid, query).
	DefaultMode string `yaml:"default_mode" json:"default_mode"`

	// BackendTimeout bounds each keyword/vector backend call.
	BackendTimeout time.Duration `yaml:"backend_timeout" json:"backend_timeout"`

	// ExpandTimeout bounds the query-expansion LLM call.
	ExpandTimeout time.Duration `yaml:"expand_timeout" json:"expand_timeout"`

	// RerankTimeout bounds each per-candidate judgment call.
	RerankTimeout time.Duration `yaml:"rerank_timeout" json:"rerank_timeout"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama" or "static". Empty means ollama with static fallback.
	Provider string `yaml:"provider" json:"provider"`

	// OllamaHost is the Ollama API endpoint. Empty uses http://localhost:11434.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// Model is the embedding model name.
	Model string `yaml:"model" json:"model"`

	// Dimensions is the embedding dimension. 0 means auto-detect.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// BatchSize is texts per embedding request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// CacheSize is the number of query embeddings kept in the LRU cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// LLMConfig configures the generation and judgment models.
type LLMConfig struct {
	// Host is the Ollama API endpoint. Empty uses http://localhost:11434.
	Host string `yaml:"host" json:"host"`

	// Model is the answer-generation model.
	Model string `yaml:"model" json:"model"`

	// JudgeModel is the small model used for expansion and rerank judgments.
	JudgeModel string `yaml:"judge_model" json:"judge_model"`

	// Timeout bounds answer-generation calls.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// BreakerFailures is the consecutive-failure count that opens the
	// circuit breaker around generation calls.
	BreakerFailures int `yaml:"breaker_failures" json:"breaker_failures"`

	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" json:"breaker_cooldown"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// defaultExcludePatterns are always skipped during vault scanning.
var defaultExcludePatterns = []string{
	".git",
	".recall",
	"node_modules",
	".obsidian",
	".trash",
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Vault: VaultConfig{
			Exclude: defaultExcludePatterns,
		},
		Search: SearchConfig{
			RRFConstant:       60,
			TopRankBonus:      true,
			RerankBudget:      30,
			RerankConcurrency: 5,
			ExpansionVariants: 2,
			MaxResults:        10,
			DefaultMode:       "hybrid",
			BackendTimeout:    5 * time.Second,
			ExpandTimeout:     10 * time.Second,
			RerankTimeout:     10 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "",
			Model:     "nomic-embed-text",
			BatchSize: 32,
			CacheSize: 1000,
		},
		LLM: LLMConfig{
			Model:           "llama3.2",
			JudgeModel:      "qwen2.5:0.5b",
			Timeout:         60 * time.Second,
			BreakerFailures: 3,
			BreakerCooldown: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// UserConfigPath returns ~/.config/recall/config.yaml.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "recall", "config.yaml")
}

// Load builds the effective configuration for a vault directory.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	// Step 1: user-level config, if present.
	if path := UserConfigPath(); path != "" {
		if err := cfg.loadYAML(path, true); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	// Step 2: vault-level config overrides user config.
	if err := cfg.loadFromVault(dir); err != nil {
		return nil, err
	}

	// Step 3: environment overrides have the highest precedence.
	cfg.applyEnvOverrides()

	if cfg.Vault.Path == "" {
		cfg.Vault.Path = dir
	}
	if cfg.Vault.IndexDir == "" {
		cfg.Vault.IndexDir = filepath.Join(cfg.Vault.Path, ".recall")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromVault loads .recall.yaml or .recall.yml from the vault directory.
func (c *Config) loadFromVault(dir string) error {
	for _, name := range []string{".recall.yaml", ".recall.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path, false)
		}
	}
	// No config file is fine, defaults apply.
	return nil
}

// loadYAML loads a YAML file and merges its non-zero values into c.
// When optional is true a missing file is not an error.
func (c *Config) loadYAML(path string, optional bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Vault.Path != "" {
		c.Vault.Path = other.Vault.Path
	}
	if other.Vault.IndexDir != "" {
		c.Vault.IndexDir = other.Vault.IndexDir
	}
	if len(other.Vault.Exclude) > 0 {
		// Merge with defaults rather than replace.
		c.Vault.Exclude = append(c.Vault.Exclude, other.Vault.Exclude...)
	}

	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.RerankBudget != 0 {
		c.Search.RerankBudget = other.Search.RerankBudget
	}
	if other.Search.RerankConcurrency != 0 {
		c.Search.RerankConcurrency = other.Search.RerankConcurrency
	}
	if other.Search.ExpansionVariants != 0 {
		c.Search.ExpansionVariants = other.Search.ExpansionVariants
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.DefaultMode != "" {
		c.Search.DefaultMode = other.Search.DefaultMode
	}
	if other.Search.BackendTimeout != 0 {
		c.Search.BackendTimeout = other.Search.BackendTimeout
	}
	if other.Search.ExpandTimeout != 0 {
		c.Search.ExpandTimeout = other.Search.ExpandTimeout
	}
	if other.Search.RerankTimeout != 0 {
		c.Search.RerankTimeout = other.Search.RerankTimeout
	}
	// TopRankBonus defaults true; a vault config can only turn it off by
	// setting it explicitly, which yaml cannot distinguish from absent.
	// Env override below handles the explicit-false case.

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.LLM.Host != "" {
		c.LLM.Host = other.LLM.Host
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.JudgeModel != "" {
		c.LLM.JudgeModel = other.LLM.JudgeModel
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}
	if other.LLM.BreakerFailures != 0 {
		c.LLM.BreakerFailures = other.LLM.BreakerFailures
	}
	if other.LLM.BreakerCooldown != 0 {
		c.LLM.BreakerCooldown = other.LLM.BreakerCooldown
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies RECALL_* environment variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RECALL_VAULT"); v != "" {
		c.Vault.Path = v
	}
	if v := os.Getenv("RECALL_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("RECALL_TOP_RANK_BONUS"); v != "" {
		c.Search.TopRankBonus = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("RECALL_RERANK_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.RerankBudget = n
		}
	}
	if v := os.Getenv("RECALL_DEFAULT_MODE"); v != "" {
		c.Search.DefaultMode = v
	}
	if v := os.Getenv("RECALL_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("RECALL_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("RECALL_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
		c.LLM.Host = v
	}
	if v := os.Getenv("RECALL_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("RECALL_JUDGE_MODEL"); v != "" {
		c.LLM.JudgeModel = v
	}
	if v := os.Getenv("RECALL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the final configuration for actionable mistakes.
func (c *Config) Validate() error {
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.RerankBudget <= 0 {
		return fmt.Errorf("search.rerank_budget must be positive, got %d", c.Search.RerankBudget)
	}
	if c.Search.RerankConcurrency <= 0 {
		return fmt.Errorf("search.rerank_concurrency must be positive, got %d", c.Search.RerankConcurrency)
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}

	validModes := map[string]bool{"vector": true, "bm25": true, "hybrid": true, "query": true}
	if !validModes[strings.ToLower(c.Search.DefaultMode)] {
		return fmt.Errorf("search.default_mode must be 'vector', 'bm25', 'hybrid', or 'query', got %s", c.Search.DefaultMode)
	}

	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"ollama": true, "static": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'ollama', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
