package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.True(t, cfg.Search.TopRankBonus)
	assert.Equal(t, 30, cfg.Search.RerankBudget)
	assert.Equal(t, 2, cfg.Search.ExpansionVariants)
	assert.Equal(t, "hybrid", cfg.Search.DefaultMode)
	assert.Equal(t, 5*time.Second, cfg.Search.BackendTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Vault.Path)
	assert.Equal(t, filepath.Join(dir, ".recall"), cfg.Vault.IndexDir)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
}

func TestLoad_VaultConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := `
search:
  rrf_constant: 30
  rerank_budget: 10
  default_mode: query
llm:
  judge_model: gemma2:2b
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".recall.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Search.RRFConstant)
	assert.Equal(t, 10, cfg.Search.RerankBudget)
	assert.Equal(t, "query", cfg.Search.DefaultMode)
	assert.Equal(t, "gemma2:2b", cfg.LLM.JudgeModel)
	// Untouched values keep defaults.
	assert.Equal(t, 2, cfg.Search.ExpansionVariants)
}

func TestLoad_EnvOverridesBeatVaultConfig(t *testing.T) {
	dir := t.TempDir()
	yaml := "search:\n  rrf_constant: 30\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".recall.yaml"), []byte(yaml), 0o644))

	t.Setenv("RECALL_RRF_CONSTANT", "90")
	t.Setenv("RECALL_JUDGE_MODEL", "phi3:mini")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 90, cfg.Search.RRFConstant)
	assert.Equal(t, "phi3:mini", cfg.LLM.JudgeModel)
}

func TestLoad_InvalidYAMLFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".recall.yaml"), []byte("search: ["), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rrf constant", func(c *Config) { c.Search.RRFConstant = 0 }},
		{"negative budget", func(c *Config) { c.Search.RerankBudget = -1 }},
		{"unknown mode", func(c *Config) { c.Search.DefaultMode = "fuzzy" }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "openai" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_ExcludeMergesWithDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := "vault:\n  exclude:\n    - drafts\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".recall.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Contains(t, cfg.Vault.Exclude, "drafts")
	assert.Contains(t, cfg.Vault.Exclude, ".git")
}
