package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/embed"
	rerrors "github.com/recallhq/recall/internal/errors"
	"github.com/recallhq/recall/internal/ingest"
	"github.com/recallhq/recall/internal/llm"
	"github.com/recallhq/recall/internal/output"
	"github.com/recallhq/recall/internal/retrieval"
	"github.com/recallhq/recall/internal/store"
)

// app holds everything a command needs: configuration, open stores, the
// embedder, and the renderer. Close releases stores in reverse open order.
type app struct {
	cfg      *config.Config
	keyword  store.KeywordIndex
	vectors  store.VectorStore
	meta     store.MetadataStore
	embedder embed.Embedder
	renderer *output.Renderer

	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close_failed", slog.String("error", err.Error()))
		}
	}
}

func (a *app) vectorPath() string {
	return filepath.Join(a.cfg.Vault.IndexDir, "vectors.hnsw")
}

func (a *app) lockPath() string {
	return filepath.Join(a.cfg.Vault.IndexDir, "index.lock")
}

// openApp loads configuration for the vault and opens all stores.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(vaultDir())
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(cfg.Vault.Path); err != nil {
		return nil, rerrors.New(rerrors.ErrCodeVaultMissing,
			fmt.Sprintf("vault directory %s does not exist", cfg.Vault.Path), err)
	}
	if err := os.MkdirAll(cfg.Vault.IndexDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	a := &app{cfg: cfg, renderer: output.NewRenderer(os.Stdout)}

	a.keyword, err = store.NewBleveKeywordIndex(filepath.Join(cfg.Vault.IndexDir, "keyword.bleve"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.keyword.Close)

	a.meta, err = store.NewSQLiteMetadataStore(filepath.Join(cfg.Vault.IndexDir, "metadata.db"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.meta.Close)

	a.embedder, err = selectEmbedder(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.embedder.Close)

	a.vectors, err = openVectorStore(ctx, a)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.vectors.Close)

	return a, nil
}

// selectEmbedder picks the embedding provider. With no explicit provider,
// Ollama is used when reachable and the deterministic static embedder
// otherwise, so indexing works offline.
func selectEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	var inner embed.Embedder

	switch strings.ToLower(cfg.Embeddings.Provider) {
	case "static":
		inner = embed.NewStaticEmbedder()
	case "ollama":
		inner = newOllamaEmbedder(cfg)
	default:
		ollama := newOllamaEmbedder(cfg)
		probe, cancel := context.WithTimeout(ctx, 2*time.Second)
		available := ollama.Available(probe)
		cancel()
		if available {
			inner = ollama
		} else {
			slog.Info("ollama_unreachable_using_static_embedder")
			_ = ollama.Close()
			inner = embed.NewStaticEmbedder()
		}
	}

	return embed.NewCachedEmbedder(inner, cfg.Embeddings.CacheSize), nil
}

func newOllamaEmbedder(cfg *config.Config) *embed.OllamaEmbedder {
	return embed.NewOllamaEmbedder(embed.OllamaConfig{
		Host:       cfg.Embeddings.OllamaHost,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
	})
}

// openVectorStore opens the HNSW index at the dimension already on disk,
// or the embedder's dimension for a fresh index.
func openVectorStore(ctx context.Context, a *app) (store.VectorStore, error) {
	path := a.vectorPath()

	dims, err := store.ReadStoredDimensions(path)
	if err != nil {
		slog.Warn("vector_metadata_unreadable", slog.String("error", err.Error()))
		dims = 0
	}
	if dims == 0 {
		if dims, err = resolveEmbedderDimensions(ctx, a.embedder); err != nil {
			return nil, err
		}
	}

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		if err := vectors.Load(path); err != nil {
			// A corrupt vector index is rebuilt on the next 'recall index'.
			slog.Warn("vector_index_load_failed", slog.String("error", err.Error()))
		}
	}
	return vectors, nil
}

// resolveEmbedderDimensions probes with one embedding when the provider
// detects its dimension lazily.
func resolveEmbedderDimensions(ctx context.Context, embedder embed.Embedder) (int, error) {
	if dims := embedder.Dimensions(); dims > 0 {
		return dims, nil
	}
	vec, err := embedder.Embed(ctx, "recall dimension probe")
	if err != nil {
		return 0, rerrors.New(rerrors.ErrCodeEmbeddingFailed, "detecting embedding dimension", err).
			WithSuggestion("check that Ollama is running, or set embeddings.provider: static")
	}
	return len(vec), nil
}

func (a *app) newIndexer() *ingest.Indexer {
	return ingest.NewIndexer(ingest.IndexerConfig{
		VaultName:  filepath.Base(a.cfg.Vault.Path),
		VaultRoot:  a.cfg.Vault.Path,
		Keyword:    a.keyword,
		Vectors:    a.vectors,
		Meta:       a.meta,
		Embedder:   a.embedder,
		Excludes:   a.cfg.Vault.Exclude,
		VectorPath: a.vectorPath(),
		LockPath:   a.lockPath(),
	})
}

func (a *app) newLLMClient() *llm.Client {
	return llm.NewClient(a.cfg.LLM.Host, llm.BreakerSettings{
		ConsecutiveFailures: a.cfg.LLM.BreakerFailures,
		Cooldown:            a.cfg.LLM.BreakerCooldown,
	})
}

func (a *app) retrievalConfig() retrieval.Config {
	s := a.cfg.Search
	return retrieval.Config{
		RRFConstant:       s.RRFConstant,
		TopRankBonus:      s.TopRankBonus,
		RerankBudget:      s.RerankBudget,
		RerankConcurrency: s.RerankConcurrency,
		ExpansionVariants: s.ExpansionVariants,
		BackendTimeout:    s.BackendTimeout,
		ExpandTimeout:     s.ExpandTimeout,
		RerankTimeout:     s.RerankTimeout,
	}
}

// newOrchestrator wires the retrieval pipeline. The LLM collaborators are
// only attached when the mode needs them.
func (a *app) newOrchestrator(withLLM bool) *retrieval.Orchestrator {
	rcfg := a.retrievalConfig()
	keyword := retrieval.NewKeywordBackend(a.keyword)
	vector := retrieval.NewVectorBackend(a.embedder, a.vectors, a.meta)

	var expander retrieval.QueryExpander
	var reranker retrieval.CandidateReranker
	if withLLM {
		client := a.newLLMClient()
		expander = retrieval.NewExpander(client, a.cfg.LLM.JudgeModel, a.cfg.Search.ExpandTimeout)
		reranker = retrieval.NewReranker(client, retrieval.NewChunkLoader(a.meta), a.cfg.LLM.JudgeModel, rcfg)
	}

	return retrieval.NewOrchestrator(keyword, vector, expander, reranker, rcfg)
}
