// Package embedding turns text into vectors for the memory substrate.
// Three providers: Google GenAI (cloud), Ollama (local), and a
// deterministic hash fallback that keeps memory alive with no external
// service at all.
package embedding

import (
	"context"
	"fmt"
	"math"

	"ain/internal/config"
	"ain/internal/logging"
)

// =============================================================================
// ENGINE INTERFACE
// =============================================================================

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of produced vectors.
	Dimensions() int

	// Name identifies the provider and model.
	Name() string
}

// =============================================================================
// FACTORY
// =============================================================================

// New builds the configured engine. declaredDim is the store's fixed
// dimension; the hash provider produces exactly that, external
// providers produce their natural size and the store pads or truncates.
//
// An unusable external provider is not fatal: the factory logs once and
// falls back to hash so memory keeps working in degraded mode.
func New(cfg config.EmbeddingConfig, declaredDim int) Engine {
	timer := logging.StartTimer(logging.CategoryEmbedding, "New")
	defer timer.Stop()

	switch cfg.Provider {
	case "genai":
		eng, err := NewGenAIEngine(cfg.APIKey, cfg.Model)
		if err == nil {
			logging.Embedding("embedding engine ready: %s (%d dims)", eng.Name(), eng.Dimensions())
			return eng
		}
		logging.Get(logging.CategoryEmbedding).Warn("genai unavailable, falling back to hash: %v", err)
	case "ollama":
		eng, err := NewOllamaEngine(cfg.OllamaEndpoint, cfg.Model)
		if err == nil {
			logging.Embedding("embedding engine ready: %s (%d dims)", eng.Name(), eng.Dimensions())
			return eng
		}
		logging.Get(logging.CategoryEmbedding).Warn("ollama unavailable, falling back to hash: %v", err)
	case "hash", "":
		// fall through
	default:
		logging.Get(logging.CategoryEmbedding).Warn("unknown embedding provider %q, using hash", cfg.Provider)
	}

	eng := NewHashEngine(declaredDim)
	logging.Embedding("embedding engine ready: %s (%d dims)", eng.Name(), eng.Dimensions())
	return eng
}

// =============================================================================
// VECTOR UTILITIES
// =============================================================================

// CosineSimilarity is in [-1, 1]; zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}

// FitDimension pads with zeros or truncates so len(v) == dim.
func FitDimension(v []float32, dim int) []float32 {
	if len(v) == dim {
		return v
	}
	out := make([]float32, dim)
	copy(out, v)
	return out
}
