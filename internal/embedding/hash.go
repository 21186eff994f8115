package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// =============================================================================
// HASH FALLBACK ENGINE
// =============================================================================

// HashEngine produces deterministic signed feature-hash vectors. No
// semantics, but identical text maps to identical vectors and shared
// tokens raise similarity, which is enough for degraded-mode recall.
type HashEngine struct {
	dim int
}

func NewHashEngine(dim int) *HashEngine {
	if dim <= 0 {
		dim = 768
	}
	return &HashEngine{dim: dim}
}

func (e *HashEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, tok := range hashTokens(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()

		idx := int(sum % uint64(e.dim))
		if (sum>>63)&1 == 1 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	normalize(vec)
	return vec, nil
}

func (e *HashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *HashEngine) Dimensions() int {
	return e.dim
}

func (e *HashEngine) Name() string {
	return fmt.Sprintf("hash:fnv-%d", e.dim)
}

func hashTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) {
	var mag float64
	for _, v := range vec {
		mag += float64(v) * float64(v)
	}
	if mag == 0 {
		return
	}
	scale := float32(1 / math.Sqrt(mag))
	for i := range vec {
		vec[i] *= scale
	}
}
