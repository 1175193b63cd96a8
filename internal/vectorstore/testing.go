package vectorstore

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic bag-of-words embedder for tests and local
// smoke runs. Identical texts embed identically; texts sharing words are
// closer than texts that share none.
type HashEmbedder struct {
	Dim int
}

// NewHashEmbedder returns a HashEmbedder with dim dimensions (min 8).
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim < 8 {
		dim = 8
	}
	return &HashEmbedder{Dim: dim}
}

func (h *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make([]float32, h.Dim)
	// The last dimension is a constant so no text embeds to the zero vector.
	v[h.Dim-1] = 0.1
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		v[int(f.Sum32()%uint32(h.Dim-1))] += 1
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v, nil
}

var _ Embedder = (*HashEmbedder)(nil)
