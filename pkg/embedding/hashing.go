package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultHashingDimensions is the vector size of the hashing provider.
const DefaultHashingDimensions = 384

const (
	wordWeight    = 1.0
	trigramWeight = 0.5
)

// Hashing is an offline embedder based on feature hashing of word unigrams and
// character trigrams. It is deterministic and needs no model files, which
// makes it the default provider and a good fit for short accessibility labels.
type Hashing struct {
	dims int
}

// NewHashing creates a hashing embedder. Non-positive dims select the default.
func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = DefaultHashingDimensions
	}
	return &Hashing{dims: dims}
}

// Name returns the provider name.
func (h *Hashing) Name() string { return "hashing" }

// Dimensions returns the vector size.
func (h *Hashing) Dimensions() int { return h.dims }

// Embed hashes each text into a unit vector.
func (h *Hashing) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *Hashing) vector(text string) []float32 {
	v := make([]float32, h.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h.add(v, "w:"+w, wordWeight)
		padded := []rune(" " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			h.add(v, "g:"+string(padded[i:i+3]), trigramWeight)
		}
	}
	normalize(v)
	return v
}

func (h *Hashing) add(v []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	v[f.Sum64()%uint64(h.dims)] += weight
}
