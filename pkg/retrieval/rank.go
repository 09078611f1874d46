package retrieval

import (
	"sort"

	"github.com/entrhq/axcore/pkg/embedding"
)

// Scored is a chunk with its similarity to the query.
type Scored struct {
	Chunk Chunk
	Score float64
}

// RankOptions bounds the ranked output. A nil Threshold keeps every score and
// a non-positive Limit keeps every chunk.
type RankOptions struct {
	Threshold *float64
	Limit     int
}

// Rank scores chunks against the query vector, sorts them by descending
// score with ties in input order, then applies the threshold and the limit.
// Chunks whose vector is nil are skipped.
func Rank(query []float32, chunks []Chunk, vectors [][]float32, opts RankOptions) []Scored {
	scored := make([]Scored, 0, len(chunks))
	for i, c := range chunks {
		if i >= len(vectors) || vectors[i] == nil {
			continue
		}
		scored = append(scored, Scored{Chunk: c, Score: embedding.Cosine(query, vectors[i])})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if opts.Threshold != nil {
		cut := sort.Search(len(scored), func(i int) bool {
			return scored[i].Score < *opts.Threshold
		})
		scored = scored[:cut]
	}
	if opts.Limit > 0 && len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}
	return scored
}
