package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkIDs(scored []Scored) []string {
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.Chunk.ID
	}
	return out
}

func TestRankSortedAndStable(t *testing.T) {
	chunks := []Chunk{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"}}
	vectors := [][]float32{
		{1, 1}, // 0.707
		{1, 0}, // 1.0
		{1, 1}, // 0.707, tie with a
		{0, 1}, // 0.0
		{1, 1}, // 0.707, tie with a and c
	}

	got := Rank([]float32{1, 0}, chunks, vectors, RankOptions{})
	require.Len(t, got, 5)
	assert.Equal(t, []string{"b", "a", "c", "e", "d"}, chunkIDs(got))
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

func TestRankThresholdThenLimit(t *testing.T) {
	chunks := []Chunk{{ID: "low"}, {ID: "high"}, {ID: "mid"}, {ID: "mid2"}}
	vectors := [][]float32{{0, 1}, {1, 0}, {1, 1}, {1, 1}}
	threshold := 0.5

	got := Rank([]float32{1, 0}, chunks, vectors, RankOptions{Threshold: &threshold})
	assert.Equal(t, []string{"high", "mid", "mid2"}, chunkIDs(got))

	got = Rank([]float32{1, 0}, chunks, vectors, RankOptions{Threshold: &threshold, Limit: 2})
	assert.Equal(t, []string{"high", "mid"}, chunkIDs(got))
}

func TestRankSkipsMissingVectors(t *testing.T) {
	chunks := []Chunk{{ID: "a"}, {ID: "dropped"}, {ID: "c"}}
	vectors := [][]float32{{1, 0}, nil, {0.5, 0.5}}

	got := Rank([]float32{1, 0}, chunks, vectors, RankOptions{})
	assert.Equal(t, []string{"a", "c"}, chunkIDs(got))
}

func TestRankEmpty(t *testing.T) {
	assert.Empty(t, Rank([]float32{1}, nil, nil, RankOptions{}))
}
