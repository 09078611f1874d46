package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/entrhq/axcore/pkg/a11y"
	"github.com/entrhq/axcore/pkg/embedding"
	"github.com/entrhq/axcore/pkg/logging"
)

// Result modes.
const (
	ModeBrowse   = "browse"
	ModeSemantic = "semantic"
)

const (
	// DefaultThreshold is the minimum similarity for a semantic match.
	DefaultThreshold = 0.3

	// DefaultMaxResults caps semantic matches.
	DefaultMaxResults = 20
)

// Options are the retrieval defaults, usually taken from configuration.
type Options struct {
	Threshold  float64
	MaxResults int
	MaxChars   int
	RoleHints  bool
	Strategy   Strategy
}

// DefaultOptions returns the standard retrieval defaults.
func DefaultOptions() Options {
	return Options{
		Threshold:  DefaultThreshold,
		MaxResults: DefaultMaxResults,
		MaxChars:   DefaultMaxChars,
		RoleHints:  true,
		Strategy:   Subtrees,
	}
}

// Query describes one retrieval. Nil Threshold and MaxResults use the
// Retriever's defaults. A MaxResults of 0 also means the default, and a
// negative value means no limit.
type Query struct {
	Text       string
	Filter     a11y.FilterSpec
	Strategy   Strategy
	Threshold  *float64
	MaxResults *int
}

// Match is one node returned by a retrieval.
type Match struct {
	Path        string   `json:"path"`
	Role        string   `json:"role"`
	Name        string   `json:"name,omitempty"`
	States      []string `json:"states,omitempty"`
	Depth       int      `json:"depth"`
	Score       *float64 `json:"score,omitempty"`
	ChunkID     string   `json:"chunk_id,omitempty"`
	SourcePaths []string `json:"source_paths,omitempty"`
}

// Result is the outcome of a retrieval.
type Result struct {
	Mode         string              `json:"mode"`
	Query        string              `json:"query,omitempty"`
	TotalNodes   int                 `json:"total_nodes"`
	MatchedNodes int                 `json:"matched_nodes"`
	Chunks       int                 `json:"chunks,omitempty"`
	Matches      []Match             `json:"matches"`
	Warnings     []a11y.ParseWarning `json:"warnings,omitempty"`
}

// TextMatch is a scored entry of RankTexts.
type TextMatch struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Retriever runs the parse, filter, chunk, embed and rank pipeline.
type Retriever struct {
	embedder embedding.Embedder
	opts     Options
	logger   *logging.Logger
}

// NewRetriever creates a retriever. The embedder is only used for queries.
func NewRetriever(embedder embedding.Embedder, opts Options, logger *logging.Logger) *Retriever {
	if logger == nil {
		logger = logging.Discard("retrieval")
	}
	if opts.Strategy == "" {
		opts.Strategy = Subtrees
	}
	if opts.MaxResults == 0 {
		opts.MaxResults = DefaultMaxResults
	}
	return &Retriever{embedder: embedder, opts: opts, logger: logger}
}

// Options returns the retriever's defaults.
func (r *Retriever) Options() Options {
	return r.opts
}

// Retrieve parses a snapshot and returns the nodes matching q. Without query
// text the filtered nodes are returned in document order, unscored.
func (r *Retriever) Retrieve(ctx context.Context, snapshot string, q Query) (*Result, error) {
	start := time.Now()

	filter, err := a11y.NewFilter(q.Filter)
	if err != nil {
		return nil, err
	}

	tree, warnings := a11y.Parse(snapshot)
	for _, w := range warnings {
		r.logger.Warnf("Snapshot %s", w.String())
	}
	ids := filter.Apply(tree)

	res := &Result{
		Query:        q.Text,
		TotalNodes:   tree.Len(),
		MatchedNodes: len(ids),
		Matches:      []Match{},
		Warnings:     warnings,
	}

	if q.Text == "" {
		res.Mode = ModeBrowse
		for _, id := range ids {
			res.Matches = append(res.Matches, matchFor(tree.Node(id)))
		}
		r.logger.Debugf("Browse returned %d of %d nodes in %s", len(ids), tree.Len(), time.Since(start))
		return res, nil
	}

	res.Mode = ModeSemantic
	strategy := q.Strategy
	if strategy == "" {
		strategy = r.opts.Strategy
	}
	chunker := Chunker{Strategy: strategy, MaxChars: r.opts.MaxChars, RoleHints: r.opts.RoleHints}
	chunks := chunker.Chunks(tree, ids)
	res.Chunks = len(chunks)

	ranked, err := r.rank(ctx, q.Text, chunks, r.rankOptions(q.Threshold, q.MaxResults))
	if err != nil {
		return nil, err
	}
	for _, s := range ranked {
		first := tree.Node(s.Chunk.nodes[0])
		m := matchFor(first)
		score := s.Score
		m.Score = &score
		m.ChunkID = s.Chunk.ID
		if len(s.Chunk.SourcePaths) > 1 {
			for _, p := range s.Chunk.SourcePaths {
				m.SourcePaths = append(m.SourcePaths, p.String())
			}
		}
		res.Matches = append(res.Matches, m)
	}

	r.logger.Debugf("Query %q ranked %d chunks, %d matches in %s", q.Text, len(chunks), len(res.Matches), time.Since(start))
	return res, nil
}

// RankTexts scores arbitrary texts against a query with the same threshold
// and limit rules as Retrieve.
func (r *Retriever) RankTexts(ctx context.Context, query string, texts []string, threshold *float64, maxResults *int) ([]TextMatch, error) {
	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{ID: "t:" + strconv.Itoa(i), Text: t, index: i}
	}
	ranked, err := r.rank(ctx, query, chunks, r.rankOptions(threshold, maxResults))
	if err != nil {
		return nil, err
	}
	out := make([]TextMatch, len(ranked))
	for i, s := range ranked {
		out[i] = TextMatch{Index: s.Chunk.index, Score: s.Score}
	}
	return out, nil
}

func (r *Retriever) rankOptions(threshold *float64, maxResults *int) RankOptions {
	opts := RankOptions{Limit: r.opts.MaxResults}
	t := r.opts.Threshold
	if threshold != nil {
		t = *threshold
	}
	opts.Threshold = &t
	if maxResults != nil && *maxResults != 0 {
		opts.Limit = *maxResults
	}
	if opts.Limit < 0 {
		opts.Limit = 0
	}
	return opts
}

func (r *Retriever) rank(ctx context.Context, query string, chunks []Chunk, opts RankOptions) ([]Scored, error) {
	if r.embedder == nil {
		return nil, errors.New("no embedder configured for semantic queries")
	}

	qv, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(qv) != 1 || qv[0] == nil {
		return nil, fmt.Errorf("query %q could not be embedded", query)
	}
	if len(chunks) == 0 {
		return []Scored{}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	dropped := 0
	for _, v := range vecs {
		if v == nil {
			dropped++
		}
	}
	if dropped > 0 {
		r.logger.Warnf("%d of %d chunks could not be embedded and were skipped", dropped, len(chunks))
	}
	return Rank(qv[0], chunks, vecs, opts), nil
}

func matchFor(n *a11y.Node) Match {
	return Match{
		Path:   n.Path.String(),
		Role:   n.Role,
		Name:   n.Name,
		States: n.StateStrings(),
		Depth:  n.Depth,
	}
}
