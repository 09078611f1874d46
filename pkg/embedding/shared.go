package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/entrhq/axcore/pkg/logging"
)

const (
	// DefaultBatchSize is the number of texts sent to the model at once.
	DefaultBatchSize = 96

	// DefaultWorkers bounds concurrent batches.
	DefaultWorkers = 2

	// DefaultInitTimeout bounds one initialisation attempt.
	DefaultInitTimeout = 2 * time.Minute
)

// Shared holds the process-wide embedding model. The model is created lazily
// by its Factory; concurrent first calls share a single attempt, and a failed
// attempt is not cached.
type Shared struct {
	factory   Factory
	provider  string
	batchSize int
	workers   int
	timeout   time.Duration
	logger    *logging.Logger

	mu    sync.RWMutex
	model Embedder
	group singleflight.Group
}

// SharedOption configures a Shared embedder.
type SharedOption func(*Shared)

// WithBatchSize sets how many texts go into one model call.
func WithBatchSize(n int) SharedOption {
	return func(s *Shared) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithWorkers sets how many batches may run at once.
func WithWorkers(n int) SharedOption {
	return func(s *Shared) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithInitTimeout bounds how long one initialisation attempt may take.
func WithInitTimeout(d time.Duration) SharedOption {
	return func(s *Shared) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) SharedOption {
	return func(s *Shared) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewShared creates a lazily initialised embedder. provider names the model
// in errors and logs.
func NewShared(provider string, factory Factory, opts ...SharedOption) *Shared {
	s := &Shared{
		factory:   factory,
		provider:  provider,
		batchSize: DefaultBatchSize,
		workers:   DefaultWorkers,
		timeout:   DefaultInitTimeout,
		logger:    logging.Discard("embedding"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Static wraps an already constructed embedder.
func Static(e Embedder, opts ...SharedOption) *Shared {
	s := NewShared(e.Name(), func(context.Context) (Embedder, error) { return e, nil }, opts...)
	s.model = e
	return s
}

func (s *Shared) loaded() Embedder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Ready reports whether the model has been initialised.
func (s *Shared) Ready() bool {
	return s.loaded() != nil
}

// Init initialises the model if needed. Callers that arrive while an attempt
// is running wait for it and share its outcome.
//
// The attempt is detached from the caller's cancellation and bounded by the
// init timeout instead, so one caller's deadline does not fail the others. A
// caller whose ctx ends first gets ctx.Err() while the attempt continues.
func (s *Shared) Init(ctx context.Context) error {
	if s.loaded() != nil {
		return nil
	}
	ch := s.group.DoChan("init", func() (interface{}, error) {
		if m := s.loaded(); m != nil {
			return m, nil
		}
		initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		s.logger.Infof("Initialising embedding provider %s", s.provider)
		m, err := s.factory(initCtx)
		if err == nil && m == nil {
			err = errors.New("factory returned no embedder")
		}
		if err != nil {
			s.logger.Errorf("Embedding provider %s failed to initialise: %v", s.provider, err)
			return nil, &InitError{Provider: s.provider, Err: err}
		}
		s.mu.Lock()
		s.model = m
		s.mu.Unlock()
		s.logger.Infof("Embedding provider %s ready (%d dimensions)", m.Name(), m.Dimensions())
		return m, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name returns the provider name.
func (s *Shared) Name() string {
	if m := s.loaded(); m != nil {
		return m.Name()
	}
	return s.provider
}

// Dimensions returns the model's vector size, or 0 before initialisation.
func (s *Shared) Dimensions() int {
	if m := s.loaded(); m != nil {
		return m.Dimensions()
	}
	return 0
}

// Embed initialises the model if needed and embeds texts in batches. A batch
// that fails is retried one text at a time; texts that still fail get a nil
// vector instead of failing the call.
func (s *Shared) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	m := s.loaded()
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for start := 0; start < len(texts); start += s.batchSize {
		start := start
		end := min(start+s.batchSize, len(texts))
		g.Go(func() error {
			return s.embedBatch(gctx, m, texts, out, start, end)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Shared) embedBatch(ctx context.Context, m Embedder, texts []string, out [][]float32, start, end int) error {
	vecs, err := m.Embed(ctx, texts[start:end])
	if err == nil && len(vecs) == end-start {
		for i, v := range vecs {
			out[start+i] = s.checked(m, v, start+i)
		}
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err == nil {
		err = fmt.Errorf("model returned %d vectors for %d texts", len(vecs), end-start)
	}
	s.logger.Warnf("Embedding batch [%d:%d] failed, retrying per text: %v", start, end, err)

	for i := start; i < end; i++ {
		v, err := m.Embed(ctx, texts[i:i+1])
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil || len(v) != 1 {
			s.logger.Warnf("Dropping text %d from embedding: %v", i, err)
			continue
		}
		out[i] = s.checked(m, v[0], i)
	}
	return nil
}

// checked drops vectors whose size does not match the model.
func (s *Shared) checked(m Embedder, v []float32, index int) []float32 {
	if dims := m.Dimensions(); dims > 0 && len(v) != dims {
		s.logger.Warnf("Dropping text %d: vector has %d dimensions, want %d", index, len(v), dims)
		return nil
	}
	return v
}
