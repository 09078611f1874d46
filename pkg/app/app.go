// Package app wires configuration into a running executor: the embedding
// model, the retriever, the browser sessions and the executor itself.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"github.com/entrhq/axcore/pkg/browser"
	"github.com/entrhq/axcore/pkg/config"
	"github.com/entrhq/axcore/pkg/embedding"
	"github.com/entrhq/axcore/pkg/executor"
	"github.com/entrhq/axcore/pkg/logging"
	"github.com/entrhq/axcore/pkg/retrieval"
)

// App owns every long-lived component of the service.
type App struct {
	Config    *config.Config
	Embedder  *embedding.Shared
	Retriever *retrieval.Retriever
	Sessions  *browser.SessionManager
	Executor  *executor.Executor

	logger  *logging.Logger
	stop    context.CancelFunc
	janitor sync.WaitGroup
}

type options struct {
	engine   browser.Engine
	embedder embedding.Embedder
	fs       afero.Fs
	logger   *logging.Logger
}

// Option overrides a component built from configuration.
type Option func(*options)

// WithEngine replaces the Playwright engine.
func WithEngine(e browser.Engine) Option {
	return func(o *options) {
		o.engine = e
	}
}

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) {
		o.embedder = e
	}
}

// WithFs sets the filesystem screenshots are saved to.
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithLogger sets the root logger. Components log through children of it.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New builds the components described by cfg. Nothing is started: the
// browser launches with the first session and the embedder initialises on
// first use unless Start is called with embedding.eager set.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o, err := newOptions(cfg, opts)
	if err != nil {
		return nil, err
	}
	logger := o.logger

	retriever, emb, err := newRetriever(cfg, o)
	if err != nil {
		return nil, err
	}

	engine := o.engine
	if engine == nil {
		engine = browser.NewPlaywrightEngine(browser.PlaywrightOptions{
			Headless: cfg.Browser.Headless,
			Install:  cfg.Browser.Install,
		}, logger.With("browser.playwright"))
	}
	sessions := browser.NewSessionManager(engine,
		browser.WithMaxSessions(cfg.Browser.MaxSessions),
		browser.WithIdleTimeout(cfg.Browser.IdleTimeout),
		browser.WithSessionOptions(sessionOptions(cfg.Browser)),
		browser.WithLogger(logger.With("browser")),
	)

	scripts, err := executor.NewScriptPolicy(executor.ScriptPolicyConfig{
		Enabled:       cfg.Scripts.Enabled,
		AllowedHosts:  cfg.Scripts.AllowedHosts,
		DeniedHosts:   cfg.Scripts.DeniedHosts,
		RatePerSecond: cfg.Scripts.RatePerSecond,
		Burst:         cfg.Scripts.Burst,
	})
	if err != nil {
		return nil, err
	}

	var shots *executor.ScreenshotStore
	if cfg.Executor.ScreenshotDir != "" {
		shots = executor.NewScreenshotStore(o.fs, cfg.Executor.ScreenshotDir)
	}

	exec := executor.New(sessions, retriever,
		executor.WithScriptPolicy(scripts),
		executor.WithScreenshotStore(shots),
		executor.WithBatchTimeout(cfg.Executor.BatchTimeout),
		executor.WithHTMLLength(cfg.Executor.HTMLMaxLength),
		executor.WithLogger(logger.With("executor")),
	)

	return &App{
		Config:    cfg,
		Embedder:  emb,
		Retriever: retriever,
		Sessions:  sessions,
		Executor:  exec,
		logger:    logger,
	}, nil
}

func newOptions(cfg *config.Config, opts []Option) (*options, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	o := &options{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.Discard("axcore")
	}
	return o, nil
}

// NewRetriever builds only the embedder and retriever, for offline use over
// saved snapshots. WithEngine and WithFs are ignored.
func NewRetriever(cfg *config.Config, opts ...Option) (*retrieval.Retriever, *embedding.Shared, error) {
	o, err := newOptions(cfg, opts)
	if err != nil {
		return nil, nil, err
	}
	return newRetriever(cfg, o)
}

func newRetriever(cfg *config.Config, o *options) (*retrieval.Retriever, *embedding.Shared, error) {
	emb, err := newEmbedder(cfg.Embedding, o.embedder, o.logger.With("embedding"))
	if err != nil {
		return nil, nil, err
	}
	strategy, err := retrieval.ParseStrategy(cfg.Retrieval.ChunkingStrategy)
	if err != nil {
		return nil, nil, err
	}
	retriever := retrieval.NewRetriever(emb, retrieval.Options{
		Threshold:  cfg.Retrieval.SimilarityThreshold,
		MaxResults: cfg.Retrieval.MaxResults,
		MaxChars:   cfg.Retrieval.MaxChunkChars,
		RoleHints:  cfg.Retrieval.RoleHints,
		Strategy:   strategy,
	}, o.logger.With("retrieval"))
	return retriever, emb, nil
}

func newEmbedder(cfg config.EmbeddingConfig, injected embedding.Embedder, logger *logging.Logger) (*embedding.Shared, error) {
	if injected != nil {
		return embedding.Static(injected,
			embedding.WithBatchSize(cfg.BatchSize),
			embedding.WithWorkers(cfg.Workers),
			embedding.WithLogger(logger),
		), nil
	}
	return embedding.New(embedding.Config{
		Provider:       cfg.Provider,
		Model:          cfg.Model,
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Dimensions:     cfg.Dimensions,
		MaxInputTokens: cfg.MaxInputTokens,
		BatchSize:      cfg.BatchSize,
		Workers:        cfg.Workers,
	}, logger)
}

func sessionOptions(cfg config.BrowserConfig) browser.SessionOptions {
	opts := browser.SessionOptions{
		Headless: cfg.Headless,
		Timeout:  float64(cfg.ActionTimeout.Milliseconds()),
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts.Viewport = &browser.Viewport{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight}
	}
	return opts
}

// Start initialises the embedder when configured as eager and starts the idle
// session janitor. The janitor runs until Shutdown.
func (a *App) Start(ctx context.Context) error {
	if a.Config.Embedding.Eager {
		if err := a.Embedder.Init(ctx); err != nil {
			return err
		}
	}

	jctx, cancel := context.WithCancel(context.Background())
	a.stop = cancel
	a.janitor.Add(1)
	go func() {
		defer a.janitor.Done()
		a.Sessions.RunJanitor(jctx, a.Config.Browser.JanitorInterval)
	}()
	a.logger.Infof("Started (embedder %s, max %d sessions)", a.Embedder.Name(), a.Config.Browser.MaxSessions)
	return nil
}

// Shutdown stops the janitor, waits for in-flight actions until ctx is done,
// then closes every session and the browser.
func (a *App) Shutdown(ctx context.Context) error {
	if a.stop != nil {
		a.stop()
		a.janitor.Wait()
	}

	if err := a.Executor.Wait(ctx); err != nil {
		a.logger.Warnf("Actions still running at shutdown: %v", err)
	}
	if err := a.Sessions.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to close sessions: %w", err)
	}
	a.logger.Infof("Shut down")
	return nil
}
