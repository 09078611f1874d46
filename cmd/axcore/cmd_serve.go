package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/entrhq/axcore/pkg/app"
	"github.com/entrhq/axcore/pkg/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the action API over HTTP",
	Long: `Starts the HTTP API:

  POST   /v1/actions          run a batch: {"action": {...}} or {"action": [...]}
  GET    /v1/sessions         list open sessions
  DELETE /v1/sessions/{name}  close a session
  GET    /healthz             embedder readiness

Sessions are closed and the browser stopped on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := app.New(cfg, append([]app.Option{app.WithLogger(logger)}, appOptions...)...)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return fmt.Errorf("failed to start: %w", err)
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.New(a.Executor, a.Embedder,
			server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
			server.WithLogger(logger.With("server")),
		),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", cfg.Server.Addr)
		fmt.Fprintf(cmd.ErrOrStderr(), "axcore listening on %s\n", cfg.Server.Addr)
		errChan <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("HTTP shutdown: %v", err)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		return errors.Join(serveErr, err)
	}
	return serveErr
}
