package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/entrhq/axcore/pkg/app"
	"github.com/entrhq/axcore/pkg/browser"
)

var runFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one action batch and print the results as JSON",
	Long: `Reads a batch request from a file (or stdin with -f -), runs it and
prints the response. Sessions exist only for the duration of the command.

Example batch:
  {"action": [
    {"type": "navigate", "session_name": "s", "url": "https://example.com"},
    {"type": "get_accessibility_tree", "session_name": "s", "query": "more information link"}
  ]}`,
	RunE: runBatch,
}

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "Batch request file, or - for stdin (required)")
	runCmd.MarkFlagRequired("file")
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	body, err := readInput(cmd, runFile)
	if err != nil {
		return err
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := app.New(cfg, append([]app.Option{app.WithLogger(logger)}, appOptions...)...)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Shutdown(context.Background()); err != nil {
			logger.Warnf("Shutdown: %v", err)
		}
	}()
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	resp, execErr := a.Executor.ExecuteRequest(ctx, body)
	if resp == nil {
		return execErr
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	if browser.IsFatal(execErr) {
		return execErr
	}
	if execErr != nil {
		logger.Errorf("Request %s: %v", resp.RequestID, execErr)
	}
	return nil
}
