// Command axcore serves and runs browser action batches with semantic
// accessibility-tree retrieval.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/entrhq/axcore/pkg/app"
	"github.com/entrhq/axcore/pkg/config"
	"github.com/entrhq/axcore/pkg/logging"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "0.1.0"

var (
	configFile string
	logLevel   string

	// appOptions are appended to every app.New call; tests use them to swap the engine.
	appOptions []app.Option
)

var rootCmd = &cobra.Command{
	Use:   "axcore",
	Short: "Browser actions with semantic accessibility-tree retrieval",
	Long: `axcore drives named browser sessions through batches of actions and
answers natural-language queries over a page's accessibility tree.

Configuration is read from a YAML file (--config) over built-in defaults.
OPENAI_API_KEY and OPENAI_BASE_URL configure the openai embedding provider.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "axcore v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and sets up process-wide logging.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := logging.SetLevel(cfg.Logging.Level); err != nil {
		return nil, nil, err
	}
	logging.SetDirectory(cfg.Logging.Directory)

	// NewLogger falls back to stderr and says so itself
	logger, _ := logging.NewLogger("axcore")
	if cfg.ConfigFilePath != "" {
		logger.Infof("Loaded configuration from %s", cfg.ConfigFilePath)
	}
	return cfg, logger, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "Shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
