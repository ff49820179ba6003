// Package cmd provides the CLI commands for quiver.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quiver-notes/quiver/internal/config"
	qerrors "github.com/quiver-notes/quiver/internal/errors"
	"github.com/quiver-notes/quiver/internal/logging"
	"github.com/quiver-notes/quiver/pkg/version"
)

var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the quiver CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quiver",
		Short: "Semantic search over your Markdown notes",
		Long: `Quiver indexes a directory of Markdown notes into a local vector
index and answers natural-language queries against it.

Everything runs locally: chunking, embeddings (Ollama by default) and
the vector index live on your machine.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("quiver version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./quiver.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

func setupLogging(_ *cobra.Command, _ []string) error {
	cleanup, err := logging.SetupDefault(debugMode)
	if err != nil {
		// Logging must never block the actual command.
		fmt.Fprintf(os.Stderr, "warning: cannot set up logging: %v\n", err)
		return nil
	}
	loggingCleanup = cleanup
	return nil
}

// loadConfig loads the configuration, falling back to ./quiver.yaml
// and then to defaults for the current directory.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = "quiver.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Execute runs the CLI. Errors are printed with their suggestion when
// one is attached.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var qe *qerrors.QuiverError
		if errors.As(err, &qe) && qe.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", qe.Suggestion)
		}
	}
	return err
}
