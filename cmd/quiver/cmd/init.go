package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quiver-notes/quiver/internal/config"
	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [notes-dir]",
		Short: "Write a default config file",
		Long: `Create quiver.yaml in the current directory with defaults for the
given notes directory (current directory when omitted). Edit it to
pick a provider, tune chunk sizes or exclude folders.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			notesDir := "."
			if len(args) > 0 {
				notesDir = args[0]
			}

			path := configPath
			if path == "" {
				path = "quiver.yaml"
			}
			if _, err := os.Stat(path); err == nil {
				return qerrors.Newf(qerrors.ErrCodeInvalidInput,
					"%s already exists", path).
					WithSuggestion("remove it first or pass --config with another path")
			}

			cfg := config.DefaultConfig(notesDir)
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (notes dir: %s)\n", path, notesDir)
			fmt.Println("Next: run `quiver index` to build the index.")
			return nil
		},
	}
}
