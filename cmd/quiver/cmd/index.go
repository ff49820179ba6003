package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quiver-notes/quiver/internal/index"
	"github.com/quiver-notes/quiver/internal/rag"
)

func newIndexCmd() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the notes directory",
		Long: `Scan the notes directory, chunk changed Markdown files, embed the
chunks and update the vector index.

By default only files whose fingerprint changed since the last run are
re-indexed. Use --full to rebuild the whole index from scratch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Ctrl+C cancels cleanly: in-flight files finish, the run
			// is marked cancelled, nothing half-written is persisted.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			lock := index.NewLock(cfg.Index.DataDir)
			if err := lock.TryLock(); err != nil {
				return err
			}
			defer func() { _ = lock.Unlock() }()

			svc, err := rag.New(ctx, cfg, nil, printProgress)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			var result *index.Result
			if full {
				result, err = svc.IndexAll(ctx)
			} else {
				result, err = svc.IndexIncremental(ctx)
			}
			if err != nil {
				return err
			}

			printResult(result)
			if result.Cancelled {
				return fmt.Errorf("indexing was interrupted")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Rebuild the whole index from scratch")
	return cmd
}

func printProgress(stage string, completed, total int) {
	if total > 0 {
		fmt.Printf("  %s (%d/%d)\n", stage, completed, total)
	} else {
		fmt.Printf("  %s\n", stage)
	}
}

func printResult(result *index.Result) {
	fmt.Printf("Indexed %d file(s), %d chunk(s); skipped %d unchanged, removed %d deleted (%s)\n",
		result.Processed, result.Chunks, result.Skipped, result.Deleted,
		result.Elapsed.Round(time.Millisecond))

	for _, fe := range result.Failed {
		fmt.Printf("  failed: %s: %v\n", fe.Path, fe.Err)
	}
}
