package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quiver-notes/quiver/internal/index"
	"github.com/quiver-notes/quiver/internal/rag"
	"github.com/quiver-notes/quiver/internal/watch"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the notes directory and keep the index fresh",
		Long: `Run an initial incremental index, then watch the notes directory
and re-index automatically whenever Markdown files change. Stop with
Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			// Catch up before watching.
			result, err := svc.IndexIncremental(ctx)
			if err != nil {
				return err
			}
			printResult(result)
			if result.Cancelled {
				return nil
			}

			w := watch.NewWatcher(cfg.Notes.Dir, cfg.Watch.Debounce,
				func(ctx context.Context) error {
					result, err := svc.IndexIncremental(ctx)
					if err != nil {
						return err
					}
					if result.Processed > 0 || result.Deleted > 0 || len(result.Failed) > 0 {
						printResult(result)
					}
					return nil
				}, nil)

			fmt.Println("Watching for changes (Ctrl+C to stop)...")
			return w.Run(ctx)
		},
	}
}
