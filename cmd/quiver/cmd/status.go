package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quiver-notes/quiver/internal/rag"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			svc, err := rag.New(cmd.Context(), cfg, nil, nil)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			s := svc.Status()
			fmt.Printf("Notes directory:  %s\n", s.NotesDir)
			fmt.Printf("Data directory:   %s\n", s.DataDir)
			fmt.Printf("Provider:         %s (%s, %d dims)\n", s.Provider, s.Model, s.Dimensions)
			fmt.Printf("Store:            %s\n", s.StoreKind)
			fmt.Printf("Indexed chunks:   %d\n", s.Documents)
			fmt.Printf("Tracked files:    %d\n", s.TrackedFiles)
			fmt.Printf("Hash mode:        %s\n", s.HashMode)
			fmt.Printf("Index on disk:    %t\n", s.IndexOnDisk)
			fmt.Printf("Embedding cache:  %t\n", s.CacheEnabled)
			return nil
		},
	}
}
