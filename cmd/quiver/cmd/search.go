package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quiver-notes/quiver/internal/rag"
	"github.com/quiver-notes/quiver/internal/search"
)

func newSearchCmd() *cobra.Command {
	var (
		k          int
		minScore   float32
		pathPrefix string
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed notes",
		Long: `Embed the query and return the closest note passages from the
vector index, ranked by similarity.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			svc, err := rag.New(cmd.Context(), cfg, nil, nil)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			passages, err := svc.Search(cmd.Context(), query, search.Options{
				K:          k,
				MinScore:   minScore,
				PathPrefix: pathPrefix,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(passages)
			}

			if len(passages) == 0 {
				fmt.Println("No matching passages. Try `quiver index` first, or a broader query.")
				return nil
			}

			for i, p := range passages {
				heading := strings.Join(p.HeadingPath, " > ")
				fmt.Printf("%d. %s", i+1, p.SourcePath)
				if heading != "" {
					fmt.Printf("  (%s)", heading)
				}
				fmt.Printf("  [%.3f]\n", p.Score)
				fmt.Printf("   %s\n\n", snippet(p.Content, 240))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "top", "k", 0, "Number of passages to return (default from config)")
	cmd.Flags().Float32Var(&minScore, "min-score", 0, "Minimum similarity score (default from config)")
	cmd.Flags().StringVar(&pathPrefix, "path", "", "Restrict results to notes under this path prefix")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit results as JSON")
	return cmd
}

// snippet flattens and truncates passage content for terminal output.
func snippet(content string, max int) string {
	flat := strings.Join(strings.Fields(content), " ")
	runes := []rune(flat)
	if len(runes) <= max {
		return flat
	}
	return string(runes[:max]) + "…"
}
