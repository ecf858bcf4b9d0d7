package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/clip-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search remembered videos",
		Long:  "Semantic search over the user's memory, falling back to keyword matching.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max results (default: memory.top-k)")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	user := requireUser()
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	svc, _, closeAll := openService(cmd)
	defer closeAll()

	results := svc.Memory().Search(cmd.Context(), user, query, limit)
	if results == nil {
		results = []model.ScoredEntry{}
	}
	output(results, func(w io.Writer) {
		for _, r := range results {
			fmt.Fprintf(w, "#%d  %.2f  %s\n    %s\n", r.ID, r.Similarity, r.SourceURL, r.Summary)
		}
	})
}
