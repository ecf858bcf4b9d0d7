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
		Use:   "ask [question]",
		Short: "Answer a question from remembered videos",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAsk,
	}

	RootCmd.AddCommand(cmd)
}

func runAsk(cmd *cobra.Command, args []string) {
	user := requireUser()
	question := strings.Join(args, " ")

	svc, _, closeAll := openService(cmd)
	defer closeAll()

	answer, hits, err := svc.Ask(cmd.Context(), user, question)
	if err != nil {
		exitErr("ask", err)
	}
	if hits == nil {
		hits = []model.ScoredEntry{}
	}

	output(map[string]any{"answer": answer, "hits": hits}, func(w io.Writer) {
		fmt.Fprintln(w, answer)
		for i, h := range hits {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, h.SourceURL)
		}
	})
}
