package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/clip-memory/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [question]",
		Short: "Show the memory context a question would be answered from",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContext,
	}

	cmd.Flags().IntP("budget", "b", memory.DefaultContextBudget, "Max characters of context")
	cmd.Flags().IntP("limit", "l", 0, "Max entries to consider (default: memory.top-k)")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	user := requireUser()
	budget, _ := cmd.Flags().GetInt("budget")
	limit, _ := cmd.Flags().GetInt("limit")

	svc, _, closeAll := openService(cmd)
	defer closeAll()

	results := svc.Memory().Search(cmd.Context(), user, strings.Join(args, " "), limit)
	mc := memory.BuildContext(results, budget, time.Now())

	output(mc, func(w io.Writer) {
		fmt.Fprintln(w, mc.String())
	})
}
