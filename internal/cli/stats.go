package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics for a user",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	user := requireUser()

	svc, _, closeAll := openService(cmd)
	defer closeAll()

	stats, err := svc.Memory().Stats(cmd.Context(), user)
	if err != nil {
		exitErr("stats", err)
	}

	output(stats, func(w io.Writer) {
		fmt.Fprintf(w, "entries: %d\n", stats.TotalEntries)
		if stats.FirstCreated != nil {
			fmt.Fprintf(w, "first:   %s\n", stats.FirstCreated.Local().Format("2006-01-02 15:04"))
			fmt.Fprintf(w, "last:    %s\n", stats.LastCreated.Local().Format("2006-01-02 15:04"))
		}
		fmt.Fprintf(w, "types:   %v\n", stats.ContentTypes)
	})
}
