package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List remembered entries, newest first",
		Run:   runList,
	}

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	user := requireUser()

	svc, _, closeAll := openService(cmd)
	defer closeAll()

	entries, err := svc.Memory().GetAll(cmd.Context(), user)
	if err != nil {
		exitErr("list", err)
	}

	output(entries, func(w io.Writer) {
		for _, e := range entries {
			fmt.Fprintf(w, "#%d  %s  [%s]  %s\n", e.ID, e.CreatedAt.Local().Format("2006-01-02 15:04"), e.ContentType, e.Summary)
		}
	})
}
