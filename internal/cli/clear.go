package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every entry of a user",
		Run:   runClear,
	}

	cmd.Flags().Bool("yes", false, "Confirm deletion")

	RootCmd.AddCommand(cmd)
}

func runClear(cmd *cobra.Command, args []string) {
	user := requireUser()
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		exitErr("clear", fmt.Errorf("refusing to delete without --yes"))
	}

	svc, _, closeAll := openService(cmd)
	defer closeAll()

	n, err := svc.Memory().Clear(cmd.Context(), user)
	if err != nil {
		exitErr("clear", err)
	}

	output(map[string]any{"ok": true, "deleted": n}, func(w io.Writer) {
		fmt.Fprintf(w, "deleted %d entries\n", n)
	})
}
