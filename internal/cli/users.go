package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users with stored entries",
		Run:   runUsers,
	}

	RootCmd.AddCommand(cmd)
}

func runUsers(cmd *cobra.Command, args []string) {
	svc, _, closeAll := openService(cmd)
	defer closeAll()

	users, err := svc.Memory().Users(cmd.Context())
	if err != nil {
		exitErr("users", err)
	}

	output(users, func(w io.Writer) {
		for _, u := range users {
			fmt.Fprintf(w, "%d\t%d\n", u.UserID, u.Count)
		}
	})
}
