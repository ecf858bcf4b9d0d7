package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rcliao/clip-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show one entry with its full analysis",
		Args:  cobra.ExactArgs(1),
		Run:   runShow,
	}

	RootCmd.AddCommand(cmd)
}

func runShow(cmd *cobra.Command, args []string) {
	user := requireUser()
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		exitErr("show", fmt.Errorf("invalid id %q", args[0]))
	}

	svc, _, closeAll := openService(cmd)
	defer closeAll()

	e, err := svc.Memory().Get(cmd.Context(), user, id)
	if errors.Is(err, store.ErrNotFound) {
		exitErr("show", fmt.Errorf("no entry #%d", id))
	}
	if err != nil {
		exitErr("show", err)
	}

	output(e, func(w io.Writer) {
		fmt.Fprintf(w, "#%d  %s\n", e.ID, e.SourceURL)
		fmt.Fprintln(w, e.Analysis)
	})
}
