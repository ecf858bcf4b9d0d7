package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/clip-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Remember a note",
		Long:  "Store a note in memory. Content can be a positional arg or piped via stdin.",
		Run:   runAdd,
	}

	cmd.Flags().String("source", "", "Source URL to record with the note")

	RootCmd.AddCommand(cmd)
}

func runAdd(cmd *cobra.Command, args []string) {
	user := requireUser()
	source, _ := cmd.Flags().GetString("source")

	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	content = strings.TrimSpace(content)
	if content == "" {
		exitErr("add", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	svc, _, closeAll := openService(cmd)
	defer closeAll()

	stored := svc.Memory().Add(cmd.Context(), user, content, content, source, model.ContentTypeNote)
	output(map[string]any{"ok": true, "stored": stored}, func(w io.Writer) {
		if stored {
			fmt.Fprintln(w, "stored")
		} else {
			fmt.Fprintln(w, "already remembered")
		}
	})
}
