package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rcliao/clip-memory/internal/pipeline"
)

func init() {
	cmd := &cobra.Command{
		Use:   "process [url]",
		Short: "Extract, analyze and remember a video",
		Long:  "Run the full pipeline for one video link. Delivered files are saved to --out.",
		Args:  cobra.ExactArgs(1),
		Run:   runProcess,
	}

	cmd.Flags().StringP("out", "o", ".", "Directory for the transcript and analysis files")

	RootCmd.AddCommand(cmd)
}

// dirSink copies delivered files into a directory and prints messages.
type dirSink struct {
	dir   string
	out   io.Writer
	text  bool
	saved []string
}

func (s *dirSink) Progress(_ context.Context, text string) error {
	_, err := fmt.Fprintln(os.Stderr, text)
	return err
}

func (s *dirSink) Text(_ context.Context, text string) error {
	if !s.text {
		return nil
	}
	_, err := fmt.Fprintln(s.out, text)
	return err
}

func (s *dirSink) File(_ context.Context, path, mime, caption string) error {
	dst := filepath.Join(s.dir, filepath.Base(path))
	if err := copyFile(path, dst); err != nil {
		return err
	}
	s.saved = append(s.saved, dst)
	if s.text {
		fmt.Fprintf(s.out, "%s: %s\n", caption, dst)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func runProcess(cmd *cobra.Command, args []string) {
	user := requireUser()
	dir, _ := cmd.Flags().GetString("out")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		exitErr("output dir", err)
	}

	svc, _, closeAll := openService(cmd)
	defer closeAll()

	sink := &dirSink{dir: dir, out: os.Stdout, text: formatFlag == "text"}
	res := svc.Process(cmd.Context(), user, args[0], sink)

	output(struct {
		*pipeline.Result
		Files []string `json:"files"`
	}{res, sink.saved}, func(w io.Writer) {
		if !res.OK() {
			fmt.Fprintln(w, res.Message)
		}
	})
	if !res.OK() {
		closeAll()
		os.Exit(1)
	}
}
