// Package cli implements the clip-memory CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rcliao/clip-memory/internal/config"
	"github.com/rcliao/clip-memory/internal/logging"
	"github.com/rcliao/clip-memory/internal/service"
)

var (
	configPath string
	formatFlag string
	userFlag   int64
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "clip-memory",
	Short: "Turn short videos into searchable notes",
	Long: "Extracts text from short-video links (subtitles first, speech-to-text as fallback), " +
		"analyzes it with an LLM and keeps a per-user memory of the results.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CLIP_MEMORY_CONFIG"), "YAML config file (default: $CLIP_MEMORY_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().Int64VarP(&userFlag, "user", "u", 0, "User id that owns the memory")
}

// openService loads configuration and builds the service. The returned func
// closes it along with the log file.
func openService(cmd *cobra.Command) (*service.Service, logrus.FieldLogger, func()) {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitErr("config", err)
	}
	log, logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		exitErr("logging", err)
	}
	svc, err := service.New(cmd.Context(), cfg, log)
	if err != nil {
		logCloser.Close()
		exitErr("start", err)
	}
	return svc, log, func() {
		if err := svc.Close(); err != nil {
			log.WithError(err).Warn("close service")
		}
		logCloser.Close()
	}
}

func requireUser() int64 {
	if userFlag == 0 {
		exitErr("user", fmt.Errorf("--user is required"))
	}
	return userFlag
}

// output prints v as indented JSON, or through text when --format=text.
func output(v any, text func(w io.Writer)) {
	if formatFlag == "text" && text != nil {
		text(os.Stdout)
		return
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitErr("encode", err)
	}
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
