package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/clip-memory/internal/server"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Run:   runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default: server.host:server.port)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")

	svc, log, closeAll := openService(cmd)
	defer closeAll()

	if addr == "" {
		addr = svc.Config().Server.Addr()
	}

	if err := server.New(svc, log).Run(cmd.Context(), addr); err != nil {
		log.WithError(err).Error("server stopped")
		closeAll()
		exitErr("serve", err)
	}
}
