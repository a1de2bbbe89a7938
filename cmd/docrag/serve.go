package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docrag/internal/server"
	"docrag/internal/session"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, log, a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		srv := server.New(server.Options{
			Addr:            addr,
			ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSecs) * time.Second,
			MaxUploadBytes:  int64(cfg.Server.MaxUploadMB) << 20,
			CookieSecure:    cfg.Server.CookieSecure,
			IdleTTL:         time.Duration(cfg.Session.IdleTTLMins) * time.Minute,
		}, a.Service, session.NewManager(cfg.Session.SourceLimit), a.Metrics, log)
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides server.addr")
	rootCmd.AddCommand(serveCmd)
}
