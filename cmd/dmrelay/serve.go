package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"dmrelay/internal/constants"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the diagnostics HTTP server",
		Long: `Serves health, metrics, offline-queue status, and on-demand
connectivity diagnostics over HTTP until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if port <= 0 {
				port = a.cfg.Server.Port
			}
			srv := NewServer(a.diagnostics, a.session, a.store, port, a.logger)

			errCh := make(chan error, constants.ServerErrorChannelSize)
			go func() {
				if serveErr := srv.Start(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
					errCh <- serveErr
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}

			a.logger.Info("Shutting down diagnostics server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultGracefulShutdownSec*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	return cmd
}
