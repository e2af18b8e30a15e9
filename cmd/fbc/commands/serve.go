package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/server"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fbc HTTP server",
	Long: `Start the session core as an HTTP server.

Clients open a session with POST /session, follow it on GET /event and
answer capture device prompts on the /device routes.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}

	serverConfig := server.ConfigFrom(a.cfg.Server)
	if servePort > 0 {
		serverConfig.Port = servePort
	}
	srv := server.New(serverConfig, a.sessions, a.bus)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info().Str("version", Version).Int("port", serverConfig.Port).Msg("server listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		a.close(shutdownCtx)
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logging.Info().Msg("server stopped")
	return nil
}
