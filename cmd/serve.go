package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/tanq16/velodown/internal/api"
	"github.com/tanq16/velodown/internal/output"
	"github.com/tanq16/velodown/internal/utils"
)

const shutdownTimeout = 10 * time.Second

// logNotifier announces finished downloads in the server log.
type logNotifier struct {
	log zerolog.Logger
}

func (n logNotifier) NotifyUser(title, body string) error {
	n.log.Info().Str("title", title).Msg(body)
	return nil
}

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve [--addr ADDR]",
		Short: "Run the HTTP control API",
		Long: `Serve the download manager over HTTP. Task changes are streamed as
server-sent events on /api/events.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log := utils.GetLogger("serve")
			if !debug {
				gin.SetMode(gin.ReleaseMode)
			}

			hub := api.NewHub()
			sched, closeFn, err := openScheduler(ctx, hub, logNotifier{log: log})
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewRouter(sched, hub),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()
			log.Info().Str("addr", addr).Msg("API listening")

			select {
			case err = <-errCh:
			case <-ctx.Done():
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Server stopped")
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			// open event streams only end once their channels close
			hub.Close()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Forced shutdown")
			}
			closeFn()
			log.Info().Msg("Server stopped, unfinished downloads paused")
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8420", "Address to listen on")
	return cmd
}
