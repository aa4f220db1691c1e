package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/assessor/internal/httpapi"
	"github.com/rpattn/assessor/internal/logging"
)

func newServeCmd(g *globals) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}
			log := logging.Component(g.logger, "server")

			a, err := newApp(cmd.Context(), cfg, g.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			server := &http.Server{
				Addr: cfg.Server.Addr,
				Handler: httpapi.NewRouter(a.service, httpapi.RouterOptions{
					AllowedOrigins: cfg.CORS.AllowedOrigins,
					Loaders:        a.service,
					Logger:         logging.Component(g.logger, "http"),
				}),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  4 * cfg.Server.ReadTimeout,
			}

			group, ctx := errgroup.WithContext(cmd.Context())
			if a.sweeper != nil {
				a.sweeper.Start(ctx)
				defer a.sweeper.Stop()
			}
			group.Go(func() error {
				log.WithField("addr", cfg.Server.Addr).Info("starting HTTP server")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			group.Go(func() error {
				<-ctx.Done()
				log.Info("shutting down server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return err
				}
				if n := a.launcher.CancelAll(); n > 0 {
					log.WithField("jobs", n).Info("cancelled running jobs")
				}
				a.launcher.Wait()
				return nil
			})

			if err := group.Wait(); err != nil {
				return err
			}
			log.Info("server exited")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}
