package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"timedsend/internal/api"
)

func serveCmd(opts *options) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app("api")
			if err != nil {
				return err
			}
			defer a.Close()

			addr := a.Config.API.Addr
			srv := &http.Server{Addr: addr, Handler: api.NewServerWithDebug(a.Repo, a.Driver, a.Resolver, a.Log, debug)}
			errCh := make(chan error, 1)
			go func() {
				a.Log.Info().Str("addr", addr).Msg("HTTP server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}
			a.Log.Info().Msg("shutting down")
			ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelTimeout()
			return srv.Shutdown(ctxTimeout)
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "expose /debug/pprof")
	return cmd
}
