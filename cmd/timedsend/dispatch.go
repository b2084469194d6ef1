package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"timedsend/internal/store"
)

func dispatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run the dispatch engine loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app("dispatch")
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.Config

			svc := a.Dispatcher()
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				svc.Start(ctx)
				return nil
			})

			if js, ok := a.Backend.(*store.JSONFile); ok && cfg.Dispatch.WatchStore {
				g.Go(func() error { return svc.WatchStore(ctx, js.Path()) })
			}

			if addr := cfg.Dispatch.MetricsAddr; addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				srv := &http.Server{Addr: addr, Handler: mux}
				g.Go(func() error {
					a.Log.Info().Str("addr", addr).Msg("metrics server starting")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}

			return g.Wait()
		},
	}
}
