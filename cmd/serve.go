package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/market-cli/internal/api"
	"github.com/sells-group/market-cli/internal/monitoring"
)

var (
	servePort   int
	serveNoWarm bool
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the refresh loops and serve the miner table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if !serveNoWarm {
			if err := env.Group.Warm(ctx); err != nil {
				return eris.Wrap(err, "warm from cache")
			}
		}

		views, err := api.LoadViews(cfg.Server.ViewsFile)
		if err != nil {
			return err
		}
		apiSrv, err := api.NewServer(api.Options{
			Table:       env.Table,
			Status:      env.Group,
			Views:       views,
			Metrics:     env.Metrics,
			CORSOrigins: cfg.Server.CORSOrigins,
		})
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           apiSrv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		collector := monitoring.NewCollector(env.Table, env.Metrics, env.Group.Reporters()...)
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)

		eg, gctx := errgroup.WithContext(ctx)
		eg.Go(func() error { return env.Group.Run(gctx) })
		eg.Go(func() error { return checker.Run(gctx) })
		eg.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		eg.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
		return eg.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoWarm, "no-warm", false, "skip loading cached results at startup")
	rootCmd.AddCommand(serveCmd)
}
