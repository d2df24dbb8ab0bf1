package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the acquisition and credits HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEnv(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if checker := newChecker(env, cfg); checker != nil {
			go checker.Run(ctx)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newChecker builds the background settlement checker, or nil when
// monitoring.check_interval_secs is 0.
func newChecker(env *appEnv, c *config.Config) *monitoring.Checker {
	if c.Monitoring.CheckIntervalSecs <= 0 {
		return nil
	}
	var opts []monitoring.CheckerOption
	if env.Service != nil {
		opts = append(opts, monitoring.WithReconciler(env.Service, c.Reconcile.Batch))
	}
	if c.Monitoring.PurgeCache && c.Cache.Driver == "store" {
		opts = append(opts, monitoring.WithCachePurger(env.Store))
	}
	return monitoring.NewChecker(
		monitoring.NewCollector(env.Store),
		monitoring.NewAlerter(c.Monitoring),
		c.Monitoring,
		opts...,
	)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
