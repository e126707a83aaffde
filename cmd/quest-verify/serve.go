package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devblac/quest-verify/internal/health"
	"github.com/devblac/quest-verify/internal/metrics"
	"github.com/devblac/quest-verify/internal/server"
	"github.com/spf13/cobra"
)

var (
	flagAddr    string
	flagMetrics string
)

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "API listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics and health HTTP address (overrides server.metrics_addr)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the claim verification API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if flagAddr != "" {
			cfg.Server.Addr = flagAddr
		}
		if flagMetrics != "" {
			cfg.Server.MetricsAddr = flagMetrics
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var mtr *metrics.Metrics
		if cfg.Server.MetricsAddr != "" {
			mtr = metrics.Init()
		}

		a, err := buildApp(ctx, cfg, log, mtr)
		if err != nil {
			return err
		}
		defer a.Close()

		checker := health.Checker{
			LedgerPing: a.store.Ping,
			RPCPing:    health.FromSet(a.chains).Ping,
		}

		if cfg.Server.MetricsAddr != "" {
			opsSrv := health.Serve(cfg.Server.MetricsAddr, checker)
			log.Info("metrics enabled", "addr", cfg.Server.MetricsAddr)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = health.Shutdown(shutdownCtx, opsSrv)
			}()
		}

		api := server.New(cfg.Server, a.claims, a.store, checker, log)
		defer api.Close()

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			log.Info("api listening", "addr", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				mtr.Errors()
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
