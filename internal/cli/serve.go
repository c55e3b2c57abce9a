package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tutu-network/shf/internal/api"
	"github.com/tutu-network/shf/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd, initCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default [api].host:[api].port)")
	serveCmd.Flags().Bool("no-metrics", false, "Do not expose /metrics")

	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
}

// shutdownGrace bounds how long in-flight requests get after a signal.
const shutdownGrace = 10 * time.Second

// ─── serve ──────────────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ledger HTTP API",
	Long: `Serve the ledger over HTTP. Every subject is addressable under
/api/ledger/{subject}; /metrics exposes Prometheus counters and
/api/ledger/{subject}/feed streams posted entries as Server-Sent Events.`,
	Args: cobra.NoArgs,
	RunE: withRuntime(runServe),
}

func runServe(rt *runtime, cmd *cobra.Command, _ []string) error {
	srv := api.NewServer(rt.engine, rt.log)
	if noMetrics, _ := cmd.Flags().GetBool("no-metrics"); !noMetrics {
		srv.EnableMetrics()
	}
	if rt.cfg.API.RateLimitRPS > 0 {
		srv.SetRateLimit(rt.cfg.API.RateLimitRPS, rt.cfg.API.RateBurst)
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = rt.cfg.API.Addr()
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.log.WithFields(logrus.Fields{
			"addr":  addr,
			"store": rt.cfg.Ledger.Store,
		}).Info("ledger API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		rt.log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	return g.Wait()
}

// ─── init ───────────────────────────────────────────────────────────────────

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			path = daemon.ConfigPath()
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := daemon.DefaultConfig().Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}
