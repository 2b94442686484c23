package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cimonitor/cimonitor/internal/api"
	"github.com/cimonitor/cimonitor/internal/config"
	"github.com/cimonitor/cimonitor/internal/poller"
	"github.com/cimonitor/cimonitor/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll projects continuously and serve the dashboard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("cimonitor starting",
		"config", configPath,
		"projects", len(cfg.Projects),
		"groups", len(cfg.Groups),
		"http_port", cfg.Server.HTTPPort,
		"storage", cfg.Storage.Backend,
	)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	hub := ws.New(a.source, cfg.Server.BroadcastInterval)
	a.sched.OnPass = func(sum poller.Summary) {
		if sum.Recorded > 0 {
			hub.Broadcast()
		}
	}
	watch := func(ctx context.Context) {
		if err := config.Watch(ctx, configPath, a.reload); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}
	wait := a.background(ctx, a.sched.Run, hub.Run, watch)

	mux := http.NewServeMux()
	mux.Handle("/", api.New(a.source))
	mux.Handle("/ws/dashboard", hub)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var srvErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		srvErr = fmt.Errorf("http server: %w", err)
		stop()
	}

	slog.Info("cimonitor shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && srvErr == nil {
		srvErr = err
	}

	// The history is closed by the deferred Close only after the last pass
	// has recorded its statuses.
	wait()
	slog.Info("poller stopped")
	return srvErr
}
