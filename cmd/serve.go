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

	"github.com/sells-group/esg-data/internal/api"
	"github.com/sells-group/esg-data/internal/config"
	"github.com/sells-group/esg-data/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ESG records API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store, env.Metrics)
		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		srv := newHTTPServer(cfg.Server, api.NewRouter(api.Deps{
			Service:   env.Service,
			Store:     env.Store,
			Collector: collector,
			Metrics:   env.Metrics,
			Config:    cfg.Server,
		}))

		return serveUntilDone(ctx, srv, shutdownTimeout(cfg.Server))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func newHTTPServer(sc config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.Port),
		Handler:           handler,
		ReadTimeout:       time.Duration(sc.ReadTimeoutSecs) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(sc.WriteTimeoutSecs) * time.Second,
	}
}

func shutdownTimeout(sc config.ServerConfig) time.Duration {
	if sc.ShutdownTimeoutSecs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(sc.ShutdownTimeoutSecs) * time.Second
}

// serveUntilDone runs srv until ctx is cancelled, then drains in-flight
// requests for at most grace.
func serveUntilDone(ctx context.Context, srv *http.Server, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return eris.Wrap(err, "server listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}
