package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"modelreg/internal/api"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Serve the registry over HTTP: POST /query, GET /stats, GET /providers,
DELETE /cache and, with metrics enabled, GET /metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "localhost:8080", "Address to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(rootFlag)
	if err != nil {
		return err
	}
	defer a.close()

	// With metrics enabled /metrics is served by the API and, when
	// metrics.listen names another address, by a listener of its own.
	server := api.NewServer(serveListen, a.registry, a.metrics, a.logger.Named("api"), a.queryTimeout())

	serverErr := make(chan error, 2)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "modelreg listening on http://%s\n", serveListen)
		serverErr <- server.Start()
	}()

	var metricsServer *http.Server
	if a.metrics != nil && a.cfg.Metrics.Listen != serveListen {
		metricsServer = serveMetrics(a.cfg.Metrics.Listen, a, serverErr)
	}

	ctx := commandContext(cmd)
	select {
	case err := <-serverErr:
		if err != nil {
			a.logger.Error("Server error", map[string]interface{}{
				"error": err.Error(),
			})
			return err
		}
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal", nil)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Error during shutdown", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	a.logger.Info("Server stopped gracefully", nil)
	return nil
}

// serveMetrics exposes the prometheus handler on addr until shut down.
// Listener failures are reported on errs.
func serveMetrics(addr string, a *app, errs chan<- error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("Serving metrics", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- fmt.Errorf("metrics listener: %w", err)
		}
	}()
	return srv
}
