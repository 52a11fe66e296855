package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ppiankov/promessa/internal/queue"
)

var (
	metricsAddr       string
	workerConcurrency int
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued analyses",
	Long: `Worker consumes jobs from the configured queue backend (redis or
kafka), runs each analysis under the job time limit, and records the
outcome in the job status store.

Example:
  PROMESSA_QUEUE_BACKEND=redis REDIS_ADDR=localhost:6379 promessa worker
  promessa worker --concurrency 4 --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "concurrent consumers (default: queue.concurrency)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Queue.Backend == "" {
		return errors.New("no queue backend configured (set queue.backend or PROMESSA_QUEUE_BACKEND)")
	}
	if workerConcurrency > 0 {
		cfg.Queue.Concurrency = workerConcurrency
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(cfg, reg)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.queue == nil {
		return fmt.Errorf("queue backend %q is unavailable", cfg.Queue.Backend)
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "addr", metricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		fmt.Fprintf(os.Stderr, "Metrics: http://%s/metrics\n", metricsAddr)
	}

	fmt.Fprintf(os.Stderr, "Worker consuming from %s with %d consumers (Ctrl+C to stop)\n", cfg.Queue.Backend, cfg.Queue.Concurrency)
	w := queue.NewWorker(a.queue, a.store, a.analyzer, cfg.Queue, slog.Default())
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Worker stopped")
	return nil
}
