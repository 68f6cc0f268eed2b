package cmd

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

	"github.com/jrepp/prism-plumber/pkg/metrics"
	"github.com/jrepp/prism-plumber/pkg/plumber"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	runDuration time.Duration
	screenRate  float64
	workerCount int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the synthetic host with the mitigations applied",
	Long: `Start the synthetic host, apply the leak mitigations and open screens at a
steady rate until interrupted or --duration elapses.

Example:
  plumber-demo run --api-level 21 --log-level debug
  plumber-demo run --metrics-listen :9090 --duration 30s
`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVarP(&runDuration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	runCmd.Flags().Float64VarP(&screenRate, "rate", "r", 20, "Screens opened per second")
	runCmd.Flags().IntVar(&workerCount, "workers", 4, "Number of looper worker threads")
	runCmd.Flags().String("metrics-listen", "", "Address for the Prometheus /metrics endpoint (e.g. :9090)")
	runCmd.Flags().Bool("tracing", false, "Print patch spans to stdout")

	bind(runCmd, "metrics.listen", "metrics-listen")
	bind(runCmd, "tracing.enabled", "tracing")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if workerCount < 1 {
		return fmt.Errorf("--workers must be at least 1, got %d", workerCount)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runDuration)
		defer cancel()
	}

	if cfg.Tracing.Enabled {
		shutdown, err := setupTracing(ctx)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("failed to flush traces", "error", err)
			}
		}()
	}

	mc := metrics.NewPrometheusCollector("plumber")
	h := newHost(logger, workerCount)
	defer h.stop()

	p, err := plumber.New(cfg,
		plumber.WithLogger(logger),
		plumber.WithMetricsCollector(mc),
		plumber.WithHooks(h.hooks()),
	)
	if err != nil {
		return err
	}

	p.ApplyFixes(ctx, h.app)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return workload(ctx, h, screenRate)
	})
	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return serveMetrics(ctx, logger, cfg.Metrics.Listen, mc)
		})
	}

	logger.Info("host running",
		"api_level", cfg.Runtime.APILevel,
		"workers", workerCount,
		"rate", screenRate,
		"metrics", cfg.Metrics.Listen)

	err = g.Wait()

	// The seen set is final only once the scheduler has stopped
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := p.Shutdown(shutdownCtx); serr != nil {
		logger.Error("failed to stop scheduler", "error", serr)
	}

	logger.Info("host stopped",
		"screens", h.screens.Load(),
		"threads_instrumented", p.Scanner().Seen().Len(),
		"idle_nodes", h.nodes.Len(),
		"idle_text_lines", h.textLines.Len())
	return err
}

// workload opens screens at a fixed rate until ctx ends
func workload(ctx context.Context, h *host, perSecond float64) error {
	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			// Wait also fails early when the next slot is past the deadline
			<-ctx.Done()
			return nil
		}
		h.openScreen(ctx)
	}
}

func serveMetrics(ctx context.Context, logger *slog.Logger, addr string, mc *metrics.PrometheusCollector) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(mc.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler(logger))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func healthHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
			logger.Debug("health response not written", "error", err)
		}
	}
}

// setupTracing installs a stdout span exporter as the global tracer provider
func setupTracing(ctx context.Context) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("plumber-demo"),
			semconv.ServiceVersion(rootCmd.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
