// Package observability serves supervisor health and Prometheus metrics over
// HTTP and installs the OpenTelemetry tracer provider.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/jrepp/prism-supervisor/pkg/supervisor"
)

// Config holds observability configuration
type Config struct {
	// ServiceName is reported as the OTel service name
	ServiceName string

	// ServiceVersion is reported as the OTel service version
	ServiceVersion string

	// MetricsAddr is the listen address of the HTTP server, e.g. ":9090".
	// Empty disables the server.
	MetricsAddr string

	// EnableTracing installs a global tracer provider
	EnableTracing bool

	// TraceWriter receives exported spans. Defaults to stdout.
	TraceWriter io.Writer
}

// HealthSource reports the current supervisor health
type HealthSource interface {
	Health() supervisor.HealthCheck
}

// Manager manages the tracer provider and the HTTP server
type Manager struct {
	config         Config
	health         HealthSource
	gatherer       prometheus.Gatherer
	tracerProvider *sdktrace.TracerProvider
	server         *http.Server
	listener       net.Listener
	shutdownOnce   sync.Once
	log            *slog.Logger
}

// NewManager creates a manager serving health from source and metrics from
// gatherer. gatherer may be nil.
func NewManager(config Config, source HealthSource, gatherer prometheus.Gatherer) *Manager {
	if config.ServiceName == "" {
		config.ServiceName = "prism-supervisor"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "0.0.0"
	}
	return &Manager{
		config:   config,
		health:   source,
		gatherer: gatherer,
		log:      slog.Default().With("component", "observability"),
	}
}

// Initialize starts tracing and the HTTP server as configured
func (o *Manager) Initialize(ctx context.Context) error {
	o.log.Info("initializing observability",
		"service_name", o.config.ServiceName,
		"service_version", o.config.ServiceVersion,
		"metrics_addr", o.config.MetricsAddr,
		"enable_tracing", o.config.EnableTracing)

	if o.config.EnableTracing {
		if err := o.initializeTracing(ctx); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		o.log.Info("OpenTelemetry tracing initialized", "service_name", o.config.ServiceName)
	}

	if o.config.MetricsAddr != "" {
		if err := o.startServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		o.log.Info("metrics server started", "addr", o.Addr())
	}

	return nil
}

// initializeTracing sets up OpenTelemetry tracing with the stdout exporter
func (o *Manager) initializeTracing(ctx context.Context) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(o.config.ServiceName),
			semconv.ServiceVersion(o.config.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if o.config.TraceWriter != nil {
		opts = append(opts, stdouttrace.WithWriter(o.config.TraceWriter))
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	o.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(o.tracerProvider)
	return nil
}

// Tracer returns a tracer for the given name
func (o *Manager) Tracer(name string) trace.Tracer {
	if o.tracerProvider != nil {
		return o.tracerProvider.Tracer(name)
	}
	return otel.Tracer(name)
}

// Handler returns the HTTP handler serving /health, /ready and /metrics
func (o *Manager) Handler() http.Handler {
	mux := http.NewServeMux()

	// Liveness: the supervisor is running
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := o.health.Health()
		status := http.StatusOK
		if !h.Healthy() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	})

	// Readiness: the supervisor is running and every declared child is up
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		h := o.health.Health()
		if !h.Healthy() || h.Counts.Active < h.Counts.Specs {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "not_ready",
				"state":  h.StateName,
				"active": h.Counts.Active,
				"specs":  h.Counts.Specs,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	if o.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// startServer starts the HTTP server in the background
func (o *Manager) startServer() error {
	ln, err := net.Listen("tcp", o.config.MetricsAddr)
	if err != nil {
		return err
	}
	o.listener = ln

	o.server = &http.Server{
		Handler:           o.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := o.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			o.log.Error("metrics server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the address the HTTP server listens on, or "" if not started
func (o *Manager) Addr() string {
	if o.listener == nil {
		return ""
	}
	return o.listener.Addr().String()
}

// Shutdown stops the HTTP server and flushes the tracer provider. Only the
// first call has an effect.
func (o *Manager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	o.shutdownOnce.Do(func() {
		o.log.Info("shutting down observability components")

		if o.server != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := o.server.Shutdown(shutdownCtx); err != nil {
				o.log.Error("failed to shutdown metrics server", "error", err)
				shutdownErr = fmt.Errorf("metrics server shutdown: %w", err)
			}
		}

		if o.tracerProvider != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := o.tracerProvider.Shutdown(shutdownCtx); err != nil {
				o.log.Error("failed to shutdown tracer provider", "error", err)
				if shutdownErr == nil {
					shutdownErr = fmt.Errorf("tracer provider shutdown: %w", err)
				}
			}
		}
	})

	return shutdownErr
}
