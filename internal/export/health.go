package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Empty disables the server; metrics are still collected.
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics for engine health.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Kernel reader layer.
	RecordsProcessed prometheus.Counter
	RecordBatches    prometheus.Counter
	BufferOverflows  prometheus.Counter

	// Classification layer.
	EventsByKind *prometheus.CounterVec // kind

	// Session layer.
	SessionsLive   prometheus.Gauge
	SessionsTraced prometheus.Counter

	// Report layer.
	ReportsWritten *prometheus.CounterVec // schema
	ReportErrors   prometheus.Counter

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		RecordsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fstrace",
			Name:      "records_processed_total",
			Help:      "Total kernel trace records processed.",
		}),
		RecordBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fstrace",
			Name:      "record_batches_total",
			Help:      "Total record batches read from the kernel.",
		}),
		BufferOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fstrace",
			Name:      "buffer_overflows_total",
			Help:      "Total kernel trace buffer overflow events.",
		}),
		EventsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fstrace",
				Name:      "events_by_kind_total",
				Help:      "Total classified file events by kind.",
			},
			[]string{"kind"},
		),
		SessionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fstrace",
			Name:      "sessions_live",
			Help:      "Number of trace sessions currently running.",
		}),
		SessionsTraced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fstrace",
			Name:      "sessions_traced_total",
			Help:      "Total trace sessions finalized.",
		}),
		ReportsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fstrace",
				Name:      "reports_written_total",
				Help:      "Total dependency reports written by schema.",
			},
			[]string{"schema"},
		),
		ReportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fstrace",
			Name:      "report_errors_total",
			Help:      "Total failures to write a dependency report.",
		}),
	}

	reg.MustRegister(
		h.RecordsProcessed,
		h.RecordBatches,
		h.BufferOverflows,
		h.EventsByKind,
		h.SessionsLive,
		h.SessionsTraced,
		h.ReportsWritten,
		h.ReportErrors,
	)

	return h
}

// Start begins serving the /metrics endpoint. With no configured
// address this is a no-op.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	// pprof endpoints for CPU/memory profiling.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop gracefully shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
