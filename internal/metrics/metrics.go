package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Event metrics
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activityd_events_total",
			Help: "Activity events read from the log, by processing result",
		},
		[]string{"result"},
	)

	EventRedeliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activityd_event_redeliveries_total",
			Help: "Log entries observed more than once (at-least-once replay)",
		},
	)

	// Session metrics
	SessionMerges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activityd_session_merges_total",
			Help: "Continuation merges of adjacent same-classification lineages",
		},
	)

	KnownSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "activityd_known_sessions",
			Help: "Lineage ids registered in the session set",
		},
	)

	// Totals rebuild metrics
	RebuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "activityd_totals_rebuild_seconds",
			Help:    "Duration of a full daily totals rebuild",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	CycleFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activityd_cycle_failures_total",
			Help: "Poll cycles aborted by a store failure and retried",
		},
	)
)

// Processing results for the EventsTotal counter.
const (
	ResultApplied     = "applied"
	ResultInvalid     = "invalid"
	ResultOrphanClose = "orphan_close"
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		EventsTotal,
		EventRedeliveries,
		SessionMerges,
		KnownSessions,
		RebuildDuration,
		CycleFailures,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
