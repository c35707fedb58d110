// Package metrics exposes Prometheus metrics for the episense daemon
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/episense/episense/pkg/logx"
	"github.com/episense/episense/pkg/model"
)

// Server provides Prometheus metrics over HTTP.
type Server struct {
	logger *logx.Logger
	server *http.Server

	riskScore       prometheus.Gauge
	riskConfidence  prometheus.Gauge
	modelState      *prometheus.GaugeVec
	scoringTotal    *prometheus.CounterVec
	scoringDuration prometheus.Histogram
	trainingTotal   *prometheus.CounterVec
	pushTotal       *prometheus.CounterVec
	providerErrors  *prometheus.CounterVec
}

// NewServer creates a new metrics server
func NewServer(logger *logx.Logger) *Server {
	s := &Server{logger: logger}
	s.registerMetrics()
	return s
}

// registerMetrics registers all Prometheus metrics
func (s *Server) registerMetrics() {
	s.riskScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "episense_risk_score",
		Help: "Most recent overall risk estimate (0-1)",
	})
	s.riskConfidence = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "episense_risk_confidence",
		Help: "Confidence of the most recent risk estimate (0-1)",
	})
	s.modelState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "episense_model_state",
		Help: "Personalized model lifecycle state (1 for the active state)",
	}, []string{"state"})
	s.scoringTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "episense_scoring_total",
		Help: "Total scoring calls by prediction source",
	}, []string{"source"})
	s.scoringDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "episense_scoring_duration_seconds",
		Help:    "Duration of scoring calls",
		Buckets: prometheus.DefBuckets,
	})
	s.trainingTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "episense_training_total",
		Help: "Total model training runs by result",
	}, []string{"result"})
	s.pushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "episense_push_total",
		Help: "Total companion push attempts by result",
	}, []string{"result"})
	s.providerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "episense_provider_errors_total",
		Help: "Total provider fetch failures by provider",
	}, []string{"provider"})

	prometheus.MustRegister(
		s.riskScore,
		s.riskConfidence,
		s.modelState,
		s.scoringTotal,
		s.scoringDuration,
		s.trainingTotal,
		s.pushTotal,
		s.providerErrors,
	)
}

// ObserveScore records one completed scoring call.
func (s *Server) ObserveScore(score model.RiskScore, duration time.Duration) {
	s.riskScore.Set(score.OverallRisk)
	s.riskConfidence.Set(score.Confidence)
	s.scoringTotal.WithLabelValues(string(score.Source)).Inc()
	s.scoringDuration.Observe(duration.Seconds())
}

// ObserveModelState marks the current lifecycle state.
func (s *Server) ObserveModelState(state model.ModelState) {
	for _, st := range []model.ModelState{
		model.StateRuleBased, model.StateTraining, model.StateModelActive, model.StateModelFailed,
	} {
		v := 0.0
		if st == state {
			v = 1.0
		}
		s.modelState.WithLabelValues(string(st)).Set(v)
	}
}

// RecordTraining records a training run outcome ("success" or "failure").
func (s *Server) RecordTraining(result string) {
	s.trainingTotal.WithLabelValues(result).Inc()
}

// RecordPush records a companion push outcome.
func (s *Server) RecordPush(result string) {
	s.pushTotal.WithLabelValues(result).Inc()
}

// RecordProviderError records a provider fetch failure.
func (s *Server) RecordProviderError(provider string) {
	s.providerErrors.WithLabelValues(provider).Inc()
}

// Start begins serving metrics on the given address.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.healthHandler)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info("metrics server starting", "addr", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("stopping metrics server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// healthHandler provides a simple health check endpoint
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":%q}`, time.Now().Format(time.RFC3339))
}
