package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"retrans/internal/configuration"
)

// Metrics owns the private registry shared by the API and the executor.
type Metrics struct {
	registry         *prometheus.Registry
	submissionsTotal *prometheus.CounterVec
	stagesTotal      *prometheus.CounterVec
	stepFailures     *prometheus.CounterVec
	requestsTotal    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retrans_submissions_total",
		Help: "Transfer submissions by outcome",
	}, []string{"status"})

	stages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retrans_saga_stages_total",
		Help: "Submission saga stage transitions",
	}, []string{"stage"})

	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retrans_saga_step_failures_total",
		Help: "Failed saga steps by step and error kind",
	}, []string{"step", "kind"})

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retrans_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})

	r := prometheus.NewRegistry()
	r.MustRegister(submissions, stages, failures, requests)

	return &Metrics{
		registry:         r,
		submissionsTotal: submissions,
		stagesTotal:      stages,
		stepFailures:     failures,
		requestsTotal:    requests,
	}
}

// Registerer lets other components add collectors to the same registry.
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.registry
}

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) incSubmission(status string) {
	m.submissionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) incRequest(route, code string) {
	m.requestsTotal.WithLabelValues(route, code).Inc()
}

// ObserveStage matches configuration.Options.OnStage.
func (m *Metrics) ObserveStage(stage configuration.Stage, stepErr *configuration.StepError) {
	m.stagesTotal.WithLabelValues(string(stage)).Inc()
	if stepErr != nil {
		m.stepFailures.WithLabelValues(stepErr.Step, stepErr.Kind.String()).Inc()
	}
}
