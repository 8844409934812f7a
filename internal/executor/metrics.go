package executor

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	jobsScheduled prometheus.Counter
	jobsExecuted  *prometheus.CounterVec
	retryAttempts *prometheus.CounterVec
	skippedBlocks prometheus.Counter
	lastScanned   prometheus.Gauge
	queueDepth    prometheus.Gauge
}

// NewMetrics registers the executor collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retrans_jobs_scheduled_total",
			Help: "NewJob events scheduled for execution",
		}),
		jobsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retrans_jobs_executed_total",
			Help: "executeJob calls by result",
		}, []string{"result"}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retrans_executor_retry_attempts_total",
			Help: "Retry attempts for executeJob",
		}, []string{"result"}),
		skippedBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retrans_executor_skipped_blocks_total",
			Help: "Blocks skipped because their logs could not be fetched",
		}),
		lastScanned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "retrans_executor_last_scanned_block",
			Help: "Last block scanned for NewJob events",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "retrans_executor_queue_depth",
			Help: "Jobs waiting for their execution time",
		}),
	}
	reg.MustRegister(m.jobsScheduled, m.jobsExecuted, m.retryAttempts, m.skippedBlocks, m.lastScanned, m.queueDepth)
	return m
}

func (m *Metrics) incScheduled() {
	if m != nil {
		m.jobsScheduled.Inc()
	}
}

func (m *Metrics) incExecuted(result string) {
	if m != nil {
		m.jobsExecuted.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) incRetry(result string) {
	if m != nil {
		m.retryAttempts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) incSkipped() {
	if m != nil {
		m.skippedBlocks.Inc()
	}
}

func (m *Metrics) setLastScanned(block uint64) {
	if m != nil {
		m.lastScanned.Set(float64(block))
	}
}

func (m *Metrics) setQueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}
