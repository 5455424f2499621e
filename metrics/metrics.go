package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OutputRecordsCommitted counts documents committed by all writers
	OutputRecordsCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tqpump_output_records_committed_total",
			Help: "Total number of documents committed to the store",
		},
	)

	// OutputRecordsFailed counts documents that could not be written
	OutputRecordsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tqpump_output_records_failed_total",
			Help: "Total number of documents that failed to load",
		},
	)

	// BatchSize tracks the number of documents per submitted request by partition
	BatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tqpump_batch_size",
			Help:    "Number of documents per transform request",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"partition"},
	)

	// BatchLatency tracks request submission latency by partition
	BatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tqpump_batch_latency_seconds",
			Help:    "Transform request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"partition"},
	)

	// Requests counts submitted requests by partition and outcome
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tqpump_requests_total",
			Help: "Total transform requests submitted",
		},
		[]string{"partition", "outcome"},
	)

	// Commits counts transaction commits by partition and outcome
	Commits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tqpump_commits_total",
			Help: "Total transaction commits",
		},
		[]string{"partition", "outcome"},
	)

	// SessionsOpened counts sessions opened by host
	SessionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tqpump_sessions_opened_total",
			Help: "Total sessions opened against the store",
		},
		[]string{"host"},
	)

	once sync.Once
)

// Init registers all metrics with Prometheus
func Init() {
	once.Do(func() {
		prometheus.MustRegister(OutputRecordsCommitted)
		prometheus.MustRegister(OutputRecordsFailed)
		prometheus.MustRegister(BatchSize)
		prometheus.MustRegister(BatchLatency)
		prometheus.MustRegister(Requests)
		prometheus.MustRegister(Commits)
		prometheus.MustRegister(SessionsOpened)
	})
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// JobCounters aggregates the committed and failed document counts of all
// writers of a job. Writers running in sibling goroutines may add to it
// concurrently.
type JobCounters struct {
	committed atomic.Int64
	failed    atomic.Int64
}

// AddCommitted adds n committed documents
func (c *JobCounters) AddCommitted(n int64) {
	c.committed.Add(n)
	OutputRecordsCommitted.Add(float64(n))
}

// AddFailed adds n failed documents
func (c *JobCounters) AddFailed(n int64) {
	c.failed.Add(n)
	OutputRecordsFailed.Add(float64(n))
}

// Committed returns the committed document count
func (c *JobCounters) Committed() int64 {
	return c.committed.Load()
}

// Failed returns the failed document count
func (c *JobCounters) Failed() int64 {
	return c.failed.Load()
}
