package metricsx

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	upstreamFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoom_page_fetches_total",
			Help: "Upstream page fetches by resource and outcome.",
		},
		[]string{"resource", "outcome"},
	)
	upstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zoom_page_fetch_duration_seconds",
			Help:    "Upstream page fetch latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource"},
	)
	tokenExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoom_token_exchanges_total",
			Help: "OAuth token exchanges by outcome.",
		},
		[]string{"outcome"},
	)
	ingestRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_rows_inserted_total",
			Help: "Rows written by refresh runs, by resource.",
		},
		[]string{"resource"},
	)
	ingestFailedPages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_failed_pages_total",
			Help: "Pages whose bulk insert failed, by resource.",
		},
		[]string{"resource"},
	)
	refreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refresh_duration_seconds",
			Help:    "Refresh run duration in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"resource", "status"},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)

	kafkaLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic and group.",
		},
		[]string{"topic", "group"},
	)

	registerOnce sync.Once
)

// Register is safe to call from every binary and from tests.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpLatency,
			upstreamFetches, upstreamLatency, tokenExchanges,
			ingestRows, ingestFailedPages, refreshDuration,
			influxWriteFailures, asynqQueueDepth, kafkaLag,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		route := r.URL.Path
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, route, status).Inc()
		httpLatency.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func ObserveUpstreamFetch(resource string, outcome string, d time.Duration) {
	upstreamFetches.WithLabelValues(resource, outcome).Inc()
	upstreamLatency.WithLabelValues(resource).Observe(d.Seconds())
}

func IncTokenExchange(outcome string) {
	tokenExchanges.WithLabelValues(outcome).Inc()
}

func AddIngestRows(resource string, n int64) {
	if n > 0 {
		ingestRows.WithLabelValues(resource).Add(float64(n))
	}
}

func IncIngestFailedPage(resource string) {
	ingestFailedPages.WithLabelValues(resource).Inc()
}

func ObserveRefresh(resource string, status string, d time.Duration) {
	refreshDuration.WithLabelValues(resource, status).Observe(d.Seconds())
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaLag.WithLabelValues(topic, group).Set(float64(lag))
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
