package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	supplierRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplier_api_requests_total",
			Help: "Total number of outbound supplier API requests.",
		},
		[]string{"endpoint", "status"},
	)
	supplierRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supplier_api_request_duration_seconds",
			Help:    "Histogram of supplier API request durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"endpoint", "status"},
	)
	supplierRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supplier_api_retries_total",
			Help: "Total number of retries caused by supplier rate limiting.",
		},
	)
	supplierCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplier_api_cache_total",
			Help: "Supplier response cache lookups by result.",
		},
		[]string{"result"},
	)
	syncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplier_sync_runs_total",
			Help: "Total number of synchronization runs.",
		},
		[]string{"job", "status"},
	)
	syncRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supplier_sync_run_duration_seconds",
			Help:    "Histogram of synchronization run durations.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"job"},
	)
	syncEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplier_sync_entries_total",
			Help: "Catalog entries touched by synchronization runs, by result.",
		},
		[]string{"job", "result"},
	)
	jobOverdue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supplier_sync_job_overdue",
			Help: "Whether a job is overdue per the current schedule policy (1 = overdue).",
		},
		[]string{"job"},
	)
)

func init() {
	prometheus.MustRegister(supplierRequestsTotal)
	prometheus.MustRegister(supplierRequestDuration)
	prometheus.MustRegister(supplierRetriesTotal)
	prometheus.MustRegister(supplierCacheTotal)
	prometheus.MustRegister(syncRunsTotal)
	prometheus.MustRegister(syncRunDuration)
	prometheus.MustRegister(syncEntriesTotal)
	prometheus.MustRegister(jobOverdue)
}

// RecordSupplierRequest записывает метрики одного обращения к API поставщика.
func RecordSupplierRequest(endpoint string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	supplierRequestsTotal.WithLabelValues(endpoint, status).Inc()
	supplierRequestDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

// RecordSupplierRetry учитывает повтор вызова после ответа о превышении лимита.
func RecordSupplierRetry() {
	supplierRetriesTotal.Inc()
}

// RecordCacheLookup учитывает обращение к кэшу ответов поставщика.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	supplierCacheTotal.WithLabelValues(result).Inc()
}

// RecordSyncRun записывает метрики завершившегося запуска синхронизации.
func RecordSyncRun(job, status string, duration time.Duration) {
	syncRunsTotal.WithLabelValues(job, status).Inc()
	syncRunDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordSyncEntries учитывает обработанные карточки каталога.
func RecordSyncEntries(job string, updated, failed int) {
	syncEntriesTotal.WithLabelValues(job, "updated").Add(float64(updated))
	syncEntriesTotal.WithLabelValues(job, "failed").Add(float64(failed))
}

// SetJobOverdue выставляет флаг просроченности задания.
func SetJobOverdue(job string, overdue bool) {
	v := 0.0
	if overdue {
		v = 1.0
	}
	jobOverdue.WithLabelValues(job).Set(v)
}

// classifyStatus классифицирует HTTP-статус код в строку.
func classifyStatus(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "2xx"
	} else if statusCode >= 300 && statusCode < 400 {
		return "3xx"
	} else if statusCode >= 400 && statusCode < 500 {
		return "4xx"
	} else if statusCode >= 500 && statusCode < 600 {
		return "5xx"
	}
	return "unknown"
}

// MetricsHandler возвращает HTTP-обработчик для экспорта метрик Prometheus.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
