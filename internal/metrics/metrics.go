package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocontent_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "videocontent_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Upload Metrics
	VideoUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocontent_video_uploads_total",
			Help: "Total number of video uploads by outcome",
		},
		[]string{"outcome"},
	)

	VideoUploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "videocontent_video_upload_size_bytes",
			Help:    "Size of uploaded videos in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 10), // 1MB to 512MB
		},
	)

	// Job Metrics
	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocontent_jobs_enqueued_total",
			Help: "Total number of processing jobs enqueued",
		},
		[]string{"job_type"},
	)

	JobTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocontent_job_transitions_total",
			Help: "Total number of job status transitions",
		},
		[]string{"job_type", "from", "to"},
	)

	JobRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocontent_job_retries_total",
			Help: "Total number of automatic and manual job retries",
		},
		[]string{"job_type", "mode"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "videocontent_jobs_in_progress",
			Help: "Number of jobs currently being processed",
		},
	)

	JobsQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "videocontent_jobs_queue_depth",
			Help: "Number of jobs waiting in queue",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "videocontent_job_duration_seconds",
			Help:    "Job processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
		[]string{"job_type", "outcome"},
	)

	JobsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "videocontent_jobs_reaped_total",
			Help: "Total number of jobs force-failed after exceeding the processing timeout",
		},
	)

	// Worker Metrics
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "videocontent_workers_active",
			Help: "Number of workers currently executing a job",
		},
	)

	HandlerPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocontent_handler_panics_total",
			Help: "Total number of recovered job handler panics",
		},
		[]string{"job_type"},
	)

	// Workflow Metrics
	WorkflowTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocontent_workflow_transitions_total",
			Help: "Total number of editorial workflow transitions",
		},
		[]string{"from", "to"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocontent_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "videocontent_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocontent_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocontent_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Webhook Metrics
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocontent_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"outcome"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocontent_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordUpload records an upload attempt and, when accepted, its size
func RecordUpload(outcome string, size int64) {
	VideoUploadsTotal.WithLabelValues(outcome).Inc()
	if outcome == "accepted" {
		VideoUploadSizeBytes.Observe(float64(size))
	}
}

// RecordJobEnqueued records a job creation
func RecordJobEnqueued(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

// RecordJobTransition records a job status change
func RecordJobTransition(jobType, from, to string) {
	JobTransitionsTotal.WithLabelValues(jobType, from, to).Inc()
}

// RecordJobRetry records a retry; mode is "automatic" or "manual"
func RecordJobRetry(jobType, mode string) {
	JobRetriesTotal.WithLabelValues(jobType, mode).Inc()
}

// RecordJobFinished records how long a job attempt ran
func RecordJobFinished(jobType, outcome string, duration float64) {
	JobDuration.WithLabelValues(jobType, outcome).Observe(duration)
}

// UpdateJobMetrics updates current job metrics
func UpdateJobMetrics(inProgress, queueDepth int) {
	JobsInProgress.Set(float64(inProgress))
	JobsQueueDepth.Set(float64(queueDepth))
}

// RecordWorkflowTransition records an editorial status change
func RecordWorkflowTransition(from, to string) {
	WorkflowTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordWebhookDelivery records a delivery attempt; outcome is
// "delivered", "retrying", "failed" or "dropped"
func RecordWebhookDelivery(outcome string) {
	WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
