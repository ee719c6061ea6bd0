package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

var (
	FunnelTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_transitions_total",
			Help: "Step transitions by flow, direction and outcome",
		},
		[]string{"flow", "direction", "outcome"},
	)

	FunnelSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_submissions_total",
			Help: "Submitted funnels by flow and result",
		},
		[]string{"flow", "result"},
	)

	FunnelStorageWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_storage_warnings_total",
			Help: "Sessions downgraded to memory-only persistence",
		},
		[]string{"flow"},
	)

	FunnelSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "funnel_sessions_active",
			Help: "Funnel sessions currently held in memory",
		},
	)

	ReferralsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referrals_routed_total",
			Help: "Referral routing decisions by partner and status",
		},
		[]string{"partner", "status"},
	)

	ReferralSigningFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_signing_failures_total",
			Help: "Referrals that could not be signed",
		},
		[]string{"partner"},
	)

	AuditWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_audit_write_failures_total",
			Help: "Failed writes to the referral audit log or its mirror",
		},
		[]string{"backend"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route pattern, method and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)
