package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records login attempts by result (success|failure|locked|approval_required).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authguard_auth_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"},
	)

	// RiskEvaluations counts risk assessments by resulting level.
	RiskEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authguard_risk_evaluations_total",
			Help: "Total number of risk evaluations",
		},
		[]string{"level"},
	)

	// DeviceDecisions counts device trust decisions (trusted|pending_approval).
	DeviceDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authguard_device_decisions_total",
			Help: "Total number of device trust decisions",
		},
		[]string{"decision"},
	)

	// DeviceApprovals counts approval challenge outcomes (approved|mismatch|max_attempts|invalid|denied).
	DeviceApprovals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authguard_device_approvals_total",
			Help: "Total number of device approval attempts",
		},
		[]string{"result"},
	)

	// Lockouts counts lockouts applied by the brute-force guard (progressive|permanent).
	Lockouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authguard_lockouts_total",
			Help: "Total number of account lockouts",
		},
		[]string{"kind"},
	)

	// RefreshOutcomes counts refresh attempts by result.
	RefreshOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authguard_refresh_total",
			Help: "Total number of refresh token rotations",
		},
		[]string{"result"},
	)

	// DispatchDropped counts events dropped by asynchronous dispatchers because the buffer was full.
	DispatchDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authguard_dispatch_dropped_total",
			Help: "Events dropped by asynchronous dispatchers",
		},
		[]string{"dispatcher"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authguard_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// RateLimited counts requests rejected by the request limiter.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authguard_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)
)
