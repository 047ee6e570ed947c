// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idgate_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idgate_login_attempts_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)

	OTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idgate_otp_requests_total",
			Help: "Password reset OTP requests by result.",
		},
		[]string{"result"},
	)

	VerificationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idgate_verification_decisions_total",
			Help: "Admin verification decisions that changed a user's state.",
		},
		[]string{"decision"},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idgate_notification_failures_total",
			Help: "Mail notifications that could not be delivered.",
		},
		[]string{"kind"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idgate_rate_limited_requests_total",
			Help: "Requests rejected by the per-IP rate limiter.",
		},
	)
)
