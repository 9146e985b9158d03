package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "authsession", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "authsession", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	// AuthOperations counts session operations by name (register, login, rotate, logout, federated) and result (ok, error kind).
	AuthOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "authsession", Name: "auth_operations_total", Help: "Session operations by operation and result."},
		[]string{"op", "result"},
	)
	// RefreshReuseDetected counts presentations of verified refresh tokens that had no active record.
	RefreshReuseDetected = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "authsession", Name: "refresh_reuse_detected_total", Help: "Refresh tokens presented after rotation or revocation."},
	)
	RecordsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "authsession", Name: "refresh_records_swept_total", Help: "Expired refresh records deleted by the janitor."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(AuthOperations)
	reg.MustRegister(RefreshReuseDetected)
	reg.MustRegister(RecordsSwept)
}
