package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carbontrail", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carbontrail", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	AuthOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carbontrail", Name: "auth_operations_total", Help: "Authentication operations by operation and outcome."},
		[]string{"op", "outcome"},
	)
	ProfilesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "carbontrail", Name: "profiles_created_total", Help: "Default profiles created on first read."},
	)
	AvatarUploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carbontrail", Name: "avatar_uploads_total", Help: "Avatar uploads by outcome."},
		[]string{"outcome"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(AuthOperations)
	reg.MustRegister(ProfilesCreated)
	reg.MustRegister(AvatarUploads)
}

// Outcome maps an error to the outcome label used by the counters above.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
