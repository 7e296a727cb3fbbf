// Package metrics instruments calls to the remote key services.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	callDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Name: "kms_signer_remote_call_duration_seconds",
		Help: "Remote key service call duration summary in seconds.",
	}, []string{"call"})
	callRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kms_signer_remote_retries_total",
		Help: "Number of retried remote key service calls.",
	}, []string{"call"})
	callFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kms_signer_remote_failures_total",
		Help: "Number of failed remote key service calls by error class.",
	}, []string{"call", "class"})
)

func init() {
	prometheus.MustRegister(callDuration)
	prometheus.MustRegister(callRetries)
	prometheus.MustRegister(callFailures)
}

// LogCallDuration records how long one attempt of a remote call took.
func LogCallDuration(call string, begin time.Time) {
	callDuration.WithLabelValues(call).Observe(time.Since(begin).Seconds())
}

// LogRetry counts a retry of a transient remote failure.
func LogRetry(call string) {
	callRetries.WithLabelValues(call).Inc()
}

// LogFailure counts a remote call that failed for good.
func LogFailure(call, class string) {
	callFailures.WithLabelValues(call, class).Inc()
}
