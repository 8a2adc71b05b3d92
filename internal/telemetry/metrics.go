package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued      = prometheus.NewCounter(prometheus.CounterOpts{Name: "feebot_jobs_enqueued_total", Help: "Jobs accepted from the webhook producer"})
	JobsCompleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "feebot_jobs_completed_total", Help: "Jobs that finished successfully"})
	JobsRetried       = prometheus.NewCounter(prometheus.CounterOpts{Name: "feebot_jobs_retried_total", Help: "Job attempts that failed and were requeued"})
	JobsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "feebot_jobs_failed_total", Help: "Jobs that exhausted their retry budget"})
	Relogins          = prometheus.NewCounter(prometheus.CounterOpts{Name: "feebot_relogins_total", Help: "Re-logins triggered by observed session expiry"})
	BrowserRelaunches = prometheus.NewCounter(prometheus.CounterOpts{Name: "feebot_browser_relaunches_total", Help: "Browser relaunches after a crashed session"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "feebot_rate_limit_rejects_total", Help: "Webhook requests rejected by the rate limiter"})
	PendingDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "feebot_jobs_pending", Help: "Jobs waiting to be claimed"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "feebot_jobs_inflight", Help: "Jobs currently being executed"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsCompleted,
			JobsRetried,
			JobsFailed,
			Relogins,
			BrowserRelaunches,
			RateLimitRejects,
			PendingDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
