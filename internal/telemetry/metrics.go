package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsCreated      = prometheus.NewCounter(prometheus.CounterOpts{Name: "animations_created_total", Help: "Animation jobs accepted"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "animations_completed_total", Help: "Animation jobs that produced a video"})
	JobsFailed       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "animations_failed_total", Help: "Animation jobs that failed, by stage"}, []string{"stage"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "animations_rate_limit_rejects_total", Help: "Create requests rejected by rate limiter"})
	MirrorFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "animations_mirror_failures_total", Help: "Artifact uploads to object storage that failed"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "animations_inflight", Help: "Pipeline runs in progress"})
	StageDuration    = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "animations_stage_duration_seconds",
		Help:    "Time spent in each pipeline stage",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})
	RangeRequests = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "animations_video_responses_total", Help: "Video responses by status code"}, []string{"code"})
)

// Register adds the collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			JobsCreated,
			JobsCompleted,
			JobsFailed,
			RateLimitRejects,
			MirrorFailures,
			InFlightGauge,
			StageDuration,
			RangeRequests,
		)
	})
}

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
