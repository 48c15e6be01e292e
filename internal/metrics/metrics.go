package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invtrack_http_requests_total",
		Help: "HTTP requests by method, route template and status code.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invtrack_http_request_duration_seconds",
		Help:    "HTTP request latency by route template.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	SnapshotSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invtrack_snapshot_saves_total",
		Help: "Monthly snapshot save attempts by result (ok, note_missing, error).",
	}, []string{"result"})

	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invtrack_record_submissions_total",
		Help: "Accepted count submissions by kind (record, spot).",
	}, []string{"kind"})
)
