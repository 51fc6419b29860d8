package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallout_upstream_api_calls_total",
			Help: "Total upstream API calls (Open-Meteo, eBird)",
		},
		[]string{"source", "status"},
	)

	UpstreamAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fallout_upstream_api_latency_seconds",
			Help:    "Upstream API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	PredictionsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallout_predictions_generated_total",
			Help: "Daily predictions generated, by score label",
		},
		[]string{"label"},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallout_cache_requests_total",
			Help: "Forecast cache lookups by backend and result",
		},
		[]string{"backend", "result"},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fallout_refresh_duration_seconds",
			Help:    "Duration of a full scheduled prediction refresh",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	RegionsRefreshed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallout_regions_refreshed_total",
			Help: "Region refreshes by outcome",
		},
		[]string{"outcome"},
	)
)
