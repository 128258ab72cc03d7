package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the colf server.
type Metrics struct {
	ColumnsDecoded      prometheus.Counter
	CompressedBytesRead prometheus.Counter
	Errors              *prometheus.CounterVec
	HeaderCacheHits     prometheus.Counter
	HeaderCacheMisses   prometheus.Counter
	RequestDuration     *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	columnsDecoded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "colf_columns_decoded_total",
		Help: "Total column blocks decoded",
	})

	bytesRead := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "colf_compressed_bytes_read_total",
		Help: "Total compressed column bytes read from disk",
	})

	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "colf_errors_total",
		Help: "Total request errors by kind",
	}, []string{"kind"})

	hits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "colf_header_cache_hits_total",
		Help: "Header cache hits",
	})

	misses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "colf_header_cache_misses_total",
		Help: "Header cache misses",
	})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "colf_request_duration_seconds",
		Help:    "HTTP request duration by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "code"})

	reg.MustRegister(columnsDecoded, bytesRead, errs, hits, misses, duration)

	return &Metrics{
		ColumnsDecoded:      columnsDecoded,
		CompressedBytesRead: bytesRead,
		Errors:              errs,
		HeaderCacheHits:     hits,
		HeaderCacheMisses:   misses,
		RequestDuration:     duration,
	}
}
