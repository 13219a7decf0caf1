// Package metrics provides Prometheus metrics for chunk I/O.
//
// Metrics are optional. Components receive a Recorder; when none is
// configured they use Noop, which has zero overhead.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder observes chunk-level activity.
type Recorder interface {
	// ObserveChunkRead records one chunk fetch and decode. bytes is the
	// stored (encoded) size.
	ObserveChunkRead(backend string, bytes int, duration time.Duration, err error)

	// ObserveChunkWrite records one chunk encode and store. bytes is the
	// stored (encoded) size.
	ObserveChunkWrite(backend string, bytes int, duration time.Duration, err error)

	// ObserveCache records a decoded-chunk cache lookup.
	ObserveCache(hit bool)

	// ObserveOpen records a backend open.
	ObserveOpen(backend string, err error)
}

// Noop discards everything.
type Noop struct{}

func (Noop) ObserveChunkRead(string, int, time.Duration, error)  {}
func (Noop) ObserveChunkWrite(string, int, time.Duration, error) {}
func (Noop) ObserveCache(bool)                                   {}
func (Noop) ObserveOpen(string, error)                           {}

var durationBuckets = []float64{
	0.0001, // 100µs
	0.0005, // 500µs
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.5,    // 500ms
	1,      // 1s
	5,      // 5s
}

type promRecorder struct {
	chunkOps      *prometheus.CounterVec
	chunkDuration *prometheus.HistogramVec
	chunkBytes    *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	opens         *prometheus.CounterVec
}

// Collectors register once per registerer; opening many images against the
// same registry shares one set.
var (
	recordersMu sync.Mutex
	recorders   = make(map[prometheus.Registerer]*promRecorder)
)

// New returns a Recorder registered with reg. A nil reg returns Noop.
func New(reg prometheus.Registerer) Recorder {
	if reg == nil {
		return Noop{}
	}
	recordersMu.Lock()
	defer recordersMu.Unlock()

	if r, ok := recorders[reg]; ok {
		return r
	}

	r := &promRecorder{
		chunkOps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfio_chunk_operations_total",
				Help: "Total number of chunk operations",
			},
			[]string{"backend", "op", "status"},
		),
		chunkDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bfio_chunk_duration_seconds",
				Help:    "Duration of chunk operations in seconds",
				Buckets: durationBuckets,
			},
			[]string{"backend", "op"},
		),
		chunkBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfio_chunk_bytes_total",
				Help: "Total stored (encoded) bytes moved through chunk operations",
			},
			[]string{"backend", "op"},
		),
		cacheLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfio_chunk_cache_lookups_total",
				Help: "Decoded chunk cache lookups",
			},
			[]string{"result"},
		),
		opens: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfio_opens_total",
				Help: "Total number of backend opens",
			},
			[]string{"backend", "status"},
		),
	}
	recorders[reg] = r
	return r
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (r *promRecorder) observe(backend, op string, bytes int, duration time.Duration, err error) {
	r.chunkOps.WithLabelValues(backend, op, status(err)).Inc()
	r.chunkDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
	if err == nil {
		r.chunkBytes.WithLabelValues(backend, op).Add(float64(bytes))
	}
}

func (r *promRecorder) ObserveChunkRead(backend string, bytes int, duration time.Duration, err error) {
	r.observe(backend, "read", bytes, duration, err)
}

func (r *promRecorder) ObserveChunkWrite(backend string, bytes int, duration time.Duration, err error) {
	r.observe(backend, "write", bytes, duration, err)
}

func (r *promRecorder) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

func (r *promRecorder) ObserveOpen(backend string, err error) {
	r.opens.WithLabelValues(backend, status(err)).Inc()
}
