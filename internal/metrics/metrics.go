// Package metrics exposes the engine's Prometheus instrumentation: device
// IO operation counts, block-cache hit/miss counts, and per-VFS-operation
// counters, registered against the default registry and served via
// promhttp the way gcsfuse exports its GCS request counters (gcsfuse's
// common/oc_metrics.go FSOp/CacheHit dimensions, ground truth for the
// label names used here, reimplemented directly on client_golang rather
// than through an opencensus exporter).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// DeviceOps counts raw block-device operations by kind: "read",
	// "write", "seek".
	DeviceOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ext2fuse",
		Subsystem: "device",
		Name:      "ops_total",
		Help:      "Total raw block-device operations, by kind.",
	}, []string{"op"})

	// CacheEvents counts C2 cache lookups by outcome: "hit" or "miss".
	CacheEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ext2fuse",
		Subsystem: "cache",
		Name:      "events_total",
		Help:      "Block cache lookups, by outcome.",
	}, []string{"result"})

	// FSOps counts VFS-shaped namespace operations dispatched through the
	// host adapter, by operation name and outcome ("ok" or "error"),
	// mirroring gcsfuse's FSOp/FSErrCategory dimensions.
	FSOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ext2fuse",
		Subsystem: "fs",
		Name:      "ops_total",
		Help:      "Filesystem operations dispatched by the host adapter, by op and outcome.",
	}, []string{"op", "result"})
)

func init() {
	prometheus.MustRegister(DeviceOps, CacheEvents, FSOps)
}

// RecordDeviceOp increments the DeviceOps counter for op.
func RecordDeviceOp(op string) { DeviceOps.WithLabelValues(op).Inc() }

// RecordCacheHit increments the cache-hit counter.
func RecordCacheHit() { CacheEvents.WithLabelValues("hit").Inc() }

// RecordCacheMiss increments the cache-miss counter.
func RecordCacheMiss() { CacheEvents.WithLabelValues("miss").Inc() }

// RecordFSOp increments FSOps for op, labeling the outcome "error" when err
// is non-nil and "ok" otherwise.
func RecordFSOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	FSOps.WithLabelValues(op, result).Inc()
}
