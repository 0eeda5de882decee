package video

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	framesAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imager",
		Name:      "frames_acquired_total",
		Help:      "Frames read from the source and enqueued.",
	})
	framesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imager",
		Name:      "frames_skipped_total",
		Help:      "Frames skipped after a transient failure, by stage.",
	}, []string{"stage"})
	framesAbandoned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imager",
		Name:      "frames_abandoned_total",
		Help:      "Frames acquired but never enqueued because acquisition was interrupted.",
	})
	framesDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imager",
		Name:      "frames_discarded_total",
		Help:      "Frames dequeued but not written because the writer failed or was aborted.",
	})
	framesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imager",
		Name:      "frames_written_total",
		Help:      "Frames appended to the output container.",
	})
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "imager",
		Name:      "queue_depth",
		Help:      "Items waiting between acquisition and writer.",
	})
	writeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "imager",
		Name:      "frame_write_seconds",
		Help:      "Time to convert and append one frame.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
)

func init() {
	prometheus.MustRegister(
		framesAcquired,
		framesSkipped,
		framesAbandoned,
		framesDiscarded,
		framesWritten,
		queueDepth,
		writeSeconds,
	)
}
