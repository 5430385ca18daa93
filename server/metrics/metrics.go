// Package metrics holds the prometheus counters of the sensor rig.
// A nil *Metrics is valid, and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sensorrig"

// Reasons for rejecting a frame
const (
	RejectGeometry = "geometry"
	RejectDecode   = "decode"
)

// Classes of video sink errors
const (
	SinkErrorGeometry = "geometry"
	SinkErrorOpen     = "open"
	SinkErrorWrite    = "write"
	SinkErrorFatal    = "fatal"
	SinkErrorClosed   = "closed"
)

type Metrics struct {
	framesReceived    *prometheus.CounterVec // role, kind
	framesRejected    *prometheus.CounterVec // role, kind, reason
	bufferedFrames    *prometheus.GaugeVec   // role, kind
	staleCallbacks    prometheus.Counter
	callbackPanics    prometheus.Counter
	compositesEmitted prometheus.Counter
	sinkFramesWritten prometheus.Counter
	sinkErrors        *prometheus.CounterVec // class
	encodeDuration    prometheus.Histogram
}

// New creates the rig metrics and registers them with reg.
// If reg is nil, the metrics are created but not registered anywhere.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "frames_received_total",
			Help:      "Frames appended to a device's frame buffer",
		}, []string{"role", "kind"}),
		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "frames_rejected_total",
			Help:      "Images from the engine that could not be turned into a frame",
		}, []string{"role", "kind", "reason"}),
		bufferedFrames: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "buffered_frames",
			Help:      "Frames currently held in a device's frame buffer",
		}, []string{"role", "kind"}),
		staleCallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rig",
			Name:      "stale_callbacks_total",
			Help:      "Engine callbacks that arrived after the rig began shutting down",
		}),
		callbackPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rig",
			Name:      "callback_panics_total",
			Help:      "Panics recovered inside engine callbacks",
		}),
		compositesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rig",
			Name:      "composites_total",
			Help:      "Composite frames handed to the video sink",
		}),
		sinkFramesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "frames_written_total",
			Help:      "Frames successfully written to the video encoder",
		}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Video sink failures",
		}, []string{"class"}),
		encodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "encode_duration_seconds",
			Help:      "Time taken to hand one composite frame to the encoder",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
	}
	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.framesReceived,
		m.framesRejected,
		m.bufferedFrames,
		m.staleCallbacks,
		m.callbackPanics,
		m.compositesEmitted,
		m.sinkFramesWritten,
		m.sinkErrors,
		m.encodeDuration,
	}
}

func (m *Metrics) FrameReceived(role, kind string, buffered int) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(role, kind).Inc()
	m.bufferedFrames.WithLabelValues(role, kind).Set(float64(buffered))
}

func (m *Metrics) FrameRejected(role, kind, reason string) {
	if m == nil {
		return
	}
	m.framesRejected.WithLabelValues(role, kind, reason).Inc()
}

func (m *Metrics) StaleCallback() {
	if m == nil {
		return
	}
	m.staleCallbacks.Inc()
}

func (m *Metrics) CallbackPanic() {
	if m == nil {
		return
	}
	m.callbackPanics.Inc()
}

func (m *Metrics) CompositeEmitted() {
	if m == nil {
		return
	}
	m.compositesEmitted.Inc()
}

func (m *Metrics) SinkFrameWritten(encodeTime time.Duration) {
	if m == nil {
		return
	}
	m.sinkFramesWritten.Inc()
	m.encodeDuration.Observe(encodeTime.Seconds())
}

func (m *Metrics) SinkError(class string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(class).Inc()
}
