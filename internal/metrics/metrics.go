package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OpenTraceLab/OpenTraceMKII/pkg/mkii"
)

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler serving reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ProbeMetrics counts protocol traffic. It implements mkii.Observer.
type ProbeMetrics struct {
	FramesSent     *prometheus.CounterVec // labels: op
	FramesReceived *prometheus.CounterVec // labels: code
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter
	ReceiveErrors  *prometheus.CounterVec // labels: class
	RoundTrip      prometheus.Histogram
	WatchChanges   prometheus.Counter
}

var _ mkii.Observer = (*ProbeMetrics)(nil)

// NewProbeMetrics registers and returns the probe metrics.
func NewProbeMetrics(reg prometheus.Registerer) *ProbeMetrics {
	m := &ProbeMetrics{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mkii_frames_sent_total",
			Help: "Command frames written to the probe.",
		}, []string{"op"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mkii_frames_received_total",
			Help: "Reply frames decoded from the probe.",
		}, []string{"code"}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mkii_bytes_sent_total",
			Help: "Framed bytes written to the probe.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mkii_bytes_received_total",
			Help: "Framed bytes of decoded replies.",
		}),
		ReceiveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mkii_receive_errors_total",
			Help: "Failed receives by error class.",
		}, []string{"class"}),
		RoundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mkii_round_trip_seconds",
			Help:    "Time from command write to decoded reply.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		WatchChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mkii_watch_changes_total",
			Help: "Memory changes seen by the watch command.",
		}),
	}
	reg.MustRegister(m.FramesSent, m.FramesReceived, m.BytesSent, m.BytesReceived, m.ReceiveErrors, m.RoundTrip, m.WatchChanges)
	return m
}

func (m *ProbeMetrics) FrameSent(op mkii.Opcode, size int) {
	m.FramesSent.WithLabelValues(op.String()).Inc()
	m.BytesSent.Add(float64(size))
}

func (m *ProbeMetrics) FrameReceived(code mkii.ReplyCode, size int, rtt time.Duration) {
	m.FramesReceived.WithLabelValues(code.String()).Inc()
	m.BytesReceived.Add(float64(size))
	m.RoundTrip.Observe(rtt.Seconds())
}

func (m *ProbeMetrics) ReceiveFailed(class mkii.ErrorClass) {
	m.ReceiveErrors.WithLabelValues(class.String()).Inc()
}
