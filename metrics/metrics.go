// Package metrics exports Prometheus counters/gauges/histograms for a
// running RTP session: packets/bytes sent and received, jitter, loss
// fraction, and RTX success ratio, the teardown statistics named in
// spec §7. It generalizes the teacher's SIP-dialog metrics collector
// (pkg/dialog/metrics.go) from dialog lifecycle counters to per-session
// media transport counters.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/xid"
)

// Config controls metric namespacing, mirroring the teacher's
// MetricsConfig (Namespace/Subsystem/Enabled).
type Config struct {
	Enabled   bool
	Namespace string
	Subsystem string
	Registry  prometheus.Registerer
}

// DefaultConfig returns the default namespace/subsystem pair.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Namespace: "rtpcore",
		Subsystem: "session",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector is one session's metrics sink. A disabled Collector (Enabled:
// false) makes every method a no-op, so callers never need to branch on
// whether metrics are configured.
type Collector struct {
	enabled bool

	sessionID string

	packetsSent     prometheus.Counter
	packetsReceived prometheus.Counter
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter

	jitterMillis  prometheus.Gauge
	lossFraction  prometheus.Gauge

	rtxSent       prometheus.Counter
	rtxRecovered  prometheus.Counter
	rtxLate       prometheus.Counter
	rtxCancelled  prometheus.Counter

	feedbackByType *prometheus.CounterVec

	// Fast-path atomics, read by Snapshot without touching Prometheus'
	// internal locking.
	totalPacketsSent     int64
	totalPacketsReceived int64
	totalBytesSent       int64
	totalBytesReceived   int64
	totalRtxSent         int64
	totalRtxRecovered    int64
}

// New builds a Collector for one session, registering its metrics against
// cfg.Registry with a constant "session_id" label so per-session series
// stay distinguishable without exploding cardinality across arbitrary
// dimensions. sessionID may be empty, in which case a compact xid is
// generated.
func New(cfg Config, sessionID string) *Collector {
	if !cfg.Enabled {
		return &Collector{enabled: false}
	}
	if sessionID == "" {
		sessionID = xid.New().String()
	}

	factory := promauto.With(cfg.Registry)
	labels := prometheus.Labels{"session_id": sessionID}

	c := &Collector{
		enabled:   true,
		sessionID: sessionID,
		packetsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "packets_sent_total",
			Help:        "Total number of RTP packets sent.",
			ConstLabels: labels,
		}),
		packetsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "packets_received_total",
			Help:        "Total number of RTP packets received.",
			ConstLabels: labels,
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "bytes_sent_total",
			Help:        "Total number of RTP packet bytes (header and payload) sent.",
			ConstLabels: labels,
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "bytes_received_total",
			Help:        "Total number of RTP packet bytes (header and payload) received.",
			ConstLabels: labels,
		}),
		jitterMillis: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "jitter_milliseconds",
			Help:        "Most recently observed interarrival jitter estimate.",
			ConstLabels: labels,
		}),
		lossFraction: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "loss_fraction",
			Help:        "Fraction of packets lost in the most recent reporting interval, in [0,1].",
			ConstLabels: labels,
		}),
		rtxSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "rtx_sent_total",
			Help:        "Total number of retransmission packets sent.",
			ConstLabels: labels,
		}),
		rtxRecovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "rtx_recovered_total",
			Help:        "Total number of retransmissions that successfully recovered a lost packet.",
			ConstLabels: labels,
		}),
		rtxLate: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "rtx_late_total",
			Help:        "Total number of retransmissions that arrived after their packet had already been played out or re-requested.",
			ConstLabels: labels,
		}),
		rtxCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "rtx_cancelled_total",
			Help:        "Total number of pending retransmission requests cancelled by a loss-detector false positive.",
			ConstLabels: labels,
		}),
		feedbackByType: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "feedback_generated_total",
			Help:        "Total number of feedback reports generated, by type.",
			ConstLabels: labels,
		}, []string{"type"}),
	}
	return c
}

// SessionID returns the session_id label value this Collector was built
// with (including one auto-generated by New when the caller passed "").
func (c *Collector) SessionID() string { return c.sessionID }

// PacketSent records one outgoing RTP packet of n payload+header bytes.
func (c *Collector) PacketSent(n int) {
	if !c.enabled {
		return
	}
	c.packetsSent.Inc()
	c.bytesSent.Add(float64(n))
	atomic.AddInt64(&c.totalPacketsSent, 1)
	atomic.AddInt64(&c.totalBytesSent, int64(n))
}

// PacketReceived records one incoming RTP packet of n payload+header bytes.
func (c *Collector) PacketReceived(n int) {
	if !c.enabled {
		return
	}
	c.packetsReceived.Inc()
	c.bytesReceived.Add(float64(n))
	atomic.AddInt64(&c.totalPacketsReceived, 1)
	atomic.AddInt64(&c.totalBytesReceived, int64(n))
}

// SetJitter publishes the latest jitter estimate, in milliseconds.
func (c *Collector) SetJitter(ms float64) {
	if !c.enabled {
		return
	}
	c.jitterMillis.Set(ms)
}

// SetLossFraction publishes the fraction of packets lost in [0,1] over
// the most recent reporting interval.
func (c *Collector) SetLossFraction(fraction float64) {
	if !c.enabled {
		return
	}
	c.lossFraction.Set(fraction)
}

// RtxSent records one retransmission packet sent.
func (c *Collector) RtxSent() {
	if !c.enabled {
		return
	}
	c.rtxSent.Inc()
	atomic.AddInt64(&c.totalRtxSent, 1)
}

// RtxRecovered records one retransmission that successfully recovered a
// lost packet (process_retransmission completed before the jitter buffer
// needed it).
func (c *Collector) RtxRecovered() {
	if !c.enabled {
		return
	}
	c.rtxRecovered.Inc()
	atomic.AddInt64(&c.totalRtxRecovered, 1)
}

// RtxLate records one retransmission that arrived too late to be useful.
func (c *Collector) RtxLate() {
	if !c.enabled {
		return
	}
	c.rtxLate.Inc()
}

// RtxCancelled records one pending retransmission cancelled by a
// false-positive loss-detector callback.
func (c *Collector) RtxCancelled() {
	if !c.enabled {
		return
	}
	c.rtxCancelled.Inc()
}

// FeedbackGenerated records one compound RTCP feedback report of the given
// kind ("nack", "ack", "extended-nack", "scream", "nada", "goog-remb").
func (c *Collector) FeedbackGenerated(kind string) {
	if !c.enabled {
		return
	}
	c.feedbackByType.WithLabelValues(kind).Inc()
}

// Snapshot is a point-in-time read of the fast-path counters, suitable for
// the §7 user-visible teardown statistics without touching Prometheus
// internals.
type Snapshot struct {
	PacketsSent     int64
	PacketsReceived int64
	BytesSent       int64
	BytesReceived   int64
	RtxSent         int64
	RtxRecovered    int64
}

// RtxSuccessRatio is RtxRecovered/RtxSent, or 0 when no RTX was ever sent.
func (s Snapshot) RtxSuccessRatio() float64 {
	if s.RtxSent == 0 {
		return 0
	}
	return float64(s.RtxRecovered) / float64(s.RtxSent)
}

// Snapshot returns the current fast-path counter values.
func (c *Collector) Snapshot() Snapshot {
	if !c.enabled {
		return Snapshot{}
	}
	return Snapshot{
		PacketsSent:     atomic.LoadInt64(&c.totalPacketsSent),
		PacketsReceived: atomic.LoadInt64(&c.totalPacketsReceived),
		BytesSent:       atomic.LoadInt64(&c.totalBytesSent),
		BytesReceived:   atomic.LoadInt64(&c.totalBytesReceived),
		RtxSent:         atomic.LoadInt64(&c.totalRtxSent),
		RtxRecovered:    atomic.LoadInt64(&c.totalRtxRecovered),
	}
}
