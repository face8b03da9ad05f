// Package metrics implements the prometheus.Collector the core's dataplane
// packages push counters and gauges into at runtime.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/netscream/audiorouter/internal/sink"
)

// Collector is a prometheus.Collector fed synchronously by ingress receivers,
// sink mixers, network senders, and MP3 side-streams as events happen, rather
// than pulled from a provider at scrape time — counters and gauges are held
// directly and Collect just drains them.
type Collector struct {
	startTime time.Time

	packetsReceived  *prometheus.CounterVec
	packetsMalformed *prometheus.CounterVec
	cyclesMixed      *prometheus.CounterVec
	cyclesSilent     *prometheus.CounterVec
	mixInputCount    *prometheus.GaugeVec
	backoffState     *prometheus.GaugeVec
	mp3ReaderActive  *prometheus.GaugeVec

	uptimeDesc *prometheus.Desc
}

// NewCollector builds a Collector with all vectors registered against the
// default metric name prefix.
func NewCollector(startTime time.Time) *Collector {
	return &Collector{
		startTime: startTime,

		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiorouter_ingress_packets_received_total",
			Help: "Total packets received per source tag.",
		}, []string{"source_tag"}),
		packetsMalformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiorouter_ingress_packets_malformed_total",
			Help: "Total malformed/dropped packets per source tag.",
		}, []string{"source_tag"}),
		cyclesMixed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiorouter_sink_mix_cycles_total",
			Help: "Total mix cycles that emitted a non-silent packet, per sink.",
		}, []string{"sink_id"}),
		cyclesSilent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiorouter_sink_silent_cycles_total",
			Help: "Total mix cycles suppressed as all-silent, per sink.",
		}, []string{"sink_id"}),
		mixInputCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audiorouter_sink_mix_input_count",
			Help: "Number of inputs summed in the most recent mix cycle, per sink.",
		}, []string{"sink_id"}),
		backoffState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audiorouter_sink_connection_state",
			Help: "Current NetworkSender connection state (1=connected, 0=disconnected/backoff), per sink.",
		}, []string{"sink_id"}),
		mp3ReaderActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audiorouter_sink_mp3_reader_active",
			Help: "Whether a consumer is actively draining the MP3 side-stream queue, per sink.",
		}, []string{"sink_id"}),

		uptimeDesc: prometheus.NewDesc(
			"audiorouter_uptime_seconds",
			"Seconds since the process started.",
			nil, nil,
		),
	}
}

// PacketsReceived implements ingress.Metrics.
func (c *Collector) PacketsReceived(sourceTag string) {
	c.packetsReceived.WithLabelValues(sourceTag).Inc()
}

// PacketsMalformed implements ingress.Metrics.
func (c *Collector) PacketsMalformed(sourceTag string) {
	c.packetsMalformed.WithLabelValues(sourceTag).Inc()
}

// CycleMixed implements sink.Metrics.
func (c *Collector) CycleMixed(sinkID string, inputCount int) {
	c.cyclesMixed.WithLabelValues(sinkID).Inc()
	c.mixInputCount.WithLabelValues(sinkID).Set(float64(inputCount))
}

// CycleSilent implements sink.Metrics.
func (c *Collector) CycleSilent(sinkID string) {
	c.cyclesSilent.WithLabelValues(sinkID).Inc()
}

// BackoffTransition implements sink.BackoffMetrics.
func (c *Collector) BackoffTransition(sinkID string, state sink.ConnState) {
	val := 0.0
	if state == sink.StateConnected {
		val = 1.0
	}
	c.backoffState.WithLabelValues(sinkID).Set(val)
}

// MP3ReaderActive implements sink.MP3Metrics.
func (c *Collector) MP3ReaderActive(sinkID string, active bool) {
	val := 0.0
	if active {
		val = 1.0
	}
	c.mp3ReaderActive.WithLabelValues(sinkID).Set(val)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.packetsReceived.Describe(ch)
	c.packetsMalformed.Describe(ch)
	c.cyclesMixed.Describe(ch)
	c.cyclesSilent.Describe(ch)
	c.mixInputCount.Describe(ch)
	c.backoffState.Describe(ch)
	c.mp3ReaderActive.Describe(ch)
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.packetsReceived.Collect(ch)
	c.packetsMalformed.Collect(ch)
	c.cyclesMixed.Collect(ch)
	c.cyclesSilent.Collect(ch)
	c.mixInputCount.Collect(ch)
	c.backoffState.Collect(ch)
	c.mp3ReaderActive.Collect(ch)
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
