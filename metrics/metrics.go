package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "chat_relay"

// Submission outcomes.
const (
	OutcomeAccepted      = "accepted"
	OutcomeInvalid       = "invalid"
	OutcomeRejected      = "rejected"
	OutcomePersistFailed = "persist_failed"
	OutcomePublishFailed = "publish_failed"
)

// Collector is a prometheus.Collector for the relay pipeline.
type Collector struct {
	connections       prometheus.Gauge
	submissions       *prometheus.CounterVec
	publishRetries    *prometheus.CounterVec
	republished       prometheus.Counter
	deliveries        prometheus.Counter
	droppedSends      prometheus.Counter
	consumerErrors    prometheus.Counter
	duplicatesSkipped prometheus.Counter
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "connections",
				Help:      "The number of live WebSocket connections.",
			},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "submissions_total",
				Help:      "Message submissions by outcome.",
			}, []string{"outcome"},
		),
		publishRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "publish_retries_total",
				Help:      "Failed publish attempts that were retried or gave up.",
			}, []string{"topic"},
		),
		republished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "republished_total",
				Help:      "Stored messages published again by hand.",
			},
		),
		deliveries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "broadcast_deliveries_total",
				Help:      "Frames queued to room members by broadcasts.",
			},
		),
		droppedSends: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "broadcast_dropped_total",
				Help:      "Frames dropped because a connection could not keep up.",
			},
		),
		consumerErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "consumer_handler_errors_total",
				Help:      "Log records skipped by the relay consumer.",
			},
		),
		duplicatesSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "duplicates_skipped_total",
				Help:      "Redelivered messages not broadcast again.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.connections.Describe(ch)
	c.submissions.Describe(ch)
	c.publishRetries.Describe(ch)
	c.republished.Describe(ch)
	c.deliveries.Describe(ch)
	c.droppedSends.Describe(ch)
	c.consumerErrors.Describe(ch)
	c.duplicatesSkipped.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.connections.Collect(ch)
	c.submissions.Collect(ch)
	c.publishRetries.Collect(ch)
	c.republished.Collect(ch)
	c.deliveries.Collect(ch)
	c.droppedSends.Collect(ch)
	c.consumerErrors.Collect(ch)
	c.duplicatesSkipped.Collect(ch)
}

func (c *Collector) ConnectionOpened() { c.connections.Inc() }
func (c *Collector) ConnectionClosed() { c.connections.Dec() }

func (c *Collector) Submitted(outcome string) {
	c.submissions.WithLabelValues(outcome).Inc()
}

func (c *Collector) PublishRetried(topic string) {
	c.publishRetries.WithLabelValues(topic).Inc()
}

func (c *Collector) Republished() { c.republished.Inc() }
func (c *Collector) Delivered(n int) { c.deliveries.Add(float64(n)) }
func (c *Collector) Dropped() { c.droppedSends.Inc() }
func (c *Collector) ConsumerError() { c.consumerErrors.Inc() }
func (c *Collector) DuplicateSkipped() { c.duplicatesSkipped.Inc() }
