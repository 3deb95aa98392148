package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exposes a Collector's counters in Prometheus format.
// Values are read from the Collector at scrape time.
type PrometheusExporter struct {
	source *Collector

	queueDepth        *prometheus.Desc
	queuePublished    *prometheus.Desc
	queueDelivered    *prometheus.Desc
	queueAcked        *prometheus.Desc
	queueRedelivered  *prometheus.Desc
	queueExpired      *prometheus.Desc
	queueDeadLettered *prometheus.Desc
	queueDropped      *prometheus.Desc
	deadLetters       *prometheus.Desc
	dropped           *prometheus.Desc
	queues            *prometheus.Desc

	registry *prometheus.Registry
}

// NewPrometheusExporter creates an exporter with its own registry.
func NewPrometheusExporter(namespace string, source *Collector) *PrometheusExporter {
	if namespace == "" {
		namespace = "otterlane"
	}
	queueDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "queue", name), help, []string{"queue"}, nil)
	}

	e := &PrometheusExporter{
		source:            source,
		queueDepth:        queueDesc("messages", "Messages held by the queue, ready or in flight"),
		queuePublished:    queueDesc("published_total", "Messages enqueued"),
		queueDelivered:    queueDesc("delivered_total", "Messages leased to consumers"),
		queueAcked:        queueDesc("acknowledged_total", "Messages acknowledged"),
		queueRedelivered:  queueDesc("redelivered_total", "Leases returned with an incremented delivery count"),
		queueExpired:      queueDesc("expired_total", "Messages that expired in the queue"),
		queueDeadLettered: queueDesc("dead_lettered_total", "Messages routed to the dead-letter address"),
		queueDropped:      queueDesc("dead_letter_dropped_total", "Messages dropped because dead-letter routing failed"),
		deadLetters: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "dead_letters_total"),
			"Dead-letter routings by reason", []string{"reason"}, nil),
		dropped: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "dead_letter_drops_total"),
			"Dead-letter drops by reason", []string{"reason"}, nil),
		queues: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "queues"),
			"Queues with recorded metrics", nil, nil),
		registry: prometheus.NewRegistry(),
	}
	e.registry.MustRegister(e)
	return e
}

func (e *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.queueDepth
	ch <- e.queuePublished
	ch <- e.queueDelivered
	ch <- e.queueAcked
	ch <- e.queueRedelivered
	ch <- e.queueExpired
	ch <- e.queueDeadLettered
	ch <- e.queueDropped
	ch <- e.deadLetters
	ch <- e.dropped
	ch <- e.queues
}

func (e *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	counter := func(desc *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}

	for _, qm := range e.source.GetAllQueueMetrics() {
		ch <- prometheus.MustNewConstMetric(e.queueDepth, prometheus.GaugeValue, float64(qm.Depth.Load()), qm.Name)
		counter(e.queuePublished, qm.PublishCount.Load(), qm.Name)
		counter(e.queueDelivered, qm.DeliveryCount.Load(), qm.Name)
		counter(e.queueAcked, qm.AckCount.Load(), qm.Name)
		counter(e.queueRedelivered, qm.RedeliveryCount.Load(), qm.Name)
		counter(e.queueExpired, qm.ExpiredCount.Load(), qm.Name)
		counter(e.queueDeadLettered, qm.DeadLetteredCount.Load(), qm.Name)
		counter(e.queueDropped, qm.DroppedCount.Load(), qm.Name)
	}

	snap := e.source.GetBrokerSnapshot()
	for reason, n := range snap.DeadLettersBy {
		counter(e.deadLetters, n, reason)
	}
	for reason, n := range snap.DroppedBy {
		counter(e.dropped, n, reason)
	}
	ch <- prometheus.MustNewConstMetric(e.queues, prometheus.GaugeValue, float64(snap.QueueCount))
}

// Registry returns the exporter's registry.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus text format.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
