package metrics

import "time"

// MetricsCollector is the interface the queue core reports through.
// It allows for easy mocking in tests.
type MetricsCollector interface {
	// Queue lifecycle
	RecordQueuePublish(queueName string)
	RecordQueueDelivery(queueName string)
	RecordQueueAck(queueName string)
	RecordQueueRedelivery(queueName string)
	RecordQueueRelease(queueName string)
	RecordQueueExpired(queueName string)
	RecordQueueDeadLettered(queueName, reason string)
	RecordDeadLetterDropped(queueName, reason string)
	SetQueueDepth(queueName string, depth int64)
	GetQueueMetrics(queueName string) *QueueMetrics
	GetAllQueueMetrics() []*QueueMetrics
	RemoveQueue(queueName string)

	// Broker-level
	GetBrokerSnapshot() *BrokerSnapshot
	GetQueueSnapshot(queueName string) *QueueSnapshot

	// Time series
	GetPublishRateTimeSeries(duration time.Duration) []Sample
	GetDeliveryRateTimeSeries(duration time.Duration) []Sample
	GetAckRateTimeSeries(duration time.Duration) []Sample

	// Utility
	Clear()
	IsEnabled() bool
	// StartPeriodicSampling samples rates until the collector's context ends
	StartPeriodicSampling()
}

// Ensure Collector implements MetricsCollector
var _ MetricsCollector = (*Collector)(nil)
var _ MetricsCollector = (*MockCollector)(nil)
