package metrics

import (
	"sync"
	"time"
)

// MockCollector records every call so tests can assert on what the queue
// core reported. It keeps no rates.
type MockCollector struct {
	mu     sync.RWMutex
	events []Event
	depths map[string]int64

	enabled bool
}

// Event is one recorded call.
type Event struct {
	Kind   string // publish, deliver, ack, redeliver, release, expired, dead-lettered, dropped
	Queue  string
	Reason string
}

// NewMockCollector creates a new mock collector.
func NewMockCollector() *MockCollector {
	return &MockCollector{
		depths:  make(map[string]int64),
		enabled: true,
	}
}

func (m *MockCollector) record(kind, queue, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{Kind: kind, Queue: queue, Reason: reason})
}

// Events returns a copy of the recorded calls.
func (m *MockCollector) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event(nil), m.events...)
}

// Count returns how many calls of kind were recorded for queue.
func (m *MockCollector) Count(kind, queue string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.events {
		if e.Kind == kind && e.Queue == queue {
			n++
		}
	}
	return n
}

func (m *MockCollector) Depth(queue string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.depths[queue]
}

func (m *MockCollector) RecordQueuePublish(queueName string)    { m.record("publish", queueName, "") }
func (m *MockCollector) RecordQueueDelivery(queueName string)   { m.record("deliver", queueName, "") }
func (m *MockCollector) RecordQueueAck(queueName string)        { m.record("ack", queueName, "") }
func (m *MockCollector) RecordQueueRedelivery(queueName string) { m.record("redeliver", queueName, "") }
func (m *MockCollector) RecordQueueRelease(queueName string)    { m.record("release", queueName, "") }
func (m *MockCollector) RecordQueueExpired(queueName string)    { m.record("expired", queueName, "") }

func (m *MockCollector) RecordQueueDeadLettered(queueName, reason string) {
	m.record("dead-lettered", queueName, reason)
}

func (m *MockCollector) RecordDeadLetterDropped(queueName, reason string) {
	m.record("dropped", queueName, reason)
}

func (m *MockCollector) SetQueueDepth(queueName string, depth int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths[queueName] = depth
}

func (m *MockCollector) GetQueueMetrics(queueName string) *QueueMetrics { return nil }
func (m *MockCollector) GetAllQueueMetrics() []*QueueMetrics            { return nil }

func (m *MockCollector) RemoveQueue(queueName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.depths, queueName)
}

func (m *MockCollector) GetBrokerSnapshot() *BrokerSnapshot {
	return &BrokerSnapshot{Timestamp: time.Now()}
}

func (m *MockCollector) GetQueueSnapshot(queueName string) *QueueSnapshot { return nil }

func (m *MockCollector) GetPublishRateTimeSeries(duration time.Duration) []Sample  { return nil }
func (m *MockCollector) GetDeliveryRateTimeSeries(duration time.Duration) []Sample { return nil }
func (m *MockCollector) GetAckRateTimeSeries(duration time.Duration) []Sample      { return nil }

func (m *MockCollector) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
	m.depths = make(map[string]int64)
}

func (m *MockCollector) IsEnabled() bool        { return m.enabled }
func (m *MockCollector) StartPeriodicSampling() {}
