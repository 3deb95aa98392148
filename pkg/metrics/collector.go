package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the central metrics aggregation point for the broker.
// It tracks per-queue and broker-level metrics using RateTrackers.
type Collector struct {
	queueMetrics sync.Map

	// Broker-wide rate metrics
	totalPublishesRate  *RateTracker
	totalDeliveriesRate *RateTracker
	totalAcksRate       *RateTracker
	totalExpiredRate    *RateTracker
	totalDepthRate      *RateTracker

	// Cumulative counters
	totalPublishCount    atomic.Int64
	totalDeliverCount    atomic.Int64
	totalAckCount        atomic.Int64
	totalRedeliverCount  atomic.Int64
	totalExpiredCount    atomic.Int64
	totalDeadLetterCount atomic.Int64
	totalDroppedCount    atomic.Int64

	// reason -> *atomic.Int64
	deadLettersByReason sync.Map
	droppedByReason     sync.Map

	queueCount atomic.Int64

	ctx    context.Context
	config *Config
}

// QueueMetrics tracks statistics for a single queue
type QueueMetrics struct {
	Name         string
	MessageRate  *RateTracker // Messages enqueued per second
	DeliveryRate *RateTracker // Messages delivered per second
	AckRate      *RateTracker // ACKs per second

	Depth             atomic.Int64 // Current messageCount (ready + in-flight)
	PublishCount      atomic.Int64
	DeliveryCount     atomic.Int64
	AckCount          atomic.Int64
	RedeliveryCount   atomic.Int64
	ReleaseCount      atomic.Int64
	ExpiredCount      atomic.Int64
	DeadLetteredCount atomic.Int64
	DroppedCount      atomic.Int64
	CreatedAt         time.Time

	mu sync.RWMutex
}

// Config holds configuration for metrics collection
type Config struct {
	Enabled         bool          // Enable/disable metrics collection
	WindowSize      time.Duration // Time window for rate calculations (e.g., 5 minutes)
	MaxSamples      int           // Maximum samples to keep in ring buffer (e.g., 60)
	SamplesInterval uint8         // Seconds between samples (e.g., 5)
}

// DefaultConfig returns sensible defaults for metrics collection
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		WindowSize:      5 * time.Minute,
		MaxSamples:      60, // One sample per 5 seconds for 5 minutes
		SamplesInterval: 5,
	}
}

// NewCollector creates a new metrics collector. Periodic sampling, once
// started, stops when ctx is done.
func NewCollector(config *Config, ctx context.Context) *Collector {
	if config == nil {
		config = DefaultConfig()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	return &Collector{
		totalPublishesRate:  NewRateTracker(config.WindowSize, config.MaxSamples),
		totalDeliveriesRate: NewRateTracker(config.WindowSize, config.MaxSamples),
		totalAcksRate:       NewRateTracker(config.WindowSize, config.MaxSamples),
		totalExpiredRate:    NewRateTracker(config.WindowSize, config.MaxSamples),
		totalDepthRate:      NewRateTracker(config.WindowSize, config.MaxSamples),
		ctx:                 ctx,
		config:              config,
	}
}

// ========================================
// Queue Metrics
// ========================================

// RecordQueuePublish records a message enqueued to a queue
func (c *Collector) RecordQueuePublish(queueName string) {
	if !c.config.Enabled {
		return
	}

	qm := c.getOrCreateQueueMetrics(queueName)
	qm.PublishCount.Add(1)
	c.totalPublishCount.Add(1)
}

// RecordQueueDelivery records a message leased to a consumer
func (c *Collector) RecordQueueDelivery(queueName string) {
	if !c.config.Enabled {
		return
	}

	qm := c.getOrCreateQueueMetrics(queueName)
	qm.DeliveryCount.Add(1)
	c.totalDeliverCount.Add(1)
}

// RecordQueueAck records a message acknowledgment
func (c *Collector) RecordQueueAck(queueName string) {
	if !c.config.Enabled {
		return
	}

	qm := c.getOrCreateQueueMetrics(queueName)
	qm.AckCount.Add(1)
	c.totalAckCount.Add(1)
}

// RecordQueueRedelivery records a lease returned to the queue with its
// delivery count incremented
func (c *Collector) RecordQueueRedelivery(queueName string) {
	if !c.config.Enabled {
		return
	}

	qm := c.getOrCreateQueueMetrics(queueName)
	qm.RedeliveryCount.Add(1)
	c.totalRedeliverCount.Add(1)
}

// RecordQueueRelease records a lease returned without counting a delivery
func (c *Collector) RecordQueueRelease(queueName string) {
	if !c.config.Enabled {
		return
	}

	c.getOrCreateQueueMetrics(queueName).ReleaseCount.Add(1)
}

func (c *Collector) RecordQueueExpired(queueName string) {
	if !c.config.Enabled {
		return
	}

	qm := c.getOrCreateQueueMetrics(queueName)
	qm.ExpiredCount.Add(1)
	c.totalExpiredCount.Add(1)
}

// RecordQueueDeadLettered records a message successfully routed from
// queueName to the dead-letter address
func (c *Collector) RecordQueueDeadLettered(queueName, reason string) {
	if !c.config.Enabled {
		return
	}

	qm := c.getOrCreateQueueMetrics(queueName)
	qm.DeadLetteredCount.Add(1)
	c.totalDeadLetterCount.Add(1)
	reasonCounter(&c.deadLettersByReason, reason).Add(1)
}

// RecordDeadLetterDropped records a message that could not be dead-lettered
// and was discarded
func (c *Collector) RecordDeadLetterDropped(queueName, reason string) {
	if !c.config.Enabled {
		return
	}

	qm := c.getOrCreateQueueMetrics(queueName)
	qm.DroppedCount.Add(1)
	c.totalDroppedCount.Add(1)
	reasonCounter(&c.droppedByReason, reason).Add(1)
}

// SetQueueDepth sets the queue's current message count
func (c *Collector) SetQueueDepth(queueName string, depth int64) {
	if !c.config.Enabled {
		return
	}

	c.getOrCreateQueueMetrics(queueName).Depth.Store(depth)
}

// GetQueueMetrics retrieves metrics for a specific queue
func (c *Collector) GetQueueMetrics(queueName string) *QueueMetrics {
	if value, ok := c.queueMetrics.Load(queueName); ok {
		return value.(*QueueMetrics)
	}
	return nil
}

// GetAllQueueMetrics returns metrics for all queues
func (c *Collector) GetAllQueueMetrics() []*QueueMetrics {
	result := make([]*QueueMetrics, 0)
	c.queueMetrics.Range(func(key, value any) bool {
		result = append(result, value.(*QueueMetrics))
		return true
	})
	return result
}

// getOrCreateQueueMetrics gets existing or creates new queue metrics
func (c *Collector) getOrCreateQueueMetrics(name string) *QueueMetrics {
	if value, ok := c.queueMetrics.Load(name); ok {
		return value.(*QueueMetrics)
	}

	qm := &QueueMetrics{
		Name:         name,
		MessageRate:  NewRateTracker(c.config.WindowSize, c.config.MaxSamples),
		DeliveryRate: NewRateTracker(c.config.WindowSize, c.config.MaxSamples),
		AckRate:      NewRateTracker(c.config.WindowSize, c.config.MaxSamples),
		CreatedAt:    time.Now(),
	}

	actual, loaded := c.queueMetrics.LoadOrStore(name, qm)
	if !loaded {
		c.queueCount.Add(1)
	}
	return actual.(*QueueMetrics)
}

// RemoveQueue removes metrics tracking for a queue
func (c *Collector) RemoveQueue(queueName string) {
	if _, loaded := c.queueMetrics.LoadAndDelete(queueName); loaded {
		c.queueCount.Add(-1)
	}
}

func (c *Collector) sampleQueueMetrics(qm *QueueMetrics) {
	qm.mu.RLock()
	defer qm.mu.RUnlock()
	qm.MessageRate.Record(qm.PublishCount.Load())
	qm.DeliveryRate.Record(qm.DeliveryCount.Load())
	qm.AckRate.Record(qm.AckCount.Load())
}

func reasonCounter(m *sync.Map, reason string) *atomic.Int64 {
	if v, ok := m.Load(reason); ok {
		return v.(*atomic.Int64)
	}
	v, _ := m.LoadOrStore(reason, new(atomic.Int64))
	return v.(*atomic.Int64)
}

func reasonCounts(m *sync.Map) map[string]int64 {
	out := make(map[string]int64)
	m.Range(func(key, value any) bool {
		out[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return out
}

// ========================================
// Sampling
// ========================================

// StartPeriodicSampling starts a background ticker that samples metrics.
// It should be called once when the broker starts.
func (c *Collector) StartPeriodicSampling() {
	if !c.config.Enabled || c.config.SamplesInterval == 0 {
		return
	}
	interval := time.Duration(c.config.SamplesInterval) * time.Second

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				c.sampleBrokerMetrics()
			}
		}
	}()
}

// sampleBrokerMetrics records the cumulative counters into the time series
func (c *Collector) sampleBrokerMetrics() {
	c.totalPublishesRate.Record(c.totalPublishCount.Load())
	c.totalDeliveriesRate.Record(c.totalDeliverCount.Load())
	c.totalAcksRate.Record(c.totalAckCount.Load())
	c.totalExpiredRate.Record(c.totalExpiredCount.Load())

	var depth int64
	c.queueMetrics.Range(func(key, value any) bool {
		qm := value.(*QueueMetrics)
		depth += qm.Depth.Load()
		c.sampleQueueMetrics(qm)
		return true
	})
	c.totalDepthRate.Record(depth)
}

// ========================================
// SNAPSHOTS & TIME-SERIES ACCESS
// ========================================

// BrokerSnapshot represents current broker state
type BrokerSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	PublishRate  float64 `json:"publish_rate"`
	DeliveryRate float64 `json:"delivery_rate"`
	AckRate      float64 `json:"ack_rate"`
	ExpiredRate  float64 `json:"expired_rate"`

	TotalDepth *RateTracker `json:"-"`

	QueueCount        int64            `json:"queue_count"`
	PublishCount      int64            `json:"publish_count"`
	DeliveryCount     int64            `json:"delivery_count"`
	AckCount          int64            `json:"ack_count"`
	RedeliveryCount   int64            `json:"redelivery_count"`
	ExpiredCount      int64            `json:"expired_count"`
	DeadLetteredCount int64            `json:"dead_lettered_count"`
	DroppedCount      int64            `json:"dropped_count"`
	DeadLettersBy     map[string]int64 `json:"dead_letters_by_reason"`
	DroppedBy         map[string]int64 `json:"dropped_by_reason"`
}

// GetBrokerSnapshot returns a snapshot of current broker metrics
func (c *Collector) GetBrokerSnapshot() *BrokerSnapshot {
	return &BrokerSnapshot{
		Timestamp:         time.Now(),
		PublishRate:       c.totalPublishesRate.Rate(),
		DeliveryRate:      c.totalDeliveriesRate.Rate(),
		AckRate:           c.totalAcksRate.Rate(),
		ExpiredRate:       c.totalExpiredRate.Rate(),
		TotalDepth:        c.totalDepthRate,
		QueueCount:        c.queueCount.Load(),
		PublishCount:      c.totalPublishCount.Load(),
		DeliveryCount:     c.totalDeliverCount.Load(),
		AckCount:          c.totalAckCount.Load(),
		RedeliveryCount:   c.totalRedeliverCount.Load(),
		ExpiredCount:      c.totalExpiredCount.Load(),
		DeadLetteredCount: c.totalDeadLetterCount.Load(),
		DroppedCount:      c.totalDroppedCount.Load(),
		DeadLettersBy:     reasonCounts(&c.deadLettersByReason),
		DroppedBy:         reasonCounts(&c.droppedByReason),
	}
}

func (c *Collector) GetPublishRateTimeSeries(duration time.Duration) []Sample {
	return c.totalPublishesRate.GetSamplesForDuration(duration)
}

func (c *Collector) GetDeliveryRateTimeSeries(duration time.Duration) []Sample {
	return c.totalDeliveriesRate.GetSamplesForDuration(duration)
}

func (c *Collector) GetAckRateTimeSeries(duration time.Duration) []Sample {
	return c.totalAcksRate.GetSamplesForDuration(duration)
}

// QueueSnapshot returns a snapshot of queue metrics
type QueueSnapshot struct {
	Name              string    `json:"name"`
	MessageRate       float64   `json:"message_rate"`
	DeliveryRate      float64   `json:"delivery_rate"`
	AckRate           float64   `json:"ack_rate"`
	Depth             int64     `json:"depth"`
	PublishCount      int64     `json:"publish_count"`
	DeliveryCount     int64     `json:"delivery_count"`
	AckCount          int64     `json:"ack_count"`
	RedeliveryCount   int64     `json:"redelivery_count"`
	ExpiredCount      int64     `json:"expired_count"`
	DeadLetteredCount int64     `json:"dead_lettered_count"`
	DroppedCount      int64     `json:"dropped_count"`
	Uptime            float64   `json:"uptime_seconds"`
	CreatedAt         time.Time `json:"created_at"`
}

func (c *Collector) GetQueueSnapshot(queueName string) *QueueSnapshot {
	if qm := c.GetQueueMetrics(queueName); qm != nil {
		return qm.Snapshot()
	}
	return nil
}

// Snapshot returns a snapshot of this queue's metrics
func (qm *QueueMetrics) Snapshot() *QueueSnapshot {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	return &QueueSnapshot{
		Name:              qm.Name,
		MessageRate:       qm.MessageRate.Rate(),
		DeliveryRate:      qm.DeliveryRate.Rate(),
		AckRate:           qm.AckRate.Rate(),
		Depth:             qm.Depth.Load(),
		PublishCount:      qm.PublishCount.Load(),
		DeliveryCount:     qm.DeliveryCount.Load(),
		AckCount:          qm.AckCount.Load(),
		RedeliveryCount:   qm.RedeliveryCount.Load(),
		ExpiredCount:      qm.ExpiredCount.Load(),
		DeadLetteredCount: qm.DeadLetteredCount.Load(),
		DroppedCount:      qm.DroppedCount.Load(),
		Uptime:            time.Since(qm.CreatedAt).Seconds(),
		CreatedAt:         qm.CreatedAt,
	}
}

// ========================================
// Utility Methods
// ========================================

// Clear resets all metrics (useful for testing)
func (c *Collector) Clear() {
	c.queueMetrics.Range(func(key, _ any) bool {
		c.queueMetrics.Delete(key)
		return true
	})
	c.deadLettersByReason.Range(func(key, _ any) bool {
		c.deadLettersByReason.Delete(key)
		return true
	})
	c.droppedByReason.Range(func(key, _ any) bool {
		c.droppedByReason.Delete(key)
		return true
	})

	c.totalPublishesRate.Clear()
	c.totalDeliveriesRate.Clear()
	c.totalAcksRate.Clear()
	c.totalExpiredRate.Clear()
	c.totalDepthRate.Clear()

	c.totalPublishCount.Store(0)
	c.totalDeliverCount.Store(0)
	c.totalAckCount.Store(0)
	c.totalRedeliverCount.Store(0)
	c.totalExpiredCount.Store(0)
	c.totalDeadLetterCount.Store(0)
	c.totalDroppedCount.Store(0)
	c.queueCount.Store(0)
}

// IsEnabled returns whether metrics collection is enabled
func (c *Collector) IsEnabled() bool {
	return c.config.Enabled
}
