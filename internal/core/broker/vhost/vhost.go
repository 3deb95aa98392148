package vhost

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map"
	"github.com/rs/zerolog/log"

	"github.com/ottermq/otterlane/internal/core/message"
	"github.com/ottermq/otterlane/pkg/metrics"
	"github.com/ottermq/otterlane/pkg/persistence"
	"github.com/ottermq/otterlane/pkg/persistence/implementations/dummy"
)

const DefaultDeadLetterAddress = "DLQ"

var (
	ErrQueueNotFound     = errors.New("queue not found")
	ErrQueueExists       = errors.New("queue already exists with different properties")
	ErrInvalidQueueName  = errors.New("invalid queue name")
	ErrDeadLetterDropped = errors.New("dead letter dropped")
)

// DeliveryCountPolicy decides what happens to an envelope's delivery count
// when it is routed to the dead-letter address.
type DeliveryCountPolicy string

const (
	DeliveryCountReset    DeliveryCountPolicy = "reset"
	DeliveryCountPreserve DeliveryCountPolicy = "preserve"
)

// ParseDeliveryCountPolicy accepts "reset" and "preserve"; empty means reset.
func ParseDeliveryCountPolicy(s string) (DeliveryCountPolicy, error) {
	switch DeliveryCountPolicy(s) {
	case "", DeliveryCountReset:
		return DeliveryCountReset, nil
	case DeliveryCountPreserve:
		return DeliveryCountPreserve, nil
	default:
		return "", fmt.Errorf("invalid delivery count policy %q", s)
	}
}

type VHost struct {
	Name string `json:"name"`
	Id   string `json:"id"`

	// name -> *Queue; declareMu serialises declare and delete, lookups are lock-free
	queues    cmap.ConcurrentMap
	declareMu sync.Mutex
	persist   persistence.Persistence
	metrics   metrics.MetricsCollector
	clock     func() time.Time

	deadLetterAddress   string
	deliveryCountPolicy DeliveryCountPolicy
	maxDeliveryAttempts uint32

	// Extensions
	DeadLetterer       DeadLetterer
	TTLManager         TTLManager
	QueueLengthLimiter QueueLengthLimiter

	ActiveExtensions map[string]bool
}

type VHostOptions struct {
	Persistence persistence.Persistence
	Metrics     metrics.MetricsCollector
	// Clock defaults to time.Now; tests inject a fake one.
	Clock func() time.Time

	EnableDLX bool
	EnableTTL bool
	EnableQLL bool

	DeadLetterAddress   string
	DeliveryCountPolicy DeliveryCountPolicy
	// MaxDeliveryAttempts applies to queues without x-max-delivery-attempts.
	// Zero means unlimited.
	MaxDeliveryAttempts uint32
}

func NewVhost(vhostName string, options VHostOptions) *VHost {
	vh := &VHost{
		Name:                vhostName,
		Id:                  uuid.New().String(),
		queues:              cmap.New(),
		persist:             options.Persistence,
		metrics:             options.Metrics,
		clock:               options.Clock,
		deadLetterAddress:   options.DeadLetterAddress,
		deliveryCountPolicy: options.DeliveryCountPolicy,
		maxDeliveryAttempts: options.MaxDeliveryAttempts,
		ActiveExtensions:    make(map[string]bool),
	}
	if vh.persist == nil {
		vh.persist = &dummy.DummyPersistence{}
	}
	if vh.metrics == nil {
		vh.metrics = metrics.NewMockCollector()
	}
	if vh.clock == nil {
		vh.clock = time.Now
	}
	if vh.deadLetterAddress == "" {
		vh.deadLetterAddress = DefaultDeadLetterAddress
	}
	if vh.deliveryCountPolicy == "" {
		vh.deliveryCountPolicy = DeliveryCountReset
	}

	vh.setupExtensions(options)
	vh.loadPersistedState()
	vh.createMandatoryStructure()
	return vh
}

func (vh *VHost) setupExtensions(options VHostOptions) {
	if options.EnableDLX {
		vh.ActiveExtensions["dlx"] = true
		vh.DeadLetterer = &DeadLetter{vh: vh}
	} else {
		vh.DeadLetterer = &NoOpDeadLetterer{}
	}
	if options.EnableTTL {
		vh.ActiveExtensions["ttl"] = true
		vh.TTLManager = &DefaultTTLManager{}
	} else {
		vh.TTLManager = &EnvelopeTTLManager{}
	}
	if options.EnableQLL {
		vh.ActiveExtensions["qll"] = true
		vh.QueueLengthLimiter = &DefaultQueueLengthLimiter{}
	} else {
		vh.QueueLengthLimiter = &NoOpQueueLengthLimiter{}
	}
}

// createMandatoryStructure declares the dead-letter queue when DLX is on.
func (vh *VHost) createMandatoryStructure() {
	if !vh.ActiveExtensions["dlx"] {
		return
	}
	props := NewQueueProperties()
	props.Durable = true
	if _, err := vh.CreateQueue(vh.deadLetterAddress, props); err != nil {
		log.Error().Err(err).Str("queue", vh.deadLetterAddress).Msg("Failed to create dead-letter queue")
	}
}

func (vh *VHost) now() time.Time {
	return vh.clock()
}

func (vh *VHost) DeadLetterAddress() string {
	return vh.deadLetterAddress
}

func (vh *VHost) DeliveryCountPolicy() DeliveryCountPolicy {
	return vh.deliveryCountPolicy
}

// CreateQueue declares a queue. Declaring an existing queue with the same
// properties returns it; different properties yield ErrQueueExists. A durable
// queue is visible only after its metadata is stored, so a durable enqueue
// never races the declaration.
func (vh *VHost) CreateQueue(name string, props *QueueProperties) (*Queue, error) {
	if name == "" {
		return nil, ErrInvalidQueueName
	}
	if props == nil {
		props = NewQueueProperties()
	}
	if props.Arguments == nil {
		props.Arguments = make(QueueArgs)
	}

	vh.declareMu.Lock()
	defer vh.declareMu.Unlock()

	if existing := vh.GetQueue(name); existing != nil {
		if existing.Props.Durable != props.Durable ||
			existing.Props.AutoDelete != props.AutoDelete ||
			!equalArgs(existing.Props.Arguments, props.Arguments) {
			return nil, fmt.Errorf("%w: %s", ErrQueueExists, name)
		}
		log.Debug().Str("queue", name).Msg("Queue already exists with matching properties")
		return existing, nil
	}

	if props.Durable {
		if err := vh.persist.SaveQueueMetadata(vh.Name, name, props.ToPersistence()); err != nil {
			log.Error().Err(err).Str("queue", name).Msg("Failed to save queue metadata")
			return nil, fmt.Errorf("%w: queue %s: %v", ErrPersistence, name, err)
		}
	}
	queue := NewQueue(name, props, vh)
	vh.queues.Set(name, queue)
	vh.metrics.SetQueueDepth(name, 0)

	log.Debug().Str("queue", name).Msg("Created queue")
	return queue, nil
}

// GetQueue retrieves a queue by name.
func (vh *VHost) GetQueue(name string) *Queue {
	v, ok := vh.queues.Get(name)
	if !ok {
		return nil
	}
	return v.(*Queue)
}

// GetAllQueues returns the vhost's queues sorted by name.
func (vh *VHost) GetAllQueues() []*Queue {
	queues := make([]*Queue, 0, vh.queues.Count())
	for item := range vh.queues.IterBuffered() {
		queues = append(queues, item.Val.(*Queue))
	}
	sort.Slice(queues, func(i, j int) bool { return queues[i].Name < queues[j].Name })
	return queues
}

// DeleteQueue removes a queue and everything it holds.
func (vh *VHost) DeleteQueue(name string) error {
	vh.declareMu.Lock()
	defer vh.declareMu.Unlock()

	queue := vh.GetQueue(name)
	if queue == nil {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	vh.queues.Remove(name)
	queue.Purge()
	vh.metrics.RemoveQueue(name)

	log.Debug().Str("queue", name).Msg("Deleted queue")

	if queue.durable() {
		if err := vh.persist.DeleteQueueMetadata(vh.Name, name); err != nil {
			log.Error().Err(err).Str("queue", name).Msg("Failed to delete queue from persistence")
			return err
		}
	}
	return nil
}

// GetMessageCount returns the message count of a queue.
func (vh *VHost) GetMessageCount(name string) (int64, error) {
	queue := vh.GetQueue(name)
	if queue == nil {
		return 0, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	return queue.MessageCount(), nil
}

// SweepExpired runs one expiry pass over every queue.
func (vh *VHost) SweepExpired() int {
	now := vh.now()
	total := 0
	for _, q := range vh.GetAllQueues() {
		total += q.SweepExpired(now)
	}
	return total
}

/* ---- persistence helpers ---- */

func messageRecord(m *QueuedMessage) (persistence.Message, error) {
	data, err := message.Marshal(m.Envelope)
	if err != nil {
		return persistence.Message{}, err
	}
	return persistence.Message{
		Seq:        m.Seq,
		ID:         m.Envelope.ID,
		Data:       data,
		EnqueuedAt: m.EnqueuedAt.UnixMilli(),
		ExpiresAt:  m.ExpiresAt,
	}, nil
}

func (vh *VHost) persistRecord(q *Queue, rec persistence.Message) error {
	return vh.persist.SaveMessage(vh.Name, q.Name, rec)
}

func (vh *VHost) deleteMessage(q *Queue, m *QueuedMessage) {
	if !m.persisted {
		return
	}
	if err := vh.persist.DeleteMessage(vh.Name, q.Name, m.Seq); err != nil {
		log.Error().Err(err).Str("queue", q.Name).Uint64("seq", m.Seq).Msg("Failed to delete persisted message")
	}
}

func (vh *VHost) saveStats(q *Queue) {
	if !q.durable() {
		return
	}
	stats := persistence.QueueStats{ExpiredCount: q.ExpiredCount(), KilledCount: q.KilledCount()}
	if err := vh.persist.SaveQueueStats(vh.Name, q.Name, stats); err != nil {
		log.Warn().Err(err).Str("queue", q.Name).Msg("Failed to save queue stats")
	}
}
