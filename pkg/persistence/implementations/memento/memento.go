package memento

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ottermq/otterlane/pkg/persistence"
)

type queueState struct {
	props    persistence.QueueProperties
	stats    persistence.QueueStats
	messages map[uint64]persistence.Message
}

// MementoPersistence keeps everything in process memory. A VHost rebuilt on
// the same instance sees the state left by the previous one, which is how
// restarts are exercised without touching disk.
type MementoPersistence struct {
	mu     sync.Mutex
	vhosts map[string]map[string]*queueState

	// FailSaves makes SaveMessage return an error, for failure-path tests.
	FailSaves bool
	// FailMetadataSaves does the same for SaveQueueMetadata.
	FailMetadataSaves bool
}

func New() *MementoPersistence {
	return &MementoPersistence{vhosts: make(map[string]map[string]*queueState)}
}

func (m *MementoPersistence) queues(vhost string) map[string]*queueState {
	qs, ok := m.vhosts[vhost]
	if !ok {
		qs = make(map[string]*queueState)
		m.vhosts[vhost] = qs
	}
	return qs
}

func (m *MementoPersistence) SaveQueueMetadata(vhost, name string, props persistence.QueueProperties) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailMetadataSaves {
		return fmt.Errorf("memento: simulated metadata write failure")
	}
	qs := m.queues(vhost)
	if q, ok := qs[name]; ok {
		q.props = props
		return nil
	}
	qs[name] = &queueState{props: props, messages: make(map[uint64]persistence.Message)}
	return nil
}

func (m *MementoPersistence) DeleteQueueMetadata(vhost, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues(vhost), name)
	return nil
}

func (m *MementoPersistence) SaveQueueStats(vhost, name string, stats persistence.QueueStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues(vhost)[name]
	if !ok {
		return fmt.Errorf("%w: %s", persistence.ErrQueueNotFound, name)
	}
	q.stats = stats
	return nil
}

func (m *MementoPersistence) SaveMessage(vhost, queue string, msg persistence.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves {
		return fmt.Errorf("memento: simulated write failure")
	}
	q, ok := m.queues(vhost)[queue]
	if !ok {
		return fmt.Errorf("%w: %s", persistence.ErrQueueNotFound, queue)
	}
	msg.Data = bytes.Clone(msg.Data)
	q.messages[msg.Seq] = msg
	return nil
}

func (m *MementoPersistence) DeleteMessage(vhost, queue string, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues(vhost)[queue]; ok {
		delete(q.messages, seq)
	}
	return nil
}

func (m *MementoPersistence) LoadAllQueues(vhost string) ([]persistence.QueueSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qs := m.queues(vhost)
	snapshots := make([]persistence.QueueSnapshot, 0, len(qs))
	for _, name := range slices.Sorted(maps.Keys(qs)) {
		q := qs[name]
		msgs := make([]persistence.Message, 0, len(q.messages))
		for _, seq := range slices.Sorted(maps.Keys(q.messages)) {
			msgs = append(msgs, q.messages[seq])
		}
		snapshots = append(snapshots, persistence.QueueSnapshot{
			Name:       name,
			Properties: q.props,
			Stats:      q.stats,
			Messages:   msgs,
		})
	}
	return snapshots, nil
}

// MessageCount reports how many messages are stored for a queue.
func (m *MementoPersistence) MessageCount(vhost, queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues(vhost)[queue]; ok {
		return len(q.messages)
	}
	return 0
}

func (m *MementoPersistence) Initialize() error { return nil }
func (m *MementoPersistence) Close() error      { return nil }
