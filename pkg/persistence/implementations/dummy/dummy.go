package dummy

import "github.com/ottermq/otterlane/pkg/persistence"

// DummyPersistence implements persistence.Persistence with no-ops for testing
type DummyPersistence struct{}

func (d *DummyPersistence) SaveQueueMetadata(vhost, name string, props persistence.QueueProperties) error {
	return nil
}
func (d *DummyPersistence) DeleteQueueMetadata(vhost, name string) error { return nil }
func (d *DummyPersistence) SaveQueueStats(vhost, name string, stats persistence.QueueStats) error {
	return nil
}
func (d *DummyPersistence) SaveMessage(vhost, queue string, msg persistence.Message) error {
	return nil
}
func (d *DummyPersistence) DeleteMessage(vhost, queue string, seq uint64) error { return nil }
func (d *DummyPersistence) LoadAllQueues(vhost string) ([]persistence.QueueSnapshot, error) {
	return nil, nil
}
func (d *DummyPersistence) Initialize() error { return nil }
func (d *DummyPersistence) Close() error      { return nil }
