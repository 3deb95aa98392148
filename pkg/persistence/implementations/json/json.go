package json

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/ottermq/otterlane/pkg/persistence"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JsonQueueData is the on-disk layout of one queue file.
type JsonQueueData struct {
	Name       string                      `json:"name"`
	Properties persistence.QueueProperties `json:"properties"`
	Stats      persistence.QueueStats      `json:"stats"`
	Messages   []persistence.Message       `json:"messages"`
}

// JsonPersistence keeps one JSON file per queue. Every write rewrites the
// queue file through a temp file and rename.
type JsonPersistence struct {
	dataDir string
	mu      sync.Mutex
}

func NewJsonPersistence(config *persistence.Config) (*JsonPersistence, error) {
	jp := &JsonPersistence{
		dataDir: config.DataDir,
	}
	return jp, jp.Initialize()
}

func (jp *JsonPersistence) Initialize() error {
	// Create the base data directory if it doesn't exist
	return os.MkdirAll(jp.dataDir, 0755)
}

func (jp *JsonPersistence) Close() error {
	return nil
}

// safeName encodes vhost and queue names for safe filesystem usage
func safeName(name string) string {
	return url.PathEscape(name)
}

func (jp *JsonPersistence) queuesDir(vhost string) string {
	return filepath.Join(jp.dataDir, "vhosts", safeName(vhost), "queues")
}

func (jp *JsonPersistence) queueFile(vhost, name string) string {
	return filepath.Join(jp.queuesDir(vhost), safeName(name)+".json")
}

// SaveQueueMetadata persists a queue's properties while preserving its messages
func (jp *JsonPersistence) SaveQueueMetadata(vhost, name string, props persistence.QueueProperties) error {
	jp.mu.Lock()
	defer jp.mu.Unlock()

	queueData, err := jp.loadQueueFile(vhost, name)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if queueData == nil {
		queueData = &JsonQueueData{Name: name, Messages: []persistence.Message{}}
	}
	queueData.Properties = props
	return jp.saveQueueFile(vhost, name, queueData)
}

func (jp *JsonPersistence) DeleteQueueMetadata(vhost, name string) error {
	jp.mu.Lock()
	defer jp.mu.Unlock()

	if err := os.Remove(jp.queueFile(vhost, name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (jp *JsonPersistence) SaveQueueStats(vhost, name string, stats persistence.QueueStats) error {
	jp.mu.Lock()
	defer jp.mu.Unlock()

	queueData, err := jp.loadQueueFile(vhost, name)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", persistence.ErrQueueNotFound, name, err)
	}
	queueData.Stats = stats
	return jp.saveQueueFile(vhost, name, queueData)
}

func (jp *JsonPersistence) SaveMessage(vhost, queue string, msg persistence.Message) error {
	jp.mu.Lock()
	defer jp.mu.Unlock()

	queueData, err := jp.loadQueueFile(vhost, queue)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", persistence.ErrQueueNotFound, queue, err)
	}
	for i := range queueData.Messages {
		if queueData.Messages[i].Seq == msg.Seq {
			queueData.Messages[i] = msg
			return jp.saveQueueFile(vhost, queue, queueData)
		}
	}
	queueData.Messages = append(queueData.Messages, msg)
	return jp.saveQueueFile(vhost, queue, queueData)
}

func (jp *JsonPersistence) DeleteMessage(vhost, queue string, seq uint64) error {
	jp.mu.Lock()
	defer jp.mu.Unlock()

	queueData, err := jp.loadQueueFile(vhost, queue)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	filtered := queueData.Messages[:0]
	removed := false
	for _, msg := range queueData.Messages {
		if msg.Seq == seq {
			removed = true
			continue
		}
		filtered = append(filtered, msg)
	}
	if !removed {
		return nil
	}
	queueData.Messages = filtered
	return jp.saveQueueFile(vhost, queue, queueData)
}

func (jp *JsonPersistence) LoadAllQueues(vhost string) ([]persistence.QueueSnapshot, error) {
	jp.mu.Lock()
	defer jp.mu.Unlock()

	entries, err := os.ReadDir(jp.queuesDir(vhost))
	if os.IsNotExist(err) {
		return []persistence.QueueSnapshot{}, nil
	}
	if err != nil {
		return nil, err
	}

	var snapshots []persistence.QueueSnapshot
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name, err := url.PathUnescape(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		queueData, err := jp.loadQueueFile(vhost, name)
		if err != nil {
			continue // Skip corrupt files
		}
		messages := append([]persistence.Message(nil), queueData.Messages...)
		sort.Slice(messages, func(i, j int) bool { return messages[i].Seq < messages[j].Seq })

		snapshots = append(snapshots, persistence.QueueSnapshot{
			Name:       queueData.Name,
			Properties: queueData.Properties,
			Stats:      queueData.Stats,
			Messages:   messages,
		})
	}
	return snapshots, nil
}

/* ---- Private methods ---- */

func (jp *JsonPersistence) loadQueueFile(vhost, name string) (*JsonQueueData, error) {
	data, err := os.ReadFile(jp.queueFile(vhost, name))
	if err != nil {
		return nil, err
	}
	var queueData JsonQueueData
	if err := json.Unmarshal(data, &queueData); err != nil {
		return nil, err
	}
	return &queueData, nil
}

func (jp *JsonPersistence) saveQueueFile(vhost, name string, queueData *JsonQueueData) error {
	dir := jp.queuesDir(vhost)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(queueData, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".queue-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), jp.queueFile(vhost, name))
}
