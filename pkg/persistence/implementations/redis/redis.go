package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ottermq/otterlane/pkg/persistence"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultTimeout = 5 * time.Second

// RedisPersistence keeps each queue in two hashes: one with the queue's
// properties and counters, one mapping seq to the stored message.
//
// Key layout (prefix defaults to "otterlane"):
//
//	<prefix>:<vhost>:queues            set of queue names
//	<prefix>:<vhost>:queue:<name>      hash {props, expired, killed}
//	<prefix>:<vhost>:queue:<name>:msgs hash {seq: message json}
type RedisPersistence struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisPersistence connects to the server named by the "addr" option
// (default localhost:6379). Other options: "db", "password", "prefix".
func NewRedisPersistence(config *persistence.Config) (*RedisPersistence, error) {
	opts := &redis.Options{Addr: "localhost:6379"}
	if v := config.Options["addr"]; v != "" {
		opts.Addr = v
	}
	if v := config.Options["password"]; v != "" {
		opts.Password = v
	}
	if v := config.Options["db"]; v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q: %w", v, err)
		}
		opts.DB = db
	}
	rp := &RedisPersistence{
		client:  redis.NewClient(opts),
		prefix:  "otterlane",
		timeout: defaultTimeout,
	}
	if v := config.Options["prefix"]; v != "" {
		rp.prefix = v
	}
	if err := rp.Initialize(); err != nil {
		rp.client.Close()
		return nil, err
	}
	return rp, nil
}

func (rp *RedisPersistence) Initialize() error {
	ctx, cancel := rp.ctx()
	defer cancel()
	if err := rp.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (rp *RedisPersistence) Close() error {
	return rp.client.Close()
}

func (rp *RedisPersistence) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), rp.timeout)
}

func (rp *RedisPersistence) queuesKey(vhost string) string {
	return rp.prefix + ":" + vhost + ":queues"
}

func (rp *RedisPersistence) queueKey(vhost, name string) string {
	return rp.prefix + ":" + vhost + ":queue:" + name
}

func (rp *RedisPersistence) messagesKey(vhost, name string) string {
	return rp.queueKey(vhost, name) + ":msgs"
}

func (rp *RedisPersistence) SaveQueueMetadata(vhost, name string, props persistence.QueueProperties) error {
	data, err := json.Marshal(props)
	if err != nil {
		return err
	}
	ctx, cancel := rp.ctx()
	defer cancel()
	_, err = rp.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, rp.queuesKey(vhost), name)
		pipe.HSet(ctx, rp.queueKey(vhost, name), "props", string(data))
		return nil
	})
	return err
}

func (rp *RedisPersistence) DeleteQueueMetadata(vhost, name string) error {
	ctx, cancel := rp.ctx()
	defer cancel()
	_, err := rp.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, rp.queuesKey(vhost), name)
		pipe.Del(ctx, rp.queueKey(vhost, name), rp.messagesKey(vhost, name))
		return nil
	})
	return err
}

func (rp *RedisPersistence) exists(ctx context.Context, vhost, name string) error {
	ok, err := rp.client.SIsMember(ctx, rp.queuesKey(vhost), name).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", persistence.ErrQueueNotFound, name)
	}
	return nil
}

func (rp *RedisPersistence) SaveQueueStats(vhost, name string, stats persistence.QueueStats) error {
	ctx, cancel := rp.ctx()
	defer cancel()
	if err := rp.exists(ctx, vhost, name); err != nil {
		return err
	}
	return rp.client.HSet(ctx, rp.queueKey(vhost, name),
		"expired", stats.ExpiredCount,
		"killed", stats.KilledCount,
	).Err()
}

func (rp *RedisPersistence) SaveMessage(vhost, queue string, msg persistence.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := rp.ctx()
	defer cancel()
	if err := rp.exists(ctx, vhost, queue); err != nil {
		return err
	}
	return rp.client.HSet(ctx, rp.messagesKey(vhost, queue), strconv.FormatUint(msg.Seq, 10), data).Err()
}

func (rp *RedisPersistence) DeleteMessage(vhost, queue string, seq uint64) error {
	ctx, cancel := rp.ctx()
	defer cancel()
	return rp.client.HDel(ctx, rp.messagesKey(vhost, queue), strconv.FormatUint(seq, 10)).Err()
}

func (rp *RedisPersistence) LoadAllQueues(vhost string) ([]persistence.QueueSnapshot, error) {
	ctx, cancel := rp.ctx()
	defer cancel()

	names, err := rp.client.SMembers(ctx, rp.queuesKey(vhost)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	snapshots := make([]persistence.QueueSnapshot, 0, len(names))
	for _, name := range names {
		fields, err := rp.client.HGetAll(ctx, rp.queueKey(vhost, name)).Result()
		if err != nil {
			return nil, err
		}
		snap := persistence.QueueSnapshot{Name: name}
		if raw := fields["props"]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &snap.Properties); err != nil {
				log.Warn().Err(err).Str("queue", name).Msg("Ignoring unreadable queue properties")
			}
		}
		snap.Stats.ExpiredCount, _ = strconv.ParseUint(fields["expired"], 10, 64)
		snap.Stats.KilledCount, _ = strconv.ParseUint(fields["killed"], 10, 64)

		raw, err := rp.client.HGetAll(ctx, rp.messagesKey(vhost, name)).Result()
		if err != nil {
			return nil, err
		}
		snap.Messages = make([]persistence.Message, 0, len(raw))
		for seq, data := range raw {
			var msg persistence.Message
			if err := json.Unmarshal([]byte(data), &msg); err != nil {
				log.Error().Err(err).Str("queue", name).Str("seq", seq).Msg("Skipping corrupt message record")
				continue
			}
			snap.Messages = append(snap.Messages, msg)
		}
		sort.Slice(snap.Messages, func(i, j int) bool { return snap.Messages[i].Seq < snap.Messages[j].Seq })
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}
