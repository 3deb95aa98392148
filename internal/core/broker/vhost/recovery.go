package vhost

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ottermq/otterlane/internal/core/message"
	"github.com/ottermq/otterlane/pkg/persistence"
)

// loadPersistedState rebuilds durable queues, their messages and cumulative
// counters. Stored deadlines are absolute, so a message that expired while
// the broker was down is caught by the next sweep or dequeue.
func (vh *VHost) loadPersistedState() {
	snapshots, err := vh.persist.LoadAllQueues(vh.Name)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load queues from persistence")
		return
	}
	for _, snap := range snapshots {
		if err := vh.RecoverQueue(snap); err != nil {
			log.Error().Err(err).Str("queue", snap.Name).Msg("Failed to recover queue")
		}
	}
}

// RecoverQueue recreates a queue from its persisted state
func (vh *VHost) RecoverQueue(snap persistence.QueueSnapshot) error {
	props := &QueueProperties{
		Durable:    snap.Properties.Durable,
		AutoDelete: snap.Properties.AutoDelete,
		Arguments:  QueueArgs(snap.Properties.Arguments),
	}
	if props.Arguments == nil {
		props.Arguments = make(QueueArgs)
	}
	q := NewQueue(snap.Name, props, vh)
	q.expiredCount.Store(snap.Stats.ExpiredCount)
	q.killedCount.Store(snap.Stats.KilledCount)

	restored := 0
	for _, rec := range snap.Messages {
		env, err := message.Unmarshal(rec.Data)
		if err != nil {
			log.Error().Err(err).Str("queue", snap.Name).Uint64("seq", rec.Seq).Msg("Skipping unreadable message")
			continue
		}
		q.restore(&QueuedMessage{
			Seq:        rec.Seq,
			Envelope:   env,
			EnqueuedAt: time.UnixMilli(rec.EnqueuedAt),
			ExpiresAt:  rec.ExpiresAt,
			persisted:  true,
		})
		restored++
	}
	vh.queues.Set(q.Name, q)
	vh.metrics.SetQueueDepth(q.Name, q.MessageCount())

	log.Debug().Str("queue", q.Name).Int("messages", restored).Uint64("expired", q.ExpiredCount()).Msg("Recovered queue")
	return nil
}
