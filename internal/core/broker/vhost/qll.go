package vhost

import "github.com/rs/zerolog/log"

// QueueLengthLimit (QLL) extension implementation

const ArgMaxLength = "x-max-length"

type QueueLengthLimiter interface {
	EnforceMaxLength(queue *Queue)
}

type NoOpQueueLengthLimiter struct{}

func (qll *NoOpQueueLengthLimiter) EnforceMaxLength(queue *Queue) {
	// No-op
}

type DefaultQueueLengthLimiter struct{}

// EnforceMaxLength makes room for one more message by dead-lettering the
// oldest waiting ones. In-flight messages do not count against the limit.
func (qll *DefaultQueueLengthLimiter) EnforceMaxLength(queue *Queue) {
	maxLength, ok := parseMaxLengthArgument(queue.Props.Arguments)
	if !ok {
		return
	}

	queue.mu.Lock()
	current := len(queue.ready)
	if current < maxLength {
		queue.mu.Unlock()
		return
	}
	excess := current - maxLength + 1

	log.Debug().
		Str("queue", queue.Name).
		Int("current", current).
		Int("max_length", maxLength).
		Int("evicting", excess).
		Msg("Enforcing queue length limit")

	evicted := make([]*QueuedMessage, 0, excess)
	for len(evicted) < excess && len(queue.ready) > 0 {
		oldest := queue.ready[0]
		queue.ready = queue.ready[1:]
		if oldest.transition(StateEnqueued, StateRemoved) {
			evicted = append(evicted, oldest)
		}
	}
	// Dead-lettering enqueues elsewhere; never do it under queue.mu.
	queue.mu.Unlock()

	for _, m := range evicted {
		queue.retire(m, ReasonMaxLength)
	}
}

func parseMaxLengthArgument(args map[string]any) (int, bool) {
	maxLen, ok := args[ArgMaxLength]
	if !ok {
		return 0, false
	}
	value, ok := convertToPositiveInt64(maxLen)
	if !ok {
		return 0, false
	}
	return int(min(value, int64(^uint32(0)))), true
}
