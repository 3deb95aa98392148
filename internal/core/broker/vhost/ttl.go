package vhost

import (
	"math"
	"time"

	"github.com/ottermq/otterlane/internal/core/message"
)

const ArgMessageTTL = "x-message-ttl"

// EffectiveExpiry derives the single absolute deadline of an envelope.
// A non-zero absolute expiry wins over any TTL; an absolute expiry of zero
// counts as unset.
func EffectiveExpiry(env *message.Envelope, enqueuedAt time.Time) (int64, bool) {
	if abs, ok := env.AbsoluteExpiry(); ok && abs != 0 {
		return abs, true
	}
	if ttl, ok := env.TimeToLive(); ok {
		return addMillis(enqueuedAt, ttl), true
	}
	return 0, false
}

// addMillis returns enqueuedAt+ttl in epoch millis, saturating at
// math.MaxInt64 so a huge TTL means "never" rather than wrapping negative.
func addMillis(enqueuedAt time.Time, ttl uint64) int64 {
	base := enqueuedAt.UnixMilli()
	if base >= 0 && ttl > uint64(math.MaxInt64-base) {
		return math.MaxInt64
	}
	return base + int64(ttl)
}

// IsExpired reports whether a deadline has been reached at now.
func IsExpired(expiresAt int64, hasExpiry bool, now time.Time) bool {
	return hasExpiry && now.UnixMilli() >= expiresAt
}

type TTLManager interface {
	// ExpiresAt returns the deadline to store for a message, 0 for none.
	ExpiresAt(env *message.Envelope, queue *Queue, enqueuedAt time.Time) int64
	CheckExpiration(msg *QueuedMessage, now time.Time) bool
}

// DefaultTTLManager honours the envelope's own expiry and falls back to the
// queue's x-message-ttl.
type DefaultTTLManager struct{}

// EnvelopeTTLManager is used when the ttl extension is off: producer expiry
// fields still apply, queue x-message-ttl does not.
type EnvelopeTTLManager struct{}

func (tm *EnvelopeTTLManager) ExpiresAt(env *message.Envelope, _ *Queue, enqueuedAt time.Time) int64 {
	at, _ := EffectiveExpiry(env, enqueuedAt)
	return at
}

func (tm *EnvelopeTTLManager) CheckExpiration(msg *QueuedMessage, now time.Time) bool {
	return IsExpired(msg.ExpiresAt, msg.ExpiresAt != 0, now)
}

func (dtm *DefaultTTLManager) ExpiresAt(env *message.Envelope, queue *Queue, enqueuedAt time.Time) int64 {
	if at, ok := EffectiveExpiry(env, enqueuedAt); ok {
		return at
	}
	// Fall back to per-queue TTL (x-message-ttl)
	if queue != nil {
		if ttlMs, ok := parseTTLArgument(queue.Props.Arguments); ok {
			return addMillis(enqueuedAt, uint64(ttlMs))
		}
	}
	return 0
}

func (dtm *DefaultTTLManager) CheckExpiration(msg *QueuedMessage, now time.Time) bool {
	return IsExpired(msg.ExpiresAt, msg.ExpiresAt != 0, now)
}

// parseTTLArgument extracts the x-message-ttl argument from the queue arguments
func parseTTLArgument(args map[string]any) (int64, bool) {
	ttl, ok := args[ArgMessageTTL]
	if !ok {
		return 0, false
	}
	return convertToPositiveInt64(ttl)
}
