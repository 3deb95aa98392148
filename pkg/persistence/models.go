package persistence

// Message is a stored envelope. Data is the envelope record produced by the
// message codec and is opaque to storage backends.
type Message struct {
	Seq        uint64 `json:"seq"`
	ID         string `json:"id"`
	Data       []byte `json:"data"`
	EnqueuedAt int64  `json:"enqueued_at"` // epoch millis
	ExpiresAt  int64  `json:"expires_at"`  // effective expiry, epoch millis, 0 = never
}

type QueueProperties struct {
	Durable    bool           `json:"durable"`
	AutoDelete bool           `json:"auto_delete"`
	Arguments  map[string]any `json:"arguments"`
}

// QueueStats are cumulative counters that must survive a restart.
type QueueStats struct {
	ExpiredCount uint64 `json:"expired_count"`
	KilledCount  uint64 `json:"killed_count"`
}

type QueueSnapshot struct {
	Name       string
	Properties QueueProperties
	Stats      QueueStats
	Messages   []Message
}
