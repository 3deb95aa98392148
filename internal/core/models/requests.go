package models

type CreateQueueRequest struct {
	// Properties/flags
	Durable    bool           `json:"durable" default:"false"`
	AutoDelete bool           `json:"auto_delete" default:"false"`
	Arguments  map[string]any `json:"arguments,omitempty"`

	// Convenience fields (auto-mapped to arguments)
	MaxLength           *int64  `json:"max_length,omitempty"`
	MessageTTL          *int64  `json:"message_ttl,omitempty"`
	MaxDeliveryAttempts *uint32 `json:"max_delivery_attempts,omitempty"`
}

type PublishMessageRequest struct {
	Payload    string         `json:"payload"`
	Encoding   string         `json:"payload_encoding"` // "string" (default) or "base64"
	Durable    bool           `json:"durable"`
	TTL        *uint64        `json:"ttl,omitempty"` // milliseconds
	Properties map[string]any `json:"properties,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SettleRequest identifies a lease handed out by the wire receive endpoint.
type SettleRequest struct {
	Queue       string `json:"queue"`
	LeaseID     uint64 `json:"lease_id"`
	ConsumerTag string `json:"consumer_tag"`
}
