package models

import "time"

type QueueDTO struct {
	// Identity
	VHost string `json:"vhost"`
	Name  string `json:"name"`

	// Message counts
	Messages        int64 `json:"messages"`       // Ready + Unacked
	MessagesReady   int   `json:"messages_ready"` // Waiting for a consumer
	MessagesUnacked int   `json:"messages_unacked"`

	// Cumulative counters
	Expired            uint64 `json:"expired"`
	Killed             uint64 `json:"killed"`
	DeadLetterDropped  uint64 `json:"dead_letter_dropped"`
	PersistenceEnabled bool   `json:"persistence_enabled"`

	// Properties/flags
	Durable    bool           `json:"durable"`
	AutoDelete bool           `json:"auto_delete"`
	Arguments  map[string]any `json:"arguments"`

	// TTL Configuration
	MessageTTL *int64 `json:"message_ttl,omitempty"` // in milliseconds

	// Queue Length Limit (QLL AKA Max Length)
	MaxLength *int64 `json:"max_length,omitempty"`

	// Redelivery limit, 0 = unlimited
	MaxDeliveryAttempts uint32 `json:"max_delivery_attempts"`
}

// MessageDTO is a read-only view of a queued envelope.
type MessageDTO struct {
	ID            string         `json:"id"`
	Origin        string         `json:"origin"`
	Durable       bool           `json:"durable"`
	Priority      uint8          `json:"priority"`
	DeliveryCount uint32         `json:"delivery_count"`
	BodyKind      string         `json:"body_kind"` // text, bytes, object, map, opaque
	TypeTag       string         `json:"type_tag,omitempty"`
	Payload       string         `json:"payload"`
	Encoding      string         `json:"payload_encoding"` // "string" or "base64"
	Properties    map[string]any `json:"properties"`
	Annotations   map[string]any `json:"annotations,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
}
