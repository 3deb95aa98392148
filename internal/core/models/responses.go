package models

type ErrorResponse struct {
	Error string `json:"error"`
	Code  uint16 `json:"code,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

type QueueListResponse struct {
	Queues []QueueDTO `json:"queues"`
}

type PurgeResponse struct {
	Purged int `json:"purged"`
}

type MessageListResponse struct {
	Messages []MessageDTO `json:"messages"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// WireDeliveryResponse carries one leased message encoded for the
// consumer's protocol. Payload is base64 in JSON.
type WireDeliveryResponse struct {
	Queue         string `json:"queue"`
	LeaseID       uint64 `json:"lease_id"`
	ConsumerTag   string `json:"consumer_tag"`
	Protocol      string `json:"protocol"`
	MessageID     string `json:"message_id"`
	DeliveryCount uint32 `json:"delivery_count"`
	Redelivered   bool   `json:"redelivered"`
	Payload       []byte `json:"payload"`
}
