package message

import (
	"github.com/google/uuid"
)

// Protocol identifies the wire protocol an envelope or opaque payload came from.
type Protocol string

const (
	ProtocolAMQP    Protocol = "amqp"
	ProtocolAMQP091 Protocol = "amqp091"
	ProtocolMQTT    Protocol = "mqtt"
	ProtocolCore    Protocol = "core"
)

// RawValue is a property or annotation value that the decoding protocol could
// not map onto a Go type. It is kept as that protocol's encoded bytes.
type RawValue struct {
	Protocol Protocol
	Data     []byte
}

// Properties are the immutable bare-message properties shared by the
// supported protocols.
type Properties struct {
	MessageID       string
	CorrelationID   string
	ContentType     string
	ContentEncoding string
	Subject         string
	ReplyTo         string
	To              string
	UserID          string
	GroupID         string
	GroupSequence   uint32
	ReplyToGroupID  string
	CreationTime    int64 // epoch millis, 0 when unset
}

// Envelope is the protocol-neutral in-broker message.
type Envelope struct {
	ID       string
	Origin   Protocol
	Durable  bool
	Priority uint8

	Body       Body
	Properties Properties

	ApplicationProperties map[string]any
	MessageAnnotations    Annotations
	// DeliveryAnnotations are hop-scoped and never survive an address change.
	DeliveryAnnotations Annotations

	TimeToLiveMillis   *uint64
	AbsoluteExpiryTime *int64 // epoch millis

	DeliveryCount uint32
}

// New creates an envelope with a fresh ID and empty maps.
func New(origin Protocol, body Body) *Envelope {
	return &Envelope{
		ID:                    GenerateID(),
		Origin:                origin,
		Body:                  body,
		ApplicationProperties: make(map[string]any),
		MessageAnnotations:    make(Annotations),
		DeliveryAnnotations:   make(Annotations),
	}
}

func GenerateID() string {
	return uuid.New().String()
}

func (e *Envelope) SetTimeToLive(ms uint64) *Envelope {
	e.TimeToLiveMillis = &ms
	return e
}

func (e *Envelope) SetAbsoluteExpiryTime(epochMillis int64) *Envelope {
	e.AbsoluteExpiryTime = &epochMillis
	return e
}

func (e *Envelope) ClearExpiry() {
	e.TimeToLiveMillis = nil
	e.AbsoluteExpiryTime = nil
}

// TimeToLive returns the relative lifetime and whether it is set.
func (e *Envelope) TimeToLive() (uint64, bool) {
	if e.TimeToLiveMillis == nil {
		return 0, false
	}
	return *e.TimeToLiveMillis, true
}

// AbsoluteExpiry returns the absolute deadline and whether it is set.
// A zero value is reported as set; callers decide what zero means.
func (e *Envelope) AbsoluteExpiry() (int64, bool) {
	if e.AbsoluteExpiryTime == nil {
		return 0, false
	}
	return *e.AbsoluteExpiryTime, true
}

// Size approximates the envelope's payload footprint.
func (e *Envelope) Size() int {
	n := 0
	if e.Body != nil {
		n += e.Body.Len()
	}
	for k, v := range e.ApplicationProperties {
		n += len(k) + valueSize(v)
	}
	return n
}

// Clone returns a deep copy; mutating the copy never affects e.
func (e *Envelope) Clone() *Envelope {
	c := *e
	c.Body = CloneBody(e.Body)
	c.ApplicationProperties = cloneValues(e.ApplicationProperties)
	c.MessageAnnotations = e.MessageAnnotations.Clone()
	c.DeliveryAnnotations = e.DeliveryAnnotations.Clone()
	if e.TimeToLiveMillis != nil {
		ttl := *e.TimeToLiveMillis
		c.TimeToLiveMillis = &ttl
	}
	if e.AbsoluteExpiryTime != nil {
		abs := *e.AbsoluteExpiryTime
		c.AbsoluteExpiryTime = &abs
	}
	return &c
}

// IsOpaque reports whether the body is an opaque payload and returns it.
func (e *Envelope) IsOpaque() (*OpaqueBody, bool) {
	b, ok := e.Body.(*OpaqueBody)
	return b, ok
}
