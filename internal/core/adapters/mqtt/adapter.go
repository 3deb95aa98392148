// Package mqtt maps MQTT 3.1.1 application payloads onto envelopes. MQTT 3.1.1
// has no property container, so only the body and the publish fields survive.
package mqtt

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ottermq/otterlane/internal/core/adapters"
	"github.com/ottermq/otterlane/internal/core/message"
)

// AnnotationRetain marks an envelope published with the retain flag.
const AnnotationRetain = "x-opt-mqtt-retain"

// Publish is the part of a PUBLISH packet that reaches the broker core.
type Publish struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

type Options struct {
	// DecodeMaps turns payloads that are msgpack maps with string keys into
	// map bodies. Otherwise every payload is a bytes body.
	DecodeMaps bool
}

type Adapter struct {
	opts Options
}

func New(opts Options) *Adapter {
	return &Adapter{opts: opts}
}

func (a *Adapter) Protocol() message.Protocol { return message.ProtocolMQTT }

func (a *Adapter) Decode(wire []byte) (*message.Envelope, error) {
	return a.DecodePublish(Publish{Payload: wire})
}

// DecodePublish builds an envelope from a publish. The topic becomes the
// envelope's To address and QoS 1 or 2 makes it durable.
func (a *Adapter) DecodePublish(p Publish) (*message.Envelope, error) {
	if p.QoS > 2 {
		return nil, adapters.Malformed(message.ProtocolMQTT, "invalid qos %d", p.QoS)
	}
	env := message.New(message.ProtocolMQTT, message.NewBytes(bytes.Clone(p.Payload)))
	env.Durable = p.QoS > 0
	env.Properties.To = p.Topic
	if p.Retain {
		env.MessageAnnotations[AnnotationRetain] = true
	}

	if a.opts.DecodeMaps && len(p.Payload) > 0 {
		var m map[string]any
		if err := msgpack.Unmarshal(p.Payload, &m); err == nil && m != nil {
			env.Body = message.NewMap(m)
		}
	}
	return env, nil
}

func (a *Adapter) Encode(env *message.Envelope) ([]byte, error) {
	p, err := a.EncodePublish(env)
	if err != nil {
		return nil, err
	}
	return p.Payload, nil
}

// EncodePublish renders the envelope as a publish. Opaque bodies from other
// protocols are converted to a bytes payload holding their encoded form.
func (a *Adapter) EncodePublish(env *message.Envelope) (Publish, error) {
	p := Publish{Topic: env.Properties.To}
	if env.Durable {
		p.QoS = 1
	}
	p.Retain, _ = env.MessageAnnotations[AnnotationRetain].(bool)

	switch b := env.Body.(type) {
	case nil:
		p.Payload = []byte{}
	case *message.OpaqueBody:
		// MQTT has nowhere to put the type tag; foreign opaque bodies go out
		// as their raw encoded bytes.
		p.Payload = b.Data
	case *message.StructuredBody:
		switch b.Kind {
		case message.KindText:
			p.Payload = []byte(b.Text)
		case message.KindBytes, message.KindObject:
			p.Payload = b.Data
		case message.KindMap:
			m, err := plainMap(b.Map)
			if err != nil {
				return Publish{}, fmt.Errorf("%w: %v", adapters.ErrUnsupportedBody, err)
			}
			data, err := msgpack.Marshal(m)
			if err != nil {
				return Publish{}, fmt.Errorf("%w: %v", adapters.ErrUnsupportedBody, err)
			}
			p.Payload = data
		default:
			return Publish{}, adapters.Unsupported(message.ProtocolMQTT, b)
		}
	default:
		return Publish{}, adapters.Unsupported(message.ProtocolMQTT, env.Body)
	}
	return p, nil
}

// plainMap converts map values to types msgpack encodes natively.
func plainMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		pv, err := plainValue(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = pv
	}
	return out, nil
}

func plainValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, []byte, time.Time,
		int, int8, int16, int32, int64,
		uint8, uint16, uint32, uint64,
		float32, float64:
		return v, nil
	case uuid.UUID:
		return x.String(), nil
	case message.RawValue:
		return x.Data, nil
	case message.Annotations:
		return plainMap(x)
	case map[string]any:
		return plainMap(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			pv, err := plainValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = pv
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T", message.ErrUnsupportedValue, v)
}
