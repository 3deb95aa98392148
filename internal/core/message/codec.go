package message

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// ErrUnsupportedValue is returned when a property or annotation value has a
// Go type the record codec cannot store.
var ErrUnsupportedValue = errors.New("unsupported value type")

// Records are CBOR with an explicit type tag on every dynamic value, so that
// int32 comes back as int32 and a RawValue as a RawValue after a restart.

type valueType uint8

const (
	vtNil valueType = iota
	vtBool
	vtString
	vtBytes
	vtInt8
	vtInt16
	vtInt32
	vtInt64
	vtInt
	vtUint8
	vtUint16
	vtUint32
	vtUint64
	vtFloat32
	vtFloat64
	vtTime
	vtUUID
	vtRaw
	vtMap
	vtList
)

type typedValue struct {
	T valueType       `cbor:"t"`
	V cbor.RawMessage `cbor:"v,omitempty"`
}

type rawRecord struct {
	Protocol string `cbor:"p"`
	Data     []byte `cbor:"d"`
}

type bodyRecord struct {
	Opaque  bool                  `cbor:"o,omitempty"`
	Origin  string                `cbor:"g,omitempty"`
	TypeTag string                `cbor:"y,omitempty"`
	Kind    uint8                 `cbor:"k,omitempty"`
	Text    string                `cbor:"t,omitempty"`
	Data    []byte                `cbor:"d,omitempty"`
	Map     map[string]typedValue `cbor:"m,omitempty"`
}

type envelopeRecord struct {
	ID            string                `cbor:"id"`
	Origin        string                `cbor:"origin"`
	Durable       bool                  `cbor:"durable"`
	Priority      uint8                 `cbor:"priority,omitempty"`
	Body          *bodyRecord           `cbor:"body,omitempty"`
	Properties    Properties            `cbor:"props"`
	AppProps      map[string]typedValue `cbor:"app,omitempty"`
	MsgAnn        map[string]typedValue `cbor:"ma,omitempty"`
	DelAnn        map[string]typedValue `cbor:"da,omitempty"`
	TTL           *uint64               `cbor:"ttl,omitempty"`
	AbsExpiry     *int64                `cbor:"abs,omitempty"`
	DeliveryCount uint32                `cbor:"dc,omitempty"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes an envelope into its durable record form.
func Marshal(e *Envelope) ([]byte, error) {
	rec := envelopeRecord{
		ID:            e.ID,
		Origin:        string(e.Origin),
		Durable:       e.Durable,
		Priority:      e.Priority,
		Properties:    e.Properties,
		TTL:           e.TimeToLiveMillis,
		AbsExpiry:     e.AbsoluteExpiryTime,
		DeliveryCount: e.DeliveryCount,
	}
	var err error
	if rec.Body, err = encodeBody(e.Body); err != nil {
		return nil, err
	}
	if rec.AppProps, err = encodeValueMap(e.ApplicationProperties); err != nil {
		return nil, fmt.Errorf("application properties: %w", err)
	}
	if rec.MsgAnn, err = encodeValueMap(e.MessageAnnotations); err != nil {
		return nil, fmt.Errorf("message annotations: %w", err)
	}
	if rec.DelAnn, err = encodeValueMap(e.DeliveryAnnotations); err != nil {
		return nil, fmt.Errorf("delivery annotations: %w", err)
	}
	return encMode.Marshal(rec)
}

// Unmarshal decodes a record produced by Marshal.
func Unmarshal(data []byte) (*Envelope, error) {
	var rec envelopeRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode envelope record: %w", err)
	}
	e := &Envelope{
		ID:                 rec.ID,
		Origin:             Protocol(rec.Origin),
		Durable:            rec.Durable,
		Priority:           rec.Priority,
		Properties:         rec.Properties,
		TimeToLiveMillis:   rec.TTL,
		AbsoluteExpiryTime: rec.AbsExpiry,
		DeliveryCount:      rec.DeliveryCount,
	}
	var err error
	if e.Body, err = decodeBody(rec.Body); err != nil {
		return nil, err
	}
	if e.ApplicationProperties, err = decodeValueMap(rec.AppProps); err != nil {
		return nil, err
	}
	ma, err := decodeValueMap(rec.MsgAnn)
	if err != nil {
		return nil, err
	}
	da, err := decodeValueMap(rec.DelAnn)
	if err != nil {
		return nil, err
	}
	e.MessageAnnotations, e.DeliveryAnnotations = Annotations(ma), Annotations(da)
	return e, nil
}

func encodeBody(b Body) (*bodyRecord, error) {
	switch t := b.(type) {
	case nil:
		return nil, nil
	case *OpaqueBody:
		return &bodyRecord{Opaque: true, Origin: string(t.Origin), TypeTag: t.TypeTag, Data: t.Data}, nil
	case *StructuredBody:
		rec := &bodyRecord{Kind: uint8(t.Kind), Text: t.Text, Data: t.Data}
		if t.Kind == KindMap {
			m, err := encodeValueMap(t.Map)
			if err != nil {
				return nil, fmt.Errorf("map body: %w", err)
			}
			rec.Map = m
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("%w: body %T", ErrUnsupportedValue, b)
	}
}

func decodeBody(rec *bodyRecord) (Body, error) {
	if rec == nil {
		return nil, nil
	}
	if rec.Opaque {
		return NewOpaque(Protocol(rec.Origin), rec.TypeTag, rec.Data), nil
	}
	body := &StructuredBody{Kind: StructuredKind(rec.Kind), Text: rec.Text, Data: rec.Data}
	if body.Kind == KindMap {
		m, err := decodeValueMap(rec.Map)
		if err != nil {
			return nil, err
		}
		if m == nil {
			m = make(map[string]any)
		}
		body.Map = m
	}
	return body, nil
}

func encodeValueMap(m map[string]any) (map[string]typedValue, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]typedValue, len(m))
	for k, v := range m {
		tv, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = tv
	}
	return out, nil
}

func decodeValueMap(m map[string]typedValue) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, tv := range m {
		v, err := decodeValue(tv)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func encodeValue(v any) (typedValue, error) {
	var (
		t       valueType
		payload any
	)
	switch x := v.(type) {
	case nil:
		return typedValue{T: vtNil}, nil
	case bool:
		t, payload = vtBool, x
	case string:
		t, payload = vtString, x
	case []byte:
		t, payload = vtBytes, x
	case int8:
		t, payload = vtInt8, x
	case int16:
		t, payload = vtInt16, x
	case int32:
		t, payload = vtInt32, x
	case int64:
		t, payload = vtInt64, x
	case int:
		t, payload = vtInt, int64(x)
	case uint8:
		t, payload = vtUint8, x
	case uint16:
		t, payload = vtUint16, x
	case uint32:
		t, payload = vtUint32, x
	case uint64:
		t, payload = vtUint64, x
	case float32:
		t, payload = vtFloat32, x
	case float64:
		t, payload = vtFloat64, x
	case time.Time:
		t, payload = vtTime, x.UnixNano()
	case uuid.UUID:
		t, payload = vtUUID, x[:]
	case RawValue:
		t, payload = vtRaw, rawRecord{Protocol: string(x.Protocol), Data: x.Data}
	case map[string]any:
		m, err := encodeValueMap(x)
		if err != nil {
			return typedValue{}, err
		}
		if m == nil {
			m = map[string]typedValue{}
		}
		t, payload = vtMap, m
	case Annotations:
		return encodeValue(map[string]any(x))
	case []any:
		list := make([]typedValue, len(x))
		for i, e := range x {
			tv, err := encodeValue(e)
			if err != nil {
				return typedValue{}, err
			}
			list[i] = tv
		}
		t, payload = vtList, list
	default:
		return typedValue{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	raw, err := encMode.Marshal(payload)
	if err != nil {
		return typedValue{}, err
	}
	return typedValue{T: t, V: raw}, nil
}

func decodeValue(tv typedValue) (any, error) {
	switch tv.T {
	case vtNil:
		return nil, nil
	case vtBool:
		return decodeAs[bool](tv.V)
	case vtString:
		return decodeAs[string](tv.V)
	case vtBytes:
		return decodeAs[[]byte](tv.V)
	case vtInt8:
		return decodeAs[int8](tv.V)
	case vtInt16:
		return decodeAs[int16](tv.V)
	case vtInt32:
		return decodeAs[int32](tv.V)
	case vtInt64:
		return decodeAs[int64](tv.V)
	case vtInt:
		n, err := decodeAs[int64](tv.V)
		return int(n), err
	case vtUint8:
		return decodeAs[uint8](tv.V)
	case vtUint16:
		return decodeAs[uint16](tv.V)
	case vtUint32:
		return decodeAs[uint32](tv.V)
	case vtUint64:
		return decodeAs[uint64](tv.V)
	case vtFloat32:
		return decodeAs[float32](tv.V)
	case vtFloat64:
		return decodeAs[float64](tv.V)
	case vtTime:
		n, err := decodeAs[int64](tv.V)
		if err != nil {
			return nil, err
		}
		return time.Unix(0, n), nil
	case vtUUID:
		b, err := decodeAs[[]byte](tv.V)
		if err != nil {
			return nil, err
		}
		return uuid.FromBytes(b)
	case vtRaw:
		r, err := decodeAs[rawRecord](tv.V)
		if err != nil {
			return nil, err
		}
		return RawValue{Protocol: Protocol(r.Protocol), Data: r.Data}, nil
	case vtMap:
		m, err := decodeAs[map[string]typedValue](tv.V)
		if err != nil {
			return nil, err
		}
		return decodeValueMap(m)
	case vtList:
		list, err := decodeAs[[]typedValue](tv.V)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(list))
		for i, e := range list {
			if out[i], err = decodeValue(e); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: record tag %d", ErrUnsupportedValue, tv.T)
	}
}

func decodeAs[T any](raw cbor.RawMessage) (T, error) {
	var v T
	err := cbor.Unmarshal(raw, &v)
	return v, err
}
