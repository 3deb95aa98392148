package message

import (
	"bytes"
	"fmt"
	"maps"
)

// Body is the payload of an Envelope. It is a closed variant: the only
// implementations are *OpaqueBody and *StructuredBody.
type Body interface {
	isBody()
	// Len returns the payload size in bytes (approximate for maps).
	Len() int
	clone() Body
}

// OpaqueBody holds a payload exactly as its origin protocol encoded it.
// Only an adapter for Origin may interpret Data.
type OpaqueBody struct {
	Origin  Protocol
	TypeTag string
	Data    []byte
}

func (*OpaqueBody) isBody() {}

func (b *OpaqueBody) Len() int { return len(b.Data) }

func (b *OpaqueBody) clone() Body {
	return &OpaqueBody{Origin: b.Origin, TypeTag: b.TypeTag, Data: bytes.Clone(b.Data)}
}

func (b *OpaqueBody) String() string {
	return fmt.Sprintf("opaque(%s:%s, %d bytes)", b.Origin, b.TypeTag, len(b.Data))
}

type StructuredKind uint8

const (
	KindText StructuredKind = iota + 1
	KindBytes
	KindObject
	KindMap
)

func (k StructuredKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	case KindObject:
		return "object"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// StructuredBody is a body every adapter knows how to re-encode.
// Text is set for KindText, Data for KindBytes and KindObject, Map for KindMap.
type StructuredBody struct {
	Kind StructuredKind
	Text string
	Data []byte
	Map  map[string]any
}

func (*StructuredBody) isBody() {}

func (b *StructuredBody) Len() int {
	switch b.Kind {
	case KindText:
		return len(b.Text)
	case KindMap:
		n := 0
		for k, v := range b.Map {
			n += len(k) + valueSize(v)
		}
		return n
	default:
		return len(b.Data)
	}
}

func (b *StructuredBody) clone() Body {
	c := &StructuredBody{Kind: b.Kind, Text: b.Text, Data: bytes.Clone(b.Data)}
	if b.Map != nil {
		c.Map = cloneValues(b.Map)
	}
	return c
}

func NewText(s string) *StructuredBody { return &StructuredBody{Kind: KindText, Text: s} }

func NewBytes(data []byte) *StructuredBody { return &StructuredBody{Kind: KindBytes, Data: data} }

// NewObject wraps a serialized object payload (JMS ObjectMessage style).
func NewObject(data []byte) *StructuredBody { return &StructuredBody{Kind: KindObject, Data: data} }

func NewMap(m map[string]any) *StructuredBody {
	if m == nil {
		m = make(map[string]any)
	}
	return &StructuredBody{Kind: KindMap, Map: m}
}

func NewOpaque(origin Protocol, typeTag string, data []byte) *OpaqueBody {
	return &OpaqueBody{Origin: origin, TypeTag: typeTag, Data: data}
}

// CloneBody returns a deep copy of b. A nil body stays nil.
func CloneBody(b Body) Body {
	if b == nil {
		return nil
	}
	return b.clone()
}

func valueSize(v any) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case []byte:
		return len(t)
	case RawValue:
		return len(t.Data)
	case map[string]any:
		n := 0
		for k, e := range t {
			n += len(k) + valueSize(e)
		}
		return n
	case []any:
		n := 0
		for _, e := range t {
			n += valueSize(e)
		}
		return n
	default:
		return 8
	}
}

func cloneValues(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := maps.Clone(m)
	for k, v := range c {
		c[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return bytes.Clone(t)
	case RawValue:
		return RawValue{Protocol: t.Protocol, Data: bytes.Clone(t.Data)}
	case map[string]any:
		return cloneValues(t)
	case []any:
		c := make([]any, len(t))
		for i, e := range t {
			c[i] = cloneValue(e)
		}
		return c
	default:
		return v
	}
}
