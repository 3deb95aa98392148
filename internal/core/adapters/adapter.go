// Package adapters translates protocol wire messages to and from the
// protocol-neutral envelope.
package adapters

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ottermq/otterlane/internal/core/message"
)

var (
	// ErrMalformed means the wire bytes could not be decoded.
	ErrMalformed = errors.New("malformed message")
	// ErrUnsupportedBody means the envelope's body cannot be carried by the
	// target protocol. The envelope is left untouched.
	ErrUnsupportedBody = errors.New("unsupported body for protocol")
	ErrUnknownProtocol = errors.New("unknown protocol")
)

// Adapter converts one wire format. Decode must keep every property and
// annotation it does not understand; Encode must re-emit opaque bodies of its
// own protocol byte for byte and either carry or refuse foreign ones.
type Adapter interface {
	Protocol() message.Protocol
	Decode(wire []byte) (*message.Envelope, error)
	Encode(env *message.Envelope) ([]byte, error)
}

// Opaque bodies that cross a protocol without an opaque container are tagged
// with these keys so the origin adapter can recover them on the way back.
const (
	OpaqueOriginKey = "x-opt-opaque-origin"
	OpaqueTypeKey   = "x-opt-opaque-type"
)

// Malformed wraps a decode failure.
func Malformed(protocol message.Protocol, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformed, protocol, fmt.Sprintf(format, args...))
}

// Unsupported reports a body the protocol cannot carry.
func Unsupported(protocol message.Protocol, body message.Body) error {
	switch b := body.(type) {
	case *message.OpaqueBody:
		return fmt.Errorf("%w: %s cannot carry %s opaque body %q", ErrUnsupportedBody, protocol, b.Origin, b.TypeTag)
	default:
		return fmt.Errorf("%w: %s cannot carry %T", ErrUnsupportedBody, protocol, body)
	}
}

type Registry struct {
	mu       sync.RWMutex
	adapters map[message.Protocol]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[message.Protocol]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its protocol.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Protocol()] = a
}

func (r *Registry) Get(p message.Protocol) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, p)
	}
	return a, nil
}

// Protocols lists the registered protocols in name order.
func (r *Registry) Protocols() []message.Protocol {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]message.Protocol, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
