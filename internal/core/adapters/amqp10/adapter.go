// Package amqp10 maps the AMQP 1.0 message format onto envelopes.
package amqp10

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ottermq/otterlane/internal/core/adapters"
	"github.com/ottermq/otterlane/internal/core/message"
)

// Message section descriptors.
const (
	sectionHeader                uint64 = 0x70
	sectionDeliveryAnnotations   uint64 = 0x71
	sectionMessageAnnotations    uint64 = 0x72
	sectionProperties            uint64 = 0x73
	sectionApplicationProperties uint64 = 0x74
	sectionData                  uint64 = 0x75
	sectionSequence              uint64 = 0x76
	sectionValue                 uint64 = 0x77
	sectionFooter                uint64 = 0x78
)

var sectionSymbols = map[symbol]uint64{
	"amqp:header:list":                sectionHeader,
	"amqp:delivery-annotations:map":   sectionDeliveryAnnotations,
	"amqp:message-annotations:map":    sectionMessageAnnotations,
	"amqp:properties:list":            sectionProperties,
	"amqp:application-properties:map": sectionApplicationProperties,
	"amqp:data:binary":                sectionData,
	"amqp:amqp-sequence:list":         sectionSequence,
	"amqp:amqp-value:*":               sectionValue,
	"amqp:footer:map":                 sectionFooter,
}

const (
	defaultPriority = 4

	// FooterAnnotation keeps a received footer section so it can be written
	// back by this adapter.
	FooterAnnotation = "x-opt-amqp-footer"

	// ContentTypeSerializedObject marks a data section holding a serialized
	// object.
	ContentTypeSerializedObject = "application/x-java-serialized-object"

	TagData     = "amqp:data"
	TagSequence = "amqp:amqp-sequence"
	TagValue    = "amqp:amqp-value"
)

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Protocol() message.Protocol { return message.ProtocolAMQP }

type bodySection struct {
	code       uint64
	start      int
	valueStart int
	end        int
}

// Decode parses a bare or annotated AMQP 1.0 message. Bodies that do not
// re-encode to exactly the bytes received are kept opaque.
func (a *Adapter) Decode(wire []byte) (*message.Envelope, error) {
	env := &message.Envelope{
		Origin:                message.ProtocolAMQP,
		Priority:              defaultPriority,
		ApplicationProperties: make(map[string]any),
		MessageAnnotations:    make(message.Annotations),
		DeliveryAnnotations:   make(message.Annotations),
	}

	r := &reader{buf: wire}
	var body []bodySection
	for r.remaining() > 0 {
		start := r.pos
		code, err := r.readSectionDescriptor()
		if err != nil {
			return nil, adapters.Malformed(message.ProtocolAMQP, "section at %d: %v", start, err)
		}
		isBody := code == sectionData || code == sectionSequence || code == sectionValue
		if len(body) > 0 && !isBody && code != sectionFooter {
			return nil, adapters.Malformed(message.ProtocolAMQP, "section 0x%02x after body", code)
		}

		if isBody {
			valueStart := r.pos
			if err := r.skipValue(); err != nil {
				return nil, adapters.Malformed(message.ProtocolAMQP, "body section: %v", err)
			}
			body = append(body, bodySection{code: code, start: start, valueStart: valueStart, end: r.pos})
			continue
		}
		if code == sectionFooter {
			if err := r.skipValue(); err != nil {
				return nil, adapters.Malformed(message.ProtocolAMQP, "footer: %v", err)
			}
			env.MessageAnnotations[FooterAnnotation] = message.RawValue{
				Protocol: message.ProtocolAMQP,
				Data:     bytes.Clone(wire[start:r.pos]),
			}
			continue
		}

		v, err := r.readValue()
		if err != nil {
			return nil, adapters.Malformed(message.ProtocolAMQP, "section 0x%02x: %v", code, err)
		}
		if err := decodeSection(env, code, v); err != nil {
			return nil, err
		}
	}

	if err := decodeBody(env, wire, body); err != nil {
		return nil, err
	}
	if env.ID = env.Properties.MessageID; env.ID == "" {
		env.ID = message.GenerateID()
	}
	return env, nil
}

func (r *reader) readSectionDescriptor() (uint64, error) {
	code, err := r.readByte()
	if err != nil {
		return 0, err
	}
	if code != codeDescribed {
		return 0, fmt.Errorf("expected described section, got 0x%02x", code)
	}
	d, err := r.readValue()
	if err != nil {
		return 0, err
	}
	switch x := d.(type) {
	case uint64:
		if x >= sectionHeader && x <= sectionFooter {
			return x, nil
		}
	case symbol:
		if c, ok := sectionSymbols[x]; ok {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown section descriptor %v", d)
}

func decodeSection(env *message.Envelope, code uint64, v any) error {
	switch code {
	case sectionHeader:
		fields, ok := v.([]any)
		if !ok {
			return adapters.Malformed(message.ProtocolAMQP, "header is %T", v)
		}
		return decodeHeader(env, fields)
	case sectionDeliveryAnnotations, sectionMessageAnnotations:
		m, ok := v.(map[string]any)
		if !ok {
			return adapters.Malformed(message.ProtocolAMQP, "annotations are %T", v)
		}
		ann := message.Annotations(normalize(m).(map[string]any))
		if code == sectionDeliveryAnnotations {
			env.DeliveryAnnotations = ann
		} else {
			for k, v := range ann {
				env.MessageAnnotations[k] = v
			}
		}
	case sectionProperties:
		fields, ok := v.([]any)
		if !ok {
			return adapters.Malformed(message.ProtocolAMQP, "properties are %T", v)
		}
		return decodeProperties(env, fields)
	case sectionApplicationProperties:
		m, ok := v.(map[string]any)
		if !ok {
			return adapters.Malformed(message.ProtocolAMQP, "application properties are %T", v)
		}
		env.ApplicationProperties = normalize(m).(map[string]any)
	}
	return nil
}

func field(fields []any, i int) any {
	if i < len(fields) {
		return fields[i]
	}
	return nil
}

func decodeHeader(env *message.Envelope, fields []any) error {
	if v := field(fields, 0); v != nil {
		b, ok := v.(bool)
		if !ok {
			return adapters.Malformed(message.ProtocolAMQP, "header durable is %T", v)
		}
		env.Durable = b
	}
	if v := field(fields, 1); v != nil {
		p, ok := v.(uint8)
		if !ok {
			return adapters.Malformed(message.ProtocolAMQP, "header priority is %T", v)
		}
		env.Priority = p
	}
	if v := field(fields, 2); v != nil {
		ttl, ok := v.(uint32)
		if !ok {
			return adapters.Malformed(message.ProtocolAMQP, "header ttl is %T", v)
		}
		env.SetTimeToLive(uint64(ttl))
	}
	if v := field(fields, 4); v != nil {
		n, ok := v.(uint32)
		if !ok {
			return adapters.Malformed(message.ProtocolAMQP, "header delivery-count is %T", v)
		}
		env.DeliveryCount = n
	}
	return nil
}

// idString renders a message-id or correlation-id, which may be a string,
// ulong, uuid or binary.
func idString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", true
	case string:
		return x, true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case uuid.UUID:
		return x.String(), true
	case []byte:
		return string(x), true
	}
	return "", false
}

func text(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", true
	case string:
		return x, true
	case symbol:
		return string(x), true
	case []byte:
		return string(x), true
	}
	return "", false
}

func decodeProperties(env *message.Envelope, fields []any) error {
	p := &env.Properties
	var ok bool
	strs := []struct {
		idx int
		dst *string
		id  bool
	}{
		{0, &p.MessageID, true},
		{1, &p.UserID, false},
		{2, &p.To, false},
		{3, &p.Subject, false},
		{4, &p.ReplyTo, false},
		{5, &p.CorrelationID, true},
		{6, &p.ContentType, false},
		{7, &p.ContentEncoding, false},
		{10, &p.GroupID, false},
		{12, &p.ReplyToGroupID, false},
	}
	for _, s := range strs {
		v := field(fields, s.idx)
		if s.id {
			*s.dst, ok = idString(v)
		} else {
			*s.dst, ok = text(v)
		}
		if !ok {
			return adapters.Malformed(message.ProtocolAMQP, "property %d is %T", s.idx, v)
		}
	}
	if v := field(fields, 8); v != nil {
		t, ok := v.(time.Time)
		if !ok {
			return adapters.Malformed(message.ProtocolAMQP, "absolute-expiry-time is %T", v)
		}
		env.SetAbsoluteExpiryTime(t.UnixMilli())
	}
	if v := field(fields, 9); v != nil {
		t, ok := v.(time.Time)
		if !ok {
			return adapters.Malformed(message.ProtocolAMQP, "creation-time is %T", v)
		}
		p.CreationTime = t.UnixMilli()
	}
	if v := field(fields, 11); v != nil {
		n, ok := v.(uint32)
		if !ok {
			return adapters.Malformed(message.ProtocolAMQP, "group-sequence is %T", v)
		}
		p.GroupSequence = n
	}
	return nil
}

func decodeBody(env *message.Envelope, wire []byte, sections []bodySection) error {
	if len(sections) == 0 {
		return nil
	}
	raw := wire[sections[0].start:sections[len(sections)-1].end]

	if len(sections) == 1 {
		s := sections[0]
		v, err := (&reader{buf: wire, pos: s.valueStart}).readValue()
		if err != nil {
			return adapters.Malformed(message.ProtocolAMQP, "body: %v", err)
		}

		var candidate *message.StructuredBody
		switch s.code {
		case sectionData:
			data, ok := v.([]byte)
			if !ok {
				return adapters.Malformed(message.ProtocolAMQP, "data section holds %T", v)
			}
			if origin, ok := env.MessageAnnotations.GetString(adapters.OpaqueOriginKey); ok && origin != string(message.ProtocolAMQP) {
				tag, _ := env.MessageAnnotations.GetString(adapters.OpaqueTypeKey)
				delete(env.MessageAnnotations, adapters.OpaqueOriginKey)
				delete(env.MessageAnnotations, adapters.OpaqueTypeKey)
				env.Body = message.NewOpaque(message.Protocol(origin), tag, data)
				return nil
			}
			if env.Properties.ContentType == ContentTypeSerializedObject {
				candidate = message.NewObject(data)
			} else {
				candidate = message.NewBytes(data)
			}
		case sectionValue:
			switch x := v.(type) {
			case string:
				candidate = message.NewText(x)
			case map[string]any:
				candidate = message.NewMap(normalize(x).(map[string]any))
			}
		}
		if candidate != nil {
			var buf bytes.Buffer
			if err := writeStructuredBody(&buf, candidate); err == nil && bytes.Equal(buf.Bytes(), raw) {
				env.Body = candidate
				return nil
			}
		}
	}

	env.Body = message.NewOpaque(message.ProtocolAMQP, bodyTag(wire, sections[0]), bytes.Clone(raw))
	return nil
}

// bodyTag names an opaque body after its section and, for described
// values, the descriptor.
func bodyTag(wire []byte, s bodySection) string {
	switch s.code {
	case sectionData:
		return TagData
	case sectionSequence:
		return TagSequence
	}
	if wire[s.valueStart] != codeDescribed {
		return TagValue
	}
	d, err := (&reader{buf: wire, pos: s.valueStart + 1}).readValue()
	if err != nil {
		return TagValue
	}
	switch x := d.(type) {
	case symbol:
		return TagValue + ":" + string(x)
	case uint64:
		return fmt.Sprintf("%s:0x%08x:0x%08x", TagValue, x>>32, x&math.MaxUint32)
	}
	return TagValue
}

func writeStructuredBody(buf *bytes.Buffer, b *message.StructuredBody) error {
	switch b.Kind {
	case message.KindText:
		return writeDescribed(buf, sectionValue, b.Text)
	case message.KindBytes, message.KindObject:
		data := b.Data
		if data == nil {
			data = []byte{}
		}
		return writeDescribed(buf, sectionData, data)
	case message.KindMap:
		m := b.Map
		if m == nil {
			m = map[string]any{}
		}
		return writeDescribed(buf, sectionValue, m)
	}
	return fmt.Errorf("%w: amqp cannot carry body kind %s", adapters.ErrUnsupportedBody, b.Kind)
}

// Encode writes the envelope as an AMQP 1.0 message. Opaque bodies from this
// protocol are written back unchanged; foreign opaque bodies travel as a data
// section tagged with their origin.
func (a *Adapter) Encode(env *message.Envelope) ([]byte, error) {
	props := env.Properties
	annotations := env.MessageAnnotations
	var footer []byte

	if raw, ok := annotations[FooterAnnotation].(message.RawValue); ok {
		annotations = annotations.Clone()
		delete(annotations, FooterAnnotation)
		if raw.Protocol == message.ProtocolAMQP {
			footer = raw.Data
		}
	}

	var body bytes.Buffer
	switch b := env.Body.(type) {
	case nil:
	case *message.OpaqueBody:
		if b.Origin == message.ProtocolAMQP {
			body.Write(b.Data)
			break
		}
		annotations = annotations.Clone()
		if annotations == nil {
			annotations = make(message.Annotations)
		}
		annotations[adapters.OpaqueOriginKey] = string(b.Origin)
		annotations[adapters.OpaqueTypeKey] = b.TypeTag
		if err := writeDescribed(&body, sectionData, b.Data); err != nil {
			return nil, err
		}
	case *message.StructuredBody:
		if b.Kind == message.KindObject && props.ContentType == "" {
			props.ContentType = ContentTypeSerializedObject
		}
		if err := writeStructuredBody(&body, b); err != nil {
			return nil, err
		}
	default:
		return nil, adapters.Unsupported(message.ProtocolAMQP, env.Body)
	}

	var buf bytes.Buffer
	if fields := headerFields(env); len(fields) > 0 {
		if err := writeDescribed(&buf, sectionHeader, fields); err != nil {
			return nil, fmt.Errorf("encode header: %w", err)
		}
	}
	if len(env.DeliveryAnnotations) > 0 {
		if err := writeDescribed(&buf, sectionDeliveryAnnotations, env.DeliveryAnnotations); err != nil {
			return nil, fmt.Errorf("encode delivery annotations: %w", err)
		}
	}
	if len(annotations) > 0 {
		if err := writeDescribed(&buf, sectionMessageAnnotations, annotations); err != nil {
			return nil, fmt.Errorf("encode message annotations: %w", err)
		}
	}
	if fields := propertyFields(env, props); len(fields) > 0 {
		if err := writeDescribed(&buf, sectionProperties, fields); err != nil {
			return nil, fmt.Errorf("encode properties: %w", err)
		}
	}
	if len(env.ApplicationProperties) > 0 {
		if err := writeDescribed(&buf, sectionApplicationProperties, env.ApplicationProperties); err != nil {
			return nil, fmt.Errorf("encode application properties: %w", err)
		}
	}
	buf.Write(body.Bytes())
	buf.Write(footer)
	return buf.Bytes(), nil
}

func trimNils(fields []any) []any {
	n := len(fields)
	for n > 0 && fields[n-1] == nil {
		n--
	}
	return fields[:n]
}

func headerFields(env *message.Envelope) []any {
	fields := make([]any, 5)
	if env.Durable {
		fields[0] = true
	}
	if env.Priority != defaultPriority {
		fields[1] = env.Priority
	}
	if ttl, ok := env.TimeToLive(); ok {
		fields[2] = uint32(min(ttl, math.MaxUint32))
	}
	if env.DeliveryCount > 0 {
		fields[4] = env.DeliveryCount
	}
	return trimNils(fields)
}

func propertyFields(env *message.Envelope, p message.Properties) []any {
	fields := make([]any, 13)
	str := func(i int, s string) {
		if s != "" {
			fields[i] = s
		}
	}
	sym := func(i int, s string) {
		if s != "" {
			fields[i] = symbol(s)
		}
	}
	str(0, p.MessageID)
	if p.UserID != "" {
		fields[1] = []byte(p.UserID)
	}
	str(2, p.To)
	str(3, p.Subject)
	str(4, p.ReplyTo)
	str(5, p.CorrelationID)
	sym(6, p.ContentType)
	sym(7, p.ContentEncoding)
	if abs, ok := env.AbsoluteExpiry(); ok {
		fields[8] = time.UnixMilli(abs)
	}
	if p.CreationTime != 0 {
		fields[9] = time.UnixMilli(p.CreationTime)
	}
	str(10, p.GroupID)
	if p.GroupSequence != 0 {
		fields[11] = p.GroupSequence
	}
	str(12, p.ReplyToGroupID)
	return trimNils(fields)
}
