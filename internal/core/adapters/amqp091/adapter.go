// Package amqp091 maps AMQP 0-9-1 basic content (header frame payload and
// body) onto envelopes.
package amqp091

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ottermq/otterlane/internal/core/adapters"
	"github.com/ottermq/otterlane/internal/core/message"
)

const (
	classBasic = 60

	ContentTypeText   = "text/plain"
	ContentTypeTable  = "application/x-amqp-table"
	ContentTypeObject = "application/x-java-serialized-object"

	TagBody = "amqp091:body"
)

// Envelope fields without a basic property travel as headers.
const (
	HeaderAbsoluteExpiry = "x-opt-absolute-expiry-time"
	HeaderTo             = "x-opt-to"
	HeaderSubject        = "x-opt-subject"
	HeaderGroupID        = "x-opt-group-id"
	HeaderGroupSequence  = "x-opt-group-sequence"
	HeaderReplyToGroupID = "x-opt-reply-to-group-id"
	HeaderDeliveryCount  = "x-delivery-count"

	// AnnotationType and AnnotationAppID keep basic properties that have no
	// envelope field.
	AnnotationType  = "x-basic-type"
	AnnotationAppID = "x-basic-app-id"

	annotationPrefix = "x-opt-"
)

// Property flag bits, most significant first.
const (
	flagContentType     = 1 << 15
	flagContentEncoding = 1 << 14
	flagHeaders         = 1 << 13
	flagDeliveryMode    = 1 << 12
	flagPriority        = 1 << 11
	flagCorrelationID   = 1 << 10
	flagReplyTo         = 1 << 9
	flagExpiration      = 1 << 8
	flagMessageID       = 1 << 7
	flagTimestamp       = 1 << 6
	flagType            = 1 << 5
	flagUserID          = 1 << 4
	flagAppID           = 1 << 3
	flagReserved        = 1 << 2
)

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Protocol() message.Protocol { return message.ProtocolAMQP091 }

// Decode reads a content header payload (class, weight, body size, property
// flags and properties) followed by the complete body.
func (a *Adapter) Decode(wire []byte) (*message.Envelope, error) {
	pub, err := parseContent(wire)
	if err != nil {
		return nil, adapters.Malformed(message.ProtocolAMQP091, "%v", err)
	}
	return toEnvelope(pub)
}

// Encode writes the envelope as a content header payload and body.
func (a *Adapter) Encode(env *message.Envelope) ([]byte, error) {
	pub, err := fromEnvelope(env)
	if err != nil {
		return nil, err
	}
	return formatContent(pub)
}

func parseContent(wire []byte) (amqp.Publishing, error) {
	var pub amqp.Publishing
	r := &reader{buf: wire}

	class, err := r.readUint16()
	if err != nil {
		return pub, fmt.Errorf("class id: %w", err)
	}
	if class != classBasic {
		return pub, fmt.Errorf("unexpected class id %d", class)
	}
	weight, err := r.readUint16()
	if err != nil {
		return pub, fmt.Errorf("weight: %w", err)
	}
	if weight != 0 {
		return pub, fmt.Errorf("weight must be 0")
	}
	bodySize, err := r.readUint64()
	if err != nil {
		return pub, fmt.Errorf("body size: %w", err)
	}
	flags, err := r.readUint16()
	if err != nil {
		return pub, fmt.Errorf("flags: %w", err)
	}

	str := func(flag uint16, dst *string) error {
		if flags&flag == 0 {
			return nil
		}
		s, err := r.readShortStr()
		*dst = s
		return err
	}
	octet := func(flag uint16, dst *uint8) error {
		if flags&flag == 0 {
			return nil
		}
		b, err := r.readByte()
		*dst = b
		return err
	}

	if err := str(flagContentType, &pub.ContentType); err != nil {
		return pub, fmt.Errorf("content type: %w", err)
	}
	if err := str(flagContentEncoding, &pub.ContentEncoding); err != nil {
		return pub, fmt.Errorf("content encoding: %w", err)
	}
	if flags&flagHeaders != 0 {
		data, err := r.readLongStr()
		if err != nil {
			return pub, fmt.Errorf("headers: %w", err)
		}
		table, err := DecodeTable(data)
		if err != nil {
			return pub, fmt.Errorf("headers: %w", err)
		}
		pub.Headers = amqp.Table(table)
	}
	if err := octet(flagDeliveryMode, &pub.DeliveryMode); err != nil {
		return pub, fmt.Errorf("delivery mode: %w", err)
	}
	if err := octet(flagPriority, &pub.Priority); err != nil {
		return pub, fmt.Errorf("priority: %w", err)
	}
	for _, f := range []struct {
		flag uint16
		dst  *string
		name string
	}{
		{flagCorrelationID, &pub.CorrelationId, "correlation id"},
		{flagReplyTo, &pub.ReplyTo, "reply to"},
		{flagExpiration, &pub.Expiration, "expiration"},
		{flagMessageID, &pub.MessageId, "message id"},
	} {
		if err := str(f.flag, f.dst); err != nil {
			return pub, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	if flags&flagTimestamp != 0 {
		ts, err := r.readUint64()
		if err != nil {
			return pub, fmt.Errorf("timestamp: %w", err)
		}
		pub.Timestamp = time.Unix(int64(ts), 0)
	}
	var reserved string
	for _, f := range []struct {
		flag uint16
		dst  *string
		name string
	}{
		{flagType, &pub.Type, "type"},
		{flagUserID, &pub.UserId, "user id"},
		{flagAppID, &pub.AppId, "app id"},
		{flagReserved, &reserved, "reserved"},
	} {
		if err := str(f.flag, f.dst); err != nil {
			return pub, fmt.Errorf("%s: %w", f.name, err)
		}
	}

	if uint64(r.remaining()) != bodySize {
		return pub, fmt.Errorf("body size %d does not match %d bytes of content", bodySize, r.remaining())
	}
	pub.Body = bytes.Clone(wire[r.pos:])
	return pub, nil
}

func formatContent(pub amqp.Publishing) ([]byte, error) {
	var props bytes.Buffer
	var flags uint16

	str := func(flag uint16, s string) error {
		if s == "" {
			return nil
		}
		flags |= flag
		return encodeShortStr(&props, s)
	}

	if err := str(flagContentType, pub.ContentType); err != nil {
		return nil, err
	}
	if err := str(flagContentEncoding, pub.ContentEncoding); err != nil {
		return nil, err
	}
	if len(pub.Headers) > 0 {
		flags |= flagHeaders
		table, err := EncodeTable(pub.Headers)
		if err != nil {
			return nil, fmt.Errorf("encode headers: %w", err)
		}
		encodeLongStr(&props, table)
	}
	if pub.DeliveryMode != 0 {
		flags |= flagDeliveryMode
		props.WriteByte(pub.DeliveryMode)
	}
	if pub.Priority != 0 {
		flags |= flagPriority
		props.WriteByte(pub.Priority)
	}
	for _, f := range []struct {
		flag uint16
		s    string
	}{
		{flagCorrelationID, pub.CorrelationId},
		{flagReplyTo, pub.ReplyTo},
		{flagExpiration, pub.Expiration},
		{flagMessageID, pub.MessageId},
	} {
		if err := str(f.flag, f.s); err != nil {
			return nil, err
		}
	}
	if !pub.Timestamp.IsZero() {
		flags |= flagTimestamp
		_ = binary.Write(&props, binary.BigEndian, uint64(pub.Timestamp.Unix()))
	}
	for _, f := range []struct {
		flag uint16
		s    string
	}{
		{flagType, pub.Type},
		{flagUserID, pub.UserId},
		{flagAppID, pub.AppId},
	} {
		if err := str(f.flag, f.s); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint16(classBasic))
	_ = binary.Write(&buf, binary.BigEndian, uint16(0))
	_ = binary.Write(&buf, binary.BigEndian, uint64(len(pub.Body)))
	_ = binary.Write(&buf, binary.BigEndian, flags)
	buf.Write(props.Bytes())
	buf.Write(pub.Body)
	return buf.Bytes(), nil
}

func toEnvelope(pub amqp.Publishing) (*message.Envelope, error) {
	env := &message.Envelope{
		ID:                    pub.MessageId,
		Origin:                message.ProtocolAMQP091,
		Durable:               pub.DeliveryMode == amqp.Persistent,
		Priority:              pub.Priority,
		ApplicationProperties: make(map[string]any),
		MessageAnnotations:    make(message.Annotations),
		DeliveryAnnotations:   make(message.Annotations),
	}
	if env.ID == "" {
		env.ID = message.GenerateID()
	}
	env.Properties = message.Properties{
		MessageID:       pub.MessageId,
		CorrelationID:   pub.CorrelationId,
		ContentType:     pub.ContentType,
		ContentEncoding: pub.ContentEncoding,
		ReplyTo:         pub.ReplyTo,
		UserID:          pub.UserId,
	}
	if !pub.Timestamp.IsZero() {
		env.Properties.CreationTime = pub.Timestamp.UnixMilli()
	}
	if pub.Expiration != "" {
		ttl, err := strconv.ParseUint(pub.Expiration, 10, 64)
		if err != nil {
			return nil, adapters.Malformed(message.ProtocolAMQP091, "expiration %q", pub.Expiration)
		}
		env.SetTimeToLive(ttl)
	}
	if pub.Type != "" {
		env.MessageAnnotations[AnnotationType] = pub.Type
	}
	if pub.AppId != "" {
		env.MessageAnnotations[AnnotationAppID] = pub.AppId
	}

	headers := maps.Clone(map[string]any(pub.Headers))
	if err := takeHeaders(env, headers); err != nil {
		return nil, err
	}

	origin, hasOrigin := headers[adapters.OpaqueOriginKey].(string)
	tag, _ := headers[adapters.OpaqueTypeKey].(string)
	delete(headers, adapters.OpaqueOriginKey)
	delete(headers, adapters.OpaqueTypeKey)

	for k, v := range headers {
		if strings.HasPrefix(k, annotationPrefix) {
			env.MessageAnnotations[k] = v
		} else {
			env.ApplicationProperties[k] = v
		}
	}

	switch {
	case hasOrigin && origin != string(message.ProtocolAMQP091):
		env.Body = message.NewOpaque(message.Protocol(origin), tag, pub.Body)
	case strings.HasPrefix(pub.ContentType, ContentTypeText):
		env.Body = message.NewText(string(pub.Body))
	case pub.ContentType == ContentTypeTable:
		m, err := DecodeTable(pub.Body)
		if err != nil {
			return nil, adapters.Malformed(message.ProtocolAMQP091, "table body: %v", err)
		}
		env.Body = message.NewMap(m)
	case pub.ContentType == ContentTypeObject:
		env.Body = message.NewObject(pub.Body)
	default:
		env.Body = message.NewBytes(pub.Body)
	}
	return env, nil
}

// takeHeaders moves the headers that carry envelope fields out of h.
func takeHeaders(env *message.Envelope, h map[string]any) error {
	strs := map[string]*string{
		HeaderTo:             &env.Properties.To,
		HeaderSubject:        &env.Properties.Subject,
		HeaderGroupID:        &env.Properties.GroupID,
		HeaderReplyToGroupID: &env.Properties.ReplyToGroupID,
	}
	for key, dst := range strs {
		v, ok := h[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return adapters.Malformed(message.ProtocolAMQP091, "header %s is %T", key, v)
		}
		*dst = s
		delete(h, key)
	}

	ints := map[string]func(int64){
		HeaderAbsoluteExpiry: func(n int64) { env.SetAbsoluteExpiryTime(n) },
		HeaderGroupSequence:  func(n int64) { env.Properties.GroupSequence = uint32(n) },
		HeaderDeliveryCount:  func(n int64) { env.DeliveryCount = uint32(n) },
	}
	for key, set := range ints {
		v, ok := h[key]
		if !ok {
			continue
		}
		n, ok := toInt64(v)
		if !ok {
			return adapters.Malformed(message.ProtocolAMQP091, "header %s is %T", key, v)
		}
		set(n)
		delete(h, key)
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case uint8:
		return int64(n), true
	case int16:
		return int64(n), true
	case uint16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

func fromEnvelope(env *message.Envelope) (amqp.Publishing, error) {
	p := env.Properties
	pub := amqp.Publishing{
		Headers:         amqp.Table{},
		ContentType:     p.ContentType,
		ContentEncoding: p.ContentEncoding,
		DeliveryMode:    amqp.Transient,
		Priority:        env.Priority,
		CorrelationId:   p.CorrelationID,
		ReplyTo:         p.ReplyTo,
		MessageId:       p.MessageID,
		UserId:          p.UserID,
	}
	if env.Durable {
		pub.DeliveryMode = amqp.Persistent
	}
	if pub.MessageId == "" {
		pub.MessageId = env.ID
	}
	if p.CreationTime != 0 {
		pub.Timestamp = time.UnixMilli(p.CreationTime)
	}
	if ttl, ok := env.TimeToLive(); ok {
		pub.Expiration = strconv.FormatUint(ttl, 10)
	}

	for k, v := range env.ApplicationProperties {
		pub.Headers[k] = v
	}
	for k, v := range env.MessageAnnotations {
		switch k {
		case AnnotationType:
			pub.Type, _ = v.(string)
		case AnnotationAppID:
			pub.AppId, _ = v.(string)
		default:
			pub.Headers[k] = v
		}
	}
	if abs, ok := env.AbsoluteExpiry(); ok {
		pub.Headers[HeaderAbsoluteExpiry] = abs
	}
	for key, s := range map[string]string{
		HeaderTo:             p.To,
		HeaderSubject:        p.Subject,
		HeaderGroupID:        p.GroupID,
		HeaderReplyToGroupID: p.ReplyToGroupID,
	} {
		if s != "" {
			pub.Headers[key] = s
		}
	}
	if p.GroupSequence != 0 {
		pub.Headers[HeaderGroupSequence] = int64(p.GroupSequence)
	}
	if env.DeliveryCount > 0 {
		pub.Headers[HeaderDeliveryCount] = int64(env.DeliveryCount)
	}

	switch b := env.Body.(type) {
	case nil:
	case *message.OpaqueBody:
		if b.Origin != message.ProtocolAMQP091 {
			pub.Headers[adapters.OpaqueOriginKey] = string(b.Origin)
			pub.Headers[adapters.OpaqueTypeKey] = b.TypeTag
		}
		pub.Body = b.Data
	case *message.StructuredBody:
		switch b.Kind {
		case message.KindText:
			pub.Body = []byte(b.Text)
			if pub.ContentType == "" {
				pub.ContentType = ContentTypeText
			}
		case message.KindBytes:
			pub.Body = b.Data
		case message.KindObject:
			pub.Body = b.Data
			if pub.ContentType == "" {
				pub.ContentType = ContentTypeObject
			}
		case message.KindMap:
			data, err := EncodeTable(b.Map)
			if err != nil {
				return pub, fmt.Errorf("%w: %v", adapters.ErrUnsupportedBody, err)
			}
			pub.Body = data
			pub.ContentType = ContentTypeTable
		default:
			return pub, adapters.Unsupported(message.ProtocolAMQP091, env.Body)
		}
	default:
		return pub, adapters.Unsupported(message.ProtocolAMQP091, env.Body)
	}
	return pub, nil
}
