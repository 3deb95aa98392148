package amqp091

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottermq/otterlane/internal/core/adapters"
	"github.com/ottermq/otterlane/internal/core/message"
)

func content(t *testing.T, pub amqp.Publishing) []byte {
	t.Helper()
	wire, err := formatContent(pub)
	require.NoError(t, err)
	return wire
}

func TestDecodePublishing(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)
	wire := content(t, amqp.Publishing{
		Headers: amqp.Table{
			"region":            "eu",
			"attempt":           int32(3),
			"x-opt-trace":       "abc",
			HeaderSubject:       "greeting",
			HeaderDeliveryCount: int64(2),
		},
		ContentType:   "text/plain; charset=utf-8",
		DeliveryMode:  amqp.Persistent,
		Priority:      7,
		CorrelationId: "corr",
		ReplyTo:       "replies",
		Expiration:    "60000",
		MessageId:     "msg-1",
		Timestamp:     ts,
		Type:          "greeting.v1",
		UserId:        "guest",
		AppId:         "billing",
		Body:          []byte("hello"),
	})

	env, err := New().Decode(wire)
	require.NoError(t, err)

	assert.Equal(t, "msg-1", env.ID)
	assert.Equal(t, message.ProtocolAMQP091, env.Origin)
	assert.True(t, env.Durable)
	assert.Equal(t, uint8(7), env.Priority)
	assert.Equal(t, uint32(2), env.DeliveryCount)
	ttl, ok := env.TimeToLive()
	require.True(t, ok)
	assert.Equal(t, uint64(60000), ttl)

	p := env.Properties
	assert.Equal(t, "corr", p.CorrelationID)
	assert.Equal(t, "replies", p.ReplyTo)
	assert.Equal(t, "guest", p.UserID)
	assert.Equal(t, "greeting", p.Subject)
	assert.Equal(t, ts.UnixMilli(), p.CreationTime)

	assert.Equal(t, map[string]any{"region": "eu", "attempt": int32(3)}, env.ApplicationProperties)
	assert.Equal(t, "abc", env.MessageAnnotations["x-opt-trace"])
	assert.Equal(t, "greeting.v1", env.MessageAnnotations[AnnotationType])
	assert.Equal(t, "billing", env.MessageAnnotations[AnnotationAppID])

	body, ok := env.Body.(*message.StructuredBody)
	require.True(t, ok)
	assert.Equal(t, message.KindText, body.Kind)
	assert.Equal(t, "hello", body.Text)

	assert.NoError(t, amqp.Table(env.ApplicationProperties).Validate())
}

func TestRoundTrip(t *testing.T) {
	env := message.New(message.ProtocolAMQP091, message.NewMap(map[string]any{
		"n":     int64(1),
		"ok":    true,
		"items": []any{"a", int32(2)},
		"inner": map[string]any{"k": "v"},
	}))
	env.Durable = true
	env.Priority = 2
	env.Properties.MessageID = env.ID
	env.Properties.To = "orders"
	env.Properties.GroupID = "g"
	env.Properties.GroupSequence = 9
	env.Properties.CreationTime = 1_700_000_000_000
	env.SetAbsoluteExpiryTime(1_700_000_100_000)
	env.ApplicationProperties["u16"] = uint16(5)
	env.ApplicationProperties["blob"] = []byte{1, 2}

	a := New()
	wire, err := a.Encode(env)
	require.NoError(t, err)
	back, err := a.Decode(wire)
	require.NoError(t, err)

	assert.Equal(t, env.ID, back.ID)
	assert.True(t, back.Durable)
	assert.Equal(t, uint8(2), back.Priority)
	assert.Equal(t, "orders", back.Properties.To)
	assert.Equal(t, "g", back.Properties.GroupID)
	assert.Equal(t, uint32(9), back.Properties.GroupSequence)
	assert.Equal(t, int64(1_700_000_000_000), back.Properties.CreationTime)
	abs, ok := back.AbsoluteExpiry()
	require.True(t, ok)
	assert.Equal(t, int64(1_700_000_100_000), abs)
	_, ok = back.TimeToLive()
	assert.False(t, ok)
	assert.Equal(t, uint16(5), back.ApplicationProperties["u16"])
	assert.Equal(t, []byte{1, 2}, back.ApplicationProperties["blob"])

	body := back.Body.(*message.StructuredBody)
	assert.Equal(t, message.KindMap, body.Kind)
	assert.Equal(t, env.Body.(*message.StructuredBody).Map, body.Map)
}

func TestEncodeIsDeterministic(t *testing.T) {
	env := message.New(message.ProtocolCore, message.NewBytes([]byte("x")))
	for i := range 20 {
		env.ApplicationProperties[string(rune('a'+i))] = int64(i)
	}
	a := New()
	first, err := a.Encode(env)
	require.NoError(t, err)
	for range 5 {
		again, err := a.Encode(env)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBodyKinds(t *testing.T) {
	a := New()
	tests := []struct {
		name        string
		body        message.Body
		contentType string
		kind        message.StructuredKind
	}{
		{"text", message.NewText("hi"), ContentTypeText, message.KindText},
		{"bytes", message.NewBytes([]byte{0, 1}), "", message.KindBytes},
		{"object", message.NewObject([]byte{0xac, 0xed}), ContentTypeObject, message.KindObject},
		{"map", message.NewMap(map[string]any{"k": "v"}), ContentTypeTable, message.KindMap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := message.New(message.ProtocolAMQP, tt.body)
			wire, err := a.Encode(env)
			require.NoError(t, err)
			assert.Empty(t, env.Properties.ContentType, "encode must not modify the envelope")

			back, err := a.Decode(wire)
			require.NoError(t, err)
			assert.Equal(t, tt.contentType, back.Properties.ContentType)
			assert.Equal(t, tt.kind, back.Body.(*message.StructuredBody).Kind)
		})
	}
}

func TestForeignOpaqueBody(t *testing.T) {
	a := New()
	env := message.New(message.ProtocolAMQP, message.NewOpaque(message.ProtocolAMQP, "amqp:amqp-sequence", []byte{0x00, 0x53, 0x76, 0x45}))

	wire, err := a.Encode(env)
	require.NoError(t, err)
	back, err := a.Decode(wire)
	require.NoError(t, err)

	body, ok := back.IsOpaque()
	require.True(t, ok)
	assert.Equal(t, message.ProtocolAMQP, body.Origin)
	assert.Equal(t, "amqp:amqp-sequence", body.TypeTag)
	assert.Equal(t, []byte{0x00, 0x53, 0x76, 0x45}, body.Data)
	assert.NotContains(t, back.ApplicationProperties, adapters.OpaqueOriginKey)
	assert.NotContains(t, back.MessageAnnotations, adapters.OpaqueOriginKey)
	assert.NotContains(t, back.MessageAnnotations, adapters.OpaqueTypeKey)
}

func TestDecodeDefaults(t *testing.T) {
	env, err := New().Decode(content(t, amqp.Publishing{Body: []byte("raw")}))
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)
	assert.False(t, env.Durable)
	assert.Zero(t, env.Priority)
	assert.Equal(t, []byte("raw"), env.Body.(*message.StructuredBody).Data)
}

func TestDecodeMalformed(t *testing.T) {
	header := func(class, weight uint16, size uint64, flags uint16, rest ...byte) []byte {
		var buf bytes.Buffer
		_ = binary.Write(&buf, binary.BigEndian, class)
		_ = binary.Write(&buf, binary.BigEndian, weight)
		_ = binary.Write(&buf, binary.BigEndian, size)
		_ = binary.Write(&buf, binary.BigEndian, flags)
		buf.Write(rest)
		return buf.Bytes()
	}
	tests := map[string][]byte{
		"empty":             {},
		"wrong class":       header(10, 0, 0, 0),
		"non-zero weight":   header(classBasic, 1, 0, 0),
		"body size":         header(classBasic, 0, 10, 0, 'a'),
		"truncated string":  header(classBasic, 0, 0, flagContentType, 5, 'a'),
		"bad header table":  header(classBasic, 0, 0, flagHeaders, 0, 0, 0, 3, 1, 'k', '?'),
		"bad expiration":    content(t, amqp.Publishing{Expiration: "soon"}),
		"bad table body":    content(t, amqp.Publishing{ContentType: ContentTypeTable, Body: []byte{1, 'k', 'Z'}}),
		"bad string header": content(t, amqp.Publishing{Headers: amqp.Table{HeaderTo: int32(1)}}),
	}
	a := New()
	for name, wire := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Decode(wire)
			assert.ErrorIs(t, err, adapters.ErrMalformed)
		})
	}
}

func TestEncodeRejectsUnsupportedValues(t *testing.T) {
	env := message.New(message.ProtocolCore, message.NewMap(map[string]any{"bad": struct{}{}}))
	_, err := New().Encode(env)
	assert.ErrorIs(t, err, adapters.ErrUnsupportedBody)
}

func TestEncodeLongShortString(t *testing.T) {
	env := message.New(message.ProtocolCore, nil)
	env.Properties.ReplyTo = string(bytes.Repeat([]byte("r"), 300))
	_, err := New().Encode(env)
	assert.Error(t, err)
}
