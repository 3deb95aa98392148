package amqp10

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottermq/otterlane/internal/core/adapters"
	"github.com/ottermq/otterlane/internal/core/message"
)

func section(t *testing.T, code uint64, v any) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, writeDescribed(&buf, code, v))
	return buf.Bytes()
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func TestDecodeStructuredBodies(t *testing.T) {
	a := New()
	tests := []struct {
		name string
		wire []byte
		kind message.StructuredKind
	}{
		{"text", section(t, sectionValue, "hello"), message.KindText},
		{"bytes", section(t, sectionData, []byte{1, 2, 3}), message.KindBytes},
		{"map", section(t, sectionValue, map[string]any{"a": int64(1), "b": "x"}), message.KindMap},
		{
			"object",
			concat(section(t, sectionProperties, []any{nil, nil, nil, nil, nil, nil, symbol(ContentTypeSerializedObject)}),
				section(t, sectionData, []byte{0xac, 0xed})),
			message.KindObject,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := a.Decode(tt.wire)
			require.NoError(t, err)
			body, ok := env.Body.(*message.StructuredBody)
			require.True(t, ok, "body is %T", env.Body)
			assert.Equal(t, tt.kind, body.Kind)

			out, err := a.Encode(env)
			require.NoError(t, err)
			assert.Equal(t, tt.wire, out)
		})
	}
}

func TestDecodeNonCanonicalBodyStaysOpaque(t *testing.T) {
	a := New()

	// str32 for a short string does not match the canonical str8 form.
	var value bytes.Buffer
	value.Write([]byte{codeDescribed, codeSmallUlong, byte(sectionValue), codeStr32, 0, 0, 0, 2})
	value.WriteString("hi")

	symbolKeys := section(t, sectionValue, message.Annotations{"k": "v"})
	sequence := section(t, sectionSequence, []any{int64(1), "two"})
	twoData := concat(section(t, sectionData, []byte("a")), section(t, sectionData, []byte("b")))

	tests := []struct {
		name string
		wire []byte
		tag  string
	}{
		{"long string", value.Bytes(), TagValue},
		{"symbol keyed map", symbolKeys, TagValue},
		{"sequence", sequence, TagSequence},
		{"multiple data sections", twoData, TagData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := a.Decode(tt.wire)
			require.NoError(t, err)
			body, ok := env.IsOpaque()
			require.True(t, ok, "body is %T", env.Body)
			assert.Equal(t, message.ProtocolAMQP, body.Origin)
			assert.Equal(t, tt.tag, body.TypeTag)
			assert.Equal(t, tt.wire, body.Data)

			out, err := a.Encode(env)
			require.NoError(t, err)
			assert.Equal(t, tt.wire, out, "opaque body is written back byte for byte")
		})
	}
}

func TestDescribedValueRoundTrip(t *testing.T) {
	var value bytes.Buffer
	value.WriteByte(codeDescribed)
	writeSymbol(&value, "apache.org:no-local-filter:list")
	require.NoError(t, writeList(&value, []any{"selector", int64(7)}))

	var wire bytes.Buffer
	wire.Write([]byte{codeDescribed, codeSmallUlong, byte(sectionValue)})
	wire.Write(value.Bytes())

	a := New()
	env, err := a.Decode(wire.Bytes())
	require.NoError(t, err)

	body, ok := env.IsOpaque()
	require.True(t, ok)
	assert.Equal(t, TagValue+":apache.org:no-local-filter:list", body.TypeTag)

	out, err := a.Encode(env)
	require.NoError(t, err)
	assert.Equal(t, wire.Bytes(), out)
}

func TestDecodeHeaderAndProperties(t *testing.T) {
	id := uuid.New()
	created := time.UnixMilli(1_700_000_000_000)
	expires := time.UnixMilli(1_700_000_060_000)

	wire := concat(
		section(t, sectionHeader, []any{true, uint8(9), uint32(30000), nil, uint32(2)}),
		section(t, sectionMessageAnnotations, message.Annotations{"x-opt-trace": "abc"}),
		section(t, sectionProperties, []any{
			"msg-1", []byte("guest"), "orders", "subject", "replies", id,
			symbol("text/plain"), symbol("utf-8"), expires, created, "group", uint32(3), "reply-group",
		}),
		section(t, sectionApplicationProperties, map[string]any{"region": "eu", "n": int32(4)}),
		section(t, sectionValue, "payload"),
	)

	env, err := New().Decode(wire)
	require.NoError(t, err)

	assert.Equal(t, "msg-1", env.ID)
	assert.Equal(t, message.ProtocolAMQP, env.Origin)
	assert.True(t, env.Durable)
	assert.Equal(t, uint8(9), env.Priority)
	assert.Equal(t, uint32(2), env.DeliveryCount)
	ttl, ok := env.TimeToLive()
	require.True(t, ok)
	assert.Equal(t, uint64(30000), ttl)
	abs, ok := env.AbsoluteExpiry()
	require.True(t, ok)
	assert.Equal(t, expires.UnixMilli(), abs)

	p := env.Properties
	assert.Equal(t, "msg-1", p.MessageID)
	assert.Equal(t, "guest", p.UserID)
	assert.Equal(t, "orders", p.To)
	assert.Equal(t, "subject", p.Subject)
	assert.Equal(t, "replies", p.ReplyTo)
	assert.Equal(t, id.String(), p.CorrelationID)
	assert.Equal(t, "text/plain", p.ContentType)
	assert.Equal(t, "utf-8", p.ContentEncoding)
	assert.Equal(t, created.UnixMilli(), p.CreationTime)
	assert.Equal(t, "group", p.GroupID)
	assert.Equal(t, uint32(3), p.GroupSequence)
	assert.Equal(t, "reply-group", p.ReplyToGroupID)

	assert.Equal(t, "abc", env.MessageAnnotations["x-opt-trace"])
	assert.Equal(t, "eu", env.ApplicationProperties["region"])
	assert.Equal(t, int32(4), env.ApplicationProperties["n"])
}

func TestDecodeDefaults(t *testing.T) {
	env, err := New().Decode(section(t, sectionValue, "x"))
	require.NoError(t, err)
	assert.Equal(t, uint8(defaultPriority), env.Priority)
	assert.False(t, env.Durable)
	assert.NotEmpty(t, env.ID)
	_, ok := env.TimeToLive()
	assert.False(t, ok)
}

func TestDecodeNumericMessageID(t *testing.T) {
	wire := section(t, sectionProperties, []any{uint64(42)})
	env, err := New().Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, "42", env.Properties.MessageID)
	assert.Equal(t, "42", env.ID)
	assert.Nil(t, env.Body)
}

func TestDecodeAcceptsSymbolicDescriptors(t *testing.T) {
	var wire bytes.Buffer
	wire.WriteByte(codeDescribed)
	writeSymbol(&wire, "amqp:amqp-value:*")
	require.NoError(t, writeValue(&wire, "hello"))

	env, err := New().Decode(wire.Bytes())
	require.NoError(t, err)
	// The symbolic descriptor is not the canonical encoding.
	body, ok := env.IsOpaque()
	require.True(t, ok)
	assert.Equal(t, wire.Bytes(), body.Data)
}

func TestFooterIsKept(t *testing.T) {
	footer := section(t, sectionFooter, message.Annotations{"x-opt-hash": []byte{1, 2}})
	wire := concat(section(t, sectionValue, "body"), footer)

	a := New()
	env, err := a.Decode(wire)
	require.NoError(t, err)
	raw, ok := env.MessageAnnotations[FooterAnnotation].(message.RawValue)
	require.True(t, ok)
	assert.Equal(t, footer, raw.Data)

	out, err := a.Encode(env)
	require.NoError(t, err)
	assert.Equal(t, wire, out)
}

func TestDeliveryAnnotationsRoundTrip(t *testing.T) {
	wire := concat(
		section(t, sectionDeliveryAnnotations, message.Annotations{"x-opt-hop": int64(1)}),
		section(t, sectionValue, "body"),
	)
	a := New()
	env, err := a.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, int64(1), env.DeliveryAnnotations["x-opt-hop"])

	out, err := a.Encode(env)
	require.NoError(t, err)
	assert.Equal(t, wire, out)
}

func TestForeignOpaqueBody(t *testing.T) {
	a := New()
	env := message.New(message.ProtocolMQTT, message.NewOpaque(message.ProtocolMQTT, "mqtt:payload", []byte{0xde, 0xad}))

	wire, err := a.Encode(env)
	require.NoError(t, err)
	assert.Nil(t, env.MessageAnnotations[adapters.OpaqueOriginKey], "encode must not modify the envelope")

	back, err := a.Decode(wire)
	require.NoError(t, err)
	body, ok := back.IsOpaque()
	require.True(t, ok)
	assert.Equal(t, message.ProtocolMQTT, body.Origin)
	assert.Equal(t, "mqtt:payload", body.TypeTag)
	assert.Equal(t, []byte{0xde, 0xad}, body.Data)
	assert.NotContains(t, back.MessageAnnotations, adapters.OpaqueOriginKey)
	assert.NotContains(t, back.MessageAnnotations, adapters.OpaqueTypeKey)
}

func TestEncodeEnvelopeFromAnotherProtocol(t *testing.T) {
	env := message.New(message.ProtocolAMQP091, message.NewMap(map[string]any{"n": int64(1)}))
	env.Durable = true
	env.Priority = 4
	env.Properties.MessageID = "m"
	env.Properties.CreationTime = 1_700_000_000_000
	env.SetTimeToLive(500)
	env.ApplicationProperties["k"] = uint16(7)

	a := New()
	wire, err := a.Encode(env)
	require.NoError(t, err)

	back, err := a.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, "m", back.ID)
	assert.True(t, back.Durable)
	assert.Equal(t, int64(1_700_000_000_000), back.Properties.CreationTime)
	ttl, _ := back.TimeToLive()
	assert.Equal(t, uint64(500), ttl)
	assert.Equal(t, uint16(7), back.ApplicationProperties["k"])
	body := back.Body.(*message.StructuredBody)
	assert.Equal(t, message.KindMap, body.Kind)
	assert.Equal(t, int64(1), body.Map["n"])
}

func TestEncodeObjectSetsContentType(t *testing.T) {
	env := message.New(message.ProtocolCore, message.NewObject([]byte{1}))
	a := New()
	wire, err := a.Encode(env)
	require.NoError(t, err)
	assert.Empty(t, env.Properties.ContentType)

	back, err := a.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, message.KindObject, back.Body.(*message.StructuredBody).Kind)
}

func TestDecodeMalformed(t *testing.T) {
	tests := map[string][]byte{
		"not described":      {codeStr8, 1, 'a'},
		"unknown descriptor": {codeDescribed, codeSmallUlong, 0x10, codeNull},
		"truncated":          {codeDescribed, codeSmallUlong, byte(sectionValue), codeStr8, 5, 'a'},
		"header not a list":  section(t, sectionHeader, "oops"),
		"bad priority":       section(t, sectionHeader, []any{nil, "high"}),
		"data not binary":    section(t, sectionData, "text"),
		"section after body": concat(section(t, sectionValue, "x"), section(t, sectionApplicationProperties, map[string]any{})),
	}
	a := New()
	for name, wire := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Decode(wire)
			assert.ErrorIs(t, err, adapters.ErrMalformed)
		})
	}
}

func TestPrimitiveValues(t *testing.T) {
	values := []any{
		nil, true, false, uint8(200), int8(-3), uint16(600), int16(-600),
		uint32(0), uint32(7), uint32(70000), uint64(0), uint64(9), uint64(1 << 40),
		int32(-5), int32(100000), int64(-5), int64(1 << 40),
		float32(1.5), 2.25, []byte("bin"), "str", uuid.New(),
		[]any{"a", int64(1)},
	}
	for _, v := range values {
		var buf bytes.Buffer
		require.NoError(t, writeValue(&buf, v))
		got, err := (&reader{buf: buf.Bytes()}).readValue()
		require.NoError(t, err)
		assert.Equal(t, v, got, "%T", v)
	}
}

func TestWriteValueRejectsUnknownTypes(t *testing.T) {
	var buf bytes.Buffer
	err := writeValue(&buf, struct{}{})
	assert.ErrorIs(t, err, message.ErrUnsupportedValue)
}
