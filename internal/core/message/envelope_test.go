package message

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AssignsIDAndMaps(t *testing.T) {
	env := New(ProtocolAMQP, NewText("hello"))

	assert.NotEmpty(t, env.ID)
	assert.NotNil(t, env.ApplicationProperties)
	assert.NotNil(t, env.MessageAnnotations)
	assert.NotNil(t, env.DeliveryAnnotations)

	_, ok := env.TimeToLive()
	assert.False(t, ok)
	_, ok = env.AbsoluteExpiry()
	assert.False(t, ok)
}

func TestEnvelope_ExpiryAccessors(t *testing.T) {
	env := New(ProtocolAMQP, NewText("x")).SetTimeToLive(1000).SetAbsoluteExpiryTime(0)

	ttl, ok := env.TimeToLive()
	assert.True(t, ok)
	assert.Equal(t, uint64(1000), ttl)

	abs, ok := env.AbsoluteExpiry()
	assert.True(t, ok, "zero absolute expiry is still reported as present")
	assert.Equal(t, int64(0), abs)

	env.ClearExpiry()
	_, ok = env.TimeToLive()
	assert.False(t, ok)
}

func TestEnvelope_CloneIsDeep(t *testing.T) {
	env := New(ProtocolAMQP, NewOpaque(ProtocolAMQP, "amqp:described:test", []byte{0x00, 0x53, 0x77}))
	env.ApplicationProperties["nested"] = map[string]any{"k": []byte("v")}
	env.MessageAnnotations["x-opt-a"] = "a"
	env.DeliveryAnnotations["shouldDisappear"] = int32(1)
	env.SetTimeToLive(10)

	c := env.Clone()
	c.Body.(*OpaqueBody).Data[0] = 0xFF
	c.ApplicationProperties["nested"].(map[string]any)["k"].([]byte)[0] = 'X'
	c.MessageAnnotations["x-opt-a"] = "changed"
	delete(c.DeliveryAnnotations, "shouldDisappear")
	*c.TimeToLiveMillis = 99

	assert.Equal(t, byte(0x00), env.Body.(*OpaqueBody).Data[0])
	assert.Equal(t, []byte("v"), env.ApplicationProperties["nested"].(map[string]any)["k"])
	assert.Equal(t, "a", env.MessageAnnotations["x-opt-a"])
	assert.Contains(t, env.DeliveryAnnotations, "shouldDisappear")
	ttl, _ := env.TimeToLive()
	assert.Equal(t, uint64(10), ttl)
}

func TestEnvelope_Size(t *testing.T) {
	env := New(ProtocolCore, NewBytes(make([]byte, 100)))
	env.ApplicationProperties["key"] = "value"
	assert.Equal(t, 108, env.Size())
}

func TestStructuredKind_String(t *testing.T) {
	assert.Equal(t, "text", KindText.String())
	assert.Equal(t, "map", KindMap.String())
	assert.Equal(t, "kind(42)", StructuredKind(42).String())
}

func TestAnnotations_GetString(t *testing.T) {
	var nilAnn Annotations
	_, ok := nilAnn.Get("x")
	assert.False(t, ok)

	a := Annotations{"s": "str", "n": int64(1)}
	s, ok := a.GetString("s")
	assert.True(t, ok)
	assert.Equal(t, "str", s)
	_, ok = a.GetString("n")
	assert.False(t, ok)
}

func TestRecordCodec_PreservesTypes(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	id := uuid.New()

	env := New(ProtocolAMQP, NewMap(map[string]any{"count": int32(3), "name": "otter"}))
	env.Durable = true
	env.Priority = 4
	env.Properties = Properties{MessageID: "m-1", ContentType: "text/plain", CreationTime: 42}
	env.ApplicationProperties["i8"] = int8(-1)
	env.ApplicationProperties["u64"] = uint64(1 << 40)
	env.ApplicationProperties["f32"] = float32(1.5)
	env.ApplicationProperties["when"] = ts
	env.ApplicationProperties["uuid"] = id
	env.ApplicationProperties["list"] = []any{"a", int64(2), nil}
	env.MessageAnnotations["x-opt-raw"] = RawValue{Protocol: ProtocolAMQP, Data: []byte{0x00, 0xa3, 0x01, 'x', 0x40}}
	env.DeliveryAnnotations["hop"] = true
	env.SetTimeToLive(5000).SetAbsoluteExpiryTime(1700000005000)
	env.DeliveryCount = 2

	data, err := Marshal(env)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, ProtocolAMQP, got.Origin)
	assert.True(t, got.Durable)
	assert.Equal(t, uint8(4), got.Priority)
	assert.Equal(t, env.Properties, got.Properties)
	assert.Equal(t, int8(-1), got.ApplicationProperties["i8"])
	assert.Equal(t, uint64(1<<40), got.ApplicationProperties["u64"])
	assert.Equal(t, float32(1.5), got.ApplicationProperties["f32"])
	assert.True(t, ts.Equal(got.ApplicationProperties["when"].(time.Time)))
	assert.Equal(t, id, got.ApplicationProperties["uuid"])
	assert.Equal(t, []any{"a", int64(2), nil}, got.ApplicationProperties["list"])
	assert.Equal(t, env.MessageAnnotations["x-opt-raw"], got.MessageAnnotations["x-opt-raw"])
	assert.Equal(t, true, got.DeliveryAnnotations["hop"])
	assert.Equal(t, uint32(2), got.DeliveryCount)

	ttl, _ := got.TimeToLive()
	assert.Equal(t, uint64(5000), ttl)
	abs, _ := got.AbsoluteExpiry()
	assert.Equal(t, int64(1700000005000), abs)

	body, ok := got.Body.(*StructuredBody)
	require.True(t, ok)
	assert.Equal(t, KindMap, body.Kind)
	assert.Equal(t, int32(3), body.Map["count"])
	assert.Equal(t, "otter", body.Map["name"])
}

func TestRecordCodec_OpaqueBodyBytesUnchanged(t *testing.T) {
	payload := []byte{0x00, 0x53, 0x77, 0x00, 0x80, 0x00, 0x00, 0x46, 0x8c, 0x00, 0x00, 0x00, 0x03, 0x45}
	env := New(ProtocolAMQP, NewOpaque(ProtocolAMQP, "amqp:described:0x0000468c00000003", payload))

	data, err := Marshal(env)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)

	opaque, ok := got.IsOpaque()
	require.True(t, ok)
	assert.Equal(t, ProtocolAMQP, opaque.Origin)
	assert.Equal(t, "amqp:described:0x0000468c00000003", opaque.TypeTag)
	assert.Equal(t, payload, opaque.Data)
}

func TestRecordCodec_RejectsUnsupportedValue(t *testing.T) {
	env := New(ProtocolCore, NewText("x"))
	env.ApplicationProperties["bad"] = struct{ A int }{A: 1}

	_, err := Marshal(env)
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestRecordCodec_GarbageInput(t *testing.T) {
	_, err := Unmarshal([]byte{0xff, 0x00, 0x13})
	assert.Error(t, err)
}
