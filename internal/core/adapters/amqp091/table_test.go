package amqp091

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottermq/otterlane/internal/core/message"
)

func TestTableRoundTrip(t *testing.T) {
	table := map[string]any{
		"bool":    true,
		"int8":    int8(-1),
		"uint8":   uint8(200),
		"int16":   int16(-300),
		"uint16":  uint16(60000),
		"int32":   int32(-70000),
		"uint32":  uint32(4_000_000_000),
		"int64":   int64(-1 << 40),
		"uint64":  uint64(1 << 63),
		"float32": float32(1.5),
		"float64": 2.25,
		"string":  "text",
		"bytes":   []byte{1, 2, 3},
		"time":    time.Unix(1_700_000_000, 0),
		"void":    nil,
		"array":   []any{"a", int64(1), []any{}},
		"table":   map[string]any{"nested": "yes"},
	}
	data, err := EncodeTable(table)
	require.NoError(t, err)

	decoded, err := DecodeTable(data)
	require.NoError(t, err)
	assert.Equal(t, table, decoded)
}

func TestTableDecimal(t *testing.T) {
	data, err := EncodeTable(map[string]any{"price": amqp.Decimal{Scale: 2, Value: -1234}})
	require.NoError(t, err)

	decoded, err := DecodeTable(data)
	require.NoError(t, err)
	raw, ok := decoded["price"].(message.RawValue)
	require.True(t, ok)
	assert.Equal(t, message.ProtocolAMQP091, raw.Protocol)

	again, err := EncodeTable(decoded)
	require.NoError(t, err)
	assert.Equal(t, data, again, "decimals survive as raw values")
}

func TestTableReadsLegacyCodes(t *testing.T) {
	data := []byte{
		1, 'a', 'U', 0xff, 0xfe,
		1, 'b', 'L', 0, 0, 0, 0, 0, 0, 0, 7,
	}
	decoded, err := DecodeTable(data)
	require.NoError(t, err)
	assert.Equal(t, int16(-2), decoded["a"])
	assert.Equal(t, uint64(7), decoded["b"])
}

func TestTableForeignRawValueIsBinary(t *testing.T) {
	data, err := EncodeTable(map[string]any{"sym": message.RawValue{Protocol: message.ProtocolAMQP, Data: []byte{0xa3, 1, 'x'}}})
	require.NoError(t, err)
	decoded, err := DecodeTable(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xa3, 1, 'x'}, decoded["sym"])
}

func TestTableErrors(t *testing.T) {
	_, err := EncodeTable(map[string]any{"ch": make(chan int)})
	assert.ErrorIs(t, err, message.ErrUnsupportedValue)

	for name, data := range map[string][]byte{
		"unknown type": {1, 'k', '?'},
		"short name":   {5, 'k'},
		"short value":  {1, 'k', 'I', 0},
		"long string":  {1, 'k', 'S', 0, 0, 0, 9, 'a'},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeTable(data)
			assert.Error(t, err)
		})
	}
}
