package adapters_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottermq/otterlane/internal/core/adapters"
	"github.com/ottermq/otterlane/internal/core/adapters/amqp091"
	"github.com/ottermq/otterlane/internal/core/adapters/amqp10"
	"github.com/ottermq/otterlane/internal/core/adapters/mqtt"
	"github.com/ottermq/otterlane/internal/core/message"
)

func TestRegistry(t *testing.T) {
	r := adapters.NewRegistry(mqtt.New(mqtt.Options{}), amqp10.New(), amqp091.New())

	assert.Equal(t, []message.Protocol{message.ProtocolAMQP, message.ProtocolAMQP091, message.ProtocolMQTT}, r.Protocols())

	a, err := r.Get(message.ProtocolMQTT)
	require.NoError(t, err)
	assert.Equal(t, message.ProtocolMQTT, a.Protocol())

	_, err = r.Get("stomp")
	assert.ErrorIs(t, err, adapters.ErrUnknownProtocol)
}

func TestRegisterReplaces(t *testing.T) {
	r := adapters.NewRegistry(mqtt.New(mqtt.Options{}))
	replacement := mqtt.New(mqtt.Options{DecodeMaps: true})
	r.Register(replacement)

	a, err := r.Get(message.ProtocolMQTT)
	require.NoError(t, err)
	assert.Same(t, replacement, a)
	assert.Len(t, r.Protocols(), 1)
}

func TestUnsupportedNamesTheBody(t *testing.T) {
	body := message.NewOpaque(message.ProtocolAMQP, "apache.org:no-local-filter:list", []byte{0x45})
	err := adapters.Unsupported(message.ProtocolMQTT, body)
	assert.ErrorIs(t, err, adapters.ErrUnsupportedBody)
	assert.Contains(t, err.Error(), "no-local-filter")

	err = adapters.Malformed(message.ProtocolAMQP, "bad byte %#x", 0xff)
	assert.ErrorIs(t, err, adapters.ErrMalformed)
}
