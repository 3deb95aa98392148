package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottermq/otterlane/config"
	"github.com/ottermq/otterlane/internal/core/broker"
	"github.com/ottermq/otterlane/internal/core/models"
	"github.com/ottermq/otterlane/pkg/persistence/implementations/memento"
)

const testSecret = "test-secret"

func newTestApp(t *testing.T, secret string) (*fiber.App, *broker.Broker) {
	t.Helper()
	cfg := &config.Config{
		Version:           "test",
		PersistenceType:   "memory",
		EnableDLX:         true,
		EnableTTL:         true,
		EnableQLL:         true,
		DeadLetterAddress: "DLQ",
		DLQDeliveryCount:  "reset",
		ExpiryScanPeriod:  time.Second,
		AutoCreateQueues:  true,
		EnableMetrics:     true,
		MetricsNamespace:  "otterlane",
	}
	b, err := broker.NewBroker(cfg, context.Background(), broker.Options{Persistence: memento.New()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Shutdown() })

	ws, err := NewWebServer(&Config{
		Username:         "guest",
		Password:         "guest",
		JwtKey:           secret,
		EnableMetrics:    true,
		MetricsNamespace: "otterlane",
	}, b)
	require.NoError(t, err)
	return ws.SetupApp(nil), b
}

func do(t *testing.T, app *fiber.App, method, path string, body any, token string) *http.Response {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(v)
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if _, ok := body.([]byte); ok {
		req.Header.Set("Content-Type", "application/octet-stream")
	} else if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func login(t *testing.T, app *fiber.App) string {
	t.Helper()
	resp := do(t, app, http.MethodPost, "/api/login", models.LoginRequest{Username: "guest", Password: "guest"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[models.LoginResponse](t, resp)
	require.NotEmpty(t, out.Token)
	return out.Token
}

func TestHealthz(t *testing.T) {
	app, b := newTestApp(t, "")
	resp := do(t, app, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	b.ShuttingDown.Store(true)
	resp = do(t, app, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app, _ := newTestApp(t, testSecret)

	resp := do(t, app, http.MethodGet, "/api/queues", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, app, http.MethodGet, "/api/queues", nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, app, http.MethodGet, "/api/queues", nil, login(t, app))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, app, http.MethodGet, "/api/overview/broker", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "broker info is public")
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	app, _ := newTestApp(t, testSecret)
	resp := do(t, app, http.MethodPost, "/api/login", models.LoginRequest{Username: "guest", Password: "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestQueueLifecycle(t *testing.T) {
	app, _ := newTestApp(t, "")
	ttl := int64(60000)

	resp := do(t, app, http.MethodPut, "/api/queues/%2F/orders", models.CreateQueueRequest{Durable: true, MessageTTL: &ttl}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.QueueDTO](t, resp)
	assert.Equal(t, "orders", created.Name)
	require.NotNil(t, created.MessageTTL)
	assert.Equal(t, ttl, *created.MessageTTL)

	resp = do(t, app, http.MethodPut, "/api/queues/%2F/orders", models.CreateQueueRequest{Durable: false}, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "redeclare with different properties")

	resp = do(t, app, http.MethodPost, "/api/queues/%2F/orders/messages", models.PublishMessageRequest{Payload: "hello", Durable: true}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, app, http.MethodGet, "/api/queues/%2F/orders/messages?count=5", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decode[models.MessageListResponse](t, resp)
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, "hello", msgs.Messages[0].Payload)

	resp = do(t, app, http.MethodDelete, "/api/queues/%2F/orders?ifEmpty=true", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, app, http.MethodDelete, "/api/queues/%2F/orders/contents", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[models.PurgeResponse](t, resp).Purged)

	resp = do(t, app, http.MethodDelete, "/api/queues/%2F/orders", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, app, http.MethodGet, "/api/queues/%2F/orders", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWireSendReceiveAck(t *testing.T) {
	app, b := newTestApp(t, "")

	resp := do(t, app, http.MethodPost, "/api/wire/mqtt/sensors", []byte("hello"), "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, app, http.MethodPost, "/api/wire/mqtt/sensors/receive?consumer=c1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := decode[models.WireDeliveryResponse](t, resp)
	assert.Equal(t, []byte("hello"), d.Payload)
	assert.Equal(t, "mqtt", d.Protocol)

	resp = do(t, app, http.MethodPost, "/api/wire/deliveries/ack",
		models.SettleRequest{Queue: d.Queue, LeaseID: d.LeaseID, ConsumerTag: d.ConsumerTag}, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, int64(0), b.GetVHost("/").GetQueue("sensors").MessageCount())

	resp = do(t, app, http.MethodPost, "/api/wire/mqtt/sensors/receive?consumer=c1", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "empty queue")
}

func TestWireErrors(t *testing.T) {
	app, _ := newTestApp(t, "")

	resp := do(t, app, http.MethodPost, "/api/wire/stomp/q", []byte("x"), "")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp = do(t, app, http.MethodPost, "/api/wire/amqp/q", []byte{0xff, 0x00}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, app, http.MethodPost, "/api/wire/deliveries/ack", models.SettleRequest{Queue: "q", LeaseID: 99, ConsumerTag: "c"}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "queue was never created")

	resp = do(t, app, http.MethodPost, "/api/wire/deliveries/bogus", models.SettleRequest{}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWireDisconnectRedelivers(t *testing.T) {
	app, b := newTestApp(t, "")
	do(t, app, http.MethodPost, "/api/wire/mqtt/jobs", []byte("work"), "")
	resp := do(t, app, http.MethodPost, "/api/wire/mqtt/jobs/receive?consumer=w1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, app, http.MethodDelete, "/api/wire/consumers/w1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	q := b.GetVHost("/").GetQueue("jobs")
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 0, q.InFlight())
}

func TestMetricsEndpoint(t *testing.T) {
	app, _ := newTestApp(t, "")
	do(t, app, http.MethodPost, "/api/wire/mqtt/m", []byte("x"), "")

	resp := do(t, app, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "otterlane_"), "metrics carry the namespace")
}
