package telemetry

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/pingcache/internal/config"
	"github.com/energizer-project/pingcache/internal/events"
	"github.com/energizer-project/pingcache/internal/motd"
)

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics()

	assert.True(t, m.OnConnect(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}))
	assert.True(t, m.OnConnect(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}))
	m.Served(motd.EraBinaryV2, false)
	m.Served(motd.EraBinaryV2, false)
	m.Served(motd.EraTextV1, true)
	m.Improper(net.IPv4(192, 0, 2, 1), "ping before request", false)
	m.LoginRefused(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.served.WithLabelValues(motd.EraBinaryV2.String(), "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.served.WithLabelValues(motd.EraTextV1.String(), "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.improper.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loginRefused.WithLabelValues("true")))
}

func TestMetricsFollowBus(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	m := NewMetrics()
	m.Attach(bus)
	ctx := context.Background()

	require.NoError(t, bus.EmitSync(ctx, events.New(events.EventReload, "test", events.ReloadPayload{Generation: 3, Holders: 12, Bytes: 4096})))
	require.NoError(t, bus.EmitSync(ctx, events.New(events.EventMaintenanceChange, "test", events.MaintenancePayload{Enabled: true})))
	require.NoError(t, bus.EmitSync(ctx, events.New(events.EventOccupancyUpdated, "test", events.OccupancyPayload{Reported: 10, Online: 18, Max: 4444})))
	require.NoError(t, bus.EmitSync(ctx, events.New(events.EventHealth, "test", events.HealthPayload{Healthy: true, Latency: 250 * time.Millisecond})))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.generation))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.holders))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.maintenance))
	assert.Equal(t, 18.0, testutil.ToFloat64(m.online))
	assert.Equal(t, 4444.0, testutil.ToFloat64(m.maxOnline))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.healthy))
	assert.InDelta(t, 0.25, testutil.ToFloat64(m.probeDelay), 1e-9)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.Served(motd.EraBinaryV1, false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "pingcache_responses_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

type doneToken struct{ err error }

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                 { return t.err }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	disconnected bool
	messages     []published
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.disconnected
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, payload: payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) snapshot() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func TestNewMQTTPublisherDisabled(t *testing.T) {
	_, err := NewMQTTPublisher(config.MQTTConfig{}, events.NewEventBus(), zerolog.Nop())
	assert.ErrorIs(t, err, ErrMQTTDisabled)
}

func TestMQTTPublisherForwardsEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	p, err := NewMQTTPublisher(config.MQTTConfig{
		Enabled:     true,
		BrokerURL:   "broker.invalid",
		Port:        1883,
		TopicPrefix: "/pingcache/",
	}, bus, zerolog.Nop())
	require.NoError(t, err)
	client := &fakeClient{}
	p.client = client
	assert.Equal(t, "pingcache/content", p.Topic(TopicContent))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	require.Eventually(t, func() bool {
		return bus.HandlerCount(events.EventMaintenanceChange) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.EmitSync(ctx, events.New(events.EventMaintenanceChange, "test", events.MaintenancePayload{Enabled: true, Actor: "api"})))

	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, bus.HandlerCount(events.EventMaintenanceChange))

	msgs := client.snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "pingcache/maintenance", msgs[0].topic)
	assert.Equal(t, "pingcache/admin", msgs[1].topic)

	var body struct {
		Event   string                    `json:"event"`
		Payload events.MaintenancePayload `json:"payload"`
		Version string                    `json:"version"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].payload, &body))
	assert.Equal(t, string(events.EventMaintenanceChange), body.Event)
	assert.True(t, body.Payload.Enabled)
	assert.Equal(t, "api", body.Payload.Actor)
	assert.NotEmpty(t, body.Version)
}
