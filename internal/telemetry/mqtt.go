// Package telemetry exports responder activity: Prometheus metrics for
// scraping and MQTT messages for event consumers.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/energizer-project/pingcache/internal/config"
	"github.com/energizer-project/pingcache/internal/events"
	"github.com/energizer-project/pingcache/internal/util"
)

// Topic suffixes appended to the configured prefix.
const (
	TopicContent     = "content"
	TopicMaintenance = "maintenance"
	TopicWhitelist   = "whitelist"
	TopicOccupancy   = "occupancy"
	TopicConnections = "connections"
	TopicHealth      = "health"
	TopicAdmin       = "admin"
)

// ErrMQTTDisabled is returned by NewMQTTPublisher when MQTT is switched off.
var ErrMQTTDisabled = errors.New("MQTT is disabled")

var topicByEvent = map[events.EventType]string{
	events.EventReload:            TopicContent,
	events.EventMaintenanceChange: TopicMaintenance,
	events.EventWhitelistChange:   TopicWhitelist,
	events.EventPlayersSet:        TopicOccupancy,
	events.EventOccupancyUpdated:  TopicOccupancy,
	events.EventImproperPing:      TopicConnections,
	events.EventLoginKicked:       TopicConnections,
	events.EventHealth:            TopicHealth,
	events.EventShutdownScheduled: TopicAdmin,
}

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher forwards bus events to an MQTT broker as JSON messages.
type MQTTPublisher struct {
	cfg    config.MQTTConfig
	bus    *events.EventBus
	client mqttClient
	logger zerolog.Logger

	// Included in every message.
	metadata map[string]interface{}
}

// NewMQTTPublisher configures a client for cfg. It does not connect.
func NewMQTTPublisher(cfg config.MQTTConfig, bus *events.EventBus, logger zerolog.Logger) (*MQTTPublisher, error) {
	if !cfg.Enabled {
		return nil, ErrMQTTDisabled
	}

	sysInfo := util.GetSystemInfo()
	p := &MQTTPublisher{
		cfg:    cfg,
		bus:    bus,
		logger: logger,
		metadata: map[string]interface{}{
			"hostname": sysInfo.Hostname,
			"os":       sysInfo.OS,
			"version":  util.Version,
		},
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("pingcache-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig, err := mqttTLS(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	p.client = mqtt.NewClient(opts)
	return p, nil
}

func mqttTLS(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in MQTT CA file %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// Start connects, publishes bus events until ctx is cancelled, then
// announces the shutdown and disconnects.
func (p *MQTTPublisher) Start(ctx context.Context) error {
	p.logger.Info().
		Str("broker", p.cfg.BrokerURL).
		Int("port", p.cfg.Port).
		Msg("connecting to MQTT broker")

	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	p.subscribe()
	defer p.unsubscribe()

	<-ctx.Done()

	p.publishShutdown()
	p.client.Disconnect(2000)
	p.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (p *MQTTPublisher) subscribe() {
	for t := range topicByEvent {
		p.bus.Subscribe(t, "mqtt", p.onEvent)
	}
}

func (p *MQTTPublisher) unsubscribe() {
	p.bus.Unsubscribe("mqtt")
}

func (p *MQTTPublisher) onEvent(ctx context.Context, ev events.Event) error {
	topic, ok := topicByEvent[ev.Type]
	if !ok {
		return nil
	}
	return p.publish(topic, string(ev.Type), ev.Time, ev.Payload)
}

// Topic joins the configured prefix and a suffix.
func (p *MQTTPublisher) Topic(suffix string) string {
	prefix := strings.Trim(p.cfg.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

func (p *MQTTPublisher) publish(suffix, event string, at time.Time, payload interface{}) error {
	if !p.client.IsConnected() {
		return nil
	}

	data, err := json.Marshal(p.buildMessage(event, at, payload))
	if err != nil {
		return fmt.Errorf("failed to marshal MQTT message: %w", err)
	}

	topic := p.Topic(suffix)
	token := p.client.Publish(topic, 1, false, data)
	if !token.WaitTimeout(5 * time.Second) {
		p.logger.Warn().Str("topic", topic).Msg("MQTT publish timed out")
		return nil
	}
	if err := token.Error(); err != nil {
		p.logger.Warn().Err(err).Str("topic", topic).Msg("MQTT publish failed")
	}
	return nil
}

// buildMessage combines metadata with the event payload.
func (p *MQTTPublisher) buildMessage(event string, at time.Time, payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(p.metadata)+3)
	for k, v := range p.metadata {
		msg[k] = v
	}
	msg["event"] = event
	msg["payload"] = payload
	msg["timestamp"] = at.UTC().Format(time.RFC3339)
	return msg
}

func (p *MQTTPublisher) publishShutdown() {
	if err := p.publish(TopicAdmin, string(events.EventShutdown), time.Now(), nil); err != nil {
		p.logger.Warn().Err(err).Msg("failed to announce shutdown")
	}
}
