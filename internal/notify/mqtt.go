package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cat_feeder/internal/logger"
	"cat_feeder/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config for the MQTT publisher.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// EstopFunc is called with the requested latch state for each valid estop message.
type EstopFunc func(engaged bool)

// client is the part of mqtt.Client we use.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

var ErrPublishTimeout = errors.New("mqtt publish timed out")

type MQTT struct {
	c       client
	cfg     Config
	onEstop EstopFunc
	log     *logger.Logger
}

const (
	defaultTopicPrefix    = "feeder"
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 3 * time.Second
	disconnectQuiesceMs   = 250
)

func (c *Config) applyDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = defaultTopicPrefix
	}
	c.TopicPrefix = strings.TrimRight(c.TopicPrefix, "/")
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}
	if c.QoS > 2 {
		c.QoS = 1
	}
	if c.ClientID == "" {
		c.ClientID = fmt.Sprintf("cat-feeder-%d", time.Now().Unix())
	}
}

// Dial connects to the broker. The estop topic is (re)subscribed on every
// connect so it survives reconnects.
func Dial(cfg Config, onEstop EstopFunc, log *logger.Logger) (*MQTT, error) {
	cfg.applyDefaults()
	m := &MQTT{cfg: cfg, onEstop: onEstop, log: logger.OrNop(log)}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		m.log.Infow("mqtt_connected", "broker", cfg.Broker)
		if err := m.subscribe(c); err != nil {
			m.log.Errorw("mqtt_subscribe_failed", "topic", m.EstopTopic(), "err", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.log.Warnw("mqtt_connection_lost", "err", err)
	})

	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connect %s: timed out", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	m.c = c
	return m, nil
}

func newWithClient(c client, cfg Config, onEstop EstopFunc, log *logger.Logger) *MQTT {
	cfg.applyDefaults()
	return &MQTT{c: c, cfg: cfg, onEstop: onEstop, log: logger.OrNop(log)}
}

func (m *MQTT) EventTopic(typ string) string {
	return m.cfg.TopicPrefix + "/events/" + strings.ToLower(typ)
}

func (m *MQTT) EstopTopic() string { return m.cfg.TopicPrefix + "/estop" }

func (m *MQTT) subscribe(c client) error {
	if m.onEstop == nil {
		return nil
	}
	tok := c.Subscribe(m.EstopTopic(), m.cfg.QoS, m.handleEstop)
	if !tok.WaitTimeout(m.cfg.ConnectTimeout) {
		return errors.New("subscribe timed out")
	}
	return tok.Error()
}

func (m *MQTT) handleEstop(_ mqtt.Client, msg mqtt.Message) {
	engaged, err := ParseEstop(msg.Payload())
	if err != nil {
		m.log.Warnw("estop_payload_rejected", "topic", msg.Topic(), "err", err)
		return
	}
	m.log.Infow("estop_remote", "engaged", engaged)
	m.onEstop(engaged)
}

// Publish sends e as JSON to <prefix>/events/<type>.
func (m *MQTT) Publish(ctx context.Context, e models.SystemEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	tok := m.c.Publish(m.EventTopic(e.Type), m.cfg.QoS, false, payload)

	timer := time.NewTimer(m.cfg.PublishTimeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", e.Type, err)
		}
		return nil
	case <-timer.C:
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MQTT) Close() {
	if m.c != nil {
		m.c.Disconnect(disconnectQuiesceMs)
	}
}

// ParseEstop accepts 1|0, true|false, on|off (case-insensitive).
func ParseEstop(payload []byte) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "1", "true", "on":
		return true, nil
	case "0", "false", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid estop payload %q", payload)
}
