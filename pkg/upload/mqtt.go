package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type MQTTConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"clientId"`
	Username string `json:"username"`
	Password string `json:"password"`
	Topic    string `json:"topic"`
	QoS      byte   `json:"qos"`
	// Base64 publishes the image base64 encoded instead of raw bytes.
	Base64 bool `json:"base64"`
}

// publisher is the part of mqtt.Client used here.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnectionOpen() bool
}

// MQTT publishes every image to <topic>/image followed by a JSON
// description on <topic>/event.
type MQTT struct {
	cfg     MQTTConfig
	client  publisher
	timeout time.Duration
	close   func()
}

type imageEvent struct {
	Filename string    `json:"filename"`
	MimeType string    `json:"mimeType"`
	Size     int       `json:"size"`
	Base64   bool      `json:"base64"`
	At       time.Time `json:"at"`
}

// NewMQTT starts connecting to the broker. The connection is retried in the
// background, Ready reports false until it is up.
func NewMQTT(cfg MQTTConfig, timeout time.Duration) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if !strings.Contains(cfg.Broker, "://") {
		cfg.Broker = "tcp://" + cfg.Broker
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "cat-shutter-" + uuid.NewString()[:8]
	}
	cfg.Topic = strings.Trim(cfg.Topic, "/")
	if cfg.Topic == "" {
		cfg.Topic = "cat-shutter"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWriteTimeout(timeout)
	opts.OnConnect = func(mqtt.Client) {
		logger.Infof("mqtt: connected to %s as %s", cfg.Broker, cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warnf("mqtt: connection lost: %s", err)
	}

	client := mqtt.NewClient(opts)
	// with ConnectRetry the token only completes once connected
	client.Connect()

	m := newMQTT(cfg, client, timeout)
	m.close = func() { client.Disconnect(250) }
	return m, nil
}

func newMQTT(cfg MQTTConfig, client publisher, timeout time.Duration) *MQTT {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MQTT{cfg: cfg, client: client, timeout: timeout, close: func() {}}
}

func (m *MQTT) Ready(context.Context) bool {
	return m.client.IsConnectionOpen()
}

func (m *MQTT) Upload(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	// paho may still hold the payload after a timed out publish, while data
	// goes back to the frame pool once Upload returns.
	var payload []byte
	if m.cfg.Base64 {
		payload = make([]byte, base64.StdEncoding.EncodedLen(len(data)))
		base64.StdEncoding.Encode(payload, data)
	} else {
		payload = bytes.Clone(data)
	}
	if err := m.publish(ctx, m.cfg.Topic+"/image", payload); err != nil {
		return "", err
	}

	event, err := json.Marshal(imageEvent{
		Filename: filename,
		MimeType: mimeType,
		Size:     len(data),
		Base64:   m.cfg.Base64,
		At:       time.Now(),
	})
	if err != nil {
		return "", err
	}
	if err = m.publish(ctx, m.cfg.Topic+"/event", event); err != nil {
		return "", err
	}

	return m.locator(filename), nil
}

func (m *MQTT) publish(ctx context.Context, topic string, payload []byte) error {
	token := m.client.Publish(topic, m.cfg.QoS, false, payload)
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("publish %s: timeout", topic)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (m *MQTT) locator(filename string) string {
	host := m.cfg.Broker
	if u, err := url.Parse(m.cfg.Broker); err == nil && u.Host != "" {
		host = u.Host
	}
	return fmt.Sprintf("mqtt://%s/%s/image#%s", host, m.cfg.Topic, filename)
}

func (m *MQTT) Close() {
	m.close()
}
