// Package push publishes completed risk scores to the companion-device
// channel over MQTT. Delivery is one-way and fire-and-forget; no
// acknowledgment is expected and a failed publish is only logged.
package push

import (
	"encoding/json"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/episense/episense/pkg/logx"
	"github.com/episense/episense/pkg/model"
)

// Config holds companion push configuration
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Enabled     bool   `json:"enabled"`
}

// DefaultConfig returns default push configuration
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "episensed",
		TopicPrefix: "episense",
		QoS:         1,
		Enabled:     false,
	}
}

// Client publishes risk scores to the companion display.
type Client struct {
	client      MQTT.Client
	logger      *logx.Logger
	config      *Config
	connected   bool
	lastPublish time.Time
}

// NewClient creates a new push client
func NewClient(config *Config, logger *logx.Logger) *Client {
	return &Client{
		logger: logger,
		config: config,
	}
}

// Connect establishes the broker connection. Disabled clients are a no-op.
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("companion push disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = MQTT.NewClient(opts)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("push: connect to broker: %w", token.Error())
	}

	c.logger.Info("companion push connected", "broker", c.config.Broker, "port", c.config.Port)
	return nil
}

// Disconnect closes the broker connection.
func (c *Client) Disconnect() error {
	if c.client != nil && c.connected {
		c.client.Disconnect(250)
		c.connected = false
		c.logger.Info("companion push disconnected")
	}
	return nil
}

func (c *Client) onConnect(client MQTT.Client) {
	c.connected = true
	c.logger.Info("companion push connection established")
}

func (c *Client) onConnectionLost(client MQTT.Client, err error) {
	c.connected = false
	c.logger.Error("companion push connection lost", "error", err.Error())
}

// SendRiskScore publishes the latest risk score so the secondary display
// shows the same value. No-op while disabled or disconnected.
func (c *Client) SendRiskScore(score model.RiskScore) error {
	if !c.config.Enabled || !c.connected {
		return nil
	}

	topic := fmt.Sprintf("%s/risk/current", c.config.TopicPrefix)
	data, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("push: marshal risk score: %w", err)
	}

	token := c.client.Publish(topic, byte(c.config.QoS), true, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("push: publish to %s: %w", topic, token.Error())
	}

	c.lastPublish = time.Now()
	c.logger.Debug("risk score published", "topic", topic, "risk_pct", score.RiskPercentage())
	return nil
}

// IsConnected returns whether the push channel is up.
func (c *Client) IsConnected() bool {
	return c.connected && c.client != nil && c.client.IsConnected()
}

// LastPublish returns the timestamp of the last successful publish.
func (c *Client) LastPublish() time.Time {
	return c.lastPublish
}
