package services

import (
	"context"
	"fmt"
	"time"

	"drivewatch/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTSource subscribes to a telemetry topic on an MQTT broker
type MQTTSource struct {
	config *config.Config
	logger *zap.Logger
}

// NewMQTTSource creates a new MQTT push source
func NewMQTTSource(cfg *config.Config, logger *zap.Logger) *MQTTSource {
	return &MQTTSource{
		config: cfg,
		logger: logger,
	}
}

// Subscribe connects to the broker at url (tcp://host:port) and forwards
// every message on the configured topic to handler
func (m *MQTTSource) Subscribe(ctx context.Context, url string, handler SourceHandler) error {
	lost := make(chan error, 1)
	fail := func(err error) {
		select {
		case lost <- err:
		default:
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(url)
	opts.SetClientID(m.config.MQTTClientID)
	if m.config.MQTTUsername != "" {
		opts.SetUsername(m.config.MQTTUsername)
		opts.SetPassword(m.config.MQTTPassword)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(m.config.ConnectionTimeout)
	// A lost channel ends the session subscription
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.OnConnect = func(client mqtt.Client) {
		token := client.Subscribe(m.config.MQTTTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			handler.OnMessage(msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			fail(fmt.Errorf("failed to subscribe to %s: %w", m.config.MQTTTopic, token.Error()))
			return
		}

		m.logger.Info("Subscribed to MQTT telemetry topic",
			zap.String("broker", url),
			zap.String("topic", m.config.MQTTTopic))
		handler.OnOpen()
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.logger.Error("MQTT connection lost", zap.Error(err))
		fail(fmt.Errorf("mqtt connection lost: %w", err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()

	select {
	case <-ctx.Done():
		client.Disconnect(250)
		return nil
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	defer client.Disconnect(250)

	select {
	case <-ctx.Done():
		return nil
	case err := <-lost:
		return err
	}
}
