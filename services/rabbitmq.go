package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"drivewatch/config"
	"drivewatch/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AlertEnvelope is the message body published for every alert batch
type AlertEnvelope struct {
	VehicleID   string          `json:"vehicle_id"`
	Severity    string          `json:"severity"`
	Alerts      []*models.Alert `json:"alerts"`
	Reading     *models.Reading `json:"reading"`
	PublishedAt time.Time       `json:"published_at"`
}

// RabbitMQService publishes alerts to a topic exchange
type RabbitMQService struct {
	config  *config.Config
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewRabbitMQService creates a new RabbitMQ publisher
func NewRabbitMQService(cfg *config.Config, logger *zap.Logger) (*RabbitMQService, error) {
	service := &RabbitMQService{
		config: cfg,
		logger: logger,
	}

	if err := service.connect(5); err != nil {
		return nil, err
	}

	return service, nil
}

// connect establishes connection to RabbitMQ and declares the alert exchange
func (r *RabbitMQService) connect(maxRetries int) error {
	var err error

	r.logger.Info("Connecting to RabbitMQ", zap.String("exchange", r.config.RabbitMQExchange))

	for attempt := 1; attempt <= maxRetries; attempt++ {
		r.conn, err = amqp.Dial(r.config.RabbitMQURL)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	r.channel, err = r.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = r.channel.ExchangeDeclare(
		r.config.RabbitMQExchange, // name
		"topic",                   // type
		true,                      // durable
		false,                     // auto-deleted
		false,                     // internal
		false,                     // no-wait
		nil,                       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	r.logger.Info("Exchange declared", zap.String("exchange", r.config.RabbitMQExchange))
	return nil
}

func (r *RabbitMQService) Name() string { return "rabbitmq" }

// Notify publishes the alert batch, routed by vehicle
func (r *RabbitMQService) Notify(ctx context.Context, alerts []*models.Alert, reading *models.Reading) error {
	if len(alerts) == 0 {
		return nil
	}

	body, err := json.Marshal(AlertEnvelope{
		VehicleID:   r.config.VehicleID,
		Severity:    string(determineSeverity(alerts)),
		Alerts:      alerts,
		Reading:     reading,
		PublishedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Reopen after a broker restart
	if r.conn == nil || r.conn.IsClosed() || r.channel == nil || r.channel.IsClosed() {
		_ = r.closeLocked()
		if err := r.connect(1); err != nil {
			return err
		}
	}

	routingKey := r.config.RabbitMQRoutingKey + "." + r.config.VehicleID
	err = r.channel.PublishWithContext(ctx,
		r.config.RabbitMQExchange, // exchange
		routingKey,                // routing key
		false,                     // mandatory
		false,                     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	r.logger.Debug("Published alerts to RabbitMQ",
		zap.String("vehicle_id", r.config.VehicleID),
		zap.Int("alert_count", len(alerts)))
	return nil
}

// Close gracefully closes RabbitMQ connection
func (r *RabbitMQService) Close() error {
	r.logger.Info("Closing RabbitMQ connection")

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *RabbitMQService) closeLocked() error {
	if r.channel != nil && !r.channel.IsClosed() {
		if err := r.channel.Close(); err != nil {
			r.logger.Error("Error closing channel", zap.Error(err))
		}
	}
	r.channel = nil

	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			r.conn = nil
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}
	r.conn = nil

	return nil
}
