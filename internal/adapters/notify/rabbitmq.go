package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/mikey/phish-filter/internal/core"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	DefaultPublishTimeout = 5 * time.Second
	DefaultMaxRetries     = 3

	eventTypePhishingDetected = "PhishingDetected"
)

// PhishingEvent is the message body published for every phishing email
type PhishingEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	MessageID  string    `json:"message_id"`
	Source     string    `json:"source"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Timestamp  string    `json:"timestamp"`
	URLs       []string  `json:"urls"`
	DetectedAt time.Time `json:"detected_at"`
}

// NewPhishingEvent builds the event published for msg
func NewPhishingEvent(msg *core.Message, now time.Time) PhishingEvent {
	urls := msg.URLs
	if urls == nil {
		urls = []string{}
	}
	return PhishingEvent{
		EventID:    uuid.NewString(),
		EventType:  eventTypePhishingDetected,
		MessageID:  msg.ID,
		Source:     string(msg.Source),
		Sender:     msg.Sender,
		Subject:    msg.Subject,
		Timestamp:  core.FormatTimestamp(msg.Timestamp),
		URLs:       urls,
		DetectedAt: now.UTC(),
	}
}

// RabbitMQNotifier publishes phishing events to a RabbitMQ exchange with
// publisher confirms. It implements core.Notifier.
type RabbitMQNotifier struct {
	connection      *amqp091.Connection
	connectionMutex sync.Mutex
	channel         *amqp091.Channel
	publishMutex    sync.Mutex
	confirms        chan amqp091.Confirmation
	url             string
	exchange        string
	routingKey      string
	publishTimeout  time.Duration
	maxRetries      int
	logger          *zap.Logger
}

// NewRabbitMQNotifier connects to the broker and declares the exchange
func NewRabbitMQNotifier(url, exchange, routingKey string, publishTimeout time.Duration, logger *zap.Logger) (*RabbitMQNotifier, error) {
	if exchange == "" {
		return nil, errors.New("notify exchange must not be empty")
	}
	if publishTimeout <= 0 {
		publishTimeout = DefaultPublishTimeout
	}

	n := &RabbitMQNotifier{
		url:            url,
		exchange:       exchange,
		routingKey:     routingKey,
		publishTimeout: publishTimeout,
		maxRetries:     DefaultMaxRetries,
		logger:         logger,
	}
	if err := n.connect(); err != nil {
		return nil, err
	}

	logger.Info("Connected to RabbitMQ",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey))
	return n, nil
}

func (n *RabbitMQNotifier) connect() error {
	n.connectionMutex.Lock()
	defer n.connectionMutex.Unlock()

	conn, err := amqp091.Dial(n.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	n.connection = conn

	if err := n.setupChannel(); err != nil {
		conn.Close()
		return err
	}
	return nil
}

func (n *RabbitMQNotifier) setupChannel() error {
	ch, err := n.connection.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if err := ch.ExchangeDeclare(
		n.exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", n.exchange, err)
	}

	n.channel = ch
	n.confirms = ch.NotifyPublish(make(chan amqp091.Confirmation, 1))
	return nil
}

func (n *RabbitMQNotifier) ensureChannel() error {
	if n.connection == nil || n.connection.IsClosed() {
		return n.connect()
	}
	if n.channel == nil || n.channel.IsClosed() {
		n.connectionMutex.Lock()
		defer n.connectionMutex.Unlock()
		return n.setupChannel()
	}
	return nil
}

// NotifyPhishing publishes a PhishingEvent for msg and waits for the broker ack
func (n *RabbitMQNotifier) NotifyPhishing(ctx context.Context, msg *core.Message) error {
	body, err := json.Marshal(NewPhishingEvent(msg, time.Now()))
	if err != nil {
		return fmt.Errorf("failed to marshal phishing event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < n.maxRetries; attempt++ {
		lastErr = n.publishWithConfirm(ctx, body)
		if lastErr == nil {
			n.logger.Debug("Published phishing event",
				zap.String("message_id", msg.ID),
				zap.String("source", string(msg.Source)))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n.logger.Warn("Publish attempt failed",
			zap.Int("attempt", attempt+1),
			zap.String("message_id", msg.ID),
			zap.Error(lastErr))
	}
	return fmt.Errorf("failed to publish phishing event after %d attempts: %w", n.maxRetries, lastErr)
}

func (n *RabbitMQNotifier) publishWithConfirm(ctx context.Context, body []byte) error {
	n.publishMutex.Lock()
	defer n.publishMutex.Unlock()

	if err := n.ensureChannel(); err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, n.publishTimeout)
	defer cancel()

	err := n.channel.PublishWithContext(pubCtx,
		n.exchange,
		n.routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			DeliveryMode: amqp091.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	select {
	case confirm, ok := <-n.confirms:
		if !ok {
			return errors.New("confirm channel closed")
		}
		if !confirm.Ack {
			return errors.New("message was not confirmed by server")
		}
		return nil
	case <-pubCtx.Done():
		return fmt.Errorf("publish confirmation timeout: %w", pubCtx.Err())
	}
}

// Close shuts down the channel and connection
func (n *RabbitMQNotifier) Close() error {
	n.connectionMutex.Lock()
	defer n.connectionMutex.Unlock()

	var err error
	if n.channel != nil {
		if err = n.channel.Close(); err != nil {
			n.logger.Error("Error closing channel", zap.Error(err))
		}
	}
	if n.connection != nil {
		if closeErr := n.connection.Close(); closeErr != nil {
			n.logger.Error("Error closing connection", zap.Error(closeErr))
			if err == nil {
				err = closeErr
			}
		}
	}
	return err
}
