package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/moochie/internal/chat"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const (
	DefaultExchangeName = "moochie"
	DefaultExchangeType = amqp.ExchangeTopic
)

var errMissingURI = errors.New("push: amqp uri required")

// AMQPSettings locates the broker and exchange.
type AMQPSettings struct {
	URI          string
	ExchangeName string
	ExchangeType string
}

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher forwards stored chat messages to an AMQP exchange, where an
// external worker turns them into push deliveries.
type Publisher struct {
	exchange string
	logger   *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel channel
}

// ChatPushEvent is the JSON body published for each chat message.
type ChatPushEvent struct {
	Type       string `json:"type"`
	RoomCode   string `json:"roomCode"`
	MessageID  string `json:"messageId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

// Dial connects to the broker and declares the exchange.
func Dial(settings AMQPSettings, logger *zap.Logger) (*Publisher, error) {
	uri := strings.TrimSpace(settings.URI)
	if uri == "" {
		return nil, errMissingURI
	}
	exchangeName := settings.ExchangeName
	if exchangeName == "" {
		exchangeName = DefaultExchangeName
	}
	exchangeType := settings.ExchangeType
	if exchangeType == "" {
		exchangeType = DefaultExchangeType
	}

	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("push: dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("push: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, exchangeType, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("push: declare exchange: %w", err)
	}
	publisher := newPublisher(exchangeName, ch, logger)
	publisher.conn = conn
	return publisher, nil
}

func newPublisher(exchange string, ch channel, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{exchange: exchange, channel: ch, logger: logger}
}

// RoutingKey returns the routing key used for messages of a room.
func RoutingKey(roomCode string) string {
	return "chat." + roomCode + ".message"
}

// Publish implements chat.Publisher.
func (p *Publisher) Publish(_ context.Context, message chat.Message) error {
	body, err := json.Marshal(ChatPushEvent{
		Type:       "chat_message",
		RoomCode:   message.RoomCode,
		MessageID:  message.MessageID,
		SenderID:   message.SenderID,
		SenderName: message.SenderName,
		Text:       message.Text,
		Timestamp:  message.SentAtMillis,
	})
	if err != nil {
		return fmt.Errorf("push: encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return errors.New("push: publisher closed")
	}
	err = p.channel.Publish(p.exchange, RoutingKey(message.RoomCode), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    message.MessageID,
		Timestamp:    time.UnixMilli(message.SentAtMillis).UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("push: publish: %w", err)
	}
	p.logger.Debug("chat message published", zap.String("message_id", message.MessageID))
	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var result error
	if p.channel != nil {
		result = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && result == nil {
			result = err
		}
		p.conn = nil
	}
	return result
}
