package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends change envelopes to the exchange.
type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *zap.Logger
}

// NewPublisher declares the topic exchange on conn and returns a publisher.
func NewPublisher(conn *amqp091.Connection, exchange string, logger *zap.Logger) (Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &rmqPublisher{conn: conn, exchange: exchange, log: logger}, nil
}

func (r *rmqPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	cid := uuid.NewString()
	if msg.Meta.CorrelationID != nil {
		cid = *msg.Meta.CorrelationID
	}

	err = ch.PublishWithContext(
		ctx, r.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Transient,
			MessageId:     msg.Meta.ID,
			CorrelationId: cid,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err == nil {
		r.log.Debug("published", zap.String("key", key), zap.String("exchange", r.exchange))
	}
	return err
}

// Close is a no-op; the connection is owned by the caller.
func (r *rmqPublisher) Close() error { return nil }

// FallbackPublisher drops envelopes, used when no broker is configured.
type FallbackPublisher struct {
	log *zap.Logger
}

// NewFallback returns a publisher that only logs.
func NewFallback(logger *zap.Logger) Publisher {
	return &FallbackPublisher{log: logger}
}

func (p *FallbackPublisher) Publish(_ context.Context, key string, _ Envelope) error {
	p.log.Warn("fallback publisher: skipped publish", zap.String("key", key))
	return nil
}

func (p *FallbackPublisher) Close() error { return nil }
