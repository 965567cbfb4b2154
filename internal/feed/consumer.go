package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/store"
)

const reconnectDelay = 2 * time.Second

// Consumer binds a private queue to the change exchange and republishes
// every received event on a local hub.
type Consumer struct {
	opts     ConnectionOptions
	exchange string
	hub      *store.Hub
	log      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewConsumer prepares a consumer feeding hub. Call Start to connect.
func NewConsumer(opts ConnectionOptions, exchange string, hub *store.Hub) *Consumer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{opts: opts, exchange: exchange, hub: hub, log: logger}
}

// Start runs the consume loop until ctx is cancelled or Close is called.
func (c *Consumer) Start(ctx context.Context) {
	c.once.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		c.wg.Add(1)
		go c.run(ctx)
	})
}

// Close stops the loop and waits for it to exit.
func (c *Consumer) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return nil
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		err := c.consumeOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("change feed consumer stopped", zap.Error(err))
		c.hub.Disconnect(fmt.Errorf("%w: %v", store.ErrDisconnected, err))

		timer := time.NewTimer(reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	conn, err := DialWithRetry(ctx, c.opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	// server-named, exclusive and auto-deleted: every replica gets its own copy
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "#", c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp091.Error, 1))

	c.log.Info("change feed consumer started", zap.String("queue", q.Name), zap.String("exchange", c.exchange))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return fmt.Errorf("connection closed")
			}
			return amqpErr
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.dispatch(msg.Body); err != nil {
				c.log.Warn("dropping undecodable change", zap.String("key", msg.RoutingKey), zap.Error(err))
			}
		}
	}
}

func (c *Consumer) dispatch(body []byte) error {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if _, err := store.Columns(env.Data.Table); err != nil {
		return err
	}
	c.hub.Publish(env.Data)
	return nil
}
