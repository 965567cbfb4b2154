package feed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ConnectionOptions configures DialWithRetry.
type ConnectionOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
	Logger        *zap.Logger
}

// MaxDelay caps the backoff between dial attempts.
const MaxDelay = 60 * time.Second

var dial = amqp091.Dial

// DialWithRetry tries to connect to RabbitMQ with exponential backoff.
// It respects context cancellation for graceful shutdown.
func DialWithRetry(ctx context.Context, cfg ConnectionOptions) (*amqp091.Connection, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := dial(cfg.URL)
		if err == nil {
			if i > 1 {
				logger.Info("rabbit connected", zap.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}

		sleep := backoff(cfg.Delay, i)
		logger.Warn("rabbit dial failed",
			zap.Int("attempt", i),
			zap.Duration("sleep", sleep),
			zap.Error(err),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
}

func backoff(base time.Duration, attempt int) time.Duration {
	sleep := base * time.Duration(math.Pow(2, float64(attempt-1)))
	if sleep > MaxDelay || sleep <= 0 {
		sleep = MaxDelay
	}
	return sleep
}
