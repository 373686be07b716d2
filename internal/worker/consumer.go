// README: Generation queue consumer with manual acks and reconnect backoff.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"freightmatch/internal/contracts"
	"freightmatch/internal/modules/matching"
	"freightmatch/internal/modules/request"
	"freightmatch/internal/types"
)

var (
	errMalformed    = errors.New("malformed generation message")
	errConsumeEnded = errors.New("consume channel closed")
)

// Subscriber is the slice of infra.RabbitMQ the consumer needs.
type Subscriber interface {
	Consume(
		ctx context.Context,
		queue, consumerTag string,
		prefetch int,
		handler func(context.Context, amqp.Delivery) error,
		requeue func(error) bool,
	) error
}

type Consumer struct {
	mq         Subscriber
	gen        Generator
	tag        string
	prefetch   int
	log        *zap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewConsumer(mq Subscriber, gen Generator, tag string, prefetch int, logger *zap.Logger) *Consumer {
	return &Consumer{
		mq:         mq,
		gen:        gen,
		tag:        tag,
		prefetch:   prefetch,
		log:        logger.Named("consumer"),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Run consumes until ctx ends, re-subscribing after channel failures. A
// session that outlived maxBackoff restarts the backoff schedule.
func (c *Consumer) Run(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.minBackoff
	policy.MaxInterval = c.maxBackoff
	policy.MaxElapsedTime = 0

	_ = backoff.RetryNotify(func() error {
		started := time.Now()
		err := c.mq.Consume(ctx, contracts.QueueMatchGeneration, c.tag, c.prefetch, c.Handle, retryable)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if time.Since(started) > c.maxBackoff {
			policy.Reset()
		}
		if err == nil {
			return errConsumeEnded
		}
		return err
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		c.log.Warn("consume interrupted", zap.Error(err), zap.Duration("retry_in", wait))
	})
	c.log.Info("consumer stopped")
}

// Handle processes one delivery. A returned error nacks it.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) error {
	var msg contracts.GenerateMatches
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.log.Error("drop undecodable message", zap.Error(err))
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if !types.ValidID(msg.RequestID) {
		c.log.Error("drop message without request id", zap.String("message_id", msg.MessageID))
		return errMalformed
	}

	ids, err := c.gen.Generate(ctx, types.ID(msg.RequestID))
	switch {
	case err == nil:
		c.log.Info("generation consumed",
			zap.String("message_id", msg.MessageID),
			zap.String("request_id", msg.RequestID),
			zap.String("reason", msg.Reason),
			zap.Int("matches", len(ids)))
		return nil
	case errors.Is(err, matching.ErrMatchingDelayed):
		// The request carries the delayed flag for manual re-matching.
		c.log.Warn("generation delayed", zap.String("request_id", msg.RequestID), zap.Error(err))
		return nil
	default:
		c.log.Error("generation failed",
			zap.String("message_id", msg.MessageID),
			zap.String("request_id", msg.RequestID),
			zap.Bool("redelivered", d.Redelivered),
			zap.Error(err))
		return err
	}
}

// retryable decides whether a failed delivery is requeued once.
func retryable(err error) bool {
	return !errors.Is(err, errMalformed) && !errors.Is(err, request.ErrNotFound)
}
