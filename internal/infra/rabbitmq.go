// README: RabbitMQ client with reconnect watcher, publisher confirms, and manual-ack consumers.
package infra

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"freightmatch/internal/contracts"
)

var ErrAMQPNotReady = errors.New("rabbitmq: connection is not open")

const (
	publishTimeout    = 5 * time.Second
	handlerTimeout    = 30 * time.Second
	maxReconnectDelay = 30 * time.Second
)

type RabbitMQ struct {
	url string
	log *zap.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	pubChan *amqp.Channel

	pubMu    sync.Mutex
	confirms chan amqp.Confirmation

	closed    chan struct{}
	closeOnce sync.Once
	reconnect chan struct{}
}

// NewRabbitMQ dials once and starts a watcher that reconnects when the
// connection or publishing channel drops.
func NewRabbitMQ(url string, logger *zap.Logger) (*RabbitMQ, error) {
	c := &RabbitMQ{
		url:       url,
		log:       logger.Named("rabbitmq"),
		closed:    make(chan struct{}),
		reconnect: make(chan struct{}, 1),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.watch()
	return c, nil
}

func (c *RabbitMQ) Close() {
	c.closeOnce.Do(func() { close(c.closed) })

	c.mu.Lock()
	if c.pubChan != nil {
		_ = c.pubChan.Close()
		c.pubChan = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *RabbitMQ) connect() (err error) {
	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() {
		if err != nil {
			_ = conn.Close()
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq open channel: %w", err)
	}
	if err = declareTopology(ch); err != nil {
		return fmt.Errorf("rabbitmq topology: %w", err)
	}
	if err = ch.Confirm(false); err != nil {
		return fmt.Errorf("rabbitmq enable confirms: %w", err)
	}

	c.pubMu.Lock()
	c.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	c.pubMu.Unlock()

	returns := ch.NotifyReturn(make(chan amqp.Return, 1))
	go func() {
		for r := range returns {
			c.log.Error("message returned unroutable",
				zap.String("exchange", r.Exchange),
				zap.String("routing_key", r.RoutingKey),
				zap.Uint16("reply_code", r.ReplyCode),
				zap.String("reply_text", r.ReplyText))
		}
	}()

	c.mu.Lock()
	if c.pubChan != nil && !c.pubChan.IsClosed() {
		_ = c.pubChan.Close()
	}
	c.conn = conn
	c.pubChan = ch
	c.mu.Unlock()

	go func() {
		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.closed:
			return
		case <-connClosed:
		case <-chClosed:
		}
		select {
		case c.reconnect <- struct{}{}:
		default:
		}
	}()

	c.log.Info("connected")
	return nil
}

func (c *RabbitMQ) watch() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.closed
		cancel()
	}()
	for {
		select {
		case <-c.closed:
			return
		case <-c.reconnect:
		}
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = time.Second
		policy.MaxInterval = maxReconnectDelay
		policy.MaxElapsedTime = 0
		err := backoff.RetryNotify(c.connect, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
			c.log.Warn("reconnect failed", zap.Error(err), zap.Duration("retry_in", wait))
		})
		if err != nil {
			return
		}
		c.log.Info("reconnected")
	}
}

// Publish sends a persistent JSON message and waits for the broker confirm.
func (c *RabbitMQ) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	c.mu.RLock()
	conn, ch := c.conn, c.pubChan
	c.mu.RUnlock()
	if conn == nil || conn.IsClosed() || ch == nil || ch.IsClosed() {
		return ErrAMQPNotReady
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := ch.PublishWithContext(ctx, exchange, routingKey, true, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}); err != nil {
		return fmt.Errorf("rabbitmq publish %s/%s: %w", exchange, routingKey, err)
	}

	select {
	case conf, ok := <-c.confirms:
		if !ok || !conf.Ack {
			return fmt.Errorf("rabbitmq: publish to %s not acknowledged", exchange)
		}
		return nil
	case <-ctx.Done():
		// drain the pending confirm so the next publish reads its own
		select {
		case <-c.confirms:
		case <-time.After(2 * time.Second):
		}
		return ctx.Err()
	}
}

// Consume delivers messages from queue to handler with manual acks until ctx
// ends or the channel closes. Handler errors nack without requeue when
// requeue reports false.
func (c *RabbitMQ) Consume(
	ctx context.Context,
	queue, consumerTag string,
	prefetch int,
	handler func(context.Context, amqp.Delivery) error,
	requeue func(error) bool,
) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return ErrAMQPNotReady
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq consumer channel: %w", err)
	}
	defer ch.Close()
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return fmt.Errorf("rabbitmq qos prefetch=%d: %w", prefetch, err)
		}
	}

	deliveries, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume %s: %w", queue, err)
	}
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(consumerTag, false)
			return nil
		case cerr := <-chClosed:
			if cerr != nil {
				return fmt.Errorf("rabbitmq channel closed while consuming %s: %w", queue, cerr)
			}
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
			herr := handler(hctx, d)
			cancel()
			if herr != nil {
				_ = d.Nack(false, requeue != nil && requeue(herr) && !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func declareTopology(ch *amqp.Channel) error {
	for _, ex := range []string{contracts.ExchangeMatchingTopic, contracts.ExchangeBillingTopic} {
		if err := ch.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}
	bindings := []struct {
		queue, exchange, key string
	}{
		{contracts.QueueMatchGeneration, contracts.ExchangeMatchingTopic, contracts.RouteGenerateMatches},
		{contracts.QueueBillingTriggers, contracts.ExchangeBillingTopic, contracts.RouteMatchCommitted},
	}
	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.key, b.exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}
