// README: Match generation dispatchers: RabbitMQ publisher for deployed runs, bounded goroutines for local runs.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freightmatch/internal/contracts"
	"freightmatch/internal/types"
)

// Generator is the match generator entry point workers drive.
type Generator interface {
	Generate(ctx context.Context, requestID types.ID) ([]types.ID, error)
}

type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// QueueDispatcher enqueues generation work on the matching exchange.
type QueueDispatcher struct {
	mq  Publisher
	log *zap.Logger
}

func NewQueueDispatcher(mq Publisher, logger *zap.Logger) *QueueDispatcher {
	return &QueueDispatcher{mq: mq, log: logger.Named("dispatch")}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, requestID types.ID, reason string) error {
	msg := contracts.GenerateMatches{
		RequestID: string(requestID),
		Reason:    reason,
		Envelope: contracts.Envelope{
			MessageID:     uuid.NewString(),
			CorrelationID: string(requestID),
			Producer:      contracts.Producer,
			SentAt:        time.Now().UTC(),
		},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("dispatch: marshal: %w", err)
	}
	if err := d.mq.Publish(ctx, contracts.ExchangeMatchingTopic, contracts.RouteGenerateMatches, body); err != nil {
		return fmt.Errorf("dispatch: publish %s: %w", requestID, err)
	}
	d.log.Debug("generation enqueued", zap.String("request_id", string(requestID)), zap.String("reason", reason))
	return nil
}

// LocalDispatcher runs generation in-process with at most workers in flight.
type LocalDispatcher struct {
	gen     Generator
	sem     chan struct{}
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

func NewLocalDispatcher(gen Generator, workers int, timeout time.Duration, logger *zap.Logger) *LocalDispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &LocalDispatcher{
		gen:     gen,
		sem:     make(chan struct{}, workers),
		timeout: timeout,
		log:     logger.Named("dispatch"),
	}
}

// Dispatch returns once the work is scheduled; generation outlives the caller's context.
func (d *LocalDispatcher) Dispatch(ctx context.Context, requestID types.ID, reason string) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		ids, err := d.gen.Generate(gctx, requestID)
		if err != nil {
			d.log.Warn("generation failed",
				zap.String("request_id", string(requestID)),
				zap.String("reason", reason),
				zap.Error(err))
			return
		}
		d.log.Debug("generation done", zap.String("request_id", string(requestID)), zap.Int("matches", len(ids)))
	}()
	return nil
}

// Wait blocks until all dispatched work has finished.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}
