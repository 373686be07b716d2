// README: Billing trigger adapters: RabbitMQ publisher of MatchCommitted and a log-only fallback.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freightmatch/internal/contracts"
	"freightmatch/internal/modules/matching"
)

// Publisher is the slice of infra.RabbitMQ the adapters need.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// BillingPublisher hands committed matches to billing over the billing exchange.
type BillingPublisher struct {
	mq  Publisher
	log *zap.Logger
	now func() time.Time
}

func NewBillingPublisher(mq Publisher, logger *zap.Logger) *BillingPublisher {
	return &BillingPublisher{mq: mq, log: logger.Named("billing"), now: time.Now}
}

func (p *BillingPublisher) OnMatchCommitted(ctx context.Context, c matching.Committed) error {
	msg := contracts.MatchCommitted{
		RequestID:   string(c.RequestID),
		MatchID:     string(c.MatchID),
		CandidateID: string(c.CandidateID),
		AgreedRate:  c.AgreedRate,
		CommittedAt: c.CommittedAt,
		Envelope: contracts.Envelope{
			MessageID:     uuid.NewString(),
			CorrelationID: string(c.RequestID),
			Producer:      contracts.Producer,
			SentAt:        p.now().UTC(),
		},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("billing: marshal: %w", err)
	}
	if err := p.mq.Publish(ctx, contracts.ExchangeBillingTopic, contracts.RouteMatchCommitted, body); err != nil {
		return fmt.Errorf("billing: publish match %s: %w", c.MatchID, err)
	}
	p.log.Info("billing trigger published",
		zap.String("message_id", msg.MessageID),
		zap.String("request_id", msg.RequestID),
		zap.String("match_id", msg.MatchID))
	return nil
}

// LogBilling records commitments when no broker is configured.
type LogBilling struct {
	log *zap.Logger
}

func NewLogBilling(logger *zap.Logger) *LogBilling {
	return &LogBilling{log: logger.Named("billing")}
}

func (b *LogBilling) OnMatchCommitted(_ context.Context, c matching.Committed) error {
	b.log.Info("billing trigger recorded",
		zap.String("request_id", string(c.RequestID)),
		zap.String("match_id", string(c.MatchID)),
		zap.String("candidate_id", string(c.CandidateID)),
		zap.String("agreed_rate", c.AgreedRate.String()),
		zap.Time("committed_at", c.CommittedAt))
	return nil
}
