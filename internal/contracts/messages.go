package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Envelope adds cross-cutting headers all messages carry.
type Envelope struct {
	MessageID     string    `json:"message_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer,omitempty"`
	SentAt        time.Time `json:"sent_at"`
}

// GenerateMatches asks a worker to (re)run match generation for a request.
// Routing key: RouteGenerateMatches on ExchangeMatchingTopic.
type GenerateMatches struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"` // created|constraints_changed|manual
	Envelope
}

// MatchCommitted is the billing trigger, published once per committed match.
// Routing key: RouteMatchCommitted on ExchangeBillingTopic.
type MatchCommitted struct {
	RequestID   string          `json:"request_id"`
	MatchID     string          `json:"match_id"`
	CandidateID string          `json:"candidate_id"`
	AgreedRate  decimal.Decimal `json:"agreed_rate"`
	CommittedAt time.Time       `json:"committed_at"`
	Envelope
}
