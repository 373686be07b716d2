// README: Match aggregate, lifecycle statuses and the allowed transition table.
package matching

import (
	"time"

	"github.com/shopspring/decimal"

	"freightmatch/internal/modules/scoring"
	"freightmatch/internal/types"
)

type Status string

const (
	StatusNone        Status = ""
	StatusProposed    Status = "proposed"
	StatusNegotiating Status = "negotiating"
	StatusAccepted    Status = "accepted"
	StatusRejected    Status = "rejected"
	StatusWithdrawn   Status = "withdrawn"
)

// Rejection reasons written by the engine itself.
const (
	ReasonRequestFilled    = "request filled"
	ReasonNoLongerEligible = "no longer eligible"
)

// Actors recorded on match events.
const (
	ActorSystem    = "system"
	ActorCompany   = "company"
	ActorCandidate = "candidate"
)

// AllowedTransitions represents the match state flow as code. Terminal states have no entry.
var AllowedTransitions = map[Status][]Status{
	StatusProposed:    {StatusNegotiating, StatusAccepted, StatusRejected, StatusWithdrawn},
	StatusNegotiating: {StatusNegotiating, StatusAccepted, StatusRejected, StatusWithdrawn},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Open() bool {
	return s == StatusProposed || s == StatusNegotiating
}

func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusWithdrawn
}

type Match struct {
	ID                 types.ID          `json:"id"`
	RequestID          types.ID          `json:"request_id"`
	CandidateID        types.ID          `json:"candidate_id"`
	Score              float64           `json:"score"`
	Breakdown          scoring.Breakdown `json:"breakdown"`
	Rank               int               `json:"rank"`
	Status             Status            `json:"status"`
	ProposedRate       *decimal.Decimal  `json:"proposed_rate,omitempty"`
	AgreedRate         *decimal.Decimal  `json:"agreed_rate,omitempty"`
	NegotiationMessage string            `json:"negotiation_message,omitempty"`
	Notes              string            `json:"notes,omitempty"`
	RejectionReason    string            `json:"rejection_reason,omitempty"`
	Version            int               `json:"version"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	NegotiatedAt       *time.Time        `json:"negotiated_at,omitempty"`
	AcceptedAt         *time.Time        `json:"accepted_at,omitempty"`
	RejectedAt         *time.Time        `json:"rejected_at,omitempty"`
	WithdrawnAt        *time.Time        `json:"withdrawn_at,omitempty"`
}

// FilledBySibling reports a match closed because another match won its request.
func (m *Match) FilledBySibling() bool {
	return m.Status == StatusRejected && m.RejectionReason == ReasonRequestFilled
}

// Event is one row of the append-only transition history of a match.
type Event struct {
	ID        int64            `json:"id"`
	MatchID   types.ID         `json:"match_id"`
	RequestID types.ID         `json:"request_id"`
	From      Status           `json:"from_status"`
	To        Status           `json:"to_status"`
	Actor     string           `json:"actor"`
	Rate      *decimal.Decimal `json:"rate,omitempty"`
	Message   string           `json:"message,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Summary is the list view of a match for a request.
type Summary struct {
	MatchID            types.ID         `json:"match_id"`
	CandidateID        types.ID         `json:"candidate_id"`
	Score              float64          `json:"score"`
	Rank               int              `json:"rank"`
	Status             Status           `json:"status"`
	ProposedRate       *decimal.Decimal `json:"proposed_rate,omitempty"`
	AgreedRate         *decimal.Decimal `json:"agreed_rate,omitempty"`
	NegotiationMessage string           `json:"negotiation_message,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

func (m *Match) Summary() Summary {
	return Summary{
		MatchID:            m.ID,
		CandidateID:        m.CandidateID,
		Score:              m.Score,
		Rank:               m.Rank,
		Status:             m.Status,
		ProposedRate:       m.ProposedRate,
		AgreedRate:         m.AgreedRate,
		NegotiationMessage: m.NegotiationMessage,
		UpdatedAt:          m.UpdatedAt,
	}
}
