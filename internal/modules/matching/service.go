// README: Match lifecycle service: counter-offers, rejection, withdrawal, acceptance and listing.
package matching

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"freightmatch/internal/config"
	"freightmatch/internal/infra"
	"freightmatch/internal/lock"
	"freightmatch/internal/modules/request"
	"freightmatch/internal/types"
)

type ProposeCounterCommand struct {
	MatchID types.ID
	Rate    decimal.Decimal
	Message string
	Actor   string
}

type AcceptCommand struct {
	MatchID    types.ID
	AgreedRate decimal.Decimal
	Notes      string
}

type RejectCommand struct {
	MatchID types.ID
	Reason  string
	Actor   string
}

type WithdrawCommand struct {
	MatchID types.ID
	Reason  string
	Actor   string
}

type Service struct {
	requests request.Store
	matches  Store
	locker   lock.Locker
	uow      infra.UnitOfWork
	coord    *Coordinator
	cfg      config.MatchingConfig
	log      *zap.Logger
	outbox   *outbox
	now      func() time.Time
}

func NewService(deps Deps, coord *Coordinator) *Service {
	log := deps.Logger.Named("matching")
	return &Service{
		requests: deps.Requests,
		matches:  deps.Matches,
		locker:   deps.Locker,
		uow:      deps.UoW,
		coord:    coord,
		cfg:      deps.Config,
		log:      log,
		outbox:   newOutbox(deps.Notifier, deps.Config.NotifyTimeout, log),
		now:      time.Now,
	}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Match, error) {
	return s.matches.Get(ctx, id)
}

// List returns a request's matches sorted by score descending.
func (s *Service) List(ctx context.Context, requestID types.ID) ([]Summary, error) {
	if _, err := s.requests.Get(ctx, requestID); err != nil {
		return nil, err
	}
	matches, err := s.matches.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(matches, byScore)
	out := make([]Summary, len(matches))
	for i := range matches {
		out[i] = matches[i].Summary()
	}
	return out, nil
}

func (s *Service) Events(ctx context.Context, matchID types.ID) ([]Event, error) {
	if _, err := s.matches.Get(ctx, matchID); err != nil {
		return nil, err
	}
	return s.matches.ListEvents(ctx, matchID)
}

// ProposeCounter moves an open match to negotiating and records the offer.
// The agreed rate is left untouched.
func (s *Service) ProposeCounter(ctx context.Context, cmd ProposeCounterCommand) (*Match, error) {
	if err := types.CheckAmount(cmd.Rate); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRate, err)
	}
	rate := cmd.Rate
	m, err := s.transition(ctx, cmd.MatchID, StatusNegotiating, actorOr(cmd.Actor, ActorCandidate), &rate, cmd.Message,
		func(m *Match, now time.Time) {
			m.ProposedRate = &rate
			m.NegotiationMessage = cmd.Message
			m.NegotiatedAt = &now
		})
	if err != nil {
		return nil, err
	}
	s.outbox.send(Notification{
		Event: EventMatchCountered, RequestID: m.RequestID, MatchID: m.ID, CandidateID: m.CandidateID,
		Payload: map[string]string{"rate": rate.String(), "message": cmd.Message},
	})
	return m, nil
}

func (s *Service) Reject(ctx context.Context, cmd RejectCommand) (*Match, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	m, err := s.transition(ctx, cmd.MatchID, StatusRejected, actorOr(cmd.Actor, ActorCompany), nil, cmd.Reason,
		func(m *Match, now time.Time) {
			m.RejectionReason = cmd.Reason
			m.RejectedAt = &now
		})
	if err != nil {
		return nil, err
	}
	s.outbox.send(Notification{
		Event: EventMatchRejected, RequestID: m.RequestID, MatchID: m.ID, CandidateID: m.CandidateID,
		Payload: map[string]string{"reason": m.RejectionReason},
	})
	return m, nil
}

func (s *Service) Withdraw(ctx context.Context, cmd WithdrawCommand) (*Match, error) {
	m, err := s.transition(ctx, cmd.MatchID, StatusWithdrawn, actorOr(cmd.Actor, ActorCandidate), nil, cmd.Reason,
		func(m *Match, now time.Time) {
			m.Notes = cmd.Reason
			m.WithdrawnAt = &now
		})
	if err != nil {
		return nil, err
	}
	s.outbox.send(Notification{
		Event: EventMatchWithdrawn, RequestID: m.RequestID, MatchID: m.ID, CandidateID: m.CandidateID,
	})
	return m, nil
}

// Accept commits the match through the coordinator.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*CommitResult, error) {
	return s.coord.Commit(ctx, CommitCommand(cmd))
}

// transition applies one guarded state change under the request lock.
func (s *Service) transition(
	ctx context.Context,
	matchID types.ID,
	to Status,
	actor string,
	rate *decimal.Decimal,
	message string,
	mutate func(m *Match, now time.Time),
) (*Match, error) {
	m, err := s.matches.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.Status.Terminal() {
		return nil, ErrMatchAlreadyFinalized
	}

	var out *Match
	err = withRequestLock(ctx, s.locker, s.cfg.LockWait, m.RequestID, func() error {
		return s.uow.WithinTx(ctx, func(ctx context.Context) error {
			req, err := lockRequestRow(ctx, s.requests, m.RequestID)
			if err != nil {
				return err
			}
			cur, err := s.matches.Get(ctx, matchID)
			if err != nil {
				return err
			}
			if cur.Status.Terminal() {
				return ErrMatchAlreadyFinalized
			}
			if req.Status != request.StatusPending {
				return ErrRequestAlreadyCommitted
			}
			if !CanTransition(cur.Status, to) {
				return ErrInvalidTransition
			}

			now := s.now().UTC()
			from, version := cur.Status, cur.Version
			cur.Status = to
			cur.UpdatedAt = now
			mutate(cur, now)
			ok, err := s.matches.Update(ctx, cur, version)
			if err != nil {
				return err
			}
			if !ok {
				return ErrConflict
			}
			cur.Version = version + 1
			if err := s.matches.AppendEvent(ctx, &Event{
				MatchID: cur.ID, RequestID: cur.RequestID, From: from, To: to,
				Actor: actor, Rate: rate, Message: message, CreatedAt: now,
			}); err != nil {
				return err
			}
			out = cur
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("match transitioned",
		zap.String("match_id", string(out.ID)),
		zap.String("request_id", string(out.RequestID)),
		zap.String("to", string(to)),
		zap.String("actor", actor))
	return out, nil
}

// Drain waits for in-flight notifications.
func (s *Service) Drain() {
	s.outbox.drain()
	s.coord.outbox.drain()
}

func byScore(a, b Match) int {
	if a.Score != b.Score {
		return cmp.Compare(b.Score, a.Score)
	}
	if a.Rank != b.Rank {
		return cmp.Compare(a.Rank, b.Rank)
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func actorOr(actor, def string) string {
	if actor == "" {
		return def
	}
	return actor
}
