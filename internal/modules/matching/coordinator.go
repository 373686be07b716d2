// README: Commitment coordinator: the single path that accepts a match and activates its request.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"freightmatch/internal/config"
	"freightmatch/internal/infra"
	"freightmatch/internal/lock"
	"freightmatch/internal/modules/request"
	"freightmatch/internal/types"
)

type CommitCommand struct {
	MatchID    types.ID
	AgreedRate decimal.Decimal
	Notes      string
}

type CommitResult struct {
	Request  *request.Request `json:"request"`
	Match    *Match           `json:"match"`
	Rejected []types.ID       `json:"rejected_match_ids"`
}

type Coordinator struct {
	requests request.Store
	matches  Store
	locker   lock.Locker
	uow      infra.UnitOfWork
	billing  BillingTrigger
	cfg      config.MatchingConfig
	log      *zap.Logger
	outbox   *outbox
	now      func() time.Time
}

func NewCoordinator(deps Deps) *Coordinator {
	log := deps.Logger.Named("coordinator")
	return &Coordinator{
		requests: deps.Requests,
		matches:  deps.Matches,
		locker:   deps.Locker,
		uow:      deps.UoW,
		billing:  deps.Billing,
		cfg:      deps.Config,
		log:      log,
		outbox:   newOutbox(deps.Notifier, deps.Config.NotifyTimeout, log),
		now:      time.Now,
	}
}

// Commit accepts the match, activates its request and rejects every other
// open match of that request in one unit of work under the request lock.
// Billing is triggered exactly once after the unit commits.
func (c *Coordinator) Commit(ctx context.Context, cmd CommitCommand) (*CommitResult, error) {
	if err := types.CheckAmount(cmd.AgreedRate); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRate, err)
	}
	m, err := c.matches.Get(ctx, cmd.MatchID)
	if err != nil {
		return nil, err
	}

	var res CommitResult
	var rejected []Match
	err = withRequestLock(ctx, c.locker, c.cfg.LockWait, m.RequestID, func() error {
		return c.uow.WithinTx(ctx, func(ctx context.Context) error {
			res, rejected = CommitResult{}, nil
			req, err := lockRequestRow(ctx, c.requests, m.RequestID)
			if err != nil {
				return err
			}
			cur, err := c.matches.Get(ctx, cmd.MatchID)
			if err != nil {
				return err
			}
			// A sibling's win is reported as the request being taken, not as
			// this match being finalized.
			if cur.Status.Terminal() && !cur.FilledBySibling() {
				return ErrMatchAlreadyFinalized
			}
			if req.Status != request.StatusPending {
				return ErrRequestAlreadyCommitted
			}
			if !cur.Status.Open() {
				return ErrMatchAlreadyFinalized
			}

			now := c.now().UTC()
			activated, err := c.requests.Activate(ctx, req.ID, now)
			if err != nil {
				return err
			}
			if !activated {
				c.log.Error("invariant violated: request left pending under lock but activation matched no row",
					zap.String("request_id", string(req.ID)),
					zap.String("match_id", string(cur.ID)))
				return ErrRequestAlreadyCommitted
			}

			from, version := cur.Status, cur.Version
			rate := cmd.AgreedRate
			cur.Status = StatusAccepted
			cur.AgreedRate = &rate
			cur.Notes = cmd.Notes
			cur.AcceptedAt = &now
			cur.UpdatedAt = now
			ok, err := c.matches.Update(ctx, cur, version)
			if errors.Is(err, ErrDuplicateAccept) {
				c.log.Error("invariant violated: second accepted match rejected by the store",
					zap.String("request_id", string(req.ID)),
					zap.String("match_id", string(cur.ID)))
				return ErrRequestAlreadyCommitted
			}
			if err != nil {
				return err
			}
			if !ok {
				return ErrConflict
			}
			cur.Version = version + 1
			if err := c.matches.AppendEvent(ctx, &Event{
				MatchID: cur.ID, RequestID: req.ID, From: from, To: StatusAccepted,
				Actor: ActorCompany, Rate: &rate, Message: cmd.Notes, CreatedAt: now,
			}); err != nil {
				return err
			}

			siblings, err := c.matches.ListByRequest(ctx, req.ID)
			if err != nil {
				return err
			}
			prior := make(map[types.ID]Status, len(siblings))
			for _, sib := range siblings {
				prior[sib.ID] = sib.Status
			}
			rejected, err = c.matches.RejectOpenSiblings(ctx, req.ID, cur.ID, ReasonRequestFilled, now)
			if err != nil {
				return err
			}
			for _, sib := range rejected {
				if err := c.matches.AppendEvent(ctx, &Event{
					MatchID: sib.ID, RequestID: req.ID, From: prior[sib.ID], To: StatusRejected,
					Actor: ActorSystem, Message: ReasonRequestFilled, CreatedAt: now,
				}); err != nil {
					return err
				}
				res.Rejected = append(res.Rejected, sib.ID)
			}

			if res.Request, err = c.requests.Get(ctx, req.ID); err != nil {
				return err
			}
			res.Match = cur
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("match committed",
		zap.String("request_id", string(res.Request.ID)),
		zap.String("match_id", string(res.Match.ID)),
		zap.String("candidate_id", string(res.Match.CandidateID)),
		zap.String("agreed_rate", cmd.AgreedRate.String()),
		zap.Int("siblings_rejected", len(rejected)))

	c.triggerBilling(ctx, res.Match)

	notes := []Notification{{
		Event: EventMatchAccepted, RequestID: res.Match.RequestID, MatchID: res.Match.ID, CandidateID: res.Match.CandidateID,
		Payload: map[string]string{"agreed_rate": cmd.AgreedRate.String()},
	}}
	for _, sib := range rejected {
		notes = append(notes, Notification{
			Event: EventMatchRejected, RequestID: sib.RequestID, MatchID: sib.ID, CandidateID: sib.CandidateID,
			Payload: map[string]string{"reason": ReasonRequestFilled},
		})
	}
	c.outbox.send(notes...)
	return &res, nil
}

// triggerBilling runs once per commit. Failures are logged for reconciliation
// and never re-emitted from here.
func (c *Coordinator) triggerBilling(ctx context.Context, m *Match) {
	if c.billing == nil {
		return
	}
	committed := Committed{
		RequestID:   m.RequestID,
		MatchID:     m.ID,
		CandidateID: m.CandidateID,
		AgreedRate:  *m.AgreedRate,
		CommittedAt: *m.AcceptedAt,
	}
	if err := c.billing.OnMatchCommitted(context.WithoutCancel(ctx), committed); err != nil {
		c.log.Error("billing trigger failed",
			zap.String("request_id", string(m.RequestID)),
			zap.String("match_id", string(m.ID)),
			zap.Error(err))
	}
}
