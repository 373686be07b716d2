// README: Match generator: fetch pool with retry, score, rank, cap fan-out, upsert proposals idempotently.
package matching

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"freightmatch/internal/config"
	"freightmatch/internal/infra"
	"freightmatch/internal/lock"
	"freightmatch/internal/modules/candidate"
	"freightmatch/internal/modules/request"
	"freightmatch/internal/modules/scoring"
	"freightmatch/internal/types"
)

// errStaleRequest means constraints changed between scoring and persisting.
var errStaleRequest = errors.New("request changed during generation")

const maxStaleRetries = 3

type Generator struct {
	requests request.Store
	matches  Store
	pool     candidate.Provider
	engine   *scoring.Engine
	locker   lock.Locker
	uow      infra.UnitOfWork
	cfg      config.MatchingConfig
	log      *zap.Logger
	outbox   *outbox
	now      func() time.Time
}

func NewGenerator(deps Deps) *Generator {
	log := deps.Logger.Named("generator")
	return &Generator{
		requests: deps.Requests,
		matches:  deps.Matches,
		pool:     deps.Pool,
		engine:   deps.Engine,
		locker:   deps.Locker,
		uow:      deps.UoW,
		cfg:      deps.Config,
		log:      log,
		outbox:   newOutbox(deps.Notifier, deps.Config.NotifyTimeout, log),
		now:      time.Now,
	}
}

// Generate produces or refreshes the matches of a pending request and returns
// their IDs in rank order. Running it twice on an unchanged request yields
// the same IDs. When the candidate pool stays unreachable the request is
// flagged delayed and ErrMatchingDelayed is returned.
func (g *Generator) Generate(ctx context.Context, requestID types.ID) ([]types.ID, error) {
	for attempt := 1; ; attempt++ {
		ids, err := g.generate(ctx, requestID)
		if errors.Is(err, errStaleRequest) && attempt < maxStaleRetries {
			g.log.Info("request changed mid-generation; rescoring", zap.String("request_id", string(requestID)))
			continue
		}
		return ids, err
	}
}

// Recompute is the manual re-trigger; it has the same idempotency as Generate.
func (g *Generator) Recompute(ctx context.Context, requestID types.ID) ([]types.ID, error) {
	g.log.Info("manual recompute", zap.String("request_id", string(requestID)))
	return g.Generate(ctx, requestID)
}

func (g *Generator) generate(ctx context.Context, requestID types.ID) ([]types.ID, error) {
	req, err := g.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != request.StatusPending {
		g.log.Info("skip generation for non-pending request",
			zap.String("request_id", string(req.ID)), zap.String("status", string(req.Status)))
		return g.currentIDs(ctx, req.ID)
	}

	pool, err := g.fetch(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.log.Warn("candidate pool unavailable; request flagged for re-matching",
			zap.String("request_id", string(req.ID)), zap.Error(err))
		if serr := g.requests.SetMatchingState(ctx, req.ID, request.MatchingDelayed, g.now().UTC()); serr != nil {
			g.log.Error("flag request delayed failed", zap.String("request_id", string(req.ID)), zap.Error(serr))
		}
		return nil, fmt.Errorf("%w: %v", ErrMatchingDelayed, err)
	}

	results := make([]scoring.Result, 0, len(pool))
	eligible := make(map[types.ID]bool, len(pool))
	for _, c := range pool {
		r := g.engine.Score(req, c)
		if r.Eligible {
			eligible[c.ID] = true
		}
		results = append(results, r)
	}
	ranked := scoring.Rank(results)
	if len(ranked) > g.cfg.FanOut {
		ranked = ranked[:g.cfg.FanOut]
	}

	// A truncated pool says nothing about candidates past the limit, so only
	// proposals re-checked individually may be closed.
	complete := len(pool) < g.cfg.PoolLimit
	var rechecked map[types.ID]bool
	if !complete {
		rechecked = g.recheck(ctx, req, eligible)
	}
	stale := func(candidateID types.ID) bool {
		return !eligible[candidateID] && (complete || rechecked[candidateID])
	}

	var ids []types.ID
	var created, dropped []Match
	skipped := false
	err = withRequestLock(ctx, g.locker, g.cfg.LockWait, req.ID, func() error {
		return g.uow.WithinTx(ctx, func(ctx context.Context) error {
			ids, created, dropped, skipped = nil, nil, nil, false
			cur, err := lockRequestRow(ctx, g.requests, req.ID)
			if err != nil {
				return err
			}
			if cur.Status != request.StatusPending {
				skipped = true
				return nil
			}
			if cur.Version != req.Version {
				return errStaleRequest
			}
			now := g.now().UTC()

			for i, r := range ranked {
				m := &Match{
					ID:          types.NewID(),
					RequestID:   req.ID,
					CandidateID: r.Candidate.ID,
					Score:       r.Total,
					Breakdown:   r.Breakdown,
					Rank:        i + 1,
					Status:      StatusProposed,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				id, inserted, err := g.matches.UpsertProposal(ctx, m)
				if err != nil {
					return err
				}
				ids = append(ids, id)
				if !inserted {
					continue
				}
				if err := g.matches.AppendEvent(ctx, &Event{
					MatchID: id, RequestID: req.ID, From: StatusNone, To: StatusProposed,
					Actor: ActorSystem, CreatedAt: now,
				}); err != nil {
					return err
				}
				created = append(created, *m)
			}

			// Untouched proposals whose candidate left the eligible pool are closed.
			// Negotiating matches are left to the parties.
			existing, err := g.matches.ListByRequest(ctx, req.ID)
			if err != nil {
				return err
			}
			for _, m := range existing {
				if m.Status != StatusProposed || !stale(m.CandidateID) {
					continue
				}
				next := m
				next.Status = StatusRejected
				next.RejectionReason = ReasonNoLongerEligible
				next.RejectedAt = &now
				next.UpdatedAt = now
				ok, err := g.matches.Update(ctx, &next, m.Version)
				if err != nil {
					return err
				}
				if !ok {
					return ErrConflict
				}
				if err := g.matches.AppendEvent(ctx, &Event{
					MatchID: m.ID, RequestID: req.ID, From: m.Status, To: StatusRejected,
					Actor: ActorSystem, Message: ReasonNoLongerEligible, CreatedAt: now,
				}); err != nil {
					return err
				}
				dropped = append(dropped, next)
			}
			return g.requests.SetMatchingState(ctx, req.ID, request.MatchingMatched, now)
		})
	})
	if err != nil {
		return nil, err
	}
	if skipped {
		return g.currentIDs(ctx, req.ID)
	}

	g.log.Info("matches generated",
		zap.String("request_id", string(req.ID)),
		zap.Int("pool", len(pool)),
		zap.Int("eligible", len(eligible)),
		zap.Int("kept", len(ids)),
		zap.Int("created", len(created)),
		zap.Int("dropped", len(dropped)))

	notes := make([]Notification, 0, len(created)+len(dropped))
	for _, m := range created {
		notes = append(notes, Notification{
			Event: EventMatchProposed, RequestID: m.RequestID, MatchID: m.ID, CandidateID: m.CandidateID,
			Payload: map[string]string{"score": fmt.Sprintf("%.4f", m.Score)},
		})
	}
	for _, m := range dropped {
		notes = append(notes, Notification{
			Event: EventMatchRejected, RequestID: m.RequestID, MatchID: m.ID, CandidateID: m.CandidateID,
			Payload: map[string]string{"reason": m.RejectionReason},
		})
	}
	g.outbox.send(notes...)
	return ids, nil
}

// fetch calls the provider with a per-call timeout and capped exponential backoff.
func (g *Generator) fetch(ctx context.Context, req *request.Request) ([]candidate.Candidate, error) {
	return g.query(ctx, req, g.poolQuery(req))
}

func (g *Generator) poolQuery(req *request.Request) candidate.Query {
	return candidate.Query{
		VehicleType:   req.VehicleType,
		AcceptTypes:   g.engine.AcceptedVehicleTypes(req.VehicleType),
		Region:        req.Pickup.Region,
		MinExperience: req.MinExperienceYears,
		Limit:         g.cfg.PoolLimit,
	}
}

func (g *Generator) query(ctx context.Context, req *request.Request, q candidate.Query) ([]candidate.Candidate, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.cfg.BaseBackoff
	policy.MaxInterval = g.cfg.MaxBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	attempt := 0
	var pool []candidate.Candidate
	err := backoff.RetryNotify(func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.ProviderTimeout)
		defer cancel()
		out, err := g.pool.FindEligible(callCtx, q)
		if err != nil {
			return err
		}
		pool = out
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(g.cfg.MaxAttempts-1, 0))), ctx),
		func(err error, wait time.Duration) {
			g.log.Warn("candidate pool call failed; retrying",
				zap.String("request_id", string(req.ID)),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(err))
		})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("after %d attempts: %w", attempt, err)
	}
	return pool, nil
}

// recheck looks up open proposals whose candidate fell outside a truncated
// pool. Candidates that still score eligible are added to eligible; the
// returned set holds every candidate that was looked up. A failed lookup
// returns an empty set.
func (g *Generator) recheck(ctx context.Context, req *request.Request, eligible map[types.ID]bool) map[types.ID]bool {
	existing, err := g.matches.ListByRequest(ctx, req.ID)
	if err != nil {
		g.log.Warn("list proposals for recheck failed", zap.String("request_id", string(req.ID)), zap.Error(err))
		return nil
	}
	var ids []types.ID
	for _, m := range existing {
		if m.Status == StatusProposed && !eligible[m.CandidateID] {
			ids = append(ids, m.CandidateID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	q := g.poolQuery(req)
	q.IDs = ids
	q.Limit = len(ids)
	found, err := g.query(ctx, req, q)
	if err != nil {
		g.log.Warn("recheck of outlying candidates failed; keeping their proposals",
			zap.String("request_id", string(req.ID)), zap.Error(err))
		return nil
	}
	for _, c := range found {
		if g.engine.Score(req, c).Eligible {
			eligible[c.ID] = true
		}
	}
	checked := make(map[types.ID]bool, len(ids))
	for _, id := range ids {
		checked[id] = true
	}
	return checked
}

// currentIDs lists existing match IDs best first.
func (g *Generator) currentIDs(ctx context.Context, requestID types.ID) ([]types.ID, error) {
	existing, err := g.matches.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(existing, byScore)
	ids := make([]types.ID, len(existing))
	for i, m := range existing {
		ids[i] = m.ID
	}
	return ids, nil
}

// Drain waits for in-flight notifications.
func (g *Generator) Drain() {
	g.outbox.drain()
}
