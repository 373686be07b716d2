// README: Outbound ports (billing trigger, notifier) and the shared service dependencies.
package matching

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"freightmatch/internal/config"
	"freightmatch/internal/infra"
	"freightmatch/internal/lock"
	"freightmatch/internal/modules/candidate"
	"freightmatch/internal/modules/request"
	"freightmatch/internal/modules/scoring"
	"freightmatch/internal/types"
)

// Committed is handed to billing exactly once per committed match.
type Committed struct {
	RequestID   types.ID
	MatchID     types.ID
	CandidateID types.ID
	AgreedRate  decimal.Decimal
	CommittedAt time.Time
}

type BillingTrigger interface {
	OnMatchCommitted(ctx context.Context, c Committed) error
}

// Notification events.
const (
	EventMatchProposed  = "match.proposed"
	EventMatchCountered = "match.countered"
	EventMatchAccepted  = "match.accepted"
	EventMatchRejected  = "match.rejected"
	EventMatchWithdrawn = "match.withdrawn"
)

type Notification struct {
	Event       string
	RequestID   types.ID
	MatchID     types.ID
	CandidateID types.ID
	Payload     map[string]string
}

// Notifier delivers best-effort user notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Deps struct {
	Requests request.Store
	Matches  Store
	Pool     candidate.Provider
	Engine   *scoring.Engine
	Locker   lock.Locker
	UoW      infra.UnitOfWork
	Billing  BillingTrigger
	Notifier Notifier
	Config   config.MatchingConfig
	Logger   *zap.Logger
}

// outbox sends notifications in the background with their own timeout.
type outbox struct {
	n       Notifier
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

func newOutbox(n Notifier, timeout time.Duration, logger *zap.Logger) *outbox {
	return &outbox{n: n, timeout: timeout, log: logger}
}

func (o *outbox) send(notes ...Notification) {
	if o.n == nil {
		return
	}
	for _, n := range notes {
		o.wg.Add(1)
		go func(n Notification) {
			defer o.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
			defer cancel()
			if err := o.n.Notify(ctx, n); err != nil {
				o.log.Warn("notification failed",
					zap.String("event", n.Event),
					zap.String("match_id", string(n.MatchID)),
					zap.Error(err))
			}
		}(n)
	}
}

func (o *outbox) drain() {
	o.wg.Wait()
}

// withRequestLock runs fn while holding the request-scoped lock.
func withRequestLock(ctx context.Context, l lock.Locker, wait time.Duration, requestID types.ID, fn func() error) error {
	release, err := l.Acquire(ctx, lock.RequestKey(string(requestID)), wait)
	if errors.Is(err, lock.ErrTimeout) {
		return ErrLockTimeout
	}
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// lockRequestRow maps row-lock contention onto ErrLockTimeout.
func lockRequestRow(ctx context.Context, store request.Store, id types.ID) (*request.Request, error) {
	r, err := store.GetForUpdate(ctx, id)
	if errors.Is(err, request.ErrLocked) {
		return nil, ErrLockTimeout
	}
	return r, err
}
