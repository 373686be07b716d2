// README: Request service: creation, lookup and constraint updates; hands generation to a Dispatcher.
package request

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"freightmatch/internal/types"
)

// Dispatch reasons carried to the generator.
const (
	ReasonCreated            = "created"
	ReasonConstraintsChanged = "constraints_changed"
)

// Dispatcher schedules asynchronous match generation for a request.
type Dispatcher interface {
	Dispatch(ctx context.Context, requestID types.ID, reason string) error
}

type Service struct {
	store    Store
	dispatch Dispatcher
	log      *zap.Logger
	now      func() time.Time
}

func NewService(store Store, dispatch Dispatcher, logger *zap.Logger) *Service {
	return &Service{store: store, dispatch: dispatch, log: logger.Named("request"), now: time.Now}
}

type CreateCommand struct {
	CompanyID          types.ID
	Pickup             types.Location
	Dropoff            types.Location
	VehicleType        string
	CargoType          string
	CargoDescription   string
	WeightKg           float64
	CargoValue         *decimal.Decimal
	PickupDate         *time.Time
	DeliveryDeadline   *time.Time
	BudgetMin          *decimal.Decimal
	BudgetMax          *decimal.Decimal
	MinExperienceYears int
	Urgency            Urgency
}

type UpdateConstraintsCommand struct {
	RequestID   types.ID
	Constraints Constraints
}

// Create persists a pending request and dispatches generation. A dispatch
// failure never fails creation; the request is flagged delayed instead.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Request, error) {
	if cmd.CompanyID == "" {
		return nil, ErrBadRequest
	}
	if cmd.Urgency == "" {
		cmd.Urgency = UrgencyMedium
	}
	now := s.now().UTC()
	r := &Request{
		ID:               types.NewID(),
		CompanyID:        cmd.CompanyID,
		CargoType:        cmd.CargoType,
		CargoDescription: cmd.CargoDescription,
		WeightKg:         cmd.WeightKg,
		CargoValue:       cmd.CargoValue,
		Status:           StatusPending,
		MatchingState:    MatchingQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.apply(Constraints{
		Pickup:             cmd.Pickup,
		Dropoff:            cmd.Dropoff,
		VehicleType:        strings.ToLower(strings.TrimSpace(cmd.VehicleType)),
		PickupDate:         cmd.PickupDate,
		DeliveryDeadline:   cmd.DeliveryDeadline,
		BudgetMin:          cmd.BudgetMin,
		BudgetMax:          cmd.BudgetMax,
		MinExperienceYears: cmd.MinExperienceYears,
		Urgency:            cmd.Urgency,
	})
	if err := r.Constraints().Validate(); err != nil {
		return nil, err
	}
	if r.CargoValue != nil {
		if err := types.CheckAmount(*r.CargoValue); err != nil {
			return nil, fmt.Errorf("%w: cargo_value: %w", ErrBadRequest, err)
		}
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	s.log.Info("request created",
		zap.String("request_id", string(r.ID)),
		zap.String("company_id", string(r.CompanyID)),
		zap.String("vehicle_type", r.VehicleType),
		zap.String("region", r.Pickup.Region))

	s.schedule(ctx, r, ReasonCreated)
	return r, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Request, error) {
	return s.store.Get(ctx, id)
}

// UpdateConstraints replaces the matching-relevant fields of a pending
// request and re-dispatches generation.
func (s *Service) UpdateConstraints(ctx context.Context, cmd UpdateConstraintsCommand) (*Request, error) {
	c := cmd.Constraints
	c.VehicleType = strings.ToLower(strings.TrimSpace(c.VehicleType))
	if c.Urgency == "" {
		c.Urgency = UrgencyMedium
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	r, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return nil, ErrNotPending
	}
	ok, err := s.store.UpdateConstraints(ctx, r.ID, r.Version, c, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		latest, gerr := s.store.Get(ctx, r.ID)
		if gerr == nil && latest.Status != StatusPending {
			return nil, ErrNotPending
		}
		return nil, ErrConflict
	}
	updated, err := s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("request constraints updated", zap.String("request_id", string(r.ID)), zap.Int("version", updated.Version))
	s.schedule(ctx, updated, ReasonConstraintsChanged)
	return updated, nil
}

func (s *Service) schedule(ctx context.Context, r *Request, reason string) {
	if s.dispatch == nil {
		return
	}
	if err := s.dispatch.Dispatch(ctx, r.ID, reason); err != nil {
		s.log.Warn("dispatch generation failed; request flagged for re-matching",
			zap.String("request_id", string(r.ID)),
			zap.String("reason", reason),
			zap.Error(err))
		if serr := s.store.SetMatchingState(ctx, r.ID, MatchingDelayed, s.now().UTC()); serr != nil {
			s.log.Error("flag request delayed failed", zap.String("request_id", string(r.ID)), zap.Error(serr))
			return
		}
		r.MatchingState = MatchingDelayed
	}
}
