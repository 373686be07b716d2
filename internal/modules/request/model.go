// README: Transport request aggregate, statuses and constraint validation.
package request

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"freightmatch/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// MatchingState tracks background generation; it never gates request status.
type MatchingState string

const (
	MatchingQueued  MatchingState = "queued"
	MatchingMatched MatchingState = "matched"
	MatchingDelayed MatchingState = "delayed"
)

var (
	ErrNotFound        = errors.New("request not found")
	ErrBadRequest      = errors.New("bad request")
	ErrInvalidBudget   = errors.New("budget_max must be >= budget_min")
	ErrInvalidDeadline = errors.New("delivery_deadline must be after pickup_date")
	ErrNotPending      = errors.New("request is no longer pending")
	ErrConflict        = errors.New("request was modified concurrently")
)

type Request struct {
	ID                 types.ID         `json:"id"`
	CompanyID          types.ID         `json:"company_id"`
	Pickup             types.Location   `json:"pickup"`
	Dropoff            types.Location   `json:"dropoff"`
	VehicleType        string           `json:"vehicle_type"`
	CargoType          string           `json:"cargo_type,omitempty"`
	CargoDescription   string           `json:"cargo_description,omitempty"`
	WeightKg           float64          `json:"weight_kg,omitempty"`
	CargoValue         *decimal.Decimal `json:"cargo_value,omitempty"`
	PickupDate         *time.Time       `json:"pickup_date,omitempty"`
	DeliveryDeadline   *time.Time       `json:"delivery_deadline,omitempty"`
	BudgetMin          *decimal.Decimal `json:"budget_min,omitempty"`
	BudgetMax          *decimal.Decimal `json:"budget_max,omitempty"`
	MinExperienceYears int              `json:"min_experience_years"`
	Urgency            Urgency          `json:"urgency"`
	Status             Status           `json:"status"`
	MatchingState      MatchingState    `json:"matching_state"`
	Version            int              `json:"version"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	ActivatedAt        *time.Time       `json:"activated_at,omitempty"`
}

// Constraints are the matching-relevant fields that may change while pending.
type Constraints struct {
	Pickup             types.Location
	Dropoff            types.Location
	VehicleType        string
	PickupDate         *time.Time
	DeliveryDeadline   *time.Time
	BudgetMin          *decimal.Decimal
	BudgetMax          *decimal.Decimal
	MinExperienceYears int
	Urgency            Urgency
}

func (r *Request) Constraints() Constraints {
	return Constraints{
		Pickup:             r.Pickup,
		Dropoff:            r.Dropoff,
		VehicleType:        r.VehicleType,
		PickupDate:         r.PickupDate,
		DeliveryDeadline:   r.DeliveryDeadline,
		BudgetMin:          r.BudgetMin,
		BudgetMax:          r.BudgetMax,
		MinExperienceYears: r.MinExperienceYears,
		Urgency:            r.Urgency,
	}
}

func (r *Request) apply(c Constraints) {
	r.Pickup = c.Pickup
	r.Dropoff = c.Dropoff
	r.VehicleType = c.VehicleType
	r.PickupDate = c.PickupDate
	r.DeliveryDeadline = c.DeliveryDeadline
	r.BudgetMin = c.BudgetMin
	r.BudgetMax = c.BudgetMax
	r.MinExperienceYears = c.MinExperienceYears
	r.Urgency = c.Urgency
}

// Validate enforces required fields and the budget and schedule ordering.
func (c Constraints) Validate() error {
	if strings.TrimSpace(c.Pickup.Region) == "" || strings.TrimSpace(c.VehicleType) == "" {
		return ErrBadRequest
	}
	if c.MinExperienceYears < 0 {
		return ErrBadRequest
	}
	switch c.Urgency {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
	default:
		return ErrBadRequest
	}
	for _, v := range []*decimal.Decimal{c.BudgetMin, c.BudgetMax} {
		if v == nil {
			continue
		}
		if err := types.CheckAmount(*v); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidBudget, err)
		}
	}
	if c.BudgetMin != nil && c.BudgetMax != nil && c.BudgetMax.LessThan(*c.BudgetMin) {
		return ErrInvalidBudget
	}
	if c.PickupDate != nil && c.DeliveryDeadline != nil && !c.DeliveryDeadline.After(*c.PickupDate) {
		return ErrInvalidDeadline
	}
	return nil
}
