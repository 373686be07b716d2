// README: Driver candidates as seen by matching; read-only projection of the driver registry.
package candidate

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"freightmatch/internal/types"
)

type Candidate struct {
	ID              types.ID         `json:"id"`
	Name            string           `json:"name"`
	Region          string           `json:"region"`
	SubRegion       string           `json:"sub_region,omitempty"`
	VehicleTypes    []string         `json:"vehicle_types"`
	ExperienceYears int              `json:"experience_years"`
	Rating          float64          `json:"rating"`
	TypicalRate     *decimal.Decimal `json:"typical_rate,omitempty"`
	Available       bool             `json:"available"`
	LastActiveAt    time.Time        `json:"last_active_at"`
}

// HasVehicle matches vehicle types case-insensitively.
func (c Candidate) HasVehicle(vehicleType string) bool {
	return slices.ContainsFunc(c.VehicleTypes, func(v string) bool {
		return strings.EqualFold(strings.TrimSpace(v), vehicleType)
	})
}

// Query narrows the pool. AcceptTypes lists every vehicle type that can serve
// the request (exact type first); Region only orders results. A non-empty IDs
// restricts results to those candidates.
type Query struct {
	VehicleType   string
	AcceptTypes   []string
	Region        string
	MinExperience int
	IDs           []types.ID
	Limit         int
}

// Provider returns candidates that pass the coarse hard filters
// (available, vehicle type, experience). Scoring re-checks them.
type Provider interface {
	FindEligible(ctx context.Context, q Query) ([]Candidate, error)
}
