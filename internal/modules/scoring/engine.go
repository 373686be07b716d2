// README: Scoring engine: weighted sub-scores and hard eligibility rules for request/candidate pairs.
package scoring

import (
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"freightmatch/internal/config"
	"freightmatch/internal/modules/candidate"
	"freightmatch/internal/modules/request"
	"freightmatch/internal/types"
)

// Ineligibility reasons.
const (
	ReasonVehicleMismatch        = "vehicle_mismatch"
	ReasonInsufficientExperience = "insufficient_experience"
	ReasonUnavailable            = "unavailable"
)

type Breakdown struct {
	Location    float64 `json:"location"`
	Vehicle     float64 `json:"vehicle"`
	Experience  float64 `json:"experience"`
	Reliability float64 `json:"reliability"`
	Budget      float64 `json:"budget"`
}

type Result struct {
	Candidate candidate.Candidate
	Total     float64
	Breakdown Breakdown
	Eligible  bool
	Reason    string
}

type Engine struct {
	cfg    config.ScoringConfig
	covers map[string][]string
}

// NewEngine normalizes the vehicle cover table to lower case.
func NewEngine(cfg config.ScoringConfig) *Engine {
	covers := make(map[string][]string, len(cfg.VehicleCovers))
	for big, smalls := range cfg.VehicleCovers {
		key := strings.ToLower(strings.TrimSpace(big))
		for _, s := range smalls {
			covers[key] = append(covers[key], strings.ToLower(strings.TrimSpace(s)))
		}
	}
	return &Engine{cfg: cfg, covers: covers}
}

// AcceptedVehicleTypes lists the requested type followed by every type that covers it.
func (e *Engine) AcceptedVehicleTypes(requested string) []string {
	requested = strings.ToLower(strings.TrimSpace(requested))
	out := []string{requested}
	bigs := make([]string, 0, len(e.covers))
	for big, smalls := range e.covers {
		if big != requested && slices.Contains(smalls, requested) {
			bigs = append(bigs, big)
		}
	}
	slices.Sort(bigs)
	return append(out, bigs...)
}

// Score is pure: same inputs, same result.
func (e *Engine) Score(r *request.Request, c candidate.Candidate) Result {
	res := Result{Candidate: c, Total: math.Inf(-1)}
	if !c.Available {
		res.Reason = ReasonUnavailable
		return res
	}
	vehicle, ok := e.vehicleScore(r.VehicleType, c)
	if !ok {
		res.Reason = ReasonVehicleMismatch
		return res
	}
	if c.ExperienceYears < r.MinExperienceYears {
		res.Reason = ReasonInsufficientExperience
		return res
	}

	b := Breakdown{
		Location:    e.locationScore(r.Pickup, c),
		Vehicle:     vehicle,
		Experience:  math.Min(1, float64(c.ExperienceYears)/math.Max(1, float64(r.MinExperienceYears))),
		Reliability: clamp01(c.Rating / 5),
		Budget:      e.budgetScore(r.BudgetMin, r.BudgetMax, c.TypicalRate),
	}
	w := e.cfg.Weights
	res.Breakdown = b
	res.Total = w.Location*b.Location + w.Vehicle*b.Vehicle + w.Experience*b.Experience +
		w.Reliability*b.Reliability + w.Budget*b.Budget
	res.Eligible = true
	return res
}

func (e *Engine) vehicleScore(requested string, c candidate.Candidate) (float64, bool) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if c.HasVehicle(requested) {
		return 1, true
	}
	for _, t := range e.AcceptedVehicleTypes(requested)[1:] {
		if c.HasVehicle(t) {
			return e.cfg.SupersetVehicle, true
		}
	}
	return 0, false
}

func (e *Engine) locationScore(pickup types.Location, c candidate.Candidate) float64 {
	if !types.SameRegion(pickup.Region, c.Region) {
		return e.cfg.OtherRegion
	}
	if strings.TrimSpace(pickup.SubRegion) == "" || types.SameRegion(pickup.SubRegion, c.SubRegion) {
		return e.cfg.SameSubRegion
	}
	return e.cfg.SameRegion
}

// budgetScore is 1 inside [min, max] and decays linearly to 0 over
// tolerance*bound outside it. Missing bounds are open.
func (e *Engine) budgetScore(lo, hi, rate *decimal.Decimal) float64 {
	if lo == nil && hi == nil {
		return 1
	}
	if rate == nil {
		return e.cfg.MissingRateScore
	}
	r := rate.InexactFloat64()
	switch {
	case lo != nil && r < lo.InexactFloat64():
		return e.decay(lo.InexactFloat64()-r, lo.InexactFloat64())
	case hi != nil && r > hi.InexactFloat64():
		return e.decay(r-hi.InexactFloat64(), hi.InexactFloat64())
	}
	return 1
}

func (e *Engine) decay(distance, bound float64) float64 {
	span := e.cfg.BudgetTolerance * bound
	if span <= 0 {
		return 0
	}
	return clamp01(1 - distance/span)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
