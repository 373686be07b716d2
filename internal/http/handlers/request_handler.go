// README: Request handlers: create, get, update constraints, list and recompute matches.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"freightmatch/internal/modules/matching"
	"freightmatch/internal/modules/request"
	"freightmatch/internal/types"
)

// Recomputer re-runs match generation on demand.
type Recomputer interface {
	Recompute(ctx context.Context, requestID types.ID) ([]types.ID, error)
}

type RequestHandler struct {
	requests *request.Service
	matching *matching.Service
	gen      Recomputer
}

func NewRequestHandler(requests *request.Service, matchingSvc *matching.Service, gen Recomputer) *RequestHandler {
	return &RequestHandler{requests: requests, matching: matchingSvc, gen: gen}
}

type constraintsReq struct {
	Pickup             types.Location   `json:"pickup"`
	Dropoff            types.Location   `json:"dropoff"`
	VehicleType        string           `json:"vehicle_type"`
	PickupDate         *time.Time       `json:"pickup_date"`
	DeliveryDeadline   *time.Time       `json:"delivery_deadline"`
	BudgetMin          *decimal.Decimal `json:"budget_min"`
	BudgetMax          *decimal.Decimal `json:"budget_max"`
	MinExperienceYears int              `json:"min_experience_years"`
	Urgency            request.Urgency  `json:"urgency"`
}

type createRequestReq struct {
	CompanyID        string           `json:"company_id"`
	CargoType        string           `json:"cargo_type"`
	CargoDescription string           `json:"cargo_description"`
	WeightKg         float64          `json:"weight_kg"`
	CargoValue       *decimal.Decimal `json:"cargo_value"`
	constraintsReq
}

func (r constraintsReq) constraints() request.Constraints {
	return request.Constraints{
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

func (h *RequestHandler) Create(c *gin.Context) {
	var req createRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	if req.CompanyID == "" {
		writeError(c, http.StatusBadRequest, "bad_request", "missing company_id")
		return
	}
	r, err := h.requests.Create(c.Request.Context(), request.CreateCommand{
		CompanyID:          types.ID(req.CompanyID),
		Pickup:             req.Pickup,
		Dropoff:            req.Dropoff,
		VehicleType:        req.VehicleType,
		CargoType:          req.CargoType,
		CargoDescription:   req.CargoDescription,
		WeightKg:           req.WeightKg,
		CargoValue:         req.CargoValue,
		PickupDate:         req.PickupDate,
		DeliveryDeadline:   req.DeliveryDeadline,
		BudgetMin:          req.BudgetMin,
		BudgetMax:          req.BudgetMax,
		MinExperienceYears: req.MinExperienceYears,
		Urgency:            req.Urgency,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, map[string]any{
		"request_id":     r.ID,
		"status":         r.Status,
		"matching_state": r.MatchingState,
	})
}

func (h *RequestHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := h.requests.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RequestHandler) UpdateConstraints(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req constraintsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	r, err := h.requests.UpdateConstraints(c.Request.Context(), request.UpdateConstraintsCommand{
		RequestID:   id,
		Constraints: req.constraints(),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RequestHandler) ListMatches(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	list, err := h.matching.List(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"request_id": id, "matches": list})
}

func (h *RequestHandler) Recompute(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ids, err := h.gen.Recompute(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if ids == nil {
		ids = []types.ID{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"request_id": id, "match_ids": ids})
}
