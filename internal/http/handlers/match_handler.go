// README: Match handlers: counter-offer, accept, reject, withdraw and history.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"freightmatch/internal/http/middleware"
	"freightmatch/internal/modules/matching"
)

type MatchHandler struct {
	matching *matching.Service
}

func NewMatchHandler(svc *matching.Service) *MatchHandler {
	return &MatchHandler{matching: svc}
}

type counterReq struct {
	Rate    *decimal.Decimal `json:"rate"`
	Message string           `json:"message"`
}

type acceptReq struct {
	AgreedRate *decimal.Decimal `json:"agreed_rate"`
	Notes      string           `json:"notes"`
}

type reasonReq struct {
	Reason string `json:"reason"`
}

func (h *MatchHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	m, err := h.matching.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, m)
}

func (h *MatchHandler) Counter(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req counterReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Rate == nil {
		writeError(c, http.StatusBadRequest, "invalid_rate", "rate is required")
		return
	}
	m, err := h.matching.ProposeCounter(c.Request.Context(), matching.ProposeCounterCommand{
		MatchID: id,
		Rate:    *req.Rate,
		Message: req.Message,
		Actor:   middleware.ActorFrom(c),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, m)
}

func (h *MatchHandler) Accept(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req acceptReq
	if err := c.ShouldBindJSON(&req); err != nil || req.AgreedRate == nil {
		writeError(c, http.StatusBadRequest, "invalid_rate", "agreed_rate is required")
		return
	}
	res, err := h.matching.Accept(c.Request.Context(), matching.AcceptCommand{
		MatchID:    id,
		AgreedRate: *req.AgreedRate,
		Notes:      req.Notes,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *MatchHandler) Reject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	m, err := h.matching.Reject(c.Request.Context(), matching.RejectCommand{
		MatchID: id,
		Reason:  req.Reason,
		Actor:   middleware.ActorFrom(c),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, m)
}

func (h *MatchHandler) Withdraw(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	// body is optional
	var req reasonReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid_json", "invalid json")
			return
		}
	}
	m, err := h.matching.Withdraw(c.Request.Context(), matching.WithdrawCommand{
		MatchID: id,
		Reason:  req.Reason,
		Actor:   middleware.ActorFrom(c),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, m)
}

func (h *MatchHandler) Events(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	events, err := h.matching.Events(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if events == nil {
		events = []matching.Event{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"match_id": id, "events": events})
}
