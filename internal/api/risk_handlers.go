package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/guardrail/internal/types"
)

type validateRequest struct {
	Signal types.Signal    `json:"signal"`
	Size   decimal.Decimal `json:"size"`
}

// handleValidate persists the proposed signal, runs the full check chain
// and reports the verdict. An approved signal can then be executed by id.
func (s *Server) handleValidate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed validate request")
		return
	}
	if req.Signal.Symbol == "" || req.Signal.StrategyName == "" {
		badRequest(c, "signal requires symbol and strategy_name")
		return
	}
	if req.Size.LessThanOrEqual(decimal.Zero) {
		badRequest(c, "size must be positive")
		return
	}

	sig := req.Signal
	sig.UserID = userID(c)
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	sig.Status = types.SignalPending
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	if sig.RiskReward.IsZero() {
		sig.RiskReward = sig.ComputeRiskReward()
	}
	if err := s.store.CreateSignal(&sig); err != nil {
		abortWith(c, err)
		return
	}

	decision, err := s.validator.Validate(reqCtx(c), &sig, req.Size)
	if err != nil {
		abortWith(c, err)
		return
	}

	var passed, failed []string
	json.Unmarshal([]byte(decision.ChecksPassed), &passed)
	json.Unmarshal([]byte(decision.ChecksFailed), &failed)

	c.JSON(http.StatusOK, gin.H{
		"approved":    decision.Kind == types.DecisionApproval,
		"reason_code": decision.ReasonCode,
		"signal_id":   sig.ID,
		"checks": gin.H{
			"passed": passed,
			"failed": failed,
		},
	})
}

func (s *Server) handleRiskState(c *gin.Context) {
	state, err := s.monitor.State(reqCtx(c), userID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleRiskDecisions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := s.store.ListRiskDecisions(userID(c), limit)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": rows})
}

func (s *Server) handleRiskBudgets(c *gin.Context) {
	rows, err := s.store.ListStrategyBudgets(userID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"budgets": rows})
}

func (s *Server) handleEmergencyReset(c *gin.Context) {
	if err := s.monitor.ResetEmergency(reqCtx(c), userID(c)); err != nil {
		abortWith(c, err)
		return
	}
	state, err := s.monitor.State(reqCtx(c), userID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleDailyReset(c *gin.Context) {
	if err := s.monitor.ResetDaily(reqCtx(c), userID(c)); err != nil {
		abortWith(c, err)
		return
	}
	state, err := s.monitor.State(reqCtx(c), userID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
