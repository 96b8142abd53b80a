package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/web3guy0/guardrail/internal/limits"
	"github.com/web3guy0/guardrail/internal/settings"
	"github.com/web3guy0/guardrail/internal/types"
)

func (s *Server) handleGetSettings(c *gin.Context) {
	st, err := s.settings.Get(reqCtx(c), userID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type updateSettingsRequest struct {
	Patch  settings.Patch `json:"patch"`
	Reason string         `json:"reason"`
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	// Unknown keys in the patch are rejected, not ignored: a typoed limit
	// name must never silently leave the old value in force.
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	var req updateSettingsRequest
	if err := dec.Decode(&req); err != nil {
		badRequest(c, "malformed settings patch: "+err.Error())
		return
	}
	st, err := s.settings.Update(reqCtx(c), userID(c), req.Patch, userID(c), req.Reason)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleGetMode(c *gin.Context) {
	st, err := s.settings.Get(reqCtx(c), userID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":      st.Mode,
		"exec_mode": st.ExecMode,
		"version":   st.Version,
	})
}

type setModeRequest struct {
	Mode      types.Mode `json:"mode"`
	Reason    string     `json:"reason"`
	Confirmed bool       `json:"confirmed"`
}

func (s *Server) handleSetMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed mode request")
		return
	}
	st, err := s.settings.SetMode(reqCtx(c), userID(c), req.Mode, req.Confirmed, userID(c), req.Reason)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleSettingsAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := s.settings.GetAudit(reqCtx(c), userID(c), limit)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": rows})
}

func (s *Server) handleConstants(c *gin.Context) {
	caps := limits.Get()
	c.JSON(http.StatusOK, gin.H{
		"max_risk_per_trade_pct":          caps.MaxRiskPerTradePct,
		"max_daily_loss_pct":              caps.MaxDailyLossPct,
		"emergency_drawdown_pct":          caps.EmergencyDrawdownPct,
		"max_open_positions":              caps.MaxOpenPositions,
		"max_trades_per_day":              caps.MaxTradesPerDay,
		"max_trades_per_hour":             caps.MaxTradesPerHour,
		"min_risk_reward_ratio":           caps.MinRiskRewardRatio,
		"max_position_size_lots":          caps.MaxPositionSizeLots,
		"max_position_size_pct":           caps.MaxPositionSizePct,
		"strategy_auto_disable_threshold": caps.StrategyAutoDisableThreshold,
	})
}

func (s *Server) handleGetExecMode(c *gin.Context) {
	st, err := s.settings.Get(reqCtx(c), userID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exec_mode":   st.ExecMode,
		"broker_type": st.BrokerType,
		"version":     st.Version,
	})
}

type setExecModeRequest struct {
	Mode      types.ExecMode `json:"mode"`
	Password  string         `json:"password"`
	Reason    string         `json:"reason"`
	Confirmed bool           `json:"confirmed"`
}

func (s *Server) handleSetExecMode(c *gin.Context) {
	var req setExecModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed execution mode request")
		return
	}
	st, err := s.settings.SetExecMode(reqCtx(c), userID(c), req.Mode, req.Password, req.Confirmed, userID(c), req.Reason)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
