package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/guardrail/internal/guarderr"
	"github.com/web3guy0/guardrail/internal/storage"
	"github.com/web3guy0/guardrail/internal/types"
)

type executeRequest struct {
	SignalID   string           `json:"signal_id"`
	Size       decimal.Decimal  `json:"size"`
	BrokerType types.BrokerType `json:"broker_type"`
}

// handleExecute is the user-approval path: a human pressed the button, so
// the engine receives the manual override that clears live execution in
// guide mode.
func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SignalID == "" {
		badRequest(c, "signal_id is required")
		return
	}
	if req.Size.LessThanOrEqual(decimal.Zero) {
		badRequest(c, "size must be positive")
		return
	}

	sig, err := s.store.GetSignal(userID(c), req.SignalID)
	if err != nil {
		if storage.IsNotFound(err) {
			abortWith(c, guarderr.New(guarderr.CodeNotFound, "signal not found"))
			return
		}
		abortWith(c, err)
		return
	}

	order, err := s.engine.Execute(reqCtx(c), sig, req.Size, true)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

func (s *Server) handleListOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	status := types.OrderStatus(c.Query("status"))
	orders, err := s.store.ListOrders(userID(c), status, limit)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	order, err := s.store.GetOrder(userID(c), c.Param("id"))
	if err != nil {
		if storage.IsNotFound(err) {
			abortWith(c, guarderr.New(guarderr.CodeNotFound, "order not found"))
			return
		}
		abortWith(c, err)
		return
	}
	logRows, err := s.store.ListExecutionLogs(order.ID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "log": logRows})
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	order, err := s.engine.Cancel(reqCtx(c), userID(c), c.Param("id"))
	if err != nil {
		if storage.IsNotFound(err) {
			abortWith(c, guarderr.New(guarderr.CodeNotFound, "order not found"))
			return
		}
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}
