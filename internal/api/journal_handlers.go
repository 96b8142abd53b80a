package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultStatsWindow = 7 * 24 * time.Hour

func (s *Server) handleJournalEntries(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := s.store.ListJournalEntries(userID(c), c.Query("strategy"), c.Query("symbol"), limit)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": rows})
}

func (s *Server) handleJournalStats(c *gin.Context) {
	strategy := c.Query("strategy")
	symbol := c.Query("symbol")
	if strategy == "" || symbol == "" {
		badRequest(c, "strategy and symbol query params are required")
		return
	}
	window := defaultStatsWindow
	if d := c.Query("window"); d != "" {
		parsed, err := time.ParseDuration(d)
		if err != nil || parsed <= 0 {
			badRequest(c, "window must be a positive duration")
			return
		}
		window = parsed
	}
	res, err := s.analyzer.Analyze(reqCtx(c), userID(c), strategy, symbol, window)
	if err != nil {
		abortWith(c, err)
		return
	}
	// A loss-free window yields an infinite profit factor, which JSON
	// cannot carry.
	if math.IsInf(res.ProfitFactor, 1) {
		res.ProfitFactor = math.MaxFloat64
	}
	c.JSON(http.StatusOK, res)
}

// handleFeedbackCycle forces one feedback pass for a (strategy, symbol),
// outside the background loop's schedule.
func (s *Server) handleFeedbackCycle(c *gin.Context) {
	decision, err := s.loop.RunCycle(reqCtx(c), userID(c), c.Param("strategy"), c.Param("symbol"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": decision})
}
