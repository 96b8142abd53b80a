package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/guardrail/internal/auth"
	"github.com/web3guy0/guardrail/internal/execution"
	"github.com/web3guy0/guardrail/internal/feedback"
	"github.com/web3guy0/guardrail/internal/guarderr"
	"github.com/web3guy0/guardrail/internal/journal"
	"github.com/web3guy0/guardrail/internal/risk"
	"github.com/web3guy0/guardrail/internal/settings"
	"github.com/web3guy0/guardrail/internal/storage"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONTROL-PLANE API - HTTP surface over the trading pipeline
// ═══════════════════════════════════════════════════════════════════════════════
//
// JSON over HTTP, bearer tokens resolving to user ids. Every error leaves
// in the {error:{code,message,details}} envelope with the code mapped to
// a status. Login and refresh are the only unauthenticated routes and
// both sit behind per-IP fixed-window rate limits.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	loginRateLimit   = 10 // per minute per IP
	refreshRateLimit = 30 // per minute per IP
	rateWindow       = time.Minute
)

const ctxUserID = "user_id"

// Server wires the pipeline services to HTTP.
type Server struct {
	auth      *auth.Service
	limiter   auth.RateLimiter
	settings  *settings.Service
	validator *risk.Validator
	monitor   *risk.Monitor
	engine    *execution.Engine
	analyzer  *journal.Analyzer
	loop      *feedback.Loop
	store     *storage.Store

	router *gin.Engine
}

// New builds the server and its route table.
func New(
	authSvc *auth.Service,
	limiter auth.RateLimiter,
	settingsSvc *settings.Service,
	validator *risk.Validator,
	monitor *risk.Monitor,
	engine *execution.Engine,
	analyzer *journal.Analyzer,
	loop *feedback.Loop,
	store *storage.Store,
) *Server {
	s := &Server{
		auth:      authSvc,
		limiter:   limiter,
		settings:  settingsSvc,
		validator: validator,
		monitor:   monitor,
		engine:    engine,
		analyzer:  analyzer,
		loop:      loop,
		store:     store,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/auth/login", s.rateLimited("login", loginRateLimit), s.handleLogin)
	r.POST("/auth/refresh", s.rateLimited("refresh", refreshRateLimit), s.handleRefresh)
	r.POST("/auth/logout", s.handleLogout)

	authed := r.Group("/", s.requireAuth())
	{
		authed.GET("/settings", s.handleGetSettings)
		authed.PUT("/settings", s.handleUpdateSettings)
		authed.GET("/settings/mode", s.handleGetMode)
		authed.POST("/settings/mode", s.handleSetMode)
		authed.GET("/settings/audit", s.handleSettingsAudit)
		authed.GET("/settings/constants", s.handleConstants)

		authed.GET("/execution-mode", s.handleGetExecMode)
		authed.POST("/execution-mode", s.handleSetExecMode)

		authed.POST("/execution/execute", s.handleExecute)
		authed.GET("/execution/orders", s.handleListOrders)
		authed.GET("/execution/orders/:id", s.handleGetOrder)
		authed.POST("/execution/orders/:id/cancel", s.handleCancelOrder)

		authed.POST("/risk/validate", s.handleValidate)
		authed.GET("/risk/state", s.handleRiskState)
		authed.GET("/risk/decisions", s.handleRiskDecisions)
		authed.GET("/risk/budgets", s.handleRiskBudgets)
		authed.POST("/risk/emergency/reset", s.handleEmergencyReset)
		authed.POST("/risk/daily/reset", s.handleDailyReset)

		authed.GET("/journal/entries", s.handleJournalEntries)
		authed.GET("/journal/stats", s.handleJournalStats)
		authed.POST("/journal/feedback/:strategy/:symbol", s.handleFeedbackCycle)
	}

	s.router = r
	return s
}

// Handler exposes the router for tests and custom servers.
func (s *Server) Handler() http.Handler { return s.router }

// Run blocks serving HTTP until the listener fails.
func (s *Server) Run(addr string) error {
	log.Info().Str("addr", addr).Msg("🌐 Control-plane API listening")
	return s.router.Run(addr)
}

// requireAuth resolves the bearer token to a user id.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abortWith(c, guarderr.New(guarderr.CodeUnauthorized, "missing bearer token"))
			return
		}
		userID, err := s.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

// rateLimited enforces a fixed per-IP window on one route.
func (s *Server) rateLimited(route string, perMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		key := route + ":" + c.ClientIP()
		ok, err := s.limiter.Allow(c.Request.Context(), key, perMinute, rateWindow)
		if err != nil {
			log.Warn().Err(err).Str("route", route).Msg("Rate limiter unavailable, allowing request")
			c.Next()
			return
		}
		if !ok {
			abortWith(c, guarderr.New(guarderr.CodeRateLimited, "too many requests"))
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

func userID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

func reqCtx(c *gin.Context) context.Context {
	return c.Request.Context()
}
