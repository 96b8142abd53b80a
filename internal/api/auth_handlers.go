package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/web3guy0/guardrail/internal/guarderr"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		badRequest(c, "email and password are required")
		return
	}
	pair, err := s.auth.Login(reqCtx(c), req.Email, req.Password)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		badRequest(c, "refresh_token is required")
		return
	}
	pair, err := s.auth.Refresh(reqCtx(c), req.RefreshToken)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// handleLogout revokes the presented access token. It does not use the
// auth middleware: an expired token is already logged out.
func (s *Server) handleLogout(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		abortWith(c, guarderr.New(guarderr.CodeUnauthorized, "missing bearer token"))
		return
	}
	if err := s.auth.Logout(reqCtx(c), token); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}
