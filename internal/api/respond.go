package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/web3guy0/guardrail/internal/guarderr"
)

// errorEnvelope is the wire shape of every failure.
type errorEnvelope struct {
	Error *guarderr.Error `json:"error"`
}

// statusFor maps stable error codes to HTTP statuses. Risk rejections and
// mode blocks are 400s: the request was understood and refused.
func statusFor(code guarderr.Code) int {
	switch code {
	case guarderr.CodeUnauthorized:
		return http.StatusUnauthorized
	case guarderr.CodeNotFound:
		return http.StatusNotFound
	case guarderr.CodeVersionConflict:
		return http.StatusConflict
	case guarderr.CodeRateLimited:
		return http.StatusTooManyRequests
	case guarderr.CodeInternal, guarderr.CodePersistence, guarderr.CodeConstraintViolation:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func abortWith(c *gin.Context, err error) {
	var ge *guarderr.Error
	if !errors.As(err, &ge) {
		ge = guarderr.New(guarderr.CodeInternal, "internal error")
	}
	c.AbortWithStatusJSON(statusFor(ge.Code), errorEnvelope{Error: ge})
}

func badRequest(c *gin.Context, msg string) {
	abortWith(c, guarderr.New(guarderr.CodeValidationFailed, msg))
}
