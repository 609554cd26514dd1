// Package apperr holds the typed reasons an operation can be declined with.
// Every fund-moving operation either succeeds or returns one of these with nothing applied.
package apperr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Error is a declined operation. Compare with errors.Is against the sentinels below.
type Error struct {
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

var (
	ErrInsufficientFunds     = newError("insufficient_funds", http.StatusConflict, "insufficient funds")
	ErrRoundNotAcceptingBets = newError("round_not_accepting_bets", http.StatusConflict, "round is not accepting bets")
	ErrRoundNotRunning       = newError("round_not_running", http.StatusConflict, "round is not running")
	ErrAlreadyCashedOut      = newError("already_cashed_out", http.StatusConflict, "bet already cashed out")
	ErrDuplicateClaim        = newError("duplicate_claim", http.StatusConflict, "rain already claimed")
	ErrInsufficientClaimants = newError("insufficient_claimants", http.StatusConflict, "not enough claimants to resolve rain")
	ErrInvalidAmount         = newError("invalid_amount", http.StatusBadRequest, "invalid amount")

	ErrBetAlreadyPlaced = newError("bet_already_placed", http.StatusConflict, "bet already placed this round")
	ErrNoActiveBet      = newError("no_active_bet", http.StatusNotFound, "no active bet in the current round")
	ErrRoundNotFound    = newError("round_not_found", http.StatusNotFound, "round not found")
	ErrRainNotFound     = newError("rain_not_found", http.StatusNotFound, "rain not found")
	ErrRainClosed       = newError("rain_closed", http.StatusConflict, "rain is no longer open")
	ErrUnauthorized     = newError("unauthorized", http.StatusUnauthorized, "unauthorized")
	ErrRateLimited      = newError("rate_limited", http.StatusTooManyRequests, "too many requests")
	ErrUnavailable      = newError("unavailable", http.StatusServiceUnavailable, "service temporarily unavailable")
	ErrBadRequest       = newError("bad_request", http.StatusBadRequest, "bad request")
)

// Respond writes err as JSON. Unknown errors are logged and hidden behind a 500.
func Respond(c *gin.Context, log logrus.FieldLogger, err error) {
	var appErr *Error
	if errors.As(err, &appErr) {
		c.AbortWithStatusJSON(appErr.Status, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}
	log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
}

// BadRequest reports a binding or parsing failure.
func BadRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed request: " + err.Error(), "code": ErrBadRequest.Code})
}
