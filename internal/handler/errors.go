package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/milelog/milelog/internal/ledger"
	"github.com/milelog/milelog/internal/report"
	"github.com/milelog/milelog/internal/users"
	"go.uber.org/zap"
)

// writeError maps domain errors onto HTTP responses. Validation and
// not-found problems get specific messages; concurrency conflicts surface as
// a transient 409 the client may retry; anything else is a logged 500.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
	case errors.Is(err, ledger.ErrTripNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "trip not found"})
	case errors.Is(err, users.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, report.ErrReportNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
	case errors.Is(err, report.ErrNoTrips):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no live trips in the requested range"})
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "a concurrent edit won; please retry"})
	default:
		logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
