package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/falconandrea/FileSolvers/internal/middleware"
	"github.com/falconandrea/FileSolvers/internal/providers"
	"github.com/falconandrea/FileSolvers/internal/services"
	"github.com/falconandrea/FileSolvers/pkg/domain"
	"github.com/falconandrea/FileSolvers/pkg/persistence"

	"github.com/gin-gonic/gin"
)

var categoryStatus = map[domain.ErrorCategory]int{
	domain.CategoryValidation:    http.StatusBadRequest,
	domain.CategoryNotFound:      http.StatusNotFound,
	domain.CategoryStateMismatch: http.StatusConflict,
	domain.CategoryAuthorization: http.StatusForbidden,
	domain.CategoryCustody:       http.StatusPaymentRequired,
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	if kind, ok := domain.KindOf(err); ok {
		if status, ok := categoryStatus[kind.Category()]; ok {
			return status
		}
	}
	switch {
	case errors.Is(err, persistence.ErrConflict):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrContentTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, services.ErrInvalidContentAddress):
		return http.StatusBadRequest
	case errors.Is(err, providers.ErrContentNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	var e *domain.Error
	if errors.As(err, &e) {
		c.JSON(status, gin.H{"error": e.Kind, "message": e.Detail})
		return
	}
	if status == http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error("request failed", "err", err)
		c.JSON(status, gin.H{"error": "Internal", "message": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": http.StatusText(status), "message": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": domain.KindMissingParams, "message": msg})
}

func requestID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.KindRequestNotFound, "message": "invalid request id " + strconv.Quote(c.Param("id"))})
		return 0, false
	}
	return id, true
}

// listQuery reads includeClosed, order, limit and offset. Closed requests are
// included unless includeClosed=false.
func listQuery(c *gin.Context) (domain.ListQuery, bool) {
	q := domain.ListQuery{Order: domain.ParseSortOrder(c.Query("order"))}
	if v := c.Query("includeClosed"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "includeClosed must be a boolean")
			return q, false
		}
		q.ExcludeClosed = !include
	}
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, name+" must be a non-negative integer")
			return q, false
		}
		*dst = n
	}
	return q, true
}

// parseAmount accepts base units or a decimal coin value; exactly one may be set.
func parseAmount(units, ether string) (domain.Amount, error) {
	units, ether = strings.TrimSpace(units), strings.TrimSpace(ether)
	switch {
	case units != "" && ether != "":
		return domain.Amount{}, domain.Errorf(domain.KindMissingParams, "set either the base-unit or the ether amount, not both")
	case units != "":
		a, err := domain.ParseAmount(units)
		if err != nil {
			return domain.Amount{}, domain.Errorf(domain.KindMissingParams, "%v", err)
		}
		return a, nil
	case ether != "":
		a, err := domain.ParseEther(ether)
		if err != nil {
			return domain.Amount{}, domain.Errorf(domain.KindMissingParams, "%v", err)
		}
		return a, nil
	}
	return domain.Amount{}, domain.Errorf(domain.KindMissingParams, "amount is required")
}
