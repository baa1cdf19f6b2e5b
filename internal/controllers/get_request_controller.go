package controllers

import (
	"net/http"

	"github.com/falconandrea/FileSolvers/internal/middleware"
	"github.com/falconandrea/FileSolvers/internal/services"

	"github.com/gin-gonic/gin"
)

type getRequestController struct{ svc services.LedgerService }

func NewGetRequestController(svc services.LedgerService) *getRequestController {
	return &getRequestController{svc}
}

func (h *getRequestController) Handle(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	req, err := h.svc.GetRequest(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type listRequestsController struct {
	svc  services.LedgerService
	mine bool
}

// NewListRequestsController lists every request, or only the caller's when mine is set.
func NewListRequestsController(svc services.LedgerService, mine bool) *listRequestsController {
	return &listRequestsController{svc: svc, mine: mine}
}

func (h *listRequestsController) Handle(c *gin.Context) {
	q, ok := listQuery(c)
	if !ok {
		return
	}
	var err error
	var list any
	if h.mine {
		list, err = h.svc.GetMyRequests(c.Request.Context(), middleware.Caller(c), q)
	} else {
		list, err = h.svc.GetRequests(c.Request.Context(), q)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": list})
}
