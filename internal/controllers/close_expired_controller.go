package controllers

import (
	"net/http"

	"github.com/falconandrea/FileSolvers/internal/services"

	"github.com/gin-gonic/gin"
)

type closeExpiredController struct{ svc services.LedgerService }

func NewCloseExpiredController(svc services.LedgerService) *closeExpiredController {
	return &closeExpiredController{svc}
}

func (h *closeExpiredController) Handle(c *gin.Context) {
	ids, err := h.svc.CloseExpired(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": len(ids), "ids": ids})
}
