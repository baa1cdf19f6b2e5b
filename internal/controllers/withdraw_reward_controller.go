package controllers

import (
	"net/http"

	"github.com/falconandrea/FileSolvers/internal/middleware"
	"github.com/falconandrea/FileSolvers/internal/services"

	"github.com/gin-gonic/gin"
)

type withdrawRewardController struct{ svc services.LedgerService }

func NewWithdrawRewardController(svc services.LedgerService) *withdrawRewardController {
	return &withdrawRewardController{svc}
}

func (h *withdrawRewardController) Handle(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	req, err := h.svc.WithdrawReward(c.Request.Context(), middleware.Caller(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}
