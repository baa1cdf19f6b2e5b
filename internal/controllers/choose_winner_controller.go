package controllers

import (
	"net/http"

	"github.com/falconandrea/FileSolvers/internal/middleware"
	"github.com/falconandrea/FileSolvers/internal/services"

	"github.com/gin-gonic/gin"
)

type chooseWinnerController struct{ svc services.LedgerService }

func NewChooseWinnerController(svc services.LedgerService) *chooseWinnerController {
	return &chooseWinnerController{svc}
}

type chooseWinnerBody struct {
	FileID *int `json:"fileId"`
}

func (h *chooseWinnerController) Handle(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	var body chooseWinnerBody
	if err := c.ShouldBindJSON(&body); err != nil || body.FileID == nil {
		badRequest(c, "fileId is required")
		return
	}
	req, err := h.svc.ChooseWinner(c.Request.Context(), middleware.Caller(c), id, *body.FileID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}
