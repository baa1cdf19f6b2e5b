package controllers

import (
	"net/http"

	"github.com/falconandrea/FileSolvers/internal/middleware"
	"github.com/falconandrea/FileSolvers/internal/services"
	"github.com/falconandrea/FileSolvers/pkg/domain"

	"github.com/gin-gonic/gin"
)

type sendFileController struct{ svc services.LedgerService }

func NewSendFileController(svc services.LedgerService) *sendFileController {
	return &sendFileController{svc}
}

type sendFileBody struct {
	FileName       string `json:"fileName"`
	Format         string `json:"format"`
	Description    string `json:"description"`
	ContentAddress string `json:"contentAddress"`
}

func (h *sendFileController) Handle(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	var body sendFileBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid body")
		return
	}
	sub, err := h.svc.SendFile(c.Request.Context(), middleware.Caller(c), id, domain.SubmissionInput(body))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}
