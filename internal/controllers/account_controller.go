package controllers

import (
	"net/http"

	"github.com/falconandrea/FileSolvers/internal/middleware"
	"github.com/falconandrea/FileSolvers/internal/services"
	"github.com/falconandrea/FileSolvers/pkg/domain"

	"github.com/gin-gonic/gin"
)

type balanceController struct{ svc services.LedgerService }

func NewBalanceController(svc services.LedgerService) *balanceController {
	return &balanceController{svc}
}

// Handle reports the balance of :address, or of the caller on /accounts/me.
func (h *balanceController) Handle(c *gin.Context) {
	addr := middleware.Caller(c)
	if raw := c.Param("address"); raw != "" {
		addr = domain.NewAddress(raw)
	}
	if addr.IsZero() {
		badRequest(c, "address is required")
		return
	}
	bal, err := h.svc.Balance(c.Request.Context(), addr)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr, "balance": bal, "balanceEther": bal.FormatEther()})
}

type depositController struct{ svc services.LedgerService }

func NewDepositController(svc services.LedgerService) *depositController {
	return &depositController{svc}
}

type depositBody struct {
	Amount      string `json:"amount,omitempty"`
	AmountEther string `json:"amountEther,omitempty"`
}

func (h *depositController) Handle(c *gin.Context) {
	var body depositBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid body")
		return
	}
	amount, err := parseAmount(body.Amount, body.AmountEther)
	if err != nil {
		writeError(c, err)
		return
	}
	addr := domain.NewAddress(c.Param("address"))
	bal, err := h.svc.Deposit(c.Request.Context(), addr, amount)
	if err != nil {
		writeError(c, err)
		return
	}
	middleware.LoggerFrom(c).Info("deposit credited", "address", addr, "amount", amount.String())
	c.JSON(http.StatusOK, gin.H{"address": addr, "balance": bal, "balanceEther": bal.FormatEther()})
}

type statsController struct{ svc services.LedgerService }

func NewStatsController(svc services.LedgerService) *statsController {
	return &statsController{svc}
}

func (h *statsController) Handle(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
