package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/falconandrea/FileSolvers/internal/middleware"
	"github.com/falconandrea/FileSolvers/internal/services"
	"github.com/falconandrea/FileSolvers/pkg/domain"

	"github.com/gin-gonic/gin"
)

type createRequestController struct{ svc services.LedgerService }

func NewCreateRequestController(svc services.LedgerService) *createRequestController {
	return &createRequestController{svc}
}

type createRequestBody struct {
	Description     string   `json:"description"`
	AcceptedFormats []string `json:"acceptedFormats"`
	Reward          string   `json:"reward,omitempty"`      // base units
	RewardEther     string   `json:"rewardEther,omitempty"` // e.g. "0.1"
	ExpirationDate  string   `json:"expirationDate,omitempty"`
	ExpiresIn       *int64   `json:"expiresInSeconds,omitempty"` // alternative to expirationDate
}

// expiration resolves the deadline. A malformed date or a non-positive
// relative deadline yields a time that is already past, so the ledger reports
// WrongExpirationDate after its parameter and reward checks.
func (b createRequestBody) expiration(now time.Time) (time.Time, bool) {
	switch {
	case strings.TrimSpace(b.ExpirationDate) != "":
		exp, err := time.Parse(time.RFC3339, strings.TrimSpace(b.ExpirationDate))
		if err != nil {
			return time.Time{}, true
		}
		return exp, true
	case b.ExpiresIn != nil:
		return now.Add(time.Duration(*b.ExpiresIn) * time.Second), true
	}
	return time.Time{}, false
}

func (h *createRequestController) Handle(c *gin.Context) {
	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid body")
		return
	}
	reward, err := parseAmount(body.Reward, body.RewardEther)
	if err != nil {
		writeError(c, err)
		return
	}
	exp, ok := body.expiration(time.Now())
	if !ok {
		writeError(c, domain.Errorf(domain.KindMissingParams, "expirationDate is required"))
		return
	}

	req, err := h.svc.CreateRequest(c.Request.Context(), middleware.Caller(c), domain.CreateRequestInput{
		Description:     body.Description,
		AcceptedFormats: body.AcceptedFormats,
		Reward:          reward,
		ExpirationDate:  exp,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}
