package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/falconandrea/FileSolvers/internal/providers"
	"github.com/falconandrea/FileSolvers/internal/services"
	"github.com/falconandrea/FileSolvers/pkg/domain"
	"github.com/falconandrea/FileSolvers/pkg/persistence"

	"github.com/gin-gonic/gin"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.Errorf(domain.KindWrongFormat, "xls"), http.StatusBadRequest},
		{domain.Errorf(domain.KindRequestNotFound, "7"), http.StatusNotFound},
		{domain.Errorf(domain.KindAlreadyHaveAWinner, ""), http.StatusConflict},
		{domain.Errorf(domain.KindYouAreNotTheAuthor, ""), http.StatusForbidden},
		{domain.Errorf(domain.KindInsufficientFunds, ""), http.StatusPaymentRequired},
		{fmt.Errorf("mutate 3: %w", persistence.ErrConflict), http.StatusServiceUnavailable},
		{services.ErrContentTooLarge, http.StatusRequestEntityTooLarge},
		{providers.ErrContentNotFound, http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func queryContext(rawQuery string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/requests?"+rawQuery, nil)
	return c, w
}

func TestListQuery(t *testing.T) {
	c, _ := queryContext("includeClosed=false&order=DESC&limit=5&offset=10")
	q, ok := listQuery(c)
	if !ok {
		t.Fatal("expected query to parse")
	}
	if !q.ExcludeClosed || q.Order != domain.OrderDesc || q.Limit != 5 || q.Offset != 10 {
		t.Fatalf("unexpected query %+v", q)
	}

	c, _ = queryContext("")
	if q, _ := listQuery(c); q.ExcludeClosed || q.Order != domain.OrderAsc {
		t.Fatalf("closed requests must be included by default: %+v", q)
	}

	c, w := queryContext("offset=-2")
	if _, ok := listQuery(c); ok || w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative offset, got %d", w.Code)
	}
}

func TestParseAmount(t *testing.T) {
	a, err := parseAmount("", "0.5")
	if err != nil || a.String() != "500000000000000000" {
		t.Fatalf("parseAmount ether: %v %v", a, err)
	}
	if _, err := parseAmount("1", "1"); !errors.Is(err, domain.ErrMissingParams) {
		t.Fatalf("expected MissingParams for two amounts, got %v", err)
	}
	if _, err := parseAmount("", ""); !errors.Is(err, domain.ErrMissingParams) {
		t.Fatalf("expected MissingParams for no amount, got %v", err)
	}
}
