package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/falconandrea/FileSolvers/internal/middleware"
	"github.com/falconandrea/FileSolvers/internal/services"
	"github.com/falconandrea/FileSolvers/pkg/auth/static"
	"github.com/falconandrea/FileSolvers/pkg/domain"
	"github.com/falconandrea/FileSolvers/pkg/persistence"
	"github.com/falconandrea/FileSolvers/pkg/persistence/memory"

	"github.com/gin-gonic/gin"
)

func newCreateRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := memory.NewPlugin(persistence.PluginConfig{})
	if err != nil {
		t.Fatalf("memory.NewPlugin: %v", err)
	}
	svc := services.NewLedgerService(store, nil, slog.Default(), nil)
	if _, err := svc.Deposit(context.Background(), "alice", domain.NewAmount(1000)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	v, err := static.NewValidatorFromJSON(json.RawMessage(`{"token":"tok-alice","subject":"alice"}`))
	if err != nil {
		t.Fatalf("static validator: %v", err)
	}

	r := gin.New()
	r.POST("/requests", middleware.AuthMiddleware(v), NewCreateRequestController(svc).Handle)
	return r
}

func postCreate(t *testing.T, r http.Handler, body map[string]any) (int, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/requests", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer tok-alice")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func TestCreateRequestValidationOrder(t *testing.T) {
	r := newCreateRouter(t)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		kind   domain.ErrorKind
	}{
		{
			"missing description wins over malformed date",
			map[string]any{"acceptedFormats": []string{"pdf"}, "reward": "10", "expirationDate": "tomorrow"},
			http.StatusBadRequest, domain.KindMissingParams,
		},
		{
			"missing formats wins over past relative deadline",
			map[string]any{"description": "d", "reward": "10", "expiresInSeconds": -30},
			http.StatusBadRequest, domain.KindMissingParams,
		},
		{
			"non-positive reward wins over malformed date",
			map[string]any{"description": "d", "acceptedFormats": []string{"pdf"}, "reward": "0", "expirationDate": "tomorrow"},
			http.StatusBadRequest, domain.KindAmountLessThanZero,
		},
		{
			"malformed date",
			map[string]any{"description": "d", "acceptedFormats": []string{"pdf"}, "reward": "10", "expirationDate": "tomorrow"},
			http.StatusBadRequest, domain.KindWrongExpirationDate,
		},
		{
			"negative relative deadline",
			map[string]any{"description": "d", "acceptedFormats": []string{"pdf"}, "reward": "10", "expiresInSeconds": -30},
			http.StatusBadRequest, domain.KindWrongExpirationDate,
		},
		{
			"zero relative deadline",
			map[string]any{"description": "d", "acceptedFormats": []string{"pdf"}, "reward": "10", "expiresInSeconds": 0},
			http.StatusBadRequest, domain.KindWrongExpirationDate,
		},
		{
			"no deadline at all",
			map[string]any{"description": "d", "acceptedFormats": []string{"pdf"}, "reward": "10"},
			http.StatusBadRequest, domain.KindMissingParams,
		},
		{
			"reward above balance",
			map[string]any{"description": "d", "acceptedFormats": []string{"pdf"}, "reward": "5000", "expirationDate": future},
			http.StatusPaymentRequired, domain.KindInsufficientFunds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := postCreate(t, r, tt.body)
			if status != tt.status || out["error"] != string(tt.kind) {
				t.Fatalf("got %d %v, want %d %s", status, out, tt.status, tt.kind)
			}
		})
	}
}

func TestCreateRequestAccepted(t *testing.T) {
	r := newCreateRouter(t)

	status, out := postCreate(t, r, map[string]any{
		"description": "scan of the 1998 report", "acceptedFormats": []string{"PDF"}, "reward": "10", "expiresInSeconds": 3600,
	})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", status, out)
	}
	if out["id"] != float64(0) || out["author"] != "alice" || out["status"] != string(domain.StatusActive) {
		t.Fatalf("unexpected request %v", out)
	}

	status, out = postCreate(t, r, map[string]any{
		"description": "second", "acceptedFormats": []string{"doc"}, "rewardEther": "0.000000000000000001",
		"expirationDate": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
	if status != http.StatusCreated || out["id"] != float64(1) || out["reward"] != "1" {
		t.Fatalf("unexpected second create %d %v", status, out)
	}
}
