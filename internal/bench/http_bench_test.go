package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"

	"github.com/falconandrea/FileSolvers/pkg/app"
	"github.com/falconandrea/FileSolvers/pkg/auth"
	"github.com/falconandrea/FileSolvers/pkg/config"
	"github.com/falconandrea/FileSolvers/pkg/domain"
)

const (
	benchAdminToken  = "bench-admin-token"
	benchAuthorToken = "bench-author-token"
	benchAuthor      = "bench-author"
)

// benchSolvers are enough distinct submitters that no request runs out of them.
const benchSolvers = 8

func newBenchApp(b *testing.B) *app.Application {
	b.Helper()
	gin.SetMode(gin.ReleaseMode)

	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis start: %v", err)
	}
	b.Cleanup(mr.Close)

	tokens := []map[string]any{
		{"token": benchAdminToken, "subject": "bench-admin", "scopes": []string{auth.AdminScope}},
		{"token": benchAuthorToken, "subject": benchAuthor},
	}
	for i := 0; i < benchSolvers; i++ {
		tokens = append(tokens, map[string]any{"token": solverToken(i), "subject": fmt.Sprintf("bench-solver-%d", i)})
	}

	cfg := &config.Config{
		Env:             "dev",
		LogLevel:        "error",
		LogFormat:       "json",
		PersistenceType: "redis",
		RedisAddr:       mr.Addr(),
		KeyPrefix:       "bench",
		ContentDir:      b.TempDir(),
		AuthProvider:    "static",
		AuthConfig:      map[string]any{"tokens": tokens},

		// Benchmarks keep rate limiting disabled.
		RateLimit: config.RateLimitConfig{},
	}

	a, err := app.NewApplication(cfg)
	if err != nil {
		b.Fatalf("app init: %v", err)
	}
	app.SetupMappings(a)
	b.Cleanup(func() { _ = a.Close(context.Background()) })

	// Fund the author generously; rewards are one base unit each.
	if _, err := a.Ledger.Deposit(context.Background(), benchAuthor, domain.NewAmount(1<<40)); err != nil {
		b.Fatalf("deposit: %v", err)
	}
	return a
}

func solverToken(i int) string { return fmt.Sprintf("bench-solver-token-%d", i) }

func doJSONRequest(b *testing.B, h http.Handler, method, path, bearerToken string, body []byte) (int, []byte) {
	b.Helper()

	var rbody *bytes.Reader
	if body == nil {
		rbody = bytes.NewReader([]byte{})
	} else {
		rbody = bytes.NewReader(body)
	}

	req := httptest.NewRequest(method, path, rbody)
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

func createBody() []byte {
	body, _ := json.Marshal(map[string]any{
		"description":     "bench request",
		"acceptedFormats": []string{"pdf"},
		"reward":          "1",
		"expirationDate":  time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
	return body
}

func BenchmarkHTTP_CreateAndSubmit(b *testing.B) {
	a := newBenchApp(b)
	create := createBody()
	submit := []byte(`{"fileName":"bench.pdf","format":"pdf","description":"bench","contentAddress":"sha256:00"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		status, resp := doJSONRequest(b, a.Engine, http.MethodPost, "/v1/filesolvers/requests", benchAuthorToken, create)
		if status != http.StatusCreated {
			b.Fatalf("create status %d body=%s", status, string(resp))
		}
		var created struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(resp, &created); err != nil {
			b.Fatalf("create parse failed: err=%v body=%s", err, string(resp))
		}

		path := fmt.Sprintf("/v1/filesolvers/requests/%d/files", created.ID)
		status, resp = doJSONRequest(b, a.Engine, http.MethodPost, path, solverToken(i%benchSolvers), submit)
		if status != http.StatusCreated {
			b.Fatalf("submit status %d body=%s", status, string(resp))
		}
	}
}

func BenchmarkHTTP_ListRequests(b *testing.B) {
	a := newBenchApp(b)
	create := createBody()

	const prefill = 200
	for i := 0; i < prefill; i++ {
		status, resp := doJSONRequest(b, a.Engine, http.MethodPost, "/v1/filesolvers/requests", benchAuthorToken, create)
		if status != http.StatusCreated {
			b.Fatalf("prefill create status %d body=%s", status, string(resp))
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		status, resp := doJSONRequest(b, a.Engine, http.MethodGet, "/v1/filesolvers/requests?order=desc&limit=20", benchAuthorToken, nil)
		if status != http.StatusOK {
			b.Fatalf("list status %d body=%s", status, string(resp))
		}
	}
}

func BenchmarkLedger_CreateAndSubmit(b *testing.B) {
	a := newBenchApp(b)
	ctx := context.Background()
	in := domain.CreateRequestInput{
		Description:     "bench request",
		AcceptedFormats: []string{"pdf"},
		Reward:          domain.NewAmount(1),
		ExpirationDate:  time.Now().Add(time.Hour),
	}
	sub := domain.SubmissionInput{FileName: "bench.pdf", Format: "pdf", Description: "bench", ContentAddress: "sha256:00"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req, err := a.Ledger.CreateRequest(ctx, benchAuthor, in)
		if err != nil {
			b.Fatalf("CreateRequest: %v", err)
		}
		if _, err := a.Ledger.SendFile(ctx, domain.Address(fmt.Sprintf("bench-solver-%d", i%benchSolvers)), req.ID, sub); err != nil {
			b.Fatalf("SendFile: %v", err)
		}
	}
}
