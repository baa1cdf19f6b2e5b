package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitList(t *testing.T) {
	got := splitList(" pdf, ,docx,")
	if len(got) != 2 || got[0] != "pdf" || got[1] != "docx" {
		t.Fatalf("unexpected split %v", got)
	}
}

func TestMaskToken(t *testing.T) {
	for in, want := range map[string]string{"": "<unset>", "short": "****", "dev-alice-token": "dev-...oken"} {
		if got := maskToken(in); got != want {
			t.Errorf("maskToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAPIErrorUsesKind(t *testing.T) {
	err := apiError(http.StatusConflict, []byte(`{"error":"RequestNotClosed","message":"request 3 is still active"}`))
	if err.Error() != "RequestNotClosed (409): request 3 is still active" {
		t.Fatalf("unexpected error %q", err)
	}
	err = apiError(http.StatusBadGateway, []byte("upstream down\n"))
	if err.Error() != "error (502): upstream down" {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	t.Setenv("FILESOLVERS_CONFIG_DIR", t.TempDir())
	cfg, path, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	cfg.CurrentProfile = "work"
	cfg.Profiles["work"] = profile{BaseURL: "http://ledger:8080", Token: "tok"}
	if err := saveConfig(cfg, path); err != nil {
		t.Fatalf("saveConfig: %v", err)
	}
	again, _, err := loadConfig()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if resolveProfileName("", again) != "work" || again.Profiles["work"].Token != "tok" {
		t.Fatalf("unexpected config %+v", again)
	}
}

func TestUploadFileSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiPrefix+"/content" || r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(f)
		if string(b) != "%PDF-1.4" {
			http.Error(w, "wrong body", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"contentAddress":"sha256:abc","size":8}`)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "scan.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	addr, err := uploadFile(newClient(srv.URL+"/", "tok"), path)
	if err != nil {
		t.Fatalf("uploadFile: %v", err)
	}
	if !strings.HasPrefix(addr, "sha256:") {
		t.Fatalf("unexpected address %q", addr)
	}
}
