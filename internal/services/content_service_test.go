package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/falconandrea/FileSolvers/internal/providers"
)

func TestContentServiceRoundTrip(t *testing.T) {
	svc := NewContentService(providers.NewLocalContentStore(t.TempDir()), 1024, slog.Default())
	ctx := context.Background()

	ref, err := svc.Upload(ctx, strings.NewReader("%PDF-1.7 hello"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	sum := sha256.Sum256([]byte("%PDF-1.7 hello"))
	if want := "sha256:" + hex.EncodeToString(sum[:]); ref.ContentAddress != want {
		t.Fatalf("address = %s, want %s", ref.ContentAddress, want)
	}
	if ref.Size != 14 {
		t.Fatalf("size = %d", ref.Size)
	}

	again, err := svc.Upload(ctx, strings.NewReader("%PDF-1.7 hello"))
	if err != nil || again.ContentAddress != ref.ContentAddress {
		t.Fatalf("identical upload should map to the same address: %v %v", again, err)
	}

	rc, err := svc.Open(ctx, ref.ContentAddress)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "%PDF-1.7 hello" {
		t.Fatalf("Open returned %q", string(b))
	}
}

func TestContentServiceLimit(t *testing.T) {
	svc := NewContentService(providers.NewLocalContentStore(t.TempDir()), 4, slog.Default())
	if _, err := svc.Upload(context.Background(), strings.NewReader("12345")); !errors.Is(err, ErrContentTooLarge) {
		t.Fatalf("expected ErrContentTooLarge, got %v", err)
	}
	if _, err := svc.Upload(context.Background(), strings.NewReader("1234")); err != nil {
		t.Fatalf("upload at the limit failed: %v", err)
	}
}

func TestParseContentAddress(t *testing.T) {
	valid := "sha256:" + strings.Repeat("ab", 32)
	tests := []struct {
		in string
		ok bool
	}{
		{valid, true},
		{"  " + valid + " ", true},
		{"md5:" + strings.Repeat("ab", 16), false},
		{"sha256:xyz", false},
		{"sha256:" + strings.Repeat("zz", 32), false},
		{"", false},
	}
	for _, tt := range tests {
		if _, ok := ParseContentAddress(tt.in); ok != tt.ok {
			t.Errorf("ParseContentAddress(%q) ok = %v, want %v", tt.in, ok, tt.ok)
		}
	}

	svc := NewContentService(providers.NewLocalContentStore(t.TempDir()), 0, slog.Default())
	if _, err := svc.Open(context.Background(), "nope"); !errors.Is(err, ErrInvalidContentAddress) {
		t.Fatalf("expected ErrInvalidContentAddress, got %v", err)
	}
	if _, err := svc.Open(context.Background(), valid); !errors.Is(err, providers.ErrContentNotFound) {
		t.Fatalf("expected ErrContentNotFound, got %v", err)
	}
}
