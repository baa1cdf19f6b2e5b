package providers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalContentStoreUploadBytes(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalContentStore(tmpDir)
	ctx := context.Background()

	url, err := store.UploadBytes(ctx, "sha256/ab/abcdef", []byte("test content"))
	if err != nil {
		t.Fatalf("UploadBytes failed: %v", err)
	}
	if url == "" {
		t.Fatal("Expected non-empty URL")
	}

	content, err := os.ReadFile(filepath.Join(tmpDir, "sha256", "ab", "abcdef"))
	if err != nil {
		t.Fatalf("Failed to read uploaded file: %v", err)
	}
	if string(content) != "test content" {
		t.Errorf("Expected content 'test content', got %s", string(content))
	}

	rc, err := store.Open(ctx, "sha256/ab/abcdef")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "test content" {
		t.Errorf("Open returned %q", string(b))
	}
}

func TestLocalContentStoreKeepsExisting(t *testing.T) {
	store := NewLocalContentStore(t.TempDir())
	ctx := context.Background()

	if _, err := store.UploadBytes(ctx, "x/obj", []byte("first")); err != nil {
		t.Fatalf("UploadBytes failed: %v", err)
	}
	if _, err := store.UploadBytes(ctx, "x/obj", []byte("second")); err != nil {
		t.Fatalf("UploadBytes failed: %v", err)
	}
	rc, err := store.Open(ctx, "x/obj")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "first" {
		t.Errorf("expected original content, got %q", string(b))
	}
}

func TestLocalContentStoreRejectsTraversal(t *testing.T) {
	store := NewLocalContentStore(t.TempDir())
	if _, err := store.UploadBytes(context.Background(), "../escape", []byte("x")); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
	if _, err := store.Open(context.Background(), "missing/obj"); !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("expected ErrContentNotFound, got %v", err)
	}
}

func TestNewRedisProvider(t *testing.T) {
	client := NewRedisProvider("localhost:6379", "password")
	if client == nil {
		t.Fatal("Expected redis client to be non-nil")
	}
	defer client.Close()
}

func TestNewNATSProviderUnreachable(t *testing.T) {
	if _, err := NewNATSProvider("nats://127.0.0.1:1", "filesolvers-test", slog.Default()); err == nil {
		t.Fatal("expected connection error")
	}
}
