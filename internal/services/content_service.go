package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/falconandrea/FileSolvers/internal/providers"
)

const contentScheme = "sha256:"

var (
	ErrContentTooLarge       = errors.New("content exceeds upload limit")
	ErrInvalidContentAddress = errors.New("invalid content address")
)

type ContentRef struct {
	ContentAddress string `json:"contentAddress"`
	Size           int64  `json:"size"`
}

// ContentService stores submission bytes by digest. The ledger only keeps
// the returned address.
type ContentService interface {
	Upload(ctx context.Context, r io.Reader) (ContentRef, error)
	Open(ctx context.Context, address string) (io.ReadCloser, error)
}

type contentService struct {
	store    providers.ContentStore
	maxBytes int64
	logger   *slog.Logger
}

func NewContentService(store providers.ContentStore, maxBytes int64, logger *slog.Logger) ContentService {
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	return &contentService{store: store, maxBytes: maxBytes, logger: logger}
}

func (s *contentService) Upload(ctx context.Context, r io.Reader) (ContentRef, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return ContentRef{}, fmt.Errorf("read upload: %w", err)
	}
	if n > s.maxBytes {
		return ContentRef{}, ErrContentTooLarge
	}
	sum := sha256.Sum256(buf.Bytes())
	digest := hex.EncodeToString(sum[:])
	if _, err := s.store.UploadBytes(ctx, objectPath(digest), buf.Bytes()); err != nil {
		return ContentRef{}, fmt.Errorf("store content: %w", err)
	}
	s.logger.Debug("content stored", "digest", digest, "size", n)
	return ContentRef{ContentAddress: contentScheme + digest, Size: n}, nil
}

func (s *contentService) Open(ctx context.Context, address string) (io.ReadCloser, error) {
	digest, ok := ParseContentAddress(address)
	if !ok {
		return nil, ErrInvalidContentAddress
	}
	return s.store.Open(ctx, objectPath(digest))
}

// ParseContentAddress extracts the hex digest from "sha256:<hex>".
func ParseContentAddress(address string) (string, bool) {
	digest, ok := strings.CutPrefix(strings.TrimSpace(address), contentScheme)
	if !ok || len(digest) != sha256.Size*2 {
		return "", false
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", false
	}
	return strings.ToLower(digest), true
}

func objectPath(digest string) string {
	return "sha256/" + digest[:2] + "/" + digest
}
