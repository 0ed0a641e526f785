package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/storage"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes stored exports.
type ExportConfig struct {
	APIPrefix string
	Retention time.Duration
}

// StoredExport describes a rendered file and its signed download link.
type StoredExport struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	URL         string    `json:"url"`
	ExpiresAt   time.Time `json:"expires_at"`
	Size        int       `json:"size"`
}

// ExportDownload is an opened export ready to stream.
type ExportDownload struct {
	File        *os.File
	Filename    string
	ContentType string
}

// ExportService keeps rendered files on disk behind HMAC-signed download tokens.
type ExportService struct {
	storage fileStorage
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	cfg.APIPrefix = strings.TrimRight(cfg.APIPrefix, "/")
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	return &ExportService{storage: files, signer: signer, logger: logger, cfg: cfg}
}

// Store saves payload and signs a download token for it.
func (s *ExportService) Store(filename, contentType string, payload []byte) (*StoredExport, error) {
	id := uuid.NewString()
	relPath, err := s.storage.Save(filepath.ToSlash(filepath.Join(id, sanitizeFilename(filename))), payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Generate(id, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export link")
	}
	return &StoredExport{
		ID:          id,
		Filename:    sanitizeFilename(filename),
		ContentType: contentType,
		URL:         fmt.Sprintf("%s/exports/%s", s.cfg.APIPrefix, token),
		ExpiresAt:   expiresAt,
		Size:        len(payload),
	}, nil
}

// Open validates a download token and opens the referenced file.
func (s *ExportService) Open(token string) (*ExportDownload, error) {
	obj, err := s.signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrTokenInvalid, "download link has expired")
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	file, err := s.storage.Open(obj.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export no longer available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export")
	}
	name := filepath.Base(obj.Path)
	return &ExportDownload{File: file, Filename: name, ContentType: contentTypeFor(name)}, nil
}

// Cleanup removes exports older than the retention window.
func (s *ExportService) Cleanup(ctx context.Context) error {
	removed, err := s.storage.CleanupOlderThan(s.cfg.Retention)
	if err != nil {
		return err
	}
	if len(removed) > 0 {
		s.logger.Info("expired exports removed", zap.Int("count", len(removed)))
	}
	return ctx.Err()
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "export"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
