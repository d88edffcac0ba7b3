package services

import (
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"estados/internal/storage"
	estados_errors "estados/pkg/errors"
	"estados/pkg/logger"
)

// MaxImageBytes bounds a single estado image upload.
const MaxImageBytes = 10 << 20

// ObjectStore is the slice of the S3 client the upload service needs.
type ObjectStore interface {
	PresignPut(ctx context.Context, key, contentType string, sizeBytes int64) (string, map[string]string, error)
	FileURL(key string) string
}

type PresignedImage struct {
	UploadURL string            `json:"upload_url"`
	Headers   map[string]string `json:"headers"`
	Key       string            `json:"key"`
	PublicURL string            `json:"public_url,omitempty"`
}

type UploadService struct {
	store  ObjectStore
	logger *logger.Logger
}

// NewUploadService accepts a nil store; every presign then fails with ErrUnavailable.
func NewUploadService(store ObjectStore, log *logger.Logger) *UploadService {
	if log == nil {
		log = logger.Nop()
	}
	return &UploadService{store: store, logger: log.Named("uploads")}
}

// PresignImage returns a presigned PUT for one estado image under
// estados/<author>/<uuid><ext>.
func (s *UploadService) PresignImage(ctx context.Context, authorID uuid.UUID, contentType string, sizeBytes int64) (PresignedImage, error) {
	if authorID == uuid.Nil {
		return PresignedImage{}, estados_errors.ErrUnauthorized
	}
	if s.store == nil {
		return PresignedImage{}, estados_errors.ErrUnavailable
	}
	ext, err := storage.ImageExtension(contentType)
	if err != nil {
		return PresignedImage{}, fmt.Errorf("%w: %v", estados_errors.ErrInvalidInput, err)
	}
	if sizeBytes <= 0 || sizeBytes > MaxImageBytes {
		return PresignedImage{}, fmt.Errorf("%w: image size must be between 1 and %d bytes", estados_errors.ErrInvalidInput, MaxImageBytes)
	}

	key := path.Join("estados", authorID.String(), uuid.NewString()+ext)
	uploadURL, headers, err := s.store.PresignPut(ctx, key, contentType, sizeBytes)
	if err != nil {
		s.logger.WithContext(ctx).Error("presign image upload", zap.String("key", key), zap.Error(err))
		return PresignedImage{}, fmt.Errorf("presign upload: %w", err)
	}
	return PresignedImage{
		UploadURL: uploadURL,
		Headers:   headers,
		Key:       key,
		PublicURL: s.store.FileURL(key),
	}, nil
}
