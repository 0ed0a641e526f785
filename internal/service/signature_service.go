package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/formation-api/internal/models"
	"github.com/noah-isme/formation-api/pkg/database"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/inflight"
)

const maxSignatureBytes = 2 << 20

type signatureRepository interface {
	FindSheetByID(ctx context.Context, id string) (*models.AttendanceSheetDetail, error)
	FindSheetByToken(ctx context.Context, token string) (*models.AttendanceSheetDetail, error)
	InsertSignature(ctx context.Context, sig *models.AttendanceSignature) error
	Roster(ctx context.Context, sheetID string) ([]models.RosterEntry, error)
}

type objectStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error)
	Remove(ctx context.Context, key string) error
}

// SignRequest records one participant's signature on a sheet.
type SignRequest struct {
	SheetID         string                 `json:"-"`
	ParticipantID   string                 `json:"participant_id" validate:"required"`
	ParticipantType models.ParticipantType `json:"participant_type" validate:"required"`
	SignatureData   string                 `json:"signature_data" validate:"required"`
}

// SignatureService stores signature images and records them against the roster.
type SignatureService struct {
	repo      signatureRepository
	store     objectStore
	inflight  inflight.Set
	audit     auditRecorder
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	prefix    string
	now       func() time.Time
}

// NewSignatureService constructs the service. prefix is the object key root.
func NewSignatureService(repo signatureRepository, store objectStore, set inflight.Set, audit auditRecorder, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, prefix string) *SignatureService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if set == nil {
		set = inflight.NewMemory(30 * time.Second)
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "signatures"
	}
	return &SignatureService{
		repo:      repo,
		store:     store,
		inflight:  set,
		audit:     audit,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		prefix:    prefix,
		now:       time.Now,
	}
}

// SignByToken resolves the public token to its sheet, then signs.
func (s *SignatureService) SignByToken(ctx context.Context, token string, req SignRequest) (*models.Roster, error) {
	sheet, err := s.repo.FindSheetByToken(ctx, strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrTokenInvalid
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance sheet")
	}
	req.SheetID = sheet.ID
	return s.sign(ctx, sheet, req)
}

// Sign stores the signature image, records the signature and returns the
// reloaded roster.
func (s *SignatureService) Sign(ctx context.Context, req SignRequest) (*models.Roster, error) {
	sheet, err := s.repo.FindSheetByID(ctx, req.SheetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance sheet not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance sheet")
	}
	return s.sign(ctx, sheet, req)
}

func (s *SignatureService) sign(ctx context.Context, sheet *models.AttendanceSheetDetail, req SignRequest) (*models.Roster, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid signature payload")
	}
	if !req.ParticipantType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "participant_type must be student or instructor")
	}
	image, err := decodeSignature(req.SignatureData)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	if sheet.Status == models.SheetStatusValidated {
		return nil, appErrors.ErrSheetValidated
	}
	if !s.now().Before(sheet.ExpiresAt) {
		return nil, appErrors.ErrTokenInvalid
	}

	release, err := s.inflight.Acquire(ctx, inflight.Key(sheet.ID, req.ParticipantID))
	if err != nil {
		if errors.Is(err, inflight.ErrInFlight) {
			s.metrics.RecordSignature("in_flight")
			return nil, appErrors.ErrSignInProgress
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock signature")
	}
	defer release()

	entries, err := s.repo.Roster(ctx, sheet.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	participant, ok := models.NewRoster(sheet.ID, sheet.Status, entries).Find(req.ParticipantID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "participant is not on this sheet's roster")
	}
	if participant.UserType != req.ParticipantType {
		return nil, appErrors.Clone(appErrors.ErrValidation, "participant_type does not match the roster")
	}
	if participant.HasSignature {
		s.metrics.RecordSignature("duplicate")
		return nil, appErrors.ErrAlreadySigned
	}

	// Each attempt writes its own object so a concurrent loser cannot
	// overwrite the image referenced by the recorded signature.
	sigID := uuid.NewString()
	key := fmt.Sprintf("%s/%s/%s/%s.%s", s.prefix, sheet.ID, req.ParticipantID, sigID, image.ext)
	url, err := s.store.Put(ctx, key, image.contentType, bytes.NewReader(image.data), int64(len(image.data)))
	if err != nil {
		s.metrics.RecordSignature("failed")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store signature image")
	}

	sig := &models.AttendanceSignature{
		ID:           sigID,
		SheetID:      sheet.ID,
		UserID:       req.ParticipantID,
		UserType:     req.ParticipantType,
		Present:      true,
		SignatureURL: url,
		SignedAt:     s.now().UTC(),
	}
	if err := s.repo.InsertSignature(ctx, sig); err != nil {
		if rmErr := s.store.Remove(ctx, key); rmErr != nil {
			s.logger.Warn("failed to remove orphaned signature image", zap.String("key", key), zap.Error(rmErr))
		}
		if database.IsUniqueViolation(err) {
			s.metrics.RecordSignature("duplicate")
			return nil, appErrors.ErrAlreadySigned
		}
		s.metrics.RecordSignature("failed")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record signature")
	}
	s.metrics.RecordSignature("recorded")
	s.recordAudit(ctx, sig)

	entries, err = s.repo.Roster(ctx, sheet.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload roster")
	}
	roster := models.NewRoster(sheet.ID, sheet.Status, entries)
	return &roster, nil
}

func (s *SignatureService) recordAudit(ctx context.Context, sig *models.AttendanceSignature) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{"user_id": sig.UserID, "user_type": sig.UserType})
	userID := sig.UserID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionSignature,
		Resource:   "attendance_sheet",
		ResourceID: &sig.SheetID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record signature audit log", zap.Error(err))
	}
}

type signatureImage struct {
	data        []byte
	contentType string
	ext         string
}

// decodeSignature accepts a data URL or bare base64 and only lets PNG and
// JPEG through, judged by content rather than the declared media type.
func decodeSignature(raw string) (signatureImage, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		comma := strings.IndexByte(raw, ',')
		if comma < 0 || !strings.HasSuffix(raw[:comma], ";base64") {
			return signatureImage{}, errors.New("signature must be a base64 data URL")
		}
		raw = raw[comma+1:]
	}
	if base64.StdEncoding.DecodedLen(len(raw)) > maxSignatureBytes {
		return signatureImage{}, errors.New("signature image is too large")
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(raw)
		if err != nil {
			return signatureImage{}, errors.New("signature is not valid base64")
		}
	}
	if len(data) == 0 {
		return signatureImage{}, errors.New("signature image is empty")
	}

	switch ct := http.DetectContentType(data); ct {
	case "image/png":
		return signatureImage{data: data, contentType: ct, ext: "png"}, nil
	case "image/jpeg":
		return signatureImage{data: data, contentType: ct, ext: "jpg"}, nil
	default:
		return signatureImage{}, fmt.Errorf("unsupported signature image type %s", ct)
	}
}
