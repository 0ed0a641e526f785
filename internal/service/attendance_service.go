package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/formation-api/internal/models"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/scancode"
)

type attendanceRepository interface {
	CreateSheet(ctx context.Context, sheet *models.AttendanceSheet) error
	FindSheetByID(ctx context.Context, id string) (*models.AttendanceSheetDetail, error)
	FindSheetByToken(ctx context.Context, token string) (*models.AttendanceSheetDetail, error)
	ListSheets(ctx context.Context, filter models.AttendanceSheetFilter) ([]models.AttendanceSheetDetail, int, error)
	MarkValidated(ctx context.Context, id, validatedBy string, at time.Time) (bool, error)
	Roster(ctx context.Context, sheetID string) ([]models.RosterEntry, error)
}

type sheetSlotLookup interface {
	FindByID(ctx context.Context, id string) (*models.ScheduleSlotDetail, error)
}

type recipientDirectory interface {
	ListRecipients(ctx context.Context, ids []string) ([]models.Recipient, error)
}

type attendanceLinkSender interface {
	SendAttendanceLink(ctx context.Context, to models.Recipient, link AttendanceLink) EmailResult
}

// CreateSheetRequest opens a sheet either from a schedule slot or from explicit fields.
type CreateSheetRequest struct {
	SlotID      *string            `json:"slot_id"`
	FormationID string             `json:"formation_id" validate:"required_without=SlotID"`
	ModuleID    *string            `json:"module_id"`
	Title       string             `json:"title" validate:"required_without=SlotID,max=255"`
	Date        string             `json:"date" validate:"required_without=SlotID"`
	StartTime   string             `json:"start_time" validate:"required_without=SlotID"`
	EndTime     string             `json:"end_time" validate:"required_without=SlotID"`
	SessionType models.SessionType `json:"session_type"`
}

// SendLinkRequest selects who receives a signature link; empty means the
// whole roster.
type SendLinkRequest struct {
	UserIDs []string `json:"user_ids"`
}

// SendLinkResult counts queued emails.
type SendLinkResult struct {
	Queued  int      `json:"queued"`
	Skipped []string `json:"skipped,omitempty"`
}

// CreatedSheet is returned to staff on creation and carries the secrets
// needed to share the sheet.
type CreatedSheet struct {
	Sheet        models.AttendanceSheet `json:"sheet"`
	Token        string                 `json:"token"`
	AccessCode   string                 `json:"access_code"`
	SignatureURL string                 `json:"signature_url"`
	QRPayload    string                 `json:"qr_payload"`
}

// SignaturePage is what GET /signature/:token renders.
type SignaturePage struct {
	Validation models.TokenValidation   `json:"validation"`
	View       models.SignaturePageView `json:"view"`
	Roster     *models.Roster           `json:"roster,omitempty"`
}

// ManualCodeResult echoes the normalised code.
type ManualCodeResult struct {
	Code     string `json:"code"`
	Complete bool   `json:"complete"`
}

// AttendanceConfig tunes sheet links.
type AttendanceConfig struct {
	TokenTTL      time.Duration
	PublicBaseURL string
}

// AttendanceService manages attendance sheets and their public links.
type AttendanceService struct {
	repo       attendanceRepository
	slots      sheetSlotLookup
	recipients recipientDirectory
	mail       attendanceLinkSender
	audit      auditRecorder
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        AttendanceConfig
	now        func() time.Time
}

// NewAttendanceService constructs the service. mail and audit may be nil.
func NewAttendanceService(repo attendanceRepository, slots sheetSlotLookup, recipients recipientDirectory, mail attendanceLinkSender, audit auditRecorder, validate *validator.Validate, logger *zap.Logger, cfg AttendanceConfig) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 4 * time.Hour
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &AttendanceService{
		repo:       repo,
		slots:      slots,
		recipients: recipients,
		mail:       mail,
		audit:      audit,
		validator:  validate,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// ValidateToken reports whether a signature link may be used. Unknown and
// expired tokens are not errors: they yield IsValid=false.
func (s *AttendanceService) ValidateToken(ctx context.Context, token string) (*models.TokenValidation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return &models.TokenValidation{}, nil
	}
	sheet, err := s.repo.FindSheetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.TokenValidation{}, nil
		}
		s.logger.Error("token validation failed", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate token")
	}
	validation := s.tokenValidation(sheet)
	return &validation, nil
}

// tokenValidation is valid only while now < expires_at.
func (s *AttendanceService) tokenValidation(sheet *models.AttendanceSheetDetail) models.TokenValidation {
	expiresAt := sheet.ExpiresAt
	if !s.now().Before(expiresAt) {
		return models.TokenValidation{IsValid: false, ExpiresAt: &expiresAt}
	}
	date := sheet.Date
	return models.TokenValidation{
		IsValid:        true,
		ExpiresAt:      &expiresAt,
		SheetID:        sheet.ID,
		Token:          sheet.Token,
		FormationTitle: sheet.FormationTitle,
		ModuleTitle:    sheet.Title,
		Date:           &date,
		StartTime:      sheet.StartTime,
		EndTime:        sheet.EndTime,
		SessionType:    sheet.SessionType,
		Status:         sheet.Status,
	}
}

// PageView picks what the signature page shows.
func PageView(validation *models.TokenValidation, selectedParticipant string) models.SignaturePageView {
	switch {
	case validation == nil || !validation.IsValid:
		return models.PageViewInvalid
	case strings.TrimSpace(selectedParticipant) != "":
		return models.PageViewSigning
	default:
		return models.PageViewOverview
	}
}

// SignaturePage validates the token and, when valid, loads the roster.
func (s *AttendanceService) SignaturePage(ctx context.Context, token, selectedParticipant string) (*SignaturePage, error) {
	validation, err := s.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	page := &SignaturePage{Validation: *validation, View: PageView(validation, selectedParticipant)}
	if page.View == models.PageViewInvalid {
		return page, nil
	}
	roster, err := s.loadRoster(ctx, validation.SheetID, validation.Status)
	if err != nil {
		return nil, err
	}
	page.Roster = roster
	return page, nil
}

// CreateSheet opens a new sheet with a fresh token and access code.
func (s *AttendanceService) CreateSheet(ctx context.Context, auth models.AuthContext, req CreateSheetRequest) (*CreatedSheet, error) {
	if !auth.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can open attendance sheets")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance sheet payload")
	}

	sheet, err := s.sheetFromRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	token, err := randomToken(32)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate token")
	}
	code, err := accessCode()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate access code")
	}
	now := s.now().UTC()
	sheet.Status = models.SheetStatusPending
	sheet.Token = token
	sheet.AccessCode = code
	sheet.ExpiresAt = now.Add(s.cfg.TokenTTL)
	sheet.CreatedBy = auth.UserID

	if err := s.repo.CreateSheet(ctx, &sheet); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create attendance sheet")
	}
	s.recordAudit(ctx, auth, models.AuditActionSheetCreate, sheet.ID, map[string]interface{}{"title": sheet.Title, "expires_at": sheet.ExpiresAt})

	return &CreatedSheet{
		Sheet:        sheet,
		Token:        token,
		AccessCode:   code,
		SignatureURL: s.SignatureURL(token),
		QRPayload:    s.QRPayload(sheet.ID, code),
	}, nil
}

func (s *AttendanceService) sheetFromRequest(ctx context.Context, req CreateSheetRequest) (models.AttendanceSheet, error) {
	sessionType := req.SessionType
	if sessionType == "" {
		sessionType = models.SessionTypeNormal
	}
	if !sessionType.Valid() {
		return models.AttendanceSheet{}, appErrors.Clone(appErrors.ErrValidation, "session_type must be normal or autonomie")
	}

	if slotID := emptyToNil(req.SlotID); slotID != nil {
		slot, err := s.slots.FindByID(ctx, *slotID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.AttendanceSheet{}, appErrors.Clone(appErrors.ErrNotFound, "schedule slot not found")
			}
			return models.AttendanceSheet{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule slot")
		}
		return models.AttendanceSheet{
			FormationID: slot.FormationID,
			ModuleID:    slot.ModuleID,
			SlotID:      slotID,
			Title:       slot.Title,
			Date:        slot.Date,
			StartTime:   slot.StartTime,
			EndTime:     slot.EndTime,
			SessionType: slot.SessionType,
		}, nil
	}

	date, err := parseDate(req.Date)
	if err != nil {
		return models.AttendanceSheet{}, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
	}
	start, end, err := validateTimeRange(req.StartTime, req.EndTime)
	if err != nil {
		return models.AttendanceSheet{}, err
	}
	return models.AttendanceSheet{
		FormationID: req.FormationID,
		ModuleID:    emptyToNil(req.ModuleID),
		Title:       strings.TrimSpace(req.Title),
		Date:        date,
		StartTime:   start,
		EndTime:     end,
		SessionType: sessionType,
	}, nil
}

// Get returns a sheet by id.
func (s *AttendanceService) Get(ctx context.Context, id string) (*models.AttendanceSheetDetail, error) {
	sheet, err := s.repo.FindSheetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance sheet not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance sheet")
	}
	return sheet, nil
}

// List returns sheets with pagination metadata.
func (s *AttendanceService) List(ctx context.Context, filter models.AttendanceSheetFilter) ([]models.AttendanceSheetDetail, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	sheets, total, err := s.repo.ListSheets(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance sheets")
	}
	if sheets == nil {
		sheets = []models.AttendanceSheetDetail{}
	}
	return sheets, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Validate closes a pending sheet. Validation is terminal.
func (s *AttendanceService) Validate(ctx context.Context, auth models.AuthContext, id string) (*models.AttendanceSheetDetail, error) {
	if !auth.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can validate attendance sheets")
	}
	sheet, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sheet.Status == models.SheetStatusValidated {
		return nil, appErrors.ErrSheetValidated
	}

	at := s.now().UTC()
	updated, err := s.repo.MarkValidated(ctx, id, auth.UserID, at)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate attendance sheet")
	}
	if !updated {
		return nil, appErrors.ErrSheetValidated
	}

	validatedBy := auth.UserID
	sheet.Status = models.SheetStatusValidated
	sheet.ValidatedAt = &at
	sheet.ValidatedBy = &validatedBy
	s.recordAudit(ctx, auth, models.AuditActionSheetValidate, id, map[string]interface{}{"status": sheet.Status})
	return sheet, nil
}

// Roster returns the participants of a sheet with derived counts.
func (s *AttendanceService) Roster(ctx context.Context, id string) (*models.Roster, error) {
	sheet, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.loadRoster(ctx, sheet.ID, sheet.Status)
}

func (s *AttendanceService) loadRoster(ctx context.Context, sheetID string, status models.SheetStatus) (*models.Roster, error) {
	entries, err := s.repo.Roster(ctx, sheetID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	roster := models.NewRoster(sheetID, status, entries)
	return &roster, nil
}

// ResolveScan decodes a scanned QR payload, checks the access code and
// returns the sheet's token validation.
func (s *AttendanceService) ResolveScan(ctx context.Context, raw string) (*models.TokenValidation, error) {
	result, err := scancode.Resolve(raw)
	if err != nil {
		return nil, appErrors.ErrUnrecognizedCode
	}
	sheet, err := s.repo.FindSheetByID(ctx, result.SheetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance sheet not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance sheet")
	}
	if subtle.ConstantTimeCompare([]byte(result.Code), []byte(sheet.AccessCode)) != 1 {
		return nil, appErrors.ErrInvalidAccessCode
	}
	validation := s.tokenValidation(sheet)
	return &validation, nil
}

// ResolveManualCode normalises a typed access code. Looking a sheet up by
// code alone is not offered.
func (s *AttendanceService) ResolveManualCode(input string) (*ManualCodeResult, error) {
	code := scancode.NormalizeManualCode(input)
	result := &ManualCodeResult{Code: code, Complete: scancode.ManualCodeComplete(code)}
	if !result.Complete {
		return result, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("the access code has %d digits", scancode.ManualCodeLength))
	}
	if _, err := scancode.ResolveManualCode(code); err != nil {
		return result, appErrors.Wrap(err, appErrors.ErrNotImplemented.Code, appErrors.ErrNotImplemented.Status, scancode.ErrManualLookupUnavailable.Error())
	}
	return result, nil
}

// SendLink emails the signature link to the selected roster members.
func (s *AttendanceService) SendLink(ctx context.Context, auth models.AuthContext, id string, req SendLinkRequest) (*SendLinkResult, error) {
	if !auth.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can send signature links")
	}
	if s.mail == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "email delivery is not configured")
	}
	sheet, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sheet.Status == models.SheetStatusValidated {
		return nil, appErrors.ErrSheetValidated
	}
	if !s.now().Before(sheet.ExpiresAt) {
		return nil, appErrors.ErrTokenInvalid
	}

	entries, err := s.repo.Roster(ctx, sheet.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	targets := rosterTargets(entries, req.UserIDs)
	if len(targets) == 0 {
		return &SendLinkResult{}, nil
	}
	recipients, err := s.recipients.ListRecipients(ctx, targets)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recipients")
	}

	link := AttendanceLink{
		SheetTitle: sheet.Title,
		Formation:  sheet.FormationTitle,
		Date:       sheet.Date,
		StartTime:  sheet.StartTime,
		EndTime:    sheet.EndTime,
		URL:        s.SignatureURL(sheet.Token),
		ExpiresAt:  sheet.ExpiresAt,
	}
	result := &SendLinkResult{}
	for _, r := range recipients {
		if res := s.mail.SendAttendanceLink(ctx, r, link); !res.Success {
			result.Skipped = append(result.Skipped, r.ID)
			continue
		}
		result.Queued++
	}
	return result, nil
}

// rosterTargets returns the unsigned roster members, restricted to ids when given.
func rosterTargets(entries []models.RosterEntry, ids []string) []string {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.HasSignature {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[e.UserID]; !ok {
				continue
			}
		}
		out = append(out, e.UserID)
	}
	return out
}

// SignatureURL is the public page for a token.
func (s *AttendanceService) SignatureURL(token string) string {
	return s.cfg.PublicBaseURL + "/signature/" + url.PathEscape(token)
}

// QRPayload is the URL printed as a QR code on the sheet.
func (s *AttendanceService) QRPayload(sheetID, code string) string {
	return fmt.Sprintf("%s/attendance/%s?code=%s", s.cfg.PublicBaseURL, url.PathEscape(sheetID), url.QueryEscape(code))
}

func (s *AttendanceService) recordAudit(ctx context.Context, auth models.AuthContext, action, sheetID string, values map[string]interface{}) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(values)
	userID := auth.UserID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "attendance_sheet",
		ResourceID: &sheetID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record attendance audit log", zap.String("action", action), zap.Error(err))
	}
}

func accessCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
