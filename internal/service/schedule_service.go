package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/formation-api/internal/models"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
)

const scheduleCacheScope = "schedules:list"

type scheduleSlotRepository interface {
	List(ctx context.Context, filter models.ScheduleSlotFilter) ([]models.ScheduleSlotDetail, int, error)
	ListAll(ctx context.Context, filter models.ScheduleSlotFilter) ([]models.ScheduleSlotDetail, error)
	FindByID(ctx context.Context, id string) (*models.ScheduleSlotDetail, error)
	FindOverlapping(ctx context.Context, date time.Time, start, end string, instructorID *string, room, excludeID string) ([]models.ScheduleSlot, error)
	Create(ctx context.Context, slot *models.ScheduleSlot) error
	BulkCreate(ctx context.Context, slots []models.ScheduleSlot) error
	Update(ctx context.Context, slot *models.ScheduleSlot) error
	Delete(ctx context.Context, id string) error
}

type slotNotifier interface {
	NotifyFormation(ctx context.Context, formationID string, n models.Notification) error
}

// SlotRequest is the payload for creating or replacing a slot.
type SlotRequest struct {
	FormationID    string             `json:"formation_id" validate:"required"`
	ModuleID       *string            `json:"module_id"`
	InstructorID   *string            `json:"instructor_id"`
	Title          string             `json:"title" validate:"required,max=255"`
	InstructorName string             `json:"instructor_name" validate:"max=255"`
	Date           string             `json:"date" validate:"required"`
	StartTime      string             `json:"start_time" validate:"required"`
	EndTime        string             `json:"end_time" validate:"required"`
	Room           string             `json:"room" validate:"max=100"`
	Color          string             `json:"color" validate:"omitempty,hexcolor"`
	Notes          string             `json:"notes"`
	SessionType    models.SessionType `json:"session_type"`
}

// DuplicateSlotRequest copies a slot onto another date.
type DuplicateSlotRequest struct {
	Date string `json:"date" validate:"required"`
}

// MoveSlotRequest reschedules a slot; omitted fields keep their value and the
// duration is preserved.
type MoveSlotRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
}

// ScheduleService manages schedule slots.
type ScheduleService struct {
	repo      scheduleSlotRepository
	cache     *CacheService
	notifier  slotNotifier
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewScheduleService instantiates ScheduleService. cache and notifier may be nil.
func NewScheduleService(repo scheduleSlotRepository, cache *CacheService, notifier slotNotifier, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{repo: repo, cache: cache, notifier: notifier, validator: validate, logger: logger, cacheTTL: cacheTTL}
}

type cachedSlotPage struct {
	Slots []models.ScheduleSlotDetail `json:"slots"`
	Total int                         `json:"total"`
}

// List returns slots with pagination metadata. The boolean reports a cache hit.
func (s *ScheduleService) List(ctx context.Context, filter models.ScheduleSlotFilter) ([]models.ScheduleSlotDetail, *models.Pagination, bool, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}

	key := s.cache.Key(scheduleCacheScope, filter)
	var page cachedSlotPage
	hit := s.cache.Get(ctx, key, &page)
	if !hit {
		slots, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedule slots")
		}
		page = cachedSlotPage{Slots: slots, Total: total}
		s.cache.Set(ctx, key, page, s.cacheTTL)
	}
	if page.Slots == nil {
		page.Slots = []models.ScheduleSlotDetail{}
	}
	return page.Slots, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: page.Total}, hit, nil
}

// Get returns a single slot.
func (s *ScheduleService) Get(ctx context.Context, id string) (*models.ScheduleSlotDetail, error) {
	slot, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule slot")
	}
	return slot, nil
}

// Create inserts a slot after overlap detection.
func (s *ScheduleService) Create(ctx context.Context, req SlotRequest) (*models.ScheduleSlot, error) {
	slot, err := s.buildSlot(req)
	if err != nil {
		return nil, err
	}
	if err := s.ensureNoOverlap(ctx, slot, ""); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, &slot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create schedule slot")
	}
	s.afterWrite(ctx, slot, "Nouveau créneau", "a été planifié")
	return &slot, nil
}

// Update replaces an existing slot.
func (s *ScheduleService) Update(ctx context.Context, id string, req SlotRequest) (*models.ScheduleSlot, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	slot, err := s.buildSlot(req)
	if err != nil {
		return nil, err
	}
	slot.ID = existing.ID
	slot.CreatedAt = existing.CreatedAt
	if err := s.ensureNoOverlap(ctx, slot, existing.ID); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, &slot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update schedule slot")
	}
	s.afterWrite(ctx, slot, "Créneau modifié", "a été modifié")
	return &slot, nil
}

// Delete removes a slot.
func (s *ScheduleService) Delete(ctx context.Context, id string) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete schedule slot")
	}
	s.afterWrite(ctx, existing.ScheduleSlot, "Créneau annulé", "a été annulé")
	return nil
}

// Duplicate copies a slot to another date keeping its times.
func (s *ScheduleService) Duplicate(ctx context.Context, id string, req DuplicateSlotRequest) (*models.ScheduleSlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid duplicate payload")
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
	}
	source, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	copySlot := source.ScheduleSlot
	copySlot.ID = ""
	copySlot.Date = date
	copySlot.CreatedAt = time.Time{}
	copySlot.UpdatedAt = time.Time{}
	if err := s.ensureNoOverlap(ctx, copySlot, ""); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, &copySlot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to duplicate schedule slot")
	}
	s.afterWrite(ctx, copySlot, "Nouveau créneau", "a été planifié")
	return &copySlot, nil
}

// Move reschedules a slot to a new date and/or start time, preserving its duration.
func (s *ScheduleService) Move(ctx context.Context, id string, req MoveSlotRequest) (*models.ScheduleSlot, error) {
	if strings.TrimSpace(req.Date) == "" && strings.TrimSpace(req.StartTime) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date or start_time is required")
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	slot := existing.ScheduleSlot
	if req.Date != "" {
		date, err := parseDate(req.Date)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
		}
		slot.Date = date
	}
	if req.StartTime != "" {
		newStart, ok := clockMinutes(req.StartTime)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "start_time must be HH:MM")
		}
		oldStart, okStart := clockMinutes(slot.StartTime)
		oldEnd, okEnd := clockMinutes(slot.EndTime)
		if !okStart || !okEnd {
			return nil, appErrors.Clone(appErrors.ErrValidation, "stored slot times are not HH:MM")
		}
		newEnd := newStart + (oldEnd - oldStart)
		if newEnd >= 24*60 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "moved slot would end after midnight")
		}
		slot.StartTime = formatClock(newStart)
		slot.EndTime = formatClock(newEnd)
	}

	if err := s.ensureNoOverlap(ctx, slot, slot.ID); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, &slot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to move schedule slot")
	}
	s.afterWrite(ctx, slot, "Créneau déplacé", "a été déplacé")
	return &slot, nil
}

// Invalidate drops every cached slot listing.
func (s *ScheduleService) Invalidate(ctx context.Context) {
	s.cache.Invalidate(ctx, scheduleCacheScope)
}

func (s *ScheduleService) buildSlot(req SlotRequest) (models.ScheduleSlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.ScheduleSlot{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule slot payload")
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return models.ScheduleSlot{}, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
	}
	start, end, err := validateTimeRange(req.StartTime, req.EndTime)
	if err != nil {
		return models.ScheduleSlot{}, err
	}
	sessionType := req.SessionType
	if sessionType == "" {
		sessionType = models.SessionTypeNormal
	}
	if !sessionType.Valid() {
		return models.ScheduleSlot{}, appErrors.Clone(appErrors.ErrValidation, "session_type must be normal or autonomie")
	}

	return models.ScheduleSlot{
		FormationID:    req.FormationID,
		ModuleID:       emptyToNil(req.ModuleID),
		InstructorID:   emptyToNil(req.InstructorID),
		Title:          strings.TrimSpace(req.Title),
		InstructorName: strings.TrimSpace(req.InstructorName),
		Date:           date,
		StartTime:      start,
		EndTime:        end,
		Room:           strings.TrimSpace(req.Room),
		Color:          req.Color,
		Notes:          req.Notes,
		SessionType:    sessionType,
	}, nil
}

func validateTimeRange(startRaw, endRaw string) (string, string, error) {
	start, okStart := clockMinutes(startRaw)
	end, okEnd := clockMinutes(endRaw)
	if !okStart || !okEnd {
		return "", "", appErrors.Clone(appErrors.ErrValidation, "start_time and end_time must be HH:MM")
	}
	if end <= start {
		return "", "", appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}
	return formatClock(start), formatClock(end), nil
}

func (s *ScheduleService) ensureNoOverlap(ctx context.Context, slot models.ScheduleSlot, excludeID string) error {
	if slot.InstructorID == nil && slot.Room == "" {
		return nil
	}
	existing, err := s.repo.FindOverlapping(ctx, slot.Date, slot.StartTime, slot.EndTime, slot.InstructorID, slot.Room, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check schedule overlaps")
	}

	var conflicts []models.ScheduleConflict
	for _, item := range existing {
		if item.ID == excludeID {
			continue
		}
		dimension := "ROOM"
		if slot.InstructorID != nil && item.InstructorID != nil && *item.InstructorID == *slot.InstructorID {
			dimension = "INSTRUCTOR"
		} else if !strings.EqualFold(item.Room, slot.Room) {
			continue
		}
		conflict := models.ScheduleConflict{
			SlotID:      item.ID,
			FormationID: item.FormationID,
			Title:       item.Title,
			Room:        item.Room,
			Date:        item.Date,
			StartTime:   item.StartTime,
			EndTime:     item.EndTime,
			Dimension:   dimension,
		}
		if item.InstructorID != nil {
			conflict.InstructorID = *item.InstructorID
		}
		conflicts = append(conflicts, conflict)
	}
	if len(conflicts) == 0 {
		return nil
	}

	message := fmt.Sprintf("%d overlapping slot(s) share the instructor or room", len(conflicts))
	domainErr := &models.ScheduleConflictError{Type: conflicts[0].Dimension, Message: message, Conflicts: conflicts}
	return appErrors.Wrap(domainErr, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "schedule conflict: "+message)
}

func (s *ScheduleService) afterWrite(ctx context.Context, slot models.ScheduleSlot, title, verb string) {
	s.Invalidate(ctx)
	if s.notifier == nil || slot.FormationID == "" {
		return
	}
	n := models.Notification{
		Title:   title,
		Message: fmt.Sprintf("Le cours %q du %s (%s-%s) %s.", slot.Title, slot.Date.Format("02/01/2006"), slot.StartTime, slot.EndTime, verb),
		Type:    models.NotificationSchedule,
	}
	if slot.ID != "" {
		n.Metadata, _ = json.Marshal(map[string]string{"slot_id": slot.ID})
	}
	if err := s.notifier.NotifyFormation(ctx, slot.FormationID, n); err != nil {
		s.logger.Warn("failed to notify formation about slot change", zap.String("slot_id", slot.ID), zap.Error(err))
	}
}

func emptyToNil(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	return &trimmed
}
