package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/formation-api/internal/models"
)

const slotColumns = `s.id, s.formation_id, s.module_id, s.instructor_id, s.title, s.instructor_name, s.date, s.start_time, s.end_time, s.room, s.color, s.notes, s.session_type, s.created_at, s.updated_at`

const insertSlotQuery = `INSERT INTO schedule_slots (id, formation_id, module_id, instructor_id, title, instructor_name, date, start_time, end_time, room, color, notes, session_type, created_at, updated_at) VALUES (:id, :formation_id, :module_id, :instructor_id, :title, :instructor_name, :date, :start_time, :end_time, :room, :color, :notes, :session_type, :created_at, :updated_at)`

// ScheduleSlotRepository provides persistence for schedule slots.
type ScheduleSlotRepository struct {
	db *sqlx.DB
}

// NewScheduleSlotRepository creates a new slot repository.
func NewScheduleSlotRepository(db *sqlx.DB) *ScheduleSlotRepository {
	return &ScheduleSlotRepository{db: db}
}

func slotConditions(filter models.ScheduleSlotFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.FormationID != "" {
		conditions = append(conditions, fmt.Sprintf("s.formation_id = $%d", len(args)+1))
		args = append(args, filter.FormationID)
	}
	if filter.InstructorID != "" {
		conditions = append(conditions, fmt.Sprintf("s.instructor_id = $%d", len(args)+1))
		args = append(args, filter.InstructorID)
	}
	if filter.Room != "" {
		conditions = append(conditions, fmt.Sprintf("s.room = $%d", len(args)+1))
		args = append(args, filter.Room)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("s.date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("s.date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}

	base := "FROM schedule_slots s LEFT JOIN formations f ON f.id = s.formation_id WHERE 1=1"
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}
	return base, args
}

// List returns slots with optional filtering and pagination.
func (r *ScheduleSlotRepository) List(ctx context.Context, filter models.ScheduleSlotFilter) ([]models.ScheduleSlotDetail, int, error) {
	base, args := slotConditions(filter)

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"date":       "s.date",
		"start_time": "s.start_time",
		"room":       "s.room",
		"title":      "s.title",
		"created_at": "s.created_at",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "s.date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s, COALESCE(f.title, '') AS formation_title %s ORDER BY %s %s, s.start_time ASC LIMIT %d OFFSET %d", slotColumns, base, column, order, size, offset)
	var slots []models.ScheduleSlotDetail
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list schedule slots: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) %s", base), args...); err != nil {
		return nil, 0, fmt.Errorf("count schedule slots: %w", err)
	}

	return slots, total, nil
}

// ListAll returns every slot matching filter ordered by date and start time.
// Pagination fields are ignored.
func (r *ScheduleSlotRepository) ListAll(ctx context.Context, filter models.ScheduleSlotFilter) ([]models.ScheduleSlotDetail, error) {
	base, args := slotConditions(filter)
	query := fmt.Sprintf("SELECT %s, COALESCE(f.title, '') AS formation_title %s ORDER BY s.date ASC, s.start_time ASC", slotColumns, base)
	var slots []models.ScheduleSlotDetail
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("list all schedule slots: %w", err)
	}
	return slots, nil
}

// FindByID loads a slot by id.
func (r *ScheduleSlotRepository) FindByID(ctx context.Context, id string) (*models.ScheduleSlotDetail, error) {
	if !validID(id) {
		return nil, sql.ErrNoRows
	}
	query := fmt.Sprintf("SELECT %s, COALESCE(f.title, '') AS formation_title FROM schedule_slots s LEFT JOIN formations f ON f.id = s.formation_id WHERE s.id = $1", slotColumns)
	var slot models.ScheduleSlotDetail
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}

// FindOverlapping returns slots on date whose time range intersects
// [start, end) and that share the instructor or the room. excludeID skips the
// slot being edited.
func (r *ScheduleSlotRepository) FindOverlapping(ctx context.Context, date time.Time, start, end string, instructorID *string, room, excludeID string) ([]models.ScheduleSlot, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedule_slots s WHERE s.date = $1 AND s.start_time < $3 AND s.end_time > $2 AND (s.instructor_id = $4 OR ($5 <> '' AND s.room = $5)) AND s.id <> $6`, slotColumns)
	var slots []models.ScheduleSlot
	if err := r.db.SelectContext(ctx, &slots, query, date, start, end, instructorID, room, excludeID); err != nil {
		return nil, fmt.Errorf("find overlapping slots: %w", err)
	}
	return slots, nil
}

func prepareSlot(slot *models.ScheduleSlot, now time.Time) {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = now
	}
	slot.UpdatedAt = now
}

// Create stores a new slot.
func (r *ScheduleSlotRepository) Create(ctx context.Context, slot *models.ScheduleSlot) error {
	prepareSlot(slot, time.Now().UTC())
	if _, err := r.db.NamedExecContext(ctx, insertSlotQuery, slot); err != nil {
		return fmt.Errorf("create schedule slot: %w", err)
	}
	return nil
}

// BulkCreate inserts many slots within one transaction: either every slot is
// stored or none is.
func (r *ScheduleSlotRepository) BulkCreate(ctx context.Context, slots []models.ScheduleSlot) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk create slots: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for i := range slots {
		prepareSlot(&slots[i], now)
		if _, err = sqlx.NamedExecContext(ctx, tx, insertSlotQuery, &slots[i]); err != nil {
			return fmt.Errorf("bulk insert slot %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk create slots: %w", err)
	}
	return nil
}

// Update modifies a slot.
func (r *ScheduleSlotRepository) Update(ctx context.Context, slot *models.ScheduleSlot) error {
	slot.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schedule_slots SET formation_id = :formation_id, module_id = :module_id, instructor_id = :instructor_id, title = :title, instructor_name = :instructor_name, date = :date, start_time = :start_time, end_time = :end_time, room = :room, color = :color, notes = :notes, session_type = :session_type, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, slot); err != nil {
		return fmt.Errorf("update schedule slot: %w", err)
	}
	return nil
}

// Delete removes a slot by id.
func (r *ScheduleSlotRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM schedule_slots WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete schedule slot: %w", err)
	}
	return nil
}
