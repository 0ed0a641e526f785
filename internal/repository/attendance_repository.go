package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/formation-api/internal/models"
)

const sheetColumns = `sh.id, sh.formation_id, sh.module_id, sh.slot_id, sh.title, sh.date, sh.start_time, sh.end_time, sh.session_type, sh.status, sh.token, sh.access_code, sh.expires_at, sh.validated_at, sh.validated_by, sh.created_by, sh.created_at, sh.updated_at`

const sheetFrom = `FROM attendance_sheets sh LEFT JOIN formations f ON f.id = sh.formation_id`

// AttendanceRepository persists attendance sheets and their signatures.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository creates an attendance repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// CreateSheet stores a new sheet.
func (r *AttendanceRepository) CreateSheet(ctx context.Context, sheet *models.AttendanceSheet) error {
	if sheet.ID == "" {
		sheet.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sheet.CreatedAt.IsZero() {
		sheet.CreatedAt = now
	}
	sheet.UpdatedAt = now

	const query = `INSERT INTO attendance_sheets (id, formation_id, module_id, slot_id, title, date, start_time, end_time, session_type, status, token, access_code, expires_at, created_by, created_at, updated_at) VALUES (:id, :formation_id, :module_id, :slot_id, :title, :date, :start_time, :end_time, :session_type, :status, :token, :access_code, :expires_at, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, sheet); err != nil {
		return fmt.Errorf("create attendance sheet: %w", err)
	}
	return nil
}

// validID reports whether id can be bound to a UUID column. Postgres rejects
// anything else with invalid_text_representation rather than returning no rows.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *AttendanceRepository) findSheet(ctx context.Context, column, value string) (*models.AttendanceSheetDetail, error) {
	query := fmt.Sprintf("SELECT %s, COALESCE(f.title, '') AS formation_title %s WHERE sh.%s = $1", sheetColumns, sheetFrom, column)
	var sheet models.AttendanceSheetDetail
	if err := r.db.GetContext(ctx, &sheet, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find attendance sheet by %s: %w", column, err)
	}
	return &sheet, nil
}

// FindSheetByID loads a sheet by id. A malformed id yields sql.ErrNoRows.
func (r *AttendanceRepository) FindSheetByID(ctx context.Context, id string) (*models.AttendanceSheetDetail, error) {
	if !validID(id) {
		return nil, sql.ErrNoRows
	}
	return r.findSheet(ctx, "id", id)
}

// FindSheetByToken loads a sheet by its signature-link token.
func (r *AttendanceRepository) FindSheetByToken(ctx context.Context, token string) (*models.AttendanceSheetDetail, error) {
	return r.findSheet(ctx, "token", token)
}

// ListSheets returns sheets matching filter, most recent first.
func (r *AttendanceRepository) ListSheets(ctx context.Context, filter models.AttendanceSheetFilter) ([]models.AttendanceSheetDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.FormationID != "" {
		conditions = append(conditions, fmt.Sprintf("sh.formation_id = $%d", len(args)+1))
		args = append(args, filter.FormationID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("sh.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("sh.date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("sh.date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}

	base := sheetFrom + " WHERE 1=1"
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}

	query := fmt.Sprintf("SELECT %s, COALESCE(f.title, '') AS formation_title %s ORDER BY sh.date DESC, sh.start_time DESC LIMIT %d OFFSET %d", sheetColumns, base, size, (page-1)*size)
	var sheets []models.AttendanceSheetDetail
	if err := r.db.SelectContext(ctx, &sheets, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance sheets: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) %s", base), args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance sheets: %w", err)
	}
	return sheets, total, nil
}

// MarkValidated moves a pending sheet to validated. It reports false when the
// sheet was not pending.
func (r *AttendanceRepository) MarkValidated(ctx context.Context, id, validatedBy string, at time.Time) (bool, error) {
	const query = `UPDATE attendance_sheets SET status = $2, validated_at = $3, validated_by = $4, updated_at = $3 WHERE id = $1 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, models.SheetStatusValidated, at, validatedBy, models.SheetStatusPending)
	if err != nil {
		return false, fmt.Errorf("validate attendance sheet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("validate attendance sheet: %w", err)
	}
	return n == 1, nil
}

// InsertSignature stores one signature. A second signature for the same
// participant violates the (sheet_id, user_id) unique constraint.
func (r *AttendanceRepository) InsertSignature(ctx context.Context, sig *models.AttendanceSignature) error {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.SignedAt.IsZero() {
		sig.SignedAt = time.Now().UTC()
	}
	const query = `INSERT INTO attendance_signatures (id, sheet_id, user_id, user_type, present, signature_url, signed_at) VALUES (:id, :sheet_id, :user_id, :user_type, :present, :signature_url, :signed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, sig); err != nil {
		return fmt.Errorf("insert signature: %w", err)
	}
	return nil
}

// Roster lists everyone assigned to the sheet's formation together with
// their signature, students first.
func (r *AttendanceRepository) Roster(ctx context.Context, sheetID string) ([]models.RosterEntry, error) {
	const query = `SELECT u.id AS user_id, u.full_name, u.email, a.user_type,
		(sig.id IS NOT NULL) AS has_signature, COALESCE(sig.present, FALSE) AS present,
		sig.signature_url, sig.signed_at
	FROM attendance_sheets sh
	JOIN user_formation_assignments a ON a.formation_id = sh.formation_id
	JOIN users u ON u.id = a.user_id AND u.active = TRUE
	LEFT JOIN attendance_signatures sig ON sig.sheet_id = sh.id AND sig.user_id = u.id
	WHERE sh.id = $1
	ORDER BY a.user_type DESC, u.full_name ASC`
	var entries []models.RosterEntry
	if err := r.db.SelectContext(ctx, &entries, query, sheetID); err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	return entries, nil
}
