package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/formation-api/internal/models"
)

// FormationRepository reads formations and their member assignments.
type FormationRepository struct {
	db *sqlx.DB
}

// NewFormationRepository creates the repository.
func NewFormationRepository(db *sqlx.DB) *FormationRepository {
	return &FormationRepository{db: db}
}

// FindByID loads a formation.
func (r *FormationRepository) FindByID(ctx context.Context, id string) (*models.Formation, error) {
	if !validID(id) {
		return nil, sql.ErrNoRows
	}
	var formation models.Formation
	if err := r.db.GetContext(ctx, &formation, `SELECT id, title, active, created_at, updated_at FROM formations WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find formation: %w", err)
	}
	return &formation, nil
}

// ListMembers returns active users assigned to formationID. An empty
// userType returns every member.
func (r *FormationRepository) ListMembers(ctx context.Context, formationID string, userType models.ParticipantType) ([]models.Recipient, error) {
	query := `SELECT u.id, u.email, u.full_name FROM user_formation_assignments a JOIN users u ON u.id = a.user_id WHERE a.formation_id = $1 AND u.active = TRUE`
	args := []interface{}{formationID}
	if userType != "" {
		query += " AND a.user_type = $2"
		args = append(args, userType)
	}
	query += " ORDER BY u.full_name ASC"

	var members []models.Recipient
	if err := r.db.SelectContext(ctx, &members, query, args...); err != nil {
		return nil, fmt.Errorf("list formation members: %w", err)
	}
	return members, nil
}
