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
	"github.com/lib/pq"

	"github.com/noah-isme/formation-api/internal/models"
)

const userColumns = `id, email, password_hash, full_name, role, active, last_login, created_at, updated_at`

// UserRepository provides database access for users, sessions and audit logs.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) findOne(ctx context.Context, column, value string) (*models.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE %s = $1 LIMIT 1", userColumns, column)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by %s: %w", column, err)
	}
	return &user, nil
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, "email", email)
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, "id", id)
}

// UpdateLastLogin updates the last_login timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// FindInstructorIDsByName maps lower-cased full names of active instructors to
// their ids. Names shared by several instructors are left out.
func (r *UserRepository) FindInstructorIDsByName(ctx context.Context, names []string) (map[string]string, error) {
	out := map[string]string{}
	if len(names) == 0 {
		return out, nil
	}
	lowered := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			lowered = append(lowered, n)
		}
	}
	if len(lowered) == 0 {
		return out, nil
	}

	const query = `SELECT LOWER(full_name) AS name, MIN(id::text) AS id FROM users WHERE role = $1 AND active = TRUE AND LOWER(full_name) = ANY($2) GROUP BY LOWER(full_name) HAVING COUNT(*) = 1`
	var rows []struct {
		Name string `db:"name"`
		ID   string `db:"id"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, models.RoleInstructor, pq.Array(lowered)); err != nil {
		return nil, fmt.Errorf("find instructors by name: %w", err)
	}
	for _, row := range rows {
		out[row.Name] = row.ID
	}
	return out, nil
}

// FindNames returns full names keyed by user id.
func (r *UserRepository) FindNames(ctx context.Context, ids []string) (map[string]string, error) {
	out := map[string]string{}
	recipients, err := r.ListRecipients(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, rec := range recipients {
		out[rec.ID] = rec.FullName
	}
	return out, nil
}

// ListRecipients returns active users among ids. Malformed ids are ignored.
func (r *UserRepository) ListRecipients(ctx context.Context, ids []string) ([]models.Recipient, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			valid = append(valid, id)
		}
	}
	ids = valid
	if len(ids) == 0 {
		return []models.Recipient{}, nil
	}
	const query = `SELECT id, email, full_name FROM users WHERE active = TRUE AND id = ANY($1) ORDER BY full_name ASC`
	var recipients []models.Recipient
	if err := r.db.SelectContext(ctx, &recipients, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return recipients, nil
}

// ListRecipientsByRole returns every active user holding role.
func (r *UserRepository) ListRecipientsByRole(ctx context.Context, role models.UserRole) ([]models.Recipient, error) {
	const query = `SELECT id, email, full_name FROM users WHERE active = TRUE AND role = $1 ORDER BY full_name ASC`
	var recipients []models.Recipient
	if err := r.db.SelectContext(ctx, &recipients, query, role); err != nil {
		return nil, fmt.Errorf("list recipients by role: %w", err)
	}
	return recipients, nil
}

// CreateRefreshToken persists a refresh token entry.
func (r *UserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent) VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token by token string.
func (r *UserRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked.
func (r *UserRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes all refresh tokens for a user.
func (r *UserRepository) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// DeleteExpiredRefreshTokens removes tokens that expired before cutoff.
func (r *UserRepository) DeleteExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CreateAuditLog stores an audit log entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
