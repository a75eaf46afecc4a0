package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/clinrecs/clinical-records-api/internal/models"
)

const userColumns = `id, email, password_hash, first_name, second_name, first_surname, second_surname,
       birth_day, phone, role, status, approved_by, approved_at, created_at, updated_at`

// UserRepository provides database access for user management.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user and, when given, their academic profile in one
// transaction.
func (r *UserRepository) Create(ctx context.Context, user *models.User, profile *models.AcademicProfile) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create user: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertUser = `INSERT INTO users
	(id, email, password_hash, first_name, second_name, first_surname, second_surname, birth_day, phone, role, status, approved_by, approved_at, created_at, updated_at)
	VALUES (:id, :email, :password_hash, :first_name, :second_name, :first_surname, :second_surname, :birth_day, :phone, :role, :status, :approved_by, :approved_at, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertUser, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	if profile != nil {
		profile.UserID = user.ID
		const insertProfile = `INSERT INTO academic_profiles
		(user_id, institution, career, academic_grade, register_number)
		VALUES (:user_id, :institution, :career, :academic_grade, :register_number)`
		if _, err := tx.NamedExecContext(ctx, insertProfile, profile); err != nil {
			return fmt.Errorf("create academic profile: %w", err)
		}
	}

	return tx.Commit()
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindAcademicProfile returns the academic data attached to a user.
func (r *UserRepository) FindAcademicProfile(ctx context.Context, userID string) (*models.AcademicProfile, error) {
	const query = `SELECT user_id, institution, career, academic_grade, register_number
	FROM academic_profiles WHERE user_id = $1 LIMIT 1`
	var profile models.AcademicProfile
	if err := r.db.GetContext(ctx, &profile, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find academic profile: %w", err)
	}
	return &profile, nil
}

// UpdateStatus flips a user's workflow status with a compare-and-set on the
// expected current value. Returns sql.ErrNoRows when the user already left
// the expected status.
func (r *UserRepository) UpdateStatus(ctx context.Context, id string, expected []models.UserStatus, next models.UserStatus, approvedBy *string, ts time.Time) error {
	placeholders := make([]string, len(expected))
	args := []interface{}{id, next, approvedBy, ts}
	for i, status := range expected {
		args = append(args, status)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	query := fmt.Sprintf(`UPDATE users SET status = $2, approved_by = $3, approved_at = CASE WHEN $2 = 'approved' THEN $4 ELSE approved_at END, updated_at = $4
	WHERE id = $1 AND status IN (%s)`, strings.Join(placeholders, ","))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check user status update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	baseQuery := `FROM users WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Role != nil {
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)+1))
		args = append(args, *filter.Role)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(email) LIKE $%d OR LOWER(first_name || ' ' || first_surname) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf(`SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d`, userColumns, baseQuery, pageSize, offset)
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery := `SELECT COUNT(*) ` + baseQuery
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	return users, total, nil
}
