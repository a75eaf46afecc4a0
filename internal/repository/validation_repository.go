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

// ValidationRepository persists the supervisor-dependent approval ledger.
type ValidationRepository struct {
	db *sqlx.DB
}

// NewValidationRepository constructs the repository.
func NewValidationRepository(db *sqlx.DB) *ValidationRepository {
	return &ValidationRepository{db: db}
}

// Create inserts a new pending request.
func (r *ValidationRepository) Create(ctx context.Context, req *models.ValidationRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Decision == "" {
		req.Decision = models.DecisionPending
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	const query = `INSERT INTO validation_requests
	(id, requester_id, target_id, decision, requested_at, decided_at)
	VALUES (:id, :requester_id, :target_id, :decision, :requested_at, :decided_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create validation request: %w", err)
	}
	return nil
}

// FindPendingByRequester returns the requester's outstanding request, if any.
func (r *ValidationRepository) FindPendingByRequester(ctx context.Context, requesterID string) (*models.ValidationRequest, error) {
	const query = `SELECT id, requester_id, target_id, decision, requested_at, decided_at
	FROM validation_requests WHERE requester_id = $1 AND decision = 'pending' LIMIT 1`
	var req models.ValidationRequest
	if err := r.db.GetContext(ctx, &req, query, requesterID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find pending request by requester: %w", err)
	}
	return &req, nil
}

// FindPendingByPair returns the outstanding request for a specific
// (requester, target) pair.
func (r *ValidationRepository) FindPendingByPair(ctx context.Context, requesterID, targetID string) (*models.ValidationRequest, error) {
	const query = `SELECT id, requester_id, target_id, decision, requested_at, decided_at
	FROM validation_requests WHERE requester_id = $1 AND target_id = $2 AND decision = 'pending' LIMIT 1`
	var req models.ValidationRequest
	if err := r.db.GetContext(ctx, &req, query, requesterID, targetID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find pending request by pair: %w", err)
	}
	return &req, nil
}

// Decide commits the outcome of a pending request in one transaction: the
// ledger close (compare-and-set on decision = 'pending'), the requester's
// status flip, and the patient-file assignment when a student approved a
// patient. Returns sql.ErrNoRows when the request was already decided, which
// signals the caller lost the race; nothing is written in that case.
func (r *ValidationRepository) Decide(ctx context.Context, id string, out models.ValidationOutcome) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin decide: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const closeLedger = `UPDATE validation_requests SET decision = $2, decided_at = $3
	WHERE id = $1 AND decision = 'pending'`
	result, err := tx.ExecContext(ctx, closeLedger, id, out.Decision, out.DecidedAt)
	if err != nil {
		return fmt.Errorf("decide validation request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check decide rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	// The status flip is guarded by the expected set; zero rows is tolerated
	// because the decided ledger row is the source of truth for a requester
	// whose status already moved.
	placeholders := make([]string, len(out.ExpectedStatus))
	args := []interface{}{out.RequesterID, out.NextStatus, out.ApprovedBy, out.DecidedAt}
	for i, status := range out.ExpectedStatus {
		args = append(args, status)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	flip := fmt.Sprintf(`UPDATE users SET status = $2, approved_by = $3, approved_at = CASE WHEN $2 = 'approved' THEN $4 ELSE approved_at END, updated_at = $4
	WHERE id = $1 AND status IN (%s)`, strings.Join(placeholders, ","))
	if _, err := tx.ExecContext(ctx, flip, args...); err != nil {
		return fmt.Errorf("promote requester: %w", err)
	}

	if out.AssignStudentID != "" {
		// Opens the patient's file for data entry (empty → in_progress).
		// Zero rows is tolerated: the file was already opened earlier.
		const assign = `UPDATE medical_files SET student_id = $2, file_status = $3, updated_at = $4
		WHERE patient_id = $1 AND file_status = $5`
		if _, err := tx.ExecContext(ctx, assign, out.RequesterID, out.AssignStudentID, models.StatusInProgress, out.DecidedAt, models.StatusEmpty); err != nil {
			return fmt.Errorf("assign student to patient file: %w", err)
		}
	}

	return tx.Commit()
}

// ListPendingForTarget returns pending requests addressed to the supervisor,
// oldest first, joined with the requester identity.
func (r *ValidationRepository) ListPendingForTarget(ctx context.Context, targetID string) ([]models.PendingValidation, error) {
	const query = `SELECT vr.id, vr.requester_id, vr.target_id, vr.decision, vr.requested_at, vr.decided_at,
       u.first_name || ' ' || u.first_surname AS requester_name,
       u.email AS requester_email,
       u.role AS requester_role
	FROM validation_requests vr
	JOIN users u ON u.id = vr.requester_id
	WHERE vr.target_id = $1 AND vr.decision = 'pending'
	ORDER BY vr.requested_at ASC`
	var pending []models.PendingValidation
	if err := r.db.SelectContext(ctx, &pending, query, targetID); err != nil {
		return nil, fmt.Errorf("list pending validations: %w", err)
	}
	return pending, nil
}
