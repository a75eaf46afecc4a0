package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/clinrecs/clinical-records-api/internal/models"
)

const fileColumns = `id, patient_id, student_id, professional_id, file_status,
       submitted_at, reviewed_at, confirmed_at, created_at, updated_at`

// MedicalFileRepository persists medical files, their interview sections,
// comments, and the approval snapshots. All status flips are compare-and-set
// on the expected current status: zero affected rows surfaces as
// sql.ErrNoRows and means the caller lost the transition race.
type MedicalFileRepository struct {
	db *sqlx.DB
}

// NewMedicalFileRepository constructs the repository.
func NewMedicalFileRepository(db *sqlx.DB) *MedicalFileRepository {
	return &MedicalFileRepository{db: db}
}

// CreateForPatient inserts the patient's (single) file in the empty state.
func (r *MedicalFileRepository) CreateForPatient(ctx context.Context, patientID string) (*models.MedicalFile, error) {
	now := time.Now().UTC()
	file := &models.MedicalFile{
		ID:         uuid.NewString(),
		PatientID:  patientID,
		FileStatus: models.StatusEmpty,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	const query = `INSERT INTO medical_files
	(id, patient_id, student_id, professional_id, file_status, submitted_at, reviewed_at, confirmed_at, created_at, updated_at)
	VALUES (:id, :patient_id, :student_id, :professional_id, :file_status, :submitted_at, :reviewed_at, :confirmed_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, file); err != nil {
		return nil, fmt.Errorf("create medical file: %w", err)
	}
	return file, nil
}

// GetByID fetches a file by identifier.
func (r *MedicalFileRepository) GetByID(ctx context.Context, id string) (*models.MedicalFile, error) {
	query := `SELECT ` + fileColumns + ` FROM medical_files WHERE id = $1 LIMIT 1`
	var file models.MedicalFile
	if err := r.db.GetContext(ctx, &file, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find medical file: %w", err)
	}
	return &file, nil
}

// GetByPatient fetches the patient's file.
func (r *MedicalFileRepository) GetByPatient(ctx context.Context, patientID string) (*models.MedicalFile, error) {
	query := `SELECT ` + fileColumns + ` FROM medical_files WHERE patient_id = $1 LIMIT 1`
	var file models.MedicalFile
	if err := r.db.GetContext(ctx, &file, query, patientID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find medical file by patient: %w", err)
	}
	return &file, nil
}

// Submit moves the file into review (in_progress → review) and pins the
// reviewing professional on first submission.
func (r *MedicalFileRepository) Submit(ctx context.Context, fileID string, professionalID string, ts time.Time) error {
	const query = `UPDATE medical_files SET file_status = $2, professional_id = COALESCE(professional_id, $3), submitted_at = $4, updated_at = $4
	WHERE id = $1 AND file_status = $5`
	return r.casExec(ctx, query, fileID, models.StatusReview, professionalID, ts, models.StatusInProgress)
}

// Reopen sends a rejected file back to data entry (review|approved → in_progress).
func (r *MedicalFileRepository) Reopen(ctx context.Context, fileID string, from models.FileStatus, ts time.Time) error {
	const query = `UPDATE medical_files SET file_status = $2, updated_at = $3
	WHERE id = $1 AND file_status = $4`
	return r.casExec(ctx, query, fileID, models.StatusInProgress, ts, from)
}

// Confirm finalises an approved file (approved → confirmed). Terminal.
func (r *MedicalFileRepository) Confirm(ctx context.Context, fileID string, ts time.Time) error {
	const query = `UPDATE medical_files SET file_status = $2, confirmed_at = $3, updated_at = $3
	WHERE id = $1 AND file_status = $4`
	return r.casExec(ctx, query, fileID, models.StatusConfirmed, ts, models.StatusFileApproved)
}

// ApproveWithSnapshot commits the professional approval atomically: the
// snapshot row (next version for the file) and the review → approved flip
// either both land or neither does. The snapshot's version field is filled
// in on success.
func (r *MedicalFileRepository) ApproveWithSnapshot(ctx context.Context, fileID string, ts time.Time, snap *models.Snapshot) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approval: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var version int
	const nextVersion = `SELECT COALESCE(MAX(version), 0) + 1 FROM snapshots WHERE medical_file_id = $1`
	if err := tx.GetContext(ctx, &version, nextVersion, fileID); err != nil {
		return fmt.Errorf("next snapshot version: %w", err)
	}

	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	snap.MedicalFileID = fileID
	snap.Version = version
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = ts
	}
	const insertSnapshot = `INSERT INTO snapshots
	(id, medical_file_id, version, content_ref, content_sha256, created_at)
	VALUES (:id, :medical_file_id, :version, :content_ref, :content_sha256, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insertSnapshot, snap); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	const flip = `UPDATE medical_files SET file_status = $2, reviewed_at = $3, updated_at = $3
	WHERE id = $1 AND file_status = $4`
	result, err := tx.ExecContext(ctx, flip, fileID, models.StatusFileApproved, ts, models.StatusReview)
	if err != nil {
		return fmt.Errorf("approve medical file: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check approval rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return tx.Commit()
}

// ListInReviewByProfessional returns the files awaiting the professional's
// verdict, oldest submission first.
func (r *MedicalFileRepository) ListInReviewByProfessional(ctx context.Context, professionalID string) ([]models.MedicalFile, error) {
	query := `SELECT ` + fileColumns + ` FROM medical_files
	WHERE professional_id = $1 AND file_status = $2
	ORDER BY submitted_at ASC`
	var files []models.MedicalFile
	if err := r.db.SelectContext(ctx, &files, query, professionalID, models.StatusReview); err != nil {
		return nil, fmt.Errorf("list files in review: %w", err)
	}
	return files, nil
}

// UpsertSection replaces one interview section's payload.
func (r *MedicalFileRepository) UpsertSection(ctx context.Context, section *models.BackgroundSection) error {
	if section.UpdatedAt.IsZero() {
		section.UpdatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO background_sections (file_id, section, payload, updated_by, updated_at)
	VALUES (:file_id, :section, :payload, :updated_by, :updated_at)
	ON CONFLICT (file_id, section) DO UPDATE
	SET payload = EXCLUDED.payload, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, section); err != nil {
		return fmt.Errorf("upsert background section: %w", err)
	}
	return nil
}

// ListSections returns all recorded interview sections for a file.
func (r *MedicalFileRepository) ListSections(ctx context.Context, fileID string) ([]models.BackgroundSection, error) {
	const query = `SELECT file_id, section, payload, updated_by, updated_at
	FROM background_sections WHERE file_id = $1 ORDER BY section ASC`
	var sections []models.BackgroundSection
	if err := r.db.SelectContext(ctx, &sections, query, fileID); err != nil {
		return nil, fmt.Errorf("list background sections: %w", err)
	}
	return sections, nil
}

// AddComment appends a reviewer remark.
func (r *MedicalFileRepository) AddComment(ctx context.Context, comment *models.FileComment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO file_comments (id, file_id, author_id, body, created_at)
	VALUES (:id, :file_id, :author_id, :body, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, comment); err != nil {
		return fmt.Errorf("add file comment: %w", err)
	}
	return nil
}

// ListComments returns a file's remarks in insertion order.
func (r *MedicalFileRepository) ListComments(ctx context.Context, fileID string) ([]models.FileComment, error) {
	const query = `SELECT id, file_id, author_id, body, created_at
	FROM file_comments WHERE file_id = $1 ORDER BY created_at ASC`
	var comments []models.FileComment
	if err := r.db.SelectContext(ctx, &comments, query, fileID); err != nil {
		return nil, fmt.Errorf("list file comments: %w", err)
	}
	return comments, nil
}

func (r *MedicalFileRepository) casExec(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update medical file status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check status update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
