package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/clinrecs/clinical-records-api/internal/models"
)

// SnapshotRepository reads the append-only snapshot arena. Writes happen
// exclusively inside MedicalFileRepository.ApproveWithSnapshot so a snapshot
// can never exist without the matching approval (nor the reverse).
type SnapshotRepository struct {
	db *sqlx.DB
}

// NewSnapshotRepository constructs the repository.
func NewSnapshotRepository(db *sqlx.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// ListByFile returns a file's snapshots, oldest version first.
func (r *SnapshotRepository) ListByFile(ctx context.Context, fileID string) ([]models.Snapshot, error) {
	const query = `SELECT id, medical_file_id, version, content_ref, content_sha256, created_at
	FROM snapshots WHERE medical_file_id = $1 ORDER BY version ASC`
	var snapshots []models.Snapshot
	if err := r.db.SelectContext(ctx, &snapshots, query, fileID); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snapshots, nil
}

// GetByFileVersion returns one snapshot addressed by (file, version).
func (r *SnapshotRepository) GetByFileVersion(ctx context.Context, fileID string, version int) (*models.Snapshot, error) {
	const query = `SELECT id, medical_file_id, version, content_ref, content_sha256, created_at
	FROM snapshots WHERE medical_file_id = $1 AND version = $2 LIMIT 1`
	var snap models.Snapshot
	if err := r.db.GetContext(ctx, &snap, query, fileID, version); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find snapshot: %w", err)
	}
	return &snap, nil
}
