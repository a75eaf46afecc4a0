package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinrecs/clinical-records-api/internal/models"
)

func TestSubmitFlipsStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMedicalFileRepository(db)

	mock.ExpectExec("UPDATE medical_files SET file_status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Submit(context.Background(), "f1", "pro-1", time.Now().UTC())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitLostRace(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMedicalFileRepository(db)

	mock.ExpectExec("UPDATE medical_files SET file_status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Submit(context.Background(), "f1", "pro-1", time.Now().UTC())
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApproveWithSnapshotCommitsBoth(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMedicalFileRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) \+ 1 FROM snapshots`).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(3))
	mock.ExpectExec("INSERT INTO snapshots").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE medical_files SET file_status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	snap := &models.Snapshot{ContentRef: "f1/v3.pdf", ContentSHA256: "abc"}
	err := repo.ApproveWithSnapshot(context.Background(), "f1", time.Now().UTC(), snap)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Version)
	assert.Equal(t, "f1", snap.MedicalFileID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApproveWithSnapshotRollsBackOnLostRace(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMedicalFileRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) \+ 1 FROM snapshots`).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1))
	mock.ExpectExec("INSERT INTO snapshots").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE medical_files SET file_status").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	snap := &models.Snapshot{ContentRef: "f1/v1.pdf", ContentSHA256: "abc"}
	err := repo.ApproveWithSnapshot(context.Background(), "f1", time.Now().UTC(), snap)
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSection(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMedicalFileRepository(db)

	mock.ExpectExec("INSERT INTO background_sections").WillReturnResult(sqlmock.NewResult(1, 1))

	section := &models.BackgroundSection{
		FileID:    "f1",
		Section:   models.SectionPathological,
		Payload:   []byte(`{"allergies":"none"}`),
		UpdatedBy: "stu-1",
	}
	require.NoError(t, repo.UpsertSection(context.Background(), section))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListInReviewByProfessional(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMedicalFileRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "patient_id", "student_id", "professional_id", "file_status",
		"submitted_at", "reviewed_at", "confirmed_at", "created_at", "updated_at",
	}).AddRow("f1", "pat-1", "stu-1", "pro-1", string(models.StatusReview), now, nil, nil, now, now)
	mock.ExpectQuery("FROM medical_files").
		WithArgs("pro-1", string(models.StatusReview)).
		WillReturnRows(rows)

	files, err := repo.ListInReviewByProfessional(context.Background(), "pro-1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, models.StatusReview, files[0].FileStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}
