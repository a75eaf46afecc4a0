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

func TestCreateValidationRequestDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewValidationRepository(db)

	mock.ExpectExec("INSERT INTO validation_requests").WillReturnResult(sqlmock.NewResult(1, 1))

	req := &models.ValidationRequest{RequesterID: "stu-1", TargetID: "pro-1"}
	require.NoError(t, repo.Create(context.Background(), req))
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, models.DecisionPending, req.Decision)
	assert.False(t, req.RequestedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideCommitsLedgerStatusAndAssignment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewValidationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE validation_requests SET decision").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE medical_files SET student_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	studentID := "stu-1"
	err := repo.Decide(context.Background(), "vr-1", models.ValidationOutcome{
		Decision:        models.DecisionApproved,
		DecidedAt:       time.Now().UTC(),
		RequesterID:     "pat-1",
		ExpectedStatus:  []models.UserStatus{models.StatusPending, models.StatusPreApproved},
		NextStatus:      models.StatusApproved,
		ApprovedBy:      &studentID,
		AssignStudentID: studentID,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideAlreadyDecidedRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewValidationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE validation_requests SET decision").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Decide(context.Background(), "vr-1", models.ValidationOutcome{
		Decision:       models.DecisionApproved,
		DecidedAt:      time.Now().UTC(),
		RequesterID:    "stu-1",
		ExpectedStatus: []models.UserStatus{models.StatusPending, models.StatusPreApproved},
		NextStatus:     models.StatusApproved,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingForTargetOrdersAscending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewValidationRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "requester_id", "target_id", "decision", "requested_at", "decided_at",
		"requester_name", "requester_email", "requester_role",
	}).
		AddRow("vr-1", "stu-1", "pro-1", "pending", now.Add(-time.Hour), nil, "Ana Lopez", "ana@example.com", "student").
		AddRow("vr-2", "stu-2", "pro-1", "pending", now, nil, "Luz Vega", "luz@example.com", "student")
	mock.ExpectQuery("FROM validation_requests vr").
		WithArgs("pro-1").
		WillReturnRows(rows)

	pending, err := repo.ListPendingForTarget(context.Background(), "pro-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "vr-1", pending[0].ID)
	assert.Equal(t, models.RoleStudent, pending[0].RequesterRole)
	assert.NoError(t, mock.ExpectationsWereMet())
}
