package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinrecs/clinical-records-api/internal/models"
	appErrors "github.com/clinrecs/clinical-records-api/pkg/errors"
	"github.com/clinrecs/clinical-records-api/pkg/export"
)

type fileStoreStub struct {
	mu       sync.Mutex
	files    map[string]*models.MedicalFile
	sections map[string][]models.BackgroundSection
	comments map[string][]models.FileComment
	snaps    map[string][]models.Snapshot
}

func newFileStoreStub() *fileStoreStub {
	return &fileStoreStub{
		files:    make(map[string]*models.MedicalFile),
		sections: make(map[string][]models.BackgroundSection),
		comments: make(map[string][]models.FileComment),
		snaps:    make(map[string][]models.Snapshot),
	}
}

func (s *fileStoreStub) CreateForPatient(ctx context.Context, patientID string) (*models.MedicalFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file := &models.MedicalFile{
		ID:         fmt.Sprintf("file-%d", len(s.files)+1),
		PatientID:  patientID,
		FileStatus: models.StatusEmpty,
		CreatedAt:  time.Now().UTC(),
	}
	s.files[file.ID] = file
	return file, nil
}

func (s *fileStoreStub) GetByID(ctx context.Context, id string) (*models.MedicalFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if file, ok := s.files[id]; ok {
		copy := *file
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *fileStoreStub) GetByPatient(ctx context.Context, patientID string) (*models.MedicalFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, file := range s.files {
		if file.PatientID == patientID {
			copy := *file
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *fileStoreStub) AssignStudent(ctx context.Context, fileID, studentID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[fileID]
	if !ok || file.FileStatus != models.StatusEmpty {
		return sql.ErrNoRows
	}
	file.StudentID = &studentID
	file.FileStatus = models.StatusInProgress
	return nil
}

func (s *fileStoreStub) Submit(ctx context.Context, fileID, professionalID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[fileID]
	if !ok || file.FileStatus != models.StatusInProgress {
		return sql.ErrNoRows
	}
	file.FileStatus = models.StatusReview
	if file.ProfessionalID == nil {
		file.ProfessionalID = &professionalID
	}
	file.SubmittedAt = &ts
	return nil
}

func (s *fileStoreStub) Reopen(ctx context.Context, fileID string, from models.FileStatus, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[fileID]
	if !ok || file.FileStatus != from {
		return sql.ErrNoRows
	}
	file.FileStatus = models.StatusInProgress
	return nil
}

func (s *fileStoreStub) Confirm(ctx context.Context, fileID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[fileID]
	if !ok || file.FileStatus != models.StatusFileApproved {
		return sql.ErrNoRows
	}
	file.FileStatus = models.StatusConfirmed
	file.ConfirmedAt = &ts
	return nil
}

func (s *fileStoreStub) ApproveWithSnapshot(ctx context.Context, fileID string, ts time.Time, snap *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[fileID]
	if !ok || file.FileStatus != models.StatusReview {
		return sql.ErrNoRows
	}
	snap.ID = fmt.Sprintf("snap-%d", len(s.snaps[fileID])+1)
	snap.MedicalFileID = fileID
	snap.Version = len(s.snaps[fileID]) + 1
	snap.CreatedAt = ts
	s.snaps[fileID] = append(s.snaps[fileID], *snap)
	file.FileStatus = models.StatusFileApproved
	file.ReviewedAt = &ts
	return nil
}

func (s *fileStoreStub) ListInReviewByProfessional(ctx context.Context, professionalID string) ([]models.MedicalFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.MedicalFile
	for _, file := range s.files {
		if file.FileStatus == models.StatusReview && file.ProfessionalID != nil && *file.ProfessionalID == professionalID {
			result = append(result, *file)
		}
	}
	return result, nil
}

func (s *fileStoreStub) UpsertSection(ctx context.Context, section *models.BackgroundSection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.sections[section.FileID]
	for i, sec := range existing {
		if sec.Section == section.Section {
			existing[i] = *section
			return nil
		}
	}
	s.sections[section.FileID] = append(existing, *section)
	return nil
}

func (s *fileStoreStub) ListSections(ctx context.Context, fileID string) ([]models.BackgroundSection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.BackgroundSection(nil), s.sections[fileID]...), nil
}

func (s *fileStoreStub) AddComment(ctx context.Context, comment *models.FileComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[comment.FileID] = append(s.comments[comment.FileID], *comment)
	return nil
}

func (s *fileStoreStub) ListComments(ctx context.Context, fileID string) ([]models.FileComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.FileComment(nil), s.comments[fileID]...), nil
}

func (s *fileStoreStub) ListByFile(ctx context.Context, fileID string) ([]models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Snapshot(nil), s.snaps[fileID]...), nil
}

func (s *fileStoreStub) GetByFileVersion(ctx context.Context, fileID string, version int) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.snaps[fileID] {
		if snap.Version == version {
			copy := snap
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

type rendererStub struct {
	err   error
	calls int
}

func (r *rendererStub) Render(doc export.SnapshotDocument) ([]byte, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-stub " + doc.FileID), nil
}

type blobStoreStub struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newBlobStoreStub() *blobStoreStub {
	return &blobStoreStub{blobs: make(map[string][]byte)}
}

func (b *blobStoreStub) Save(filename string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[filename] = data
	return filename, nil
}

func (b *blobStoreStub) Open(filename string) (*os.File, error) {
	return nil, os.ErrNotExist
}

func (b *blobStoreStub) Delete(filename string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, filename)
	return nil
}

type signerStub struct{}

func (signerStub) Generate(snapshotID, relPath string) (string, time.Time, error) {
	return snapshotID + "|" + relPath, time.Now().Add(time.Hour), nil
}

func (signerStub) Parse(token string, allowExpired bool) (string, string, time.Time, error) {
	parts := strings.SplitN(token, "|", 2)
	if len(parts) != 2 {
		return "", "", time.Time{}, errors.New("bad token")
	}
	return parts[0], parts[1], time.Now().Add(time.Hour), nil
}

func strPtr(s string) *string { return &s }

func newFileServiceForTest(files *fileStoreStub, users *userStoreStub, renderer SnapshotRenderer) *MedicalFileService {
	if renderer == nil {
		renderer = &rendererStub{}
	}
	snapshots := NewSnapshotService(files, renderer, newBlobStoreStub(), signerStub{}, "/api/v1", zap.NewNop())
	return NewMedicalFileService(files, users, snapshots, nil, zap.NewNop())
}

func seedWorkflowUsers(users *userStoreStub) (patient, student, professional *models.User) {
	professional = users.add(&models.User{
		ID: "pro-1", Email: "pro@example.com", FirstName: "Luis", FirstSurname: "Mora",
		Role: models.RoleProfessional, Status: models.StatusApproved,
	})
	student = users.add(&models.User{
		ID: "stu-1", Email: "stu@example.com", FirstName: "Ana", FirstSurname: "Lopez",
		Role: models.RoleStudent, Status: models.StatusApproved, ApprovedBy: strPtr("pro-1"),
	})
	patient = users.add(&models.User{
		ID: "pat-1", Email: "pat@example.com", FirstName: "Pau", FirstSurname: "Diaz",
		Role: models.RolePatient, Status: models.StatusApproved, ApprovedBy: strPtr("stu-1"),
	})
	return patient, student, professional
}

func seedFile(files *fileStoreStub, status models.FileStatus) *models.MedicalFile {
	file := &models.MedicalFile{
		ID:         "file-1",
		PatientID:  "pat-1",
		StudentID:  strPtr("stu-1"),
		FileStatus: status,
	}
	if status != models.StatusEmpty && status != models.StatusInProgress {
		file.ProfessionalID = strPtr("pro-1")
	}
	if status == models.StatusReview {
		now := time.Now().UTC()
		file.SubmittedAt = &now
	}
	files.files[file.ID] = file
	return file
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, code, appErr.Code)
}

func TestSubmitMovesFileToReview(t *testing.T) {
	users := newUserStoreStub()
	_, student, _ := seedWorkflowUsers(users)
	files := newFileStoreStub()
	seedFile(files, models.StatusInProgress)
	svc := newFileServiceForTest(files, users, nil)

	file, err := svc.Submit(context.Background(), student, "file-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusReview, file.FileStatus)
	require.NotNil(t, file.ProfessionalID)
	require.Equal(t, "pro-1", *file.ProfessionalID)
	require.NotNil(t, file.SubmittedAt)
}

func TestSubmitByAnotherStudentForbidden(t *testing.T) {
	users := newUserStoreStub()
	seedWorkflowUsers(users)
	other := users.add(&models.User{
		ID: "stu-2", Role: models.RoleStudent, Status: models.StatusApproved, ApprovedBy: strPtr("pro-1"),
	})
	files := newFileStoreStub()
	seedFile(files, models.StatusInProgress)
	svc := newFileServiceForTest(files, users, nil)

	_, err := svc.Submit(context.Background(), other, "file-1")
	requireCode(t, err, appErrors.ErrForbidden.Code)
}

func TestSubmitTwiceInvalidTransition(t *testing.T) {
	users := newUserStoreStub()
	_, student, _ := seedWorkflowUsers(users)
	files := newFileStoreStub()
	seedFile(files, models.StatusInProgress)
	svc := newFileServiceForTest(files, users, nil)

	_, err := svc.Submit(context.Background(), student, "file-1")
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), student, "file-1")
	requireCode(t, err, appErrors.ErrInvalidTransition.Code)
}

func TestApproveMintsSnapshot(t *testing.T) {
	users := newUserStoreStub()
	_, _, professional := seedWorkflowUsers(users)
	files := newFileStoreStub()
	seedFile(files, models.StatusReview)
	files.sections["file-1"] = []models.BackgroundSection{
		{FileID: "file-1", Section: models.SectionPathological, Payload: []byte(`{"allergies":"none"}`)},
	}
	svc := newFileServiceForTest(files, users, nil)

	file, err := svc.ProfessionalDecide(context.Background(), professional, "file-1", true, "looks complete")
	require.NoError(t, err)
	require.Equal(t, models.StatusFileApproved, file.FileStatus)

	snaps := files.snaps["file-1"]
	require.Len(t, snaps, 1)
	require.Equal(t, 1, snaps[0].Version)
	require.NotEmpty(t, snaps[0].ContentSHA256)
	require.Equal(t, "files/file-1/v1.pdf", snaps[0].ContentRef)

	comments := files.comments["file-1"]
	require.Len(t, comments, 1)
	require.Equal(t, "looks complete", comments[0].Body)
}

func TestApproveSnapshotFailureKeepsReview(t *testing.T) {
	users := newUserStoreStub()
	_, _, professional := seedWorkflowUsers(users)
	files := newFileStoreStub()
	seedFile(files, models.StatusReview)
	renderer := &rendererStub{err: errors.New("font table corrupted")}
	svc := newFileServiceForTest(files, users, renderer)

	_, err := svc.ProfessionalDecide(context.Background(), professional, "file-1", true, "ready for the patient")
	requireCode(t, err, appErrors.ErrSnapshot.Code)

	require.Equal(t, models.StatusReview, files.files["file-1"].FileStatus)
	require.Empty(t, files.snaps["file-1"])
	require.Empty(t, files.comments["file-1"])
}

func TestRejectFromWrongStateLeavesNoComment(t *testing.T) {
	users := newUserStoreStub()
	_, _, professional := seedWorkflowUsers(users)
	files := newFileStoreStub()
	file := seedFile(files, models.StatusInProgress)
	file.ProfessionalID = strPtr("pro-1")
	svc := newFileServiceForTest(files, users, nil)

	_, err := svc.ProfessionalDecide(context.Background(), professional, "file-1", false, "not ready")
	requireCode(t, err, appErrors.ErrInvalidTransition.Code)
	require.Empty(t, files.comments["file-1"])

	_, err = svc.PatientDecide(context.Background(), users.users["pat-1"], "file-1", false, "disagree")
	requireCode(t, err, appErrors.ErrInvalidTransition.Code)
	require.Empty(t, files.comments["file-1"])
}

func TestProfessionalRejectReopensFile(t *testing.T) {
	users := newUserStoreStub()
	_, _, professional := seedWorkflowUsers(users)
	files := newFileStoreStub()
	seedFile(files, models.StatusReview)
	svc := newFileServiceForTest(files, users, nil)

	file, err := svc.ProfessionalDecide(context.Background(), professional, "file-1", false, "missing family history")
	require.NoError(t, err)
	require.Equal(t, models.StatusInProgress, file.FileStatus)
}

func TestPatientRejectKeepsSnapshots(t *testing.T) {
	users := newUserStoreStub()
	patient, _, professional := seedWorkflowUsers(users)
	files := newFileStoreStub()
	seedFile(files, models.StatusReview)
	svc := newFileServiceForTest(files, users, nil)

	_, err := svc.ProfessionalDecide(context.Background(), professional, "file-1", true, "")
	require.NoError(t, err)
	require.Len(t, files.snaps["file-1"], 1)

	file, err := svc.PatientDecide(context.Background(), patient, "file-1", false, "wrong birth date")
	require.NoError(t, err)
	require.Equal(t, models.StatusInProgress, file.FileStatus)
	require.Len(t, files.snaps["file-1"], 1)
}

func TestPatientConfirmIsTerminal(t *testing.T) {
	users := newUserStoreStub()
	patient, _, _ := seedWorkflowUsers(users)
	files := newFileStoreStub()
	seedFile(files, models.StatusFileApproved)
	svc := newFileServiceForTest(files, users, nil)

	file, err := svc.PatientDecide(context.Background(), patient, "file-1", true, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, file.FileStatus)

	_, err = svc.PatientDecide(context.Background(), patient, "file-1", false, "changed my mind")
	requireCode(t, err, appErrors.ErrInvalidTransition.Code)
}

func TestReworkApprovalMintsNextVersion(t *testing.T) {
	users := newUserStoreStub()
	patient, student, professional := seedWorkflowUsers(users)
	files := newFileStoreStub()
	seedFile(files, models.StatusReview)
	svc := newFileServiceForTest(files, users, nil)

	_, err := svc.ProfessionalDecide(context.Background(), professional, "file-1", true, "")
	require.NoError(t, err)
	_, err = svc.PatientDecide(context.Background(), patient, "file-1", false, "")
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), student, "file-1")
	require.NoError(t, err)
	_, err = svc.ProfessionalDecide(context.Background(), professional, "file-1", true, "")
	require.NoError(t, err)

	snaps := files.snaps["file-1"]
	require.Len(t, snaps, 2)
	require.Equal(t, 2, snaps[1].Version)
}

func TestUpsertBackgroundOnlyWhileInProgress(t *testing.T) {
	users := newUserStoreStub()
	_, student, _ := seedWorkflowUsers(users)
	files := newFileStoreStub()
	seedFile(files, models.StatusReview)
	svc := newFileServiceForTest(files, users, nil)

	_, err := svc.UpsertBackground(context.Background(), student, "file-1", models.SectionFamily, []byte(`{"diabetes":true}`))
	requireCode(t, err, appErrors.ErrInvalidTransition.Code)

	files.files["file-1"].FileStatus = models.StatusInProgress
	section, err := svc.UpsertBackground(context.Background(), student, "file-1", models.SectionFamily, []byte(`{"diabetes":true}`))
	require.NoError(t, err)
	require.Equal(t, models.SectionFamily, section.Section)
}

func TestUpsertBackgroundRejectsUnknownSection(t *testing.T) {
	users := newUserStoreStub()
	_, student, _ := seedWorkflowUsers(users)
	files := newFileStoreStub()
	seedFile(files, models.StatusInProgress)
	svc := newFileServiceForTest(files, users, nil)

	_, err := svc.UpsertBackground(context.Background(), student, "file-1", "surgical", []byte(`{}`))
	requireCode(t, err, appErrors.ErrValidation.Code)

	_, err = svc.UpsertBackground(context.Background(), student, "file-1", models.SectionFamily, []byte(`{broken`))
	requireCode(t, err, appErrors.ErrValidation.Code)
}
