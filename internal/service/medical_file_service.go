package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/clinrecs/clinical-records-api/internal/models"
	appErrors "github.com/clinrecs/clinical-records-api/pkg/errors"
)

// MedicalFileStore persists files, their sections, comments, and the
// approval transaction.
type MedicalFileStore interface {
	GetByID(ctx context.Context, id string) (*models.MedicalFile, error)
	GetByPatient(ctx context.Context, patientID string) (*models.MedicalFile, error)
	Submit(ctx context.Context, fileID, professionalID string, ts time.Time) error
	Reopen(ctx context.Context, fileID string, from models.FileStatus, ts time.Time) error
	Confirm(ctx context.Context, fileID string, ts time.Time) error
	ApproveWithSnapshot(ctx context.Context, fileID string, ts time.Time, snap *models.Snapshot) error
	ListInReviewByProfessional(ctx context.Context, professionalID string) ([]models.MedicalFile, error)
	UpsertSection(ctx context.Context, section *models.BackgroundSection) error
	ListSections(ctx context.Context, fileID string) ([]models.BackgroundSection, error)
	AddComment(ctx context.Context, comment *models.FileComment) error
	ListComments(ctx context.Context, fileID string) ([]models.FileComment, error)
}

// FileDetail is the aggregate view of one medical file.
type FileDetail struct {
	File      *models.MedicalFile        `json:"file"`
	Sections  []models.BackgroundSection `json:"sections"`
	Comments  []models.FileComment       `json:"comments"`
	Snapshots []models.Snapshot          `json:"snapshots"`
}

// MedicalFileService drives the medical file state machine. Every status
// flip is a compare-and-set in the store, so of two concurrent conflicting
// transitions exactly one commits and the other reports an invalid
// transition.
type MedicalFileService struct {
	files     MedicalFileStore
	users     UserStore
	snapshots *SnapshotService
	cache     *CacheService
	logger    *zap.Logger
}

// NewMedicalFileService constructs a medical file service.
func NewMedicalFileService(files MedicalFileStore, users UserStore, snapshots *SnapshotService, cache *CacheService, logger *zap.Logger) *MedicalFileService {
	return &MedicalFileService{files: files, users: users, snapshots: snapshots, cache: cache, logger: logger}
}

// Submit sends the student's file for professional review. The reviewing
// professional is pinned to the student's validator on first submission and
// kept across rework cycles.
func (s *MedicalFileService) Submit(ctx context.Context, student *models.User, fileID string) (*models.MedicalFile, error) {
	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.StudentID == nil || *file.StudentID != student.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "file belongs to another student")
	}
	if student.ApprovedBy == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student has no validating professional")
	}

	now := time.Now().UTC()
	if err := s.files.Submit(ctx, fileID, *student.ApprovedBy, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "file cannot be submitted from its current state")
		}
		return nil, appErrors.FromError(err)
	}

	s.invalidateReviewQueue(ctx, file, *student.ApprovedBy)
	return s.load(ctx, fileID)
}

// ProfessionalDecide records the professional's verdict on a file in review.
// Approval renders the immutable snapshot first and commits it atomically
// with the status flip; a snapshot failure aborts the approval and the file
// stays in review. Rejection reopens the file for rework.
func (s *MedicalFileService) ProfessionalDecide(ctx context.Context, professional *models.User, fileID string, approve bool, comment string) (*models.MedicalFile, error) {
	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.ProfessionalID == nil || *file.ProfessionalID != professional.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "file is assigned to another professional")
	}

	// The verdict commits before the comment: a transition that fails or
	// loses its race must leave no trace, comment included.
	now := time.Now().UTC()
	if !approve {
		if err := s.files.Reopen(ctx, fileID, models.StatusReview, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "file is not in review")
			}
			return nil, appErrors.FromError(err)
		}
	} else {
		if err := s.approve(ctx, file, now); err != nil {
			return nil, err
		}
	}
	s.recordVerdictComment(ctx, fileID, professional.ID, comment)

	s.invalidateReviewQueue(ctx, file, professional.ID)
	return s.load(ctx, fileID)
}

// PatientDecide records the patient's verdict on an approved file.
// Confirmation is terminal; rejection reopens the file for rework while
// every minted snapshot is kept.
func (s *MedicalFileService) PatientDecide(ctx context.Context, patient *models.User, fileID string, confirm bool, comment string) (*models.MedicalFile, error) {
	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.PatientID != patient.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "file belongs to another patient")
	}

	now := time.Now().UTC()
	if confirm {
		err = s.files.Confirm(ctx, fileID, now)
	} else {
		err = s.files.Reopen(ctx, fileID, models.StatusFileApproved, now)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "file is not awaiting patient confirmation")
		}
		return nil, appErrors.FromError(err)
	}
	s.recordVerdictComment(ctx, fileID, patient.ID, comment)

	return s.load(ctx, fileID)
}

// UpsertBackground replaces one interview section while the file is being
// worked on.
func (s *MedicalFileService) UpsertBackground(ctx context.Context, student *models.User, fileID string, section models.BackgroundSectionName, payload []byte) (*models.BackgroundSection, error) {
	if !models.ValidSection(section) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown interview section")
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "section payload must be valid JSON")
	}

	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.StudentID == nil || *file.StudentID != student.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "file belongs to another student")
	}
	if file.FileStatus != models.StatusInProgress {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "sections can only be edited while the file is in progress")
	}

	record := &models.BackgroundSection{
		FileID:    fileID,
		Section:   section,
		Payload:   payload,
		UpdatedBy: student.ID,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.files.UpsertSection(ctx, record); err != nil {
		return nil, appErrors.FromError(err)
	}
	return record, nil
}

// Get returns the aggregate file view for actors with access to it.
func (s *MedicalFileService) Get(ctx context.Context, actor *models.User, fileID string) (*FileDetail, error) {
	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, file) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to this file")
	}

	sections, err := s.files.ListSections(ctx, fileID)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	comments, err := s.files.ListComments(ctx, fileID)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	snaps, err := s.snapshots.List(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return &FileDetail{File: file, Sections: sections, Comments: comments, Snapshots: snaps}, nil
}

// MyFile returns the patient's own file.
func (s *MedicalFileService) MyFile(ctx context.Context, patient *models.User) (*models.MedicalFile, error) {
	file, err := s.files.GetByPatient(ctx, patient.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "medical file not found")
		}
		return nil, appErrors.FromError(err)
	}
	return file, nil
}

// ListInReview returns the professional's review queue, oldest submission
// first, and whether the result came from cache.
func (s *MedicalFileService) ListInReview(ctx context.Context, professional *models.User) ([]models.MedicalFile, bool, error) {
	key := reviewCacheKey(professional.ID)
	var cached []models.MedicalFile
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, true, nil
	}

	files, err := s.files.ListInReviewByProfessional(ctx, professional.ID)
	if err != nil {
		return nil, false, appErrors.FromError(err)
	}
	_ = s.cache.Set(ctx, key, files, 0)
	return files, false, nil
}

func (s *MedicalFileService) approve(ctx context.Context, file *models.MedicalFile, ts time.Time) error {
	version, err := s.snapshots.NextVersion(ctx, file.ID)
	if err != nil {
		return err
	}
	sections, err := s.files.ListSections(ctx, file.ID)
	if err != nil {
		return appErrors.FromError(err)
	}

	patientName := s.displayName(ctx, file.PatientID)
	studentName := ""
	if file.StudentID != nil {
		studentName = s.displayName(ctx, *file.StudentID)
	}

	snap, err := s.snapshots.Prepare(ctx, file, patientName, studentName, sections, version)
	if err != nil {
		return err
	}
	if err := s.files.ApproveWithSnapshot(ctx, file.ID, ts, snap); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.snapshots.Discard(snap)
			return appErrors.Clone(appErrors.ErrInvalidTransition, "file is not in review")
		}
		return appErrors.FromError(err)
	}
	return nil
}

// recordVerdictComment attaches the reviewer's remark after the transition
// committed. The verdict stands even if the comment write fails.
func (s *MedicalFileService) recordVerdictComment(ctx context.Context, fileID, authorID, body string) {
	if body == "" {
		return
	}
	comment := &models.FileComment{FileID: fileID, AuthorID: authorID, Body: body}
	if err := s.files.AddComment(ctx, comment); err != nil {
		s.logger.Warn("verdict comment not recorded",
			zap.String("file_id", fileID),
			zap.String("author_id", authorID),
			zap.Error(err))
	}
}

func (s *MedicalFileService) load(ctx context.Context, fileID string) (*models.MedicalFile, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "medical file not found")
		}
		return nil, appErrors.FromError(err)
	}
	return file, nil
}

func (s *MedicalFileService) displayName(ctx context.Context, userID string) string {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return ""
	}
	return user.FullName()
}

func (s *MedicalFileService) invalidateReviewQueue(ctx context.Context, file *models.MedicalFile, fallbackProfessional string) {
	professionalID := fallbackProfessional
	if file.ProfessionalID != nil {
		professionalID = *file.ProfessionalID
	}
	if professionalID == "" {
		return
	}
	_ = s.cache.Invalidate(ctx, reviewCacheKey(professionalID))
}

func canView(actor *models.User, file *models.MedicalFile) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RolePatient:
		return file.PatientID == actor.ID
	case models.RoleStudent:
		return file.StudentID != nil && *file.StudentID == actor.ID
	case models.RoleProfessional:
		return file.ProfessionalID != nil && *file.ProfessionalID == actor.ID
	}
	return false
}

func reviewCacheKey(professionalID string) string {
	return "files:review:" + professionalID
}
