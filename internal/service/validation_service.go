package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clinrecs/clinical-records-api/internal/models"
	appErrors "github.com/clinrecs/clinical-records-api/pkg/errors"
)

// ValidationStore persists the approval ledger. Decide commits the whole
// outcome (ledger close, status flip, file assignment) as one unit.
type ValidationStore interface {
	Create(ctx context.Context, req *models.ValidationRequest) error
	FindPendingByRequester(ctx context.Context, requesterID string) (*models.ValidationRequest, error)
	FindPendingByPair(ctx context.Context, requesterID, targetID string) (*models.ValidationRequest, error)
	Decide(ctx context.Context, id string, out models.ValidationOutcome) error
	ListPendingForTarget(ctx context.Context, targetID string) ([]models.PendingValidation, error)
}

// supervisorRole maps each dependent role to the role that validates it.
var supervisorRole = map[models.UserRole]models.UserRole{
	models.RoleStudent: models.RoleProfessional,
	models.RolePatient: models.RoleStudent,
}

// ValidationService runs the approval ledger: students request validation
// from professionals, patients from students, and admins validate
// professionals directly.
type ValidationService struct {
	requests ValidationStore
	users    UserStore
	cache    *CacheService
	logger   *zap.Logger
}

// NewValidationService constructs a validation service.
func NewValidationService(requests ValidationStore, users UserStore, cache *CacheService, logger *zap.Logger) *ValidationService {
	return &ValidationService{requests: requests, users: users, cache: cache, logger: logger}
}

// Request opens a pending validation request towards the supervisor and moves
// the requester to pre_approved. The supervisor does not have to be validated
// themselves yet; their own downstream actions stay gated on their status.
// Re-requesting the same supervisor while a request is pending returns the
// existing request; a pending request towards a different supervisor is a
// conflict.
func (s *ValidationService) Request(ctx context.Context, requester *models.User, targetID string) (*models.ValidationRequest, error) {
	wantRole, ok := supervisorRole[requester.Role]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "this role cannot request validation")
	}
	if requester.Status == models.StatusApproved {
		return nil, appErrors.Clone(appErrors.ErrConflict, "account is already validated")
	}

	if existing, err := s.requests.FindPendingByRequester(ctx, requester.ID); err == nil {
		if existing.TargetID == targetID {
			return existing, nil
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "a validation request is already pending")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.FromError(err)
	}

	target, err := s.users.FindByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "target user not found")
		}
		return nil, appErrors.FromError(err)
	}
	if target.Role != wantRole {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("target must be a %s", wantRole))
	}

	req := &models.ValidationRequest{RequesterID: requester.ID, TargetID: targetID}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, appErrors.FromError(err)
	}

	// An open request marks the requester pre_approved; a re-request after
	// rejection resets the account the same way.
	expected := []models.UserStatus{models.StatusPending, models.StatusRejected, models.StatusPreApproved}
	if err := s.users.UpdateStatus(ctx, requester.ID, expected, models.StatusPreApproved, nil, time.Now().UTC()); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.FromError(err)
		}
		s.logger.Warn("requester status not moved to pre_approved",
			zap.String("requester_id", requester.ID))
	} else {
		requester.Status = models.StatusPreApproved
	}

	s.invalidatePending(ctx, targetID)
	return req, nil
}

// Decide closes the pending request addressed from requesterID to the
// decider. On approval the requester becomes approved with the decider as
// validator; when a student approves their patient, the patient's file is
// opened for data entry in the same commit. Exactly one of two concurrent
// decisions wins; the loser observes an invalid transition.
func (s *ValidationService) Decide(ctx context.Context, decider *models.User, requesterID string, approve bool) (*models.ValidationRequest, error) {
	req, err := s.requests.FindPendingByPair(ctx, requesterID, decider.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "no pending validation request from this user remains")
		}
		return nil, appErrors.FromError(err)
	}

	now := time.Now().UTC()
	out := models.ValidationOutcome{
		Decision:       models.DecisionRejected,
		DecidedAt:      now,
		RequesterID:    requesterID,
		ExpectedStatus: []models.UserStatus{models.StatusPending, models.StatusPreApproved},
		NextStatus:     models.StatusRejected,
	}
	if approve {
		out.Decision = models.DecisionApproved
		out.NextStatus = models.StatusApproved
		out.ApprovedBy = &decider.ID
		if decider.Role == models.RoleStudent {
			out.AssignStudentID = decider.ID
		}
	}

	if err := s.requests.Decide(ctx, req.ID, out); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "validation request was already decided")
		}
		return nil, appErrors.FromError(err)
	}
	req.Decision = out.Decision
	req.DecidedAt = &now

	s.invalidatePending(ctx, decider.ID)
	return req, nil
}

// ValidateProfessional is the admin's direct verdict on a professional
// account. Professionals do not go through the request ledger.
func (s *ValidationService) ValidateProfessional(ctx context.Context, admin *models.User, professionalID string, approve bool) (*models.User, error) {
	pro, err := s.users.FindByID(ctx, professionalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "professional not found")
		}
		return nil, appErrors.FromError(err)
	}
	if pro.Role != models.RoleProfessional {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user is not a professional")
	}

	now := time.Now().UTC()
	nextStatus := models.StatusRejected
	var approvedBy *string
	if approve {
		nextStatus = models.StatusApproved
		approvedBy = &admin.ID
	}
	expected := []models.UserStatus{models.StatusPending}
	if err := s.users.UpdateStatus(ctx, pro.ID, expected, nextStatus, approvedBy, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "professional was already validated")
		}
		return nil, appErrors.FromError(err)
	}

	pro.Status = nextStatus
	pro.ApprovedBy = approvedBy
	if approve {
		pro.ApprovedAt = &now
	}
	return pro, nil
}

// ListPending returns the requests awaiting the supervisor's decision,
// oldest first, and whether the result came from cache.
func (s *ValidationService) ListPending(ctx context.Context, target *models.User) ([]models.PendingValidation, bool, error) {
	key := pendingCacheKey(target.ID)
	var cached []models.PendingValidation
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, true, nil
	}

	pending, err := s.requests.ListPendingForTarget(ctx, target.ID)
	if err != nil {
		return nil, false, appErrors.FromError(err)
	}
	_ = s.cache.Set(ctx, key, pending, 0)
	return pending, false, nil
}

func (s *ValidationService) invalidatePending(ctx context.Context, targetID string) {
	_ = s.cache.Invalidate(ctx, pendingCacheKey(targetID))
}

func pendingCacheKey(targetID string) string {
	return "validations:pending:" + targetID
}
