package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/clinrecs/clinical-records-api/internal/lock"
	"github.com/clinrecs/clinical-records-api/internal/models"
	appErrors "github.com/clinrecs/clinical-records-api/pkg/errors"
)

// actionRoles lists which roles may perform each workflow verb.
var actionRoles = map[models.ActionVerb]map[models.UserRole]bool{
	models.VerbRequestValidation:    {models.RoleStudent: true, models.RolePatient: true},
	models.VerbDecideValidation:     {models.RoleProfessional: true, models.RoleStudent: true},
	models.VerbValidateProfessional: {models.RoleAdmin: true},
	models.VerbSubmitFile:           {models.RoleStudent: true},
	models.VerbReviewFile:           {models.RoleProfessional: true},
	models.VerbConfirmFile:          {models.RolePatient: true},
	models.VerbUpdateBackground:     {models.RoleStudent: true},
}

// auditByVerb maps each verb to its audit trail entry.
var auditByVerb = map[models.ActionVerb]struct{ action, resource string }{
	models.VerbRequestValidation:    {models.AuditActionValidationRequest, "validation_request"},
	models.VerbDecideValidation:     {models.AuditActionValidationDecide, "validation_request"},
	models.VerbValidateProfessional: {models.AuditActionProfessionalValidate, "user"},
	models.VerbSubmitFile:           {models.AuditActionFileSubmit, "medical_file"},
	models.VerbReviewFile:           {models.AuditActionFileReview, "medical_file"},
	models.VerbConfirmFile:          {models.AuditActionFileConfirm, "medical_file"},
	models.VerbUpdateBackground:     {models.AuditActionBackgroundUpdate, "medical_file"},
}

// WorkflowService is the single entry point for state-changing workflow
// actions. It authorises the actor, serializes work per entity, delegates to
// the owning service, and records the outcome. Reads go straight to the
// services; only mutations pass through Dispatch.
type WorkflowService struct {
	users       UserStore
	validations *ValidationService
	files       *MedicalFileService
	audit       *AuditService
	metrics     *MetricsService
	locks       *lock.Keyed
	logger      *zap.Logger
}

// NewWorkflowService constructs the coordinator.
func NewWorkflowService(users UserStore, validations *ValidationService, files *MedicalFileService, audit *AuditService, metrics *MetricsService, logger *zap.Logger) *WorkflowService {
	return &WorkflowService{
		users:       users,
		validations: validations,
		files:       files,
		audit:       audit,
		metrics:     metrics,
		locks:       lock.NewKeyed(),
		logger:      logger,
	}
}

// ResolveActor loads the acting user from their token subject. Authorisation
// reads the stored account, not the token, so a status change takes effect on
// the next request.
func (s *WorkflowService) ResolveActor(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "account no longer exists")
		}
		return nil, appErrors.FromError(err)
	}
	return user, nil
}

// Dispatch runs one workflow action on behalf of the actor. Actions on the
// same entity are serialized by a per-entity lock; the store-level
// compare-and-set still backstops writers outside this process, so of two
// conflicting transitions exactly one commits.
func (s *WorkflowService) Dispatch(ctx context.Context, actor *models.User, action models.Action) (result interface{}, err error) {
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordTransition(string(action.Verb), err)
		}
	}()

	allowed, known := actionRoles[action.Verb]
	if !known {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown workflow action")
	}
	if action.TargetID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "action target is required")
	}
	if !allowed[actor.Role] {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot perform this action")
	}
	if err := authorizeStatus(actor, action.Verb); err != nil {
		return nil, err
	}
	if err := validateDecision(action); err != nil {
		return nil, err
	}

	release := s.locks.Acquire(lockKey(actor, action))
	defer release()

	switch action.Verb {
	case models.VerbRequestValidation:
		result, err = s.validations.Request(ctx, actor, action.TargetID)
	case models.VerbDecideValidation:
		result, err = s.validations.Decide(ctx, actor, action.TargetID, action.Decision == models.DecisionActApprove)
	case models.VerbValidateProfessional:
		result, err = s.validations.ValidateProfessional(ctx, actor, action.TargetID, action.Decision == models.DecisionActApprove)
	case models.VerbSubmitFile:
		result, err = s.files.Submit(ctx, actor, action.TargetID)
	case models.VerbReviewFile:
		result, err = s.files.ProfessionalDecide(ctx, actor, action.TargetID, action.Decision == models.DecisionActApprove, action.Comment)
	case models.VerbConfirmFile:
		result, err = s.files.PatientDecide(ctx, actor, action.TargetID, action.Decision == models.DecisionActConfirm, action.Comment)
	case models.VerbUpdateBackground:
		result, err = s.files.UpsertBackground(ctx, actor, action.TargetID, action.Section, action.Payload)
	}
	if err != nil {
		return nil, err
	}

	s.recordAudit(actor, action)
	return result, nil
}

// authorizeStatus gates the actor's account status per verb. Admins carry no
// status. Requesting validation is the one action open to unvalidated
// accounts.
func authorizeStatus(actor *models.User, verb models.ActionVerb) error {
	if actor.Role == models.RoleAdmin || verb == models.VerbRequestValidation {
		return nil
	}
	if actor.Status != models.StatusApproved {
		return appErrors.Clone(appErrors.ErrForbidden, "account is not validated")
	}
	return nil
}

func validateDecision(action models.Action) error {
	switch action.Verb {
	case models.VerbDecideValidation, models.VerbValidateProfessional, models.VerbReviewFile:
		if action.Decision != models.DecisionActApprove && action.Decision != models.DecisionActReject {
			return appErrors.Clone(appErrors.ErrValidation, "decision must be approve or reject")
		}
	case models.VerbConfirmFile:
		if action.Decision != models.DecisionActConfirm && action.Decision != models.DecisionActReject {
			return appErrors.Clone(appErrors.ErrValidation, "decision must be confirm or reject")
		}
	}
	return nil
}

// lockKey picks the entity whose work must be serialized. Ledger verbs lock
// the user being (or asking to be) validated; file verbs lock the file.
func lockKey(actor *models.User, action models.Action) string {
	switch action.Verb {
	case models.VerbRequestValidation:
		return "user:" + actor.ID
	case models.VerbDecideValidation, models.VerbValidateProfessional:
		return "user:" + action.TargetID
	default:
		return "file:" + action.TargetID
	}
}

func (s *WorkflowService) recordAudit(actor *models.User, action models.Action) {
	entry, ok := auditByVerb[action.Verb]
	if !ok {
		return
	}
	targetID := action.TargetID
	s.audit.Record(&models.AuditLog{
		UserID:     &actor.ID,
		Action:     entry.action,
		Resource:   entry.resource,
		ResourceID: &targetID,
	})
}
