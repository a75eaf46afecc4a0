package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinrecs/clinical-records-api/internal/dto"
	"github.com/clinrecs/clinical-records-api/internal/middleware"
	"github.com/clinrecs/clinical-records-api/internal/models"
	appErrors "github.com/clinrecs/clinical-records-api/pkg/errors"
	"github.com/clinrecs/clinical-records-api/pkg/response"
)

type workflowDispatcher interface {
	ResolveActor(ctx context.Context, userID string) (*models.User, error)
	Dispatch(ctx context.Context, actor *models.User, action models.Action) (interface{}, error)
}

type validationReader interface {
	ListPending(ctx context.Context, target *models.User) ([]models.PendingValidation, bool, error)
}

// ValidationHandler exposes the approval ledger endpoints.
type ValidationHandler struct {
	workflow workflowDispatcher
	reader   validationReader
}

// NewValidationHandler constructs the handler.
func NewValidationHandler(workflow workflowDispatcher, reader validationReader) *ValidationHandler {
	return &ValidationHandler{workflow: workflow, reader: reader}
}

func (h *ValidationHandler) actor(c *gin.Context) (*models.User, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	actor, err := h.workflow.ResolveActor(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return actor, true
}

// Request godoc
// @Summary Ask a supervisor to validate the caller
// @Tags Validations
// @Accept json
// @Produce json
// @Param payload body dto.RequestValidationRequest true "Validation target"
// @Success 201 {object} response.Envelope
// @Router /validations/requests [post]
func (h *ValidationHandler) Request(c *gin.Context) {
	var req dto.RequestValidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid validation request payload"))
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	result, err := h.workflow.Dispatch(c.Request.Context(), actor, models.Action{
		Verb:     models.VerbRequestValidation,
		TargetID: req.TargetID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Pending godoc
// @Summary Pending validation requests addressed to the caller
// @Tags Validations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /validations/pending [get]
func (h *ValidationHandler) Pending(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	pending, hit, err := h.reader.ListPending(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, pending, nil, middleware.ExtractMeta(c))
}

// Decide godoc
// @Summary Approve or reject a pending validation request
// @Tags Validations
// @Accept json
// @Produce json
// @Param requesterId path string true "Requester user ID"
// @Param payload body dto.DecideValidationRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /validations/requests/{requesterId}/decide [post]
func (h *ValidationHandler) Decide(c *gin.Context) {
	var req dto.DecideValidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	result, err := h.workflow.Dispatch(c.Request.Context(), actor, models.Action{
		Verb:     models.VerbDecideValidation,
		TargetID: c.Param("requesterId"),
		Decision: models.Decision(req.Action),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
