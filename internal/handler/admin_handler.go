package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clinrecs/clinical-records-api/internal/dto"
	"github.com/clinrecs/clinical-records-api/internal/models"
	appErrors "github.com/clinrecs/clinical-records-api/pkg/errors"
	"github.com/clinrecs/clinical-records-api/pkg/response"
)

type userLister interface {
	ListUsers(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error)
}

// AdminHandler exposes administrative account management.
type AdminHandler struct {
	workflow workflowDispatcher
	users    userLister
}

// NewAdminHandler constructs the handler.
func NewAdminHandler(workflow workflowDispatcher, users userLister) *AdminHandler {
	return &AdminHandler{workflow: workflow, users: users}
}

// ValidateProfessional godoc
// @Summary Admin verdict on a professional account
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Professional user ID"
// @Param payload body dto.DecideValidationRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /admin/professionals/{id}/validate [post]
func (h *AdminHandler) ValidateProfessional(c *gin.Context) {
	var req dto.DecideValidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	actor, err := h.workflow.ResolveActor(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.workflow.Dispatch(c.Request.Context(), actor, models.Action{
		Verb:     models.VerbValidateProfessional,
		TargetID: c.Param("id"),
		Decision: models.Decision(req.Action),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ListUsers godoc
// @Summary List accounts filtered by role, status, or search term
// @Tags Admin
// @Produce json
// @Param role query string false "Role filter"
// @Param status query string false "Status filter"
// @Param search query string false "Name or email search"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/users [get]
func (h *AdminHandler) ListUsers(c *gin.Context) {
	filter := models.UserFilter{Search: c.Query("search")}
	if role := c.Query("role"); role != "" {
		typed := models.UserRole(role)
		filter.Role = &typed
	}
	if status := c.Query("status"); status != "" {
		typed := models.UserStatus(status)
		filter.Status = &typed
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	users, pagination, err := h.users.ListUsers(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}
