package handler

import (
	"context"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clinrecs/clinical-records-api/internal/dto"
	"github.com/clinrecs/clinical-records-api/internal/middleware"
	"github.com/clinrecs/clinical-records-api/internal/models"
	"github.com/clinrecs/clinical-records-api/internal/service"
	appErrors "github.com/clinrecs/clinical-records-api/pkg/errors"
	"github.com/clinrecs/clinical-records-api/pkg/response"
)

type fileReader interface {
	Get(ctx context.Context, actor *models.User, fileID string) (*service.FileDetail, error)
	MyFile(ctx context.Context, patient *models.User) (*models.MedicalFile, error)
	ListInReview(ctx context.Context, professional *models.User) ([]models.MedicalFile, bool, error)
}

type snapshotReader interface {
	Download(ctx context.Context, fileID string, version int) (*dto.SnapshotDownload, error)
	OpenByToken(token string) (*os.File, error)
}

// FileHandler exposes the medical file workflow endpoints.
type FileHandler struct {
	workflow  workflowDispatcher
	files     fileReader
	snapshots snapshotReader
}

// NewFileHandler constructs the handler.
func NewFileHandler(workflow workflowDispatcher, files fileReader, snapshots snapshotReader) *FileHandler {
	return &FileHandler{workflow: workflow, files: files, snapshots: snapshots}
}

func (h *FileHandler) actor(c *gin.Context) (*models.User, bool) {
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

// Submit godoc
// @Summary Send a file for professional review
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/submit [post]
func (h *FileHandler) Submit(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	result, err := h.workflow.Dispatch(c.Request.Context(), actor, models.Action{
		Verb:     models.VerbSubmitFile,
		TargetID: c.Param("id"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Review godoc
// @Summary Professional verdict on a file in review
// @Tags Files
// @Accept json
// @Produce json
// @Param id path string true "File ID"
// @Param payload body dto.ReviewFileRequest true "Verdict"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/review [post]
func (h *FileHandler) Review(c *gin.Context) {
	var req dto.ReviewFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid review payload"))
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	result, err := h.workflow.Dispatch(c.Request.Context(), actor, models.Action{
		Verb:     models.VerbReviewFile,
		TargetID: c.Param("id"),
		Decision: models.Decision(req.Action),
		Comment:  req.Comment,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Confirm godoc
// @Summary Patient verdict on an approved file
// @Tags Files
// @Accept json
// @Produce json
// @Param id path string true "File ID"
// @Param payload body dto.ConfirmFileRequest true "Verdict"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/confirm [post]
func (h *FileHandler) Confirm(c *gin.Context) {
	var req dto.ConfirmFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid confirmation payload"))
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	result, err := h.workflow.Dispatch(c.Request.Context(), actor, models.Action{
		Verb:     models.VerbConfirmFile,
		TargetID: c.Param("id"),
		Decision: models.Decision(req.Action),
		Comment:  req.Comment,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// UpsertBackground godoc
// @Summary Replace one interview section of the file
// @Tags Files
// @Accept json
// @Produce json
// @Param id path string true "File ID"
// @Param section path string true "Section name"
// @Param payload body dto.UpsertBackgroundRequest true "Section payload"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/background/{section} [put]
func (h *FileHandler) UpsertBackground(c *gin.Context) {
	var req dto.UpsertBackgroundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid section payload"))
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	result, err := h.workflow.Dispatch(c.Request.Context(), actor, models.Action{
		Verb:     models.VerbUpdateBackground,
		TargetID: c.Param("id"),
		Section:  models.BackgroundSectionName(c.Param("section")),
		Payload:  req.Payload,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Get godoc
// @Summary Aggregate view of one medical file
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Router /files/{id} [get]
func (h *FileHandler) Get(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	detail, err := h.files.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Mine godoc
// @Summary The calling patient's own file
// @Tags Files
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /files/mine [get]
func (h *FileHandler) Mine(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	file, err := h.files.MyFile(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, file, nil)
}

// ReviewQueue godoc
// @Summary Files awaiting the calling professional's verdict
// @Tags Files
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /files/review [get]
func (h *FileHandler) ReviewQueue(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	files, hit, err := h.files.ListInReview(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, files, nil, middleware.ExtractMeta(c))
}

// Snapshots godoc
// @Summary Snapshot history of one medical file
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/snapshots [get]
func (h *FileHandler) Snapshots(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	detail, err := h.files.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	snaps := detail.Snapshots
	if snaps == nil {
		snaps = []models.Snapshot{}
	}
	response.JSON(c, http.StatusOK, snaps, nil)
}

// DownloadSnapshot godoc
// @Summary Signed download link for one snapshot version
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Param version path int true "Snapshot version"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/snapshots/{version}/download [get]
func (h *FileHandler) DownloadSnapshot(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	// Visibility piggybacks on the aggregate view check.
	if _, err := h.files.Get(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "version must be a positive integer"))
		return
	}
	link, err := h.snapshots.Download(c.Request.Context(), c.Param("id"), version)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// SnapshotContent godoc
// @Summary Serve a snapshot artifact addressed by a signed token
// @Tags Files
// @Produce application/pdf
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /snapshots/content [get]
func (h *FileHandler) SnapshotContent(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, err := h.snapshots.OpenByToken(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.FromError(err))
		return
	}
	c.DataFromReader(http.StatusOK, info.Size(), "application/pdf", file, nil)
}
