package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/clinrecs/clinical-records-api/internal/dto"
	"github.com/clinrecs/clinical-records-api/internal/middleware"
	"github.com/clinrecs/clinical-records-api/internal/models"
	"github.com/clinrecs/clinical-records-api/internal/service"
	appErrors "github.com/clinrecs/clinical-records-api/pkg/errors"
)

type fakeWorkflow struct {
	actor      *models.User
	actorErr   error
	result     interface{}
	err        error
	lastAction models.Action
}

func (f *fakeWorkflow) ResolveActor(_ context.Context, userID string) (*models.User, error) {
	if f.actorErr != nil {
		return nil, f.actorErr
	}
	if f.actor != nil {
		return f.actor, nil
	}
	return &models.User{ID: userID}, nil
}

func (f *fakeWorkflow) Dispatch(_ context.Context, _ *models.User, action models.Action) (interface{}, error) {
	f.lastAction = action
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeFileReader struct {
	detail *service.FileDetail
	file   *models.MedicalFile
	files  []models.MedicalFile
	hit    bool
	err    error
}

func (f *fakeFileReader) Get(context.Context, *models.User, string) (*service.FileDetail, error) {
	return f.detail, f.err
}

func (f *fakeFileReader) MyFile(context.Context, *models.User) (*models.MedicalFile, error) {
	return f.file, f.err
}

func (f *fakeFileReader) ListInReview(context.Context, *models.User) ([]models.MedicalFile, bool, error) {
	return f.files, f.hit, f.err
}

type fakeSnapshotReader struct {
	link *dto.SnapshotDownload
	err  error
}

func (f *fakeSnapshotReader) Download(context.Context, string, int) (*dto.SnapshotDownload, error) {
	return f.link, f.err
}

func (f *fakeSnapshotReader) OpenByToken(string) (*os.File, error) {
	return nil, f.err
}

func authedContext(t *testing.T, rec *httptest.ResponseRecorder, req *http.Request) *gin.Context {
	t.Helper()
	c, _ := gin.CreateTestContext(rec)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-1", Role: models.RoleStudent})
	return c
}

func TestFileHandlerSubmitDispatchesAction(t *testing.T) {
	gin.SetMode(gin.TestMode)
	workflow := &fakeWorkflow{result: &models.MedicalFile{ID: "file-1", FileStatus: models.StatusReview}}
	handler := NewFileHandler(workflow, &fakeFileReader{}, &fakeSnapshotReader{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, httptest.NewRequest(http.MethodPost, "/files/file-1/submit", nil))
	c.Params = gin.Params{{Key: "id", Value: "file-1"}}

	handler.Submit(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.VerbSubmitFile, workflow.lastAction.Verb)
	assert.Equal(t, "file-1", workflow.lastAction.TargetID)
}

func TestFileHandlerSubmitLostRaceConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	workflow := &fakeWorkflow{err: appErrors.Clone(appErrors.ErrInvalidTransition, "file cannot be submitted from its current state")}
	handler := NewFileHandler(workflow, &fakeFileReader{}, &fakeSnapshotReader{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, httptest.NewRequest(http.MethodPost, "/files/file-1/submit", nil))
	c.Params = gin.Params{{Key: "id", Value: "file-1"}}

	handler.Submit(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
	var envelope responseEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &envelope)
	assert.Equal(t, "INVALID_TRANSITION", envelope.Error["code"])
}

func TestFileHandlerReviewMapsVerdict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	workflow := &fakeWorkflow{result: &models.MedicalFile{ID: "file-1"}}
	handler := NewFileHandler(workflow, &fakeFileReader{}, &fakeSnapshotReader{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, jsonRequest(http.MethodPost, "/files/file-1/review", dto.ReviewFileRequest{
		Action: "reject", Comment: "missing family history",
	}))
	c.Params = gin.Params{{Key: "id", Value: "file-1"}}

	handler.Review(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.VerbReviewFile, workflow.lastAction.Verb)
	assert.Equal(t, models.DecisionActReject, workflow.lastAction.Decision)
	assert.Equal(t, "missing family history", workflow.lastAction.Comment)
}

func TestFileHandlerUpsertBackgroundMapsSection(t *testing.T) {
	gin.SetMode(gin.TestMode)
	workflow := &fakeWorkflow{result: &models.BackgroundSection{Section: models.SectionFamily}}
	handler := NewFileHandler(workflow, &fakeFileReader{}, &fakeSnapshotReader{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, jsonRequest(http.MethodPut, "/files/file-1/background/family", dto.UpsertBackgroundRequest{
		Payload: json.RawMessage(`{"diabetes":true}`),
	}))
	c.Params = gin.Params{{Key: "id", Value: "file-1"}, {Key: "section", Value: "family"}}

	handler.UpsertBackground(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.SectionFamily, workflow.lastAction.Section)
	assert.JSONEq(t, `{"diabetes":true}`, string(workflow.lastAction.Payload))
}

func TestFileHandlerRequiresClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewFileHandler(&fakeWorkflow{}, &fakeFileReader{}, &fakeSnapshotReader{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/files/file-1/submit", nil)
	c.Params = gin.Params{{Key: "id", Value: "file-1"}}

	handler.Submit(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFileHandlerSnapshotContentRequiresToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewFileHandler(&fakeWorkflow{}, &fakeFileReader{}, &fakeSnapshotReader{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/snapshots/content", nil)

	handler.SnapshotContent(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFileHandlerListsSnapshotHistory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewFileHandler(&fakeWorkflow{}, &fakeFileReader{detail: &service.FileDetail{
		Snapshots: []models.Snapshot{{ID: "snap-1", Version: 1}, {ID: "snap-2", Version: 2}},
	}}, &fakeSnapshotReader{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, httptest.NewRequest(http.MethodGet, "/files/file-1/snapshots", nil))
	c.Params = gin.Params{{Key: "id", Value: "file-1"}}

	handler.Snapshots(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data []map[string]interface{} `json:"data"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &envelope)
	assert.Len(t, envelope.Data, 2)
	assert.Equal(t, float64(2), envelope.Data[1]["version"])
}

func TestFileHandlerReviewQueueReportsCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewFileHandler(&fakeWorkflow{}, &fakeFileReader{hit: true}, &fakeSnapshotReader{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, httptest.NewRequest(http.MethodGet, "/files/review", nil))

	handler.ReviewQueue(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope responseEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &envelope)
	assert.Equal(t, true, envelope.Meta["cache_hit"])
}

func TestFileHandlerDownloadSnapshotValidatesVersion(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewFileHandler(&fakeWorkflow{}, &fakeFileReader{detail: &service.FileDetail{}}, &fakeSnapshotReader{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, httptest.NewRequest(http.MethodGet, "/files/file-1/snapshots/zero/download", nil))
	c.Params = gin.Params{{Key: "id", Value: "file-1"}, {Key: "version", Value: "zero"}}

	handler.DownloadSnapshot(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
