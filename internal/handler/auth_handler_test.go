package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/clinrecs/clinical-records-api/internal/dto"
	"github.com/clinrecs/clinical-records-api/internal/middleware"
	"github.com/clinrecs/clinical-records-api/internal/models"
	appErrors "github.com/clinrecs/clinical-records-api/pkg/errors"
)

type responseEnvelope struct {
	Data  map[string]interface{} `json:"data"`
	Error map[string]interface{} `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

type fakeAuthSrv struct {
	user      *models.User
	loginResp *models.LoginResponse
	err       error
	lastLogin models.LoginRequest
}

func (f *fakeAuthSrv) Register(_ context.Context, req dto.RegisterRequest) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

func (f *fakeAuthSrv) Login(_ context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	f.lastLogin = req
	if f.err != nil {
		return nil, f.err
	}
	return f.loginResp, nil
}

func (f *fakeAuthSrv) Me(context.Context, string) (*models.User, *models.AcademicProfile, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.user, nil, nil
}

func jsonRequest(method, target string, payload interface{}) *http.Request {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAuthHandlerRegisterInvalidPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(&fakeAuthSrv{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader([]byte("{broken")))

	handler.Register(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandlerRegisterCreated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(&fakeAuthSrv{
		user: &models.User{ID: "u-1", Email: "ana@example.com", Role: models.RoleStudent, Status: models.StatusPending},
	})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = jsonRequest(http.MethodPost, "/auth/register", dto.RegisterRequest{
		FirstName: "Ana", FirstSurname: "Lopez", BirthDay: "2000-01-10",
		Email: "ana@example.com", Password: "secret-pass", Role: "student",
	})

	handler.Register(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var envelope responseEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &envelope)
	assert.Equal(t, "u-1", envelope.Data["id"])
}

func TestAuthHandlerLoginCapturesClientInfo(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeAuthSrv{loginResp: &models.LoginResponse{AccessToken: "token-1"}}
	handler := NewAuthHandler(srv)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = jsonRequest(http.MethodPost, "/auth/login", models.LoginRequest{Email: "ana@example.com", Password: "secret"})
	c.Request.Header.Set("User-Agent", "test-agent")

	handler.Login(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test-agent", srv.lastLogin.UserAgent)
}

func TestAuthHandlerLoginInvalidCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(&fakeAuthSrv{err: appErrors.ErrInvalidCredentials})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = jsonRequest(http.MethodPost, "/auth/login", models.LoginRequest{Email: "ana@example.com", Password: "bad"})

	handler.Login(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var envelope responseEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &envelope)
	assert.Equal(t, "INVALID_CREDENTIALS", envelope.Error["code"])
}

func TestAuthHandlerMeRequiresClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(&fakeAuthSrv{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/auth/me", nil)

	handler.Me(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandlerMeSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(&fakeAuthSrv{
		user: &models.User{ID: "u-1", Email: "ana@example.com"},
	})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-1"})

	handler.Me(c)

	assert.Equal(t, http.StatusOK, rec.Code)
}
