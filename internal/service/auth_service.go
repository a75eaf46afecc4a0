package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/clinrecs/clinical-records-api/internal/dto"
	"github.com/clinrecs/clinical-records-api/internal/models"
	"github.com/clinrecs/clinical-records-api/pkg/config"
	appErrors "github.com/clinrecs/clinical-records-api/pkg/errors"
)

// UserStore provides user persistence for the auth and validation services.
type UserStore interface {
	Create(ctx context.Context, user *models.User, profile *models.AcademicProfile) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindAcademicProfile(ctx context.Context, userID string) (*models.AcademicProfile, error)
	UpdateStatus(ctx context.Context, id string, expected []models.UserStatus, next models.UserStatus, approvedBy *string, ts time.Time) error
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
}

// PatientFileCreator opens the patient's medical file at registration.
type PatientFileCreator interface {
	CreateForPatient(ctx context.Context, patientID string) (*models.MedicalFile, error)
}

// AuthService handles registration, login, and token validation.
type AuthService struct {
	users    UserStore
	files    PatientFileCreator
	audit    *AuditService
	validate *validator.Validate
	jwtCfg   config.JWTConfig
	logger   *zap.Logger
}

// NewAuthService constructs an auth service.
func NewAuthService(users UserStore, files PatientFileCreator, audit *AuditService, jwtCfg config.JWTConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:    users,
		files:    files,
		audit:    audit,
		validate: validator.New(),
		jwtCfg:   jwtCfg,
		logger:   logger,
	}
}

// Register creates a new account in the pending state. Students and
// professionals must supply an academic profile; patients additionally get
// their medical file opened in the empty state.
func (s *AuthService) Register(ctx context.Context, req dto.RegisterRequest) (*models.User, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	role := models.UserRole(req.Role)
	var profile *models.AcademicProfile
	if role == models.RoleStudent || role == models.RoleProfessional {
		if req.Institution == "" || req.Career == "" || req.AcademicGrade == "" || req.RegisterNumber == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "academic profile is required for students and professionals")
		}
		profile = &models.AcademicProfile{
			Institution:    req.Institution,
			Career:         req.Career,
			AcademicGrade:  req.AcademicGrade,
			RegisterNumber: req.RegisterNumber,
		}
	}

	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email is already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.FromError(err)
	}

	birthDay, err := time.Parse("2006-01-02", req.BirthDay)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "birth_day must use the YYYY-MM-DD format")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	user := &models.User{
		Email:         req.Email,
		PasswordHash:  string(hash),
		FirstName:     req.FirstName,
		SecondName:    optional(req.SecondName),
		FirstSurname:  req.FirstSurname,
		SecondSurname: optional(req.SecondSurname),
		BirthDay:      birthDay,
		Phone:         optional(req.Phone),
		Role:          role,
		Status:        models.StatusPending,
	}
	if err := s.users.Create(ctx, user, profile); err != nil {
		return nil, appErrors.FromError(err)
	}

	if role == models.RolePatient {
		if _, err := s.files.CreateForPatient(ctx, user.ID); err != nil {
			s.logger.Error("open patient file", zap.String("patient_id", user.ID), zap.Error(err))
			return nil, appErrors.FromError(err)
		}
	}

	s.audit.Record(&models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionRegister,
		Resource:   "user",
		ResourceID: &user.ID,
	})
	return user, nil
}

// Login authenticates the credentials and issues an access token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, appErrors.FromError(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.ErrInvalidCredentials
	}
	if user.Status == models.StatusRejected {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "account has been rejected")
	}

	token, issuedAt, err := s.issueToken(user)
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	s.audit.Record(&models.AuditLog{
		UserID:    &user.ID,
		Action:    models.AuditActionLogin,
		Resource:  "user",
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	})

	return &models.LoginResponse{
		AccessToken: token,
		ExpiresIn:   int64(s.jwtCfg.Expiration.Seconds()),
		User:        userInfo(user),
		IssuedAt:    issuedAt,
	}, nil
}

// Me returns the caller's account plus academic profile when present.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, *models.AcademicProfile, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, nil, appErrors.FromError(err)
	}
	profile, err := s.users.FindAcademicProfile(ctx, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, appErrors.FromError(err)
	}
	return user, profile, nil
}

// ListUsers returns users matching the filter, for administrative listings
// and supervisor pickers.
func (s *AuthService) ListUsers(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.FromError(err)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// ValidateToken parses and verifies an access token.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	claims := &models.JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "unexpected signing method")
		}
		return []byte(s.jwtCfg.Secret), nil
	})
	if err != nil || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired token")
	}
	return claims, nil
}

func (s *AuthService) issueToken(user *models.User) (string, time.Time, error) {
	now := time.Now().UTC()
	claims := models.JWTClaims{
		UserID: user.ID,
		Role:   user.Role,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.jwtCfg.Issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtCfg.Expiration)),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.jwtCfg.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, now, nil
}

func userInfo(user *models.User) models.UserInfo {
	return models.UserInfo{
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName(),
		Role:     user.Role,
		Status:   user.Status,
	}
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
