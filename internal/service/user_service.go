package service

import (
	"context"
	"errors"
	"strings"

	"nexthire/backend/internal/models"
	"nexthire/backend/pkg/cache"
	apperrors "nexthire/backend/pkg/errors"
	"nexthire/backend/pkg/jwt"

	"gorm.io/gorm"
)

var (
	ErrUserAlreadyExists  = errors.New("user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
)

// UserDirectory resolves user ids to the identity block shown next to messages
type UserDirectory interface {
	GetSummary(ctx context.Context, id string) (models.UserSummary, error)
	GetSummaries(ctx context.Context, ids []string) (map[string]models.UserSummary, error)
}

// UserService handles registration, login and user lookups
type UserService struct {
	db        *gorm.DB
	tokens    *jwt.Service
	summaries *cache.Cache[string, models.UserSummary]
}

// NewUserService creates a new user service. summaries may be nil to disable caching.
func NewUserService(db *gorm.DB, tokens *jwt.Service, summaries *cache.Cache[string, models.UserSummary]) *UserService {
	return &UserService{db: db, tokens: tokens, summaries: summaries}
}

// CreateUser registers a job seeker or employer and returns a signed token
func (s *UserService) CreateUser(ctx context.Context, req *models.CreateUserRequest) (*models.User, string, error) {
	role := jwt.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if role == "" {
		role = jwt.RoleJobSeeker
	}
	// admins are provisioned out of band
	if !role.Valid() || role == jwt.RoleAdmin {
		return nil, "", apperrors.Validation("Role must be jobseeker or employer")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, "", apperrors.Storage(err)
	}
	if count > 0 {
		return nil, "", emailTaken()
	}

	user := models.User{
		Name:     strings.TrimSpace(req.Name),
		Email:    email,
		Password: req.Password,
		Role:     string(role),
		Avatar:   req.Avatar,
	}

	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		// a concurrent registration can take the email after the check above
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, "", emailTaken()
		}
		return nil, "", apperrors.Storage(err)
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Email, role)
	if err != nil {
		return nil, "", err
	}

	return &user, token, nil
}

// Login authenticates a user and returns a JWT token
func (s *UserService) Login(ctx context.Context, req *models.LoginRequest) (*models.User, string, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", invalidCredentials()
		}
		return nil, "", apperrors.Storage(err)
	}

	if !models.CheckPasswordHash(req.Password, user.Password) {
		return nil, "", invalidCredentials()
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Email, jwt.Role(user.Role))
	if err != nil {
		return nil, "", err
	}

	return &user, token, nil
}

// GetUserByID retrieves a user by ID
func (s *UserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, userNotFound()
		}
		return nil, apperrors.Storage(err)
	}
	return &user, nil
}

// GetSummary returns the identity block of one user
func (s *UserService) GetSummary(ctx context.Context, id string) (models.UserSummary, error) {
	summaries, err := s.GetSummaries(ctx, []string{id})
	if err != nil {
		return models.UserSummary{}, err
	}
	summary, ok := summaries[id]
	if !ok {
		return models.UserSummary{}, userNotFound()
	}
	return summary, nil
}

// GetSummaries resolves ids in one query, serving what it can from the cache.
// Unknown ids are absent from the result.
func (s *UserService) GetSummaries(ctx context.Context, ids []string) (map[string]models.UserSummary, error) {
	result := make(map[string]models.UserSummary, len(ids))
	missing := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))

	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}

		if s.summaries != nil {
			if summary, ok := s.summaries.Get(id); ok {
				result[id] = summary
				continue
			}
		}
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return result, nil
	}

	var users []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", missing).Find(&users).Error; err != nil {
		return nil, apperrors.Storage(err)
	}

	for i := range users {
		summary := users[i].Summary()
		result[summary.ID] = summary
		if s.summaries != nil {
			s.summaries.Set(summary.ID, summary)
		}
	}
	return result, nil
}

func emailTaken() error {
	appErr := apperrors.NewConflictError(apperrors.CodeConflict, "A user with this email already exists")
	appErr.Err = ErrUserAlreadyExists
	return appErr
}

func userNotFound() error {
	appErr := apperrors.NotFound("User not found")
	appErr.Err = ErrUserNotFound
	return appErr
}

func invalidCredentials() error {
	appErr := apperrors.Unauthorized(apperrors.CodeBadLogin, "Invalid email or password")
	appErr.Err = ErrInvalidCredentials
	return appErr
}
