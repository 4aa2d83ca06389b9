package api

import (
	"context"
	"net/http"

	"nexthire/backend/internal/models"
	apperrors "nexthire/backend/pkg/errors"
	"nexthire/backend/pkg/logger"
	"nexthire/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// IdentityService is what the auth routes need from the user service
type IdentityService interface {
	CreateUser(ctx context.Context, req *models.CreateUserRequest) (*models.User, string, error)
	Login(ctx context.Context, req *models.LoginRequest) (*models.User, string, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	users IdentityService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(users IdentityService) *AuthHandler {
	return &AuthHandler{users: users}
}

// RegisterRoutes mounts register, login and me. auth guards the me route.
func (h *AuthHandler) RegisterRoutes(group *gin.RouterGroup, auth gin.HandlerFunc) {
	group.POST("/register", h.Register)
	group.POST("/login", h.Login)
	group.GET("/me", auth, h.Me)
}

// Register handles user registration
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.FromGin(c).Warn("Error binding JSON for register", "error", err.Error())
		_ = c.Error(apperrors.Validation("Invalid request format"))
		return
	}

	user, token, err := h.users.CreateUser(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user":  user,
		"token": token,
	})
}

// Login handles user authentication
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.FromGin(c).Warn("Error binding JSON for login", "error", err.Error())
		_ = c.Error(apperrors.Validation("Invalid request format"))
		return
	}

	user, token, err := h.users.Login(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	logger.FromGin(c).Info("User logged in",
		"user_id", user.ID,
		"role", user.Role,
	)

	c.JSON(http.StatusOK, gin.H{
		"user":  user,
		"token": token,
	})
}

// Me returns the current authenticated user
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.users.GetUserByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, user)
}
