package api

import (
	"net/http"
	"testing"

	apperrors "nexthire/backend/pkg/errors"
	"nexthire/backend/pkg/jwt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type authResponse struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
	Token string `json:"token"`
}

func TestRegisterLoginMe(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name":     "Dana",
		"email":    "Dana@Example.com",
		"password": "correct-horse",
		"role":     "employer",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	registered := decode[authResponse](t, w)
	assert.Equal(t, "dana@example.com", registered.User.Email)
	assert.Equal(t, "employer", registered.User.Role)
	assert.NotContains(t, w.Body.String(), "correct-horse")

	claims, err := env.tokens.ValidateToken(registered.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, claims.UserID)
	assert.Equal(t, jwt.RoleEmployer, claims.Role)

	w = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "dana@example.com",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	loggedIn := decode[authResponse](t, w)
	assert.Equal(t, registered.User.ID, loggedIn.User.ID)

	w = env.do(t, http.MethodGet, "/api/auth/me", registered.User.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"Dana"`)
}

func TestRegisterRejections(t *testing.T) {
	env := newAPIEnv(t)
	valid := map[string]string{"name": "Eve", "email": "eve@example.com", "password": "long-enough"}

	w := env.do(t, http.MethodPost, "/api/auth/register", "", valid)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/register", "", valid)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.CodeConflict, decode[errorBody](t, w).Error.Code)

	w = env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"name": "Mallory", "email": "m@example.com", "password": "long-enough", "role": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"name": "Short", "email": "s@example.com", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeValidation, decode[errorBody](t, w).Error.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newAPIEnv(t)
	env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"name": "Finn", "email": "finn@example.com", "password": "right-password"})

	w := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "finn@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperrors.CodeBadLogin, decode[errorBody](t, w).Error.Code)

	w = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "whatever"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMeRequiresToken(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/auth/me", "ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
