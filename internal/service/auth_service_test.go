package service

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/geo-attendance-api/internal/models"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
)

func TestAuthServiceIssueAndValidate(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, Issuer: "geo-attendance"})

	token, expiresAt, err := svc.IssueAccessToken(models.User{ID: "faculty-1", Role: models.RoleFaculty, Email: "dosen@campus.edu", FullName: "Dr. Rahman"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "faculty-1", claims.UserID)
	assert.Equal(t, models.RoleFaculty, claims.Role)
	assert.Equal(t, "geo-attendance", claims.Issuer)
}

func TestAuthServiceRejectsForeignSignature(t *testing.T) {
	issuer := NewAuthService(nil, AuthConfig{AccessTokenSecret: "other"})
	token, _, err := issuer.IssueAccessToken(models.User{ID: "student-1", Role: models.RoleStudent})
	require.NoError(t, err)

	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret"})
	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidToken.Code, appErr.Code)
	assert.Equal(t, http.StatusForbidden, appErr.Status)
}

func TestAuthServiceRejectsExpiredToken(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret"})
	claims := &models.JWTClaims{
		UserID: "student-1",
		Role:   models.RoleStudent,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestAuthServiceFallsBackToSubject(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret"})
	claims := &models.JWTClaims{
		Role:             models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-1"},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	parsed, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", parsed.UserID)
}

func TestAuthServiceRejectsTokenWithoutRole(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret"})
	claims := &models.JWTClaims{UserID: "user-1"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}
