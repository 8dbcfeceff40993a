package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/middleware"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/response"
)

type sessionService interface {
	Start(ctx context.Context, claims *models.JWTClaims, req dto.StartSessionRequest) (*dto.SessionResponse, error)
	End(ctx context.Context, claims *models.JWTClaims, sessionID string) (*dto.SessionResponse, error)
	ListActive(ctx context.Context, claims *models.JWTClaims, query dto.ActiveSessionQuery) ([]dto.SessionResponse, error)
}

type sessionSubmissionsService interface {
	Submissions(ctx context.Context, claims *models.JWTClaims, sessionID string) (*dto.SessionSubmissions, error)
}

// SessionHandler exposes class session lifecycle endpoints.
type SessionHandler struct {
	sessions   sessionService
	attendance sessionSubmissionsService
}

// NewSessionHandler builds a session handler.
func NewSessionHandler(sessions sessionService, attendance sessionSubmissionsService) *SessionHandler {
	return &SessionHandler{sessions: sessions, attendance: attendance}
}

// Start godoc
// @Summary Start a class session
// @Description Opens a geofenced session for a course owned by the caller and returns its class code.
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.StartSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/start [post]
func (h *SessionHandler) Start(c *gin.Context) {
	var req dto.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid session payload"))
		return
	}
	session, err := h.sessions.Start(c.Request.Context(), middleware.CurrentClaims(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// End godoc
// @Summary End a class session
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/end/{id} [post]
func (h *SessionHandler) End(c *gin.Context) {
	session, err := h.sessions.End(c.Request.Context(), middleware.CurrentClaims(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session)
}

// ListActive godoc
// @Summary List active sessions
// @Description Admins see every active session, faculty only their own.
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param courseId query string false "Course ID filter"
// @Success 200 {object} response.Envelope
// @Router /sessions/active [get]
func (h *SessionHandler) ListActive(c *gin.Context) {
	var query dto.ActiveSessionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	sessions, err := h.sessions.ListActive(c.Request.Context(), middleware.CurrentClaims(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, map[string]interface{}{"total": len(sessions)})
}

// Attendance godoc
// @Summary List attendance recorded for a session
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id}/attendance [get]
func (h *SessionHandler) Attendance(c *gin.Context) {
	result, err := h.attendance.Submissions(c.Request.Context(), middleware.CurrentClaims(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}
