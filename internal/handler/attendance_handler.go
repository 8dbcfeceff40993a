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

type attendanceService interface {
	Submit(ctx context.Context, claims *models.JWTClaims, req dto.SubmitAttendanceRequest) (*dto.SubmitAttendanceResponse, error)
	Submissions(ctx context.Context, claims *models.JWTClaims, sessionID string) (*dto.SessionSubmissions, error)
	StudentHistory(ctx context.Context, claims *models.JWTClaims, studentID string) ([]dto.StudentHistoryItem, error)
}

// AttendanceHandler exposes student admission and attendance read endpoints.
type AttendanceHandler struct {
	service attendanceService
}

// NewAttendanceHandler builds an attendance handler.
func NewAttendanceHandler(service attendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: service}
}

// Submit godoc
// @Summary Submit attendance for an active session
// @Description Resolves the class code, verifies the caller is inside the geofence and records attendance.
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.SubmitAttendanceRequest true "Attendance payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /attendance/submit [post]
func (h *AttendanceHandler) Submit(c *gin.Context) {
	var req dto.SubmitAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendance payload"))
		return
	}
	result, err := h.service.Submit(c.Request.Context(), middleware.CurrentClaims(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Submissions godoc
// @Summary List submissions for a session
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param sessionId query string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attendance/submissions [get]
func (h *AttendanceHandler) Submissions(c *gin.Context) {
	var query dto.SubmissionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	result, err := h.service.Submissions(c.Request.Context(), middleware.CurrentClaims(c), query.SessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// StudentHistory godoc
// @Summary List a student's attendance history
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /attendance/student/{studentId} [get]
func (h *AttendanceHandler) StudentHistory(c *gin.Context) {
	items, err := h.service.StudentHistory(c.Request.Context(), middleware.CurrentClaims(c), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, map[string]interface{}{"total": len(items)})
}
