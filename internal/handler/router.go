package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/geo-attendance-api/internal/middleware"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/service"
	"github.com/noah-isme/geo-attendance-api/pkg/config"
)

// Rate limit scopes.
const (
	ScopeSessionStart     = "session_start"
	ScopeAttendanceSubmit = "attendance_submit"
)

// RouterDeps carries everything RegisterRoutes mounts.
type RouterDeps struct {
	Auth        *service.AuthService
	Sessions    *SessionHandler
	Attendance  *AttendanceHandler
	Live        *LiveHandler
	RateLimiter *middleware.RateLimiter
	RateLimit   config.RateLimitConfig
}

// RegisterRoutes mounts the attendance API on group.
func RegisterRoutes(group *gin.RouterGroup, deps RouterDeps) {
	// Start, end and submit check roles in the services so callers get the specific message.
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleFaculty)

	// EventSource cannot set headers, so the stream also accepts ?token=.
	group.GET("/sessions/live/:id", middleware.StreamJWT(deps.Auth), staff, deps.Live.Stream)

	secured := group.Group("")
	secured.Use(middleware.JWT(deps.Auth))

	sessions := secured.Group("/sessions")
	sessions.POST("/start", limit(deps, ScopeSessionStart, deps.RateLimit.SessionStartMax), deps.Sessions.Start)
	sessions.POST("/end/:id", deps.Sessions.End)
	sessions.GET("/active", staff, deps.Sessions.ListActive)
	sessions.GET("/:id/attendance", staff, deps.Sessions.Attendance)

	attendance := secured.Group("/attendance")
	attendance.POST("/submit", limit(deps, ScopeAttendanceSubmit, deps.RateLimit.SubmitMax), deps.Attendance.Submit)
	attendance.GET("/submissions", staff, deps.Attendance.Submissions)
	attendance.GET("/student/:studentId", deps.Attendance.StudentHistory)
}

func limit(deps RouterDeps, scope string, max int) gin.HandlerFunc {
	if !deps.RateLimit.Enabled || deps.RateLimiter == nil || max <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return deps.RateLimiter.Limit(scope, max, deps.RateLimit.Window)
}
