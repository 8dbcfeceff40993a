package handler

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/middleware"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/service"
	"github.com/noah-isme/geo-attendance-api/pkg/config"
)

const (
	scenarioCourseID     = "5b0e6a1c-3f55-4c6e-8f3a-0c1b2d3e4f50"
	scenarioFacultyID    = "0f1e2d3c-4b5a-4968-8776-655443322110"
	scenarioOtherFaculty = "3c4d5e6f-7a8b-4c9d-8e0f-1a2b3c4d5e6f"
	scenarioStudentA     = "1a2b3c4d-5e6f-4a8b-9c0d-1e2f3a4b5c6d"
	scenarioStudentB     = "2b3c4d5e-6f7a-4b8c-9d0e-1f2a3b4c5d6e"
)

type scenarioApp struct {
	server      *httptest.Server
	store       *memoryStore
	auth        *service.AuthService
	broadcaster *service.Broadcaster
}

func newScenarioApp(t *testing.T) *scenarioApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemoryStore()
	for _, user := range []models.User{
		{ID: scenarioFacultyID, Email: "grace@example.edu", FullName: "Grace Hopper", Role: models.RoleFaculty, Active: true},
		{ID: scenarioStudentA, Email: "ada@example.edu", FullName: "Ada Lovelace", Role: models.RoleStudent, Active: true},
		{ID: scenarioStudentB, Email: "alan@example.edu", FullName: "Alan Turing", Role: models.RoleStudent, Active: true},
	} {
		store.users[user.ID] = user
	}
	store.courses[scenarioCourseID] = models.Course{ID: scenarioCourseID, Code: "CS101", Name: "Intro to Computing", FacultyID: scenarioFacultyID, Semester: "2026-S1"}

	metrics := service.NewMetricsService()
	broadcaster := service.NewBroadcaster(nil, metrics)
	auth := service.NewAuthService(nil, service.AuthConfig{AccessTokenSecret: "scenario-secret", AccessTokenExpiry: time.Hour})

	sessions := memorySessions{store: store}
	attendance := memoryAttendance{store: store}
	sessionSvc := service.NewSessionService(sessions, memoryCourses{store: store}, attendance, nil, broadcaster, nil, nil, metrics, service.SessionOptions{})
	attendanceSvc := service.NewAttendanceService(sessions, attendance, memoryUsers{store: store}, broadcaster, nil, nil, metrics)

	router := gin.New()
	router.Use(middleware.Metrics(metrics))
	RegisterRoutes(router.Group("/api"), RouterDeps{
		Auth:        auth,
		Sessions:    NewSessionHandler(sessionSvc, attendanceSvc),
		Attendance:  NewAttendanceHandler(attendanceSvc),
		Live:        NewLiveHandler(sessionSvc, broadcaster, LiveOptions{Keepalive: time.Hour}, nil),
		RateLimiter: middleware.NewRateLimiter(nil, nil, metrics),
		RateLimit:   config.RateLimitConfig{Enabled: true, Window: time.Minute, SessionStartMax: 5, SubmitMax: 3},
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	// Runs before server.Close so open streams finish.
	t.Cleanup(broadcaster.Close)

	return &scenarioApp{server: server, store: store, auth: auth, broadcaster: broadcaster}
}

func (a *scenarioApp) token(t *testing.T, id string, role models.UserRole) string {
	t.Helper()
	token, _, err := a.auth.IssueAccessToken(models.User{ID: id, Role: role})
	require.NoError(t, err)
	return token
}

func (a *scenarioApp) do(t *testing.T, method, path, token string, payload interface{}) (int, map[string]interface{}) {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, a.server.URL+path, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func errorMessage(body map[string]interface{}) string {
	errBody, _ := body["error"].(map[string]interface{})
	message, _ := errBody["message"].(string)
	return message
}

func submitPayload(code string, lat, lng float64) map[string]interface{} {
	return map[string]interface{}{"classCode": code, "lat": lat, "lng": lng}
}

func TestAttendanceScenarios(t *testing.T) {
	app := newScenarioApp(t)
	facultyToken := app.token(t, scenarioFacultyID, models.RoleFaculty)
	studentA := app.token(t, scenarioStudentA, models.RoleStudent)
	studentB := app.token(t, scenarioStudentB, models.RoleStudent)

	status, body := app.do(t, http.MethodPost, "/api/sessions/start", facultyToken, map[string]interface{}{
		"courseId": scenarioCourseID, "lat": 0, "lng": 0, "radiusM": 100, "durationMinutes": 60,
	})
	require.Equal(t, http.StatusCreated, status, body)
	session := body["data"].(map[string]interface{})
	sessionID := session["id"].(string)
	code := session["class_code"].(string)
	require.Len(t, code, 6)
	assert.Equal(t, "CS101", session["course"].(map[string]interface{})["code"])

	status, body = app.do(t, http.MethodPost, "/api/sessions/start", facultyToken, map[string]interface{}{
		"courseId": scenarioCourseID, "lat": 0, "lng": 0,
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Active session already exists for this course", errorMessage(body))

	client := &http.Client{Timeout: 5 * time.Second}
	stream, err := client.Get(fmt.Sprintf("%s/api/sessions/live/%s?token=%s", app.server.URL, sessionID, facultyToken))
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	events := bufio.NewReader(stream.Body)
	require.Equal(t, "connected", readFrame(t, events).Comment)

	t.Run("admits a student inside the geofence", func(t *testing.T) {
		status, body := app.do(t, http.MethodPost, "/api/attendance/submit", studentA, submitPayload(code, 0.0001, 0.0001))
		require.Equal(t, http.StatusCreated, status, body)
		data := body["data"].(map[string]interface{})
		assert.Equal(t, "Attendance submitted successfully", data["message"])
		assert.Equal(t, true, data["attendance"].(map[string]interface{})["is_verified"])

		frame := readFrame(t, events)
		assert.Equal(t, dto.LiveEventAttendance, frame.Event)
		var event dto.AttendanceEvent
		require.NoError(t, json.Unmarshal([]byte(frame.Data), &event))
		assert.Equal(t, scenarioStudentA, event.Student.ID)
		assert.Equal(t, "Ada Lovelace", event.Student.Name)
		assert.True(t, event.IsVerified)
	})

	t.Run("rejects a second submission", func(t *testing.T) {
		loose := strings.ToLower(code[:3]) + "-" + code[3:]
		status, body := app.do(t, http.MethodPost, "/api/attendance/submit", studentA, submitPayload(loose, 0.0001, 0.0001))
		require.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Attendance already submitted for this session", errorMessage(body))
	})

	t.Run("rejects a student outside the geofence", func(t *testing.T) {
		status, body := app.do(t, http.MethodPost, "/api/attendance/submit", studentB, submitPayload(code, 1, 1))
		require.Equal(t, http.StatusBadRequest, status)
		message := errorMessage(body)
		assert.Contains(t, message, "Location verification failed")
		assert.Regexp(t, regexp.MustCompile(`You are \d+m away from the classroom \(max: 100m\)`), message)
	})

	t.Run("lists the session with its attendance count", func(t *testing.T) {
		status, body := app.do(t, http.MethodGet, "/api/sessions/active", facultyToken, nil)
		require.Equal(t, http.StatusOK, status)
		items := body["data"].([]interface{})
		require.Len(t, items, 1)
		assert.Equal(t, float64(1), items[0].(map[string]interface{})["attendance_count"])

		status, _ = app.do(t, http.MethodGet, "/api/sessions/active", studentA, nil)
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("ends the session and closes the code", func(t *testing.T) {
		status, body := app.do(t, http.MethodPost, "/api/sessions/end/"+sessionID, facultyToken, nil)
		require.Equal(t, http.StatusOK, status, body)
		data := body["data"].(map[string]interface{})
		assert.Equal(t, false, data["is_active"])
		assert.Len(t, data["attendance"], 1)

		frame := readFrame(t, events)
		assert.Equal(t, dto.LiveEventSessionEnded, frame.Event)
		assert.JSONEq(t, fmt.Sprintf(`{"sessionId":%q}`, sessionID), frame.Data)

		status, body = app.do(t, http.MethodPost, "/api/attendance/submit", studentB, submitPayload(code, 0, 0))
		require.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Invalid class code or session not active", errorMessage(body))

		status, body = app.do(t, http.MethodPost, "/api/sessions/end/"+sessionID, facultyToken, nil)
		require.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "Active session not found or access denied", errorMessage(body))
	})

	t.Run("reads submissions and history after the session", func(t *testing.T) {
		status, body := app.do(t, http.MethodGet, "/api/attendance/submissions?sessionId="+sessionID, facultyToken, nil)
		require.Equal(t, http.StatusOK, status)
		data := body["data"].(map[string]interface{})
		assert.Equal(t, "CS101", data["course"].(map[string]interface{})["code"])
		assert.Len(t, data["submissions"], 1)

		status, body = app.do(t, http.MethodGet, "/api/attendance/student/"+scenarioStudentA, studentA, nil)
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, body["data"], 1)

		status, _ = app.do(t, http.MethodGet, "/api/attendance/student/"+scenarioStudentA, studentB, nil)
		assert.Equal(t, http.StatusForbidden, status)

		status, body = app.do(t, http.MethodGet, "/api/attendance/student/"+scenarioStudentA, facultyToken, nil)
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, body["data"], 1)

		otherFaculty := app.token(t, scenarioOtherFaculty, models.RoleFaculty)
		status, body = app.do(t, http.MethodGet, "/api/attendance/student/"+scenarioStudentA, otherFaculty, nil)
		require.Equal(t, http.StatusOK, status)
		assert.Empty(t, body["data"])
		assert.Equal(t, float64(0), body["meta"].(map[string]interface{})["total"])
	})
}

func TestExpiredSessionStaysListedButRejectsSubmissions(t *testing.T) {
	app := newScenarioApp(t)
	facultyToken := app.token(t, scenarioFacultyID, models.RoleFaculty)
	studentA := app.token(t, scenarioStudentA, models.RoleStudent)

	status, body := app.do(t, http.MethodPost, "/api/sessions/start", facultyToken, map[string]interface{}{
		"courseId": scenarioCourseID, "lat": 0, "lng": 0,
	})
	require.Equal(t, http.StatusCreated, status, body)
	data := body["data"].(map[string]interface{})
	sessionID := data["id"].(string)
	code := data["class_code"].(string)

	app.store.mu.Lock()
	session := app.store.sessions[sessionID]
	session.EndTime = time.Now().Add(-time.Minute)
	app.store.sessions[sessionID] = session
	app.store.mu.Unlock()

	status, body = app.do(t, http.MethodGet, "/api/sessions/active", facultyToken, nil)
	require.Equal(t, http.StatusOK, status)
	items := body["data"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, sessionID, items[0].(map[string]interface{})["id"])

	status, body = app.do(t, http.MethodPost, "/api/attendance/submit", studentA, submitPayload(code, 0, 0))
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Session has expired", errorMessage(body))
	assert.Equal(t, "SESSION_EXPIRED", body["error"].(map[string]interface{})["code"])
}

func TestLiveStreamAuthentication(t *testing.T) {
	app := newScenarioApp(t)
	facultyToken := app.token(t, scenarioFacultyID, models.RoleFaculty)
	status, body := app.do(t, http.MethodPost, "/api/sessions/start", facultyToken, map[string]interface{}{
		"courseId": scenarioCourseID, "lat": 0, "lng": 0,
	})
	require.Equal(t, http.StatusCreated, status, body)
	sessionID := body["data"].(map[string]interface{})["id"].(string)

	status, _ = app.do(t, http.MethodGet, "/api/sessions/live/"+sessionID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = app.do(t, http.MethodGet, "/api/sessions/live/"+sessionID+"?token=not-a-jwt", "", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = app.do(t, http.MethodGet, "/api/sessions/live/"+sessionID, app.token(t, scenarioStudentA, models.RoleStudent), nil)
	assert.Equal(t, http.StatusForbidden, status)

	otherFaculty := app.token(t, scenarioOtherFaculty, models.RoleFaculty)
	status, _ = app.do(t, http.MethodGet, "/api/sessions/live/"+sessionID, otherFaculty, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestSubmitRateLimited(t *testing.T) {
	app := newScenarioApp(t)
	studentA := app.token(t, scenarioStudentA, models.RoleStudent)

	for i := 0; i < 3; i++ {
		status, _ := app.do(t, http.MethodPost, "/api/attendance/submit", studentA, submitPayload("ZZZZZZ", 0, 0))
		require.Equal(t, http.StatusBadRequest, status)
	}
	status, body := app.do(t, http.MethodPost, "/api/attendance/submit", studentA, submitPayload("ZZZZZZ", 0, 0))
	require.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "Too many requests. Please try again later.", errorMessage(body))
}
