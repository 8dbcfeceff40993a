package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Geo Attendance API",
        "description": "Geofenced class attendance with live session updates",
        "version": "1.0.0"
    },
    "basePath": "/api",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [
        {"BearerAuth": []}
    ],
    "tags": [
        {"name": "Sessions", "description": "Class session lifecycle and live updates"},
        {"name": "Attendance", "description": "Student admission and attendance records"}
    ],
    "paths": {
        "/sessions/start": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Start a class session",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/StartSessionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid payload or active session exists", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not faculty", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Course not found or access denied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sessions/end/{id}": {
            "post": {
                "tags": ["Sessions"],
                "summary": "End a class session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Active session not found or access denied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sessions/active": {
            "get": {
                "tags": ["Sessions"],
                "summary": "List active sessions",
                "parameters": [
                    {"name": "courseId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Access denied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sessions/live/{id}": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Stream live session events",
                "description": "Server-sent events. Emits attendance and sessionEnded frames plus keepalive comments.",
                "produces": ["text/event-stream"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "token", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Event stream"},
                    "401": {"description": "Access token required", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Invalid token or access denied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Session not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sessions/{id}/attendance": {
            "get": {
                "tags": ["Sessions"],
                "summary": "List attendance recorded for a session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/submit": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Submit attendance",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitAttendanceRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Rejected by admission", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not a student", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/submissions": {
            "get": {
                "tags": ["Attendance"],
                "summary": "List submissions for a session",
                "parameters": [
                    {"name": "sessionId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "sessionId is required", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Session not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/student/{studentId}": {
            "get": {
                "tags": ["Attendance"],
                "summary": "List a student's attendance history",
                "parameters": [
                    {"name": "studentId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Access denied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "StartSessionRequest": {
            "type": "object",
            "required": ["courseId", "lat", "lng"],
            "properties": {
                "courseId": {"type": "string"},
                "lat": {"type": "number", "minimum": -90, "maximum": 90},
                "lng": {"type": "number", "minimum": -180, "maximum": 180},
                "radiusM": {"type": "integer", "minimum": 10, "maximum": 1000, "default": 100},
                "durationMinutes": {"type": "integer", "minimum": 15, "maximum": 180, "default": 60}
            }
        },
        "DeviceInfo": {
            "type": "object",
            "properties": {
                "userAgent": {"type": "string", "maxLength": 500},
                "platform": {"type": "string", "maxLength": 50},
                "screenSize": {"type": "string", "maxLength": 20}
            }
        },
        "SubmitAttendanceRequest": {
            "type": "object",
            "required": ["classCode", "lat", "lng"],
            "properties": {
                "classCode": {"type": "string", "maxLength": 32},
                "lat": {"type": "number", "minimum": -90, "maximum": 90},
                "lng": {"type": "number", "minimum": -180, "maximum": 180},
                "deviceInfo": {"$ref": "#/definitions/DeviceInfo"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
