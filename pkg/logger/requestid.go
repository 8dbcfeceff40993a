package logger

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader    = "X-Request-ID"
	contextRequestID   = "request_id"
	maxRequestIDLength = 128
)

// RequestID assigns every request an id, echoed in the X-Request-ID header.
// Client supplied ids are kept only when short and free of control characters.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if !validRequestID(reqID) {
			reqID = uuid.NewString()
		}

		c.Set(contextRequestID, reqID)
		c.Writer.Header().Set(requestIDHeader, reqID)

		c.Next()
	}
}

// RequestIDValue returns the id assigned by RequestID.
func RequestIDValue(c *gin.Context) string {
	return c.GetString(contextRequestID)
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
