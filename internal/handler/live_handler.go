package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/middleware"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/service"
	"github.com/noah-isme/geo-attendance-api/pkg/response"
)

const (
	defaultLiveBufferSize = 16
	defaultLiveKeepalive  = 25 * time.Second
)

var (
	errSubscriberBacklog = errors.New("live subscriber backlog full")
	errSubscriberClosed  = errors.New("live subscriber closed")
)

type liveAuthorizer interface {
	AuthorizeLive(ctx context.Context, claims *models.JWTClaims, sessionID string) (bool, error)
}

type liveRegistry interface {
	Subscribe(sessionID string, sub service.LiveSubscriber) func()
}

// LiveOptions tunes each event stream.
type LiveOptions struct {
	BufferSize int
	Keepalive  time.Duration
}

// LiveHandler streams session events to dashboards over server-sent events.
type LiveHandler struct {
	sessions liveAuthorizer
	registry liveRegistry
	opts     LiveOptions
	logger   *zap.Logger
}

// NewLiveHandler builds a live stream handler.
func NewLiveHandler(sessions liveAuthorizer, registry liveRegistry, opts LiveOptions, logger *zap.Logger) *LiveHandler {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultLiveBufferSize
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = defaultLiveKeepalive
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveHandler{sessions: sessions, registry: registry, opts: opts, logger: logger}
}

// Stream godoc
// @Summary Stream live session events
// @Description Server-sent events carrying `attendance` and `sessionEnded` frames. The token may be passed as a `token` query parameter.
// @Tags Sessions
// @Produce text/event-stream
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param token query string false "Access token for clients that cannot set headers"
// @Success 200 {string} string "event stream"
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/live/{id} [get]
func (h *LiveHandler) Stream(c *gin.Context) {
	sessionID := c.Param("id")
	ctx := c.Request.Context()
	active, err := h.sessions.AuthorizeLive(ctx, middleware.CurrentClaims(c), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}

	var sub *streamSubscriber
	if active {
		sub = newStreamSubscriber(h.opts.BufferSize)
		unsubscribe := h.registry.Subscribe(sessionID, sub)
		defer unsubscribe()
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	if _, err := io.WriteString(c.Writer, ": connected\n\n"); err != nil {
		return
	}
	c.Writer.Flush()

	// An ended session gets its terminal frame right away.
	if !active {
		data, _ := json.Marshal(dto.SessionEndedEvent{SessionID: sessionID})
		c.SSEvent(dto.LiveEventSessionEnded, string(data))
		c.Writer.Flush()
		return
	}

	ticker := time.NewTicker(h.opts.Keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			h.logger.Debug("live stream closed by registry", zap.String("session_id", sessionID))
			return
		case event := <-sub.events:
			c.SSEvent(event.Name, string(event.Data))
			c.Writer.Flush()
			if event.Name == dto.LiveEventSessionEnded {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// streamSubscriber buffers events for one connection. A full buffer fails the
// delivery so the registry drops the connection instead of blocking publishers.
type streamSubscriber struct {
	events chan service.LiveEvent
	done   chan struct{}
	once   sync.Once
}

func newStreamSubscriber(size int) *streamSubscriber {
	return &streamSubscriber{
		events: make(chan service.LiveEvent, size),
		done:   make(chan struct{}),
	}
}

func (s *streamSubscriber) Deliver(event service.LiveEvent) error {
	select {
	case <-s.done:
		return errSubscriberClosed
	default:
	}
	select {
	case s.events <- event:
		return nil
	default:
		return errSubscriberBacklog
	}
}

func (s *streamSubscriber) Close() {
	s.once.Do(func() { close(s.done) })
}
