package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/dkeye/MeetRecorder/internal/domain"
	"github.com/dkeye/MeetRecorder/internal/store"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Recorder is the orchestrator surface the control API drives.
type Recorder interface {
	RequestStart(ctx context.Context, tab domain.TabID, platform domain.Platform, mode domain.RecordingMode) error
	RequestStop(ctx context.Context, tab domain.TabID, forceFlush bool)
	Reset(ctx context.Context) error
	Snapshot() (domain.RecordingSession, bool)
	SetPermission(ctx context.Context, p domain.Platform, enabled bool) (domain.PermissionSet, error)
}

type Meetings interface {
	Snapshot() []domain.MeetingSession
}

type HostEndpoint interface {
	HandleWS(ctx context.Context, c *gin.Context)
	Connected() bool
}

type Handlers struct {
	Recorder Recorder
	Meetings Meetings
	Host     HostEndpoint
	Store    core.Store
}

type StatusResponse struct {
	HostConnected bool                     `json:"hostConnected"`
	Recording     *domain.RecordingSession `json:"recording"`
	Meetings      []domain.MeetingSession  `json:"meetings"`
	Permissions   domain.PermissionSet     `json:"permissions"`
	LastAction    string                   `json:"lastAction,omitempty"`
}

type StartRequest struct {
	Tab      domain.TabID    `json:"tabId"`
	Platform domain.Platform `json:"platform"`
}

type PermissionRequest struct {
	Enabled bool `json:"enabled"`
}

const lastActionKey = "last_action"

func (h *Handlers) Status(c *gin.Context) {
	ps, err := store.Permissions(c.Request.Context(), h.Store)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	resp := StatusResponse{
		HostConnected: h.Host.Connected(),
		Meetings:      h.Meetings.Snapshot(),
		Permissions:   ps,
	}
	if s, ok := h.Recorder.Snapshot(); ok {
		resp.Recording = &s
	}
	if v, ok := sessions.Default(c).Get(lastActionKey).(string); ok {
		resp.LastAction = v
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) Permissions(c *gin.Context) {
	ps, err := store.Permissions(c.Request.Context(), h.Store)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, ps)
}

func (h *Handlers) SetPermission(c *gin.Context) {
	p := domain.Platform(c.Param("platform"))
	if !p.Valid() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown platform"})
		return
	}
	var req PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid body"})
		return
	}
	ps, err := h.Recorder.SetPermission(c.Request.Context(), p, req.Enabled)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	h.remember(c, "permission "+string(p)+"="+strconv.FormatBool(req.Enabled))
	c.JSON(http.StatusOK, ps)
}

// StartRecording is the manual start: it ignores auto-record permissions.
func (h *Handlers) StartRecording(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Tab <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid tabId"})
		return
	}
	if req.Platform == "" {
		for _, m := range h.Meetings.Snapshot() {
			if m.HostTab == req.Tab {
				req.Platform = m.Platform
				break
			}
		}
	}
	if !req.Platform.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown platform"})
		return
	}

	if err := h.Recorder.RequestStart(c.Request.Context(), req.Tab, req.Platform, domain.ModeManual); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Int("tab", int(req.Tab)).Msg("manual start")
	h.remember(c, "start")

	s, _ := h.Recorder.Snapshot()
	c.JSON(http.StatusAccepted, s)
}

// StopRecording stops whatever is recording. force=true flushes immediately.
func (h *Handlers) StopRecording(c *gin.Context) {
	force, _ := strconv.ParseBool(c.Query("force"))
	h.Recorder.RequestStop(c.Request.Context(), 0, force)
	h.remember(c, "stop")
	c.Status(http.StatusAccepted)
}

func (h *Handlers) Reset(c *gin.Context) {
	if err := h.Recorder.Reset(c.Request.Context()); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	h.remember(c, "reset")
	c.Status(http.StatusNoContent)
}

func (h *Handlers) remember(c *gin.Context, action string) {
	sess := sessions.Default(c)
	sess.Set(lastActionKey, action)
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAlreadyRecording):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoPermission):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNoSourceTab):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnresponsive):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"error": string(domain.ReasonOf(err)), "message": err.Error()})
}
