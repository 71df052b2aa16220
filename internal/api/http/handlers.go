// Package http contains the REST handlers for the daemon.
package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shellgate/shellgate/internal/providers/profile"
	"github.com/shellgate/shellgate/internal/shared/id"
	"github.com/shellgate/shellgate/internal/terminal"
)

// Handlers contains all REST handlers.
type Handlers struct {
	registry *terminal.Registry
	profiles *profile.Store
	version  string
}

// NewHandlers creates a new handler set.
func NewHandlers(registry *terminal.Registry, profiles *profile.Store, version string) *Handlers {
	return &Handlers{
		registry: registry,
		profiles: profiles,
		version:  version,
	}
}

// Root handles the basic health check.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "shellgate",
		"version": h.version,
	})
}

// Health handles the detailed health check.
func (h *Handlers) Health(c *gin.Context) {
	sessions := h.registry.List()
	active := 0
	for _, s := range sessions {
		if s.State != terminal.StatusTerminated {
			active++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"sessions_total":  len(sessions),
		"sessions_active": active,
		"profiles":        h.profiles.List(),
	})
}

// CreateSessionRequest is the body for creating a profile session.
type CreateSessionRequest struct {
	ProfileAlias string   `json:"profile_alias" binding:"required"`
	Args         []string `json:"args"`
	Cols         uint16   `json:"cols"`
	Rows         uint16   `json:"rows"`
	WorkingDir   string   `json:"working_dir"`
	Sandboxed    bool     `json:"sandboxed"`
}

// CreateSession creates a profile session.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.registry.Create(c.Request.Context(), terminal.CreateRequest{
		Kind:       terminal.KindProfile,
		Reference:  req.ProfileAlias,
		Args:       req.Args,
		WorkingDir: req.WorkingDir,
		Size:       terminal.Size{Cols: req.Cols, Rows: req.Rows},
		Sandboxed:  req.Sandboxed,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": sess.ID,
		"ws_url":     "/ws/terminal/" + sess.ID.String(),
	})
}

// CreateShellRequest is the body for creating a shell session.
type CreateShellRequest struct {
	Shell      string   `json:"shell"`
	Args       []string `json:"args"`
	Cols       uint16   `json:"cols"`
	Rows       uint16   `json:"rows"`
	WorkingDir string   `json:"working_dir"`
	Sandboxed  bool     `json:"sandboxed"`
}

// CreateShell creates a shell session without a profile.
func (h *Handlers) CreateShell(c *gin.Context) {
	// An empty body is a valid request: default shell, default size.
	var req CreateShellRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.registry.Create(c.Request.Context(), terminal.CreateRequest{
		Kind:       terminal.KindShell,
		Reference:  req.Shell,
		Args:       req.Args,
		WorkingDir: req.WorkingDir,
		Size:       terminal.Size{Cols: req.Cols, Rows: req.Rows},
		Sandboxed:  req.Sandboxed,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": sess.ID,
		"ws_url":     "/ws/terminal/" + sess.ID.String(),
	})
}

// ListSessions lists all sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.registry.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession returns one session summary.
func (h *Handlers) GetSession(c *gin.Context) {
	sess, err := h.registry.Get(id.SessionID(c.Param("id")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Summary())
}

// ResizeRequest is the body for a resize.
type ResizeRequest struct {
	Cols uint16 `json:"cols" binding:"required"`
	Rows uint16 `json:"rows" binding:"required"`
}

// ResizeSession applies new session-wide dimensions.
func (h *Handlers) ResizeSession(c *gin.Context) {
	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.registry.Get(id.SessionID(c.Param("id")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if err := sess.Resize(terminal.Size{Cols: req.Cols, Rows: req.Rows}); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// TerminateSession ends a session; repeating it succeeds without effect.
func (h *Handlers) TerminateSession(c *gin.Context) {
	err := h.registry.Terminate(c.Request.Context(), id.SessionID(c.Param("id")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ReapSession removes a terminated session from the registry.
func (h *Handlers) ReapSession(c *gin.Context) {
	err := h.registry.Reap(id.SessionID(c.Param("id")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Cleanup reaps every terminated session now.
func (h *Handlers) Cleanup(c *gin.Context) {
	removed := h.registry.CleanupTerminated()
	c.JSON(http.StatusOK, gin.H{"reaped": removed})
}

// ListProfiles lists registered profile aliases.
func (h *Handlers) ListProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profiles": h.profiles.List()})
}

// abortWithError maps domain errors onto HTTP status codes.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, terminal.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, terminal.ErrInvalidState), errors.Is(err, terminal.ErrProfileBusy):
		status = http.StatusConflict
	case errors.Is(err, terminal.ErrSandboxUnavailable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, terminal.ErrSessionClosed):
		status = http.StatusGone
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
