// Package handlers provides HTTP API request handlers.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/httpterm/internal/bridge"
	"github.com/remote-agent-terminal/httpterm/internal/model"
	"github.com/remote-agent-terminal/httpterm/internal/session"
)

// Sessions is the session lifecycle used by the terminal endpoints.
type Sessions interface {
	Create(ctx context.Context, id string, rows, cols int) (*session.Session, error)
	Resize(ctx context.Context, id string, rows, cols int) error
	Destroy(ctx context.Context, id string) error
	List() []session.Info
	Len() int
}

// Terminals moves input and output for registered sessions.
type Terminals interface {
	Poll(ctx context.Context, id string) (bridge.Output, error)
	Write(id, text string) error
	Scrollback(id string) (string, error)
}

// History lists persisted session instances.
type History interface {
	ListBySessionID(ctx context.Context, sessionID string) ([]*model.SessionRecord, error)
}

// TerminalHandler handles HTTP requests for terminal sessions.
type TerminalHandler struct {
	sessions  Sessions
	terminals Terminals
	history   History
}

// NewTerminalHandler creates a TerminalHandler. history may be nil when no
// store is configured.
func NewTerminalHandler(sessions Sessions, terminals Terminals, history History) *TerminalHandler {
	return &TerminalHandler{
		sessions:  sessions,
		terminals: terminals,
		history:   history,
	}
}

// InputRequest is the body of POST /terminal/input.
type InputRequest struct {
	Input string `json:"input"`
}

// ResizeRequest is the body of POST /terminal/resize.
type ResizeRequest struct {
	Rows *int `json:"rows"`
	Cols *int `json:"cols"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type scrollbackResponse struct {
	Output string `json:"output"`
}

var okResponse = statusResponse{Status: "ok"}

// Create handles GET /terminal - creates the session if it does not exist.
func (h *TerminalHandler) Create(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}

	rows, err := queryInt(c, "rows", model.DefaultRows)
	if err != nil {
		sendError(c, http.StatusBadRequest, CodeValidation, "rows must be an integer")
		return
	}
	cols, err := queryInt(c, "cols", model.DefaultCols)
	if err != nil {
		sendError(c, http.StatusBadRequest, CodeValidation, "cols must be an integer")
		return
	}

	if _, err := h.sessions.Create(c.Request.Context(), id, rows, cols); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResponse)
}

// Output handles GET /terminal/output - drains pending output.
func (h *TerminalHandler) Output(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}

	out, err := h.terminals.Poll(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Input handles POST /terminal/input - writes keystrokes to the terminal.
func (h *TerminalHandler) Input(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}

	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, CodeValidation, "Invalid request body: "+err.Error())
		return
	}

	if err := h.terminals.Write(id, req.Input); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResponse)
}

// Resize handles POST /terminal/resize - changes the window size.
func (h *TerminalHandler) Resize(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}

	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, CodeValidation, "Invalid request body: "+err.Error())
		return
	}

	rows, cols := model.DefaultRows, model.DefaultCols
	if req.Rows != nil {
		rows = *req.Rows
	}
	if req.Cols != nil {
		cols = *req.Cols
	}

	if err := h.sessions.Resize(c.Request.Context(), id, rows, cols); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResponse)
}

// Delete handles DELETE /terminal - tears the session down.
func (h *TerminalHandler) Delete(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}

	if err := h.sessions.Destroy(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResponse)
}

// List handles GET /terminal/sessions.
func (h *TerminalHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.List())
}

// Scrollback handles GET /terminal/scrollback - recent output for a reloaded page.
func (h *TerminalHandler) Scrollback(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}

	text, err := h.terminals.Scrollback(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, scrollbackResponse{Output: text})
}

// History handles GET /terminal/history - every recorded instance of a session id.
func (h *TerminalHandler) History(c *gin.Context) {
	if h.history == nil {
		writeError(c, model.ErrStoreDisabled)
		return
	}

	id, valid := sessionID(c)
	if !valid {
		return
	}

	records, err := h.history.ListBySessionID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// Health handles GET /health.
func (h *TerminalHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.sessions.Len(),
	})
}

// RegisterRoutes registers the terminal routes on a Gin router group.
func (h *TerminalHandler) RegisterRoutes(rg *gin.RouterGroup) {
	terminal := rg.Group("/terminal")
	{
		terminal.GET("", h.Create)
		terminal.DELETE("", h.Delete)
		terminal.GET("/output", h.Output)
		terminal.POST("/input", h.Input)
		terminal.POST("/resize", h.Resize)
		terminal.GET("/sessions", h.List)
		terminal.GET("/scrollback", h.Scrollback)
		terminal.GET("/history", h.History)
	}
	rg.GET("/health", h.Health)
}

// sessionID reads the session_id query parameter, writing a validation error
// when it is absent.
func sessionID(c *gin.Context) (string, bool) {
	id := c.Query("session_id")
	if id == "" {
		sendError(c, http.StatusBadRequest, CodeValidation, "session_id is required")
		return "", false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
