// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/history"
	"github.com/taskdeck/taskdeck/internal/model"
	"github.com/taskdeck/taskdeck/internal/session"
)

// InstanceHandler handles HTTP requests for task instances.
type InstanceHandler struct {
	registry *session.Manager
	cfg      *config.Config
	history  *history.Store
}

// NewInstanceHandler creates a new InstanceHandler. history may be nil.
func NewInstanceHandler(registry *session.Manager, cfg *config.Config, hist *history.Store) *InstanceHandler {
	return &InstanceHandler{
		registry: registry,
		cfg:      cfg,
		history:  hist,
	}
}

// SpawnRequest represents the request body for spawning an instance.
type SpawnRequest struct {
	TaskID string            `json:"taskId" binding:"required"`
	Inputs map[string]string `json:"inputs"`
}

// ResizeRequest represents the request body for resizing an instance.
type ResizeRequest struct {
	Rows uint16 `json:"rows" binding:"required"`
	Cols uint16 `json:"cols" binding:"required"`
}

// InstanceResponse represents an instance in API responses.
type InstanceResponse struct {
	ID        string `json:"id"`
	TaskID    string `json:"taskId"`
	TaskName  string `json:"taskName"`
	Command   string `json:"command"`
	State     string `json:"state"`
	ExitCode  *int   `json:"exitCode,omitempty"`
	Message   string `json:"message,omitempty"`
	PID       int    `json:"pid,omitempty"`
	Rows      uint16 `json:"rows"`
	Cols      uint16 `json:"cols"`
	Duration  string `json:"duration"`
	StartedAt string `json:"startedAt"`
	EndedAt   string `json:"endedAt,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toInstanceResponse(info model.InstanceInfo) *InstanceResponse {
	resp := &InstanceResponse{
		ID:        info.ID,
		TaskID:    info.TaskID,
		TaskName:  info.TaskName,
		Command:   info.Command,
		State:     string(info.Status.State),
		PID:       info.PID,
		Rows:      info.Rows,
		Cols:      info.Cols,
		Duration:  info.Duration().Round(time.Second).String(),
		StartedAt: info.StartedAt.Format(time.RFC3339),
	}
	switch info.Status.State {
	case model.StateExited:
		code := info.Status.ExitCode
		resp.ExitCode = &code
	case model.StateError:
		resp.Message = info.Status.Message
	}
	if info.EndedAt != nil {
		resp.EndedAt = info.EndedAt.Format(time.RFC3339)
	}
	return resp
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// RegisterRoutes registers the instance routes on the given router group.
func (h *InstanceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/tasks", h.ListTasks)
	rg.POST("/instances", h.Spawn)
	rg.GET("/instances", h.List)
	rg.GET("/instances/:id", h.Get)
	rg.DELETE("/instances/:id", h.Kill)
	rg.POST("/instances/:id/resize", h.Resize)
	rg.GET("/instances/:id/buffer", h.Buffer)
	rg.GET("/history", h.History)
}

// ListTasks handles GET /api/tasks - lists the configured tasks.
func (h *InstanceHandler) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, h.cfg.Tasks)
}

// Spawn handles POST /api/instances - spawns a new instance of a task.
func (h *InstanceHandler) Spawn(c *gin.Context) {
	var req SpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	def, ok := h.cfg.Task(req.TaskID)
	if !ok {
		sendError(c, http.StatusNotFound, "TASK_NOT_FOUND", "Task "+req.TaskID+" not found")
		return
	}

	info, err := h.registry.Spawn(def, req.Inputs)
	if err != nil {
		var spawnErr *model.SpawnError
		if errors.As(err, &spawnErr) {
			sendError(c, http.StatusInternalServerError, "SPAWN_FAILED", err.Error())
			return
		}
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusCreated, toInstanceResponse(info))
}

// List handles GET /api/instances - lists all registered instances.
func (h *InstanceHandler) List(c *gin.Context) {
	infos := h.registry.List()
	response := make([]*InstanceResponse, len(infos))
	for i, info := range infos {
		response[i] = toInstanceResponse(info)
	}
	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/instances/:id - gets a specific instance.
func (h *InstanceHandler) Get(c *gin.Context) {
	info, err := h.registry.GetInfo(c.Param("id"))
	if err != nil {
		if errors.Is(err, model.ErrInstanceNotFound) {
			sendError(c, http.StatusNotFound, "INSTANCE_NOT_FOUND", "Instance "+c.Param("id")+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, toInstanceResponse(info))
}

// Kill handles DELETE /api/instances/:id - terminates an instance. With
// ?remove=true the terminal instance is also dropped from the registry.
func (h *InstanceHandler) Kill(c *gin.Context) {
	id := c.Param("id")

	status, err := h.registry.Kill(id)
	if err != nil {
		if errors.Is(err, model.ErrInstanceNotFound) {
			sendError(c, http.StatusNotFound, "INSTANCE_NOT_FOUND", "Instance "+id+" not found")
			return
		}
		if errors.Is(err, model.ErrTerminationTimeout) {
			sendError(c, http.StatusGatewayTimeout, "KILL_TIMEOUT", err.Error())
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if c.Query("remove") == "true" {
		if err := h.registry.Remove(id); err != nil {
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": status})
}

// Resize handles POST /api/instances/:id/resize.
func (h *InstanceHandler) Resize(c *gin.Context) {
	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if err := h.registry.Resize(c.Param("id"), req.Rows, req.Cols); err != nil {
		if errors.Is(err, model.ErrInstanceNotFound) {
			sendError(c, http.StatusNotFound, "INSTANCE_NOT_FOUND", "Instance "+c.Param("id")+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// Buffer handles GET /api/instances/:id/buffer - returns the ring buffer
// snapshot as raw bytes.
func (h *InstanceHandler) Buffer(c *gin.Context) {
	snap, err := h.registry.Snapshot(c.Param("id"))
	if err != nil {
		if errors.Is(err, model.ErrInstanceNotFound) {
			sendError(c, http.StatusNotFound, "INSTANCE_NOT_FOUND", "Instance "+c.Param("id")+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", snap)
}

// History handles GET /api/history - lists finished instances from the
// persistent store. ?task= filters by task.
func (h *InstanceHandler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, []*InstanceResponse{})
		return
	}

	infos, err := h.history.List(c.Query("task"), h.cfg.HistoryLimit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	response := make([]*InstanceResponse, len(infos))
	for i, info := range infos {
		response[i] = toInstanceResponse(info)
	}
	c.JSON(http.StatusOK, response)
}
