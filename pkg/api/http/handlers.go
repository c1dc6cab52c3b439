package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oteiza/mago/internal/application/orchestrator"
	"github.com/oteiza/mago/internal/application/workers"
	"github.com/oteiza/mago/internal/domain"
)

// TaskSubmitRequest represents a task submission request
type TaskSubmitRequest struct {
	TaskID   string `json:"task_id"`
	Workflow string `json:"workflow"`
	Input    string `json:"input" binding:"required"`
	Priority string `json:"priority"`
}

// TaskSubmitResponse represents a task submission response
type TaskSubmitResponse struct {
	TaskID      string `json:"task_id"`
	Workflow    string `json:"workflow"`
	State       string `json:"state"`
	SubmittedAt string `json:"submitted_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// errorStatus maps a domain error kind to an HTTP status code.
func errorStatus(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindUnknownWorkflow:
		return http.StatusUnprocessableEntity
	case domain.KindDuplicateTask:
		return http.StatusConflict
	case domain.KindInvalidTransition:
		return http.StatusConflict
	case domain.KindConfig:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorJSON(c *gin.Context, err error) {
	c.JSON(errorStatus(err), ErrorResponse{
		Error: ErrorDetail{
			Code:    string(domain.KindOf(err)),
			Message: err.Error(),
		},
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	poolHealthy := true
	var workerStatus map[string]workers.WorkerStatus
	if s.pool != nil {
		workerStatus = s.pool.GetStatus()
		for _, st := range workerStatus {
			if st == workers.WorkerStatusStopped {
				poolHealthy = false
			}
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !poolHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": gin.H{
			"orchestrator": "ok",
			"worker_pool":  workerStatus,
		},
	})
}

// handleSubmitTask handles task submission
func (s *Server) handleSubmitTask(c *gin.Context) {
	var req TaskSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	task, err := s.orchestrator.Submit(c.Request.Context(), orchestrator.SubmitRequest{
		TaskID:   req.TaskID,
		Workflow: req.Workflow,
		Input:    req.Input,
		Priority: domain.TaskPriority(req.Priority),
	})
	if err != nil {
		s.logger.Error("failed to submit task", zap.Error(err))
		errorJSON(c, err)
		return
	}

	c.JSON(http.StatusCreated, TaskSubmitResponse{
		TaskID:      task.ID,
		Workflow:    task.Workflow,
		State:       string(task.State),
		SubmittedAt: task.CreatedAt.Format(time.RFC3339),
	})
}

// handleListTasks handles listing tasks
func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.orchestrator.List(c.Request.Context())
	if err != nil {
		errorJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"total": len(tasks),
	})
}

// handleGetTask handles getting task details
func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.orchestrator.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

// handleGetResult handles getting a task result
func (s *Server) handleGetResult(c *gin.Context) {
	taskID := c.Param("id")

	result, err := s.orchestrator.Result(c.Request.Context(), taskID)
	if err != nil {
		errorJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id": taskID,
		"result":  result,
	})
}

// handleCancelTask handles task cancellation
func (s *Server) handleCancelTask(c *gin.Context) {
	taskID := c.Param("id")

	if err := s.orchestrator.Cancel(c.Request.Context(), taskID); err != nil {
		errorJSON(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": taskID,
		"status":  "cancellation_requested",
	})
}

// handleResetTask handles returning a terminal task to idle
func (s *Server) handleResetTask(c *gin.Context) {
	task, err := s.orchestrator.Reset(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

// handleListWorkflows handles listing registered workflows and agents
func (s *Server) handleListWorkflows(c *gin.Context) {
	snap := s.orchestrator.Registry()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrorDetail{
				Code:    "REGISTRY_NOT_LOADED",
				Message: "Collaboration rules are not loaded",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"version":   snap.Version,
		"loaded_at": snap.LoadedAt.Format(time.RFC3339),
		"agents":    snap.Agents,
		"workflows": snap.Workflows,
	})
}

// handleReloadRegistry handles reloading the rules document
func (s *Server) handleReloadRegistry(c *gin.Context) {
	if err := s.orchestrator.Reload(c.Request.Context()); err != nil {
		s.logger.Error("registry reload failed", zap.Error(err))
		errorJSON(c, err)
		return
	}

	snap := s.orchestrator.Registry()
	c.JSON(http.StatusOK, gin.H{
		"status":    "reloaded",
		"version":   snap.Version,
		"agents":    len(snap.Agents),
		"workflows": len(snap.Workflows),
	})
}

// handleGetStats handles the task statistics endpoint
func (s *Server) handleGetStats(c *gin.Context) {
	stats, err := s.orchestrator.Stats(c.Request.Context())
	if err != nil {
		errorJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
