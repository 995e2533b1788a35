package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pkagent/internal/checkin"
	"pkagent/internal/model"
	"pkagent/internal/service"
	"pkagent/pkg/logger"
)

// GoalService is the surface the HTTP handlers drive.
type GoalService interface {
	CreateGoal(ctx context.Context, text string) (*service.CreateGoalResult, error)
	GetGoal(ctx context.Context, id string) (*model.Goal, error)
	ListActive(ctx context.Context) ([]model.ActiveSubtask, error)
	ToggleCompletion(ctx context.Context, goalID, subtaskID string) (bool, error)
	SubmitCheckIn(ctx context.Context, subtaskID string, status model.ReportedStatus, reason string) (*model.CheckIn, error)
	UpdateDeadline(ctx context.Context, subtaskID, expr string) (*model.Subtask, error)
}

var _ GoalService = (*service.GoalService)(nil)

type GoalHandler struct {
	svc    GoalService
	logger *zap.Logger
}

func NewGoalHandler(svc GoalService, logger *zap.Logger) *GoalHandler {
	return &GoalHandler{svc: svc, logger: logger}
}

type createGoalRequest struct {
	Goal string `json:"goal"`
}

// CreateGoal POST /goals
func (h *GoalHandler) CreateGoal(c *gin.Context) {
	var req createGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.svc.CreateGoal(c.Request.Context(), req.Goal)
	if err != nil {
		if errors.Is(err, service.ErrNothingStored) && res != nil {
			h.log(c).Error("CreateGoal: no subtask stored", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  "no subtask could be stored",
				"failed": res.Failed,
			})
			return
		}
		h.writeError(c, "CreateGoal", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"goal_id":  res.Goal.ID,
		"subtasks": res.Goal.Subtasks,
		"stored":   res.Stored,
		"failed":   res.Failed,
		"fallback": res.Fallback,
	})
}

// GetGoal GET /goals/:id
func (h *GoalHandler) GetGoal(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	g, err := h.svc.GetGoal(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "GetGoal", err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// ListActiveSubtasks GET /subtasks
func (h *GoalHandler) ListActiveSubtasks(c *gin.Context) {
	subtasks, err := h.svc.ListActive(c.Request.Context())
	if err != nil {
		h.writeError(c, "ListActiveSubtasks", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subtasks": subtasks})
}

// ToggleCompletion POST /goals/:id/subtasks/:subtask_id/toggle
func (h *GoalHandler) ToggleCompletion(c *gin.Context) {
	goalID, ok := idParam(c, "id")
	if !ok {
		return
	}
	subtaskID, ok := idParam(c, "subtask_id")
	if !ok {
		return
	}
	completed, err := h.svc.ToggleCompletion(c.Request.Context(), goalID, subtaskID)
	if err != nil {
		h.writeError(c, "ToggleCompletion", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed": completed})
}

type checkInRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// SubmitCheckIn POST /subtasks/:id/check-ins
func (h *GoalHandler) SubmitCheckIn(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	status, err := model.ParseReportedStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.svc.SubmitCheckIn(c.Request.Context(), id, status, req.Reason)
	if err != nil {
		h.writeError(c, "SubmitCheckIn", err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

type deadlineRequest struct {
	Deadline string `json:"deadline"`
}

// UpdateDeadline PATCH /subtasks/:id/deadline
func (h *GoalHandler) UpdateDeadline(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req deadlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	st, err := h.svc.UpdateDeadline(c.Request.Context(), id, req.Deadline)
	if err != nil {
		h.writeError(c, "UpdateDeadline", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// idParam 校验路径参数必须是 UUID，否则直接 400
func idParam(c *gin.Context, name string) (string, bool) {
	raw := c.Param(name)
	if _, err := uuid.Parse(raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return "", false
	}
	return raw, true
}

func (h *GoalHandler) log(c *gin.Context) *zap.Logger {
	return logger.WithTrace(c.Request.Context(), h.logger)
}

func (h *GoalHandler) writeError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log(c).Error(op+" failed", zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	h.log(c).Warn(op+" rejected", zap.Int("status", status), zap.Error(err))
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, checkin.ErrSubtaskCompleted), errors.Is(err, service.ErrVersionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
