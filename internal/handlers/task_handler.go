package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"proofplus-coordinator/internal/models"
)

const defaultFinalizedLimit = 50

// TaskStateSource tracked task states
type TaskStateSource interface {
	Get(taskID common.Hash) (models.TaskStatus, bool)
	List() []models.TaskStatus
}

// FinalizedTaskFinder read side of the finalized task store
type FinalizedTaskFinder interface {
	FindByTaskID(ctx context.Context, taskID string) (*models.FinalizedTask, error)
	List(ctx context.Context, limit int) ([]*models.FinalizedTask, error)
}

// TaskHandler task status endpoints
type TaskHandler struct {
	states    TaskStateSource
	finalized FinalizedTaskFinder
	logger    *logrus.Logger
}

func NewTaskHandler(states TaskStateSource, finalized FinalizedTaskFinder, logger *logrus.Logger) *TaskHandler {
	return &TaskHandler{states: states, finalized: finalized, logger: logger}
}

// ListTasks GET /api/tasks
func (h *TaskHandler) ListTasks(c *gin.Context) {
	tasks := h.states.List()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    tasks,
		"total":   len(tasks),
	})
}

// GetTask GET /api/tasks/:taskId
func (h *TaskHandler) GetTask(c *gin.Context) {
	raw := c.Param("taskId")
	idBytes, err := models.DecodeHex(raw)
	if err != nil || len(idBytes) != common.HashLength {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "taskId must be a 32-byte hex value",
		})
		return
	}
	taskID := common.BytesToHash(idBytes)

	record, err := h.finalized.FindByTaskID(c.Request.Context(), models.TaskKey(taskID))
	if err != nil {
		h.logger.WithField("task_id", taskID.Hex()).WithError(err).Error("Failed to query finalized task")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to query finalized task",
		})
		return
	}

	status, tracked := h.states.Get(taskID)
	if !tracked && record == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "task not found",
		})
		return
	}

	data := gin.H{"task_id": taskID.Hex()}
	if tracked {
		data["status"] = status
	}
	if record != nil {
		data["finalized"] = record
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// ListFinalized GET /api/finalized?limit=N
func (h *TaskHandler) ListFinalized(c *gin.Context) {
	limit := defaultFinalizedLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	records, err := h.finalized.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list finalized tasks")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to list finalized tasks",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    records,
		"total":   len(records),
	})
}
