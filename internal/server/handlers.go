package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ada/internal/domain"
	"ada/internal/errors"
	"ada/internal/logging"
	"ada/internal/orchestrator"
	"ada/internal/task"
)

type handlers struct {
	deps   Deps
	logger logging.Logger
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type chatRequest struct {
	TenantID       string `json:"tenant_id" binding:"required"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message" binding:"required"`
}

func (h *handlers) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.deps.Orchestrator.HandleUtterance(c.Request.Context(), req.TenantID, req.ConversationID, req.Message)
	if err != nil {
		var timeout *orchestrator.TimeoutError
		if errors.As(err, &timeout) {
			// The turn is capped, not broken: the partial response explains
			// the state to the user.
			c.JSON(http.StatusOK, resp)
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type tenantRequest struct {
	TenantID    string `json:"tenant_id" binding:"required"`
	DisplayName string `json:"display_name"`
}

func (h *handlers) registerTenant(c *gin.Context) {
	var req tenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.deps.Tenants.Register(c.Request.Context(), req.TenantID, req.DisplayName); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tenant_id": req.TenantID})
}

func (h *handlers) listTenants(c *gin.Context) {
	tenants, err := h.deps.Tenants.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": tenants})
}

func (h *handlers) listTasks(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	var (
		tasks []*domain.Task
		err   error
	)
	if c.Query("status") == string(domain.TaskWaiting) {
		tasks, err = h.deps.Tasks.ListWaiting(c.Request.Context(), tenantID)
	} else {
		tasks, err = h.deps.Tasks.List(c.Request.Context(), tenantID, limit)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *handlers) getTask(c *gin.Context) {
	t, err := h.deps.Tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type instructionRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
	Text     string `json:"text" binding:"required"`
}

func (h *handlers) addInstruction(c *gin.Context) {
	var req instructionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ins, err := h.deps.Instructions.Add(c.Request.Context(), req.TenantID, req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ins)
}

func (h *handlers) listInstructions(c *gin.Context) {
	instructions, err := h.deps.Instructions.ListActive(c.Request.Context(), c.Query("tenant_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instructions": instructions})
}

func (h *handlers) deactivateInstruction(c *gin.Context) {
	if err := h.deps.Instructions.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) runPollCycle(c *gin.Context) {
	if h.deps.Poller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "poller disabled"})
		return
	}
	if err := h.deps.Poller.RunCycle(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cycle complete"})
}

func (h *handlers) runIngestion(c *gin.Context) {
	stats, err := h.deps.Ingestor.SyncAll(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) ragStats(c *gin.Context) {
	stats, err := h.deps.Ingestor.Stats(c.Request.Context(), c.Query("tenant_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) listAmbiguous(c *gin.Context) {
	parked, err := h.deps.Ambiguity.ListUnresolved(c.Request.Context(), c.Query("tenant_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": parked})
}

func (h *handlers) resolveAmbiguous(c *gin.Context) {
	if err := h.deps.Ambiguity.Resolve(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail maps internal errors onto HTTP statuses.
func (h *handlers) fail(c *gin.Context, err error) {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
		return
	}
	var invalid *task.InvalidTransitionError
	if errors.As(err, &invalid) {
		c.JSON(http.StatusConflict, gin.H{"error": invalid.Error()})
		return
	}
	h.logger.Error("Request failed: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
