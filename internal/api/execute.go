package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/logging"
	"whatsapp-automation/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/sirupsen/logrus"
)

// Engine is the dispatch surface the HTTP layer drives
type Engine interface {
	RunAutomation(ctx context.Context, automationID string, ec automation.ExecutionContext) (*models.AutomationLog, error)
	Trigger(ctx context.Context, triggerType models.TriggerType, ec automation.ExecutionContext) ([]*models.AutomationLog, error)
}

// Scanner runs scan passes
type Scanner interface {
	Scan(ctx context.Context) (*automation.ScanResult, error)
	ScanOne(ctx context.Context, workspaceID string) (*automation.ScanResult, error)
}

type ExecuteHandler struct {
	Engine  Engine
	Scanner Scanner
	log     *logrus.Entry
}

func NewExecuteHandler(engine Engine, scanner Scanner) *ExecuteHandler {
	return &ExecuteHandler{Engine: engine, Scanner: scanner, log: logging.Component("api.execute")}
}

type executeRequest struct {
	AutomationID   string         `json:"automationId"`
	ContactID      string         `json:"contactId"`
	ConversationID string         `json:"conversationId"`
	TriggerData    map[string]any `json:"triggerData"`
}

// Execute runs one automation when the body names it, otherwise a full scan pass.
// Workspace tokens are limited to their own workspace.
func (h *ExecuteHandler) Execute(c *gin.Context) {
	var req executeRequest
	if c.Request.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if strings.TrimSpace(string(raw)) != "" {
			if err := binding.JSON.BindBody(raw, &req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body: " + err.Error()})
				return
			}
		}
	}

	if req.AutomationID == "" {
		h.scan(c)
		return
	}

	entry, err := h.Engine.RunAutomation(c.Request.Context(), req.AutomationID, automation.ExecutionContext{
		WorkspaceID:    scopedWorkspace(c),
		ContactID:      req.ContactID,
		ConversationID: req.ConversationID,
		TriggerData:    req.TriggerData,
	})
	switch {
	case errors.Is(err, automation.ErrAutomationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, automation.ErrWorkspaceMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, automation.ErrAutomationInactive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		h.log.WithError(err).WithField("automation_id", req.AutomationID).Error("Direct run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"success": entry.Status != models.LogFailed, "log": entry})
	}
}

func (h *ExecuteHandler) scan(c *gin.Context) {
	var (
		res *automation.ScanResult
		err error
	)
	if ws := scopedWorkspace(c); ws != "" {
		res, err = h.Scanner.ScanOne(c.Request.Context(), ws)
	} else {
		res, err = h.Scanner.Scan(c.Request.Context())
	}
	if err != nil {
		h.log.WithError(err).Error("Scan pass failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

type triggerRequest struct {
	WorkspaceID    string         `json:"workspaceId"`
	TriggerType    string         `json:"triggerType" binding:"required"`
	ContactID      string         `json:"contactId"`
	ConversationID string         `json:"conversationId"`
	TriggerData    map[string]any `json:"triggerData"`
	IsFirstMessage bool           `json:"isFirstMessage"`
}

// Trigger raises an event for every matching automation of a workspace
func (h *ExecuteHandler) Trigger(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	workspaceID := req.WorkspaceID
	if scoped := scopedWorkspace(c); scoped != "" {
		if workspaceID != "" && workspaceID != scoped {
			c.JSON(http.StatusForbidden, gin.H{"error": automation.ErrWorkspaceMismatch.Error()})
			return
		}
		workspaceID = scoped
	}
	if workspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workspaceId is required"})
		return
	}

	triggerType := models.TriggerType(req.TriggerType)
	if !triggerType.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown trigger type " + req.TriggerType})
		return
	}

	logs, err := h.Engine.Trigger(c.Request.Context(), triggerType, automation.ExecutionContext{
		WorkspaceID:    workspaceID,
		ContactID:      req.ContactID,
		ConversationID: req.ConversationID,
		TriggerData:    req.TriggerData,
		IsFirstMessage: req.IsFirstMessage,
	})
	if errors.Is(err, automation.ErrWorkspaceMismatch) {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("workspace_id", workspaceID).Error("Trigger failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []*models.AutomationLog{}
	}
	c.JSON(http.StatusOK, gin.H{"dispatched": len(logs), "logs": logs})
}
