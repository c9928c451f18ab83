package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"whatsapp-automation/internal/logging"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type AutomationHandler struct {
	Store *store.Store
	log   *logrus.Entry
}

func NewAutomationHandler(s *store.Store) *AutomationHandler {
	return &AutomationHandler{Store: s, log: logging.Component("api.automations")}
}

// RequireWorkspaceAccess rejects workspace tokens used against another workspace's routes
func RequireWorkspaceAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		if scoped := scopedWorkspace(c); scoped != "" && scoped != c.Param("workspaceId") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Token is not valid for this workspace"})
			return
		}
		c.Next()
	}
}

// automationRequest carries create and partial-update payloads; nil fields are left untouched on update
type automationRequest struct {
	Name                  *string               `json:"name"`
	Description           *string               `json:"description"`
	TriggerType           *models.TriggerType   `json:"trigger_type"`
	TriggerConfig         models.JSONMap        `json:"trigger_config"`
	Conditions            *models.ConditionList `json:"conditions"`
	Actions               *models.ActionList    `json:"actions"`
	IsActive              *bool                 `json:"is_active"`
	CooldownHours         *float64              `json:"cooldown_hours"`
	MaxTriggersPerContact *int                  `json:"max_triggers_per_contact"`
}

func (r automationRequest) apply(a *models.Automation) {
	if r.Name != nil {
		a.Name = *r.Name
	}
	if r.Description != nil {
		a.Description = *r.Description
	}
	if r.TriggerType != nil {
		a.TriggerType = *r.TriggerType
	}
	if r.TriggerConfig != nil {
		a.TriggerConfig = r.TriggerConfig
	}
	if r.Conditions != nil {
		a.Conditions = *r.Conditions
	}
	if r.Actions != nil {
		a.Actions = *r.Actions
	}
	if r.IsActive != nil {
		a.IsActive = *r.IsActive
	}
	if r.CooldownHours != nil {
		a.CooldownHours = *r.CooldownHours
	}
	if r.MaxTriggersPerContact != nil {
		a.MaxTriggersPerContact = *r.MaxTriggersPerContact
	}
}

// loadAutomation fetches :id and checks it belongs to :workspaceId, writing the error response otherwise
func (h *AutomationHandler) loadAutomation(c *gin.Context) (*models.Automation, bool) {
	a, err := h.Store.GetAutomation(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && a.WorkspaceID != c.Param("workspaceId")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Automation not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return a, true
}

// GetAutomations returns all automations of the workspace
func (h *AutomationHandler) GetAutomations(c *gin.Context) {
	automations, err := h.Store.ListAutomations(c.Request.Context(), c.Param("workspaceId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, automations)
}

func (h *AutomationHandler) GetAutomation(c *gin.Context) {
	a, ok := h.loadAutomation(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, a)
}

// CreateAutomation validates and stores a new automation
func (h *AutomationHandler) CreateAutomation(c *gin.Context) {
	var req automationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a := &models.Automation{
		WorkspaceID:   c.Param("workspaceId"),
		TriggerConfig: models.JSONMap{},
		Conditions:    models.ConditionList{},
		Actions:       models.ActionList{},
		IsActive:      true,
	}
	req.apply(a)
	if err := a.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Store.CreateAutomation(c.Request.Context(), a); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.log.WithFields(logrus.Fields{"automation_id": a.ID, "workspace_id": a.WorkspaceID}).Info("Automation created")
	c.JSON(http.StatusCreated, a)
}

// UpdateAutomation applies a partial update and revalidates the whole definition
func (h *AutomationHandler) UpdateAutomation(c *gin.Context) {
	a, ok := h.loadAutomation(c)
	if !ok {
		return
	}

	var req automationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.apply(a)
	if err := a.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Store.SaveAutomation(c.Request.Context(), a); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *AutomationHandler) DeleteAutomation(c *gin.Context) {
	a, ok := h.loadAutomation(c)
	if !ok {
		return
	}
	if err := h.Store.DeleteAutomation(c.Request.Context(), a.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Automation deleted successfully"})
}

// ToggleAutomation enables or disables an automation
func (h *AutomationHandler) ToggleAutomation(c *gin.Context) {
	a, ok := h.loadAutomation(c)
	if !ok {
		return
	}

	var req struct {
		IsActive *bool `json:"is_active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Store.SetAutomationActive(c.Request.Context(), a.ID, *req.IsActive); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": a.ID, "is_active": *req.IsActive})
}

// logFilter reads automation_id, status, since (RFC3339) and limit from the query
func logFilter(c *gin.Context) (store.LogFilter, error) {
	f := store.LogFilter{
		AutomationID: c.Query("automation_id"),
		Status:       models.LogStatus(c.Query("status")),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return f, errors.New("limit must be a positive integer")
		}
		f.Limit = min(limit, 1000)
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, errors.New("since must be an RFC3339 timestamp")
		}
		f.Since = &since
	}
	return f, nil
}

// GetLogs returns automation execution logs, newest first
func (h *AutomationHandler) GetLogs(c *gin.Context) {
	f, err := logFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logs, err := h.Store.ListLogs(c.Request.Context(), c.Param("workspaceId"), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, logs)
}

// GetAnalytics returns automation and execution totals
func (h *AutomationHandler) GetAnalytics(c *gin.Context) {
	stats, err := h.Store.Analytics(c.Request.Context(), c.Param("workspaceId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
