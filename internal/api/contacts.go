package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/logging"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Triggerer raises automation events
type Triggerer interface {
	Trigger(ctx context.Context, triggerType models.TriggerType, ec automation.ExecutionContext) ([]*models.AutomationLog, error)
}

type ContactHandler struct {
	Store  *store.Store
	Engine Triggerer
	log    *logrus.Entry
}

func NewContactHandler(s *store.Store, engine Triggerer) *ContactHandler {
	return &ContactHandler{Store: s, Engine: engine, log: logging.Component("api.contacts")}
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	contacts, err := h.Store.ListContacts(c.Request.Context(), c.Param("workspaceId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Return empty array instead of null
	if contacts == nil {
		contacts = []models.Contact{}
	}
	c.JSON(http.StatusOK, contacts)
}

type UpdateTagsRequest struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

// UpdateTags edits a contact's tags and raises tag_added once per newly added tag
func (h *ContactHandler) UpdateTags(c *gin.Context) {
	ctx := c.Request.Context()
	contact, err := h.Store.GetContact(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && contact.WorkspaceID != c.Param("workspaceId")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contact not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var req UpdateTagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	before := make(map[string]bool, len(contact.Tags))
	for _, t := range contact.Tags {
		before[t] = true
	}
	tags := automation.SubtractTags(automation.UnionTags(contact.Tags, req.Add), req.Remove)
	if err := h.Store.SetContactTags(ctx, contact.ID, tags); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	dispatched := 0
	for _, tag := range tags {
		if before[tag] {
			continue
		}
		logs, err := h.Engine.Trigger(ctx, models.TriggerTagAdded, automation.ExecutionContext{
			WorkspaceID: contact.WorkspaceID,
			ContactID:   contact.ID,
			TriggerData: map[string]any{"tag": tag},
		})
		if err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{"contact_id": contact.ID, "tag": tag}).Error("tag_added trigger failed")
			continue
		}
		dispatched += len(logs)
	}

	c.JSON(http.StatusOK, gin.H{"id": contact.ID, "tags": tags, "dispatched": dispatched})
}
