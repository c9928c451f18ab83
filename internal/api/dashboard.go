package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/logging"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TextSender delivers a plain text message through a workspace connection
type TextSender interface {
	SendText(ctx context.Context, conn *models.WhatsAppConnection, to, body string) (string, error)
}

// DashboardHandler serves the agent inbox of a workspace
type DashboardHandler struct {
	Store  *store.Store
	Client TextSender
	Engine Triggerer
	now    func() time.Time
	log    *logrus.Entry
}

func NewDashboardHandler(s *store.Store, client TextSender, engine Triggerer) *DashboardHandler {
	return &DashboardHandler{Store: s, Client: client, Engine: engine, now: time.Now, log: logging.Component("api.dashboard")}
}

func (h *DashboardHandler) loadConversation(c *gin.Context) (*models.Conversation, bool) {
	conv, err := h.Store.GetConversation(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && conv.WorkspaceID != c.Param("workspaceId")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return conv, true
}

func (h *DashboardHandler) GetMessages(c *gin.Context) {
	conv, ok := h.loadConversation(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	messages, err := h.Store.ListMessages(c.Request.Context(), conv.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, messages)
}

type SendRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage sends an agent reply into a conversation and marks its first response
func (h *DashboardHandler) SendMessage(c *gin.Context) {
	conv, ok := h.loadConversation(c)
	if !ok {
		return
	}

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	contact, err := h.Store.GetContact(ctx, conv.ContactID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	conn, err := h.Store.GetConnection(ctx, conv.WorkspaceID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "No active WhatsApp connection"})
		return
	}

	waID, err := h.Client.SendText(ctx, conn, contact.WaID, req.Content)
	if err != nil {
		h.log.WithError(err).WithField("conversation_id", conv.ID).Error("Failed to send message")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send message: " + err.Error()})
		return
	}

	now := h.now().UTC()
	msg := &models.Message{
		WorkspaceID:    conv.WorkspaceID,
		ConversationID: conv.ID,
		ContactID:      contact.ID,
		Direction:      models.DirectionOutbound,
		Type:           "text",
		Content:        req.Content,
		WaMessageID:    waID,
		Status:         "sent",
		CreatedAt:      now,
	}
	if err := h.Store.RecordMessage(ctx, msg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conv.FirstResponseAt == nil {
		if err := h.Store.UpdateConversation(ctx, conv.ID, map[string]any{"first_response_at": now}); err != nil {
			h.log.WithError(err).WithField("conversation_id", conv.ID).Warn("Failed to mark first response")
		}
	}

	c.JSON(http.StatusOK, msg)
}

// ResolveConversation closes a conversation and raises conversation_resolved
func (h *DashboardHandler) ResolveConversation(c *gin.Context) {
	conv, ok := h.loadConversation(c)
	if !ok {
		return
	}
	if conv.Status == models.ConversationResolved {
		c.JSON(http.StatusOK, gin.H{"id": conv.ID, "status": conv.Status, "dispatched": 0})
		return
	}

	ctx := c.Request.Context()
	err := h.Store.UpdateConversation(ctx, conv.ID, map[string]any{
		"status":      models.ConversationResolved,
		"resolved_at": h.now().UTC(),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logs, err := h.Engine.Trigger(ctx, models.TriggerConversationClosed, automation.ExecutionContext{
		WorkspaceID:    conv.WorkspaceID,
		ContactID:      conv.ContactID,
		ConversationID: conv.ID,
	})
	if err != nil {
		h.log.WithError(err).WithField("conversation_id", conv.ID).Error("conversation_resolved trigger failed")
	}
	c.JSON(http.StatusOK, gin.H{"id": conv.ID, "status": models.ConversationResolved, "dispatched": len(logs)})
}
