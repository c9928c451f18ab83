package webhook

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/logging"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Store is the persistence the webhook intake needs
type Store interface {
	GetConnectionByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.WhatsAppConnection, error)
	UpsertContact(ctx context.Context, workspaceID, waID, name string) (*models.Contact, bool, error)
	FindActiveConversation(ctx context.Context, workspaceID, contactID string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	UpdateConversation(ctx context.Context, id string, updates map[string]any) error
	RecordMessage(ctx context.Context, msg *models.Message) error
	HasMessage(ctx context.Context, workspaceID, waMessageID string) (bool, error)
	UpdateMessageStatus(ctx context.Context, waMessageID, status string) (int64, error)
}

// Triggerer raises automation events
type Triggerer interface {
	Trigger(ctx context.Context, triggerType models.TriggerType, ec automation.ExecutionContext) ([]*models.AutomationLog, error)
}

type Handler struct {
	Config *config.Config
	Store  Store
	Engine Triggerer
	// Dispatch runs the automation triggers of one message; asynchronous by default
	Dispatch func(func())
	log      *logrus.Entry
}

func NewHandler(cfg *config.Config, s Store, engine Triggerer) *Handler {
	return &Handler{
		Config:   cfg,
		Store:    s,
		Engine:   engine,
		Dispatch: func(fn func()) { go fn() },
		log:      logging.Component("webhook"),
	}
}

func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if mode == "subscribe" && h.Config.VerifyToken != "" && token == h.Config.VerifyToken {
		h.log.Info("Webhook verified successfully")
		c.String(http.StatusOK, challenge)
		return
	}
	c.Status(http.StatusForbidden)
}

// HandleMessage stores inbound messages and raises new_contact, new_conversation and new_message triggers.
// A redelivered message id is stored and raised once.
// Meta retries on non-2xx, so processing failures are logged and still acknowledged.
func (h *Handler) HandleMessage(c *gin.Context) {
	var payload Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.log.WithError(err).Warn("Error binding webhook JSON")
		c.Status(http.StatusBadRequest)
		return
	}

	ctx := c.Request.Context()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			for _, msg := range value.Messages {
				if err := h.processMessage(ctx, value, msg); err != nil {
					h.log.WithFields(logrus.Fields{
						"phone_number_id": value.Metadata.PhoneNumberID,
						"wa_message_id":   msg.ID,
					}).WithError(err).Error("Failed to process inbound message")
					logging.CaptureError(err, map[string]string{"phone_number_id": value.Metadata.PhoneNumberID})
				}
			}
			for _, st := range value.Statuses {
				if _, err := h.Store.UpdateMessageStatus(ctx, st.ID, st.Status); err != nil {
					h.log.WithError(err).WithField("wa_message_id", st.ID).Warn("Failed to update message status")
				}
			}
		}
	}

	c.Status(http.StatusOK)
}

func (h *Handler) processMessage(ctx context.Context, value Value, msg InboundMessage) error {
	conn, err := h.Store.GetConnectionByPhoneNumberID(ctx, value.Metadata.PhoneNumberID)
	if errors.Is(err, store.ErrNotFound) {
		h.log.WithField("phone_number_id", value.Metadata.PhoneNumberID).Warn("Message for unknown phone number id")
		return nil
	}
	if err != nil {
		return err
	}
	workspaceID := conn.WorkspaceID

	if msg.ID != "" {
		seen, err := h.Store.HasMessage(ctx, workspaceID, msg.ID)
		if err != nil {
			return err
		}
		if seen {
			h.log.WithField("wa_message_id", msg.ID).Debug("Skipping redelivered message")
			return nil
		}
	}

	contact, newContact, err := h.Store.UpsertContact(ctx, workspaceID, msg.From, value.profileName(msg.From))
	if err != nil {
		return err
	}

	conv, newConversation, err := h.openConversation(ctx, workspaceID, contact.ID)
	if err != nil {
		return err
	}

	content := msg.Content()
	if err := h.Store.RecordMessage(ctx, &models.Message{
		WorkspaceID:    workspaceID,
		ConversationID: conv.ID,
		ContactID:      contact.ID,
		Direction:      models.DirectionInbound,
		Type:           msg.Type,
		Content:        content,
		WaMessageID:    msg.ID,
		Status:         "received",
		CreatedAt:      parseTimestamp(msg.Timestamp),
	}); err != nil {
		return err
	}

	h.log.WithFields(logrus.Fields{
		"workspace_id": workspaceID,
		"from":         msg.From,
		"type":         msg.Type,
	}).Debug("Inbound message stored")

	ec := automation.ExecutionContext{
		WorkspaceID:    workspaceID,
		ContactID:      contact.ID,
		ConversationID: conv.ID,
		TriggerData: map[string]any{
			"message_type":  msg.Type,
			"wa_message_id": msg.ID,
			"from":          msg.From,
		},
	}
	if msg.HasText() {
		ec.TriggerData["message"] = content
	}

	h.Dispatch(func() {
		h.raise(newContact, newConversation, ec)
	})
	return nil
}

// openConversation reuses the contact's active conversation, reopening it when snoozed, or starts a new one
func (h *Handler) openConversation(ctx context.Context, workspaceID, contactID string) (*models.Conversation, bool, error) {
	conv, err := h.Store.FindActiveConversation(ctx, workspaceID, contactID)
	if err == nil {
		if conv.Status == models.ConversationSnoozed {
			if err := h.Store.UpdateConversation(ctx, conv.ID, map[string]any{
				"status":        models.ConversationOpen,
				"snoozed_until": nil,
			}); err != nil {
				return nil, false, err
			}
		}
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	conv = &models.Conversation{WorkspaceID: workspaceID, ContactID: contactID, Status: models.ConversationOpen}
	if err := h.Store.CreateConversation(ctx, conv); err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

func (h *Handler) raise(newContact, newConversation bool, ec automation.ExecutionContext) {
	ctx := context.Background()

	type event struct {
		trigger models.TriggerType
		ec      automation.ExecutionContext
	}
	var events []event
	if newContact {
		events = append(events, event{models.TriggerNewContact, ec})
	}
	if newConversation {
		first := ec
		first.IsFirstMessage = true
		events = append(events, event{models.TriggerNewConversation, first})
	}
	events = append(events, event{models.TriggerNewMessage, ec})

	for _, ev := range events {
		if _, err := h.Engine.Trigger(ctx, ev.trigger, ev.ec); err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{
				"workspace_id": ec.WorkspaceID,
				"trigger":      ev.trigger,
			}).Error("Failed to raise automation trigger")
		}
	}
}

func parseTimestamp(ts string) time.Time {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
