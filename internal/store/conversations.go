package store

import (
	"context"
	"time"

	"whatsapp-automation/internal/models"

	"gorm.io/gorm"
)

// GetConversation fetches a conversation by id
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.conn(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

// ConversationWorkspaceID returns the workspace that owns a conversation
func (s *Store) ConversationWorkspaceID(ctx context.Context, id string) (string, error) {
	var conv models.Conversation
	if err := s.conn(ctx).Select("workspace_id").First(&conv, "id = ?", id).Error; err != nil {
		return "", notFound(err)
	}
	return conv.WorkspaceID, nil
}

// FindActiveConversation returns the newest non-resolved conversation of a contact
func (s *Store) FindActiveConversation(ctx context.Context, workspaceID, contactID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.conn(ctx).
		Where("workspace_id = ? AND contact_id = ? AND status <> ?", workspaceID, contactID, models.ConversationResolved).
		Order("created_at DESC").
		First(&conv).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

func (s *Store) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.Status == "" {
		conv.Status = models.ConversationOpen
	}
	return s.conn(ctx).Create(conv).Error
}

// UpdateConversation applies column updates to one conversation
func (s *Store) UpdateConversation(ctx context.Context, id string, updates map[string]any) error {
	for k, v := range updates {
		if t, ok := v.(time.Time); ok {
			updates[k] = utc(t)
		}
	}
	return s.conn(ctx).Model(&models.Conversation{}).Where("id = ?", id).Updates(updates).Error
}

// RecordMessage stores a message and bumps last_message_at on its conversation and contact
func (s *Store) RecordMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.CreatedAt = utc(msg.CreatedAt)

	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if msg.ConversationID != "" {
			if err := tx.Model(&models.Conversation{}).Where("id = ?", msg.ConversationID).
				Update("last_message_at", msg.CreatedAt).Error; err != nil {
				return err
			}
		}
		if msg.ContactID != "" && msg.Direction == models.DirectionInbound {
			if err := tx.Model(&models.Contact{}).Where("id = ?", msg.ContactID).
				Update("last_message_at", msg.CreatedAt).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// HasMessage reports whether a message with the WhatsApp id was already stored for the workspace
func (s *Store) HasMessage(ctx context.Context, workspaceID, waMessageID string) (bool, error) {
	var count int64
	err := s.conn(ctx).Model(&models.Message{}).
		Where("workspace_id = ? AND wa_message_id = ?", workspaceID, waMessageID).
		Count(&count).Error
	return count > 0, err
}

// LatestMessage returns the most recent message of a conversation
func (s *Store) LatestMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	var msg models.Message
	err := s.conn(ctx).Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		First(&msg).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}

// ListQuietConversations returns open conversations whose last message is older than cutoff.
// unansweredOnly restricts the result to conversations no agent has responded to yet.
func (s *Store) ListQuietConversations(ctx context.Context, workspaceID string, cutoff time.Time, unansweredOnly bool) ([]models.Conversation, error) {
	q := s.conn(ctx).
		Where("workspace_id = ? AND status = ?", workspaceID, models.ConversationOpen).
		Where("last_message_at IS NOT NULL AND last_message_at < ?", utc(cutoff))
	if unansweredOnly {
		q = q.Where("first_response_at IS NULL")
	}
	var convs []models.Conversation
	err := q.Order("last_message_at ASC").Find(&convs).Error
	return convs, err
}

// WakeSnoozedConversations reopens snoozed conversations whose snooze has expired
func (s *Store) WakeSnoozedConversations(ctx context.Context, workspaceID string, now time.Time) (int64, error) {
	res := s.conn(ctx).Model(&models.Conversation{}).
		Where("workspace_id = ? AND status = ? AND snoozed_until < ?", workspaceID, models.ConversationSnoozed, utc(now)).
		Updates(map[string]any{
			"status":        models.ConversationOpen,
			"snoozed_until": nil,
		})
	return res.RowsAffected, res.Error
}

// UpdateMessageStatus applies a delivery status callback to the message with the given WhatsApp id
func (s *Store) UpdateMessageStatus(ctx context.Context, waMessageID, status string) (int64, error) {
	res := s.conn(ctx).Model(&models.Message{}).
		Where("wa_message_id = ?", waMessageID).
		Update("status", status)
	return res.RowsAffected, res.Error
}

// ListMessages returns the newest messages of a conversation, oldest first
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var msgs []models.Message
	err := s.conn(ctx).Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
