package store

import (
	"context"
	"errors"
	"time"

	"whatsapp-automation/internal/models"

	"gorm.io/gorm"
)

// GetContact fetches a contact by id
func (s *Store) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	var contact models.Contact
	if err := s.conn(ctx).First(&contact, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &contact, nil
}

// ContactWorkspaceID returns the workspace that owns a contact
func (s *Store) ContactWorkspaceID(ctx context.Context, id string) (string, error) {
	var contact models.Contact
	if err := s.conn(ctx).Select("workspace_id").First(&contact, "id = ?", id).Error; err != nil {
		return "", notFound(err)
	}
	return contact.WorkspaceID, nil
}

// UpsertContact finds a contact by WhatsApp id or creates it. created reports whether a new row was inserted.
func (s *Store) UpsertContact(ctx context.Context, workspaceID, waID, name string) (*models.Contact, bool, error) {
	var contact models.Contact
	err := s.conn(ctx).Where("workspace_id = ? AND wa_id = ?", workspaceID, waID).First(&contact).Error
	if err == nil {
		if contact.Name == "" && name != "" {
			if err := s.conn(ctx).Model(&contact).Update("name", name).Error; err != nil {
				return nil, false, err
			}
		}
		return &contact, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	contact = models.Contact{
		WorkspaceID:  workspaceID,
		WaID:         waID,
		Name:         name,
		Tags:         models.StringArray{},
		CustomFields: models.JSONMap{},
		OptedIn:      true,
	}
	if err := s.conn(ctx).Create(&contact).Error; err != nil {
		return nil, false, err
	}
	return &contact, true, nil
}

// SetContactTags replaces the tag set of a contact
func (s *Store) SetContactTags(ctx context.Context, id string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	return s.conn(ctx).Model(&models.Contact{}).Where("id = ?", id).
		Update("tags", models.StringArray(tags)).Error
}

// UpdateContactField writes one scalar column (status, lifecycle_stage)
func (s *Store) UpdateContactField(ctx context.Context, id, column string, value any) error {
	switch column {
	case "status", "lifecycle_stage", "name", "email":
	default:
		return errors.New("contact column " + column + " is not writable")
	}
	return s.conn(ctx).Model(&models.Contact{}).Where("id = ?", id).Update(column, value).Error
}

// SetContactCustomFields replaces the custom_fields map of a contact
func (s *Store) SetContactCustomFields(ctx context.Context, id string, fields models.JSONMap) error {
	return s.conn(ctx).Model(&models.Contact{}).Where("id = ?", id).
		Update("custom_fields", fields).Error
}

// ListReachableContacts returns opted-in, non-blocked contacts of a workspace
func (s *Store) ListReachableContacts(ctx context.Context, workspaceID string) ([]models.Contact, error) {
	var contacts []models.Contact
	err := s.reachable(ctx, workspaceID).Order("created_at ASC").Find(&contacts).Error
	return contacts, err
}

// ListInactiveContacts returns reachable contacts whose last message is older than cutoff
func (s *Store) ListInactiveContacts(ctx context.Context, workspaceID string, cutoff time.Time) ([]models.Contact, error) {
	var contacts []models.Contact
	err := s.reachable(ctx, workspaceID).
		Where("last_message_at IS NOT NULL AND last_message_at < ?", utc(cutoff)).
		Find(&contacts).Error
	return contacts, err
}

func (s *Store) reachable(ctx context.Context, workspaceID string) *gorm.DB {
	return s.conn(ctx).
		Where("workspace_id = ? AND opted_in = ? AND is_blocked = ?", workspaceID, true, false)
}

// NextRoundRobinAgent picks the active, online agent assigned least recently (never-assigned first)
// and stamps its last_assigned_at inside the same transaction.
func (s *Store) NextRoundRobinAgent(ctx context.Context, workspaceID string, now time.Time) (*models.Agent, error) {
	var picked models.Agent
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("workspace_id = ? AND is_active = ? AND is_online = ?", workspaceID, true, true).
			Order("CASE WHEN last_assigned_at IS NULL THEN 0 ELSE 1 END, last_assigned_at ASC, created_at ASC").
			First(&picked).Error
		if err != nil {
			return err
		}
		stamp := utc(now)
		picked.LastAssignedAt = &stamp
		return tx.Model(&models.Agent{}).Where("id = ?", picked.ID).Update("last_assigned_at", stamp).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &picked, nil
}

// LeastBusyAgent picks the active, online agent with the fewest open assigned conversations
func (s *Store) LeastBusyAgent(ctx context.Context, workspaceID string) (*models.Agent, error) {
	var picked models.Agent
	err := s.conn(ctx).
		Table("agents").
		Select("agents.*").
		Joins("LEFT JOIN conversations ON conversations.assigned_agent_id = agents.id AND conversations.status = ?", models.ConversationOpen).
		Where("agents.workspace_id = ? AND agents.is_active = ? AND agents.is_online = ?", workspaceID, true, true).
		Group("agents.id").
		Order("COUNT(conversations.id) ASC, agents.created_at ASC").
		Limit(1).
		Scan(&picked).Error
	if err != nil {
		return nil, err
	}
	if picked.ID == "" {
		return nil, ErrNotFound
	}
	return &picked, nil
}

// ListContacts returns the newest contacts of a workspace
func (s *Store) ListContacts(ctx context.Context, workspaceID string, limit int) ([]models.Contact, error) {
	if limit <= 0 {
		limit = 100
	}
	var contacts []models.Contact
	err := s.conn(ctx).Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").
		Limit(limit).
		Find(&contacts).Error
	return contacts, err
}
