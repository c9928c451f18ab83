// Package store is the gorm-backed repository behind the automation engine,
// the webhook intake and the management API.
package store

import (
	"context"
	"errors"
	"time"

	"whatsapp-automation/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a looked-up record does not exist
var ErrNotFound = errors.New("record not found")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need raw access (migrations, exports)
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

// GetWorkspace fetches one workspace
func (s *Store) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	var ws models.Workspace
	if err := s.conn(ctx).First(&ws, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &ws, nil
}

// ListActiveWorkspaces returns every workspace with is_active = true
func (s *Store) ListActiveWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	var workspaces []models.Workspace
	err := s.conn(ctx).Where("is_active = ?", true).Order("created_at ASC").Find(&workspaces).Error
	return workspaces, err
}

// GetConnection returns the active WhatsApp connection of a workspace
func (s *Store) GetConnection(ctx context.Context, workspaceID string) (*models.WhatsAppConnection, error) {
	var conn models.WhatsAppConnection
	err := s.conn(ctx).
		Where("workspace_id = ? AND is_active = ?", workspaceID, true).
		Order("created_at ASC").
		First(&conn).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &conn, nil
}

// GetConnectionByPhoneNumberID resolves the workspace connection an inbound webhook belongs to
func (s *Store) GetConnectionByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.WhatsAppConnection, error) {
	var conn models.WhatsAppConnection
	err := s.conn(ctx).
		Where("phone_number_id = ? AND is_active = ?", phoneNumberID, true).
		First(&conn).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &conn, nil
}

// GetTemplate fetches a message template scoped to a workspace
func (s *Store) GetTemplate(ctx context.Context, workspaceID, id string) (*models.MessageTemplate, error) {
	var tpl models.MessageTemplate
	err := s.conn(ctx).Where("id = ? AND workspace_id = ?", id, workspaceID).First(&tpl).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &tpl, nil
}
