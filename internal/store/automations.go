package store

import (
	"context"
	"time"

	"whatsapp-automation/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListActiveAutomations returns the active automations of a workspace having one of the given trigger types
func (s *Store) ListActiveAutomations(ctx context.Context, workspaceID string, types ...models.TriggerType) ([]models.Automation, error) {
	q := s.conn(ctx).Where("workspace_id = ? AND is_active = ?", workspaceID, true)
	if len(types) > 0 {
		q = q.Where("trigger_type IN ?", types)
	}
	var automations []models.Automation
	err := q.Order("created_at ASC").Find(&automations).Error
	return automations, err
}

// ListAutomations returns every automation of a workspace, newest first
func (s *Store) ListAutomations(ctx context.Context, workspaceID string) ([]models.Automation, error) {
	var automations []models.Automation
	err := s.conn(ctx).Where("workspace_id = ?", workspaceID).Order("created_at DESC").Find(&automations).Error
	return automations, err
}

func (s *Store) GetAutomation(ctx context.Context, id string) (*models.Automation, error) {
	var a models.Automation
	if err := s.conn(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *Store) CreateAutomation(ctx context.Context, a *models.Automation) error {
	active := a.IsActive
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(a).Error; err != nil {
			return err
		}
		// is_active defaults to true in the schema, so an explicit false must be written separately
		if !active {
			return tx.Model(a).Update("is_active", false).Error
		}
		return nil
	})
}

// SaveAutomation overwrites the editable fields of an automation
func (s *Store) SaveAutomation(ctx context.Context, a *models.Automation) error {
	res := s.conn(ctx).Model(&models.Automation{}).Where("id = ?", a.ID).
		Select("name", "description", "trigger_type", "trigger_config", "conditions", "actions",
			"is_active", "cooldown_hours", "max_triggers_per_contact").
		Updates(a)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetAutomationActive(ctx context.Context, id string, active bool) error {
	res := s.conn(ctx).Model(&models.Automation{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAutomation(ctx context.Context, id string) error {
	res := s.conn(ctx).Where("id = ?", id).Delete(&models.Automation{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementTriggerCount bumps times_triggered atomically and stamps last_triggered_at
func (s *Store) IncrementTriggerCount(ctx context.Context, id string, at time.Time) error {
	return s.conn(ctx).Model(&models.Automation{}).Where("id = ?", id).
		UpdateColumns(map[string]any{
			"times_triggered":   gorm.Expr("times_triggered + ?", 1),
			"last_triggered_at": utc(at),
		}).Error
}

// GetContactTrigger returns the per-contact fire record, or ErrNotFound if the automation never fired for the contact
func (s *Store) GetContactTrigger(ctx context.Context, automationID, contactID string) (*models.AutomationContactTrigger, error) {
	var t models.AutomationContactTrigger
	err := s.conn(ctx).Where("automation_id = ? AND contact_id = ?", automationID, contactID).First(&t).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// RecordContactTrigger inserts or bumps the per-contact fire record
func (s *Store) RecordContactTrigger(ctx context.Context, automationID, contactID string, at time.Time) error {
	stamp := utc(at)
	row := models.AutomationContactTrigger{
		AutomationID:    automationID,
		ContactID:       contactID,
		TriggerCount:    1,
		LastTriggeredAt: stamp,
	}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "automation_id"}, {Name: "contact_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"trigger_count":     gorm.Expr("automation_contact_triggers.trigger_count + 1"),
			"last_triggered_at": stamp,
		}),
	}).Create(&row).Error
}

func (s *Store) CreateLog(ctx context.Context, log *models.AutomationLog) error {
	return s.conn(ctx).Create(log).Error
}

// LogFilter narrows ListLogs
type LogFilter struct {
	AutomationID string
	Status       models.LogStatus
	Since        *time.Time
	Limit        int
}

// ListLogs returns the newest logs of a workspace
func (s *Store) ListLogs(ctx context.Context, workspaceID string, f LogFilter) ([]models.AutomationLog, error) {
	q := s.conn(ctx).Where("workspace_id = ?", workspaceID)
	if f.AutomationID != "" {
		q = q.Where("automation_id = ?", f.AutomationID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", utc(*f.Since))
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	var logs []models.AutomationLog
	err := q.Order("created_at DESC").Limit(f.Limit).Find(&logs).Error
	return logs, err
}

// Analytics summarizes the automations of a workspace
type Analytics struct {
	TotalAutomations  int64 `json:"total_automations"`
	ActiveAutomations int64 `json:"active_automations"`
	TotalExecutions   int64 `json:"total_executions"`
	Successful        int64 `json:"successful_executions"`
	Partial           int64 `json:"partial_executions"`
	Failed            int64 `json:"failed_executions"`
}

func (s *Store) Analytics(ctx context.Context, workspaceID string) (*Analytics, error) {
	var stats Analytics
	db := s.conn(ctx)

	if err := db.Model(&models.Automation{}).Where("workspace_id = ?", workspaceID).Count(&stats.TotalAutomations).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Automation{}).Where("workspace_id = ? AND is_active = ?", workspaceID, true).Count(&stats.ActiveAutomations).Error; err != nil {
		return nil, err
	}

	var rows []struct {
		Status models.LogStatus
		Total  int64
	}
	err := db.Model(&models.AutomationLog{}).
		Select("status, COUNT(*) AS total").
		Where("workspace_id = ?", workspaceID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		stats.TotalExecutions += r.Total
		switch r.Status {
		case models.LogSuccess:
			stats.Successful = r.Total
		case models.LogPartial:
			stats.Partial = r.Total
		case models.LogFailed:
			stats.Failed = r.Total
		}
	}
	return &stats, nil
}

func (s *Store) CreateContinuation(ctx context.Context, c *models.AutomationContinuation) error {
	c.ResumeAt = utc(c.ResumeAt)
	return s.conn(ctx).Create(c).Error
}

// ListDueContinuations returns continuations of a workspace whose resume time has passed
func (s *Store) ListDueContinuations(ctx context.Context, workspaceID string, now time.Time) ([]models.AutomationContinuation, error) {
	var conts []models.AutomationContinuation
	err := s.conn(ctx).
		Where("workspace_id = ? AND resume_at <= ?", workspaceID, utc(now)).
		Order("resume_at ASC").
		Find(&conts).Error
	return conts, err
}

// ClaimContinuation deletes a continuation; claimed is false when another scan pass took it first
func (s *Store) ClaimContinuation(ctx context.Context, id string) (bool, error) {
	res := s.conn(ctx).Where("id = ?", id).Delete(&models.AutomationContinuation{})
	return res.RowsAffected > 0, res.Error
}
