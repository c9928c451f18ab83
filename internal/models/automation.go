package models

import (
	"time"

	"gorm.io/gorm"
)

// TriggerType is the event category an automation listens for
type TriggerType string

const (
	TriggerNewMessage          TriggerType = "new_message"
	TriggerNewConversation     TriggerType = "new_conversation"
	TriggerNewContact          TriggerType = "new_contact"
	TriggerKeywordMatch        TriggerType = "keyword_match"
	TriggerConversationClosed  TriggerType = "conversation_resolved"
	TriggerTagAdded            TriggerType = "tag_added"
	TriggerOrderCreated        TriggerType = "order_created"
	TriggerNoReplyByAgent      TriggerType = "no_reply_by_agent"
	TriggerNoReplyByCustomer   TriggerType = "no_reply_by_customer"
	TriggerTimeBased           TriggerType = "time_based"
	TriggerAppointmentReminder TriggerType = "appointment_reminder"
	TriggerPaymentOverdue      TriggerType = "payment_overdue"
	TriggerInactivity          TriggerType = "inactivity"
	TriggerBirthday            TriggerType = "birthday"
	TriggerManual              TriggerType = "manual"
)

var triggerTypes = map[TriggerType]bool{
	TriggerNewMessage: true, TriggerNewConversation: true, TriggerNewContact: true,
	TriggerKeywordMatch: true, TriggerConversationClosed: true, TriggerTagAdded: true,
	TriggerOrderCreated: true, TriggerNoReplyByAgent: true, TriggerNoReplyByCustomer: true,
	TriggerTimeBased: true, TriggerAppointmentReminder: true, TriggerPaymentOverdue: true,
	TriggerInactivity: true, TriggerBirthday: true, TriggerManual: true,
}

// IsValid checks if the trigger type is known
func (t TriggerType) IsValid() bool {
	return triggerTypes[t]
}

// LogStatus is the overall outcome of one dispatch
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogPartial LogStatus = "partial"
	LogFailed  LogStatus = "failed"
)

// Automation is a workspace rule: trigger, AND-combined conditions, ordered actions
type Automation struct {
	ID                    string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	WorkspaceID           string        `gorm:"type:varchar(36);index;not null" json:"workspace_id"`
	Name                  string        `gorm:"type:varchar(255);not null" json:"name" validate:"required,max=255"`
	Description           string        `gorm:"type:text" json:"description"`
	TriggerType           TriggerType   `gorm:"type:varchar(50);index;not null" json:"trigger_type"`
	TriggerConfig         JSONMap       `json:"trigger_config"`
	Conditions            ConditionList `json:"conditions" validate:"dive"`
	Actions               ActionList    `json:"actions" validate:"dive"`
	IsActive              bool          `gorm:"default:true;index" json:"is_active"`
	CooldownHours         float64       `gorm:"default:0" json:"cooldown_hours" validate:"gte=0"`
	MaxTriggersPerContact int           `gorm:"default:0" json:"max_triggers_per_contact" validate:"gte=0"`
	TimesTriggered        int           `gorm:"default:0" json:"times_triggered"`
	LastTriggeredAt       *time.Time    `json:"last_triggered_at"`
	CreatedAt             time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Automation) TableName() string {
	return "automations"
}

func (a *Automation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = newID()
	}
	return nil
}

// HasContactLimits reports whether the automation restricts re-firing per contact
func (a *Automation) HasContactLimits() bool {
	return a.CooldownHours > 0 || a.MaxTriggersPerContact > 0
}

// AutomationLog is the append-only audit record of one dispatch
type AutomationLog struct {
	ID              string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	WorkspaceID     string        `gorm:"type:varchar(36);index;not null" json:"workspace_id"`
	AutomationID    string        `gorm:"type:varchar(36);index;not null" json:"automation_id"`
	ContactID       *string       `gorm:"type:varchar(36)" json:"contact_id"`
	ConversationID  *string       `gorm:"type:varchar(36)" json:"conversation_id"`
	TriggerType     TriggerType   `gorm:"type:varchar(50)" json:"trigger_type"`
	TriggerData     JSONMap       `json:"trigger_data"`
	ActionsExecuted ActionResults `json:"actions_executed"`
	Status          LogStatus     `gorm:"type:varchar(20);index" json:"status"`
	ErrorMessage    string        `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt       time.Time     `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AutomationLog) TableName() string {
	return "automation_logs"
}

func (l *AutomationLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = newID()
	}
	return nil
}

// AutomationContactTrigger tracks how often an automation fired for one contact
type AutomationContactTrigger struct {
	ID              string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AutomationID    string    `gorm:"type:varchar(36);uniqueIndex:idx_automation_contact;not null" json:"automation_id"`
	ContactID       string    `gorm:"type:varchar(36);uniqueIndex:idx_automation_contact;not null" json:"contact_id"`
	TriggerCount    int       `gorm:"default:0" json:"trigger_count"`
	LastTriggeredAt time.Time `json:"last_triggered_at"`
}

func (AutomationContactTrigger) TableName() string {
	return "automation_contact_triggers"
}

func (t *AutomationContactTrigger) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = newID()
	}
	return nil
}

// AutomationContinuation holds the actions left after a wait, to be resumed by the scanner
type AutomationContinuation struct {
	ID               string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	WorkspaceID      string      `gorm:"type:varchar(36);index;not null" json:"workspace_id"`
	AutomationID     string      `gorm:"type:varchar(36);index;not null" json:"automation_id"`
	ContactID        string      `gorm:"type:varchar(36)" json:"contact_id"`
	ConversationID   string      `gorm:"type:varchar(36)" json:"conversation_id"`
	TriggerType      TriggerType `gorm:"type:varchar(50)" json:"trigger_type"`
	TriggerData      JSONMap     `json:"trigger_data"`
	RemainingActions ActionList  `json:"remaining_actions"`
	ResumeAt         time.Time   `gorm:"index" json:"resume_at"`
	CreatedAt        time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

func (AutomationContinuation) TableName() string {
	return "automation_continuations"
}

func (c *AutomationContinuation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = newID()
	}
	return nil
}
