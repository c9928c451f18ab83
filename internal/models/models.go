package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Conversation statuses
const (
	ConversationOpen     = "open"
	ConversationPending  = "pending"
	ConversationSnoozed  = "snoozed"
	ConversationResolved = "resolved"
)

// Order values read by the scanner
const (
	OrderTypeAppointment = "appointment"
	OrderTypeBooking     = "booking"
	OrderStatusCancelled = "cancelled"
	OrderStatusCompleted = "completed"
	PaymentPending       = "pending"
)

func newID() string {
	return uuid.NewString()
}

// Workspace is the tenant boundary
type Workspace struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Timezone  string    `gorm:"type:varchar(64)" json:"timezone"`
	IsActive  bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Workspace) TableName() string {
	return "workspaces"
}

func (w *Workspace) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = newID()
	}
	return nil
}

// WhatsAppConnection holds the Cloud API credentials of one workspace number
type WhatsAppConnection struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	WorkspaceID   string    `gorm:"type:varchar(36);index;not null" json:"workspace_id"`
	PhoneNumberID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"phone_number_id"`
	AccessToken   string    `gorm:"type:text" json:"-"`
	WabaID        string    `gorm:"type:varchar(64)" json:"waba_id"`
	IsActive      bool      `gorm:"default:true" json:"is_active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WhatsAppConnection) TableName() string {
	return "whatsapp_connections"
}

func (c *WhatsAppConnection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = newID()
	}
	return nil
}

// MessageTemplate represents an approved WhatsApp message template
type MessageTemplate struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	WorkspaceID string    `gorm:"type:varchar(36);index;not null" json:"workspace_id"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Language    string    `gorm:"type:varchar(20)" json:"language"`
	Category    string    `gorm:"type:varchar(100)" json:"category"`
	Status      string    `gorm:"type:varchar(50)" json:"status"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (MessageTemplate) TableName() string {
	return "message_templates"
}

func (t *MessageTemplate) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = newID()
	}
	return nil
}

// Agent is a workspace member that conversations can be assigned to
type Agent struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	WorkspaceID    string     `gorm:"type:varchar(36);index;not null" json:"workspace_id"`
	Name           string     `gorm:"type:varchar(255)" json:"name"`
	IsActive       bool       `gorm:"default:true" json:"is_active"`
	IsOnline       bool       `gorm:"default:false" json:"is_online"`
	LastAssignedAt *time.Time `json:"last_assigned_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Agent) TableName() string {
	return "agents"
}

func (a *Agent) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = newID()
	}
	return nil
}

// Contact represents a WhatsApp contact of a workspace
type Contact struct {
	ID             string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	WorkspaceID    string      `gorm:"type:varchar(36);index;not null" json:"workspace_id"`
	WaID           string      `gorm:"type:varchar(50);index" json:"wa_id"` // WhatsApp ID (phone number)
	Name           string      `gorm:"type:varchar(255)" json:"name"`
	Email          string      `gorm:"type:varchar(255)" json:"email"`
	Tags           StringArray `json:"tags"`
	Status         string      `gorm:"type:varchar(50)" json:"status"`
	LifecycleStage string      `gorm:"type:varchar(50)" json:"lifecycle_stage"`
	CustomFields   JSONMap     `json:"custom_fields"`
	OptedIn        bool        `gorm:"default:true" json:"opted_in"`
	IsBlocked      bool        `gorm:"default:false" json:"is_blocked"`
	LastMessageAt  *time.Time  `json:"last_message_at"`
	CreatedAt      time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = newID()
	}
	return nil
}

// Conversation is a thread between a contact and the workspace
type Conversation struct {
	ID              string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	WorkspaceID     string     `gorm:"type:varchar(36);index;not null" json:"workspace_id"`
	ContactID       string     `gorm:"type:varchar(36);index" json:"contact_id"`
	Status          string     `gorm:"type:varchar(20);default:'open';index" json:"status"`
	SnoozedUntil    *time.Time `json:"snoozed_until"`
	AssignedAgentID *string    `gorm:"type:varchar(36);index" json:"assigned_agent_id"`
	LastMessageAt   *time.Time `json:"last_message_at"`
	FirstResponseAt *time.Time `json:"first_response_at"`
	ResolvedAt      *time.Time `json:"resolved_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = newID()
	}
	return nil
}

// Message represents a WhatsApp message inside a conversation
type Message struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	WorkspaceID    string    `gorm:"type:varchar(36);index;not null" json:"workspace_id"`
	ConversationID string    `gorm:"type:varchar(36);index" json:"conversation_id"`
	ContactID      string    `gorm:"type:varchar(36);index" json:"contact_id"`
	Direction      string    `gorm:"type:varchar(10);not null" json:"direction"`
	Type           string    `gorm:"type:varchar(50)" json:"type"`
	Content        string    `gorm:"type:text" json:"content"`
	WaMessageID    string    `gorm:"type:varchar(255);index" json:"wa_message_id"`
	Status         string    `gorm:"type:varchar(20)" json:"status"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = newID()
	}
	return nil
}

// Order covers both purchases and bookings (appointments)
type Order struct {
	ID            string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	WorkspaceID   string     `gorm:"type:varchar(36);index;not null" json:"workspace_id"`
	ContactID     string     `gorm:"type:varchar(36);index" json:"contact_id"`
	OrderType     string     `gorm:"type:varchar(50)" json:"order_type"`
	Status        string     `gorm:"type:varchar(50)" json:"status"`
	PaymentStatus string     `gorm:"type:varchar(50)" json:"payment_status"`
	ScheduledAt   *time.Time `json:"scheduled_at"`
	DueDate       *time.Time `json:"due_date"`
	Amount        float64    `json:"amount"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = newID()
	}
	return nil
}
