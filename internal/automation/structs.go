package automation

import (
	"context"
	"errors"
	"time"

	"whatsapp-automation/internal/models"
)

var (
	ErrAutomationNotFound = errors.New("automation not found")
	ErrAutomationInactive = errors.New("automation is not active")
	ErrWorkspaceMismatch  = errors.New("resource belongs to another workspace")
)

// ExecutionContext identifies what one dispatch acts on. It is built fresh per dispatch and never persisted.
type ExecutionContext struct {
	WorkspaceID    string         `json:"workspaceId"`
	ContactID      string         `json:"contactId,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	TriggerData    map[string]any `json:"triggerData,omitempty"`
	IsFirstMessage bool           `json:"isFirstMessage,omitempty"`
}

// Store is the data the engine, executor and scanner read and write
type Store interface {
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	ListActiveWorkspaces(ctx context.Context) ([]models.Workspace, error)
	GetConnection(ctx context.Context, workspaceID string) (*models.WhatsAppConnection, error)
	GetTemplate(ctx context.Context, workspaceID, id string) (*models.MessageTemplate, error)

	GetContact(ctx context.Context, id string) (*models.Contact, error)
	ContactWorkspaceID(ctx context.Context, id string) (string, error)
	SetContactTags(ctx context.Context, id string, tags []string) error
	UpdateContactField(ctx context.Context, id, column string, value any) error
	SetContactCustomFields(ctx context.Context, id string, fields models.JSONMap) error
	ListReachableContacts(ctx context.Context, workspaceID string) ([]models.Contact, error)
	ListInactiveContacts(ctx context.Context, workspaceID string, cutoff time.Time) ([]models.Contact, error)

	NextRoundRobinAgent(ctx context.Context, workspaceID string, now time.Time) (*models.Agent, error)
	LeastBusyAgent(ctx context.Context, workspaceID string) (*models.Agent, error)

	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ConversationWorkspaceID(ctx context.Context, id string) (string, error)
	UpdateConversation(ctx context.Context, id string, updates map[string]any) error
	RecordMessage(ctx context.Context, msg *models.Message) error
	LatestMessage(ctx context.Context, conversationID string) (*models.Message, error)
	ListQuietConversations(ctx context.Context, workspaceID string, cutoff time.Time, unansweredOnly bool) ([]models.Conversation, error)
	WakeSnoozedConversations(ctx context.Context, workspaceID string, now time.Time) (int64, error)

	ListOrdersScheduledBetween(ctx context.Context, workspaceID string, from, to time.Time) ([]models.Order, error)
	ListOverdueOrders(ctx context.Context, workspaceID string, before time.Time) ([]models.Order, error)

	ListActiveAutomations(ctx context.Context, workspaceID string, types ...models.TriggerType) ([]models.Automation, error)
	GetAutomation(ctx context.Context, id string) (*models.Automation, error)
	IncrementTriggerCount(ctx context.Context, id string, at time.Time) error
	GetContactTrigger(ctx context.Context, automationID, contactID string) (*models.AutomationContactTrigger, error)
	RecordContactTrigger(ctx context.Context, automationID, contactID string, at time.Time) error
	CreateLog(ctx context.Context, log *models.AutomationLog) error

	CreateContinuation(ctx context.Context, c *models.AutomationContinuation) error
	ListDueContinuations(ctx context.Context, workspaceID string, now time.Time) ([]models.AutomationContinuation, error)
	ClaimContinuation(ctx context.Context, id string) (bool, error)
}

// Messenger sends WhatsApp messages on behalf of a workspace connection
type Messenger interface {
	SendText(ctx context.Context, conn *models.WhatsAppConnection, to, body string) (string, error)
	SendTemplate(ctx context.Context, conn *models.WhatsAppConnection, to, templateName, languageCode string, variables []string) (string, error)
}

// Notifier receives every written automation log
type Notifier interface {
	NotifyDispatch(log *models.AutomationLog)
}
