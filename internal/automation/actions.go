package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/store"

	"github.com/sirupsen/logrus"
)

// Executor performs exactly one side effect per action
type Executor struct {
	store      Store
	messenger  Messenger
	httpClient *http.Client
	now        func() time.Time
	log        *logrus.Entry
}

func NewExecutor(s Store, messenger Messenger, webhookTimeout time.Duration) *Executor {
	if webhookTimeout <= 0 {
		webhookTimeout = 10 * time.Second
	}
	return &Executor{
		store:      s,
		messenger:  messenger,
		httpClient: &http.Client{Timeout: webhookTimeout},
		now:        func() time.Time { return time.Now().UTC() },
		log:        logrus.WithField("component", "automation.executor"),
	}
}

// Execute runs one action. Actions whose required context is missing do nothing and return nil.
func (x *Executor) Execute(ctx context.Context, action models.Action, ec ExecutionContext) error {
	switch action.Type {
	case models.ActionSendMessage:
		return x.sendMessage(ctx, action, ec)
	case models.ActionSendTemplate:
		return x.sendTemplate(ctx, action, ec)
	case models.ActionAssignAgent:
		return x.assignAgent(ctx, action, ec)
	case models.ActionAddTag, models.ActionRemoveTag:
		return x.changeTags(ctx, action, ec)
	case models.ActionUpdateStatus:
		if ec.ContactID == "" || action.Status == "" {
			return nil
		}
		return x.store.UpdateContactField(ctx, ec.ContactID, "status", action.Status)
	case models.ActionUpdateLifecycle:
		if ec.ContactID == "" || action.LifecycleStage == "" {
			return nil
		}
		return x.store.UpdateContactField(ctx, ec.ContactID, "lifecycle_stage", action.LifecycleStage)
	case models.ActionResolveConversation:
		if ec.ConversationID == "" {
			return nil
		}
		return x.store.UpdateConversation(ctx, ec.ConversationID, map[string]any{
			"status":      models.ConversationResolved,
			"resolved_at": x.now(),
		})
	case models.ActionSnoozeConversation:
		if ec.ConversationID == "" || action.Hours <= 0 {
			return nil
		}
		return x.store.UpdateConversation(ctx, ec.ConversationID, map[string]any{
			"status":        models.ConversationSnoozed,
			"snoozed_until": x.now().Add(hoursToDuration(action.Hours)),
		})
	case models.ActionSendWebhook:
		return x.sendWebhook(ctx, action, ec)
	case models.ActionUpdateCustomField:
		return x.updateCustomField(ctx, action, ec)
	case models.ActionWait:
		return nil
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// recipient resolves the contact and the workspace connection used to message it.
// ok is false when the contact no longer exists.
func (x *Executor) recipient(ctx context.Context, ec ExecutionContext) (*models.Contact, *models.WhatsAppConnection, bool, error) {
	contact, err := x.store.GetContact(ctx, ec.ContactID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	if contact.WaID == "" {
		return nil, nil, false, errors.New("contact has no WhatsApp id")
	}

	conn, err := x.store.GetConnection(ctx, ec.WorkspaceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, false, errors.New("workspace has no active WhatsApp connection")
	}
	if err != nil {
		return nil, nil, false, err
	}
	return contact, conn, true, nil
}

func (x *Executor) sendMessage(ctx context.Context, action models.Action, ec ExecutionContext) error {
	if ec.ContactID == "" || action.Message == "" {
		return nil
	}
	contact, conn, ok, err := x.recipient(ctx, ec)
	if err != nil || !ok {
		return err
	}

	body := Personalize(action.Message, contact, ec.TriggerData)
	waMessageID, err := x.messenger.SendText(ctx, conn, contact.WaID, body)
	if err != nil {
		return err
	}
	return x.recordOutbound(ctx, ec, "text", body, waMessageID)
}

func (x *Executor) sendTemplate(ctx context.Context, action models.Action, ec ExecutionContext) error {
	if ec.ContactID == "" || action.TemplateID == "" {
		return nil
	}
	tpl, err := x.store.GetTemplate(ctx, ec.WorkspaceID, action.TemplateID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("template %s not found", action.TemplateID)
	}
	if err != nil {
		return err
	}
	contact, conn, ok, err := x.recipient(ctx, ec)
	if err != nil || !ok {
		return err
	}

	vars := make([]string, len(action.Variables))
	for i, v := range action.Variables {
		vars[i] = Personalize(v, contact, ec.TriggerData)
	}

	waMessageID, err := x.messenger.SendTemplate(ctx, conn, contact.WaID, tpl.Name, tpl.Language, vars)
	if err != nil {
		return err
	}
	return x.recordOutbound(ctx, ec, "template", "Template: "+tpl.Name, waMessageID)
}

func (x *Executor) recordOutbound(ctx context.Context, ec ExecutionContext, msgType, content, waMessageID string) error {
	msg := &models.Message{
		WorkspaceID:    ec.WorkspaceID,
		ConversationID: ec.ConversationID,
		ContactID:      ec.ContactID,
		Direction:      models.DirectionOutbound,
		Type:           msgType,
		Content:        content,
		WaMessageID:    waMessageID,
		Status:         "sent",
		CreatedAt:      x.now(),
	}
	if err := x.store.RecordMessage(ctx, msg); err != nil {
		return fmt.Errorf("message sent but not recorded: %w", err)
	}
	return nil
}

func (x *Executor) assignAgent(ctx context.Context, action models.Action, ec ExecutionContext) error {
	if ec.ConversationID == "" || action.AgentID == "" {
		return nil
	}

	agentID := action.AgentID
	switch agentID {
	case models.AgentRoundRobin, models.AgentLeastBusy:
		var (
			agent *models.Agent
			err   error
		)
		if agentID == models.AgentRoundRobin {
			agent, err = x.store.NextRoundRobinAgent(ctx, ec.WorkspaceID, x.now())
		} else {
			agent, err = x.store.LeastBusyAgent(ctx, ec.WorkspaceID)
		}
		if errors.Is(err, store.ErrNotFound) {
			x.log.WithField("workspace_id", ec.WorkspaceID).Debug("No online agent available for assignment")
			return nil
		}
		if err != nil {
			return err
		}
		agentID = agent.ID
	}

	return x.store.UpdateConversation(ctx, ec.ConversationID, map[string]any{
		"assigned_agent_id": agentID,
	})
}

func (x *Executor) changeTags(ctx context.Context, action models.Action, ec ExecutionContext) error {
	if ec.ContactID == "" || len(action.Tags) == 0 {
		return nil
	}
	contact, err := x.store.GetContact(ctx, ec.ContactID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var tags []string
	if action.Type == models.ActionAddTag {
		tags = UnionTags(contact.Tags, action.Tags)
	} else {
		tags = SubtractTags(contact.Tags, action.Tags)
	}
	return x.store.SetContactTags(ctx, ec.ContactID, tags)
}

func (x *Executor) updateCustomField(ctx context.Context, action models.Action, ec ExecutionContext) error {
	if ec.ContactID == "" || action.Field == "" {
		return nil
	}
	contact, err := x.store.GetContact(ctx, ec.ContactID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	fields := models.JSONMap{}
	for k, v := range contact.CustomFields {
		fields[k] = v
	}
	fields[action.Field] = action.Value
	return x.store.SetContactCustomFields(ctx, ec.ContactID, fields)
}

func (x *Executor) sendWebhook(ctx context.Context, action models.Action, ec ExecutionContext) error {
	if action.URL == "" {
		return nil
	}

	body := make(map[string]any, len(action.Payload)+4)
	for k, v := range action.Payload {
		body[k] = v
	}
	body["workspaceId"] = ec.WorkspaceID
	if ec.ContactID != "" {
		body["contactId"] = ec.ContactID
	}
	if ec.ConversationID != "" {
		body["conversationId"] = ec.ConversationID
	}
	if ec.TriggerData != nil {
		body["triggerData"] = ec.TriggerData
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, action.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// UnionTags appends the tags not already present, keeping the existing order
func UnionTags(current []string, add []string) []string {
	out := make([]string, 0, len(current)+len(add))
	seen := make(map[string]bool, len(current)+len(add))
	for _, list := range [][]string{current, add} {
		for _, t := range list {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// SubtractTags removes the given tags
func SubtractTags(current []string, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, t := range remove {
		drop[t] = true
	}
	out := make([]string, 0, len(current))
	for _, t := range current {
		if !drop[t] {
			out = append(out, t)
		}
	}
	return out
}

var placeholder = regexp.MustCompile(`\{\{\s*(contact\.name|contact\.phone|trigger\.[A-Za-z0-9_]+)\s*\}\}`)

// Personalize substitutes {{contact.name}}, {{contact.phone}} and {{trigger.<key>}}
func Personalize(text string, contact *models.Contact, triggerData map[string]any) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		switch key {
		case "contact.name":
			if contact != nil {
				return contact.Name
			}
			return ""
		case "contact.phone":
			if contact != nil {
				return contact.WaID
			}
			return ""
		default:
			return stringify(triggerData[key[len("trigger."):]])
		}
	})
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
