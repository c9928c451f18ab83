package automation_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newExecutor returns an executor clocked at fixedNow
func newExecutor(e *env) *automation.Executor {
	x := automation.NewExecutor(e.store, e.messenger, time.Second)
	automation.NewEngine(e.store, x, automation.Options{Now: func() time.Time { return fixedNow }})
	return x
}

func TestUnionAndSubtractTags(t *testing.T) {
	current := []string{"vip", "lead"}

	assert.Equal(t, []string{"vip", "lead"}, automation.UnionTags(current, []string{"vip"}))
	assert.Equal(t, []string{"vip", "lead", "new"}, automation.UnionTags(current, []string{"new", "new"}))
	assert.Equal(t, []string{"vip", "lead"}, automation.SubtractTags(current, []string{"absent"}))
	assert.Equal(t, []string{"lead"}, automation.SubtractTags(current, []string{"vip"}))
}

func TestExecuteTagActions(t *testing.T) {
	e := newEnv(t)
	x := newExecutor(e)
	contact := e.fx.Contact(e.ws.ID, func(c *models.Contact) { c.Tags = models.StringArray{"vip"} })
	ec := automation.ExecutionContext{WorkspaceID: e.ws.ID, ContactID: contact.ID}

	require.NoError(t, x.Execute(e.ctx, models.Action{Type: models.ActionAddTag, Tags: []string{"vip", "followed_up"}}, ec))
	assert.Equal(t, models.StringArray{"vip", "followed_up"}, e.reloadContact(contact.ID).Tags)

	require.NoError(t, x.Execute(e.ctx, models.Action{Type: models.ActionRemoveTag, Tags: []string{"absent"}}, ec))
	assert.Equal(t, models.StringArray{"vip", "followed_up"}, e.reloadContact(contact.ID).Tags)

	require.NoError(t, x.Execute(e.ctx, models.Action{Type: models.ActionRemoveTag, Tags: []string{"vip"}}, ec))
	assert.Equal(t, models.StringArray{"followed_up"}, e.reloadContact(contact.ID).Tags)
}

func TestExecuteSendMessagePersonalizesAndRecords(t *testing.T) {
	e := newEnv(t)
	x := newExecutor(e)
	contact := e.fx.Contact(e.ws.ID, func(c *models.Contact) { c.Name = "Asha"; c.WaID = "919900000001" })
	conv := e.fx.Conversation(e.ws.ID, contact.ID)

	ec := automation.ExecutionContext{
		WorkspaceID:    e.ws.ID,
		ContactID:      contact.ID,
		ConversationID: conv.ID,
		TriggerData:    map[string]any{"order_id": "A-17"},
	}
	action := models.Action{Type: models.ActionSendMessage, Message: "Hi {{contact.name}}, order {{trigger.order_id}} ({{ contact.phone }})"}
	require.NoError(t, x.Execute(e.ctx, action, ec))

	sent := e.messenger.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "919900000001", sent[0].To)
	assert.Equal(t, "Hi Asha, order A-17 (919900000001)", sent[0].Body)

	latest, err := e.store.LatestMessage(e.ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DirectionOutbound, latest.Direction)
	assert.Equal(t, "wamid.test", latest.WaMessageID)

	reloaded, err := e.store.GetConversation(e.ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastMessageAt)
	assert.True(t, fixedNow.Equal(*reloaded.LastMessageAt))
}

func TestExecuteSendTemplate(t *testing.T) {
	e := newEnv(t)
	x := newExecutor(e)
	contact := e.fx.Contact(e.ws.ID, func(c *models.Contact) { c.Name = "Ravi" })
	tpl := e.fx.Template(e.ws.ID, "appointment_reminder", "en_US")
	ec := automation.ExecutionContext{WorkspaceID: e.ws.ID, ContactID: contact.ID, TriggerData: map[string]any{"slot": "5pm"}}

	action := models.Action{Type: models.ActionSendTemplate, TemplateID: tpl.ID, Variables: []string{"{{contact.name}}", "{{trigger.slot}}"}}
	require.NoError(t, x.Execute(e.ctx, action, ec))

	sent := e.messenger.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "appointment_reminder", sent[0].Template)
	assert.Equal(t, "en_US", sent[0].Language)
	assert.Equal(t, []string{"Ravi", "5pm"}, sent[0].Variables)

	err := x.Execute(e.ctx, models.Action{Type: models.ActionSendTemplate, TemplateID: "nope"}, ec)
	assert.Error(t, err)
}

func TestExecuteSendMessageWithoutConnectionFails(t *testing.T) {
	e := newEnv(t)
	x := newExecutor(e)
	other := e.fx.Workspace()
	contact := e.fx.Contact(other.ID)

	err := x.Execute(e.ctx, models.Action{Type: models.ActionSendMessage, Message: "hi"},
		automation.ExecutionContext{WorkspaceID: other.ID, ContactID: contact.ID})
	assert.Error(t, err)
	assert.Empty(t, e.messenger.Sent())
}

func TestExecuteMissingContextIsNoop(t *testing.T) {
	e := newEnv(t)
	x := newExecutor(e)
	ec := automation.ExecutionContext{WorkspaceID: e.ws.ID}

	for _, action := range []models.Action{
		{Type: models.ActionSendMessage, Message: "hi"},
		{Type: models.ActionSendTemplate, TemplateID: "t"},
		{Type: models.ActionAssignAgent, AgentID: "a"},
		{Type: models.ActionAddTag, Tags: []string{"x"}},
		{Type: models.ActionUpdateStatus, Status: "active"},
		{Type: models.ActionResolveConversation},
		{Type: models.ActionSnoozeConversation, Hours: 2},
		{Type: models.ActionUpdateCustomField, Field: "plan", Value: "gold"},
		{Type: models.ActionSendWebhook},
		{Type: models.ActionWait, Hours: 1},
	} {
		assert.NoError(t, x.Execute(e.ctx, action, ec), string(action.Type))
	}
	assert.Empty(t, e.messenger.Sent())
}

func TestExecuteUnknownActionFails(t *testing.T) {
	e := newEnv(t)
	err := newExecutor(e).Execute(e.ctx, models.Action{Type: "teleport"}, automation.ExecutionContext{WorkspaceID: e.ws.ID})
	assert.Error(t, err)
}

func TestExecuteConversationActions(t *testing.T) {
	e := newEnv(t)
	x := newExecutor(e)
	contact := e.fx.Contact(e.ws.ID)
	conv := e.fx.Conversation(e.ws.ID, contact.ID)
	ec := automation.ExecutionContext{WorkspaceID: e.ws.ID, ContactID: contact.ID, ConversationID: conv.ID}

	require.NoError(t, x.Execute(e.ctx, models.Action{Type: models.ActionSnoozeConversation, Hours: 3}, ec))
	got, err := e.store.GetConversation(e.ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationSnoozed, got.Status)
	require.NotNil(t, got.SnoozedUntil)
	assert.True(t, fixedNow.Add(3*time.Hour).Equal(*got.SnoozedUntil))

	require.NoError(t, x.Execute(e.ctx, models.Action{Type: models.ActionResolveConversation}, ec))
	got, err = e.store.GetConversation(e.ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationResolved, got.Status)
	assert.NotNil(t, got.ResolvedAt)
}

func TestExecuteAssignAgent(t *testing.T) {
	e := newEnv(t)
	x := newExecutor(e)
	contact := e.fx.Contact(e.ws.ID)
	conv := e.fx.Conversation(e.ws.ID, contact.ID)
	ec := automation.ExecutionContext{WorkspaceID: e.ws.ID, ConversationID: conv.ID}

	// no online agent: silently skipped
	e.fx.Agent(e.ws.ID, "away", false)
	require.NoError(t, x.Execute(e.ctx, models.Action{Type: models.ActionAssignAgent, AgentID: models.AgentRoundRobin}, ec))
	got, _ := e.store.GetConversation(e.ctx, conv.ID)
	assert.Nil(t, got.AssignedAgentID)

	online := e.fx.Agent(e.ws.ID, "online", true)
	require.NoError(t, x.Execute(e.ctx, models.Action{Type: models.ActionAssignAgent, AgentID: models.AgentLeastBusy}, ec))
	got, _ = e.store.GetConversation(e.ctx, conv.ID)
	require.NotNil(t, got.AssignedAgentID)
	assert.Equal(t, online.ID, *got.AssignedAgentID)

	require.NoError(t, x.Execute(e.ctx, models.Action{Type: models.ActionAssignAgent, AgentID: "agent-literal"}, ec))
	got, _ = e.store.GetConversation(e.ctx, conv.ID)
	assert.Equal(t, "agent-literal", *got.AssignedAgentID)
}

func TestExecuteContactFieldActions(t *testing.T) {
	e := newEnv(t)
	x := newExecutor(e)
	contact := e.fx.Contact(e.ws.ID, func(c *models.Contact) { c.CustomFields = models.JSONMap{"city": "Pune"} })
	ec := automation.ExecutionContext{WorkspaceID: e.ws.ID, ContactID: contact.ID}

	require.NoError(t, x.Execute(e.ctx, models.Action{Type: models.ActionUpdateCustomField, Field: "plan", Value: "gold"}, ec))
	require.NoError(t, x.Execute(e.ctx, models.Action{Type: models.ActionUpdateStatus, Status: "active"}, ec))
	require.NoError(t, x.Execute(e.ctx, models.Action{Type: models.ActionUpdateLifecycle, LifecycleStage: "customer"}, ec))

	got := e.reloadContact(contact.ID)
	assert.Equal(t, "Pune", got.CustomFields["city"])
	assert.Equal(t, "gold", got.CustomFields["plan"])
	assert.Equal(t, "active", got.Status)
	assert.Equal(t, "customer", got.LifecycleStage)
}

func TestExecuteWebhook(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	e := newEnv(t)
	x := newExecutor(e)
	ec := automation.ExecutionContext{
		WorkspaceID: e.ws.ID,
		ContactID:   "c-1",
		TriggerData: map[string]any{"k": "v"},
	}
	action := models.Action{
		Type:    models.ActionSendWebhook,
		URL:     srv.URL,
		Payload: map[string]any{"source": "crm", "workspaceId": "spoofed"},
	}
	require.NoError(t, x.Execute(e.ctx, action, ec))

	assert.Equal(t, "crm", body["source"])
	assert.Equal(t, e.ws.ID, body["workspaceId"])
	assert.Equal(t, "c-1", body["contactId"])
	assert.Equal(t, map[string]any{"k": "v"}, body["triggerData"])
}

func TestExecuteWebhookNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := newEnv(t)
	err := newExecutor(e).Execute(e.ctx, models.Action{Type: models.ActionSendWebhook, URL: srv.URL},
		automation.ExecutionContext{WorkspaceID: e.ws.ID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestPersonalize(t *testing.T) {
	contact := &models.Contact{Name: "Asha", WaID: "9199"}
	out := automation.Personalize("{{contact.name}}/{{contact.phone}}/{{trigger.n}}/{{trigger.none}}/{{other}}",
		contact, map[string]any{"n": 3.0})
	assert.Equal(t, "Asha/9199/3//{{other}}", out)

	assert.Equal(t, "Hi ", automation.Personalize("Hi {{contact.name}}", nil, nil))
}
