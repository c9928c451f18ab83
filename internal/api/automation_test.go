package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/store"
	"whatsapp-automation/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type manageFixture struct {
	router http.Handler
	store  *store.Store
	fx     *testutil.Fixtures
	ws     *models.Workspace
	sender *fakeSender
	engine *fakeEngine
}

type fakeSender struct {
	to, body string
}

func (f *fakeSender) SendText(ctx context.Context, conn *models.WhatsAppConnection, to, body string) (string, error) {
	f.to, f.body = to, body
	return "wamid.agent", nil
}

func (f *fakeSender) SendTemplate(ctx context.Context, conn *models.WhatsAppConnection, to, name, lang string, vars []string) (string, error) {
	f.to, f.body = to, name
	return "wamid.template", nil
}

func setupManagement(t *testing.T) *manageFixture {
	db := testutil.NewDB(t)
	fx := testutil.NewFixtures(t, db)
	s := store.New(db)
	sender := &fakeSender{}
	engine := &fakeEngine{}
	r := NewRouter(Handlers{
		Secret:      testSecret,
		Automations: NewAutomationHandler(s),
		Dashboard:   NewDashboardHandler(s, sender, engine),
		Contacts:    NewContactHandler(s, engine),
	})
	return &manageFixture{router: r, store: s, fx: fx, ws: fx.Workspace(), sender: sender, engine: engine}
}

func (f *manageFixture) path(suffix string) string {
	return "/api/workspaces/" + f.ws.ID + suffix
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

const welcomeAutomation = `{
	"name": "Welcome",
	"trigger_type": "new_contact",
	"conditions": [{"field": "contact.tags", "operator": "not_contains", "value": "vip"}],
	"actions": [{"type": "send_message", "message": "Hi {{contact.name}}"}, {"type": "add_tag", "tags": ["welcomed"]}],
	"cooldown_hours": 12
}`

func TestAutomationLifecycle(t *testing.T) {
	f := setupManagement(t)

	w := call(f.router, http.MethodPost, f.path("/automations"), testSecret, welcomeAutomation)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.Automation](t, w.Body.Bytes())
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, f.ws.ID, created.WorkspaceID)
	assert.True(t, created.IsActive)
	assert.Len(t, created.Actions, 2)
	assert.Equal(t, 12.0, created.CooldownHours)

	w = call(f.router, http.MethodGet, f.path("/automations"), testSecret, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Automation](t, w.Body.Bytes()), 1)

	w = call(f.router, http.MethodPut, f.path("/automations/"+created.ID), testSecret, `{"name":"Welcome v2","is_active":false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got, err := f.store.GetAutomation(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome v2", got.Name)
	assert.False(t, got.IsActive)
	assert.Len(t, got.Actions, 2, "fields left out of an update are kept")

	w = call(f.router, http.MethodPost, f.path("/automations/"+created.ID+"/toggle"), testSecret, `{"is_active":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	got, err = f.store.GetAutomation(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	w = call(f.router, http.MethodDelete, f.path("/automations/"+created.ID), testSecret, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = call(f.router, http.MethodGet, f.path("/automations/"+created.ID), testSecret, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateAutomationValidation(t *testing.T) {
	f := setupManagement(t)

	cases := map[string]string{
		"unknown trigger":       `{"name":"x","trigger_type":"teleport"}`,
		"missing name":          `{"trigger_type":"new_message"}`,
		"send without text":     `{"name":"x","trigger_type":"new_message","actions":[{"type":"send_message"}]}`,
		"bad cron":              `{"name":"x","trigger_type":"time_based","trigger_config":{"cron":"every monday"}}`,
		"keywords missing":      `{"name":"x","trigger_type":"keyword_match"}`,
		"unknown action":        `{"name":"x","trigger_type":"new_message","actions":[{"type":"launch_rocket"}]}`,
		"negative cooldown":     `{"name":"x","trigger_type":"new_message","cooldown_hours":-1}`,
		"webhook without a url": `{"name":"x","trigger_type":"new_message","actions":[{"type":"send_webhook"}]}`,
	}
	for name, body := range cases {
		w := call(f.router, http.MethodPost, f.path("/automations"), testSecret, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}

	w := call(f.router, http.MethodPost, f.path("/automations"), testSecret,
		`{"name":"Weekly","trigger_type":"time_based","trigger_config":{"cron":"0 9 * * 1","timezone":"Asia/Kolkata"}}`)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestUpdateRevalidates(t *testing.T) {
	f := setupManagement(t)
	a := f.fx.Automation(f.ws.ID, models.TriggerNewMessage)

	w := call(f.router, http.MethodPut, f.path("/automations/"+a.ID), testSecret, `{"trigger_type":"keyword_match"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	got, err := f.store.GetAutomation(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerNewMessage, got.TriggerType)
}

func TestAutomationsAreWorkspaceScoped(t *testing.T) {
	f := setupManagement(t)
	other := f.fx.Workspace()
	foreign := f.fx.Automation(other.ID, models.TriggerNewMessage)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		w := call(f.router, method, f.path("/automations/"+foreign.ID), testSecret, `{"name":"stolen"}`)
		assert.Equal(t, http.StatusNotFound, w.Code, method)
	}

	token, err := IssueWorkspaceToken(testSecret, other.ID, time.Hour)
	require.NoError(t, err)
	w := call(f.router, http.MethodGet, f.path("/automations"), token, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = call(f.router, http.MethodGet, "/api/workspaces/"+other.ID+"/automations", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Automation](t, w.Body.Bytes()), 1)
}

func TestToggleRequiresFlag(t *testing.T) {
	f := setupManagement(t)
	a := f.fx.Automation(f.ws.ID, models.TriggerNewMessage)

	w := call(f.router, http.MethodPost, f.path("/automations/"+a.ID+"/toggle"), testSecret, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func seedLogs(t *testing.T, f *manageFixture) *models.Automation {
	a := f.fx.Automation(f.ws.ID, models.TriggerTagAdded)
	contactID := "contact-1"
	for _, status := range []models.LogStatus{models.LogSuccess, models.LogPartial, models.LogFailed, models.LogSuccess} {
		entry := &models.AutomationLog{
			WorkspaceID:  f.ws.ID,
			AutomationID: a.ID,
			ContactID:    &contactID,
			TriggerType:  models.TriggerTagAdded,
			TriggerData:  models.JSONMap{"tag": "vip"},
			ActionsExecuted: models.ActionResults{
				{Type: models.ActionSendMessage, Success: status != models.LogFailed},
				{Type: models.ActionAddTag, Success: status == models.LogSuccess, Error: "tag store offline"},
			},
			Status: status,
		}
		require.NoError(t, f.store.CreateLog(context.Background(), entry))
	}
	return a
}

func TestLogsAndAnalytics(t *testing.T) {
	f := setupManagement(t)
	a := seedLogs(t, f)
	f.fx.Automation(f.ws.ID, models.TriggerNewMessage, func(a *models.Automation) { a.IsActive = false })

	w := call(f.router, http.MethodGet, f.path("/automation-logs?limit=2"), testSecret, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.AutomationLog](t, w.Body.Bytes()), 2)

	w = call(f.router, http.MethodGet, f.path("/automation-logs?status=failed&automation_id="+a.ID), testSecret, "")
	require.Equal(t, http.StatusOK, w.Code)
	failed := decode[[]models.AutomationLog](t, w.Body.Bytes())
	require.Len(t, failed, 1)
	assert.Equal(t, models.LogFailed, failed[0].Status)

	assert.Equal(t, http.StatusBadRequest, call(f.router, http.MethodGet, f.path("/automation-logs?limit=ten"), testSecret, "").Code)
	assert.Equal(t, http.StatusBadRequest, call(f.router, http.MethodGet, f.path("/automation-logs?since=yesterday"), testSecret, "").Code)

	w = call(f.router, http.MethodGet, f.path("/automation-analytics"), testSecret, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"total_automations": 2,
		"active_automations": 1,
		"total_executions": 4,
		"successful_executions": 2,
		"partial_executions": 1,
		"failed_executions": 1
	}`, w.Body.String())
}

func TestExportLogs(t *testing.T) {
	f := setupManagement(t)
	seedLogs(t, f)

	w := call(f.router, http.MethodGet, f.path("/automation-logs/export?status=partial"), testSecret, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "automation_logs_"+f.ws.ID)

	book, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows(logsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, "status", rows[0][4])
	assert.Equal(t, "partial", rows[1][4])
	assert.Equal(t, "contact-1", rows[1][5])
	assert.Equal(t, "send_message:ok, add_tag:error(tag store offline)", rows[1][7])
}

func TestSummarizeActions(t *testing.T) {
	assert.Equal(t, "", summarizeActions(nil))
	assert.Equal(t, "wait:ok", summarizeActions(models.ActionResults{{Type: models.ActionWait, Success: true}}))
}

func TestConversationInbox(t *testing.T) {
	f := setupManagement(t)
	f.fx.Connection(f.ws.ID, "PHONE_1")
	contact := f.fx.Contact(f.ws.ID)
	conv := f.fx.Conversation(f.ws.ID, contact.ID)
	f.fx.Message(conv, models.DirectionInbound, time.Now().Add(-time.Hour))

	w := call(f.router, http.MethodPost, f.path("/conversations/"+conv.ID+"/messages"), testSecret, `{"content":"On it!"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, contact.WaID, f.sender.to)
	assert.Equal(t, "On it!", f.sender.body)

	w = call(f.router, http.MethodGet, f.path("/conversations/"+conv.ID+"/messages"), testSecret, "")
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decode[[]models.Message](t, w.Body.Bytes())
	require.Len(t, msgs, 2)
	assert.Equal(t, models.DirectionOutbound, msgs[1].Direction)
	assert.Equal(t, "wamid.agent", msgs[1].WaMessageID)

	got, err := f.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.FirstResponseAt)

	w = call(f.router, http.MethodPost, f.path("/conversations/"+conv.ID+"/messages"), testSecret, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	other := f.fx.Workspace()
	w = call(f.router, http.MethodGet, "/api/workspaces/"+other.ID+"/conversations/"+conv.ID+"/messages", testSecret, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolveConversationRaisesTrigger(t *testing.T) {
	f := setupManagement(t)
	contact := f.fx.Contact(f.ws.ID)
	conv := f.fx.Conversation(f.ws.ID, contact.ID)

	w := call(f.router, http.MethodPost, f.path("/conversations/"+conv.ID+"/resolve"), testSecret, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.TriggerConversationClosed, f.engine.trigType)
	assert.Equal(t, conv.ID, f.engine.trigCtx.ConversationID)

	got, err := f.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationResolved, got.Status)
	assert.NotNil(t, got.ResolvedAt)

	f.engine.trigType = ""
	w = call(f.router, http.MethodPost, f.path("/conversations/"+conv.ID+"/resolve"), testSecret, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.engine.trigType, "already resolved conversations are not re-raised")
}

func TestUpdateTagsRaisesTagAddedForNewTagsOnly(t *testing.T) {
	f := setupManagement(t)
	contact := f.fx.Contact(f.ws.ID, func(c *models.Contact) { c.Tags = models.StringArray{"lead", "vip"} })

	w := call(f.router, http.MethodPut, f.path("/contacts/"+contact.ID+"/tags"), testSecret,
		`{"add":["vip","hot"],"remove":["lead"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.TriggerTagAdded, f.engine.trigType)
	assert.Equal(t, "hot", f.engine.trigCtx.TriggerData["tag"])

	got, err := f.store.GetContact(context.Background(), contact.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"vip", "hot"}, []string(got.Tags))

	w = call(f.router, http.MethodGet, f.path("/contacts"), testSecret, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Contact](t, w.Body.Bytes()), 1)
}

func TestWorkspaceTokenCannotReachForeignContacts(t *testing.T) {
	f := setupManagement(t)
	f.fx.Connection(f.ws.ID, "PHONE_1")
	engine := automation.NewEngine(f.store, automation.NewExecutor(f.store, f.sender, time.Second), automation.Options{})
	r := NewRouter(Handlers{Secret: testSecret, Execute: NewExecuteHandler(engine, &fakeScanner{})})

	foreign := f.fx.Contact(f.fx.Workspace().ID)
	a := f.fx.Automation(f.ws.ID, models.TriggerTagAdded, func(a *models.Automation) {
		a.Actions = models.ActionList{
			{Type: models.ActionAddTag, Tags: []string{"flagged"}},
			{Type: models.ActionSendMessage, Message: "hello"},
		}
	})
	token, err := IssueWorkspaceToken(testSecret, f.ws.ID, time.Hour)
	require.NoError(t, err)

	w := call(r, http.MethodPost, "/api/automations/execute", token,
		`{"automationId":"`+a.ID+`","contactId":"`+foreign.ID+`"}`)
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = call(r, http.MethodPost, "/api/automations/trigger", token,
		`{"triggerType":"tag_added","contactId":"`+foreign.ID+`"}`)
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	got, err := f.store.GetContact(context.Background(), foreign.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Tags)
	assert.Empty(t, f.sender.to)

	mine := f.fx.Contact(f.ws.ID)
	w = call(r, http.MethodPost, "/api/automations/execute", token,
		`{"automationId":"`+a.ID+`","contactId":"`+mine.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got, err = f.store.GetContact(context.Background(), mine.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StringArray{"flagged"}, got.Tags)
	assert.Equal(t, mine.WaID, f.sender.to)
}
