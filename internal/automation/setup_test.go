package automation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/store"
	"whatsapp-automation/internal/testutil"

	"github.com/stretchr/testify/require"
)

// Sunday 15 March 2026, 10:30 UTC
var fixedNow = time.Date(2026, time.March, 15, 10, 30, 0, 0, time.UTC)

type sentMessage struct {
	To        string
	Body      string
	Template  string
	Language  string
	Variables []string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *fakeMessenger) SendText(ctx context.Context, conn *models.WhatsAppConnection, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, sentMessage{To: to, Body: body})
	return "wamid.test", nil
}

func (m *fakeMessenger) SendTemplate(ctx context.Context, conn *models.WhatsAppConnection, to, name, lang string, vars []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, sentMessage{To: to, Template: name, Language: lang, Variables: vars})
	return "wamid.tpl", nil
}

func (m *fakeMessenger) Sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	logs []*models.AutomationLog
}

func (n *recordingNotifier) NotifyDispatch(log *models.AutomationLog) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logs = append(n.logs, log)
}

type env struct {
	t         *testing.T
	ctx       context.Context
	store     *store.Store
	fx        *testutil.Fixtures
	ws        *models.Workspace
	messenger *fakeMessenger
	notifier  *recordingNotifier
	engine    *automation.Engine
	scanner   *automation.Scanner
}

type envOption func(*automation.Options)

func withDeferredWaits() envOption {
	return func(o *automation.Options) { o.DeferWaitActions = true }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	db := testutil.NewDB(t)
	fx := testutil.NewFixtures(t, db)
	s := store.New(db)
	ws := fx.Workspace()
	fx.Connection(ws.ID, "phone-"+ws.ID)

	return buildEnv(t, s, fx, ws, s, opts...)
}

// buildEnv wires the engine against backing, which may wrap the real store to inject failures
func buildEnv(t *testing.T, s *store.Store, fx *testutil.Fixtures, ws *models.Workspace, backing automation.Store, opts ...envOption) *env {
	messenger := &fakeMessenger{}
	notifier := &recordingNotifier{}

	options := automation.Options{
		Notifiers: []automation.Notifier{notifier},
		Now:       func() time.Time { return fixedNow },
	}
	for _, o := range opts {
		o(&options)
	}

	executor := automation.NewExecutor(backing, messenger, 2*time.Second)
	engine := automation.NewEngine(backing, executor, options)

	return &env{
		t:         t,
		ctx:       context.Background(),
		store:     s,
		fx:        fx,
		ws:        ws,
		messenger: messenger,
		notifier:  notifier,
		engine:    engine,
		scanner:   automation.NewScanner(backing, engine, "UTC"),
	}
}

func (e *env) logsFor(automationID string) []models.AutomationLog {
	logs, err := e.store.ListLogs(e.ctx, e.ws.ID, store.LogFilter{AutomationID: automationID, Limit: 100})
	require.NoError(e.t, err)
	return logs
}

func (e *env) reloadAutomation(id string) *models.Automation {
	a, err := e.store.GetAutomation(e.ctx, id)
	require.NoError(e.t, err)
	return a
}

func (e *env) reloadContact(id string) *models.Contact {
	c, err := e.store.GetContact(e.ctx, id)
	require.NoError(e.t, err)
	return c
}

// failingStore breaks selected methods of the real store
type failingStore struct {
	*store.Store
	failConversations bool
	failContacts      bool
}

var errBoom = errors.New("boom")

func (f *failingStore) ListQuietConversations(ctx context.Context, workspaceID string, cutoff time.Time, unansweredOnly bool) ([]models.Conversation, error) {
	if f.failConversations {
		return nil, errBoom
	}
	return f.Store.ListQuietConversations(ctx, workspaceID, cutoff, unansweredOnly)
}

func (f *failingStore) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	if f.failContacts {
		return nil, errBoom
	}
	return f.Store.GetContact(ctx, id)
}
