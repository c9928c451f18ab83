// Package testutil provides an in-memory database and record fixtures for tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"whatsapp-automation/internal/database"
	"whatsapp-automation/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var dbCounter atomic.Int64

// NewDB returns a migrated in-memory SQLite database private to the test
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbCounter.Add(1))
	db, err := database.OpenSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// Fixtures creates records with sensible defaults
type Fixtures struct {
	t  testing.TB
	DB *gorm.DB
}

func NewFixtures(t testing.TB, db *gorm.DB) *Fixtures {
	return &Fixtures{t: t, DB: db}
}

func (f *Fixtures) create(v any) {
	f.t.Helper()
	require.NoError(f.t, f.DB.Create(v).Error)
}

func (f *Fixtures) Workspace(mutate ...func(*models.Workspace)) *models.Workspace {
	w := &models.Workspace{Name: "Acme", Timezone: "UTC", IsActive: true}
	for _, m := range mutate {
		m(w)
	}
	active := w.IsActive
	f.create(w)
	if !active {
		require.NoError(f.t, f.DB.Model(w).Update("is_active", false).Error)
		w.IsActive = false
	}
	return w
}

func (f *Fixtures) Connection(workspaceID, phoneNumberID string) *models.WhatsAppConnection {
	c := &models.WhatsAppConnection{
		WorkspaceID:   workspaceID,
		PhoneNumberID: phoneNumberID,
		AccessToken:   "token-" + phoneNumberID,
		IsActive:      true,
	}
	f.create(c)
	return c
}

func (f *Fixtures) Contact(workspaceID string, mutate ...func(*models.Contact)) *models.Contact {
	c := &models.Contact{
		WorkspaceID:  workspaceID,
		WaID:         fmt.Sprintf("91%010d", dbCounter.Add(1)),
		Name:         "Asha",
		Tags:         models.StringArray{},
		CustomFields: models.JSONMap{},
		OptedIn:      true,
	}
	for _, m := range mutate {
		m(c)
	}
	optedIn := c.OptedIn
	f.create(c)
	if !optedIn {
		require.NoError(f.t, f.DB.Model(c).Update("opted_in", false).Error)
		c.OptedIn = false
	}
	return c
}

func (f *Fixtures) Conversation(workspaceID, contactID string, mutate ...func(*models.Conversation)) *models.Conversation {
	c := &models.Conversation{
		WorkspaceID: workspaceID,
		ContactID:   contactID,
		Status:      models.ConversationOpen,
	}
	for _, m := range mutate {
		m(c)
	}
	f.create(c)
	return c
}

func (f *Fixtures) Message(conv *models.Conversation, direction string, createdAt time.Time) *models.Message {
	m := &models.Message{
		WorkspaceID:    conv.WorkspaceID,
		ConversationID: conv.ID,
		ContactID:      conv.ContactID,
		Direction:      direction,
		Type:           "text",
		Content:        "hello",
		CreatedAt:      createdAt.UTC(),
	}
	f.create(m)
	return m
}

func (f *Fixtures) Agent(workspaceID, name string, online bool) *models.Agent {
	a := &models.Agent{WorkspaceID: workspaceID, Name: name, IsActive: true, IsOnline: online}
	f.create(a)
	if !online {
		require.NoError(f.t, f.DB.Model(a).Update("is_online", false).Error)
	}
	return a
}

func (f *Fixtures) Template(workspaceID, name, language string) *models.MessageTemplate {
	tpl := &models.MessageTemplate{WorkspaceID: workspaceID, Name: name, Language: language, Status: "APPROVED"}
	f.create(tpl)
	return tpl
}

func (f *Fixtures) Order(workspaceID, contactID string, mutate ...func(*models.Order)) *models.Order {
	o := &models.Order{
		WorkspaceID:   workspaceID,
		ContactID:     contactID,
		OrderType:     models.OrderTypeAppointment,
		Status:        "confirmed",
		PaymentStatus: "paid",
	}
	for _, m := range mutate {
		m(o)
	}
	f.create(o)
	return o
}

func (f *Fixtures) Automation(workspaceID string, trigger models.TriggerType, mutate ...func(*models.Automation)) *models.Automation {
	a := &models.Automation{
		WorkspaceID:   workspaceID,
		Name:          string(trigger) + " automation",
		TriggerType:   trigger,
		TriggerConfig: models.JSONMap{},
		Conditions:    models.ConditionList{},
		Actions:       models.ActionList{},
		IsActive:      true,
	}
	for _, m := range mutate {
		m(a)
	}
	active := a.IsActive
	f.create(a)
	if !active {
		require.NoError(f.t, f.DB.Model(a).Update("is_active", false).Error)
		a.IsActive = false
	}
	return a
}

// Reload refetches a record by primary key
func (f *Fixtures) Reload(v any, id string) {
	f.t.Helper()
	require.NoError(f.t, f.DB.First(v, "id = ?", id).Error)
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}
