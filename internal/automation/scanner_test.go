package automation_test

import (
	"testing"
	"time"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietConversation(e *env, contact *models.Contact, quietFor time.Duration, latestDirection string) *models.Conversation {
	last := fixedNow.Add(-quietFor)
	conv := e.fx.Conversation(e.ws.ID, contact.ID, func(c *models.Conversation) { c.LastMessageAt = &last })
	e.fx.Message(conv, latestDirection, last)
	return conv
}

func TestScanNoReplyByAgentFiresOnce(t *testing.T) {
	e := newEnv(t)
	contact := e.fx.Contact(e.ws.ID)
	a := e.fx.Automation(e.ws.ID, models.TriggerNoReplyByAgent, func(a *models.Automation) {
		a.TriggerConfig = models.JSONMap{"hours": 2}
		a.Actions = models.ActionList{{Type: models.ActionSendMessage, Message: "Still there?"}}
	})
	quietConversation(e, contact, 3*time.Hour, models.DirectionInbound)

	res, err := e.scanner.Scan(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered)
	assert.Equal(t, 1, res.Workspaces)
	assert.Zero(t, res.Errors)

	sent := e.messenger.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Still there?", sent[0].Body)

	logs := e.logsFor(a.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogSuccess, logs[0].Status)
	assert.Equal(t, 1, e.reloadAutomation(a.ID).TimesTriggered)
}

func TestScanNoReplyByAgentSkipsAnswered(t *testing.T) {
	e := newEnv(t)
	a := e.fx.Automation(e.ws.ID, models.TriggerNoReplyByAgent, func(a *models.Automation) {
		a.TriggerConfig = models.JSONMap{"hours": 2}
		a.Actions = models.ActionList{{Type: models.ActionSendMessage, Message: "Still there?"}}
	})

	// the agent spoke last
	quietConversation(e, e.fx.Contact(e.ws.ID), 3*time.Hour, models.DirectionOutbound)
	// not quiet long enough
	quietConversation(e, e.fx.Contact(e.ws.ID), time.Hour, models.DirectionInbound)
	// already has a first response
	responded := quietConversation(e, e.fx.Contact(e.ws.ID), 3*time.Hour, models.DirectionInbound)
	require.NoError(t, e.store.UpdateConversation(e.ctx, responded.ID, map[string]any{"first_response_at": fixedNow.Add(-4 * time.Hour)}))

	res, err := e.scanner.Scan(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Triggered)
	assert.Empty(t, e.messenger.Sent())
	assert.Empty(t, e.logsFor(a.ID))
}

func TestScanNoReplyByCustomer(t *testing.T) {
	e := newEnv(t)
	a := e.fx.Automation(e.ws.ID, models.TriggerNoReplyByCustomer)
	waiting := quietConversation(e, e.fx.Contact(e.ws.ID), 25*time.Hour, models.DirectionOutbound)
	quietConversation(e, e.fx.Contact(e.ws.ID), 25*time.Hour, models.DirectionInbound)
	quietConversation(e, e.fx.Contact(e.ws.ID), 5*time.Hour, models.DirectionOutbound)

	res, err := e.scanner.Scan(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered)

	logs := e.logsFor(a.ID)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].ConversationID)
	assert.Equal(t, waiting.ID, *logs[0].ConversationID)
}

func TestAppointmentWindow(t *testing.T) {
	from, to := automation.AppointmentWindow(fixedNow, 24)
	inside := fixedNow.Add(24 * time.Hour)
	outside := fixedNow.Add(24*time.Hour + 10*time.Minute)

	assert.False(t, inside.Before(from) || inside.After(to))
	assert.True(t, outside.After(to))
	assert.Equal(t, 15*time.Minute, to.Sub(from))
}

func TestScanAppointmentReminders(t *testing.T) {
	e := newEnv(t)
	a := e.fx.Automation(e.ws.ID, models.TriggerAppointmentReminder, func(a *models.Automation) {
		a.TriggerConfig = models.JSONMap{"hours_before": 2}
	})
	contact := e.fx.Contact(e.ws.ID)

	due := e.fx.Order(e.ws.ID, contact.ID, func(o *models.Order) { o.ScheduledAt = testutil.Ptr(fixedNow.Add(2*time.Hour + 5*time.Minute)) })
	e.fx.Order(e.ws.ID, contact.ID, func(o *models.Order) { o.ScheduledAt = testutil.Ptr(fixedNow.Add(2*time.Hour + 10*time.Minute)) })
	e.fx.Order(e.ws.ID, contact.ID, func(o *models.Order) {
		o.ScheduledAt = testutil.Ptr(fixedNow.Add(2 * time.Hour))
		o.Status = models.OrderStatusCancelled
	})
	e.fx.Order(e.ws.ID, contact.ID, func(o *models.Order) {
		o.ScheduledAt = testutil.Ptr(fixedNow.Add(2 * time.Hour))
		o.OrderType = "product"
	})

	res, err := e.scanner.Scan(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered)

	logs := e.logsFor(a.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, due.ID, logs[0].TriggerData["order_id"])
}

func TestScanPaymentOverdueFansOut(t *testing.T) {
	e := newEnv(t)
	first := e.fx.Automation(e.ws.ID, models.TriggerPaymentOverdue)
	second := e.fx.Automation(e.ws.ID, models.TriggerPaymentOverdue)
	contact := e.fx.Contact(e.ws.ID)

	overdue := func(due time.Time) func(*models.Order) {
		return func(o *models.Order) {
			o.DueDate = testutil.Ptr(due)
			o.PaymentStatus = models.PaymentPending
			o.Amount = 499
		}
	}
	e.fx.Order(e.ws.ID, contact.ID, overdue(fixedNow.AddDate(0, 0, -3)))
	e.fx.Order(e.ws.ID, contact.ID, overdue(fixedNow.AddDate(0, 0, -1)))
	// due earlier today is not overdue yet
	e.fx.Order(e.ws.ID, contact.ID, overdue(fixedNow.Add(-time.Hour)))
	e.fx.Order(e.ws.ID, contact.ID, func(o *models.Order) {
		overdue(fixedNow.AddDate(0, 0, -5))(o)
		o.PaymentStatus = "paid"
	})

	res, err := e.scanner.Scan(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Triggered)
	assert.Len(t, e.logsFor(first.ID), 2)
	assert.Len(t, e.logsFor(second.ID), 2)
}

func TestScanInactivity(t *testing.T) {
	e := newEnv(t)
	a := e.fx.Automation(e.ws.ID, models.TriggerInactivity, func(a *models.Automation) {
		a.TriggerConfig = models.JSONMap{"days": 7}
	})
	dormant := e.fx.Contact(e.ws.ID, func(c *models.Contact) { c.LastMessageAt = testutil.Ptr(fixedNow.AddDate(0, 0, -10)) })
	e.fx.Contact(e.ws.ID, func(c *models.Contact) { c.LastMessageAt = testutil.Ptr(fixedNow.AddDate(0, 0, -2)) })
	e.fx.Contact(e.ws.ID, func(c *models.Contact) {
		c.LastMessageAt = testutil.Ptr(fixedNow.AddDate(0, 0, -10))
		c.OptedIn = false
	})

	res, err := e.scanner.Scan(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered)

	logs := e.logsFor(a.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, dormant.ID, *logs[0].ContactID)
}

func TestIsBirthday(t *testing.T) {
	assert.True(t, automation.IsBirthday(models.JSONMap{"birthday": "1990-03-15"}, "03-15"))
	assert.True(t, automation.IsBirthday(models.JSONMap{"date_of_birth": "03-15"}, "03-15"))
	assert.False(t, automation.IsBirthday(models.JSONMap{"birthday": "1990-03-16"}, "03-15"))
	assert.False(t, automation.IsBirthday(models.JSONMap{}, "03-15"))
	assert.False(t, automation.IsBirthday(nil, "03-15"))
}

func TestScanBirthdays(t *testing.T) {
	e := newEnv(t)
	a := e.fx.Automation(e.ws.ID, models.TriggerBirthday, func(a *models.Automation) {
		a.Actions = models.ActionList{{Type: models.ActionSendMessage, Message: "Happy birthday {{contact.name}}!"}}
	})
	e.fx.Contact(e.ws.ID, func(c *models.Contact) { c.CustomFields = models.JSONMap{"birthday": "1992-03-15"} })
	e.fx.Contact(e.ws.ID, func(c *models.Contact) { c.CustomFields = models.JSONMap{"birthday": "1992-03-14"} })

	res, err := e.scanner.Scan(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered)
	assert.Len(t, e.logsFor(a.ID), 1)
	require.Len(t, e.messenger.Sent(), 1)
	assert.Equal(t, "Happy birthday Asha!", e.messenger.Sent()[0].Body)
}

func TestScanTimeBasedUsesTimezone(t *testing.T) {
	e := newEnv(t)
	utcRule := e.fx.Automation(e.ws.ID, models.TriggerTimeBased, func(a *models.Automation) {
		a.TriggerConfig = models.JSONMap{"cron": "30 10 * * 0"}
	})
	// 10:30 UTC is 16:00 in Kolkata
	kolkataRule := e.fx.Automation(e.ws.ID, models.TriggerTimeBased, func(a *models.Automation) {
		a.TriggerConfig = models.JSONMap{"cron": "0 16 * * *", "timezone": "Asia/Kolkata"}
	})
	missed := e.fx.Automation(e.ws.ID, models.TriggerTimeBased, func(a *models.Automation) {
		a.TriggerConfig = models.JSONMap{"cron": "0 9 * * *"}
	})
	e.fx.Contact(e.ws.ID)
	e.fx.Contact(e.ws.ID)
	e.fx.Contact(e.ws.ID, func(c *models.Contact) { c.OptedIn = false })

	res, err := e.scanner.Scan(e.ctx)
	require.NoError(t, err)

	assert.Len(t, e.logsFor(utcRule.ID), 2)
	assert.Empty(t, e.logsFor(missed.ID))
	if _, err := time.LoadLocation("Asia/Kolkata"); err == nil {
		assert.Len(t, e.logsFor(kolkataRule.ID), 2)
		assert.Equal(t, 4, res.Triggered)
	}
}

func TestScanWakesSnoozedConversations(t *testing.T) {
	e := newEnv(t)
	contact := e.fx.Contact(e.ws.ID)
	expired := e.fx.Conversation(e.ws.ID, contact.ID, func(c *models.Conversation) {
		c.Status = models.ConversationSnoozed
		c.SnoozedUntil = testutil.Ptr(fixedNow.Add(-time.Minute))
	})
	sleeping := e.fx.Conversation(e.ws.ID, contact.ID, func(c *models.Conversation) {
		c.Status = models.ConversationSnoozed
		c.SnoozedUntil = testutil.Ptr(fixedNow.Add(time.Hour))
	})

	res, err := e.scanner.Scan(e.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Woken)

	got, err := e.store.GetConversation(e.ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationOpen, got.Status)
	assert.Nil(t, got.SnoozedUntil)

	got, err = e.store.GetConversation(e.ctx, sleeping.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationSnoozed, got.Status)
}

func TestScanIsolatesFailingRoutine(t *testing.T) {
	base := newEnv(t)
	e := buildEnv(t, base.store, base.fx, base.ws, &failingStore{Store: base.store, failConversations: true})

	e.fx.Automation(e.ws.ID, models.TriggerNoReplyByAgent)
	birthday := e.fx.Automation(e.ws.ID, models.TriggerBirthday)
	e.fx.Contact(e.ws.ID, func(c *models.Contact) { c.CustomFields = models.JSONMap{"birthday": "03-15"} })

	res, err := e.scanner.Scan(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.Triggered)
	assert.Len(t, e.logsFor(birthday.ID), 1)
}

func TestScanSkipsInactiveWorkspaces(t *testing.T) {
	e := newEnv(t)
	dormant := e.fx.Workspace(func(w *models.Workspace) { w.IsActive = false })
	e.fx.Automation(dormant.ID, models.TriggerBirthday)
	e.fx.Contact(dormant.ID, func(c *models.Contact) { c.CustomFields = models.JSONMap{"birthday": "03-15"} })

	res, err := e.scanner.Scan(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Workspaces)
	assert.Zero(t, res.Triggered)
}

func TestScanOne(t *testing.T) {
	e := newEnv(t)
	other := e.fx.Workspace()
	e.fx.Automation(other.ID, models.TriggerBirthday)
	e.fx.Contact(other.ID, func(c *models.Contact) { c.CustomFields = models.JSONMap{"birthday": "03-15"} })
	mine := e.fx.Automation(e.ws.ID, models.TriggerBirthday)
	e.fx.Contact(e.ws.ID, func(c *models.Contact) { c.CustomFields = models.JSONMap{"birthday": "2000-03-15"} })

	res, err := e.scanner.ScanOne(e.ctx, e.ws.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Workspaces)
	assert.Equal(t, 1, res.Triggered)
	assert.Len(t, e.logsFor(mine.ID), 1)

	_, err = e.scanner.ScanOne(e.ctx, "missing")
	assert.Error(t, err)
}
