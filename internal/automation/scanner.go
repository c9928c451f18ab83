package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatsapp-automation/internal/logging"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/store"

	"github.com/sirupsen/logrus"
)

// appointmentWindow is half the width of the appointment_reminder match window, sized to the 15-minute scan cadence
const appointmentWindow = 7*time.Minute + 30*time.Second

// ScanResult aggregates one scan pass
type ScanResult struct {
	Triggered  int   `json:"triggered"`
	Errors     int   `json:"errors"`
	Workspaces int   `json:"workspaces"`
	Woken      int64 `json:"woken"`
	Resumed    int   `json:"resumed"`
}

// Scanner evaluates the time-based triggers of every active workspace
type Scanner struct {
	store     Store
	engine    *Engine
	defaultTZ *time.Location
	now       func() time.Time
	log       *logrus.Entry
}

func NewScanner(s Store, engine *Engine, defaultTimezone string) *Scanner {
	loc, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		logrus.WithError(err).WithField("timezone", defaultTimezone).Warn("Unknown default timezone, using UTC")
		loc = time.UTC
	}
	return &Scanner{
		store:     s,
		engine:    engine,
		defaultTZ: loc,
		now:       engine.now,
		log:       logging.Component("automation.scanner"),
	}
}

type scanRoutine struct {
	name string
	run  func(ctx context.Context, ws *models.Workspace, now time.Time, res *ScanResult) (int, error)
}

func (s *Scanner) routines() []scanRoutine {
	return []scanRoutine{
		{"no_reply_by_agent", s.scanNoReplyByAgent},
		{"no_reply_by_customer", s.scanNoReplyByCustomer},
		{"time_based", s.scanTimeBased},
		{"appointment_reminder", s.scanAppointmentReminders},
		{"payment_overdue", s.scanPaymentOverdue},
		{"inactivity", s.scanInactivity},
		{"birthday", s.scanBirthdays},
		{"wake_snoozed_conversations", s.wakeSnoozed},
		{"resume_continuations", s.resumeContinuations},
	}
}

// Scan runs one pass over every active workspace, sequentially.
// Failed routines are counted and retried on the next pass; the error only covers listing workspaces.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	workspaces, err := s.store.ListActiveWorkspaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active workspaces: %w", err)
	}

	res := &ScanResult{}
	now := s.now()
	for i := range workspaces {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		s.ScanWorkspace(ctx, &workspaces[i], now, res)
	}

	s.log.WithFields(logrus.Fields{
		"workspaces": res.Workspaces,
		"triggered":  res.Triggered,
		"errors":     res.Errors,
	}).Info("Scan pass completed")
	return res, nil
}

// ScanOne runs one pass over a single workspace, active or not
func (s *Scanner) ScanOne(ctx context.Context, workspaceID string) (*ScanResult, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("load workspace %s: %w", workspaceID, err)
	}
	res := &ScanResult{}
	s.ScanWorkspace(ctx, ws, s.now(), res)
	return res, nil
}

// ScanWorkspace runs every scan routine for one workspace, isolating failures per routine
func (s *Scanner) ScanWorkspace(ctx context.Context, ws *models.Workspace, now time.Time, res *ScanResult) {
	res.Workspaces++
	for _, r := range s.routines() {
		n, err := s.runRoutine(ctx, r, ws, now, res)
		res.Triggered += n
		if err != nil {
			res.Errors++
			s.log.WithFields(logrus.Fields{
				"workspace_id": ws.ID,
				"scan":         r.name,
			}).WithError(err).Error("Scan routine failed")
			logging.CaptureError(err, map[string]string{"workspace_id": ws.ID, "scan": r.name})
		}
	}
}

func (s *Scanner) runRoutine(ctx context.Context, r scanRoutine, ws *models.Workspace, now time.Time, res *ScanResult) (n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s scan: %v", r.name, p)
		}
	}()
	return r.run(ctx, ws, now, res)
}

func (s *Scanner) dispatch(ctx context.Context, a *models.Automation, ec ExecutionContext) int {
	if s.engine.DispatchAutomation(ctx, a, a.TriggerType, ec) != nil {
		return 1
	}
	return 0
}

func (s *Scanner) scanNoReplyByAgent(ctx context.Context, ws *models.Workspace, now time.Time, _ *ScanResult) (int, error) {
	return s.scanNoReply(ctx, ws, now, models.TriggerNoReplyByAgent, 2, true, models.DirectionInbound)
}

func (s *Scanner) scanNoReplyByCustomer(ctx context.Context, ws *models.Workspace, now time.Time, _ *ScanResult) (int, error) {
	return s.scanNoReply(ctx, ws, now, models.TriggerNoReplyByCustomer, 24, false, models.DirectionOutbound)
}

// scanNoReply fires for open conversations that went quiet with the given side waiting on the other
func (s *Scanner) scanNoReply(ctx context.Context, ws *models.Workspace, now time.Time, trigger models.TriggerType, defaultHours float64, unansweredOnly bool, waitingDirection string) (int, error) {
	automations, err := s.store.ListActiveAutomations(ctx, ws.ID, trigger)
	if err != nil {
		return 0, err
	}

	triggered := 0
	for i := range automations {
		a := &automations[i]
		hours := a.TriggerConfig.Float("hours", defaultHours)
		cutoff := now.Add(-hoursToDuration(hours))

		convs, err := s.store.ListQuietConversations(ctx, ws.ID, cutoff, unansweredOnly)
		if err != nil {
			return triggered, err
		}
		for _, conv := range convs {
			latest, err := s.store.LatestMessage(ctx, conv.ID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return triggered, err
			}
			if latest.Direction != waitingDirection {
				continue
			}
			triggered += s.dispatch(ctx, a, ExecutionContext{
				WorkspaceID:    ws.ID,
				ContactID:      conv.ContactID,
				ConversationID: conv.ID,
				TriggerData: map[string]any{
					"hours":           hours,
					"last_message_at": conv.LastMessageAt,
				},
			})
		}
	}
	return triggered, nil
}

func (s *Scanner) scanTimeBased(ctx context.Context, ws *models.Workspace, now time.Time, _ *ScanResult) (int, error) {
	automations, err := s.store.ListActiveAutomations(ctx, ws.ID, models.TriggerTimeBased)
	if err != nil {
		return 0, err
	}

	triggered := 0
	var contacts []models.Contact
	loaded := false
	for i := range automations {
		a := &automations[i]
		expr := a.TriggerConfig.String("cron")
		if expr == "" {
			continue
		}
		local := now.In(s.location(a.TriggerConfig.String("timezone"), ws))
		if !MatchesCron(expr, local) {
			continue
		}

		if !loaded {
			if contacts, err = s.store.ListReachableContacts(ctx, ws.ID); err != nil {
				return triggered, err
			}
			loaded = true
		}
		for _, c := range contacts {
			triggered += s.dispatch(ctx, a, ExecutionContext{
				WorkspaceID: ws.ID,
				ContactID:   c.ID,
				TriggerData: map[string]any{"cron": expr, "fired_at": local.Format(time.RFC3339)},
			})
		}
	}
	return triggered, nil
}

func (s *Scanner) scanAppointmentReminders(ctx context.Context, ws *models.Workspace, now time.Time, _ *ScanResult) (int, error) {
	automations, err := s.store.ListActiveAutomations(ctx, ws.ID, models.TriggerAppointmentReminder)
	if err != nil {
		return 0, err
	}

	triggered := 0
	for i := range automations {
		a := &automations[i]
		hoursBefore := a.TriggerConfig.Float("hours_before", 24)
		from, to := AppointmentWindow(now, hoursBefore)

		orders, err := s.store.ListOrdersScheduledBetween(ctx, ws.ID, from, to)
		if err != nil {
			return triggered, err
		}
		for _, o := range orders {
			triggered += s.dispatch(ctx, a, ExecutionContext{
				WorkspaceID: ws.ID,
				ContactID:   o.ContactID,
				TriggerData: map[string]any{
					"order_id":     o.ID,
					"order_type":   o.OrderType,
					"scheduled_at": o.ScheduledAt,
					"hours_before": hoursBefore,
				},
			})
		}
	}
	return triggered, nil
}

// AppointmentWindow returns the scheduled_at range matched for a reminder hoursBefore ahead of now
func AppointmentWindow(now time.Time, hoursBefore float64) (time.Time, time.Time) {
	target := now.Add(hoursToDuration(hoursBefore))
	return target.Add(-appointmentWindow), target.Add(appointmentWindow)
}

func (s *Scanner) scanPaymentOverdue(ctx context.Context, ws *models.Workspace, now time.Time, _ *ScanResult) (int, error) {
	automations, err := s.store.ListActiveAutomations(ctx, ws.ID, models.TriggerPaymentOverdue)
	if err != nil || len(automations) == 0 {
		return 0, err
	}

	local := now.In(s.location("", ws))
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	orders, err := s.store.ListOverdueOrders(ctx, ws.ID, today)
	if err != nil {
		return 0, err
	}

	triggered := 0
	for i := range automations {
		for _, o := range orders {
			triggered += s.dispatch(ctx, &automations[i], ExecutionContext{
				WorkspaceID: ws.ID,
				ContactID:   o.ContactID,
				TriggerData: map[string]any{
					"order_id": o.ID,
					"amount":   o.Amount,
					"due_date": o.DueDate,
				},
			})
		}
	}
	return triggered, nil
}

func (s *Scanner) scanInactivity(ctx context.Context, ws *models.Workspace, now time.Time, _ *ScanResult) (int, error) {
	automations, err := s.store.ListActiveAutomations(ctx, ws.ID, models.TriggerInactivity)
	if err != nil {
		return 0, err
	}

	triggered := 0
	for i := range automations {
		a := &automations[i]
		days := a.TriggerConfig.Float("days", 30)
		contacts, err := s.store.ListInactiveContacts(ctx, ws.ID, now.Add(-hoursToDuration(days*24)))
		if err != nil {
			return triggered, err
		}
		for _, c := range contacts {
			triggered += s.dispatch(ctx, a, ExecutionContext{
				WorkspaceID: ws.ID,
				ContactID:   c.ID,
				TriggerData: map[string]any{"days": days, "last_message_at": c.LastMessageAt},
			})
		}
	}
	return triggered, nil
}

func (s *Scanner) scanBirthdays(ctx context.Context, ws *models.Workspace, now time.Time, _ *ScanResult) (int, error) {
	automations, err := s.store.ListActiveAutomations(ctx, ws.ID, models.TriggerBirthday)
	if err != nil || len(automations) == 0 {
		return 0, err
	}

	contacts, err := s.store.ListReachableContacts(ctx, ws.ID)
	if err != nil {
		return 0, err
	}
	mmdd := now.In(s.location("", ws)).Format("01-02")

	triggered := 0
	for _, c := range contacts {
		if !IsBirthday(c.CustomFields, mmdd) {
			continue
		}
		for i := range automations {
			triggered += s.dispatch(ctx, &automations[i], ExecutionContext{
				WorkspaceID: ws.ID,
				ContactID:   c.ID,
				TriggerData: map[string]any{"date": mmdd},
			})
		}
	}
	return triggered, nil
}

// IsBirthday is a loose substring match of MM-DD against custom_fields.birthday or date_of_birth
func IsBirthday(fields models.JSONMap, mmdd string) bool {
	for _, key := range []string{"birthday", "date_of_birth"} {
		if v := fields.String(key); v != "" && strings.Contains(v, mmdd) {
			return true
		}
	}
	return false
}

func (s *Scanner) wakeSnoozed(ctx context.Context, ws *models.Workspace, now time.Time, res *ScanResult) (int, error) {
	n, err := s.store.WakeSnoozedConversations(ctx, ws.ID, now)
	res.Woken += n
	return 0, err
}

func (s *Scanner) resumeContinuations(ctx context.Context, ws *models.Workspace, now time.Time, res *ScanResult) (int, error) {
	conts, err := s.store.ListDueContinuations(ctx, ws.ID, now)
	if err != nil {
		return 0, err
	}
	for _, c := range conts {
		_, ok, err := s.engine.ResumeContinuation(ctx, c)
		if err != nil {
			return 0, err
		}
		if ok {
			res.Resumed++
		}
	}
	return 0, nil
}

// location resolves the timezone: explicit name, then workspace, then the configured default
func (s *Scanner) location(name string, ws *models.Workspace) *time.Location {
	for _, candidate := range []string{name, ws.Timezone} {
		if candidate == "" {
			continue
		}
		loc, err := time.LoadLocation(candidate)
		if err == nil {
			return loc
		}
		s.log.WithField("timezone", candidate).Warn("Unknown timezone, falling back")
	}
	return s.defaultTZ
}
