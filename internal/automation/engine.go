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

type Options struct {
	// DeferWaitActions turns a wait action into a persisted continuation instead of skipping it
	DeferWaitActions bool
	Notifiers        []Notifier
	Now              func() time.Time
}

// Engine matches triggers to automations and runs them
type Engine struct {
	store     Store
	executor  *Executor
	notifiers []Notifier
	deferWait bool
	now       func() time.Time
	log       *logrus.Entry
}

func NewEngine(s Store, executor *Executor, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	executor.now = now
	return &Engine{
		store:     s,
		executor:  executor,
		notifiers: opts.Notifiers,
		deferWait: opts.DeferWaitActions,
		now:       now,
		log:       logging.Component("automation.engine"),
	}
}

// Trigger dispatches every active automation of the workspace that the event selects.
// keyword_match automations listen on new_message events.
// One automation failing never stops the others; the returned error only covers loading them
// and a contact or conversation owned by another workspace.
func (e *Engine) Trigger(ctx context.Context, triggerType models.TriggerType, ec ExecutionContext) ([]*models.AutomationLog, error) {
	if err := e.checkOwnership(ctx, ec); err != nil {
		return nil, err
	}

	types := []models.TriggerType{triggerType}
	if triggerType == models.TriggerNewMessage {
		types = append(types, models.TriggerKeywordMatch)
	}

	automations, err := e.store.ListActiveAutomations(ctx, ec.WorkspaceID, types...)
	if err != nil {
		return nil, fmt.Errorf("load automations for %s: %w", triggerType, err)
	}

	var logs []*models.AutomationLog
	for i := range automations {
		if entry := e.DispatchAutomation(ctx, &automations[i], triggerType, ec); entry != nil {
			logs = append(logs, entry)
		}
	}
	return logs, nil
}

// DispatchAutomation runs one automation for one event after trigger-shape and per-contact gating.
// It returns nil when the automation was gated out; otherwise the written log.
func (e *Engine) DispatchAutomation(ctx context.Context, a *models.Automation, triggerType models.TriggerType, ec ExecutionContext) *models.AutomationLog {
	entry := e.newLog(a, triggerType, ec)

	var pass bool
	err := e.guard(a, func() error {
		var gateErr error
		pass, gateErr = e.passesGate(ctx, a, triggerType, ec)
		return gateErr
	})
	if err != nil {
		e.fail(ctx, a, entry, err)
		return entry
	}
	if !pass {
		return nil
	}

	e.run(ctx, a, entry, ec)
	return entry
}

// RunAutomation runs one automation once, bypassing trigger gating. Used by the direct execute endpoint.
func (e *Engine) RunAutomation(ctx context.Context, automationID string, ec ExecutionContext) (*models.AutomationLog, error) {
	a, err := e.store.GetAutomation(ctx, automationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAutomationNotFound
	}
	if err != nil {
		return nil, err
	}
	if ec.WorkspaceID != "" && ec.WorkspaceID != a.WorkspaceID {
		return nil, ErrWorkspaceMismatch
	}
	if !a.IsActive {
		return nil, ErrAutomationInactive
	}
	ec.WorkspaceID = a.WorkspaceID
	if err := e.checkOwnership(ctx, ec); err != nil {
		return nil, err
	}

	entry := e.newLog(a, a.TriggerType, ec)
	e.run(ctx, a, entry, ec)
	return entry, nil
}

// ResumeContinuation runs the actions left behind by a wait. Conditions are not re-evaluated
// and the trigger counter is not bumped again. ok is false when the continuation was already claimed.
func (e *Engine) ResumeContinuation(ctx context.Context, cont models.AutomationContinuation) (entry *models.AutomationLog, ok bool, err error) {
	claimed, err := e.store.ClaimContinuation(ctx, cont.ID)
	if err != nil || !claimed {
		return nil, false, err
	}

	a, err := e.store.GetAutomation(ctx, cont.AutomationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !a.IsActive {
		e.log.WithField("automation_id", a.ID).Info("Dropping continuation of inactive automation")
		return nil, false, nil
	}

	ec := ExecutionContext{
		WorkspaceID:    cont.WorkspaceID,
		ContactID:      cont.ContactID,
		ConversationID: cont.ConversationID,
		TriggerData:    cont.TriggerData,
	}
	entry = e.newLog(a, cont.TriggerType, ec)

	err = e.guard(a, func() error {
		results, deferErr := e.runActions(ctx, a, cont.RemainingActions, ec)
		entry.ActionsExecuted = results
		entry.Status = DeriveStatus(results)
		return deferErr
	})
	if err != nil {
		e.fail(ctx, a, entry, err)
		return entry, true, nil
	}
	e.persist(ctx, a, entry)
	return entry, true, nil
}

// checkOwnership rejects a contact or conversation of another workspace.
// Unknown ids pass; the actions touching them fail on their own.
func (e *Engine) checkOwnership(ctx context.Context, ec ExecutionContext) error {
	targets := []struct {
		kind   string
		id     string
		lookup func(context.Context, string) (string, error)
	}{
		{"contact", ec.ContactID, e.store.ContactWorkspaceID},
		{"conversation", ec.ConversationID, e.store.ConversationWorkspaceID},
	}
	for _, t := range targets {
		if t.id == "" {
			continue
		}
		owner, err := t.lookup(ctx, t.id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("resolve %s %s: %w", t.kind, t.id, err)
		}
		if owner != ec.WorkspaceID {
			return fmt.Errorf("%s %s: %w", t.kind, t.id, ErrWorkspaceMismatch)
		}
	}
	return nil
}

// run bumps the counters, evaluates conditions, executes the actions and writes the log
func (e *Engine) run(ctx context.Context, a *models.Automation, entry *models.AutomationLog, ec ExecutionContext) {
	now := e.now()
	if err := e.store.IncrementTriggerCount(ctx, a.ID, now); err != nil {
		e.log.WithError(err).WithField("automation_id", a.ID).Error("Failed to bump trigger count")
	}
	if ec.ContactID != "" {
		if err := e.store.RecordContactTrigger(ctx, a.ID, ec.ContactID, now); err != nil {
			e.log.WithError(err).WithField("automation_id", a.ID).Error("Failed to record contact trigger")
		}
	}

	err := e.guard(a, func() error {
		ok, err := EvaluateConditions(ctx, e.store, a.Conditions, ec)
		if err != nil {
			return err
		}
		if !ok {
			entry.Status = models.LogSuccess
			return nil
		}

		results, err := e.runActions(ctx, a, a.Actions, ec)
		entry.ActionsExecuted = results
		entry.Status = DeriveStatus(results)
		return err
	})
	if err != nil {
		e.fail(ctx, a, entry, err)
		return
	}
	e.persist(ctx, a, entry)
}

// runActions executes actions in order, recording each outcome without stopping on failure.
// A wait is skipped unless deferral is enabled, in which case the rest of the list is parked
// as a continuation and the loop ends.
func (e *Engine) runActions(ctx context.Context, a *models.Automation, actions []models.Action, ec ExecutionContext) (models.ActionResults, error) {
	results := models.ActionResults{}
	for i, action := range actions {
		if action.Type == models.ActionWait {
			if e.deferWait && action.Hours > 0 && i < len(actions)-1 {
				if err := e.deferRemaining(ctx, a, actions[i+1:], action.Hours, ec); err != nil {
					return results, fmt.Errorf("defer actions after wait: %w", err)
				}
				break
			}
			continue
		}

		result := models.ActionResult{Type: action.Type, Success: true}
		if err := e.execute(ctx, action, ec); err != nil {
			result.Success = false
			result.Error = err.Error()
			e.log.WithFields(logrus.Fields{
				"automation_id": a.ID,
				"action":        action.Type,
			}).WithError(err).Warn("Automation action failed")
		}
		results = append(results, result)
	}
	return results, nil
}

// execute isolates a panicking action so later actions still run
func (e *Engine) execute(ctx context.Context, action models.Action, ec ExecutionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s action: %v", action.Type, r)
		}
	}()
	return e.executor.Execute(ctx, action, ec)
}

func (e *Engine) deferRemaining(ctx context.Context, a *models.Automation, remaining []models.Action, hours float64, ec ExecutionContext) error {
	cont := &models.AutomationContinuation{
		WorkspaceID:      ec.WorkspaceID,
		AutomationID:     a.ID,
		ContactID:        ec.ContactID,
		ConversationID:   ec.ConversationID,
		TriggerType:      a.TriggerType,
		TriggerData:      models.JSONMap(ec.TriggerData),
		RemainingActions: models.ActionList(remaining),
		ResumeAt:         e.now().Add(hoursToDuration(hours)),
	}
	return e.store.CreateContinuation(ctx, cont)
}

// passesGate applies trigger-shape gating and the per-contact cooldown / cap
func (e *Engine) passesGate(ctx context.Context, a *models.Automation, triggerType models.TriggerType, ec ExecutionContext) (bool, error) {
	switch a.TriggerType {
	case models.TriggerKeywordMatch:
		if triggerType != models.TriggerNewMessage && triggerType != models.TriggerKeywordMatch {
			return false, nil
		}
		if !MatchKeywords(a.TriggerConfig.Strings("keywords"), a.TriggerConfig.String("match_type"), messageText(ec.TriggerData)) {
			return false, nil
		}
	case models.TriggerNewConversation:
		if triggerType != models.TriggerNewConversation || !ec.IsFirstMessage {
			return false, nil
		}
	default:
		if a.TriggerType != triggerType {
			return false, nil
		}
	}

	if ec.ContactID == "" || !a.HasContactLimits() {
		return true, nil
	}

	fired, err := e.store.GetContactTrigger(ctx, a.ID, ec.ContactID)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load contact trigger history: %w", err)
	}
	if a.MaxTriggersPerContact > 0 && fired.TriggerCount >= a.MaxTriggersPerContact {
		return false, nil
	}
	if a.CooldownHours > 0 && e.now().Sub(fired.LastTriggeredAt) < hoursToDuration(a.CooldownHours) {
		return false, nil
	}
	return true, nil
}

// MatchKeywords reports whether text contains any (default) or all of the keywords, case-insensitively
func MatchKeywords(keywords []string, matchType string, text string) bool {
	text = strings.ToLower(text)
	var wanted []string
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			wanted = append(wanted, k)
		}
	}
	if len(wanted) == 0 {
		return false
	}

	if matchType == "all" {
		for _, k := range wanted {
			if !strings.Contains(text, k) {
				return false
			}
		}
		return true
	}

	for _, k := range wanted {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func messageText(triggerData map[string]any) string {
	for _, key := range []string{"message", "message_text", "text", "content"} {
		if s, ok := triggerData[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// DeriveStatus folds per-action outcomes into the dispatch status
func DeriveStatus(results []models.ActionResult) models.LogStatus {
	var succeeded, failed int
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	switch {
	case failed > 0 && succeeded == 0:
		return models.LogFailed
	case failed > 0:
		return models.LogPartial
	default:
		return models.LogSuccess
	}
}

func (e *Engine) newLog(a *models.Automation, triggerType models.TriggerType, ec ExecutionContext) *models.AutomationLog {
	entry := &models.AutomationLog{
		WorkspaceID:     a.WorkspaceID,
		AutomationID:    a.ID,
		TriggerType:     triggerType,
		TriggerData:     models.JSONMap(ec.TriggerData),
		ActionsExecuted: models.ActionResults{},
		Status:          models.LogSuccess,
	}
	if ec.ContactID != "" {
		entry.ContactID = &ec.ContactID
	}
	if ec.ConversationID != "" {
		entry.ConversationID = &ec.ConversationID
	}
	return entry
}

// guard turns a panic inside fn into an error
func (e *Engine) guard(a *models.Automation, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while running automation %s: %v", a.ID, r)
		}
	}()
	return fn()
}

func (e *Engine) fail(ctx context.Context, a *models.Automation, entry *models.AutomationLog, err error) {
	entry.Status = models.LogFailed
	entry.ErrorMessage = err.Error()

	e.log.WithFields(logrus.Fields{
		"automation_id": a.ID,
		"workspace_id":  a.WorkspaceID,
	}).WithError(err).Error("Automation dispatch failed")
	logging.CaptureError(err, map[string]string{
		"automation_id": a.ID,
		"workspace_id":  a.WorkspaceID,
	})

	e.persist(ctx, a, entry)
}

func (e *Engine) persist(ctx context.Context, a *models.Automation, entry *models.AutomationLog) {
	if err := e.store.CreateLog(ctx, entry); err != nil {
		e.log.WithError(err).WithField("automation_id", a.ID).Error("Failed to write automation log")
		return
	}
	for _, n := range e.notifiers {
		n.NotifyDispatch(entry)
	}
}
