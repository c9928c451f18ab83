package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// numericCron limits expressions to the forms the scanner can evaluate (no names, no descriptors)
var numericCron = regexp.MustCompile(`^\s*[0-9*,/\-]+(\s+[0-9*,/\-]+){4}\s*$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterStructValidation(automationStructLevel, Automation{})
		validate.RegisterStructValidation(actionStructLevel, Action{})
	})
	return validate
}

// Validate checks an automation definition before it is saved
func (a *Automation) Validate() error {
	err := validatorInstance().Struct(a)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		msgs = append(msgs, fmt.Sprintf("%s: failed '%s' validation", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func automationStructLevel(sl validator.StructLevel) {
	a := sl.Current().Interface().(Automation)

	if !a.TriggerType.IsValid() {
		sl.ReportError(a.TriggerType, "TriggerType", "trigger_type", "trigger_type", "")
		return
	}

	switch a.TriggerType {
	case TriggerTimeBased:
		expr := a.TriggerConfig.String("cron")
		if expr == "" {
			sl.ReportError(a.TriggerConfig, "TriggerConfig", "trigger_config", "cron_required", "")
			return
		}
		if _, err := cron.ParseStandard(expr); err != nil || !numericCron.MatchString(expr) {
			sl.ReportError(a.TriggerConfig, "TriggerConfig", "trigger_config", "cron", expr)
		}
	case TriggerKeywordMatch:
		if len(a.TriggerConfig.Strings("keywords")) == 0 {
			sl.ReportError(a.TriggerConfig, "TriggerConfig", "trigger_config", "keywords_required", "")
		}
	}
}

func actionStructLevel(sl validator.StructLevel) {
	act := sl.Current().Interface().(Action)

	switch act.Type {
	case ActionSendMessage:
		if act.Message == "" {
			sl.ReportError(act.Message, "Message", "message", "required", "")
		}
	case ActionSendTemplate:
		if act.TemplateID == "" {
			sl.ReportError(act.TemplateID, "TemplateID", "template_id", "required", "")
		}
	case ActionAssignAgent:
		if act.AgentID == "" {
			sl.ReportError(act.AgentID, "AgentID", "agent_id", "required", "")
		}
	case ActionAddTag, ActionRemoveTag:
		if len(act.Tags) == 0 {
			sl.ReportError(act.Tags, "Tags", "tags", "required", "")
		}
	case ActionUpdateStatus:
		if act.Status == "" {
			sl.ReportError(act.Status, "Status", "status", "required", "")
		}
	case ActionUpdateLifecycle:
		if act.LifecycleStage == "" {
			sl.ReportError(act.LifecycleStage, "LifecycleStage", "lifecycle_stage", "required", "")
		}
	case ActionSnoozeConversation, ActionWait:
		if act.Hours <= 0 {
			sl.ReportError(act.Hours, "Hours", "hours", "gt", "0")
		}
	case ActionSendWebhook:
		if err := sl.Validator().Var(act.URL, "required,url"); err != nil {
			sl.ReportError(act.URL, "URL", "url", "url", "")
		}
	case ActionUpdateCustomField:
		if act.Field == "" {
			sl.ReportError(act.Field, "Field", "field", "required", "")
		}
	case ActionResolveConversation:
	default:
		sl.ReportError(act.Type, "Type", "type", "action_type", string(act.Type))
	}
}
