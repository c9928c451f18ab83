package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Operator compares a resolved field against a condition value
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreaterThan Operator = "gt"
	OpLessThan    Operator = "lt"
)

// Condition is one AND-combined predicate of an automation
type Condition struct {
	Field    string   `json:"field" validate:"required"`
	Operator Operator `json:"operator" validate:"required,oneof=equals not_equals contains not_contains gt lt"`
	Value    any      `json:"value"`
}

// ActionType selects the side effect performed by an action
type ActionType string

const (
	ActionSendMessage         ActionType = "send_message"
	ActionSendTemplate        ActionType = "send_template"
	ActionAssignAgent         ActionType = "assign_agent"
	ActionAddTag              ActionType = "add_tag"
	ActionRemoveTag           ActionType = "remove_tag"
	ActionUpdateStatus        ActionType = "update_status"
	ActionUpdateLifecycle     ActionType = "update_lifecycle"
	ActionResolveConversation ActionType = "resolve_conversation"
	ActionSnoozeConversation  ActionType = "snooze_conversation"
	ActionSendWebhook         ActionType = "send_webhook"
	ActionUpdateCustomField   ActionType = "update_custom_field"
	ActionWait                ActionType = "wait"
)

// Agent selection sentinels for assign_agent
const (
	AgentRoundRobin = "round_robin"
	AgentLeastBusy  = "least_busy"
)

// Action is a tagged variant keyed by Type; only the fields of that type are read
type Action struct {
	Type           ActionType     `json:"type" validate:"required"`
	Message        string         `json:"message,omitempty"`
	TemplateID     string         `json:"template_id,omitempty"`
	Variables      []string       `json:"variables,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Status         string         `json:"status,omitempty"`
	LifecycleStage string         `json:"lifecycle_stage,omitempty"`
	Hours          float64        `json:"hours,omitempty"`
	URL            string         `json:"url,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Field          string         `json:"field,omitempty"`
	Value          any            `json:"value,omitempty"`
}

// ActionResult is the recorded outcome of one executed action
type ActionResult struct {
	Type    ActionType `json:"type"`
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
}

// JSONMap is a free-form object stored as jsonb on postgres and text elsewhere
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return marshalColumn(m)
}

func (m *JSONMap) Scan(value any) error {
	return scanColumn(value, m)
}

func (JSONMap) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonColumnType(db)
}

// String returns the value at key when it is a string
func (m JSONMap) String(key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Float returns the numeric value at key, or def when absent or not numeric
func (m JSONMap) Float(key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// Strings returns the list at key, dropping non-string entries
func (m JSONMap) Strings(key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// StringArray is a list of strings stored as a JSON array
type StringArray []string

func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	return marshalColumn(a)
}

func (a *StringArray) Scan(value any) error {
	return scanColumn(value, a)
}

func (StringArray) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonColumnType(db)
}

// Contains reports whether s is in the list
func (a StringArray) Contains(s string) bool {
	for _, v := range a {
		if v == s {
			return true
		}
	}
	return false
}

type ConditionList []Condition

func (l ConditionList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return marshalColumn(l)
}

func (l *ConditionList) Scan(value any) error {
	return scanColumn(value, l)
}

func (ConditionList) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonColumnType(db)
}

type ActionList []Action

func (l ActionList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return marshalColumn(l)
}

func (l *ActionList) Scan(value any) error {
	return scanColumn(value, l)
}

func (ActionList) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonColumnType(db)
}

type ActionResults []ActionResult

func (r ActionResults) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	return marshalColumn(r)
}

func (r *ActionResults) Scan(value any) error {
	return scanColumn(value, r)
}

func (ActionResults) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonColumnType(db)
}

func marshalColumn(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanColumn(value any, dest any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

func jsonColumnType(db *gorm.DB) string {
	if db.Dialector.Name() == "postgres" {
		return "jsonb"
	}
	return "text"
}
