package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/store"
)

// ContactReader is the single lookup the condition evaluator needs
type ContactReader interface {
	GetContact(ctx context.Context, id string) (*models.Contact, error)
}

// EvaluateConditions reports whether every condition holds for the context.
// The contact is fetched at most once; a missing contact resolves contact fields to nil.
// The only error returned is a failed contact lookup.
func EvaluateConditions(ctx context.Context, contacts ContactReader, conditions []models.Condition, ec ExecutionContext) (bool, error) {
	if len(conditions) == 0 {
		return true, nil
	}

	var contact map[string]any
	if ec.ContactID != "" {
		c, err := contacts.GetContact(ctx, ec.ContactID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return false, fmt.Errorf("load contact %s: %w", ec.ContactID, err)
		default:
			contact = contactFields(c)
		}
	}

	for _, cond := range conditions {
		if !EvaluateCondition(cond, contact, ec.TriggerData) {
			return false, nil
		}
	}
	return true, nil
}

// EvaluateCondition applies one condition to already-resolved contact fields and trigger data
func EvaluateCondition(cond models.Condition, contact map[string]any, triggerData map[string]any) bool {
	actual := ResolveField(cond.Field, contact, triggerData)

	switch cond.Operator {
	case models.OpEquals:
		return strictEqual(actual, cond.Value)
	case models.OpNotEquals:
		return !strictEqual(actual, cond.Value)
	case models.OpContains:
		return contains(actual, cond.Value)
	case models.OpNotContains:
		return !contains(actual, cond.Value)
	case models.OpGreaterThan:
		a, b := toNumber(actual), toNumber(cond.Value)
		return a > b
	case models.OpLessThan:
		a, b := toNumber(actual), toNumber(cond.Value)
		return a < b
	default:
		return false
	}
}

// ResolveField looks up trigger.<x>, custom_fields.<x> or a contact column
func ResolveField(field string, contact map[string]any, triggerData map[string]any) any {
	if key, ok := strings.CutPrefix(field, "trigger."); ok {
		return triggerData[key]
	}
	if key, ok := strings.CutPrefix(field, "custom_fields."); ok {
		custom, _ := contact["custom_fields"].(map[string]any)
		return custom[key]
	}
	return contact[field]
}

// contactFields flattens a contact into its JSON representation so columns are addressed by their json names
func contactFields(c *models.Contact) map[string]any {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}

func strictEqual(a, b any) bool {
	a, b = normalizeNumber(a), normalizeNumber(b)
	switch a.(type) {
	case nil, string, float64, bool:
	default:
		// slices and maps only equal themselves by identity
		return false
	}
	return a == b
}

func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}

func contains(actual, want any) bool {
	switch list := actual.(type) {
	case []any:
		for _, item := range list {
			if strictEqual(item, want) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range list {
			if strictEqual(item, want) {
				return true
			}
		}
		return false
	}
	return strings.Contains(stringify(actual), stringify(want))
}

func stringify(v any) string {
	switch s := normalizeNumber(v).(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		raw, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return string(raw)
	}
}

// toNumber parses v as a float; anything non-numeric becomes NaN so comparisons with it are false
func toNumber(v any) float64 {
	switch n := normalizeNumber(v).(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}
