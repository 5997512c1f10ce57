// Package conditions evaluates condition/rule/predicate trees against field values.
//
// Evaluation is pure: it never touches storage and never returns an error, so the
// same call can run speculatively during validation and authoritatively inside a
// workflow lock with identical results.
package conditions

import (
	"github.com/dukex/procflow/pkg/models"
)

// Values maps a field api name to its current value. A missing key behaves as empty.
type Values map[string]*models.FieldValue

// Outcome is the decision taken for a task about to activate.
type Outcome struct {
	Skip       bool
	EndProcess bool
	// Fired lists the api names of conditions that fired.
	Fired []string
}

// Evaluate applies the task conditions. A skip_task condition that fires skips
// the task. When start_task conditions exist, the task is skipped unless one of
// them fires. An end_process condition that fires finishes the workflow.
func Evaluate(conditions []models.Condition, values Values) Outcome {
	outcome := Outcome{}
	hasStart := false
	started := false

	for _, condition := range conditions {
		fired := Fires(condition, values)
		if fired {
			outcome.Fired = append(outcome.Fired, condition.APIName)
		}

		switch condition.Action {
		case models.ConditionActionSkipTask:
			if fired {
				outcome.Skip = true
			}
		case models.ConditionActionStartTask:
			hasStart = true

			if fired {
				started = true
			}
		case models.ConditionActionEndProcess:
			if fired {
				outcome.EndProcess = true
			}
		}
	}

	if hasStart && !started {
		outcome.Skip = true
	}

	return outcome
}

// Fires reports whether at least one rule of the condition is satisfied.
func Fires(condition models.Condition, values Values) bool {
	for _, rule := range condition.Rules {
		if Satisfied(rule, values) {
			return true
		}
	}

	return false
}

// Satisfied reports whether every predicate of the rule holds. An empty rule never holds.
func Satisfied(rule models.Rule, values Values) bool {
	if len(rule.Predicates) == 0 {
		return false
	}

	for _, predicate := range rule.Predicates {
		if !Holds(predicate, values) {
			return false
		}
	}

	return true
}

// Holds evaluates a single predicate.
func Holds(predicate models.Predicate, values Values) bool {
	var (
		left      any
		fieldType models.FieldType
	)

	if field, ok := values[predicate.Field]; ok && field != nil {
		left = field.Value
		fieldType = field.Type
	}

	right := predicate.Value

	if predicate.ValueField != "" {
		right = nil

		if field, ok := values[predicate.ValueField]; ok && field != nil {
			right = field.Value
		}
	}

	switch predicate.Operator {
	case models.OperatorIsEmpty:
		return isEmpty(left)
	case models.OperatorIsNotEmpty:
		return !isEmpty(left)
	case models.OperatorEquals:
		return equals(fieldType, left, right)
	case models.OperatorNotEquals:
		return !equals(fieldType, left, right)
	case models.OperatorContains:
		return contains(fieldType, left, right)
	case models.OperatorNotContains:
		return !contains(fieldType, left, right)
	case models.OperatorGreaterThan:
		order, ok := compare(fieldType, left, right)

		return ok && order > 0
	case models.OperatorLessThan:
		order, ok := compare(fieldType, left, right)

		return ok && order < 0
	default:
		return false
	}
}
